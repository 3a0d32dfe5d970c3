package domain

import "time"

// Config is the process-wide configuration record, unmarshaled by
// internal/config.Manager from defaults, config.yaml, and environment
// variables (viper, "RWE_STAT" prefix). No component reads package-level
// state for tunables; every value here is threaded in by constructor
// injection.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pipeline RunConfig      `mapstructure:"pipeline"`
}

// ServerConfig configures the thin job-submission/status HTTP surface.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig configures the Postgres pool backing the job store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig configures the Redis-backed criterion cache.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	L1Size      int           `mapstructure:"l1_size"`
}

// LoggingConfig configures the process-wide logrus logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// PropensityModelConfig tunes the logistic-regression propensity model
// shared by M1, M2, M4 (§6).
type PropensityModelConfig struct {
	MaxIter      int   `mapstructure:"max_iter"`
	RandomState  int64 `mapstructure:"random_state"`
}

// CausalForestConfig tunes C7's causal forest (§6).
type CausalForestConfig struct {
	NEstimators     int   `mapstructure:"n_estimators"`
	MinSamplesLeaf  int   `mapstructure:"min_samples_leaf"`
	RandomState     int64 `mapstructure:"random_state"`
}

// LLMConfig describes the external language-model boundary used by the
// method selector (C5) and the summariser (§6).
type LLMConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Model          string        `mapstructure:"model"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds"`
	APIKey         string        `mapstructure:"-"`
	Disabled       bool          `mapstructure:"disabled"`
}

// RunConfig is every tunable named in §6, passed explicitly into the
// orchestrator on each run rather than read from global state.
type RunConfig struct {
	MissingnessThreshold float64               `mapstructure:"missingness_threshold"`
	Caliper              float64               `mapstructure:"caliper"`
	FollowUpDays         float64               `mapstructure:"follow_up_days"`
	SMDBalancedThreshold float64               `mapstructure:"smd_balanced_threshold"`
	CausalForest         CausalForestConfig    `mapstructure:"causal_forest"`
	PropensityModel      PropensityModelConfig `mapstructure:"propensity_model"`
	LLM                  LLMConfig             `mapstructure:"llm"`
}

// DefaultRunConfig returns the §6 defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MissingnessThreshold: 0.20,
		Caliper:              0.01,
		FollowUpDays:         28,
		SMDBalancedThreshold: 0.10,
		CausalForest: CausalForestConfig{
			NEstimators:    100,
			MinSamplesLeaf: 10,
			RandomState:    42,
		},
		PropensityModel: PropensityModelConfig{
			MaxIter:     1000,
			RandomState: 42,
		},
		LLM: LLMConfig{
			TimeoutSeconds: 30 * time.Second,
		},
	}
}
