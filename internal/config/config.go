package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/rwe-platform/statistician/internal/domain"
)

// Manager implements domain.ConfigManager using Viper.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from defaults, config.yaml, and env vars.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/statistician/")

	viper.SetEnvPrefix("RWE_STAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &domain.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Pipeline.LLM.APIKey = viper.GetString("llm.api_key")

	m.config = cfg
	return nil
}

// setDefaults sets default configuration values (§6).
func (m *Manager) setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "statistician")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "24h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")
	viper.SetDefault("cache.l1_size", 256)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	viper.SetDefault("pipeline.missingness_threshold", 0.20)
	viper.SetDefault("pipeline.caliper", 0.01)
	viper.SetDefault("pipeline.follow_up_days", 28)
	viper.SetDefault("pipeline.smd_balanced_threshold", 0.10)
	viper.SetDefault("pipeline.causal_forest.n_estimators", 100)
	viper.SetDefault("pipeline.causal_forest.min_samples_leaf", 10)
	viper.SetDefault("pipeline.causal_forest.random_state", 42)
	viper.SetDefault("pipeline.propensity_model.max_iter", 1000)
	viper.SetDefault("pipeline.propensity_model.random_state", 42)
	viper.SetDefault("pipeline.llm.endpoint", "")
	viper.SetDefault("pipeline.llm.model", "claude-3-5-haiku-latest")
	viper.SetDefault("pipeline.llm.timeout_seconds", "30s")
	viper.SetDefault("pipeline.llm.disabled", false)
}

// GetConfig implements domain.ConfigManager.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetRunConfig implements domain.ConfigManager.
func (m *Manager) GetRunConfig() domain.RunConfig {
	return m.config.Pipeline
}

// Reload reloads the configuration from its sources.
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate implements domain.ConfigManager.
func (m *Manager) Validate() error {
	cfg := m.config

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Cache.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	if cfg.Pipeline.MissingnessThreshold < 0 || cfg.Pipeline.MissingnessThreshold > 1 {
		return fmt.Errorf("missingness_threshold must be in [0,1]: %v", cfg.Pipeline.MissingnessThreshold)
	}
	if cfg.Pipeline.FollowUpDays <= 0 {
		return fmt.Errorf("follow_up_days must be positive: %v", cfg.Pipeline.FollowUpDays)
	}

	return nil
}

// GetDatabaseConnectionString returns a pgx-compatible connection string.
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string.
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}
