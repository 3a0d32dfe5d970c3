package domain

import "context"

// ProgressCallback is the write-only side channel from the orchestrator to
// the status store (§5, §9). Implementations must never block the
// algorithm; a failure to enqueue must not fail the run.
type ProgressCallback func(event ProgressEvent)

// CovariateRegistry is C1's contract: type_of and features_of_type, plus
// the imputation policy lookup.
type CovariateRegistry interface {
	TypeOf(name string) (SemanticType, bool)
	FeaturesOfType(t SemanticType) []string
	ImputationFor(name string, fallbackIsFloat bool) ImputationStrategy
}

// CohortLoader is C2's contract.
type CohortLoader interface {
	Load(ctx context.Context, path string, followUpDays float64, missingnessThreshold float64) (*Cohort, error)
}

// BalanceDiagnostics is C3's contract.
type BalanceDiagnostics interface {
	SMD(covariate string, treated, control []float64) float64
	BalanceReportFor(original *Cohort, matched *MatchedSample, covariates []string) *BalanceReport
}

// MatchingMethod is the single contract all four matching/weighting
// methods implement (§9: tagged variants, not an abstract base).
type MatchingMethod interface {
	Name() MethodName
	Match(ctx context.Context, cohort *Cohort, covariates []string, seed int64) (*MatchedSample, error)
}

// MethodSelector is C5's contract.
type MethodSelector interface {
	Select(ctx context.Context, comparisons []MethodComparison) (*SelectionRecord, error)
}

// LLMJudge is the method-selector's external collaborator (§6 boundary #1).
type LLMJudge interface {
	JudgeSelection(ctx context.Context, comparisons []MethodComparison) (method MethodName, reasoning string, err error)
}

// Summarizer is the orchestrator's external collaborator (§6 boundary #2).
type Summarizer interface {
	Summarize(ctx context.Context, cohort *Cohort, selection *SelectionRecord, survival *SurvivalResult) (map[string]interface{}, error)
}

// SurvivalModel is C6's contract.
type SurvivalModel interface {
	Fit(ctx context.Context, sample *MatchedSample, followUpDays float64) (*SurvivalResult, error)
}

// HeterogeneousEffectEstimator is C7's contract.
type HeterogeneousEffectEstimator interface {
	Fit(ctx context.Context, sample *MatchedSample, covariates []string, cfg CausalForestConfig) (*HeterogeneousEffectResult, error)
}

// ArtifactRenderer is C8's contract: writes the fixed-name artifact set
// into an output directory.
type ArtifactRenderer interface {
	RenderBalance(outputDir string, reports map[MethodName]*BalanceReport, selected MethodName) error
	RenderSelection(outputDir string, selection *SelectionRecord) error
	RenderSurvival(outputDir string, result *SurvivalResult) error
	RenderMatchedData(outputDir string, sample *MatchedSample, method MethodName, cate []*float64) error
	RenderSummary(outputDir string, summary map[string]interface{}) error
}

// Orchestrator is C9's contract.
type Orchestrator interface {
	Run(ctx context.Context, params RunParams, cfg RunConfig, progress ProgressCallback) (*AgentResult, error)
}

// AgentWrapper is C10's contract.
type AgentWrapper interface {
	Validate(trialID, medication, workspaceRoot string) error
	Run(ctx context.Context, params RunParams) (*AgentResult, error)
}

// JobStore persists Agent Result records so job status survives a process
// restart. It is the only job-status record: the Agent Wrapper writes to it
// and the status endpoint reads from it; there is no separate in-process
// map.
type JobStore interface {
	Save(ctx context.Context, result *AgentResult) error
	Get(ctx context.Context, id string) (*AgentResult, error)
}

// CriterionCache is the content-addressed criterion-to-schema cache
// described in §5 as external to the analytical core.
type CriterionCache interface {
	Get(ctx context.Context, criterionHash string) (mapping []byte, validated bool, err error)
	Set(ctx context.Context, criterionHash string, mapping []byte, validated bool) error
	Stats() CacheStats
}

// CacheStats reports hit/miss accounting for a CriterionCache.
type CacheStats struct {
	Hits    int64
	Misses  int64
	HitRate float64
}

// ConfigManager loads and validates the process configuration (teacher's
// internal/config.Manager shape, generalized to RunConfig).
type ConfigManager interface {
	GetConfig() *Config
	GetRunConfig() RunConfig
	Validate() error
}
