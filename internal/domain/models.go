package domain

import "time"

// CovariateTypeEntry is one row of the Covariate-Type Registry (C1):
// {semantic_type, unit?, description}. The registry is populated once at
// module load from a static declaration and is read-only thereafter.
type CovariateTypeEntry struct {
	Name         string
	SemanticType SemanticType
	Unit         string
	Description  string
}

// ExcludedFromMatching lists columns that must never enter the propensity
// model or any covariate list, regardless of what the registry otherwise
// says about them. This is the system's most important safety property
// (leakage prevention) per §9 and is enforced by the Cohort Loader.
var ExcludedFromMatching = map[string]bool{
	"subject_id":          true,
	"hadm_id":              true,
	"stay_id":              true,
	"treatment_group":      true,
	"mortality":            true,
	"death_28d":            true,
	"survival_time_28d":    true,
	"outcome_days":         true,
	"outcome_days_original": true,
	"icu_outtime":          true,
	"date_of_death":        true,
	"days_to_death":        true,
	"los":                  true,
}

// CohortRecord is one ICU stay (§3). Baseline covariates are carried in an
// open map keyed by column name since the set of baseline variables is
// cohort-file-defined, not compile-time fixed; the Covariate-Type Registry
// assigns each a SemanticType.
type CohortRecord struct {
	SubjectID           string
	HadmID              string
	StayID              string
	TreatmentGroup      int
	Mortality           int
	OutcomeDays         float64
	OutcomeDaysOriginal float64
	Covariates          map[string]float64
	CovariateMissing    map[string]bool
}

// Cohort is an immutable-within-a-run set of Cohort Records plus the
// covariate list selected for matching (§4.2).
type Cohort struct {
	Records    []CohortRecord
	Covariates []string
}

// MatchedPair links exactly one control unit to one treated unit (1:1
// pair-matching methods M1-M3).
type MatchedPair struct {
	TreatedIndex int
	ControlIndex int
	PropensityT  float64
	PropensityC  float64
}

// MatchedSample is the output of one matching/weighting method (§3). For
// pair-matching methods, Pairs is populated and every row carries Weight 1.
// For IPTW, Pairs is empty and every row carries its inverse-probability
// weight; Rows then spans the full cohort.
type MatchedSample struct {
	Method      MethodName
	Rows        []CohortRecord
	Weights     []float64
	Pairs       []MatchedPair
	Propensities []float64
	Degenerate  bool
}

// NTreated and NControl count arms within a matched sample.
func (m *MatchedSample) NTreated() int {
	n := 0
	for _, r := range m.Rows {
		if r.TreatmentGroup == 1 {
			n++
		}
	}
	return n
}

func (m *MatchedSample) NControl() int {
	n := 0
	for _, r := range m.Rows {
		if r.TreatmentGroup == 0 {
			n++
		}
	}
	return n
}

// EffectiveSampleSize is the Kish effective sample size, used to judge
// IPTW degeneracy (§4.4: ESS < 20 is degenerate).
func (m *MatchedSample) EffectiveSampleSize() float64 {
	if len(m.Weights) == 0 {
		return float64(len(m.Rows))
	}
	var sum, sumSq float64
	for _, w := range m.Weights {
		sum += w
		sumSq += w * w
	}
	if sumSq == 0 {
		return 0
	}
	return (sum * sum) / sumSq
}

// CovariateBalance is one entry of a Balance Report: {smd_before, smd_after,
// balanced}.
type CovariateBalance struct {
	Covariate  string
	SMDBefore  float64
	SMDAfter   float64
	Balanced   bool
}

// BalanceReport is the full before/after balance snapshot for one method
// (§3, §4.3).
type BalanceReport struct {
	Covariates  []CovariateBalance
	MeanAbsSMD  float64
	PctBalanced float64
}

// SurvivalResult is C6's output on the selected matched sample (§3).
type SurvivalResult struct {
	HazardRatio            float64
	CI95Lower              float64
	CI95Upper              float64
	PValue                 float64
	LogRankPValue          float64
	NTreatment             int
	NControl               int
	MortalityRateTreatment float64
	MortalityRateControl   float64
	ConcordanceIndex       float64
	CumulativeMortality    []MortalityPoint
}

// MortalityPoint is one step of a per-arm cumulative-mortality series.
type MortalityPoint struct {
	Day              float64
	TreatmentCumInc  float64
	ControlCumInc    float64
	TreatmentAtRisk  int
	ControlAtRisk    int
}

// CATEStats summarizes the per-unit conditional treatment effects (§3).
type CATEStats struct {
	Mean         float64
	SD           float64
	Min          float64
	Max          float64
	PositiveRate float64
}

// HeterogeneousEffectResult is C7's output (§3). CATEPerUnit is aligned to
// the matched sample's row order; a row dropped for incomplete covariates
// is represented as a nil entry (NaN in rendered artifacts).
type HeterogeneousEffectResult struct {
	ATE                float64
	CATEPerUnit        []*float64
	Stats              CATEStats
	FeatureImportances map[string]float64
}

// MethodComparison is one row of the cross-method comparison table C5
// scores (§3).
type MethodComparison struct {
	Method        MethodName
	Sample        *MatchedSample
	Balance       *BalanceReport
	MeanAbsSMD    float64
	PctBalanced   float64
	NMatched      int
	NumericRank   int
}

// SelectionRecord captures C5's decision (§3): the chosen method, the
// judge's (or fallback's) free text, and the full comparison table for
// audit.
type SelectionRecord struct {
	SelectedMethod    MethodName
	ReasoningText     string
	AllMethodsSummary []MethodComparison
	JudgeDiverged     bool
}

// AgentResult is the pipeline's externally observable contract (§3). It is
// created pending and transitions monotonically.
type AgentResult struct {
	ID         string
	Status     AgentStatus
	AgentName  string
	OutputDir  string
	ResultData map[string]interface{}
	Metadata   AgentResultMetadata
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AgentResultMetadata carries per-stage error records (§7) and progress
// history.
type AgentResultMetadata struct {
	StageErrors map[Stage]string
	Progress    []ProgressEvent
}

// RunParams is the Agent Wrapper's inbound contract (§6): {trial_id,
// medication, workspace_root?, progress_callback?, llm_api_key?}.
type RunParams struct {
	TrialID         string `validate:"required,trial_id"`
	Medication      string `validate:"required,min=1"`
	WorkspaceRoot   string
	CohortFilePath  string `validate:"required"`
	LLMAPIKey       string
	ProgressCallback ProgressCallback `validate:"-"`
}
