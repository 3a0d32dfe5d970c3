package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
	"github.com/rwe-platform/statistician/internal/metrics"
)

// OrchestratorService implements the Workflow Orchestrator (C9): it
// sequences LOAD -> MATCH_ALL -> BALANCE_ALL -> SELECT -> BALANCE_FINAL ->
// RENDER_BALANCE -> SURVIVAL -> RENDER_SURVIVAL -> HETERO -> SUMMARY ->
// DONE (§4.9). It never raises: every failure becomes a typed
// PipelineError recorded against the stage, fatal stages halt the run.
type OrchestratorService struct {
	logger     *logrus.Logger
	registry   domain.CovariateRegistry
	loader     domain.CohortLoader
	balance    domain.BalanceDiagnostics
	methods    []domain.MatchingMethod
	selector   domain.MethodSelector
	survival   domain.SurvivalModel
	hetero     domain.HeterogeneousEffectEstimator
	renderer   domain.ArtifactRenderer
	summarizer domain.Summarizer
}

// NewOrchestratorService constructs an OrchestratorService from its
// collaborators. summarizer may be nil to force the template fallback.
func NewOrchestratorService(
	logger *logrus.Logger,
	registry domain.CovariateRegistry,
	loader domain.CohortLoader,
	balance domain.BalanceDiagnostics,
	methods []domain.MatchingMethod,
	selector domain.MethodSelector,
	survival domain.SurvivalModel,
	hetero domain.HeterogeneousEffectEstimator,
	renderer domain.ArtifactRenderer,
	summarizer domain.Summarizer,
) *OrchestratorService {
	return &OrchestratorService{
		logger:     logger,
		registry:   registry,
		loader:     loader,
		balance:    balance,
		methods:    methods,
		selector:   selector,
		survival:   survival,
		hetero:     hetero,
		renderer:   renderer,
		summarizer: summarizer,
	}
}

// Run implements domain.Orchestrator.
func (o *OrchestratorService) Run(ctx context.Context, params domain.RunParams, cfg domain.RunConfig, progress domain.ProgressCallback) (*domain.AgentResult, error) {
	result := &domain.AgentResult{
		Status:     domain.StatusProcessing,
		AgentName:  "statistician",
		OutputDir:  params.WorkspaceRoot,
		ResultData: map[string]interface{}{},
		Metadata:   domain.AgentResultMetadata{StageErrors: map[domain.Stage]string{}},
		CreatedAt:  time.Now().UTC(),
	}

	emit := func(stage domain.Stage, message string) {
		o.emitProgress(progress, stage, message)
	}

	// LOAD
	cohort, err := o.loader.Load(ctx, params.CohortFilePath, cfg.FollowUpDays, cfg.MissingnessThreshold)
	if err != nil {
		return o.fail(result, domain.StageLoad, err)
	}
	emit(domain.StageLoad, fmt.Sprintf("loaded cohort: %d rows, %d covariates", len(cohort.Records), len(cohort.Covariates)))

	// MATCH_ALL
	samples := make(map[domain.MethodName]*domain.MatchedSample, len(o.methods))
	for _, m := range o.methods {
		sample, err := m.Match(ctx, cohort, cohort.Covariates, cfg.PropensityModel.RandomState)
		if err != nil {
			result.Metadata.StageErrors[domain.StageMatchAll] = err.Error()
			o.logger.WithError(err).WithField("method", m.Name()).Warn("matching method failed")
			continue
		}
		samples[m.Name()] = sample
		metrics.MatchedSampleSize.WithLabelValues(string(m.Name())).Observe(float64(len(sample.Rows)))
	}
	if len(samples) == 0 {
		return o.fail(result, domain.StageMatchAll, domain.NewPipelineError(domain.ErrDegenerateMatch, domain.StageMatchAll, "every matching method failed", nil))
	}
	emit(domain.StageMatchAll, fmt.Sprintf("matched with %d methods", len(samples)))

	// BALANCE_ALL
	reports := make(map[domain.MethodName]*domain.BalanceReport, len(samples))
	var comparisons []domain.MethodComparison
	for name, sample := range samples {
		report := o.balance.BalanceReportFor(cohort, sample, cohort.Covariates)
		reports[name] = report
		comparisons = append(comparisons, domain.MethodComparison{
			Method:      name,
			Sample:      sample,
			Balance:     report,
			MeanAbsSMD:  report.MeanAbsSMD,
			PctBalanced: report.PctBalanced,
			NMatched:    len(sample.Rows),
		})
	}
	emit(domain.StageBalanceAll, "computed balance reports for all methods")

	// SELECT
	selection, err := o.selector.Select(ctx, comparisons)
	if err != nil {
		return o.fail(result, domain.StageSelect, err)
	}
	emit(domain.StageSelect, fmt.Sprintf("selected method %s", selection.SelectedMethod))

	selectedSample, ok := samples[selection.SelectedMethod]
	if !ok {
		return o.fail(result, domain.StageSelect, domain.NewPipelineError(domain.ErrDegenerateMatch, domain.StageSelect, "selected method has no sample", nil).WithFatal(true))
	}

	// BALANCE_FINAL
	finalReport := reports[selection.SelectedMethod]
	emit(domain.StageBalanceFinal, "finalized balance diagnostics for selected method")

	// RENDER_BALANCE
	if err := o.renderer.RenderBalance(params.WorkspaceRoot, reports, selection.SelectedMethod); err != nil {
		o.recordNonFatal(result, domain.StageRenderBalance, err)
	}
	if err := o.renderer.RenderSelection(params.WorkspaceRoot, selection); err != nil {
		o.recordNonFatal(result, domain.StageRenderBalance, err)
	}
	for name, sample := range samples {
		if name == selection.SelectedMethod {
			// The selected method's matched-data export gains a cate_value
			// column once HETERO runs; rendered there instead of here.
			continue
		}
		if err := o.renderer.RenderMatchedData(params.WorkspaceRoot, sample, name, nil); err != nil {
			o.recordNonFatal(result, domain.StageRenderBalance, err)
		}
	}
	emit(domain.StageRenderBalance, "rendered balance artifacts")

	// SURVIVAL
	var survivalResult *domain.SurvivalResult
	survivalResult, err = o.survival.Fit(ctx, selectedSample, cfg.FollowUpDays)
	if err != nil {
		o.recordNonFatal(result, domain.StageSurvival, err)
		survivalResult = nil
	}
	emit(domain.StageSurvival, "fit survival model")

	// RENDER_SURVIVAL
	if survivalResult != nil {
		if err := o.renderer.RenderSurvival(params.WorkspaceRoot, survivalResult); err != nil {
			o.recordNonFatal(result, domain.StageRenderSurvival, err)
		}
	}
	emit(domain.StageRenderSurvival, "rendered survival artifacts")

	// HETERO
	heteroResult, err := o.hetero.Fit(ctx, selectedSample, cohort.Covariates, cfg.CausalForest)
	if err != nil {
		o.recordNonFatal(result, domain.StageHetero, err)
		heteroResult = nil
	}
	emit(domain.StageHetero, "fit heterogeneous effect estimator")

	var cate []*float64
	if heteroResult != nil {
		cate = heteroResult.CATEPerUnit
	}
	if err := o.renderer.RenderMatchedData(params.WorkspaceRoot, selectedSample, selection.SelectedMethod, cate); err != nil {
		o.recordNonFatal(result, domain.StageHetero, err)
	}

	// SUMMARY
	var summary map[string]interface{}
	if o.summarizer != nil {
		summary, err = o.summarizer.Summarize(ctx, cohort, selection, survivalResult)
		if err != nil {
			o.recordNonFatal(result, domain.StageSummary, err)
			summary = templateSummary(cohort, selection, survivalResult)
		}
	} else {
		summary = templateSummary(cohort, selection, survivalResult)
	}
	if err := o.renderer.RenderSummary(params.WorkspaceRoot, summary); err != nil {
		o.recordNonFatal(result, domain.StageSummary, err)
	}
	emit(domain.StageSummary, "generated result summary")

	result.ResultData["selected_method"] = selection.SelectedMethod
	result.ResultData["balance_report"] = finalReport
	result.ResultData["survival_result"] = survivalResult
	result.ResultData["heterogeneous_effect"] = heteroResult
	result.ResultData["summary"] = summary
	result.Status = domain.StatusCompleted
	result.UpdatedAt = time.Now().UTC()
	emit(domain.StageDone, "run completed")
	metrics.PipelineRunsTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()

	return result, nil
}

// fail marks a fatal-stage failure: status=failed, preserving whatever
// partial output accumulated (§7 policy).
func (o *OrchestratorService) fail(result *domain.AgentResult, stage domain.Stage, err error) (*domain.AgentResult, error) {
	result.Status = domain.StatusFailed
	result.Error = err.Error()
	result.Metadata.StageErrors[stage] = err.Error()
	result.UpdatedAt = time.Now().UTC()
	o.logger.WithError(err).WithField("stage", stage).Error("pipeline run failed")
	metrics.StageFailuresTotal.WithLabelValues(string(stage), errorCode(err)).Inc()
	metrics.PipelineRunsTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	return result, nil
}

// recordNonFatal logs and records a non-fatal stage error without halting
// the run (§7).
func (o *OrchestratorService) recordNonFatal(result *domain.AgentResult, stage domain.Stage, err error) {
	result.Metadata.StageErrors[stage] = err.Error()
	o.logger.WithError(err).WithField("stage", stage).Warn("non-fatal stage error, continuing")
	metrics.StageFailuresTotal.WithLabelValues(string(stage), errorCode(err)).Inc()
}

// errorCode extracts the PipelineError code label, falling back to
// "unknown" for an error that never passed through the stage taxonomy.
func errorCode(err error) string {
	var pipelineErr *domain.PipelineError
	if errors.As(err, &pipelineErr) {
		return string(pipelineErr.Code)
	}
	return "unknown"
}

// emitProgress invokes the progress callback; a failure to enqueue must
// never fail the run (§9).
func (o *OrchestratorService) emitProgress(progress domain.ProgressCallback, stage domain.Stage, message string) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("panic", r).Warn("progress callback panicked, ignoring")
		}
	}()
	progress(domain.ProgressEvent{Stage: stage, Message: message, Timestamp: time.Now().UTC()})
}

// templateSummary is the deterministic fallback for the summariser
// boundary (§6 boundary #2, §9 "LLM as advisor, not authority").
func templateSummary(cohort *domain.Cohort, selection *domain.SelectionRecord, survival *domain.SurvivalResult) map[string]interface{} {
	summary := map[string]interface{}{
		"question":   "Does the evaluated intervention change 28-day mortality risk in this matched ICU cohort?",
		"population": map[string]interface{}{"n": len(cohort.Records)},
		"intervention": map[string]interface{}{
			"selected_method": selection.SelectedMethod,
			"reasoning":       selection.ReasoningText,
		},
	}
	if survival == nil {
		summary["conclusion"] = "Survival model could not be fit; no treatment-effect conclusion is available."
		summary["findings"] = map[string]interface{}{}
		return summary
	}
	summary["conclusion"] = fmt.Sprintf("Hazard ratio %.2f (95%% CI %.2f-%.2f, p=%.4f).",
		survival.HazardRatio, survival.CI95Lower, survival.CI95Upper, survival.PValue)
	summary["findings"] = map[string]interface{}{
		"hazard_ratio":      survival.HazardRatio,
		"ci95_lower":        survival.CI95Lower,
		"ci95_upper":        survival.CI95Upper,
		"p_value":           survival.PValue,
		"concordance_index": survival.ConcordanceIndex,
	}
	return summary
}
