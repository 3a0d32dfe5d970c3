package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwe-platform/statistician/internal/domain"
)

func sampleBalanceReport() *domain.BalanceReport {
	return &domain.BalanceReport{
		MeanAbsSMD:  0.04,
		PctBalanced: 1.0,
		Covariates: []domain.CovariateBalance{
			{Covariate: "age", SMDBefore: 0.30, SMDAfter: 0.03, Balanced: true},
			{Covariate: "sofa_score", SMDBefore: 0.15, SMDAfter: 0.05, Balanced: true},
		},
	}
}

func TestArtifactRendererService_RenderBalance(t *testing.T) {
	renderer := NewArtifactRendererService(newTestLogger())
	outputDir := t.TempDir()
	report := sampleBalanceReport()

	err := renderer.RenderBalance(outputDir, map[domain.MethodName]*domain.BalanceReport{domain.MethodPSM: report}, domain.MethodPSM)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(outputDir, "baseline_table_main_JAMA.md"))
	assert.FileExists(t, filepath.Join(outputDir, "balance_assessment_main.csv"))
	assert.FileExists(t, filepath.Join(outputDir, "main_analysis_smd_plot.png"))
	assert.FileExists(t, filepath.Join(outputDir, "main_analysis_smd_plot.png.caption.txt"))

	caption, err := os.ReadFile(filepath.Join(outputDir, "main_analysis_smd_plot.png.caption.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(caption), "variables improved")
}

func TestArtifactRendererService_RenderBalance_MissingSelectedMethod(t *testing.T) {
	renderer := NewArtifactRendererService(newTestLogger())
	outputDir := t.TempDir()

	err := renderer.RenderBalance(outputDir, map[domain.MethodName]*domain.BalanceReport{}, domain.MethodPSM)
	require.Error(t, err)

	var pipelineErr *domain.PipelineError
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, domain.ErrRenderFailure, pipelineErr.Code)
}

func TestArtifactRendererService_RenderSurvival(t *testing.T) {
	renderer := NewArtifactRendererService(newTestLogger())
	outputDir := t.TempDir()

	result := &domain.SurvivalResult{
		NTreatment: 50, NControl: 50,
		MortalityRateTreatment: 0.1, MortalityRateControl: 0.2,
		HazardRatio: 0.6, CI95Lower: 0.4, CI95Upper: 0.9, PValue: 0.02,
		CumulativeMortality: []domain.MortalityPoint{
			{Day: 0, TreatmentCumInc: 0, ControlCumInc: 0},
			{Day: 28, TreatmentCumInc: 0.1, ControlCumInc: 0.2},
		},
	}

	err := renderer.RenderSurvival(outputDir, result)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(outputDir, "main_survival_summary.csv"))
	assert.FileExists(t, filepath.Join(outputDir, "main_analysis_cumulative_mortality.png"))
	assert.FileExists(t, filepath.Join(outputDir, "main_analysis_cumulative_mortality.png.caption.txt"))
}

func TestArtifactRendererService_RenderSurvival_NilResultIsNoop(t *testing.T) {
	renderer := NewArtifactRendererService(newTestLogger())
	outputDir := t.TempDir()

	assert.NoError(t, renderer.RenderSurvival(outputDir, nil))

	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArtifactRendererService_RenderSelection(t *testing.T) {
	renderer := NewArtifactRendererService(newTestLogger())
	outputDir := t.TempDir()

	selection := &domain.SelectionRecord{
		SelectedMethod: domain.MethodIPTW,
		JudgeDiverged:  true,
		ReasoningText:  "IPTW preserves full sample size",
		AllMethodsSummary: []domain.MethodComparison{
			{Method: domain.MethodPSM, NumericRank: 2, MeanAbsSMD: 0.05, PctBalanced: 0.9, NMatched: 80},
			{Method: domain.MethodIPTW, NumericRank: 1, MeanAbsSMD: 0.04, PctBalanced: 0.95, NMatched: 200},
		},
	}

	err := renderer.RenderSelection(outputDir, selection)
	require.NoError(t, err)

	comparison, err := os.ReadFile(filepath.Join(outputDir, "method_comparison_summary.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(comparison), "rank=1 method=iptw")

	reasoning, err := os.ReadFile(filepath.Join(outputDir, "method_selection_reasoning.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(reasoning), "selected_method=iptw")
	assert.Contains(t, string(reasoning), "IPTW preserves full sample size")
}

func TestArtifactRendererService_RenderMatchedData(t *testing.T) {
	renderer := NewArtifactRendererService(newTestLogger())
	outputDir := t.TempDir()

	sample := &domain.MatchedSample{
		Method: domain.MethodPSM,
		Rows: []domain.CohortRecord{
			{SubjectID: "1", StayID: "10", TreatmentGroup: 1, Mortality: 0, OutcomeDays: 28, OutcomeDaysOriginal: 28},
			{SubjectID: "2", StayID: "11", TreatmentGroup: 0, Mortality: 1, OutcomeDays: 12, OutcomeDaysOriginal: 12},
		},
		Weights: []float64{1.0, 1.0},
	}

	err := renderer.RenderMatchedData(outputDir, sample, domain.MethodPSM, nil)
	require.NoError(t, err)
	path := filepath.Join(outputDir, "matched_data_main_psm.csv")
	assert.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "cate_value")
}

func TestArtifactRendererService_RenderMatchedData_WithCATE(t *testing.T) {
	renderer := NewArtifactRendererService(newTestLogger())
	outputDir := t.TempDir()

	sample := &domain.MatchedSample{
		Method: domain.MethodPSM,
		Rows: []domain.CohortRecord{
			{SubjectID: "1", StayID: "10", TreatmentGroup: 1, Mortality: 0, OutcomeDays: 28, OutcomeDaysOriginal: 28},
			{SubjectID: "2", StayID: "11", TreatmentGroup: 0, Mortality: 1, OutcomeDays: 12, OutcomeDaysOriginal: 12},
		},
		Weights: []float64{1.0, 1.0},
	}
	cateA := 0.15
	cate := []*float64{&cateA, nil}

	err := renderer.RenderMatchedData(outputDir, sample, domain.MethodPSM, cate)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outputDir, "matched_data_main_psm.csv"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "cate_value")
	assert.Contains(t, content, "0.150000")
	assert.Contains(t, content, "NaN")
}

func TestArtifactRendererService_RenderSummary(t *testing.T) {
	renderer := NewArtifactRendererService(newTestLogger())
	outputDir := t.TempDir()

	err := renderer.RenderSummary(outputDir, map[string]interface{}{"headline": "vasopressin reduced 28-day mortality"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outputDir, "llm_summary.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "headline")
}
