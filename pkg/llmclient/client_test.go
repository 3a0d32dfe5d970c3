package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rwe-platform/statistician/internal/domain"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"prose wrapped", "Here is the answer:\n{\"a\":1}\nHope that helps.", `{"a":1}`},
		{"no braces", "no json here", "no json here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, extractJSON(tc.in))
		})
	}
}

func TestBuildSelectionPrompt(t *testing.T) {
	comparisons := []domain.MethodComparison{
		{Method: domain.MethodPSM, MeanAbsSMD: 0.05, PctBalanced: 0.9, NMatched: 100, NumericRank: 1},
	}
	prompt := buildSelectionPrompt(comparisons)
	assert.Contains(t, prompt, "psm|psm_caliper|mahalanobis|iptw")
	assert.Contains(t, prompt, "method=psm")
	assert.Contains(t, prompt, "numeric_rank=1")
}

func TestBuildSummaryPrompt(t *testing.T) {
	cohort := &domain.Cohort{Records: make([]domain.CohortRecord, 10)}
	selection := &domain.SelectionRecord{SelectedMethod: domain.MethodIPTW}
	survival := &domain.SurvivalResult{HazardRatio: 0.7, CI95Lower: 0.5, CI95Upper: 0.95, PValue: 0.01}

	prompt := buildSummaryPrompt(cohort, selection, survival)
	assert.Contains(t, prompt, "cohort_size=10")
	assert.Contains(t, prompt, "selected_method=iptw")
	assert.Contains(t, prompt, "hazard_ratio=0.700")
}

func TestBuildSummaryPrompt_NilSurvival(t *testing.T) {
	cohort := &domain.Cohort{Records: make([]domain.CohortRecord, 5)}
	selection := &domain.SelectionRecord{SelectedMethod: domain.MethodPSM}

	prompt := buildSummaryPrompt(cohort, selection, nil)
	assert.Contains(t, prompt, "cohort_size=5")
	assert.NotContains(t, prompt, "hazard_ratio")
}
