package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwe-platform/statistician/internal/domain"
)

type stubJudge struct {
	method    domain.MethodName
	reasoning string
	err       error
}

func (s *stubJudge) JudgeSelection(ctx context.Context, comparisons []domain.MethodComparison) (domain.MethodName, string, error) {
	return s.method, s.reasoning, s.err
}

func sampleComparisons() []domain.MethodComparison {
	return []domain.MethodComparison{
		{Method: domain.MethodPSM, MeanAbsSMD: 0.05, PctBalanced: 0.9, NMatched: 100},
		{Method: domain.MethodIPTW, MeanAbsSMD: 0.12, PctBalanced: 0.7, NMatched: 200},
		{Method: domain.MethodMahalanobis, MeanAbsSMD: 0.20, PctBalanced: 0.5, NMatched: 100},
	}
}

func TestMethodSelectorService_Select_NoJudgeFallsBackDeterministically(t *testing.T) {
	svc := NewMethodSelectorService(newTestLogger(), nil)

	record, err := svc.Select(context.Background(), sampleComparisons())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodPSM, record.SelectedMethod)
	assert.Equal(t, llmUnavailableReasoning, record.ReasoningText)
	assert.False(t, record.JudgeDiverged)
}

func TestMethodSelectorService_Select_JudgeOverridesWithinReason(t *testing.T) {
	judge := &stubJudge{method: domain.MethodIPTW, reasoning: "better sample size"}
	svc := NewMethodSelectorService(newTestLogger(), judge)

	record, err := svc.Select(context.Background(), sampleComparisons())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodIPTW, record.SelectedMethod)
	assert.Equal(t, "better sample size", record.ReasoningText)
	assert.False(t, record.JudgeDiverged)
}

func TestMethodSelectorService_Select_JudgeDivergesFlagged(t *testing.T) {
	judge := &stubJudge{method: domain.MethodMahalanobis, reasoning: "prefers covariate distance"}
	svc := NewMethodSelectorService(newTestLogger(), judge)

	record, err := svc.Select(context.Background(), sampleComparisons())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodMahalanobis, record.SelectedMethod)
	assert.True(t, record.JudgeDiverged)
}

func TestMethodSelectorService_Select_JudgeErrorFallsBack(t *testing.T) {
	judge := &stubJudge{err: errors.New("llm unavailable")}
	svc := NewMethodSelectorService(newTestLogger(), judge)

	record, err := svc.Select(context.Background(), sampleComparisons())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodPSM, record.SelectedMethod)
	assert.Equal(t, llmUnavailableReasoning, record.ReasoningText)
}

func TestMethodSelectorService_Select_JudgeInvalidMethodFallsBack(t *testing.T) {
	judge := &stubJudge{method: domain.MethodName("not_a_method")}
	svc := NewMethodSelectorService(newTestLogger(), judge)

	record, err := svc.Select(context.Background(), sampleComparisons())
	require.NoError(t, err)
	assert.Equal(t, domain.MethodPSM, record.SelectedMethod)
}
