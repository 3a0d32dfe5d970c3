package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwe-platform/statistician/internal/domain"
)

func survivalSample() *domain.MatchedSample {
	rows := []domain.CohortRecord{
		{TreatmentGroup: 1, Mortality: 1, OutcomeDays: 3},
		{TreatmentGroup: 1, Mortality: 0, OutcomeDays: 28},
		{TreatmentGroup: 1, Mortality: 1, OutcomeDays: 10},
		{TreatmentGroup: 1, Mortality: 0, OutcomeDays: 28},
		{TreatmentGroup: 0, Mortality: 0, OutcomeDays: 28},
		{TreatmentGroup: 0, Mortality: 0, OutcomeDays: 28},
		{TreatmentGroup: 0, Mortality: 1, OutcomeDays: 20},
		{TreatmentGroup: 0, Mortality: 0, OutcomeDays: 28},
	}
	weights := make([]float64, len(rows))
	for i := range weights {
		weights[i] = 1
	}
	return &domain.MatchedSample{Method: domain.MethodPSM, Rows: rows, Weights: weights}
}

func TestSurvivalModelService_Fit(t *testing.T) {
	svc := NewSurvivalModelService(newTestLogger())

	result, err := svc.Fit(context.Background(), survivalSample(), 28)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 4, result.NTreatment)
	assert.Equal(t, 4, result.NControl)
	assert.Greater(t, result.HazardRatio, 0.0)
	assert.Less(t, result.CI95Lower, result.HazardRatio)
	assert.Greater(t, result.CI95Upper, result.HazardRatio)
	assert.GreaterOrEqual(t, result.PValue, 0.0)
	assert.LessOrEqual(t, result.PValue, 1.0)
	assert.GreaterOrEqual(t, result.ConcordanceIndex, 0.0)
	assert.LessOrEqual(t, result.ConcordanceIndex, 1.0)
	assert.NotEmpty(t, result.CumulativeMortality)
}

func TestSurvivalModelService_Fit_EmptyArmFails(t *testing.T) {
	svc := NewSurvivalModelService(newTestLogger())
	sample := &domain.MatchedSample{
		Rows: []domain.CohortRecord{
			{TreatmentGroup: 1, Mortality: 1, OutcomeDays: 5},
			{TreatmentGroup: 1, Mortality: 0, OutcomeDays: 28},
		},
		Weights: []float64{1, 1},
	}

	_, err := svc.Fit(context.Background(), sample, 28)
	require.Error(t, err)

	var pipelineErr *domain.PipelineError
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, domain.ErrModelFitFailure, pipelineErr.Code)
}
