package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwe-platform/statistician/internal/domain"
)

func TestCausalForestService_Fit(t *testing.T) {
	svc := NewCausalForestService(newTestLogger())
	cohort := syntheticCohort(40)

	sample := &domain.MatchedSample{Method: domain.MethodPSM, Rows: cohort.Records}
	cfg := domain.CausalForestConfig{NEstimators: 10, MinSamplesLeaf: 3, RandomState: 7}

	result, err := svc.Fit(context.Background(), sample, cohort.Covariates, cfg)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Len(t, result.CATEPerUnit, len(sample.Rows))
	assert.GreaterOrEqual(t, result.Stats.PositiveRate, 0.0)
	assert.LessOrEqual(t, result.Stats.PositiveRate, 1.0)
	assert.Contains(t, result.FeatureImportances, "age")
}

func TestCausalForestService_Fit_InsufficientData(t *testing.T) {
	svc := NewCausalForestService(newTestLogger())
	cohort := syntheticCohort(4)

	sample := &domain.MatchedSample{Method: domain.MethodPSM, Rows: cohort.Records}
	cfg := domain.CausalForestConfig{NEstimators: 10, MinSamplesLeaf: 10, RandomState: 7}

	_, err := svc.Fit(context.Background(), sample, cohort.Covariates, cfg)
	require.Error(t, err)

	var pipelineErr *domain.PipelineError
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, domain.ErrHeterogeneityFailure, pipelineErr.Code)
}
