package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwe-platform/statistician/internal/domain"
)

// syntheticCohort builds a cohort with a clear propensity gradient on "age"
// so nearest-neighbor matching has an unambiguous correct pairing.
func syntheticCohort(n int) *domain.Cohort {
	records := make([]domain.CohortRecord, 0, n)
	for i := 0; i < n; i++ {
		group := i % 2
		age := float64(50 + i)
		records = append(records, domain.CohortRecord{
			SubjectID:        string(rune('a' + i)),
			TreatmentGroup:   group,
			Mortality:        group % 2,
			OutcomeDays:      float64(5 + i),
			Covariates:       map[string]float64{"age": age},
			CovariateMissing: map[string]bool{},
		})
	}
	return &domain.Cohort{Records: records, Covariates: []string{"age"}}
}

func TestPSMMatcher_Match(t *testing.T) {
	cohort := syntheticCohort(30)
	matcher := NewPSMMatcher(newTestLogger(), 200)

	sample, err := matcher.Match(context.Background(), cohort, cohort.Covariates, 42)
	require.NoError(t, err)
	require.NotNil(t, sample)

	assert.Equal(t, domain.MethodPSM, sample.Method)
	assert.Equal(t, sample.NTreated(), sample.NControl())
	for _, w := range sample.Weights {
		assert.Equal(t, 1.0, w)
	}
	assert.False(t, sample.Degenerate)
}

func TestPSMMatcher_Match_DegenerateSmallCohort(t *testing.T) {
	cohort := syntheticCohort(4)
	matcher := NewPSMMatcher(newTestLogger(), 200)

	sample, err := matcher.Match(context.Background(), cohort, cohort.Covariates, 42)
	require.NoError(t, err)
	assert.True(t, sample.Degenerate)
}

func TestPSMCaliperMatcher_Match_RespectsCaliper(t *testing.T) {
	cohort := syntheticCohort(30)
	tight := NewPSMCaliperMatcher(newTestLogger(), 200, 1e-9)

	sample, err := tight.Match(context.Background(), cohort, cohort.Covariates, 42)
	require.NoError(t, err)
	// An effectively zero caliper should reject nearly every pair.
	assert.Less(t, len(sample.Pairs), 15)
}

func TestMahalanobisMatcher_Match(t *testing.T) {
	cohort := syntheticCohort(30)
	matcher := NewMahalanobisMatcher(newTestLogger())

	sample, err := matcher.Match(context.Background(), cohort, cohort.Covariates, 42)
	require.NoError(t, err)
	assert.Equal(t, domain.MethodMahalanobis, sample.Method)
	assert.Equal(t, sample.NTreated(), sample.NControl())
}

func TestIPTWWeighter_Match(t *testing.T) {
	cohort := syntheticCohort(30)
	weighter := NewIPTWWeighter(newTestLogger(), 200)

	sample, err := weighter.Match(context.Background(), cohort, cohort.Covariates, 42)
	require.NoError(t, err)
	assert.Equal(t, domain.MethodIPTW, sample.Method)
	assert.Len(t, sample.Rows, len(cohort.Records))
	assert.Len(t, sample.Weights, len(cohort.Records))
	for _, w := range sample.Weights {
		assert.Greater(t, w, 0.0)
	}
}
