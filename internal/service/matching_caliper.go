package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// PSMCaliperMatcher implements M2: PSM with a caliper bound on the
// propensity-scale distance between a candidate pair (§4.4). Treated units
// with no admissible partner within the caliper are dropped.
type PSMCaliperMatcher struct {
	logger  *logrus.Logger
	maxIter int
	caliper float64
}

// NewPSMCaliperMatcher constructs the M2 matcher.
func NewPSMCaliperMatcher(logger *logrus.Logger, maxIter int, caliper float64) *PSMCaliperMatcher {
	return &PSMCaliperMatcher{logger: logger, maxIter: maxIter, caliper: caliper}
}

func (m *PSMCaliperMatcher) Name() domain.MethodName { return domain.MethodPSMCaliper }

// Match implements domain.MatchingMethod.
func (m *PSMCaliperMatcher) Match(ctx context.Context, cohort *domain.Cohort, covariates []string, seed int64) (*domain.MatchedSample, error) {
	model := fitPropensityModel(cohort.Records, covariates, m.maxIter)
	return psmNearestNeighbor(cohort, covariates, model, domain.MethodPSMCaliper, &m.caliper, m.logger)
}
