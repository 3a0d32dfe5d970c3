package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// iptwEpsilon bounds clipped propensities per §4.4 M4.
const iptwEpsilon = 0.01

// IPTWWeighter implements M4: inverse probability of treatment weighting.
// Unlike M1-M3 it returns every row, each with a positive weight, rather
// than a paired subsample.
type IPTWWeighter struct {
	logger  *logrus.Logger
	maxIter int
}

// NewIPTWWeighter constructs the M4 weighter.
func NewIPTWWeighter(logger *logrus.Logger, maxIter int) *IPTWWeighter {
	return &IPTWWeighter{logger: logger, maxIter: maxIter}
}

func (w *IPTWWeighter) Name() domain.MethodName { return domain.MethodIPTW }

// Match implements domain.MatchingMethod.
func (w *IPTWWeighter) Match(ctx context.Context, cohort *domain.Cohort, covariates []string, seed int64) (*domain.MatchedSample, error) {
	model := fitPropensityModel(cohort.Records, covariates, w.maxIter)

	sample := &domain.MatchedSample{Method: domain.MethodIPTW}
	propensities := make([]float64, len(cohort.Records))

	for i, r := range cohort.Records {
		p := clipPropensity(model.predict(r, covariates), iptwEpsilon)
		propensities[i] = p

		var weight float64
		if r.TreatmentGroup == 1 {
			weight = 1 / p
		} else {
			weight = 1 / (1 - p)
		}

		sample.Rows = append(sample.Rows, r)
		sample.Weights = append(sample.Weights, weight)
	}
	sample.Propensities = propensities
	sample.Degenerate = sample.EffectiveSampleSize() < minEffectiveSampleSize

	w.logger.WithFields(logrus.Fields{
		"method":     domain.MethodIPTW,
		"ess":        sample.EffectiveSampleSize(),
		"degenerate": sample.Degenerate,
	}).Info("matching method completed")

	return sample, nil
}
