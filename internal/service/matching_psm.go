package service

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// minMatchedPairs and minEffectiveSampleSize implement §4.4's degeneracy
// thresholds.
const (
	minMatchedPairs        = 10
	minEffectiveSampleSize = 20.0
)

// PSMMatcher implements M1: propensity-score nearest-neighbor matching with
// no caliper, 1:1, without replacement, ties broken by index order.
type PSMMatcher struct {
	logger  *logrus.Logger
	maxIter int
}

// NewPSMMatcher constructs the M1 matcher.
func NewPSMMatcher(logger *logrus.Logger, maxIter int) *PSMMatcher {
	return &PSMMatcher{logger: logger, maxIter: maxIter}
}

func (m *PSMMatcher) Name() domain.MethodName { return domain.MethodPSM }

// Match implements domain.MatchingMethod.
func (m *PSMMatcher) Match(ctx context.Context, cohort *domain.Cohort, covariates []string, seed int64) (*domain.MatchedSample, error) {
	model := fitPropensityModel(cohort.Records, covariates, m.maxIter)
	return psmNearestNeighbor(cohort, covariates, model, domain.MethodPSM, nil, m.logger)
}

// psmNearestNeighbor is shared by M1 and M2; caliper nil means M1's
// unconstrained variant, non-nil enforces the |p_t - p_c| <= caliper bound.
func psmNearestNeighbor(cohort *domain.Cohort, covariates []string, model *propensityModel, method domain.MethodName, caliper *float64, logger *logrus.Logger) (*domain.MatchedSample, error) {
	var treatedIdx, controlIdx []int
	propensities := make([]float64, len(cohort.Records))
	for i, r := range cohort.Records {
		p := model.predict(r, covariates)
		propensities[i] = p
		if r.TreatmentGroup == 1 {
			treatedIdx = append(treatedIdx, i)
		} else {
			controlIdx = append(controlIdx, i)
		}
	}

	used := make(map[int]bool, len(controlIdx))
	var pairs []domain.MatchedPair

	for _, ti := range treatedIdx {
		pt := propensities[ti]
		best := -1
		bestDist := math.Inf(1)
		for _, ci := range controlIdx {
			if used[ci] {
				continue
			}
			dist := math.Abs(pt - propensities[ci])
			if caliper != nil && dist > *caliper {
				continue
			}
			if dist < bestDist {
				bestDist = dist
				best = ci
			}
		}
		if best == -1 {
			continue
		}
		used[best] = true
		pairs = append(pairs, domain.MatchedPair{
			TreatedIndex: ti,
			ControlIndex: best,
			PropensityT:  pt,
			PropensityC:  propensities[best],
		})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].TreatedIndex < pairs[j].TreatedIndex })

	sample := &domain.MatchedSample{Method: method, Pairs: pairs, Propensities: propensities}
	for _, pair := range pairs {
		sample.Rows = append(sample.Rows, cohort.Records[pair.TreatedIndex], cohort.Records[pair.ControlIndex])
		sample.Weights = append(sample.Weights, 1, 1)
	}
	sample.Degenerate = len(pairs) < minMatchedPairs

	logger.WithFields(logrus.Fields{
		"method":      method,
		"n_pairs":     len(pairs),
		"degenerate":  sample.Degenerate,
	}).Info("matching method completed")

	return sample, nil
}
