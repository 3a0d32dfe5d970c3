package service

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// MahalanobisMatcher implements M3: standardized-covariate, covariance-
// adjusted nearest-neighbor matching, 1:1 without replacement (§4.4).
type MahalanobisMatcher struct {
	logger *logrus.Logger
}

// NewMahalanobisMatcher constructs the M3 matcher.
func NewMahalanobisMatcher(logger *logrus.Logger) *MahalanobisMatcher {
	return &MahalanobisMatcher{logger: logger}
}

func (m *MahalanobisMatcher) Name() domain.MethodName { return domain.MethodMahalanobis }

// Match implements domain.MatchingMethod.
func (m *MahalanobisMatcher) Match(ctx context.Context, cohort *domain.Cohort, covariates []string, seed int64) (*domain.MatchedSample, error) {
	n := len(cohort.Records)
	p := len(covariates)

	vectors := make([][]float64, n)
	for i, r := range cohort.Records {
		v := make([]float64, p)
		for j, cov := range covariates {
			v[j] = r.Covariates[cov]
		}
		vectors[i] = v
	}
	standardize(vectors)

	covMatrix := covarianceMatrix(vectors)
	invCov, ok := invertMatrix(covMatrix)
	if !ok {
		// Singular covariance (perfectly collinear covariates): fall back
		// to a diagonal (independence) approximation rather than failing
		// the whole method.
		invCov = identityMatrix(p)
	}

	var treatedIdx, controlIdx []int
	for i, r := range cohort.Records {
		if r.TreatmentGroup == 1 {
			treatedIdx = append(treatedIdx, i)
		} else {
			controlIdx = append(controlIdx, i)
		}
	}

	used := make(map[int]bool, len(controlIdx))
	var pairs []domain.MatchedPair

	for _, ti := range treatedIdx {
		best := -1
		bestDist := math.Inf(1)
		for _, ci := range controlIdx {
			if used[ci] {
				continue
			}
			d := mahalanobisDistance(vectors[ti], vectors[ci], invCov)
			if d < bestDist {
				bestDist = d
				best = ci
			}
		}
		if best == -1 {
			continue
		}
		used[best] = true
		pairs = append(pairs, domain.MatchedPair{TreatedIndex: ti, ControlIndex: best})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].TreatedIndex < pairs[j].TreatedIndex })

	sample := &domain.MatchedSample{Method: domain.MethodMahalanobis, Pairs: pairs}
	for _, pair := range pairs {
		sample.Rows = append(sample.Rows, cohort.Records[pair.TreatedIndex], cohort.Records[pair.ControlIndex])
		sample.Weights = append(sample.Weights, 1, 1)
	}
	sample.Degenerate = len(pairs) < minMatchedPairs

	m.logger.WithFields(logrus.Fields{
		"method":     domain.MethodMahalanobis,
		"n_pairs":    len(pairs),
		"degenerate": sample.Degenerate,
	}).Info("matching method completed")

	return sample, nil
}

// standardize rescales each column to zero mean, unit variance in place.
func standardize(vectors [][]float64) {
	if len(vectors) == 0 {
		return
	}
	p := len(vectors[0])
	for j := 0; j < p; j++ {
		col := make([]float64, len(vectors))
		for i := range vectors {
			col[i] = vectors[i][j]
		}
		mean, variance := meanVariance(col)
		sd := math.Sqrt(variance)
		if sd == 0 {
			continue
		}
		for i := range vectors {
			vectors[i][j] = (vectors[i][j] - mean) / sd
		}
	}
}

func covarianceMatrix(vectors [][]float64) [][]float64 {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	p := len(vectors[0])
	means := make([]float64, p)
	for _, v := range vectors {
		for j := 0; j < p; j++ {
			means[j] += v[j]
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}

	cov := newMatrix(p, p)
	for _, v := range vectors {
		for a := 0; a < p; a++ {
			for b := 0; b < p; b++ {
				cov[a][b] += (v[a] - means[a]) * (v[b] - means[b])
			}
		}
	}
	if n > 1 {
		for a := 0; a < p; a++ {
			for b := 0; b < p; b++ {
				cov[a][b] /= float64(n - 1)
			}
		}
	}
	return cov
}

func identityMatrix(p int) [][]float64 {
	m := newMatrix(p, p)
	for i := 0; i < p; i++ {
		m[i][i] = 1
	}
	return m
}

// invertMatrix inverts a square matrix via Gauss-Jordan elimination.
func invertMatrix(a [][]float64) ([][]float64, bool) {
	n := len(a)
	if n == 0 {
		return nil, true
	}
	aug := make([][]float64, n)
	for i := range aug {
		aug[i] = make([]float64, 2*n)
		copy(aug[i], a[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		maxAbs := math.Abs(aug[col][col])
		for row := col + 1; row < n; row++ {
			if math.Abs(aug[row][col]) > maxAbs {
				pivot = row
				maxAbs = math.Abs(aug[row][col])
			}
		}
		if maxAbs < 1e-10 {
			return nil, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		pivotVal := aug[col][col]
		for k := 0; k < 2*n; k++ {
			aug[col][k] /= pivotVal
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := aug[row][col]
			for k := 0; k < 2*n; k++ {
				aug[row][k] -= factor * aug[col][k]
			}
		}
	}

	inv := newMatrix(n, n)
	for i := 0; i < n; i++ {
		copy(inv[i], aug[i][n:])
	}
	return inv, true
}

func mahalanobisDistance(a, b []float64, invCov [][]float64) float64 {
	p := len(a)
	diff := make([]float64, p)
	for i := range diff {
		diff[i] = a[i] - b[i]
	}
	var sum float64
	for i := 0; i < p; i++ {
		var rowSum float64
		for j := 0; j < p; j++ {
			rowSum += invCov[i][j] * diff[j]
		}
		sum += diff[i] * rowSum
	}
	if sum < 0 {
		return 0
	}
	return math.Sqrt(sum)
}
