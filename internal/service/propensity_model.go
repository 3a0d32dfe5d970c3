package service

import (
	"math"

	"github.com/rwe-platform/statistician/internal/domain"
)

// propensityModel is a logistic-regression propensity model shared by M1,
// M2, and M4 (§4.4). Fit via Newton-Raphson (IRLS), matching the teacher's
// preference for a closed, deterministic numeric routine over a black-box
// solver — the design favors reproducibility (§8 property 4) over solver
// sophistication.
type propensityModel struct {
	weights []float64 // weights[0] is the intercept
}

// fitPropensityModel fits P(treatment_group=1 | covariates) by IRLS.
// Deterministic given the same cohort/covariate ordering: no stochastic
// initialization is used, so no seed is involved. The matchers that
// consume the model break nearest-neighbor ties by index order and ignore
// the seed they are passed.
func fitPropensityModel(rows []domain.CohortRecord, covariates []string, maxIter int) *propensityModel {
	n := len(rows)
	p := len(covariates) + 1

	design := make([][]float64, n)
	y := make([]float64, n)
	for i, r := range rows {
		x := make([]float64, p)
		x[0] = 1
		for j, cov := range covariates {
			x[j+1] = r.Covariates[cov]
		}
		design[i] = x
		y[i] = float64(r.TreatmentGroup)
	}

	beta := make([]float64, p)
	for iter := 0; iter < maxIter; iter++ {
		grad := make([]float64, p)
		hessian := newMatrix(p, p)

		for i := 0; i < n; i++ {
			eta := dot(design[i], beta)
			pi := sigmoid(eta)
			w := pi * (1 - pi)
			resid := y[i] - pi

			for a := 0; a < p; a++ {
				grad[a] += design[i][a] * resid
				for b := 0; b < p; b++ {
					hessian[a][b] += design[i][a] * design[i][b] * w
				}
			}
		}

		for a := 0; a < p; a++ {
			hessian[a][a] += 1e-8 // ridge term guards against a singular design
		}

		delta, ok := solveLinearSystem(hessian, grad)
		if !ok {
			break
		}

		maxDelta := 0.0
		for a := 0; a < p; a++ {
			beta[a] += delta[a]
			if math.Abs(delta[a]) > maxDelta {
				maxDelta = math.Abs(delta[a])
			}
		}
		if maxDelta < 1e-8 {
			break
		}
	}

	return &propensityModel{weights: beta}
}

// predict returns P(treatment=1 | x) for one row's covariate vector.
func (m *propensityModel) predict(r domain.CohortRecord, covariates []string) float64 {
	x := make([]float64, len(covariates)+1)
	x[0] = 1
	for j, cov := range covariates {
		x[j+1] = r.Covariates[cov]
	}
	return sigmoid(dot(x, m.weights))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// clipPropensity bounds a propensity to [eps, 1-eps] per §4.4 M4.
func clipPropensity(p, eps float64) float64 {
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}

// solveLinearSystem solves Ax=b by Gaussian elimination with partial
// pivoting. Returns ok=false on a singular system; the propensity fit,
// its only caller, then stops iterating early.
func solveLinearSystem(a [][]float64, b []float64) ([]float64, bool) {
	n := len(b)
	aug := make([][]float64, n)
	for i := range aug {
		aug[i] = make([]float64, n+1)
		copy(aug[i], a[i])
		aug[i][n] = b[i]
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
		if maxAbs < 1e-12 {
			return nil, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		for row := col + 1; row < n; row++ {
			factor := aug[row][col] / aug[col][col]
			for k := col; k <= n; k++ {
				aug[row][k] -= factor * aug[col][k]
			}
		}
	}

	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := aug[row][n]
		for col := row + 1; col < n; col++ {
			sum -= aug[row][col] * x[col]
		}
		x[row] = sum / aug[row][row]
	}
	return x, true
}
