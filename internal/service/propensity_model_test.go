package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rwe-platform/statistician/internal/domain"
)

func TestFitPropensityModel_SeparatesGroupsOnStrongSignal(t *testing.T) {
	rows := make([]domain.CohortRecord, 0, 40)
	for i := 0; i < 40; i++ {
		group := i % 2
		age := 40.0
		if group == 1 {
			age = 70.0
		}
		rows = append(rows, domain.CohortRecord{
			TreatmentGroup: group,
			Covariates:     map[string]float64{"age": age},
		})
	}

	model := fitPropensityModel(rows, []string{"age"}, 50)

	treatedPi := model.predict(domain.CohortRecord{Covariates: map[string]float64{"age": 70.0}}, []string{"age"})
	controlPi := model.predict(domain.CohortRecord{Covariates: map[string]float64{"age": 40.0}}, []string{"age"})

	assert.Greater(t, treatedPi, controlPi)
	assert.Greater(t, treatedPi, 0.5)
	assert.Less(t, controlPi, 0.5)
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-9)
	assert.Greater(t, sigmoid(10), 0.99)
	assert.Less(t, sigmoid(-10), 0.01)
}

func TestClipPropensity(t *testing.T) {
	assert.Equal(t, 0.01, clipPropensity(0.0, 0.01))
	assert.Equal(t, 0.99, clipPropensity(1.0, 0.01))
	assert.Equal(t, 0.5, clipPropensity(0.5, 0.01))
}

func TestSolveLinearSystem(t *testing.T) {
	a := [][]float64{{2, 0}, {0, 2}}
	b := []float64{4, 6}

	x, ok := solveLinearSystem(a, b)
	assert.True(t, ok)
	assert.InDelta(t, 2.0, x[0], 1e-9)
	assert.InDelta(t, 3.0, x[1], 1e-9)
}

func TestSolveLinearSystem_Singular(t *testing.T) {
	a := [][]float64{{1, 1}, {1, 1}}
	b := []float64{2, 2}

	_, ok := solveLinearSystem(a, b)
	assert.False(t, ok)
}

func TestDot(t *testing.T) {
	assert.Equal(t, 11.0, dot([]float64{1, 2, 3}, []float64{3, 2, 1}))
	assert.True(t, math.Abs(dot([]float64{0}, []float64{0})) < 1e-9)
}
