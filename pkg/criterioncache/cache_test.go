package criterioncache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizedCriterionHash_Deterministic(t *testing.T) {
	a := NormalizedCriterionHash("age >= 18 and sofa_score > 2")
	b := NormalizedCriterionHash("age >= 18 and sofa_score > 2")
	assert.Equal(t, a, b)
}

func TestNormalizedCriterionHash_DistinctInputsDiffer(t *testing.T) {
	a := NormalizedCriterionHash("age >= 18")
	b := NormalizedCriterionHash("age >= 65")
	assert.NotEqual(t, a, b)
}
