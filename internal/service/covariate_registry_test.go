package service

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwe-platform/statistician/internal/domain"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestCovariateRegistry_TypeOf(t *testing.T) {
	registry := NewCovariateRegistry(newTestLogger())

	tests := []struct {
		name     string
		covariate string
		wantType  domain.SemanticType
		wantOK    bool
	}{
		{"known continuous covariate", "age", domain.SemanticContinuous, true},
		{"known binary covariate", "gender", domain.SemanticBinary, true},
		{"unknown covariate", "not_a_real_column", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := registry.TypeOf(tt.covariate)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantType, got)
			}
		})
	}
}

func TestCovariateRegistry_FeaturesOfType(t *testing.T) {
	registry := NewCovariateRegistry(newTestLogger())

	continuous := registry.FeaturesOfType(domain.SemanticContinuous)
	assert.NotEmpty(t, continuous)
	for _, name := range continuous {
		typ, ok := registry.TypeOf(name)
		require.True(t, ok)
		assert.Equal(t, domain.SemanticContinuous, typ)
	}
}

func TestCovariateRegistry_ImputationFor(t *testing.T) {
	registry := NewCovariateRegistry(newTestLogger())

	assert.Equal(t, domain.ImputeMean, registry.ImputationFor("age", true))
	assert.Equal(t, domain.ImputeMode, registry.ImputationFor("gender", false))
	assert.Equal(t, domain.ImputeMean, registry.ImputationFor("unknown_numeric", true))
	assert.Equal(t, domain.ImputeMode, registry.ImputationFor("unknown_categorical", false))
}
