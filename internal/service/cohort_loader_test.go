package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwe-platform/statistician/internal/domain"
)

func writeTempCSV(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cohort.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestCohortLoaderService_Load(t *testing.T) {
	csv := "subject_id,treatment_group,mortality,outcome_days,age,gender\n" +
		"1,1,1,10,65,1\n" +
		"2,0,0,28,70,0\n" +
		"3,1,0,40,,1\n" +
		"4,0,1,5,55,0\n"
	path := writeTempCSV(t, csv)

	loader := NewCohortLoaderService(newTestLogger(), NewCovariateRegistry(newTestLogger()))
	cohort, err := loader.Load(context.Background(), path, 28, 0.5)
	require.NoError(t, err)
	require.Len(t, cohort.Records, 4)

	assert.Contains(t, cohort.Covariates, "age")
	assert.Contains(t, cohort.Covariates, "gender")
	assert.NotContains(t, cohort.Covariates, "treatment_group")
	assert.NotContains(t, cohort.Covariates, "mortality")

	// Row 3 had outcome_days=40 > follow_up_days=28, so it is censored:
	// outcome_days is capped and mortality reset to 0.
	row3 := cohort.Records[2]
	assert.Equal(t, 28.0, row3.OutcomeDays)
	assert.Equal(t, 40.0, row3.OutcomeDaysOriginal)
	assert.Equal(t, 0, row3.Mortality)

	// Row 3's missing age is imputed to the column mean of the observed rows.
	assert.InDelta(t, (65.0+70.0+55.0)/3.0, row3.Covariates["age"], 1e-9)
}

func TestCohortLoaderService_Load_MissingRequiredColumn(t *testing.T) {
	path := writeTempCSV(t, "subject_id,mortality\n1,1\n")
	loader := NewCohortLoaderService(newTestLogger(), NewCovariateRegistry(newTestLogger()))

	_, err := loader.Load(context.Background(), path, 28, 0.2)
	require.Error(t, err)

	var pipelineErr *domain.PipelineError
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, domain.ErrSchemaViolation, pipelineErr.Code)
}

func TestCohortLoaderService_Load_FileNotFound(t *testing.T) {
	loader := NewCohortLoaderService(newTestLogger(), NewCovariateRegistry(newTestLogger()))

	_, err := loader.Load(context.Background(), "/nonexistent/cohort.csv", 28, 0.2)
	require.Error(t, err)

	var pipelineErr *domain.PipelineError
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, domain.ErrDataUnavailable, pipelineErr.Code)
}

func TestCohortLoaderService_Load_MissingnessThresholdDropsColumn(t *testing.T) {
	csv := "subject_id,treatment_group,mortality,outcome_days,age\n" +
		"1,1,1,10,\n" +
		"2,0,0,28,\n" +
		"3,1,0,20,30\n"
	path := writeTempCSV(t, csv)

	loader := NewCohortLoaderService(newTestLogger(), NewCovariateRegistry(newTestLogger()))
	cohort, err := loader.Load(context.Background(), path, 28, 0.5)
	require.NoError(t, err)
	assert.NotContains(t, cohort.Covariates, "age")
}
