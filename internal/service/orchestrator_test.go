package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwe-platform/statistician/internal/domain"
)

func writeSyntheticCohortCSV(t *testing.T) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("subject_id,treatment_group,mortality,outcome_days,age,sofa_score\n")
	for i := 0; i < 40; i++ {
		group := i % 2
		mortality := 0
		if i%5 == 0 {
			mortality = 1
		}
		age := 50 + i
		sofa := 2 + i%8
		fmt.Fprintf(&sb, "%d,%d,%d,%d,%d,%d\n", i, group, mortality, 3+i%25, age, sofa)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "cohort.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

// TestOrchestratorService_Run_EndToEnd wires every real collaborator
// (no LLM judge/summariser, forcing the deterministic fallbacks) over a
// synthetic cohort and checks the run completes and writes its artifacts.
func TestOrchestratorService_Run_EndToEnd(t *testing.T) {
	logger := newTestLogger()
	cohortPath := writeSyntheticCohortCSV(t)
	outputDir := t.TempDir()

	registry := NewCovariateRegistry(logger)
	loader := NewCohortLoaderService(logger, registry)
	balance := NewBalanceDiagnosticsService(logger, 0.10)
	matchers := []domain.MatchingMethod{
		NewPSMMatcher(logger, 200),
		NewPSMCaliperMatcher(logger, 200, 0.2),
		NewMahalanobisMatcher(logger),
		NewIPTWWeighter(logger, 200),
	}
	selector := NewMethodSelectorService(logger, nil)
	survival := NewSurvivalModelService(logger)
	hetero := NewCausalForestService(logger)
	renderer := NewArtifactRendererService(logger)

	orchestrator := NewOrchestratorService(
		logger, registry, loader, balance, matchers, selector, survival, hetero, renderer, nil,
	)

	var stages []domain.Stage
	progress := func(event domain.ProgressEvent) {
		stages = append(stages, event.Stage)
	}

	cfg := domain.DefaultRunConfig()
	cfg.CausalForest.NEstimators = 5
	cfg.CausalForest.MinSamplesLeaf = 3

	params := domain.RunParams{
		TrialID:        "trial-001",
		Medication:     "vasopressin",
		CohortFilePath: cohortPath,
		WorkspaceRoot:  outputDir,
	}

	result, err := orchestrator.Run(context.Background(), params, cfg, progress)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Contains(t, stages, domain.StageDone)
	assert.NotEmpty(t, result.ResultData["selected_method"])

	entries, err := os.ReadDir(outputDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
