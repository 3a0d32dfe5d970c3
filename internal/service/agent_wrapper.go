package service

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// trialIDPattern matches the NCT clinical-trial identifier format: the
// literal prefix "NCT" followed by exactly 8 digits (§4.10).
var trialIDPattern = regexp.MustCompile(`^NCT\d{8}$`)

// AgentWrapperService implements the Agent Wrapper (C10): request
// validation and an async, panic-safe Run that never blocks the caller and
// never returns a non-nil error — every failure surfaces as a failed
// AgentResult instead (§4.10).
type AgentWrapperService struct {
	logger       *logrus.Logger
	orchestrator domain.Orchestrator
	store        domain.JobStore
	cfg          domain.RunConfig
}

// NewAgentWrapperService constructs an AgentWrapperService.
func NewAgentWrapperService(logger *logrus.Logger, orchestrator domain.Orchestrator, store domain.JobStore, cfg domain.RunConfig) *AgentWrapperService {
	return &AgentWrapperService{logger: logger, orchestrator: orchestrator, store: store, cfg: cfg}
}

// Validate implements domain.AgentWrapper (§4.10): trial ID format,
// non-empty medication, and a workspace root that exists (or can be
// created by the caller before Run is invoked).
func (a *AgentWrapperService) Validate(trialID, medication, workspaceRoot string) error {
	if !trialIDPattern.MatchString(trialID) {
		return domain.NewValidationError("trial_id", "must be in format NCT######## (NCT followed by 8 digits)", trialID)
	}
	if strings.TrimSpace(medication) == "" {
		return domain.NewValidationError("medication", "must not be empty", medication)
	}
	if workspaceRoot != "" {
		if info, err := os.Stat(workspaceRoot); err != nil || !info.IsDir() {
			return domain.NewValidationError("workspace_root", "must be an existing directory", workspaceRoot)
		}
	}
	return nil
}

// Run implements domain.AgentWrapper. It validates synchronously, then
// offloads the pipeline to a goroutine so the caller is never blocked by a
// multi-minute analytical run; all results land in the store by AgentResult.ID.
// The method returns the in-flight (pending) AgentResult, or a failed one
// (never stored, no run started) when validation fails.
func (a *AgentWrapperService) Run(ctx context.Context, params domain.RunParams) (*domain.AgentResult, error) {
	if err := a.Validate(params.TrialID, params.Medication, params.WorkspaceRoot); err != nil {
		return &domain.AgentResult{
			ID:        uuid.NewString(),
			Status:    domain.StatusFailed,
			AgentName: "statistician",
			Error:     err.Error(),
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}, nil
	}

	result := &domain.AgentResult{
		ID:        uuid.NewString(),
		Status:    domain.StatusPending,
		AgentName: "statistician",
		OutputDir: params.WorkspaceRoot,
		Metadata:  domain.AgentResultMetadata{StageErrors: map[domain.Stage]string{}},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if a.store != nil {
		if err := a.store.Save(ctx, result); err != nil {
			a.logger.WithError(err).Warn("failed to persist pending agent result")
		}
	}

	runCtx := context.WithoutCancel(ctx)
	go a.runAsync(runCtx, result.ID, params)

	return result, nil
}

// runAsync executes the orchestrator off the caller's goroutine. A panic
// inside the pipeline is recovered and converted to a failed AgentResult
// rather than crashing the process, so unexpected input that makes the
// numerical code (the causal forest, the Cox solver, the PNG renderer)
// panic cannot take the service down.
func (a *AgentWrapperService) runAsync(ctx context.Context, id string, params domain.RunParams) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithFields(logrus.Fields{"run_id": id, "panic": r}).Error("pipeline run panicked")
			if a.store != nil {
				_ = a.store.Save(ctx, &domain.AgentResult{
					ID:        id,
					Status:    domain.StatusFailed,
					AgentName: "statistician",
					Error:     fmt.Sprintf("internal error: %v", r),
					UpdatedAt: time.Now().UTC(),
				})
			}
		}
	}()

	progress := params.ProgressCallback
	if progress != nil {
		wrapped := progress
		progress = func(event domain.ProgressEvent) {
			if a.store != nil {
				if existing, err := a.store.Get(ctx, id); err == nil && existing != nil {
					existing.Metadata.Progress = append(existing.Metadata.Progress, event)
					_ = a.store.Save(ctx, existing)
				}
			}
			wrapped(event)
		}
	}

	result, err := a.orchestrator.Run(ctx, params, a.cfg, progress)
	if err != nil {
		a.logger.WithError(err).WithField("run_id", id).Error("orchestrator returned an error outside the stage-error contract")
		result = &domain.AgentResult{Status: domain.StatusFailed, Error: err.Error()}
	}
	result.ID = id
	result.UpdatedAt = time.Now().UTC()

	if a.store != nil {
		if err := a.store.Save(ctx, result); err != nil {
			a.logger.WithError(err).WithField("run_id", id).Error("failed to persist final agent result")
		}
	}
}
