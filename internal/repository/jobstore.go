// Package repository persists Agent Results to Postgres. The Agent Wrapper
// writes each run's record here and the status endpoint reads it back, so
// this table is the only job-status record and a status query survives a
// process restart.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/rwe-platform/statistician/internal/domain"
)

// JobStore implements domain.JobStore against a Postgres table.
type JobStore struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewJobStore constructs a JobStore.
func NewJobStore(db *pgxpool.Pool, logger *logrus.Logger) *JobStore {
	return &JobStore{db: db, log: logger}
}

// Save implements domain.JobStore with an upsert keyed on id — the
// orchestrator calls Save repeatedly as a run progresses through stages.
func (s *JobStore) Save(ctx context.Context, result *domain.AgentResult) error {
	resultDataJSON, err := json.Marshal(result.ResultData)
	if err != nil {
		return fmt.Errorf("marshaling result data: %w", err)
	}
	metadataJSON, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling agent result metadata: %w", err)
	}

	query := `
		INSERT INTO agent_results (
			id, status, agent_name, output_dir, result_data, metadata, error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			output_dir = EXCLUDED.output_dir,
			result_data = EXCLUDED.result_data,
			metadata = EXCLUDED.metadata,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.Exec(ctx, query,
		result.ID,
		string(result.Status),
		result.AgentName,
		result.OutputDir,
		resultDataJSON,
		metadataJSON,
		result.Error,
		result.CreatedAt,
		result.UpdatedAt,
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{"run_id": result.ID, "error": err}).Error("failed to save agent result")
		return fmt.Errorf("saving agent result: %w", err)
	}
	return nil
}

// Get implements domain.JobStore.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.AgentResult, error) {
	query := `
		SELECT id, status, agent_name, output_dir, result_data, metadata, error, created_at, updated_at
		FROM agent_results
		WHERE id = $1`

	var (
		result         domain.AgentResult
		status         string
		resultDataJSON []byte
		metadataJSON   []byte
	)

	err := s.db.QueryRow(ctx, query, id).Scan(
		&result.ID,
		&status,
		&result.AgentName,
		&result.OutputDir,
		&resultDataJSON,
		&metadataJSON,
		&result.Error,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("agent result %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("fetching agent result: %w", err)
	}

	result.Status = domain.AgentStatus(status)
	if err := json.Unmarshal(resultDataJSON, &result.ResultData); err != nil {
		return nil, fmt.Errorf("unmarshaling result data: %w", err)
	}
	if err := json.Unmarshal(metadataJSON, &result.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling agent result metadata: %w", err)
	}

	return &result, nil
}
