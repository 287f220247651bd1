package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"kunjungan-backend/internal/models"
	"kunjungan-backend/internal/session"
)

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

// ExecutionRepo persists recorded visits.
type ExecutionRepo struct {
	db *sqlx.DB
}

func NewExecutionRepo(db *sqlx.DB) *ExecutionRepo {
	return &ExecutionRepo{db: db}
}

// Insert records one visit. A second record for the same (plan, stop) pair
// hits the UNIQUE constraint and is reported as ErrVisitAlreadyRecorded.
func (r *ExecutionRepo) Insert(ctx context.Context, exec *models.VisitExecution) error {
	query := `
		INSERT INTO visit_executions (
			id, plan_id, user_id, location_index, executed_at,
			photo_ref, captured_lat, captured_lon
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		exec.ID, exec.PlanID, exec.UserID, exec.LocationIndex, exec.ExecutedAt,
		exec.PhotoRef, exec.CapturedLat, exec.CapturedLon,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("record visit: %w", session.ErrVisitAlreadyRecorded)
		}
		return fmt.Errorf("failed to record visit: %w", err)
	}
	return nil
}

// RecordedIndices returns the route indices already recorded for a plan.
func (r *ExecutionRepo) RecordedIndices(ctx context.Context, planID string) ([]int, error) {
	var indices []int
	query := `SELECT location_index FROM visit_executions WHERE plan_id = $1 ORDER BY location_index ASC`
	if err := r.db.SelectContext(ctx, &indices, query, planID); err != nil {
		return nil, fmt.Errorf("failed to list recorded visits: %w", err)
	}
	return indices, nil
}

// ListByPlan returns a plan's visit records in execution order.
func (r *ExecutionRepo) ListByPlan(ctx context.Context, planID string) ([]models.VisitExecution, error) {
	var execs []models.VisitExecution
	query := `SELECT * FROM visit_executions WHERE plan_id = $1 ORDER BY executed_at ASC`
	if err := r.db.SelectContext(ctx, &execs, query, planID); err != nil {
		return nil, fmt.Errorf("failed to list visit executions: %w", err)
	}
	return execs, nil
}
