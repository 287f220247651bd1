package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"kunjungan-backend/internal/models"
)

// PlanRepo persists visit plans.
type PlanRepo struct {
	db *sqlx.DB
}

func NewPlanRepo(db *sqlx.DB) *PlanRepo {
	return &PlanRepo{db: db}
}

// Create inserts a new plan.
func (r *PlanRepo) Create(ctx context.Context, plan *models.Plan) error {
	now := time.Now().Unix()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	query := `
		INSERT INTO plans (
			id, user_id, plan_date, start_name, start_lat, start_lon,
			destinations, optimized_route, total_distance_meters, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		plan.ID, plan.UserID, plan.PlanDate, plan.StartName, plan.StartLat, plan.StartLon,
		plan.DestinationsJSON, plan.OptimizedRouteJSON, plan.TotalDistanceMeters, plan.Status,
		plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

// PlanByID returns the plan or (nil, nil) when it does not exist.
func (r *PlanRepo) PlanByID(ctx context.Context, planID string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.GetContext(ctx, &plan, `SELECT * FROM plans WHERE id = $1`, planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &plan, nil
}

// PlansForDate returns a user's plans for one date, newest first.
func (r *PlanRepo) PlansForDate(ctx context.Context, userID, date string) ([]models.Plan, error) {
	var plans []models.Plan
	query := `
		SELECT * FROM plans
		WHERE user_id = $1 AND plan_date = $2
		ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &plans, query, userID, date); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// UpdatePlanStatus moves a plan through its lifecycle.
func (r *PlanRepo) UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error {
	query := `UPDATE plans SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, status, time.Now().Unix(), planID)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("plan not found: %s", planID)
	}
	return nil
}
