package models

import (
	"encoding/json"
	"fmt"
)

// PlanStatus represents the lifecycle of a visit plan.
type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "DRAFT"     // Created, execution not started
	PlanStatusActive    PlanStatus = "ACTIVE"    // Execution in progress
	PlanStatusCompleted PlanStatus = "COMPLETED" // All stops visited or explicitly closed
)

// Plan is a persisted visit plan: a start point, the destinations the user
// entered, and the optimized visiting order computed at creation time.
// Destinations and the optimized route are stored as JSONB; the optimized
// route excludes the start location and its order is the visiting order.
type Plan struct {
	ID                  string     `json:"id" db:"id"`
	UserID              string     `json:"user_id" db:"user_id"`
	PlanDate            string     `json:"plan_date" db:"plan_date"` // YYYY-MM-DD
	StartName           string     `json:"start_name" db:"start_name"`
	StartLat            float64    `json:"start_lat" db:"start_lat"`
	StartLon            float64    `json:"start_lon" db:"start_lon"`
	DestinationsJSON    []byte     `json:"-" db:"destinations"`
	OptimizedRouteJSON  []byte     `json:"-" db:"optimized_route"`
	TotalDistanceMeters float64    `json:"total_distance_meters" db:"total_distance_meters"`
	Status              PlanStatus `json:"status" db:"status"`
	CreatedAt           int64      `json:"created_at" db:"created_at"`
	UpdatedAt           int64      `json:"updated_at" db:"updated_at"`
}

// StartLocation rebuilds the start as a Location value.
func (p *Plan) StartLocation() Location {
	return Location{Name: p.StartName, Lat: p.StartLat, Lon: p.StartLon, Role: RoleStart}
}

// Destinations decodes the destination list as entered by the user.
func (p *Plan) Destinations() ([]Location, error) {
	return decodeLocations(p.DestinationsJSON)
}

// OptimizedRoute decodes the optimized visiting order (start excluded).
func (p *Plan) OptimizedRoute() ([]Location, error) {
	return decodeLocations(p.OptimizedRouteJSON)
}

func decodeLocations(raw []byte) ([]Location, error) {
	if len(raw) == 0 {
		return []Location{}, nil
	}
	var locs []Location
	if err := json.Unmarshal(raw, &locs); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	return locs, nil
}

// PlanSummary is the listing shape for plan selection.
type PlanSummary struct {
	ID            string     `json:"id" db:"id"`
	PlanDate      string     `json:"plan_date" db:"plan_date"`
	LocationCount int        `json:"location_count" db:"location_count"`
	Status        PlanStatus `json:"status" db:"status"`
	CreatedAt     int64      `json:"created_at" db:"created_at"`
}

// CreatePlanRequest is the request body for POST /api/plans.
type CreatePlanRequest struct {
	Start        PlanPoint   `json:"start"`
	Destinations []PlanPoint `json:"destinations"`
}

// PlanPoint is a named coordinate in a plan request.
type PlanPoint struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// CreatePlanResponse echoes the stored plan with its computed route.
type CreatePlanResponse struct {
	PlanID              string     `json:"plan_id"`
	PlanDate            string     `json:"plan_date"`
	Status              PlanStatus `json:"status"`
	OptimizedRoute      []Location `json:"optimized_route"`
	TotalDistanceMeters float64    `json:"total_distance_meters"`
	TotalDistanceKm     float64    `json:"total_distance_km"`
	// RoadDistanceUsed is false when the road-routing service was unavailable
	// and the order was computed over straight-line distances.
	RoadDistanceUsed  bool `json:"road_distance_used"`
	OneWayCompromised bool `json:"one_way_compromised,omitempty"`
}
