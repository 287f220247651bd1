package routing

import (
	"context"
	"errors"
	"fmt"

	"kunjungan-backend/internal/models"
)

// RouteStep is one turn-by-turn instruction of a road route.
type RouteStep struct {
	ManeuverType     string            `json:"maneuver_type"`
	ManeuverModifier string            `json:"maneuver_modifier,omitempty"`
	RoadName         string            `json:"road_name,omitempty"`
	DistanceMeters   float64           `json:"distance_meters"`
	Location         models.Coordinate `json:"location"`
}

// RouteInfo describes a single road route between two points.
type RouteInfo struct {
	DistanceMeters  float64     `json:"distance_meters"`
	DurationSeconds float64     `json:"duration_seconds"`
	Steps           []RouteStep `json:"steps,omitempty"`
	// Estimated is set when the routing service was unavailable and this is a
	// straight-line pseudo-route with a speed-based duration estimate.
	Estimated bool `json:"estimated,omitempty"`
}

// RoutePreferences control how BestRoute picks among route alternatives.
type RoutePreferences struct {
	AvoidOneWay    bool
	PreferShortest bool // pick by distance instead of duration
}

// Provider is the road-routing boundary consumed by the optimizer and the
// visit-execution flow. Implementations degrade to great-circle results on
// service failure instead of surfacing transport errors.
type Provider interface {
	// DrivingDistance returns the road distance in meters between two points,
	// falling back to the great-circle distance when the service fails.
	DrivingDistance(ctx context.Context, a, b models.Coordinate) (float64, error)
	// DrivingRoute returns distance, duration and turn-by-turn steps, falling
	// back to a straight-line pseudo-route (no steps) when the service fails.
	DrivingRoute(ctx context.Context, a, b models.Coordinate) (*RouteInfo, error)
	// BestRoute requests route alternatives and selects one according to the
	// preferences. It fails with ErrNoRouteMeetsPreference when the one-way
	// filter removes every alternative.
	BestRoute(ctx context.Context, a, b models.Coordinate, prefs RoutePreferences) (*RouteInfo, error)
}

// ErrMissingStart is returned when the optimizer input does not contain
// exactly one start-role location.
var ErrMissingStart = errors.New("optimizer input must contain exactly one start location")

// ErrNoRouteMeetsPreference is returned by BestRoute when every alternative
// was filtered out; callers should retry without the one-way preference.
var ErrNoRouteMeetsPreference = errors.New("no route alternative meets the requested preferences")

// TooManyLocationsError guards the factorial blow-up of the brute-force
// search. It is raised before any distance lookup happens.
type TooManyLocationsError struct {
	Count int
	Max   int
}

func (e *TooManyLocationsError) Error() string {
	return fmt.Sprintf("brute-force optimization supports at most %d locations, got %d", e.Max, e.Count)
}
