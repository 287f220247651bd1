package routing

import (
	"context"
	"sync"

	"kunjungan-backend/internal/models"
)

// MockProvider is an in-memory Provider for tests. Distances and routes are
// keyed per ordered coordinate pair; pairs without an entry fall back to the
// great-circle distance so tests only need to pin the legs they care about.
type MockProvider struct {
	mu        sync.Mutex
	distances map[string]float64
	routes    map[string]*RouteInfo
	calls     int
}

// NewMockProvider returns an empty mock.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		distances: make(map[string]float64),
		routes:    make(map[string]*RouteInfo),
	}
}

// SetDistance pins the road distance for the ordered pair a→b.
func (m *MockProvider) SetDistance(a, b models.Coordinate, meters float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distances[legKey(a, b)] = meters
}

// SetRoute pins the full route for the ordered pair a→b.
func (m *MockProvider) SetRoute(a, b models.Coordinate, info *RouteInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[legKey(a, b)] = info
	m.distances[legKey(a, b)] = info.DistanceMeters
}

// Calls returns how many provider lookups have been made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) DrivingDistance(ctx context.Context, a, b models.Coordinate) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if d, ok := m.distances[legKey(a, b)]; ok {
		return d, nil
	}
	return HaversineMeters(a, b), nil
}

func (m *MockProvider) DrivingRoute(ctx context.Context, a, b models.Coordinate) (*RouteInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if r, ok := m.routes[legKey(a, b)]; ok {
		return r, nil
	}
	d := HaversineMeters(a, b)
	if pinned, ok := m.distances[legKey(a, b)]; ok {
		d = pinned
	}
	return &RouteInfo{DistanceMeters: d, DurationSeconds: d / 8.33}, nil
}

func (m *MockProvider) BestRoute(ctx context.Context, a, b models.Coordinate, prefs RoutePreferences) (*RouteInfo, error) {
	return m.DrivingRoute(ctx, a, b)
}
