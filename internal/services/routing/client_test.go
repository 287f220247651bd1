package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kunjungan-backend/internal/models"
)

func testClient(baseURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
	}, NewOneWayFilter([]string{"satu arah"}))
}

func osrmOK(distance, duration float64) string {
	return fmt.Sprintf(`{"code":"Ok","routes":[{"distance":%f,"duration":%f,"legs":[]}]}`, distance, duration)
}

func TestDrivingDistanceReturnsRoadDistance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, osrmOK(4321, 600))
	}))
	defer server.Close()

	c := testClient(server.URL)
	got, err := c.DrivingDistance(context.Background(), models.Coordinate{Lat: -6.2, Lon: 106.8}, models.Coordinate{Lat: -6.3, Lon: 106.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 4321 {
		t.Fatalf("expected 4321m, got %f", got)
	}
}

func TestDrivingDistanceSamePointSkipsRequest(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, osrmOK(1, 1))
	}))
	defer server.Close()

	c := testClient(server.URL)
	p := models.Coordinate{Lat: -6.2, Lon: 106.8}
	got, err := c.DrivingDistance(context.Background(), p, models.Coordinate{Lat: p.Lat + 1e-7, Lon: p.Lon})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected 0 for effectively identical points, got %f", got)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatal("identical points must not hit the routing service")
	}
}

func TestDrivingDistanceFallsBackToGreatCircle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	a := models.Coordinate{Lat: -6.2, Lon: 106.8}
	b := models.Coordinate{Lat: -6.3, Lon: 106.9}

	c := testClient(server.URL)
	got, err := c.DrivingDistance(context.Background(), a, b)
	if err != nil {
		t.Fatalf("fallback must not surface an error, got %v", err)
	}
	if want := HaversineMeters(a, b); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected great-circle fallback %.0fm, got %.0fm", want, got)
	}
}

func TestDoWithRetryRetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, osrmOK(1000, 120))
	}))
	defer server.Close()

	c := testClient(server.URL)
	got, err := c.DrivingDistance(context.Background(), models.Coordinate{Lat: -6.2, Lon: 106.8}, models.Coordinate{Lat: -6.3, Lon: 106.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000 {
		t.Fatalf("expected 1000m after retries, got %f", got)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestNoRouteResponseNotRetried(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{"code":"NoRoute","routes":[]}`)
	}))
	defer server.Close()

	a := models.Coordinate{Lat: -6.2, Lon: 106.8}
	b := models.Coordinate{Lat: -6.3, Lon: 106.9}

	c := testClient(server.URL)
	got, err := c.DrivingDistance(context.Background(), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := HaversineMeters(a, b); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected great-circle fallback, got %f", got)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("well-formed no-route answer must not be retried, got %d attempts", n)
	}
}

func TestDrivingRouteFallbackEstimatesDuration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	a := models.Coordinate{Lat: -6.2, Lon: 106.8}
	b := models.Coordinate{Lat: -6.3, Lon: 106.9}

	c := NewClient(ClientConfig{
		BaseURL:           server.URL,
		RetryAttempts:     0,
		RetryBaseDelay:    time.Millisecond,
		ReferenceSpeedMPS: 2.0,
	}, nil)

	info, err := c.DrivingRoute(context.Background(), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.Estimated {
		t.Fatal("fallback route must be marked estimated")
	}
	if len(info.Steps) != 0 {
		t.Fatal("fallback route must carry no steps")
	}
	wantDuration := info.DistanceMeters / 2.0
	if math.Abs(info.DurationSeconds-wantDuration) > 1e-9 {
		t.Fatalf("expected duration %f at 2 m/s, got %f", wantDuration, info.DurationSeconds)
	}
}

func TestDrivingRouteCachesLegs(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, osrmOK(2500, 300))
	}))
	defer server.Close()

	a := models.Coordinate{Lat: -6.2, Lon: 106.8}
	b := models.Coordinate{Lat: -6.3, Lon: 106.9}

	c := testClient(server.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.DrivingRoute(context.Background(), a, b); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("repeated identical legs should be served from cache, got %d requests", n)
	}
}

func TestBestRouteFiltersOneWayAlternatives(t *testing.T) {
	body := `{"code":"Ok","routes":[
		{"distance":1000,"duration":100,"legs":[{"steps":[
			{"distance":500,"name":"Jl. Satu Arah","maneuver":{"type":"turn","modifier":"left","location":[106.8,-6.2]}}
		]}]},
		{"distance":1500,"duration":200,"legs":[{"steps":[
			{"distance":700,"name":"Jl. Merdeka","maneuver":{"type":"turn","modifier":"right","location":[106.8,-6.2]}}
		]}]}
	]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alternatives") != "true" {
			t.Errorf("BestRoute should request alternatives, got query %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	c := testClient(server.URL)
	info, err := c.BestRoute(context.Background(), models.Coordinate{Lat: -6.2, Lon: 106.8}, models.Coordinate{Lat: -6.3, Lon: 106.9}, RoutePreferences{AvoidOneWay: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.DistanceMeters != 1500 {
		t.Fatalf("expected the one-way-clean alternative (1500m), got %f", info.DistanceMeters)
	}
}

func TestBestRouteAllAlternativesFiltered(t *testing.T) {
	body := `{"code":"Ok","routes":[
		{"distance":1000,"duration":100,"legs":[{"steps":[
			{"distance":500,"name":"x","maneuver":{"type":"continue","modifier":"uturn","location":[106.8,-6.2]}}
		]}]}
	]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	c := testClient(server.URL)
	_, err := c.BestRoute(context.Background(), models.Coordinate{Lat: -6.2, Lon: 106.8}, models.Coordinate{Lat: -6.3, Lon: 106.9}, RoutePreferences{AvoidOneWay: true})
	if !errors.Is(err, ErrNoRouteMeetsPreference) {
		t.Fatalf("expected ErrNoRouteMeetsPreference, got %v", err)
	}
}

func TestBestRoutePrefersShortestWhenAsked(t *testing.T) {
	body := `{"code":"Ok","routes":[
		{"distance":2000,"duration":100,"legs":[]},
		{"distance":1200,"duration":300,"legs":[]}
	]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	c := testClient(server.URL)
	a := models.Coordinate{Lat: -6.2, Lon: 106.8}
	b := models.Coordinate{Lat: -6.3, Lon: 106.9}

	fastest, err := c.BestRoute(context.Background(), a, b, RoutePreferences{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fastest.DurationSeconds != 100 {
		t.Fatalf("default selection should minimize duration, got %f", fastest.DurationSeconds)
	}

	shortest, err := c.BestRoute(context.Background(), a, b, RoutePreferences{PreferShortest: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shortest.DistanceMeters != 1200 {
		t.Fatalf("PreferShortest should minimize distance, got %f", shortest.DistanceMeters)
	}
}

func TestDrivingDistanceContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := testClient(server.URL)
	_, err := c.DrivingDistance(ctx, models.Coordinate{Lat: -6.2, Lon: 106.8}, models.Coordinate{Lat: -6.3, Lon: 106.9})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cancellation must surface the context error, got %v", err)
	}
}
