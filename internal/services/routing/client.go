package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"kunjungan-backend/internal/models"
)

// maxCachedLegs bounds the in-process leg cache. One optimize call for 10
// locations needs at most 90 ordered pairs, so this is generous.
const maxCachedLegs = 4096

// ClientConfig carries the routing-client tunables.
type ClientConfig struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RetryAttempts     int // extra attempts after the first
	RetryBaseDelay    time.Duration
	ReferenceSpeedMPS float64 // used to estimate durations for fallback routes
}

// Client talks to an OSRM routing service. It retries transport failures
// with a linearly increasing backoff and degrades to great-circle results
// when the service stays unavailable, so callers never block on routing
// outages. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        ClientConfig
	oneWay     *OneWayFilter

	mu    sync.Mutex
	cache map[string]*RouteInfo
}

// NewClient creates an OSRM client. The one-way filter is used by BestRoute
// when the caller asks to avoid one-way violations.
func NewClient(cfg ClientConfig, oneWay *OneWayFilter) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.ReferenceSpeedMPS <= 0 {
		cfg.ReferenceSpeedMPS = 1.4
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		oneWay:     oneWay,
		cache:      make(map[string]*RouteInfo),
	}
}

type osrmManeuver struct {
	Type     string    `json:"type"`
	Modifier string    `json:"modifier"`
	Location []float64 `json:"location"` // [lon, lat]
}

type osrmStep struct {
	Distance float64      `json:"distance"`
	Name     string       `json:"name"`
	Maneuver osrmManeuver `json:"maneuver"`
}

type osrmLeg struct {
	Steps []osrmStep `json:"steps"`
}

type osrmRoute struct {
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Legs     []osrmLeg `json:"legs"`
}

type osrmRouteResponse struct {
	Code   string      `json:"code"`
	Routes []osrmRoute `json:"routes"`
}

// DrivingDistance returns the road distance in meters between two points.
// Routing failures are recovered locally: the great-circle distance is
// returned instead, and no error is surfaced.
func (c *Client) DrivingDistance(ctx context.Context, a, b models.Coordinate) (float64, error) {
	if samePoint(a, b) {
		return 0, nil
	}

	routes, err := c.fetchRoutes(ctx, a, b, false, false)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		log.Printf("[ROUTING] falling back to great-circle distance: %v", err)
		return HaversineMeters(a, b), nil
	}

	return routes[0].DistanceMeters, nil
}

// DrivingRoute returns distance, duration and turn-by-turn steps for the leg
// between two points. On routing failure it returns a straight-line
// pseudo-route with no steps and an estimated duration.
func (c *Client) DrivingRoute(ctx context.Context, a, b models.Coordinate) (*RouteInfo, error) {
	key := legKey(a, b)
	if cached := c.cachedRoute(key); cached != nil {
		return cached, nil
	}

	routes, err := c.fetchRoutes(ctx, a, b, true, false)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Printf("[ROUTING] falling back to straight-line route: %v", err)
		return c.fallbackRoute(a, b), nil
	}

	route := &routes[0]
	c.storeRoute(key, route)
	return route, nil
}

// BestRoute requests alternatives and selects one by the caller's
// preferences. With AvoidOneWay set, alternatives tripping the one-way
// filter are dropped first; if that removes every alternative the call fails
// with ErrNoRouteMeetsPreference and the caller should retry without the
// preference. Transport failure degrades to the straight-line pseudo-route.
func (c *Client) BestRoute(ctx context.Context, a, b models.Coordinate, prefs RoutePreferences) (*RouteInfo, error) {
	routes, err := c.fetchRoutes(ctx, a, b, true, true)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Printf("[ROUTING] falling back to straight-line route: %v", err)
		return c.fallbackRoute(a, b), nil
	}

	candidates := routes
	if prefs.AvoidOneWay && c.oneWay != nil {
		filtered := make([]RouteInfo, 0, len(routes))
		for _, r := range routes {
			if !c.oneWay.ViolatesOneWay(r.Steps) {
				filtered = append(filtered, r)
			}
		}
		if len(filtered) == 0 {
			return nil, ErrNoRouteMeetsPreference
		}
		candidates = filtered
	}

	best := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if prefs.PreferShortest {
			if candidates[i].DistanceMeters < best.DistanceMeters {
				best = &candidates[i]
			}
		} else if candidates[i].DurationSeconds < best.DurationSeconds {
			best = &candidates[i]
		}
	}
	return best, nil
}

func (c *Client) fetchRoutes(ctx context.Context, a, b models.Coordinate, steps, alternatives bool) ([]RouteInfo, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false", c.baseURL, a.Lon, a.Lat, b.Lon, b.Lat)
	if steps {
		url += "&steps=true"
	}
	if alternatives {
		url += "&alternatives=true"
	}

	resp, err := c.doWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded osrmRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode routing response: %w", err)
	}

	// A well-formed non-Ok answer means "no route", not a transient outage;
	// it is never retried.
	if decoded.Code != "Ok" || len(decoded.Routes) == 0 {
		return nil, fmt.Errorf("routing service returned code %q with %d routes", decoded.Code, len(decoded.Routes))
	}

	out := make([]RouteInfo, 0, len(decoded.Routes))
	for _, r := range decoded.Routes {
		out = append(out, convertRoute(r))
	}
	return out, nil
}

// doWithRetry issues the GET request, retrying transport-level failures
// (network errors, 429, 5xx) up to the configured attempt count with linearly
// increasing backoff. Well-formed error responses are not retried.
func (c *Client) doWithRetry(ctx context.Context, url string) (*http.Response, error) {
	attempts := 1 + c.cfg.RetryAttempts

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create routing request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			if resp.StatusCode < 400 {
				return resp, nil
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			err = &httpStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		lastErr = err

		if !isRetryable(err) || attempt == attempts {
			return nil, lastErr
		}

		backoff := time.Duration(attempt) * c.cfg.RetryBaseDelay
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}

func (c *Client) fallbackRoute(a, b models.Coordinate) *RouteInfo {
	distance := HaversineMeters(a, b)
	return &RouteInfo{
		DistanceMeters:  distance,
		DurationSeconds: distance / c.cfg.ReferenceSpeedMPS,
		Steps:           nil,
		Estimated:       true,
	}
}

func (c *Client) cachedRoute(key string) *RouteInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache[key]
}

func (c *Client) storeRoute(key string, route *RouteInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cache) >= maxCachedLegs {
		c.cache = make(map[string]*RouteInfo)
	}
	c.cache[key] = route
}

func convertRoute(r osrmRoute) RouteInfo {
	info := RouteInfo{
		DistanceMeters:  r.Distance,
		DurationSeconds: r.Duration,
	}
	for _, leg := range r.Legs {
		for _, s := range leg.Steps {
			step := RouteStep{
				ManeuverType:     s.Maneuver.Type,
				ManeuverModifier: s.Maneuver.Modifier,
				RoadName:         s.Name,
				DistanceMeters:   s.Distance,
			}
			if len(s.Maneuver.Location) == 2 {
				step.Location = models.Coordinate{Lat: s.Maneuver.Location[1], Lon: s.Maneuver.Location[0]}
			}
			info.Steps = append(info.Steps, step)
		}
	}
	return info
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("routing service HTTP %d: %s", e.Code, e.Body)
}

func isRetryable(err error) bool {
	var he *httpStatusError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	// Anything that never reached a well-formed response is transport-level.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return err != nil
}

// legKey builds a cache key from coordinates rounded to ~1m precision.
func legKey(a, b models.Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f|%.5f,%.5f", a.Lat, a.Lon, b.Lat, b.Lon)
}

func samePoint(a, b models.Coordinate) bool {
	round := func(v float64) float64 { return math.Round(v*100000) / 100000 }
	return round(a.Lat) == round(b.Lat) && round(a.Lon) == round(b.Lon)
}
