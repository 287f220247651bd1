package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GeocodingService resolves coordinates to human-readable place names using a
// Nominatim-compatible endpoint. Lookups are best-effort: callers that only
// need a display name should use BestEffortName, which never fails.
type GeocodingService struct {
	baseURL string
	client  *http.Client
}

// Address is a reverse-geocoding result.
type Address struct {
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// NewGeocodingService creates a reverse-geocoding client against the given
// Nominatim base URL.
func NewGeocodingService(baseURL string, timeout time.Duration) *GeocodingService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GeocodingService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ReverseGeocode converts coordinates to an address.
func (s *GeocodingService) ReverseGeocode(ctx context.Context, lat, lon float64) (*Address, error) {
	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%f", lat))
	params.Set("lon", fmt.Sprintf("%f", lon))
	params.Set("format", "jsonv2")
	params.Set("zoom", "18")

	fullURL := fmt.Sprintf("%s/reverse?%s", s.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// Nominatim's usage policy requires an identifying User-Agent.
	req.Header.Set("User-Agent", "kunjungan-backend/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding API returned status code %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("geocoding API returned error: %s", result.Error)
	}
	if result.DisplayName == "" {
		return nil, fmt.Errorf("no results found")
	}

	return &Address{
		DisplayName: result.DisplayName,
		Lat:         lat,
		Lon:         lon,
	}, nil
}

// BestEffortName returns a display name for the coordinates, degrading to a
// plain "lat, lon" string when the lookup fails.
func (s *GeocodingService) BestEffortName(ctx context.Context, lat, lon float64) string {
	addr, err := s.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return fmt.Sprintf("%.5f, %.5f", lat, lon)
	}
	return addr.DisplayName
}
