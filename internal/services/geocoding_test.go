package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReverseGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reverse" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("reverse geocoding requests must carry a User-Agent")
		}
		fmt.Fprint(w, `{"display_name":"Jl. Merdeka No. 1, Jakarta Pusat"}`)
	}))
	defer server.Close()

	s := NewGeocodingService(server.URL, time.Second)
	addr, err := s.ReverseGeocode(context.Background(), -6.2, 106.8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.DisplayName != "Jl. Merdeka No. 1, Jakarta Pusat" {
		t.Fatalf("unexpected display name %q", addr.DisplayName)
	}
}

func TestReverseGeocodeErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"Unable to geocode"}`)
	}))
	defer server.Close()

	s := NewGeocodingService(server.URL, time.Second)
	if _, err := s.ReverseGeocode(context.Background(), 0, 0); err == nil {
		t.Fatal("expected an error for an error body")
	}
}

func TestBestEffortNameFallsBackToCoordinates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := NewGeocodingService(server.URL, time.Second)
	got := s.BestEffortName(context.Background(), -6.20001, 106.80002)
	if got != "-6.20001, 106.80002" {
		t.Fatalf("expected coordinate fallback, got %q", got)
	}
}
