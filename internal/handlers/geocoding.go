package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"kunjungan-backend/internal/services"
	"kunjungan-backend/pkg/utils"
)

// ReverseGeocodeRequest represents a request to reverse geocode coordinates
type ReverseGeocodeRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ReverseGeocode handles POST /api/geocoding/reverse
func ReverseGeocode(geocoder *services.GeocodingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReverseGeocodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if !validPoint(req.Lat, req.Lon) {
			utils.Error(w, http.StatusBadRequest, "Coordinates out of range")
			return
		}

		address, err := geocoder.ReverseGeocode(r.Context(), req.Lat, req.Lon)
		if err != nil {
			log.Printf("Reverse geocoding failed: %v", err)
			utils.Error(w, http.StatusBadGateway, "Failed to reverse geocode")
			return
		}
		utils.Success(w, address)
	}
}
