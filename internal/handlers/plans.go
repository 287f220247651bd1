package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kunjungan-backend/internal/database"
	"kunjungan-backend/internal/middleware"
	"kunjungan-backend/internal/models"
	"kunjungan-backend/internal/services"
	"kunjungan-backend/internal/services/routing"
	"kunjungan-backend/pkg/utils"
)

// CreatePlan handles POST /api/plans: validates the destinations, computes
// the optimized visiting order and stores the plan as DRAFT.
func CreatePlan(plans *database.PlanRepo, optimizer *routing.Optimizer, geocoder *services.GeocodingService, notifier *services.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req models.CreatePlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if len(req.Destinations) == 0 {
			utils.Error(w, http.StatusBadRequest, "At least one destination is required")
			return
		}
		if !validPoint(req.Start.Lat, req.Start.Lon) {
			utils.Error(w, http.StatusBadRequest, "Start coordinates out of range")
			return
		}
		for _, d := range req.Destinations {
			if !validPoint(d.Lat, d.Lon) {
				utils.Error(w, http.StatusBadRequest, "Destination coordinates out of range")
				return
			}
			if d.Name == "" {
				utils.Error(w, http.StatusBadRequest, "Every destination needs a name")
				return
			}
		}

		startName := req.Start.Name
		if startName == "" {
			startName = geocoder.BestEffortName(r.Context(), req.Start.Lat, req.Start.Lon)
		}

		locations := make([]models.Location, 0, len(req.Destinations)+1)
		locations = append(locations, models.Location{
			Name: startName, Lat: req.Start.Lat, Lon: req.Start.Lon, Role: models.RoleStart,
		})
		for _, d := range req.Destinations {
			locations = append(locations, models.Location{
				Name: d.Name, Lat: d.Lat, Lon: d.Lon, Role: models.RoleVisit,
			})
		}

		// Road distances first; if the whole optimization fails, recompute
		// over straight-line distances so plan creation never blocks on the
		// routing service.
		roadDistanceUsed := true
		route, err := optimizer.Optimize(r.Context(), locations, routing.OptimizeOptions{UseRoadDistance: true})
		if err != nil {
			var tooMany *routing.TooManyLocationsError
			switch {
			case errors.As(err, &tooMany):
				utils.Error(w, http.StatusBadRequest, tooMany.Error())
				return
			case errors.Is(err, routing.ErrMissingStart):
				utils.Error(w, http.StatusBadRequest, err.Error())
				return
			}

			log.Printf("⚠️ Road-distance optimization failed, retrying with straight-line distances: %v", err)
			roadDistanceUsed = false
			route, err = optimizer.Optimize(r.Context(), locations, routing.OptimizeOptions{})
			if err != nil {
				utils.Error(w, http.StatusInternalServerError, "Failed to optimize route")
				return
			}
		}

		visits := route.Visits()
		destinationsJSON, err := json.Marshal(locations[1:])
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "Failed to encode destinations")
			return
		}
		routeJSON, err := json.Marshal(visits)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "Failed to encode route")
			return
		}

		plan := &models.Plan{
			ID:                  uuid.New().String(),
			UserID:              claims.UserID,
			PlanDate:            time.Now().Format("2006-01-02"),
			StartName:           startName,
			StartLat:            req.Start.Lat,
			StartLon:            req.Start.Lon,
			DestinationsJSON:    destinationsJSON,
			OptimizedRouteJSON:  routeJSON,
			TotalDistanceMeters: route.TotalDistanceMeters,
			Status:              models.PlanStatusDraft,
		}
		if err := plans.Create(r.Context(), plan); err != nil {
			log.Printf("❌ Failed to create plan: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to create plan")
			return
		}

		log.Printf("✅ Plan %s created for %s: %d stop(s), %.1f km", plan.ID, claims.Email, len(visits), route.TotalDistanceMeters/1000)
		if notifier != nil {
			notifier.PlanAssigned(claims.UserID, plan.ID, len(visits))
		}

		utils.JSON(w, http.StatusCreated, models.CreatePlanResponse{
			PlanID:              plan.ID,
			PlanDate:            plan.PlanDate,
			Status:              plan.Status,
			OptimizedRoute:      visits,
			TotalDistanceMeters: route.TotalDistanceMeters,
			TotalDistanceKm:     route.TotalDistanceMeters / 1000,
			RoadDistanceUsed:    roadDistanceUsed,
			OneWayCompromised:   route.OneWayCompromised,
		})
	}
}

// TodayPlans handles GET /api/plans/today.
func TodayPlans(plans *database.PlanRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		today := time.Now().Format("2006-01-02")
		list, err := plans.PlansForDate(r.Context(), claims.UserID, today)
		if err != nil {
			log.Printf("❌ Failed to list plans: %v", err)
			utils.Error(w, http.StatusInternalServerError, "Failed to list plans")
			return
		}

		summaries := make([]models.PlanSummary, 0, len(list))
		for _, p := range list {
			route, err := p.OptimizedRoute()
			if err != nil {
				utils.Error(w, http.StatusInternalServerError, "Failed to decode plan")
				return
			}
			summaries = append(summaries, models.PlanSummary{
				ID:            p.ID,
				PlanDate:      p.PlanDate,
				LocationCount: len(route),
				Status:        p.Status,
				CreatedAt:     p.CreatedAt,
			})
		}

		utils.Success(w, map[string]interface{}{
			"date":  today,
			"plans": summaries,
		})
	}
}

// PlanDetail handles GET /api/plans/{planID}, owner-scoped, including the
// recorded visits so clients can show progress.
func PlanDetail(plans *database.PlanRepo, executions *database.ExecutionRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		planID := chi.URLParam(r, "planID")
		plan, err := plans.PlanByID(r.Context(), planID)
		if err != nil {
			log.Printf("❌ Failed to load plan %s: %v", planID, err)
			utils.Error(w, http.StatusInternalServerError, "Failed to load plan")
			return
		}
		if plan == nil || plan.UserID != claims.UserID {
			utils.Error(w, http.StatusNotFound, "Plan not found")
			return
		}

		route, err := plan.OptimizedRoute()
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "Failed to decode plan")
			return
		}
		visits, err := executions.ListByPlan(r.Context(), planID)
		if err != nil {
			log.Printf("❌ Failed to load visit executions for %s: %v", planID, err)
			utils.Error(w, http.StatusInternalServerError, "Failed to load visit executions")
			return
		}

		utils.Success(w, map[string]interface{}{
			"plan":            plan,
			"optimized_route": route,
			"executions":      visits,
		})
	}
}

func validPoint(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
