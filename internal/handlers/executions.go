package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"kunjungan-backend/internal/middleware"
	"kunjungan-backend/internal/models"
	"kunjungan-backend/internal/session"
	"kunjungan-backend/internal/websocket"
	"kunjungan-backend/pkg/utils"
)

type selectPlanRequest struct {
	PlanID string `json:"plan_id"`
}

type selectStartRequest struct {
	Index int `json:"index"`
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type evidenceRequest struct {
	PhotoRef string  `json:"photo_ref"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// BeginExecution handles POST /api/executions/begin.
func BeginExecution(machine *session.Machine, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		prompt, err := machine.Begin(r.Context(), claims.UserID)
		if err != nil {
			writeMachineError(w, err)
			return
		}
		respondPrompt(w, hub, claims.UserID, prompt)
	}
}

// SelectExecutionPlan handles POST /api/executions/select-plan.
func SelectExecutionPlan(machine *session.Machine, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req selectPlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlanID == "" {
			utils.Error(w, http.StatusBadRequest, "plan_id is required")
			return
		}

		prompt, err := machine.SelectPlan(r.Context(), claims.UserID, req.PlanID)
		if err != nil {
			writeMachineError(w, err)
			return
		}
		respondPrompt(w, hub, claims.UserID, prompt)
	}
}

// SelectExecutionStart handles POST /api/executions/select-start.
func SelectExecutionStart(machine *session.Machine, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req selectStartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		prompt, err := machine.SelectStart(r.Context(), claims.UserID, req.Index)
		if err != nil {
			writeMachineError(w, err)
			return
		}
		respondPrompt(w, hub, claims.UserID, prompt)
	}
}

// SubmitExecutionLocation handles POST /api/executions/location.
func SubmitExecutionLocation(machine *session.Machine, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req locationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.Error(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if !validPoint(req.Lat, req.Lon) {
			utils.Error(w, http.StatusBadRequest, "Coordinates out of range")
			return
		}

		prompt, err := machine.SubmitLocation(r.Context(), claims.UserID, models.Coordinate{Lat: req.Lat, Lon: req.Lon})
		if err != nil {
			writeMachineError(w, err)
			return
		}
		if prompt == nil {
			// Position reports outside the geofence step are acknowledged but
			// change nothing.
			utils.Success(w, map[string]interface{}{"ignored": true})
			return
		}
		respondPrompt(w, hub, claims.UserID, prompt)
	}
}

// SubmitExecutionEvidence handles POST /api/executions/evidence.
func SubmitExecutionEvidence(machine *session.Machine, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req evidenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhotoRef == "" {
			utils.Error(w, http.StatusBadRequest, "photo_ref is required")
			return
		}
		if !validPoint(req.Lat, req.Lon) {
			utils.Error(w, http.StatusBadRequest, "Coordinates out of range")
			return
		}

		prompt, err := machine.SubmitEvidence(r.Context(), claims.UserID, req.PhotoRef, models.Coordinate{Lat: req.Lat, Lon: req.Lon})
		if err != nil {
			writeMachineError(w, err)
			return
		}
		respondPrompt(w, hub, claims.UserID, prompt)
	}
}

// CurrentExecution handles GET /api/executions/current.
func CurrentExecution(machine *session.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		exec, ok := machine.Current(claims.UserID)
		if !ok {
			utils.Error(w, http.StatusNotFound, "No active execution")
			return
		}
		utils.Success(w, exec)
	}
}

// respondPrompt writes the prompt into the HTTP response and mirrors it over
// the websocket so every open client stays in step.
func respondPrompt(w http.ResponseWriter, hub *websocket.Hub, userID string, prompt *session.Prompt) {
	if hub != nil && prompt != nil {
		hub.BroadcastToUser(userID, map[string]interface{}{
			"type": "execution_prompt",
			"data": prompt,
		})
	}
	utils.Success(w, prompt)
}

func writeMachineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrPlanNotFound):
		utils.Error(w, http.StatusNotFound, "Plan not found")
	case errors.Is(err, session.ErrPlanExpired):
		utils.Error(w, http.StatusGone, "Plan date has passed")
	case errors.Is(err, session.ErrNoActiveSession):
		utils.Error(w, http.StatusGone, "No active session, begin again")
	case errors.Is(err, session.ErrPlanAlreadyCompleted):
		utils.Error(w, http.StatusConflict, "Plan is already completed")
	case errors.Is(err, session.ErrNotExpectingEvidence):
		utils.Error(w, http.StatusConflict, "Not expecting photo evidence yet")
	case errors.Is(err, session.ErrVisitAlreadyRecorded):
		utils.Error(w, http.StatusConflict, "Visit already recorded for this stop")
	case errors.Is(err, session.ErrInvalidStartChoice):
		utils.Error(w, http.StatusBadRequest, "Start choice out of range")
	default:
		log.Printf("❌ Execution request failed: %v", err)
		utils.Error(w, http.StatusInternalServerError, "Internal server error")
	}
}
