package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"kunjungan-backend/internal/models"
	"kunjungan-backend/internal/services/routing"
)

var (
	// ErrNoActiveSession is returned when an event arrives for a user with no
	// live execution, or one in a step that cannot accept the event.
	ErrNoActiveSession = errors.New("no active visit execution session")
	// ErrPlanExpired is returned when the selected plan's date is in the past.
	ErrPlanExpired = errors.New("plan date has passed")
	// ErrPlanAlreadyCompleted is returned when every stop of the selected plan
	// is already recorded.
	ErrPlanAlreadyCompleted = errors.New("plan is already completed")
	// ErrNotExpectingEvidence is returned when photo evidence arrives before
	// the geofence check has passed.
	ErrNotExpectingEvidence = errors.New("not expecting photo evidence")
	// ErrVisitAlreadyRecorded is returned when evidence for a stop that
	// already has a visit_executions row is submitted.
	ErrVisitAlreadyRecorded = errors.New("visit already recorded for this stop")
	// ErrInvalidStartChoice is returned when the start index is out of range.
	ErrInvalidStartChoice = errors.New("start choice out of range")
	// ErrPlanNotFound is returned when the selected plan does not exist or
	// belongs to another user.
	ErrPlanNotFound = errors.New("plan not found")
)

// Prompt types pushed to the client after each event.
const (
	PromptPlanList         = "plan_list"
	PromptNoPlans          = "no_plans"
	PromptStartOptions     = "start_options"
	PromptGuidance         = "route_guidance"
	PromptGeofenceRejected = "geofence_rejected"
	PromptArrival          = "arrival"
	PromptCompleted        = "plan_completed"
)

// Guidance is driving guidance toward the next stop.
type Guidance struct {
	To              string   `json:"to"`
	DistanceMeters  float64  `json:"distance_meters"`
	DurationSeconds float64  `json:"duration_seconds"`
	Instructions    []string `json:"instructions"`
	// Estimated is set when the routing service was unavailable and the
	// distance/duration are straight-line estimates.
	Estimated bool `json:"estimated,omitempty"`
}

// StartOption is one choice offered during start selection.
type StartOption struct {
	Index    int             `json:"index"`
	Location models.Location `json:"location"`
}

// Prompt is the machine's reply to one event. Handlers write it into the
// HTTP response and push it to the user over the websocket hub.
type Prompt struct {
	Type     string               `json:"type"`
	Text     string               `json:"text"`
	Step     Step                 `json:"step,omitempty"`
	Plans    []models.PlanSummary `json:"plans,omitempty"`
	Options  []StartOption        `json:"options,omitempty"`
	Guidance *Guidance            `json:"guidance,omitempty"`
	// DistanceMeters carries the measured distance on geofence rejections.
	DistanceMeters float64 `json:"distance_meters,omitempty"`
}

// PlanRepository is the plan persistence the machine needs.
type PlanRepository interface {
	PlansForDate(ctx context.Context, userID, date string) ([]models.Plan, error)
	PlanByID(ctx context.Context, planID string) (*models.Plan, error)
	UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error
}

// ExecutionRepository persists recorded visits. Insert must return
// ErrVisitAlreadyRecorded (possibly wrapped) when the (plan, stop) pair
// already has a row.
type ExecutionRepository interface {
	RecordedIndices(ctx context.Context, planID string) ([]int, error)
	Insert(ctx context.Context, exec *models.VisitExecution) error
}

// Notifier delivers best-effort push notifications. Implementations must not
// block on delivery failures.
type Notifier interface {
	PlanCompleted(userID, planID string, totalVisits int)
}

// Machine drives the visit-execution conversation: plan selection, start
// selection, geofence checks and photo evidence, one user at a time via the
// store's per-key locking.
type Machine struct {
	store          *Store
	plans          PlanRepository
	executions     ExecutionRepository
	provider       routing.Provider
	optimizer      *routing.Optimizer
	notifier       Notifier
	geofenceRadius float64

	now func() time.Time
}

// NewMachine wires a machine. notifier may be nil.
func NewMachine(store *Store, plans PlanRepository, executions ExecutionRepository, provider routing.Provider, optimizer *routing.Optimizer, notifier Notifier, geofenceRadius float64) *Machine {
	if geofenceRadius <= 0 {
		geofenceRadius = 100
	}
	return &Machine{
		store:          store,
		plans:          plans,
		executions:     executions,
		provider:       provider,
		optimizer:      optimizer,
		notifier:       notifier,
		geofenceRadius: geofenceRadius,
		now:            time.Now,
	}
}

// Begin starts (or restarts) the conversation by listing today's plans that
// still have work left.
func (m *Machine) Begin(ctx context.Context, userID string) (*Prompt, error) {
	today := m.now().Format("2006-01-02")
	plans, err := m.plans.PlansForDate(ctx, userID, today)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}

	summaries := make([]models.PlanSummary, 0, len(plans))
	for _, p := range plans {
		if p.Status == models.PlanStatusCompleted {
			continue
		}
		route, err := p.OptimizedRoute()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, models.PlanSummary{
			ID:            p.ID,
			PlanDate:      p.PlanDate,
			LocationCount: len(route),
			Status:        p.Status,
			CreatedAt:     p.CreatedAt,
		})
	}

	if len(summaries) == 0 {
		// Nothing to execute; drop any stale session.
		m.store.Delete(userID)
		return &Prompt{
			Type: PromptNoPlans,
			Text: "No visit plans for today. Create a plan first.",
		}, nil
	}

	var prompt *Prompt
	err = m.store.Do(userID, func(*Execution) (*Execution, error) {
		prompt = &Prompt{
			Type:  PromptPlanList,
			Text:  fmt.Sprintf("You have %d plan(s) for today. Select one to start.", len(summaries)),
			Step:  StepSelectingPlan,
			Plans: summaries,
		}
		return &Execution{
			UserID:     userID,
			Step:       StepSelectingPlan,
			Candidates: summaries,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return prompt, nil
}

// SelectPlan loads the chosen plan, derives the remaining stops from recorded
// visits and moves to start selection.
func (m *Machine) SelectPlan(ctx context.Context, userID, planID string) (*Prompt, error) {
	var prompt *Prompt
	err := m.store.Do(userID, func(cur *Execution) (*Execution, error) {
		if cur == nil || cur.Step != StepSelectingPlan {
			return cur, ErrNoActiveSession
		}

		plan, err := m.plans.PlanByID(ctx, planID)
		if err != nil {
			return cur, fmt.Errorf("load plan: %w", err)
		}
		if plan == nil || plan.UserID != userID {
			return cur, ErrPlanNotFound
		}
		if plan.PlanDate < m.now().Format("2006-01-02") {
			return cur, ErrPlanExpired
		}

		route, err := plan.OptimizedRoute()
		if err != nil {
			return cur, err
		}
		recorded, err := m.executions.RecordedIndices(ctx, plan.ID)
		if err != nil {
			return cur, fmt.Errorf("load recorded visits: %w", err)
		}

		done := make(map[int]bool, len(recorded))
		for _, idx := range recorded {
			done[idx] = true
		}
		remaining := make([]Visit, 0, len(route))
		for i, loc := range route {
			if !done[i] {
				remaining = append(remaining, Visit{OriginalIndex: i, Location: loc})
			}
		}

		if len(remaining) == 0 {
			if plan.Status != models.PlanStatusCompleted {
				if err := m.plans.UpdatePlanStatus(ctx, plan.ID, models.PlanStatusCompleted); err != nil {
					log.Printf("[SESSION] failed to mark plan %s completed: %v", plan.ID, err)
				}
			}
			// Session is useless now, drop it.
			return nil, ErrPlanAlreadyCompleted
		}

		options := make([]StartOption, 0, len(remaining))
		for i, v := range remaining {
			options = append(options, StartOption{Index: i, Location: v.Location})
		}

		prompt = &Prompt{
			Type:    PromptStartOptions,
			Text:    fmt.Sprintf("%d stop(s) remaining. Pick the stop to visit first (0 keeps the planned order).", len(remaining)),
			Step:    StepSelectingStart,
			Options: options,
		}
		return &Execution{
			PlanID:          plan.ID,
			UserID:          userID,
			Step:            StepSelectingStart,
			TotalStops:      len(route),
			Remaining:       remaining,
			CurrentLocation: plan.StartLocation().Coordinate(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return prompt, nil
}

// SelectStart fixes the first stop. Choosing any stop other than the first
// re-anchors the route: the chosen stop leads and the rest are re-optimized
// around it, preferring orderings that avoid one-way violations.
func (m *Machine) SelectStart(ctx context.Context, userID string, index int) (*Prompt, error) {
	var prompt *Prompt
	err := m.store.Do(userID, func(cur *Execution) (*Execution, error) {
		if cur == nil || cur.Step != StepSelectingStart {
			return cur, ErrNoActiveSession
		}
		if index < 0 || index >= len(cur.Remaining) {
			return cur, ErrInvalidStartChoice
		}

		remaining := cur.Remaining
		if index > 0 {
			reordered, err := m.reanchor(ctx, cur.Remaining, index)
			if err != nil {
				return cur, err
			}
			remaining = reordered
		}

		if err := m.plans.UpdatePlanStatus(ctx, cur.PlanID, models.PlanStatusActive); err != nil {
			log.Printf("[SESSION] failed to mark plan %s active: %v", cur.PlanID, err)
		}

		next := *cur
		next.Remaining = remaining
		next.Step = StepAwaitingGeofence
		next.PendingArrival = nil

		guidance := m.guidance(ctx, next.CurrentLocation, remaining[0].Location)
		prompt = &Prompt{
			Type:     PromptGuidance,
			Text:     fmt.Sprintf("Head to %s. Send your location when you arrive.", remaining[0].Location.Name),
			Step:     StepAwaitingGeofence,
			Guidance: guidance,
		}
		return &next, nil
	})
	if err != nil {
		return nil, err
	}
	return prompt, nil
}

// SubmitLocation checks a position report against the current stop's
// geofence. Reports arriving outside the awaiting_geofence step are ignored
// (nil prompt, nil error) so websocket location streams stay cheap.
func (m *Machine) SubmitLocation(ctx context.Context, userID string, coord models.Coordinate) (*Prompt, error) {
	var prompt *Prompt
	err := m.store.Do(userID, func(cur *Execution) (*Execution, error) {
		if cur == nil {
			return cur, ErrNoActiveSession
		}
		if cur.Step != StepAwaitingGeofence {
			return cur, nil
		}

		target := cur.Remaining[0]
		distance := routing.HaversineMeters(coord, target.Location.Coordinate())
		if distance > m.geofenceRadius {
			prompt = &Prompt{
				Type:           PromptGeofenceRejected,
				Text:           fmt.Sprintf("You are %.0fm from %s; get within %.0fm and send your location again.", distance, target.Location.Name, m.geofenceRadius),
				Step:           StepAwaitingGeofence,
				DistanceMeters: distance,
			}
			return cur, nil
		}

		next := *cur
		arrival := coord
		next.PendingArrival = &arrival
		next.Step = StepAwaitingEvidence

		prompt = &Prompt{
			Type: PromptArrival,
			Text: fmt.Sprintf("Arrived at %s. Send a photo to record the visit.", target.Location.Name),
			Step: StepAwaitingEvidence,
		}
		return &next, nil
	})
	if err != nil {
		return nil, err
	}
	return prompt, nil
}

// SubmitEvidence records the visit for the current stop and advances to the
// next one, or completes the plan when it was the last.
func (m *Machine) SubmitEvidence(ctx context.Context, userID, photoRef string, coord models.Coordinate) (*Prompt, error) {
	var prompt *Prompt
	err := m.store.Do(userID, func(cur *Execution) (*Execution, error) {
		if cur == nil {
			return cur, ErrNoActiveSession
		}
		if cur.Step != StepAwaitingEvidence {
			return cur, ErrNotExpectingEvidence
		}

		target := cur.Remaining[0]
		record := &models.VisitExecution{
			ID:            uuid.New().String(),
			PlanID:        cur.PlanID,
			UserID:        userID,
			LocationIndex: target.OriginalIndex,
			ExecutedAt:    m.now().Unix(),
			PhotoRef:      photoRef,
			CapturedLat:   coord.Lat,
			CapturedLon:   coord.Lon,
		}
		if err := m.executions.Insert(ctx, record); err != nil {
			return cur, err
		}

		next := *cur
		next.Remaining = cur.Remaining[1:]
		next.CurrentLocation = target.Location.Coordinate()
		next.PendingArrival = nil

		if len(next.Remaining) == 0 {
			if err := m.plans.UpdatePlanStatus(ctx, cur.PlanID, models.PlanStatusCompleted); err != nil {
				log.Printf("[SESSION] failed to mark plan %s completed: %v", cur.PlanID, err)
			}
			if m.notifier != nil {
				m.notifier.PlanCompleted(userID, cur.PlanID, cur.TotalStops)
			}
			prompt = &Prompt{
				Type: PromptCompleted,
				Text: fmt.Sprintf("Visit at %s recorded. That was the last stop, the plan is complete!", target.Location.Name),
			}
			return nil, nil
		}

		next.Step = StepAwaitingGeofence
		guidance := m.guidance(ctx, next.CurrentLocation, next.Remaining[0].Location)
		prompt = &Prompt{
			Type:     PromptGuidance,
			Text:     fmt.Sprintf("Visit at %s recorded. Next stop: %s. Send your location when you arrive.", target.Location.Name, next.Remaining[0].Location.Name),
			Step:     StepAwaitingGeofence,
			Guidance: guidance,
		}
		return &next, nil
	})
	if err != nil {
		return nil, err
	}
	return prompt, nil
}

// Current returns a snapshot of the user's execution, if any.
func (m *Machine) Current(userID string) (*Execution, bool) {
	return m.store.Peek(userID)
}

// reanchor puts the chosen stop first and re-optimizes the remaining stops
// around it. Optimization degrades stepwise: road distance avoiding one-way
// violations, then road distance alone, then straight-line order.
func (m *Machine) reanchor(ctx context.Context, remaining []Visit, chosen int) ([]Visit, error) {
	locations := make([]models.Location, 0, len(remaining))
	anchor := remaining[chosen].Location
	anchor.Role = models.RoleStart
	locations = append(locations, anchor)
	for i, v := range remaining {
		if i == chosen {
			continue
		}
		loc := v.Location
		loc.Role = models.RoleVisit
		locations = append(locations, loc)
	}

	attempts := []routing.OptimizeOptions{
		{UseRoadDistance: true, AvoidOneWay: true},
		{UseRoadDistance: true},
		{},
	}
	var route *models.Route
	var err error
	for _, opts := range attempts {
		route, err = m.optimizer.Optimize(ctx, locations, opts)
		if err == nil {
			break
		}
		log.Printf("[SESSION] re-optimization failed (road=%v oneway=%v): %v", opts.UseRoadDistance, opts.AvoidOneWay, err)
	}
	if err != nil {
		return nil, fmt.Errorf("re-optimize remaining stops: %w", err)
	}

	return matchVisits(route.Locations, remaining)
}

// matchVisits maps the optimizer's location order back onto the Visit values
// so OriginalIndex survives reordering. Stops with identical name and
// coordinates are claimed in order.
func matchVisits(ordered []models.Location, pool []Visit) ([]Visit, error) {
	claimed := make([]bool, len(pool))
	out := make([]Visit, 0, len(ordered))
	for _, loc := range ordered {
		found := false
		for i, v := range pool {
			if claimed[i] {
				continue
			}
			if v.Location.Name == loc.Name && v.Location.Lat == loc.Lat && v.Location.Lon == loc.Lon {
				claimed[i] = true
				out = append(out, v)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("re-optimized route contains unknown stop %q", loc.Name)
		}
	}
	return out, nil
}

// guidance builds driving guidance to the next stop, preferring routes that
// avoid one-way violations and retrying without the preference when none
// qualify. Never fails: routing outages already degrade inside the provider.
func (m *Machine) guidance(ctx context.Context, from models.Coordinate, to models.Location) *Guidance {
	info, err := m.provider.BestRoute(ctx, from, to.Coordinate(), routing.RoutePreferences{AvoidOneWay: true})
	if errors.Is(err, routing.ErrNoRouteMeetsPreference) {
		info, err = m.provider.BestRoute(ctx, from, to.Coordinate(), routing.RoutePreferences{})
	}
	if err != nil || info == nil {
		log.Printf("[SESSION] guidance unavailable for %s: %v", to.Name, err)
		return nil
	}
	return &Guidance{
		To:              to.Name,
		DistanceMeters:  info.DistanceMeters,
		DurationSeconds: info.DurationSeconds,
		Instructions:    routing.Instructions(info.Steps),
		Estimated:       info.Estimated,
	}
}
