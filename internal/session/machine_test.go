package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"kunjungan-backend/internal/models"
	"kunjungan-backend/internal/services/routing"
)

type fakePlans struct {
	mu    sync.Mutex
	plans map[string]*models.Plan
}

func newFakePlans(plans ...*models.Plan) *fakePlans {
	f := &fakePlans{plans: make(map[string]*models.Plan)}
	for _, p := range plans {
		f.plans[p.ID] = p
	}
	return f
}

func (f *fakePlans) PlansForDate(ctx context.Context, userID, date string) ([]models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Plan
	for _, p := range f.plans {
		if p.UserID == userID && p.PlanDate == date {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePlans) PlanByID(ctx context.Context, planID string) (*models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[planID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakePlans) UpdatePlanStatus(ctx context.Context, planID string, status models.PlanStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plans[planID]; ok {
		p.Status = status
	}
	return nil
}

func (f *fakePlans) status(planID string) models.PlanStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plans[planID].Status
}

type fakeExecutions struct {
	mu       sync.Mutex
	recorded map[string]map[int]bool
}

func newFakeExecutions() *fakeExecutions {
	return &fakeExecutions{recorded: make(map[string]map[int]bool)}
}

func (f *fakeExecutions) RecordedIndices(ctx context.Context, planID string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for idx := range f.recorded[planID] {
		out = append(out, idx)
	}
	return out, nil
}

func (f *fakeExecutions) Insert(ctx context.Context, exec *models.VisitExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded[exec.PlanID] == nil {
		f.recorded[exec.PlanID] = make(map[int]bool)
	}
	if f.recorded[exec.PlanID][exec.LocationIndex] {
		return ErrVisitAlreadyRecorded
	}
	f.recorded[exec.PlanID][exec.LocationIndex] = true
	return nil
}

func (f *fakeExecutions) record(planID string, indices ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded[planID] == nil {
		f.recorded[planID] = make(map[int]bool)
	}
	for _, idx := range indices {
		f.recorded[planID][idx] = true
	}
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []string
}

func (f *fakeNotifier) PlanCompleted(userID, planID string, totalVisits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, planID)
}

func (f *fakeNotifier) completions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.completed)
}

const testUser = "user-1"

// testPlan builds a plan for today with visit stops at (0,1), (0,2), (0,3)
// and the start at the origin.
func testPlan(t *testing.T, id string) *models.Plan {
	t.Helper()
	route := []models.Location{
		{Name: "Stop A", Lat: 0, Lon: 1, Role: models.RoleVisit},
		{Name: "Stop B", Lat: 0, Lon: 2, Role: models.RoleVisit},
		{Name: "Stop C", Lat: 0, Lon: 3, Role: models.RoleVisit},
	}
	raw, err := json.Marshal(route)
	if err != nil {
		t.Fatalf("marshal route: %v", err)
	}
	return &models.Plan{
		ID:                 id,
		UserID:             testUser,
		PlanDate:           time.Now().Format("2006-01-02"),
		StartName:          "Depot",
		StartLat:           0,
		StartLon:           0,
		DestinationsJSON:   raw,
		OptimizedRouteJSON: raw,
		Status:             models.PlanStatusDraft,
	}
}

func newTestMachine(plans *fakePlans, execs *fakeExecutions, notifier Notifier) (*Machine, *Store) {
	store := NewStore(time.Hour, time.Hour)
	provider := routing.NewMockProvider()
	filter := routing.NewOneWayFilter([]string{"satu arah"})
	optimizer := routing.NewOptimizer(provider, filter, 10, 2)
	return NewMachine(store, plans, execs, provider, optimizer, notifier, 100), store
}

// nearStop returns a coordinate ~40m from the given stop location.
func nearStop(loc models.Location) models.Coordinate {
	return models.Coordinate{Lat: loc.Lat + 40.0/111194.9, Lon: loc.Lon}
}

// farFromStop returns a coordinate ~400m from the given stop location.
func farFromStop(loc models.Location) models.Coordinate {
	return models.Coordinate{Lat: loc.Lat + 400.0/111194.9, Lon: loc.Lon}
}

func TestBeginNoPlans(t *testing.T) {
	m, store := newTestMachine(newFakePlans(), newFakeExecutions(), nil)
	defer store.Stop()

	prompt, err := m.Begin(context.Background(), testUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompt.Type != PromptNoPlans {
		t.Fatalf("expected %s prompt, got %s", PromptNoPlans, prompt.Type)
	}
	if _, ok := store.Peek(testUser); ok {
		t.Fatal("no session should exist when there is nothing to execute")
	}
}

func TestBeginSkipsCompletedPlans(t *testing.T) {
	open := testPlan(t, "plan-open")
	done := testPlan(t, "plan-done")
	done.Status = models.PlanStatusCompleted

	m, store := newTestMachine(newFakePlans(open, done), newFakeExecutions(), nil)
	defer store.Stop()

	prompt, err := m.Begin(context.Background(), testUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompt.Type != PromptPlanList {
		t.Fatalf("expected %s prompt, got %s", PromptPlanList, prompt.Type)
	}
	if len(prompt.Plans) != 1 || prompt.Plans[0].ID != "plan-open" {
		t.Fatalf("expected only the open plan, got %+v", prompt.Plans)
	}
}

func TestSelectPlanWithoutBegin(t *testing.T) {
	m, store := newTestMachine(newFakePlans(testPlan(t, "p1")), newFakeExecutions(), nil)
	defer store.Stop()

	if _, err := m.SelectPlan(context.Background(), testUser, "p1"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestSelectPlanExpired(t *testing.T) {
	stale := testPlan(t, "p1")
	stale.PlanDate = "2020-01-01"

	m, store := newTestMachine(newFakePlans(stale), newFakeExecutions(), nil)
	defer store.Stop()

	// Seed a selecting_plan session directly; Begin would filter by today's
	// date and never offer the stale plan.
	_ = store.Do(testUser, func(*Execution) (*Execution, error) {
		return &Execution{UserID: testUser, Step: StepSelectingPlan}, nil
	})

	if _, err := m.SelectPlan(context.Background(), testUser, "p1"); !errors.Is(err, ErrPlanExpired) {
		t.Fatalf("expected ErrPlanExpired, got %v", err)
	}
}

func TestSelectPlanOtherUsersPlan(t *testing.T) {
	other := testPlan(t, "p1")
	other.UserID = "someone-else"

	m, store := newTestMachine(newFakePlans(other), newFakeExecutions(), nil)
	defer store.Stop()

	_ = store.Do(testUser, func(*Execution) (*Execution, error) {
		return &Execution{UserID: testUser, Step: StepSelectingPlan}, nil
	})

	if _, err := m.SelectPlan(context.Background(), testUser, "p1"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
}

func TestSelectPlanAllStopsRecorded(t *testing.T) {
	plans := newFakePlans(testPlan(t, "p1"))
	execs := newFakeExecutions()
	execs.record("p1", 0, 1, 2)

	m, store := newTestMachine(plans, execs, nil)
	defer store.Stop()

	if _, err := m.Begin(context.Background(), testUser); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := m.SelectPlan(context.Background(), testUser, "p1"); !errors.Is(err, ErrPlanAlreadyCompleted) {
		t.Fatalf("expected ErrPlanAlreadyCompleted, got %v", err)
	}
	if got := plans.status("p1"); got != models.PlanStatusCompleted {
		t.Fatalf("fully recorded plan should be marked COMPLETED, got %s", got)
	}
	if _, ok := store.Peek(testUser); ok {
		t.Fatal("session should be dropped for a completed plan")
	}
}

func TestSelectPlanResumesFromRecordedVisits(t *testing.T) {
	plans := newFakePlans(testPlan(t, "p1"))
	execs := newFakeExecutions()
	execs.record("p1", 0)

	m, store := newTestMachine(plans, execs, nil)
	defer store.Stop()

	if _, err := m.Begin(context.Background(), testUser); err != nil {
		t.Fatalf("begin: %v", err)
	}
	prompt, err := m.SelectPlan(context.Background(), testUser, "p1")
	if err != nil {
		t.Fatalf("select plan: %v", err)
	}
	if len(prompt.Options) != 2 {
		t.Fatalf("expected 2 remaining stops, got %d", len(prompt.Options))
	}

	exec, ok := store.Peek(testUser)
	if !ok {
		t.Fatal("expected a live session")
	}
	if exec.Remaining[0].OriginalIndex != 1 || exec.Remaining[1].OriginalIndex != 2 {
		t.Fatalf("remaining must keep original route indices, got %+v", exec.Remaining)
	}
}

func TestHappyPathToCompletion(t *testing.T) {
	plans := newFakePlans(testPlan(t, "p1"))
	execs := newFakeExecutions()
	notifier := &fakeNotifier{}

	m, store := newTestMachine(plans, execs, notifier)
	defer store.Stop()

	ctx := context.Background()
	if _, err := m.Begin(ctx, testUser); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := m.SelectPlan(ctx, testUser, "p1"); err != nil {
		t.Fatalf("select plan: %v", err)
	}

	prompt, err := m.SelectStart(ctx, testUser, 0)
	if err != nil {
		t.Fatalf("select start: %v", err)
	}
	if prompt.Type != PromptGuidance || prompt.Guidance == nil {
		t.Fatalf("expected guidance prompt, got %+v", prompt)
	}
	if got := plans.status("p1"); got != models.PlanStatusActive {
		t.Fatalf("plan should be ACTIVE once execution starts, got %s", got)
	}

	stops := []models.Location{
		{Name: "Stop A", Lat: 0, Lon: 1},
		{Name: "Stop B", Lat: 0, Lon: 2},
		{Name: "Stop C", Lat: 0, Lon: 3},
	}
	for i, stop := range stops {
		// Outside the geofence first: rejected, state unchanged.
		prompt, err = m.SubmitLocation(ctx, testUser, farFromStop(stop))
		if err != nil {
			t.Fatalf("stop %d far location: %v", i, err)
		}
		if prompt.Type != PromptGeofenceRejected {
			t.Fatalf("stop %d: expected geofence rejection, got %s", i, prompt.Type)
		}

		prompt, err = m.SubmitLocation(ctx, testUser, nearStop(stop))
		if err != nil {
			t.Fatalf("stop %d near location: %v", i, err)
		}
		if prompt.Type != PromptArrival {
			t.Fatalf("stop %d: expected arrival prompt, got %s", i, prompt.Type)
		}

		prompt, err = m.SubmitEvidence(ctx, testUser, "photo-"+stop.Name, nearStop(stop))
		if err != nil {
			t.Fatalf("stop %d evidence: %v", i, err)
		}
	}

	if prompt.Type != PromptCompleted {
		t.Fatalf("expected completion prompt after the last stop, got %s", prompt.Type)
	}
	if got := plans.status("p1"); got != models.PlanStatusCompleted {
		t.Fatalf("plan should be COMPLETED, got %s", got)
	}
	if notifier.completions() != 1 {
		t.Fatalf("expected one completion notification, got %d", notifier.completions())
	}
	if _, ok := store.Peek(testUser); ok {
		t.Fatal("session should be deleted after completion")
	}

	recorded, _ := execs.RecordedIndices(ctx, "p1")
	if len(recorded) != 3 {
		t.Fatalf("expected 3 recorded visits, got %d", len(recorded))
	}
}

func TestSubmitEvidenceBeforeArrival(t *testing.T) {
	plans := newFakePlans(testPlan(t, "p1"))
	m, store := newTestMachine(plans, newFakeExecutions(), nil)
	defer store.Stop()

	ctx := context.Background()
	_, _ = m.Begin(ctx, testUser)
	_, _ = m.SelectPlan(ctx, testUser, "p1")
	if _, err := m.SelectStart(ctx, testUser, 0); err != nil {
		t.Fatalf("select start: %v", err)
	}

	_, err := m.SubmitEvidence(ctx, testUser, "photo", models.Coordinate{Lat: 0, Lon: 1})
	if !errors.Is(err, ErrNotExpectingEvidence) {
		t.Fatalf("expected ErrNotExpectingEvidence, got %v", err)
	}
}

func TestSubmitLocationWithoutSession(t *testing.T) {
	m, store := newTestMachine(newFakePlans(), newFakeExecutions(), nil)
	defer store.Stop()

	_, err := m.SubmitLocation(context.Background(), testUser, models.Coordinate{})
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestSubmitEvidenceDuplicateVisit(t *testing.T) {
	plans := newFakePlans(testPlan(t, "p1"))
	execs := newFakeExecutions()
	m, store := newTestMachine(plans, execs, nil)
	defer store.Stop()

	ctx := context.Background()
	_, _ = m.Begin(ctx, testUser)
	_, _ = m.SelectPlan(ctx, testUser, "p1")
	_, _ = m.SelectStart(ctx, testUser, 0)

	stop := models.Location{Name: "Stop A", Lat: 0, Lon: 1}
	if _, err := m.SubmitLocation(ctx, testUser, nearStop(stop)); err != nil {
		t.Fatalf("location: %v", err)
	}

	// Another client already recorded this stop out of band.
	execs.record("p1", 0)

	_, err := m.SubmitEvidence(ctx, testUser, "photo", nearStop(stop))
	if !errors.Is(err, ErrVisitAlreadyRecorded) {
		t.Fatalf("expected ErrVisitAlreadyRecorded, got %v", err)
	}

	exec, ok := store.Peek(testUser)
	if !ok || exec.Step != StepAwaitingEvidence {
		t.Fatalf("failed evidence must not advance the session, got %+v (ok=%v)", exec, ok)
	}
}

func TestSelectStartReanchorsRoute(t *testing.T) {
	plans := newFakePlans(testPlan(t, "p1"))
	m, store := newTestMachine(plans, newFakeExecutions(), nil)
	defer store.Stop()

	ctx := context.Background()
	_, _ = m.Begin(ctx, testUser)
	_, _ = m.SelectPlan(ctx, testUser, "p1")

	// Visit Stop C (index 2 in the session's remaining list) first.
	if _, err := m.SelectStart(ctx, testUser, 2); err != nil {
		t.Fatalf("select start: %v", err)
	}

	exec, ok := store.Peek(testUser)
	if !ok {
		t.Fatal("expected a live session")
	}
	if exec.Remaining[0].Location.Name != "Stop C" {
		t.Fatalf("chosen stop must lead, got %s", exec.Remaining[0].Location.Name)
	}
	if exec.Remaining[0].OriginalIndex != 2 {
		t.Fatalf("re-anchoring must preserve original indices, got %d", exec.Remaining[0].OriginalIndex)
	}
	if exec.Step != StepAwaitingGeofence {
		t.Fatalf("expected awaiting_geofence, got %s", exec.Step)
	}
}

func TestSelectStartInvalidIndex(t *testing.T) {
	plans := newFakePlans(testPlan(t, "p1"))
	m, store := newTestMachine(plans, newFakeExecutions(), nil)
	defer store.Stop()

	ctx := context.Background()
	_, _ = m.Begin(ctx, testUser)
	_, _ = m.SelectPlan(ctx, testUser, "p1")

	if _, err := m.SelectStart(ctx, testUser, 7); !errors.Is(err, ErrInvalidStartChoice) {
		t.Fatalf("expected ErrInvalidStartChoice, got %v", err)
	}
}

func TestSubmitLocationIgnoredWhileSelecting(t *testing.T) {
	plans := newFakePlans(testPlan(t, "p1"))
	m, store := newTestMachine(plans, newFakeExecutions(), nil)
	defer store.Stop()

	ctx := context.Background()
	_, _ = m.Begin(ctx, testUser)

	prompt, err := m.SubmitLocation(ctx, testUser, models.Coordinate{Lat: 0, Lon: 1})
	if err != nil {
		t.Fatalf("location updates during selection must be ignored, got %v", err)
	}
	if prompt != nil {
		t.Fatalf("expected no prompt for an ignored update, got %+v", prompt)
	}
}
