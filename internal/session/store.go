package session

import (
	"log"
	"sync"
	"time"

	"kunjungan-backend/internal/models"
)

// Step names the state a visit-execution conversation is in.
type Step string

const (
	StepSelectingPlan    Step = "selecting_plan"
	StepSelectingStart   Step = "selecting_start"
	StepAwaitingGeofence Step = "awaiting_geofence"
	StepAwaitingEvidence Step = "awaiting_evidence"
)

// Visit is one remaining stop of an execution. OriginalIndex is the stop's
// position in the plan's stored optimized route, which is what
// visit_executions rows reference; it survives re-anchoring.
type Visit struct {
	OriginalIndex int             `json:"original_index"`
	Location      models.Location `json:"location"`
}

// Execution is the in-memory state of one user's visit-execution
// conversation. Durable progress lives in visit_executions rows; losing an
// Execution to a restart or TTL eviction only loses the conversational
// position, never recorded visits.
type Execution struct {
	PlanID          string              `json:"plan_id"`
	UserID          string              `json:"user_id"`
	Step            Step                `json:"step"`
	TotalStops      int                 `json:"total_stops"`
	Remaining       []Visit             `json:"remaining"`
	CurrentLocation models.Coordinate   `json:"current_location"`
	PendingArrival  *models.Coordinate  `json:"pending_arrival,omitempty"`
	Candidates      []models.PlanSummary `json:"candidates,omitempty"`
}

type storeEntry struct {
	exec      *Execution
	lastTouch time.Time
}

// Store holds executions keyed by user id with idle-TTL eviction. All reads
// and writes for one key are serialized through that key's mutex, so two
// concurrent events for the same user (an HTTP call racing a websocket
// location update) apply in some total order.
type Store struct {
	ttl           time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	sessions map[string]*storeEntry

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewStore creates a store and starts its background sweeper.
func NewStore(ttl, sweepInterval time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	s := &Store{
		ttl:           ttl,
		sweepInterval: sweepInterval,
		locks:         make(map[string]*sync.Mutex),
		sessions:      make(map[string]*storeEntry),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Stop halts the background sweeper. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// Do runs fn under the key's lock. fn receives the current execution (nil if
// none) and returns the state to keep: nil deletes the session, anything else
// replaces it and refreshes its TTL. When fn errors the stored state is left
// untouched.
func (s *Store) Do(key string, fn func(cur *Execution) (*Execution, error)) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	next, err := fn(s.get(key))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next == nil {
		delete(s.sessions, key)
		return nil
	}
	s.sessions[key] = &storeEntry{exec: next, lastTouch: time.Now()}
	return nil
}

// Peek returns a copy of the key's execution without refreshing its TTL.
func (s *Store) Peek(key string) (*Execution, bool) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	cur := s.get(key)
	if cur == nil {
		return nil, false
	}
	snapshot := *cur
	return &snapshot, true
}

// Delete removes the key's execution.
func (s *Store) Delete(key string) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
}

// get returns the live execution for key, dropping it first if its TTL has
// lapsed. Caller must hold the key's lock.
func (s *Store) get(key string) *Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[key]
	if !ok {
		return nil
	}
	if time.Since(entry.lastTouch) > s.ttl {
		delete(s.sessions, key)
		return nil
	}
	return entry.exec
}

// lockFor returns the per-key mutex, creating it on first use. Lock entries
// are kept for the store's lifetime; the population is bounded by the number
// of distinct users.
func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *Store) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts idle sessions. Each key is handled under its own lock so an
// eviction never interleaves with an in-flight update for the same user.
func (s *Store) sweep() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	evicted := 0
	for _, key := range keys {
		lock := s.lockFor(key)
		lock.Lock()
		s.mu.Lock()
		if entry, ok := s.sessions[key]; ok && time.Since(entry.lastTouch) > s.ttl {
			delete(s.sessions, key)
			evicted++
		}
		s.mu.Unlock()
		lock.Unlock()
	}

	if evicted > 0 {
		log.Printf("[SESSION] evicted %d idle session(s)", evicted)
	}
}
