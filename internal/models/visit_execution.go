package models

// VisitExecution is the durable, append-only record of one completed stop.
// The set of recorded location indexes for a plan is the source of truth for
// which stops are done; sessions are rebuilt from it after a restart.
type VisitExecution struct {
	ID            string  `json:"id" db:"id"`
	PlanID        string  `json:"plan_id" db:"plan_id"`
	UserID        string  `json:"user_id" db:"user_id"`
	LocationIndex int     `json:"location_index" db:"location_index"` // index into Plan.OptimizedRoute
	ExecutedAt    int64   `json:"executed_at" db:"executed_at"`
	PhotoRef      string  `json:"photo_ref" db:"photo_ref"`
	CapturedLat   float64 `json:"captured_lat" db:"captured_lat"`
	CapturedLon   float64 `json:"captured_lon" db:"captured_lon"`
}
