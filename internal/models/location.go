package models

// LocationRole marks what a location is for inside one optimization call.
type LocationRole string

const (
	RoleStart LocationRole = "start"
	RoleVisit LocationRole = "visit"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a named coordinate fed to the route optimizer. Immutable once
// constructed for a given optimization call.
type Location struct {
	Name string       `json:"name"`
	Lat  float64      `json:"lat"`
	Lon  float64      `json:"lon"`
	Role LocationRole `json:"role"`
}

// Coordinate returns the location's coordinate.
func (l Location) Coordinate() Coordinate {
	return Coordinate{Lat: l.Lat, Lon: l.Lon}
}

// Route is the optimizer's output: the start location followed by the visit
// locations in visiting order.
type Route struct {
	Locations           []Location `json:"locations"`
	TotalDistanceMeters float64    `json:"total_distance_meters"`
	// OneWayCompromised is set when every candidate ordering tripped the
	// one-way heuristic and the returned route is the best-effort minimum.
	OneWayCompromised bool `json:"one_way_compromised,omitempty"`
}

// Visits returns the route without its start element.
func (r *Route) Visits() []Location {
	if len(r.Locations) == 0 {
		return nil
	}
	return r.Locations[1:]
}
