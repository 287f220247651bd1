package routing

import "strings"

// Maneuver types that, combined with a one-way road name, suggest the route
// enters the road from a direction-sensitive junction.
var oneWayManeuvers = map[string]bool{
	"turn":       true,
	"sharp turn": true,
	"merge":      true,
	"on ramp":    true,
	"off ramp":   true,
	"roundabout": true,
}

// OneWayFilter flags route step sequences that likely traverse a road
// against its legal direction.
//
// This is a keyword- and maneuver-type heuristic, not a ground-truth
// directionality check: it produces false positives (legally entering a road
// whose name mentions one-way) and false negatives (one-way roads without
// the keyword in their name).
type OneWayFilter struct {
	keywords []string
}

// NewOneWayFilter builds a filter for the given localized road-name keywords
// (e.g. "satu arah", "one way").
func NewOneWayFilter(keywords []string) *OneWayFilter {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			lowered = append(lowered, k)
		}
	}
	return &OneWayFilter{keywords: lowered}
}

// ViolatesOneWay reports whether any step in the sequence trips the
// heuristic: a u-turn maneuver always does; a road name containing a one-way
// keyword does when the maneuver is a turn, merge, ramp or roundabout.
func (f *OneWayFilter) ViolatesOneWay(steps []RouteStep) bool {
	for _, step := range steps {
		if strings.Contains(strings.ToLower(step.ManeuverModifier), "uturn") {
			return true
		}

		if !oneWayManeuvers[step.ManeuverType] {
			continue
		}

		road := strings.ToLower(step.RoadName)
		for _, keyword := range f.keywords {
			if strings.Contains(road, keyword) {
				return true
			}
		}
	}
	return false
}
