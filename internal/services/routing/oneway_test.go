package routing

import "testing"

func TestViolatesOneWayUTurn(t *testing.T) {
	f := NewOneWayFilter([]string{"satu arah"})

	steps := []RouteStep{
		{ManeuverType: "depart"},
		{ManeuverType: "continue", ManeuverModifier: "uturn", RoadName: "Jl. Sudirman"},
		{ManeuverType: "arrive"},
	}
	if !f.ViolatesOneWay(steps) {
		t.Fatal("u-turn maneuver should always violate")
	}
}

func TestViolatesOneWayKeywordWithTurn(t *testing.T) {
	f := NewOneWayFilter([]string{"satu arah", "one way"})

	steps := []RouteStep{
		{ManeuverType: "turn", ManeuverModifier: "left", RoadName: "Jl. Veteran (Satu Arah)"},
	}
	if !f.ViolatesOneWay(steps) {
		t.Fatal("turn onto a keyword-named road should violate")
	}
}

func TestViolatesOneWayKeywordCaseInsensitive(t *testing.T) {
	f := NewOneWayFilter([]string{"One Way"})

	steps := []RouteStep{
		{ManeuverType: "merge", RoadName: "ONE WAY EXPRESS"},
	}
	if !f.ViolatesOneWay(steps) {
		t.Fatal("keyword match should ignore case")
	}
}

func TestViolatesOneWayKeywordWithoutFlaggedManeuver(t *testing.T) {
	f := NewOneWayFilter([]string{"satu arah"})

	// Going straight along the keyword-named road is fine; only
	// direction-sensitive entries count.
	steps := []RouteStep{
		{ManeuverType: "continue", RoadName: "Jl. Pahlawan Satu Arah"},
		{ManeuverType: "new name", RoadName: "Jl. Pahlawan Satu Arah"},
	}
	if f.ViolatesOneWay(steps) {
		t.Fatal("continuing on a keyword road should not violate")
	}
}

func TestViolatesOneWayCleanRoute(t *testing.T) {
	f := NewOneWayFilter([]string{"satu arah"})

	steps := []RouteStep{
		{ManeuverType: "depart", RoadName: "Jl. Merdeka"},
		{ManeuverType: "turn", ManeuverModifier: "right", RoadName: "Jl. Asia Afrika"},
		{ManeuverType: "arrive"},
	}
	if f.ViolatesOneWay(steps) {
		t.Fatal("route without keywords or u-turns should pass")
	}
}

func TestViolatesOneWayEmptySteps(t *testing.T) {
	f := NewOneWayFilter(nil)
	if f.ViolatesOneWay(nil) {
		t.Fatal("empty step sequence should never violate")
	}
}
