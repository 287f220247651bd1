package routing

import (
	"fmt"
	"strings"
)

// maxInstructions caps how many turn instructions a single leg produces so
// chat prompts stay readable.
const maxInstructions = 5

// minInstructionMeters drops micro-steps that only add noise.
const minInstructionMeters = 50

// Instructions renders the step sequence of a leg as short driver-facing
// sentences. Depart/arrive steps and steps shorter than 50m are skipped, and
// the output is capped at five lines. A leg with no usable steps yields a
// single generic line.
func Instructions(steps []RouteStep) []string {
	var out []string
	for _, step := range steps {
		if len(out) >= maxInstructions {
			break
		}
		if step.ManeuverType == "depart" || step.ManeuverType == "arrive" {
			continue
		}
		if step.DistanceMeters < minInstructionMeters {
			continue
		}
		if line := describeStep(step); line != "" {
			out = append(out, line)
		}
	}

	if len(out) == 0 {
		return []string{"Follow the main road to the destination."}
	}
	return out
}

func describeStep(step RouteStep) string {
	road := strings.TrimSpace(step.RoadName)
	distance := formatDistance(step.DistanceMeters)

	switch step.ManeuverType {
	case "turn", "sharp turn", "end of road":
		dir := turnDirection(step.ManeuverModifier)
		if road != "" {
			return fmt.Sprintf("Turn %s onto %s and continue for %s.", dir, road, distance)
		}
		return fmt.Sprintf("Turn %s and continue for %s.", dir, distance)
	case "roundabout", "rotary":
		if road != "" {
			return fmt.Sprintf("Take the roundabout exit onto %s and continue for %s.", road, distance)
		}
		return fmt.Sprintf("Go through the roundabout and continue for %s.", distance)
	case "merge", "on ramp":
		if road != "" {
			return fmt.Sprintf("Merge onto %s and continue for %s.", road, distance)
		}
		return fmt.Sprintf("Merge and continue for %s.", distance)
	case "off ramp":
		if road != "" {
			return fmt.Sprintf("Take the exit onto %s and continue for %s.", road, distance)
		}
		return fmt.Sprintf("Take the exit and continue for %s.", distance)
	case "fork":
		dir := turnDirection(step.ManeuverModifier)
		return fmt.Sprintf("Keep %s at the fork and continue for %s.", dir, distance)
	default:
		if road != "" {
			return fmt.Sprintf("Continue on %s for %s.", road, distance)
		}
		return fmt.Sprintf("Continue straight for %s.", distance)
	}
}

func turnDirection(modifier string) string {
	m := strings.ToLower(modifier)
	switch {
	case strings.Contains(m, "left"):
		return "left"
	case strings.Contains(m, "right"):
		return "right"
	default:
		return "straight"
	}
}

func formatDistance(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	return fmt.Sprintf("%.0f m", meters)
}
