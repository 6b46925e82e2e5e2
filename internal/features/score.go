package features

import (
	"math"

	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/utils"
)

// Region names with a role in the readiness score.
const (
	RegionLeft  = "left"
	RegionRight = "right"
	RegionField = "field"
)

// ReadinessScore estimates how ready the teams are to start a point from
// normalized end-zone and field occupancy. The result is in [0,1].
func ReadinessScore(left, right, field float64, teamSize int) float64 {
	if teamSize <= 0 {
		return 0
	}
	minEZ := math.Min(left, right)
	balance := 0.0
	// A single stray detection must not count as a lined-up team.
	if minEZ >= 2/float64(teamSize) {
		balance = minEZ
	}
	symmetry := clamp01(1.2 - math.Abs(left-right))
	fieldTerm := clamp01(1.5 - field)
	return clamp01(2 * balance * symmetry * fieldTerm)
}

// CountOccupancy marks every detection whose bottom-center lies inside
// poly as counted and returns the count normalized by teamSize.
func CountOccupancy(dets []detector.Detection, poly []utils.Point, teamSize int) float64 {
	n := 0
	for i := range dets {
		dets[i].Counted = utils.PointInPolygon(dets[i].Box.BottomCenter(), poly)
		if dets[i].Counted {
			n++
		}
	}
	if teamSize <= 0 {
		return 0
	}
	return float64(n) / float64(teamSize)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
