package pattern

import (
	"math"

	"github.com/fourdof/scanner/coordinate"
)

// Movement speed assumptions used only for EstimatedDurationS, grounded on
// original_source/V2.0/planning/base.py's calculate_movement_time.
const (
	linearSpeedMMPerSec   = 50.0
	angularSpeedDegPerSec = 90.0
	baseCaptureSeconds    = 2.0
)

func movementSeconds(from, to coordinate.Position4D) float64 {
	linearDist := math.Hypot(to.X-from.X, to.Y-from.Y)
	zDist := math.Abs(to.Z - from.Z)
	cDist := math.Abs(to.C - from.C)

	linearTime := linearDist / linearSpeedMMPerSec
	zTime := zDist / angularSpeedDegPerSec
	cTime := cDist / angularSpeedDegPerSec

	return math.Max(linearTime, math.Max(zTime, cTime))
}

func captureSeconds(p ScanPoint) float64 {
	shots := float64(p.CaptureCount)
	if shots < 1 {
		shots = 1
	}
	total := baseCaptureSeconds * shots
	total += float64(p.DwellMs) / 1000.0
	return total
}

func estimateDuration(points []ScanPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	total := captureSeconds(points[0])
	for i := 1; i < len(points); i++ {
		total += movementSeconds(points[i-1].Position, points[i].Position)
		total += captureSeconds(points[i])
	}
	return total
}
