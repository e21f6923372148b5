package pattern

import (
	"github.com/pkg/errors"

	"github.com/fourdof/scanner/coordinate"
)

// GridParameters describes a grid scan: X outer, Y inner (or serpentine
// when Zigzag), with every (X,Y) station visiting each Z rotation and C
// tilt contiguously (spec §4.6).
//
// ZValues and CValues are already-resolved discrete angle lists. Use
// NewGridSteps to build them from a range and a step count, or set them
// directly for the explicit-list form shown in spec.md's worked grid
// example.
type GridParameters struct {
	XRange, YRange     [2]float64
	XSpacing, YSpacing float64
	ZValues, CValues   []float64
	Zigzag             bool
	SafetyMargin       float64
}

// NewGridSteps builds a GridParameters whose Z and C values are evenly
// spaced across zRange/cRange with zSteps/cSteps points.
func NewGridSteps(xRange, yRange [2]float64, xSpacing, ySpacing float64, zRange [2]float64, zSteps int, cRange [2]float64, cSteps int, zigzag bool, safetyMargin float64) GridParameters {
	return GridParameters{
		XRange: xRange, YRange: yRange,
		XSpacing: xSpacing, YSpacing: ySpacing,
		ZValues: linspace(zRange[0], zRange[1], zSteps),
		CValues: linspace(cRange[0], cRange[1], cSteps),
		Zigzag:  zigzag, SafetyMargin: safetyMargin,
	}
}

func linspace(min, max float64, n int) []float64 {
	if n <= 1 {
		return []float64{min}
	}
	step := (max - min) / float64(n-1)
	vals := make([]float64, n)
	for i := 0; i < n; i++ {
		vals[i] = min + step*float64(i)
	}
	return vals
}

// rangeValues returns the stepped values from min to max inclusive, or a
// single value if the range collapses (spec §8: "x_start == x_end produces
// points with a single X value").
func rangeValues(min, max, step float64) []float64 {
	if max < min {
		min, max = max, min
	}
	if step <= 0 || max-min < 1e-9 {
		return []float64{min}
	}
	var vals []float64
	for v := min; v <= max+1e-9; v += step {
		vals = append(vals, v)
	}
	return vals
}

// GenerateGrid produces the grid pattern's points, already validated
// against axes. Any out-of-range point aborts generation with the
// offending axis named in the error.
func GenerateGrid(p GridParameters, axes map[coordinate.AxisID]coordinate.AxisKind) ([]ScanPoint, error) {
	xMin, xMax := p.XRange[0]+p.SafetyMargin, p.XRange[1]-p.SafetyMargin
	yMin, yMax := p.YRange[0]+p.SafetyMargin, p.YRange[1]-p.SafetyMargin

	xs := rangeValues(xMin, xMax, p.XSpacing)
	ys := rangeValues(yMin, yMax, p.YSpacing)

	var points []ScanPoint
	seq := 0
	for xi, x := range xs {
		rowYs := ys
		if p.Zigzag && xi%2 == 1 {
			rowYs = reversed(ys)
		}
		for _, y := range rowYs {
			for _, z := range p.ZValues {
				for _, c := range p.CValues {
					pos := coordinate.Position4D{X: x, Y: y, Z: z, C: c}
					if err := coordinate.ValidatePosition(pos, axes); err != nil {
						return nil, errors.Wrapf(err, "grid point %d", seq)
					}
					points = append(points, ScanPoint{Position: pos, CaptureCount: 1})
					seq++
				}
			}
		}
	}
	return points, nil
}

func reversed(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
