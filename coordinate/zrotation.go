package coordinate

import "math"

// ShortestZPath computes the controller-facing target for a Z-axis move
// from current to target that takes the shorter arc around the continuous
// turntable, per spec §4.4:
//
//   direct = NormalizeZ(target) - NormalizeZ(current), in [-360, 360]
//   wrap   = direct - 360 when direct > 0, otherwise direct + 360
//
// If the direct path is no longer than the wrapped one, the caller should
// command NormalizeZ(target) directly; otherwise it should command
// NormalizeZ(current) + wrap, which may lie outside [-180, 180] -- the
// controller accepts this and wraps internally.
func ShortestZPath(current, target float64) (commandTarget float64) {
	cur := NormalizeZ(current)
	tgt := NormalizeZ(target)

	direct := tgt - cur
	wrap := direct
	if direct > 0 {
		wrap = direct - 360.0
	} else {
		wrap = direct + 360.0
	}

	if math.Abs(direct) <= math.Abs(wrap) {
		return tgt
	}
	return cur + wrap
}
