// Package scancsv reads and writes scan patterns authored as CSV, in any
// of the three coordinate frames spec §4.7 accepts. Grounded on
// fsm/fsm.go's Disturbance.LoadCSV: encoding/csv, a header-skip flag, and
// per-row float parsing, generalized from a fixed 3-column format into the
// header-driven, multi-frame, multi-column format this spec needs.
package scancsv

// Format selects which coordinate frame a CSV's x/y/z/c-shaped columns are
// expressed in. FormatAuto lets Parse infer Machine vs CameraRelative from
// the header; Cartesian can only be selected explicitly, since its columns
// are byte-for-byte identical to Machine's (spec §4.7: "if ambiguous,
// default to Machine").
type Format int

const (
	FormatAuto Format = iota
	FormatMachine
	FormatCameraRelative
	FormatCartesian
)

func (f Format) String() string {
	switch f {
	case FormatMachine:
		return "machine"
	case FormatCameraRelative:
		return "camera-relative"
	case FormatCartesian:
		return "cartesian"
	default:
		return "auto"
	}
}

const (
	colFocusMode   = "focusmode"
	colFocusValues = "focusvalues"
)

var machineColumns = []string{"index", "x", "y", "z", "c"}
var cameraColumns = []string{"index", "radius", "height", "rotation", "tilt"}
