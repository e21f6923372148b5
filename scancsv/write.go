package scancsv

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/fourdof/scanner/coordinate"
	"github.com/fourdof/scanner/pattern"
)

// Write emits points as CSV in the given frame: a header row, then one row
// per point with positions fixed to 3 decimals and focus values
// semicolon-joined.
func Write(w io.Writer, format Format, cal coordinate.Calibration, points []pattern.ScanPoint) error {
	cw := csv.NewWriter(w)

	columns := machineColumns
	if format == FormatCameraRelative {
		columns = cameraColumns
	}
	if err := cw.Write(append(append([]string{}, columns...), "FocusMode", "FocusValues")); err != nil {
		return err
	}

	for i, p := range points {
		a, b, c, d := fromMachine(format, p.Position, cal)
		mode, values := focusColumns(p.Focus)
		record := []string{
			strconv.Itoa(i),
			formatFixed(a), formatFixed(b), formatFixed(c), formatFixed(d),
			mode, values,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func fromMachine(format Format, pos coordinate.Position4D, cal coordinate.Calibration) (a, b, c, d float64) {
	switch format {
	case FormatCameraRelative:
		cr := coordinate.MachineToCamera(pos, cal)
		return cr.Radius, cr.Height, cr.Rotation, cr.Tilt
	case FormatCartesian:
		cart := coordinate.MachineToCartesian(pos)
		return cart.X, cart.Y, cart.Z, cart.C
	default:
		return pos.X, pos.Y, pos.Z, pos.C
	}
}

func formatFixed(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func focusColumns(f pattern.FocusSpec) (mode, values string) {
	switch f.Kind {
	case pattern.FocusAuto:
		return "af", ""
	case pattern.FocusContinuous:
		return "ca", ""
	case pattern.FocusManual:
		parts := make([]string, len(f.ManualValues))
		for i, v := range f.ManualValues {
			parts[i] = formatFixed(v)
		}
		return "manual", strings.Join(parts, ";")
	default:
		return "", ""
	}
}
