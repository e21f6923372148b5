package scancsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fourdof/scanner/coordinate"
	"github.com/fourdof/scanner/pattern"
)

// limitWarningMargin is how close a position may sit to an axis bound and
// still generate only a warning rather than an error (spec §4.7: "±1 unit
// warning margin near limits").
const limitWarningMargin = 1.0

// focusValueMax is the upper end of the accepted FocusValues range.
const focusValueMax = 15.0

// Result is the outcome of parsing a CSV scan file: spec §4.7 defines
// success as no errors and at least one point.
type Result struct {
	Points   []pattern.ScanPoint
	Errors   []error
	Warnings []string
}

// OK reports whether Result represents a usable scan.
func (r Result) OK() bool {
	return len(r.Errors) == 0 && len(r.Points) > 0
}

// Parse reads a scan CSV. hint selects the coordinate frame explicitly;
// pass FormatAuto to infer Machine vs CameraRelative from the header
// (Cartesian is never inferred -- it reads identically to Machine).
func Parse(r io.Reader, hint Format, cal coordinate.Calibration, axes map[coordinate.AxisID]coordinate.AxisKind) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return Result{}, fmt.Errorf("scancsv: empty file")
	}
	if err != nil {
		return Result{}, err
	}

	format := detectFormat(header, hint)
	focusModeCol, focusValuesCol := locateFocusColumns(header)

	res := Result{}
	expectedIndex := 0
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, err
		}
		row++
		if len(record) < 5 {
			res.Errors = append(res.Errors, fmt.Errorf("row %d: expected at least 5 columns, got %d", row, len(record)))
			continue
		}

		idx, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("row %d: invalid index %q", row, record[0]))
		} else if idx != expectedIndex {
			res.Errors = append(res.Errors, fmt.Errorf("row %d: index %d is not sequential, expected %d", row, idx, expectedIndex))
		}
		expectedIndex++

		a, errA := parseFloat(record[1])
		b, errB := parseFloat(record[2])
		c, errC := parseFloat(record[3])
		d, errD := parseFloat(record[4])
		for _, e := range []error{errA, errB, errC, errD} {
			if e != nil {
				res.Errors = append(res.Errors, fmt.Errorf("row %d: %v", row, e))
			}
		}
		if errA != nil || errB != nil || errC != nil || errD != nil {
			continue
		}

		pos := toMachine(format, a, b, c, d, cal)
		checkLimits(&res, row, pos, axes)

		focus, captureCount, err := parseFocus(record, focusModeCol, focusValuesCol)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("row %d: %v", row, err))
			continue
		}

		res.Points = append(res.Points, pattern.ScanPoint{
			Position:     pos,
			Focus:        focus,
			CaptureCount: captureCount,
		})
	}

	return res, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func detectFormat(header []string, hint Format) Format {
	if hint != FormatAuto {
		return hint
	}
	for _, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "radius") {
			return FormatCameraRelative
		}
	}
	return FormatMachine
}

func locateFocusColumns(header []string) (mode, values int) {
	mode, values = -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case colFocusMode:
			mode = i
		case colFocusValues:
			values = i
		}
	}
	return mode, values
}

func toMachine(format Format, a, b, c, d float64, cal coordinate.Calibration) coordinate.Position4D {
	switch format {
	case FormatCameraRelative:
		return coordinate.CameraToMachine(coordinate.CameraRelative{Radius: a, Height: b, Rotation: c, Tilt: d}, cal)
	case FormatCartesian:
		return coordinate.CartesianToMachine(coordinate.Cartesian{X: a, Y: b, Z: c, C: d})
	default:
		return coordinate.Position4D{X: a, Y: b, Z: c, C: d}
	}
}

func checkLimits(res *Result, row int, pos coordinate.Position4D, axes map[coordinate.AxisID]coordinate.AxisKind) {
	check := func(id coordinate.AxisID, value float64) {
		axis, ok := axes[id]
		if !ok {
			return
		}
		inLimits, normalized := axis.InLimits(value)
		if !inLimits {
			res.Errors = append(res.Errors, coordinate.ErrOutOfRange{Axis: id, Value: normalized, Min: axis.Min, Max: axis.Max})
			return
		}
		if normalized-axis.Min < limitWarningMargin || axis.Max-normalized < limitWarningMargin {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: %s axis value %g is within %g of its limit", row, id, normalized, limitWarningMargin))
		}
	}
	check(coordinate.AxisX, pos.X)
	check(coordinate.AxisY, pos.Y)
	check(coordinate.AxisZ, pos.Z)
	check(coordinate.AxisC, pos.C)
}

func parseFocus(record []string, modeCol, valuesCol int) (pattern.FocusSpec, uint16, error) {
	if modeCol < 0 || modeCol >= len(record) {
		return pattern.FocusSpec{}, 1, nil
	}
	mode := strings.ToLower(strings.TrimSpace(record[modeCol]))

	var rawValues string
	if valuesCol >= 0 && valuesCol < len(record) {
		rawValues = strings.TrimSpace(record[valuesCol])
	}

	var values []float64
	if rawValues != "" {
		for _, part := range strings.Split(rawValues, ";") {
			v, err := parseFloat(part)
			if err != nil {
				return pattern.FocusSpec{}, 0, fmt.Errorf("invalid FocusValues %q: %v", rawValues, err)
			}
			if v < 0 || v > focusValueMax {
				return pattern.FocusSpec{}, 0, fmt.Errorf("FocusValues %g outside [0, %g]", v, focusValueMax)
			}
			values = append(values, v)
		}
	}

	switch mode {
	case "", "default":
		return pattern.FocusSpec{Kind: pattern.FocusDefault}, 1, nil
	case "af":
		return pattern.FocusSpec{Kind: pattern.FocusAuto}, 1, nil
	case "ca":
		return pattern.FocusSpec{Kind: pattern.FocusContinuous}, 1, nil
	case "manual":
		if len(values) == 0 {
			return pattern.FocusSpec{}, 0, fmt.Errorf("FocusMode manual requires FocusValues")
		}
		count := 1
		if len(values) >= 2 {
			count = len(values)
		}
		return pattern.FocusSpec{Kind: pattern.FocusManual, ManualValues: values}, uint16(count), nil
	default:
		return pattern.FocusSpec{}, 0, fmt.Errorf("unrecognized FocusMode %q", mode)
	}
}
