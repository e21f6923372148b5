package scancsv

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fourdof/scanner/coordinate"
	"github.com/fourdof/scanner/pattern"
)

func TestParseMachineCSVRoundTrip(t *testing.T) {
	input := "index,x,y,z,c,FocusMode,FocusValues\n" +
		"0,50.000,50.000,0.000,0.000,manual,5.500;6.000;6.500\n" +
		"1,50.000,50.000,90.000,0.000,,\n"

	res, err := Parse(strings.NewReader(input), FormatAuto, coordinate.IdentityCalibration, coordinate.DefaultAxes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected OK result, got errors=%v", res.Errors)
	}
	if len(res.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(res.Points))
	}

	p0 := res.Points[0]
	if p0.Focus.Kind != pattern.FocusManual || p0.CaptureCount != 3 {
		t.Fatalf("point 0: expected Manual stack of 3, got %+v count=%d", p0.Focus, p0.CaptureCount)
	}
	if len(p0.Focus.ManualValues) != 3 || p0.Focus.ManualValues[2] != 6.5 {
		t.Fatalf("point 0: unexpected manual values %v", p0.Focus.ManualValues)
	}

	p1 := res.Points[1]
	if p1.Focus.Kind != pattern.FocusDefault || p1.CaptureCount != 1 {
		t.Fatalf("point 1: expected default focus, count 1, got %+v count=%d", p1.Focus, p1.CaptureCount)
	}

	var buf bytes.Buffer
	if err := Write(&buf, FormatMachine, coordinate.IdentityCalibration, res.Points); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.String() != input {
		t.Fatalf("round trip mismatch:\n got:  %q\nwant: %q", buf.String(), input)
	}
}

func TestParseCameraRelativeAutoDetect(t *testing.T) {
	input := "index,radius,height,rotation,tilt\n0,100.000,50.000,0.000,0.000\n"
	res, err := Parse(strings.NewReader(input), FormatAuto, coordinate.IdentityCalibration, coordinate.DefaultAxes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !res.OK() {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if res.Points[0].Position.X != 100 {
		t.Fatalf("expected radius to map to machine X, got %+v", res.Points[0].Position)
	}
}

func TestParseSequenceError(t *testing.T) {
	input := "index,x,y,z,c\n0,0,0,0,0\n2,0,0,0,0\n"
	res, err := Parse(strings.NewReader(input), FormatMachine, coordinate.IdentityCalibration, coordinate.DefaultAxes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.OK() {
		t.Fatal("expected a sequence error")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected exactly 1 error, got %v", res.Errors)
	}
}

func TestParseOutOfRangeProducesError(t *testing.T) {
	input := "index,x,y,z,c\n0,9999,0,0,0\n"
	res, err := Parse(strings.NewReader(input), FormatMachine, coordinate.IdentityCalibration, coordinate.DefaultAxes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.OK() {
		t.Fatal("expected an out-of-range error")
	}
}

func TestParseNearLimitProducesWarning(t *testing.T) {
	input := "index,x,y,z,c\n0,199.5,100,0,0\n"
	res, err := Parse(strings.NewReader(input), FormatMachine, coordinate.IdentityCalibration, coordinate.DefaultAxes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected OK (warning, not error), got errors=%v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", res.Warnings)
	}
}

func TestParseManualModeWithoutValuesErrors(t *testing.T) {
	input := "index,x,y,z,c,FocusMode,FocusValues\n0,0,0,0,0,manual,\n"
	res, err := Parse(strings.NewReader(input), FormatMachine, coordinate.IdentityCalibration, coordinate.DefaultAxes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if res.OK() {
		t.Fatal("expected an error for manual mode with no values")
	}
}
