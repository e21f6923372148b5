package coordinate

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func approxEqual(a, b Machine, tol float64) bool {
	return cmp.Equal(a, b, cmpopts.EquateApprox(0, tol))
}

func TestCameraMachineRoundTrip(t *testing.T) {
	cal := Calibration{Offset: Position4D{X: 1.5, Y: -2.25, Z: 0, C: 0}}
	orig := CameraRelative{Radius: 50, Height: 120, Rotation: 45, Tilt: -10}

	m := CameraToMachine(orig, cal)
	back := MachineToCamera(m, cal)

	if math.Abs(orig.Radius-back.Radius) > 1e-6 ||
		math.Abs(orig.Height-back.Height) > 1e-6 ||
		math.Abs(orig.Rotation-back.Rotation) > 1e-6 ||
		math.Abs(orig.Tilt-back.Tilt) > 1e-6 {
		t.Fatalf("round trip mismatch: %+v -> %+v -> %+v", orig, m, back)
	}
}

func TestMachineCartesianRoundTrip(t *testing.T) {
	orig := Machine{X: 10, Y: 20, Z: 300, C: -45}
	c := MachineToCartesian(orig)
	back := CartesianToMachine(c)
	if !approxEqual(orig, back, 1e-9) {
		t.Fatalf("round trip mismatch: %+v -> %+v -> %+v", orig, c, back)
	}
}

func TestNormalizeZIdempotent(t *testing.T) {
	for _, v := range []float64{0, 90, 180, -180, 270, -270, 720, -540, 359.999} {
		once := NormalizeZ(v)
		twice := NormalizeZ(once)
		if once != twice {
			t.Errorf("NormalizeZ(%g) = %g, but not idempotent: NormalizeZ(%g) = %g", v, once, once, twice)
		}
	}
}

func TestNormalizeZBoundaries(t *testing.T) {
	cases := map[float64]float64{
		270:  -90,
		-270: 90,
		180:  180,
	}
	for in, want := range cases {
		if got := NormalizeZ(in); got != want {
			t.Errorf("NormalizeZ(%g) = %g, want %g", in, got, want)
		}
	}
}

func TestShortestZPath(t *testing.T) {
	// spec scenario: current 10, target 350 -> command -10 (20 deg arc via wrap)
	got := ShortestZPath(10, 350)
	if math.Abs(got-(-10)) > 1e-9 {
		t.Fatalf("ShortestZPath(10, 350) = %g, want -10", got)
	}
}

func TestShortestZPathInvariant(t *testing.T) {
	cases := []struct{ cur, tgt float64 }{
		{10, 350}, {170, -170}, {0, 179}, {0, -179}, {-179, 179}, {0, 0},
	}
	for _, c := range cases {
		got := ShortestZPath(c.cur, c.tgt)
		// got must equal tgt modulo 360
		diff := math.Mod(got-c.tgt, 360)
		if diff > 180 {
			diff -= 360
		}
		if diff < -180 {
			diff += 360
		}
		if math.Abs(diff) > 1e-6 {
			t.Errorf("ShortestZPath(%g, %g) = %g, not congruent to target mod 360", c.cur, c.tgt, got)
		}
		arc := math.Abs(got - NormalizeZ(c.cur))
		if arc > 180+1e-6 {
			t.Errorf("ShortestZPath(%g, %g) = %g, arc %g exceeds 180", c.cur, c.tgt, got, arc)
		}
	}
}

func TestValidatePosition(t *testing.T) {
	axes := DefaultAxes()
	ok := Position4D{X: 10, Y: 10, Z: 0, C: 0}
	if err := ValidatePosition(ok, axes); err != nil {
		t.Fatalf("unexpected error for valid position: %v", err)
	}

	bad := Position4D{X: -5, Y: 500, Z: 0, C: 200}
	err := ValidatePosition(bad, axes)
	if err == nil {
		t.Fatal("expected error for out of range position")
	}
	me, ok2 := err.(multiError)
	if !ok2 {
		t.Fatalf("expected multiError, got %T", err)
	}
	if len(me.Errors()) != 3 {
		t.Fatalf("expected 3 violations (X, Y, C), got %d: %v", len(me.Errors()), me)
	}
}

func TestValidatePositionWrapsZBeforeCheck(t *testing.T) {
	axes := DefaultAxes()
	// 350 normalizes to -10, which is within [-180, 180]
	p := Position4D{X: 10, Y: 10, Z: 350, C: 0}
	if err := ValidatePosition(p, axes); err != nil {
		t.Fatalf("expected wrapped Z to validate, got %v", err)
	}
}
