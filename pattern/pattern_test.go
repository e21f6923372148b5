package pattern

import (
	"testing"

	"github.com/fourdof/scanner/coordinate"
)

func axesForTest() map[coordinate.AxisID]coordinate.AxisKind {
	axes := coordinate.DefaultAxes()
	// The defaults are used unchanged: the worked example's 0-10 X/Y range
	// already lies inside the default 0-200 bounds.
	return axes
}

func TestGenerateGridWorkedExample(t *testing.T) {
	params := GridParameters{
		XRange: [2]float64{0, 10}, YRange: [2]float64{0, 10},
		XSpacing: 10, YSpacing: 10,
		ZValues: []float64{0, 90}, CValues: []float64{0},
	}
	points, err := GenerateGrid(params, axesForTest())
	if err != nil {
		t.Fatalf("GenerateGrid: %v", err)
	}
	want := []coordinate.Position4D{
		{X: 0, Y: 0, Z: 0, C: 0},
		{X: 0, Y: 0, Z: 90, C: 0},
		{X: 0, Y: 10, Z: 0, C: 0},
		{X: 0, Y: 10, Z: 90, C: 0},
		{X: 10, Y: 0, Z: 0, C: 0},
		{X: 10, Y: 0, Z: 90, C: 0},
		{X: 10, Y: 10, Z: 0, C: 0},
		{X: 10, Y: 10, Z: 90, C: 0},
	}
	if len(points) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(points))
	}
	for i, p := range points {
		if p.Position != want[i] {
			t.Errorf("point %d: got %+v, want %+v", i, p.Position, want[i])
		}
	}
}

func TestGenerateGridZigzag(t *testing.T) {
	params := GridParameters{
		XRange: [2]float64{0, 10}, YRange: [2]float64{0, 20},
		XSpacing: 10, YSpacing: 10,
		ZValues: []float64{0}, CValues: []float64{0},
		Zigzag: true,
	}
	points, err := GenerateGrid(params, axesForTest())
	if err != nil {
		t.Fatalf("GenerateGrid: %v", err)
	}
	// Row 0 (x=0): y ascending 0,10,20. Row 1 (x=10): y descending 20,10,0.
	wantY := []float64{0, 10, 20, 20, 10, 0}
	if len(points) != len(wantY) {
		t.Fatalf("expected %d points, got %d", len(wantY), len(points))
	}
	for i, p := range points {
		if p.Position.Y != wantY[i] {
			t.Errorf("point %d: got y=%v, want %v", i, p.Position.Y, wantY[i])
		}
	}
}

func TestGenerateGridSafetyMargin(t *testing.T) {
	params := GridParameters{
		XRange: [2]float64{0, 100}, YRange: [2]float64{0, 100},
		XSpacing: 100, YSpacing: 100,
		ZValues: []float64{0}, CValues: []float64{0},
		SafetyMargin: 10,
	}
	points, err := GenerateGrid(params, axesForTest())
	if err != nil {
		t.Fatalf("GenerateGrid: %v", err)
	}
	if points[0].Position.X != 10 || points[0].Position.Y != 10 {
		t.Fatalf("expected margin-shrunk start (10,10), got %+v", points[0].Position)
	}
}

func TestGenerateGridRejectsOutOfRange(t *testing.T) {
	params := GridParameters{
		XRange: [2]float64{0, 9999}, YRange: [2]float64{0, 0},
		XSpacing: 9999, YSpacing: 1,
		ZValues: []float64{0}, CValues: []float64{0},
	}
	if _, err := GenerateGrid(params, axesForTest()); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestGenerateCylindricalSingleXValue(t *testing.T) {
	params := CylindricalParameters{
		XStart: 50, XEnd: 50, XStep: 10,
		YStart: 0, YEnd: 0, YStep: 10,
		ZRotations: []float64{0, 90, 180},
		CAngles:    []float64{0},
	}
	points, err := GenerateCylindrical(params, coordinate.IdentityCalibration, axesForTest())
	if err != nil {
		t.Fatalf("GenerateCylindrical: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points (one per Z rotation), got %d", len(points))
	}
	for _, p := range points {
		if p.Position.X != 50 {
			t.Errorf("expected single X value 50, got %v", p.Position.X)
		}
	}
}

func TestGenerateCylindricalOrdering(t *testing.T) {
	params := CylindricalParameters{
		XStart: 50, XEnd: 100, XStep: 50,
		YStart: 0, YEnd: 50, YStep: 50,
		ZRotations: []float64{0, 90},
		CAngles:    []float64{-10, 10},
	}
	points, err := GenerateCylindrical(params, coordinate.IdentityCalibration, axesForTest())
	if err != nil {
		t.Fatalf("GenerateCylindrical: %v", err)
	}
	// 2 radii * 2 heights * 2 rotations * 2 tilts = 16, radii contiguous Z
	// rotations and tilts per station.
	if len(points) != 16 {
		t.Fatalf("expected 16 points, got %d", len(points))
	}
	if points[0].Position.X != 50 || points[0].Position.Z != 0 || points[0].Position.C != -10 {
		t.Fatalf("unexpected first point: %+v", points[0].Position)
	}
	if points[1].Position.Z != 0 || points[1].Position.C != 10 {
		t.Fatalf("expected C to vary fastest: %+v", points[1].Position)
	}
	if points[2].Position.Z != 90 {
		t.Fatalf("expected Z to cycle within a station: %+v", points[2].Position)
	}
}

func TestValidatePointsCaptureCountMismatch(t *testing.T) {
	points := []ScanPoint{
		{
			Position:     coordinate.Position4D{X: 10, Y: 10},
			Focus:        FocusSpec{Kind: FocusManual, ManualValues: []float64{1, 2, 3}},
			CaptureCount: 2,
		},
	}
	errs := ValidatePoints(points, axesForTest())
	if len(errs) != 1 {
		t.Fatalf("expected 1 validation error, got %d: %v", len(errs), errs)
	}
}

func TestValidatePointsAcceptsConsistentStack(t *testing.T) {
	points := []ScanPoint{
		{
			Position:     coordinate.Position4D{X: 10, Y: 10},
			Focus:        FocusSpec{Kind: FocusManual, ManualValues: []float64{1, 2, 3}},
			CaptureCount: 3,
		},
	}
	if errs := ValidatePoints(points, axesForTest()); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestBuildGridEstimatesDuration(t *testing.T) {
	pat, err := BuildGrid("g1", GridParameters{
		XRange: [2]float64{0, 10}, YRange: [2]float64{0, 10},
		XSpacing: 10, YSpacing: 10,
		ZValues: []float64{0}, CValues: []float64{0},
	}, axesForTest())
	if err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	if pat.EstimatedDurationS <= 0 {
		t.Fatalf("expected positive estimated duration, got %v", pat.EstimatedDurationS)
	}
	if pat.Parameters.Kind != KindGrid {
		t.Fatalf("expected KindGrid, got %v", pat.Parameters.Kind)
	}
}
