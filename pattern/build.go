package pattern

import "github.com/fourdof/scanner/coordinate"

// BuildGrid generates a grid pattern's points and wraps them, along with
// their provenance, in a ScanPattern.
func BuildGrid(id string, p GridParameters, axes map[coordinate.AxisID]coordinate.AxisKind) (ScanPattern, error) {
	points, err := GenerateGrid(p, axes)
	if err != nil {
		return ScanPattern{}, err
	}
	return ScanPattern{
		ID:                 id,
		Points:             points,
		Parameters:         PatternParameters{Kind: KindGrid, Grid: &p},
		EstimatedDurationS: estimateDuration(points),
	}, nil
}

// BuildCylindrical generates a cylindrical pattern's points and wraps them
// in a ScanPattern.
func BuildCylindrical(id string, p CylindricalParameters, cal coordinate.Calibration, axes map[coordinate.AxisID]coordinate.AxisKind) (ScanPattern, error) {
	points, err := GenerateCylindrical(p, cal, axes)
	if err != nil {
		return ScanPattern{}, err
	}
	return ScanPattern{
		ID:                 id,
		Points:             points,
		Parameters:         PatternParameters{Kind: KindCylindrical, Cylindrical: &p},
		EstimatedDurationS: estimateDuration(points),
	}, nil
}
