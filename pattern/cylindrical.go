package pattern

import (
	"github.com/pkg/errors"

	"github.com/fourdof/scanner/coordinate"
)

// CylindricalParameters describes a cylindrical scan authored in the
// camera-relative frame: X iterates camera radii, Y iterates heights, and
// each (radius, height) station visits every listed Z rotation then every
// listed C tilt contiguously. ZRotations and CAngles are explicit lists
// rather than ranges -- spec §4.6 is deliberate about this, since users
// frequently want unevenly spaced turntable positions.
type CylindricalParameters struct {
	XStart, XEnd, XStep float64
	YStart, YEnd, YStep float64
	ZRotations, CAngles []float64
	OverlapPct          float64
	SafetyMargin        float64
}

// GenerateCylindrical produces the cylindrical pattern's points in the
// machine frame, already validated against axes.
func GenerateCylindrical(p CylindricalParameters, cal coordinate.Calibration, axes map[coordinate.AxisID]coordinate.AxisKind) ([]ScanPoint, error) {
	radii := rangeValues(p.XStart+p.SafetyMargin, p.XEnd-p.SafetyMargin, p.XStep)
	heights := rangeValues(p.YStart+p.SafetyMargin, p.YEnd-p.SafetyMargin, p.YStep)

	var points []ScanPoint
	seq := 0
	for _, radius := range radii {
		for _, height := range heights {
			for _, rotation := range p.ZRotations {
				for _, tilt := range p.CAngles {
					cam := coordinate.CameraRelative{Radius: radius, Height: height, Rotation: rotation, Tilt: tilt}
					pos := coordinate.CameraToMachine(cam, cal)
					if err := coordinate.ValidatePosition(pos, axes); err != nil {
						return nil, errors.Wrapf(err, "cylindrical point %d", seq)
					}
					points = append(points, ScanPoint{Position: pos, CaptureCount: 1})
					seq++
				}
			}
		}
	}
	return points, nil
}
