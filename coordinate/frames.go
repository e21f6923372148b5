package coordinate

// CameraRelative is the canonical user-authoring frame: a point described
// relative to the turntable and the camera rig, per spec §4.5.
//
//   Radius   horizontal distance from turntable center to the camera, mm
//   Height   camera height above the turntable surface, mm
//   Rotation turntable angle; maps directly to machine Z, degrees
//   Tilt     camera tilt servo angle; maps directly to machine C, degrees
type CameraRelative struct {
	Radius, Height, Rotation, Tilt float64
}

// Cartesian is the world-space export frame. It is isomorphic to Machine;
// Z here is an independent rotation angle, not a Cartesian height (spec
// §4.5 is explicit that this is a labeling difference, not a geometric one).
type Cartesian struct {
	X, Y, Z, C float64
}

// Machine is an alias for Position4D in the frame the controller speaks.
type Machine = Position4D

// Calibration holds the installation-specific offset between the
// camera-relative authoring frame and the machine frame. The original
// source hard-codes this as identity (spec.md §9 open question); a real
// installation supplies a non-zero Offset once calibrated.
type Calibration struct {
	Offset Position4D
}

// IdentityCalibration is the zero-offset calibration used when no
// installation-specific calibration is available.
var IdentityCalibration = Calibration{}

// CameraToMachine converts the user-authoring frame to the machine frame
// using the given calibration offset.
func CameraToMachine(c CameraRelative, cal Calibration) Machine {
	return Machine{
		X: c.Radius + cal.Offset.X,
		Y: c.Height + cal.Offset.Y,
		Z: c.Rotation + cal.Offset.Z,
		C: c.Tilt + cal.Offset.C,
	}
}

// MachineToCamera is the inverse of CameraToMachine.
func MachineToCamera(m Machine, cal Calibration) CameraRelative {
	return CameraRelative{
		Radius:   m.X - cal.Offset.X,
		Height:   m.Y - cal.Offset.Y,
		Rotation: m.Z - cal.Offset.Z,
		Tilt:     m.C - cal.Offset.C,
	}
}

// MachineToCartesian is an identity relabeling on (x, y, c); z is carried
// through unchanged too (it remains a rotation angle, not a height) per
// spec §4.5.
func MachineToCartesian(m Machine) Cartesian {
	return Cartesian{X: m.X, Y: m.Y, Z: m.Z, C: m.C}
}

// CartesianToMachine is the inverse relabeling.
func CartesianToMachine(c Cartesian) Machine {
	return Machine{X: c.X, Y: c.Y, Z: c.Z, C: c.C}
}

// CameraToCartesian composes CameraToMachine and MachineToCartesian.
func CameraToCartesian(c CameraRelative, cal Calibration) Cartesian {
	return MachineToCartesian(CameraToMachine(c, cal))
}

// CartesianToCamera composes CartesianToMachine and MachineToCamera.
func CartesianToCamera(c Cartesian, cal Calibration) CameraRelative {
	return MachineToCamera(CartesianToMachine(c), cal)
}
