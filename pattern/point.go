// Package pattern generates ordered, validated scan point sequences -- grid
// and cylindrical -- and defines the ScanPoint/ScanPattern types the
// orchestrator executes. Grounded on
// original_source/V2.0/planning/base.py's ScanPoint/ScanPath/ScanBounds,
// adapted from an abstract-planner interface into two concrete generator
// functions per the design note in spec.md §9.
package pattern

import "github.com/fourdof/scanner/coordinate"

// FocusKind is the discriminant of FocusSpec's sum type (spec §4.5).
type FocusKind int

const (
	FocusDefault FocusKind = iota
	FocusAuto
	FocusContinuous
	FocusManual
)

func (k FocusKind) String() string {
	switch k {
	case FocusDefault:
		return "Default"
	case FocusAuto:
		return "Auto"
	case FocusContinuous:
		return "Continuous"
	case FocusManual:
		return "Manual"
	default:
		return "Unknown"
	}
}

// FocusSpec selects how focus is driven for a scan point. The zero value is
// FocusDefault, matching a ScanPoint with no focus configuration at all.
// ManualValues is only meaningful when Kind == FocusManual, where two or
// more entries direct focus-stacking: the capturing phase iterates each
// value in turn.
type FocusSpec struct {
	Kind         FocusKind
	ManualValues []float64
}

// LightingSpec requests a flash synchronized with the shutter (spec
// §4.8/§4.11): it activates roughly 10ms before capture and holds through
// it.
type LightingSpec struct {
	Zones      []string
	Intensity  float64
	DurationMs uint32
}

// ScanPoint is one stop in a ScanPattern.
type ScanPoint struct {
	Position     coordinate.Position4D
	Focus        FocusSpec
	DwellMs      uint32
	CaptureCount uint16
	Lighting     *LightingSpec
}

// ScanPattern is a complete, ordered, finite scan path.
type ScanPattern struct {
	ID                 string
	Points             []ScanPoint
	Parameters         PatternParameters
	EstimatedDurationS float64
}

// GeneratorKind discriminates which generator produced a PatternParameters.
type GeneratorKind string

const (
	KindGrid        GeneratorKind = "grid"
	KindCylindrical GeneratorKind = "cylindrical"
)

// PatternParameters wraps whichever generator's parameters were used to
// build a ScanPattern, so a pattern can be regenerated or described without
// losing provenance.
type PatternParameters struct {
	Kind        GeneratorKind
	Grid        *GridParameters
	Cylindrical *CylindricalParameters
}
