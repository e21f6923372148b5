// Package statusline decodes the line-oriented traffic emitted by a
// GRBL-dialect CNC controller: status reports, command acknowledgements,
// alarm/error codes, and informational/debug messages. Parsing is a pure
// function; it never blocks and never panics on malformed input.
package statusline

// State is the controller's machine state as reported in a status line.
type State int

const (
	StateUnknown State = iota
	StateIdle
	StateRun
	StateJog
	StateHold
	StateHome
	StateAlarm
	StateDoor
	StateCheck
	StateSleep
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRun:
		return "Run"
	case StateJog:
		return "Jog"
	case StateHold:
		return "Hold"
	case StateHome:
		return "Home"
	case StateAlarm:
		return "Alarm"
	case StateDoor:
		return "Door"
	case StateCheck:
		return "Check"
	case StateSleep:
		return "Sleep"
	default:
		return "Unknown"
	}
}

func parseState(s string) State {
	switch s {
	case "Idle":
		return StateIdle
	case "Run":
		return StateRun
	case "Jog":
		return StateJog
	case "Hold", "Hold:0", "Hold:1":
		return StateHold
	case "Home":
		return StateHome
	case "Alarm":
		return StateAlarm
	case "Door", "Door:0", "Door:1", "Door:2", "Door:3":
		return StateDoor
	case "Check":
		return StateCheck
	case "Sleep":
		return StateSleep
	default:
		return StateUnknown
	}
}

// Position mirrors coordinate.Position4D without importing it, so this
// package has no dependency on the coordinate frame machinery -- it only
// ever produces raw machine-reported numbers.
type Position struct {
	X, Y, Z, C float64
}

// FeedSpindle carries the FS: field of a status report: commanded feed rate
// and spindle speed. Neither axis is used by this scanner's own motion, but
// the controller reports them and a caller may want them for diagnostics.
type FeedSpindle struct {
	Feed, Spindle float64
}

// FluidNCStatus is the fully decoded content of a single status report
// line. It is always built atomically from one line -- never partially
// updated in place -- per spec §3's invariant.
type FluidNCStatus struct {
	State State
	MPos  Position
	WPos  *Position
	FS    *FeedSpindle
}
