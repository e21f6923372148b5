package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// motionPrefixes are the command prefixes that put the controller's
// planner in motion and therefore require the completion phase of §4.3,
// rather than completing on a bare "ok".
var motionPrefixes = []string{"G0", "G1", "G2", "G3", "$H", "$J="}

// IsMotionCommand reports whether line is motion-producing per spec §4.3.
func IsMotionCommand(line string) bool {
	trimmed := strings.TrimSpace(line)
	upper := strings.ToUpper(trimmed)
	for _, p := range motionPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

// formatAxis appends "<letter><value>" with at least 3 fractional digits,
// per spec §6 ("coordinates are decimal with 3+ fractional digits").
func formatAxis(letter byte, value float64) string {
	return fmt.Sprintf(" %c%s", letter, strconv.FormatFloat(value, 'f', 3, 64))
}

// RapidMove formats a G0 rapid positioning command for the given axes. Any
// axis whose move flag (moveX, moveY, moveZ, moveC) is false is omitted
// entirely, letting callers move a subset of axes.
func RapidMove(x, y, z, c float64, moveX, moveY, moveZ, moveC bool) string {
	return formatMove("G0", x, y, z, c, moveX, moveY, moveZ, moveC, 0, false)
}

// FeedMove formats a G1 feed-rate-controlled move, appending "Fn" when
// feedrate > 0.
func FeedMove(x, y, z, c, feedrate float64, moveX, moveY, moveZ, moveC bool) string {
	return formatMove("G1", x, y, z, c, moveX, moveY, moveZ, moveC, feedrate, feedrate > 0)
}

func formatMove(g string, x, y, z, c float64, moveX, moveY, moveZ, moveC bool, feedrate float64, withFeed bool) string {
	var b strings.Builder
	b.WriteString(g)
	if moveX {
		b.WriteString(formatAxis('X', x))
	}
	if moveY {
		b.WriteString(formatAxis('Y', y))
	}
	if moveZ {
		b.WriteString(formatAxis('Z', z))
	}
	if moveC {
		b.WriteString(formatAxis('C', c))
	}
	if withFeed {
		b.WriteString(formatAxis('F', feedrate))
	}
	return b.String()
}

// Unlock is the "$X" alarm-unlock command.
const Unlock = "$X"

// HomeAll is the "$H" home-all command.
const HomeAll = "$H"

// SetAbsolute and SetRelative select G90/G91 distance mode.
const (
	SetAbsolute = "G90"
	SetRelative = "G91"
)

// isHomingOrUnlock reports whether line is exempt from the alarm-flag
// RequiresHoming gate (spec §4.3: "unless the operation is itself a homing
// or unlock").
func isHomingOrUnlock(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == HomeAll || trimmed == Unlock
}
