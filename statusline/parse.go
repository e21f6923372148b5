package statusline

import (
	"strconv"
	"strings"
)

// Kind tags the variant of a ParsedLine, forming the sum type described in
// spec §4.2.
type Kind int

const (
	// KindOther is the catch-all for anything unrecognized; Text carries
	// the raw line. Parsing never panics, it falls back to this.
	KindOther Kind = iota
	KindStatusReport
	KindOK
	KindError
	KindAlarm
	KindInfo
	KindHomingComplete
	KindHomedAxis
	KindStartup
)

// ParsedLine is the decoded result of one line of controller traffic.
// Exactly the fields relevant to Kind are populated; the rest are zero.
type ParsedLine struct {
	Kind   Kind
	Status FluidNCStatus // KindStatusReport
	Code   int           // KindError, KindAlarm
	Axis   string        // KindHomedAxis
	Text   string        // KindInfo, KindStartup, KindOther
}

// homingCompleteLine is the sole reliable motion-complete signal FluidNC
// emits for a homing cycle. It must match exactly (case-sensitive).
const homingCompleteLine = "[MSG:DBG: Homing done]"

// Parse decodes one line of controller traffic (already trimmed of its
// newline terminator) into a ParsedLine. It never panics: any input that
// does not match a known shape becomes KindOther with the raw text.
func Parse(line string) ParsedLine {
	if line == homingCompleteLine {
		return ParsedLine{Kind: KindHomingComplete}
	}
	if line == "ok" {
		return ParsedLine{Kind: KindOK}
	}
	if strings.HasPrefix(line, "<") && strings.HasSuffix(line, ">") {
		return ParsedLine{Kind: KindStatusReport, Status: parseStatusReport(line[1 : len(line)-1])}
	}
	if code, ok := parseCodedPrefix(line, "error:"); ok {
		return ParsedLine{Kind: KindError, Code: code}
	}
	// ALARM:N or [ALARM:N]
	if inner, ok := bracketed(line, "ALARM:"); ok {
		if code, err := strconv.Atoi(inner); err == nil {
			return ParsedLine{Kind: KindAlarm, Code: code}
		}
	}
	if code, ok := parseCodedPrefix(line, "ALARM:"); ok {
		return ParsedLine{Kind: KindAlarm, Code: code}
	}
	if axis, ok := bracketed(line, "MSG:Homed:"); ok {
		return ParsedLine{Kind: KindHomedAxis, Axis: axis}
	}
	if strings.HasPrefix(line, "[MSG:") || strings.HasPrefix(line, "[GC:") {
		return ParsedLine{Kind: KindInfo, Text: line}
	}
	if strings.HasPrefix(line, "Grbl ") || strings.HasPrefix(line, "FluidNC ") {
		return ParsedLine{Kind: KindStartup, Text: line}
	}
	return ParsedLine{Kind: KindOther, Text: line}
}

// parseCodedPrefix handles the unbracketed "prefixN" shape, e.g. "error:9".
func parseCodedPrefix(line, prefix string) (int, bool) {
	if !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(line, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// bracketed extracts the content of a "[prefixVALUE]" line, returning VALUE.
func bracketed(line, prefix string) (string, bool) {
	if !strings.HasPrefix(line, "["+prefix) || !strings.HasSuffix(line, "]") {
		return "", false
	}
	return line[len("["+prefix) : len(line)-1], true
}

// parseStatusReport decodes the pipe-separated body of a status report
// (the content between < and >), e.g.
// "Idle|MPos:0.000,0.000,0.000,0.000|FS:0,0". Missing axes default to 0.0,
// accommodating 3- or 4-axis controllers. Malformed numeric fields are
// skipped rather than causing a panic, leaving the default.
func parseStatusReport(body string) FluidNCStatus {
	fields := strings.Split(body, "|")
	if len(fields) == 0 {
		return FluidNCStatus{}
	}
	status := FluidNCStatus{State: parseState(fields[0])}
	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "MPos:"):
			status.MPos = parseAxes(strings.TrimPrefix(f, "MPos:"))
		case strings.HasPrefix(f, "WPos:"):
			p := parseAxes(strings.TrimPrefix(f, "WPos:"))
			status.WPos = &p
		case strings.HasPrefix(f, "FS:"):
			parts := strings.Split(strings.TrimPrefix(f, "FS:"), ",")
			fs := FeedSpindle{}
			if len(parts) >= 1 {
				fs.Feed, _ = strconv.ParseFloat(parts[0], 64)
			}
			if len(parts) >= 2 {
				fs.Spindle, _ = strconv.ParseFloat(parts[1], 64)
			}
			status.FS = &fs
		}
	}
	return status
}

// parseAxes parses a comma-separated list of 3 or 4 floats into a Position,
// defaulting missing axes (including a missing C on 3-axis controllers) to
// 0.0.
func parseAxes(s string) Position {
	parts := strings.Split(s, ",")
	get := func(i int) float64 {
		if i >= len(parts) {
			return 0.0
		}
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return 0.0
		}
		return v
	}
	return Position{X: get(0), Y: get(1), Z: get(2), C: get(3)}
}
