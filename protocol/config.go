package protocol

import "time"

// Config holds every timing parameter of the protocol engine. All fields
// have the spec §5 defaults when zero-valued (see Config.withDefaults).
type Config struct {
	// CommandTimeout bounds how long the command task waits for an ok/
	// error/alarm response before declaring a ProtocolTimeout.
	CommandTimeout time.Duration

	// MotionTimeout bounds the completion phase of a motion-producing
	// command.
	MotionTimeout time.Duration

	// HomingTimeout bounds the whole homing flow.
	HomingTimeout time.Duration

	// StatusPollInterval is the cadence of the telemetry task's
	// free-running '?' query (spec: 2 Hz).
	StatusPollInterval time.Duration

	// CompletionPollInterval is the cadence of '?' queries issued by the
	// command task while awaiting motion completion (spec: 100-200 ms).
	CompletionPollInterval time.Duration

	// MinCommandSpacing is the minimum delay enforced between consecutive
	// command writes, carried over from original_source's command_delay
	// to avoid overrunning the controller's input buffer.
	MinCommandSpacing time.Duration

	// StabilityEpsilon is the maximum per-axis position delta between
	// consecutive status reports that still counts as "stopped".
	StabilityEpsilon float64

	// StableReportsRequired is how many consecutive status reports must
	// show a delta below StabilityEpsilon before motion is complete.
	StableReportsRequired int

	// NeverLeftIdleGrace is how long a motion command may run without the
	// state ever leaving Idle before it is still declared complete (the
	// zero-distance move escape clause).
	NeverLeftIdleGrace time.Duration

	// UnlockAttempts and UnlockSpacing govern the pre-homing $X retries.
	UnlockAttempts int
	UnlockSpacing  time.Duration

	// PostHomingSettle is how long to wait after the homing-done marker
	// before verifying Idle and issuing the trailing $X.
	PostHomingSettle time.Duration
}

func (c Config) withDefaults() Config {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.MotionTimeout == 0 {
		c.MotionTimeout = 30 * time.Second
	}
	if c.HomingTimeout == 0 {
		c.HomingTimeout = 120 * time.Second
	}
	if c.StatusPollInterval == 0 {
		c.StatusPollInterval = 500 * time.Millisecond
	}
	if c.CompletionPollInterval == 0 {
		c.CompletionPollInterval = 150 * time.Millisecond
	}
	if c.MinCommandSpacing == 0 {
		c.MinCommandSpacing = 50 * time.Millisecond
	}
	if c.StabilityEpsilon == 0 {
		c.StabilityEpsilon = 0.001
	}
	if c.StableReportsRequired == 0 {
		c.StableReportsRequired = 2
	}
	if c.NeverLeftIdleGrace == 0 {
		c.NeverLeftIdleGrace = 500 * time.Millisecond
	}
	if c.UnlockAttempts == 0 {
		c.UnlockAttempts = 3
	}
	if c.UnlockSpacing == 0 {
		c.UnlockSpacing = 500 * time.Millisecond
	}
	if c.PostHomingSettle == 0 {
		c.PostHomingSettle = 1 * time.Second
	}
	return c
}
