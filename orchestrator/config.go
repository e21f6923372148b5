package orchestrator

import "time"

// Config holds the orchestrator's timing and policy knobs. Zero fields take
// the defaults below, mirroring protocol.Config's withDefaults pattern.
type Config struct {
	// MinimumDwell is the floor applied to a point's own DwellMs during
	// Stabilizing (spec §4.8: "max(dwell_ms, configured_minimum_dwell)").
	MinimumDwell time.Duration

	// PersistEvery is how many advanced points elapse between periodic
	// persists, separate from the always-persisted state transitions
	// (spec §4.8: "persist every N points (N=5 default)").
	PersistEvery int

	// MotionRetryFeedrateScale is applied to the feedrate profile on a
	// motion retry after a failed move (spec §4.8: "retry the move once
	// with halved feedrate").
	MotionRetryFeedrateScale float64

	// ConsecutiveFailureLimit is how many consecutive PointFailed points
	// escalate the scan itself to Failed (spec §4.8: "If two consecutive
	// points fail").
	ConsecutiveFailureLimit int

	// LightingLeadTime is how long before the capture a flash is expected
	// to have started (spec §4.11: "~10ms before capture").
	LightingLeadTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinimumDwell == 0 {
		c.MinimumDwell = 200 * time.Millisecond
	}
	if c.PersistEvery == 0 {
		c.PersistEvery = 5
	}
	if c.MotionRetryFeedrateScale == 0 {
		c.MotionRetryFeedrateScale = 0.5
	}
	if c.ConsecutiveFailureLimit == 0 {
		c.ConsecutiveFailureLimit = 2
	}
	if c.LightingLeadTime == 0 {
		c.LightingLeadTime = 10 * time.Millisecond
	}
	return c
}
