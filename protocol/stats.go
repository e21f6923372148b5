package protocol

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of the engine's running counters (spec §4.3).
type Stats struct {
	CommandsSent      int64
	ResponsesReceived int64
	Timeouts          int64
	MotionTimeouts    int64
	Uptime            time.Duration
}

// stats holds the live atomic counters backing Stats snapshots.
type stats struct {
	commandsSent      int64
	responsesReceived int64
	timeouts          int64
	motionTimeouts    int64
	startedAt         time.Time
}

func (s *stats) snapshot() Stats {
	return Stats{
		CommandsSent:      atomic.LoadInt64(&s.commandsSent),
		ResponsesReceived: atomic.LoadInt64(&s.responsesReceived),
		Timeouts:          atomic.LoadInt64(&s.timeouts),
		MotionTimeouts:    atomic.LoadInt64(&s.motionTimeouts),
		Uptime:            time.Since(s.startedAt),
	}
}
