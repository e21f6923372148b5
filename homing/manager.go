// Package homing derives a user-facing homing status from the protocol
// engine's raw controller telemetry, so a UI layer never has to interpret
// FluidNC state names itself (spec §4.10). Grounded on
// original_source/V2.0/homing_status_manager.py's FixedHomingStatusManager:
// its HomingStatus enum, message/recommendation pairs per state, and
// start_homing/manual_unlock/get_status_for_web methods, translated from a
// polling asyncio manager with a callback list into an eventbus subscriber
// plus a narrow Snapshot accessor.
package homing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fourdof/scanner/eventbus"
	"github.com/fourdof/scanner/protocol"
	"github.com/fourdof/scanner/statusline"
)

// State is the user-facing homing status of spec §4.10.
type State string

const (
	StateUnknown     State = "Unknown"
	StateNotRequired State = "NotRequired"
	StateRequired    State = "Required"
	StateInProgress  State = "InProgress"
	StateCompleted   State = "Completed"
	StateFailed      State = "Failed"
)

// Snapshot is the derived homing status a UI layer consumes, carried over
// from original_source's get_status_for_web shape.
type Snapshot struct {
	State              State
	Message            string
	CanHome            bool
	RequiresUserAction bool
	Recommendations    []string
	Elapsed            time.Duration
	At                 time.Time
}

// Manager derives Snapshot from the protocol engine's telemetry and
// events, and exposes the imperative StartHoming/ManualUnlock operations
// spec §4.10 requires. It satisfies orchestrator.HomeChecker.
type Manager struct {
	engine *protocol.Engine

	mu          sync.Mutex
	snap        Snapshot
	homingStart time.Time
	progress    func(Snapshot)

	unsubscribe func()
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// New builds a Manager in the Unknown state and subscribes to engine's
// alarm/homing/connection events on bus.
func New(engine *protocol.Engine, bus *eventbus.Bus) *Manager {
	m := &Manager{
		engine: engine,
		snap: Snapshot{
			State:              StateUnknown,
			Message:            "checking homing status",
			RequiresUserAction: true,
			Recommendations:    []string{"check system connection"},
			At:                 time.Now(),
		},
	}
	m.unsubscribe = bus.Subscribe([]eventbus.Type{
		eventbus.AlarmDetected,
		eventbus.HomingProgress,
		eventbus.HomingCompleted,
		eventbus.ConnectionLost,
	}, m.handleEvent)
	return m
}

// Start runs a periodic refresh against the engine's latest status, to
// catch states (e.g. already-Alarm at startup) that predate any event
// this Manager would otherwise observe.
func (m *Manager) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.refresh()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop ends the periodic refresh and releases the event subscription.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.stopCh != nil {
			close(m.stopCh)
		}
	})
	m.wg.Wait()
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Snapshot returns the current derived homing status.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// IsHomed reports whether the system is in a state that motion commands
// may proceed from without homing first (spec §4.8 step 3). It satisfies
// orchestrator.HomeChecker.
func (m *Manager) IsHomed() bool {
	s := m.Snapshot().State
	return s == StateNotRequired || s == StateCompleted
}

// StartHoming runs the full homing sequence via the protocol engine,
// updating Snapshot as it progresses and invoking progress (if non-nil)
// on every transition. It blocks until homing completes or fails.
func (m *Manager) StartHoming(ctx context.Context, progress func(Snapshot)) error {
	m.mu.Lock()
	m.homingStart = time.Now()
	m.progress = progress
	m.mu.Unlock()

	m.setSnapshot(Snapshot{
		State:           StateInProgress,
		Message:         "starting homing sequence",
		Recommendations: []string{"homing starting, please wait", "ensure axes can move freely"},
	})

	err := m.engine.Home(ctx)

	m.mu.Lock()
	m.progress = nil
	m.mu.Unlock()

	if err != nil {
		m.setSnapshot(Snapshot{
			State:              StateFailed,
			Message:            fmt.Sprintf("homing failed: %v", err),
			CanHome:            true,
			RequiresUserAction: true,
			Recommendations: []string{
				"check limit switches",
				"ensure axes move freely",
				"try manual unlock if homing remains impossible",
			},
		})
		return err
	}

	m.setSnapshot(Snapshot{
		State:   StateCompleted,
		Message: "homing completed successfully",
		CanHome: true,
		Recommendations: []string{
			"system ready for operation",
			"position is now accurately known",
		},
	})
	return nil
}

// ManualUnlock clears the controller's alarm flag without homing,
// leaving position unknown (spec §4.10).
func (m *Manager) ManualUnlock(ctx context.Context) error {
	m.setSnapshot(Snapshot{
		State:           StateInProgress,
		Message:         "clearing alarm state",
		Recommendations: []string{"clearing alarm, please wait"},
	})

	if err := m.engine.ClearAlarm(ctx); err != nil {
		m.setSnapshot(Snapshot{
			State:              StateFailed,
			Message:            "unlock failed: still in alarm state",
			CanHome:            true,
			RequiresUserAction: true,
			Recommendations: []string{
				"manual unlock failed",
				"check limit switches",
				"manually move axes away from limits",
			},
		})
		return err
	}

	m.setSnapshot(Snapshot{
		State:   StateNotRequired,
		Message: "alarm cleared, position unknown",
		CanHome: true,
		Recommendations: []string{
			"alarm cleared successfully",
			"position is unknown, home when safe",
			"you can now move axes manually",
		},
	})
	return nil
}

func (m *Manager) handleEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.AlarmDetected:
		m.setSnapshot(Snapshot{
			State:              StateRequired,
			Message:            "controller in Alarm, homing required",
			CanHome:            true,
			RequiresUserAction: true,
			Recommendations: []string{
				"home all axes",
				"ensure axes can move freely",
				"check limit switches are connected",
			},
		})
	case eventbus.HomingProgress:
		axis, _ := e.Payload.(string)
		m.setSnapshot(Snapshot{
			State:           StateInProgress,
			Message:         fmt.Sprintf("homed axis %s", axis),
			Elapsed:         m.elapsed(),
			Recommendations: []string{"wait for homing to complete", "do not interrupt the process"},
		})
	case eventbus.HomingCompleted:
		m.setSnapshot(Snapshot{
			State:   StateCompleted,
			Message: "homing completed successfully",
			CanHome: true,
			Recommendations: []string{
				"system ready for operation",
				"position is now accurately known",
			},
		})
	case eventbus.ConnectionLost:
		m.setSnapshot(Snapshot{
			State:              StateUnknown,
			Message:            "motion controller not connected",
			RequiresUserAction: true,
			Recommendations: []string{
				"check serial connection",
				"verify the configured port",
				"run connection diagnostics",
			},
		})
	}
}

// refresh re-derives Snapshot from the engine's latest status report and
// sticky alarm flag, for states that predate any event this Manager
// observed directly.
func (m *Manager) refresh() {
	if m.engine.AlarmSet() {
		m.handleEvent(eventbus.Event{Type: eventbus.AlarmDetected})
		return
	}

	status, _, ok := m.engine.LatestStatus()
	if !ok {
		return
	}

	switch status.State {
	case statusline.StateHome:
		m.setSnapshot(Snapshot{
			State:           StateInProgress,
			Message:         "homing in progress",
			Elapsed:         m.elapsed(),
			Recommendations: []string{"wait for homing to complete", "do not interrupt the process"},
		})
	case statusline.StateIdle:
		m.mu.Lock()
		wasInProgress := m.snap.State == StateInProgress
		m.mu.Unlock()
		if wasInProgress {
			m.setSnapshot(Snapshot{
				State:   StateCompleted,
				Message: "homing completed successfully",
				CanHome: true,
				Recommendations: []string{
					"system ready for operation",
					"position is now accurately known",
				},
			})
			return
		}
		m.mu.Lock()
		already := m.snap.State == StateNotRequired || m.snap.State == StateCompleted
		m.mu.Unlock()
		if !already {
			m.setSnapshot(Snapshot{
				State:   StateNotRequired,
				Message: "system ready, already homed",
				CanHome: true,
				Recommendations: []string{
					"system is operational",
					"use manual controls or start scanning",
				},
			})
		}
	default:
		m.setSnapshot(Snapshot{
			State:              StateUnknown,
			Message:            fmt.Sprintf("controller state: %s", status.State),
			RequiresUserAction: true,
			Recommendations:    []string{"check controller status manually"},
		})
	}
}

func (m *Manager) elapsed() time.Duration {
	m.mu.Lock()
	start := m.homingStart
	m.mu.Unlock()
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

func (m *Manager) setSnapshot(s Snapshot) {
	s.At = time.Now()
	m.mu.Lock()
	m.snap = s
	cb := m.progress
	m.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}
