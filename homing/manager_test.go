package homing

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fourdof/scanner/eventbus"
	"github.com/fourdof/scanner/protocol"
	"github.com/fourdof/scanner/serialport"
)

// fakeController plays the FluidNC side of a net.Pipe, mirroring
// protocol's own engine_test.go harness.
type fakeController struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func newFakeController(t *testing.T) (*fakeController, *serialport.Port) {
	t.Helper()
	client, server := net.Pipe()
	port := serialport.OpenConn(client)
	fc := &fakeController{conn: server, scanner: bufio.NewScanner(server)}
	t.Cleanup(func() {
		_ = server.Close()
		_ = port.Close()
	})
	return fc, port
}

func (f *fakeController) next(t *testing.T) string {
	t.Helper()
	for f.scanner.Scan() {
		line := strings.ReplaceAll(f.scanner.Text(), "?", "")
		if line == "" {
			continue
		}
		return line
	}
	t.Fatalf("fake controller: no more input: %v", f.scanner.Err())
	return ""
}

func (f *fakeController) send(t *testing.T, line string) {
	t.Helper()
	if _, err := f.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("fake controller write: %v", err)
	}
}

func testConfig() protocol.Config {
	return protocol.Config{
		CommandTimeout:         2 * time.Second,
		MotionTimeout:          2 * time.Second,
		HomingTimeout:          2 * time.Second,
		StatusPollInterval:     50 * time.Millisecond,
		CompletionPollInterval: 20 * time.Millisecond,
		MinCommandSpacing:      0,
		StabilityEpsilon:       0.001,
		StableReportsRequired:  2,
		NeverLeftIdleGrace:     80 * time.Millisecond,
		UnlockAttempts:         1,
		UnlockSpacing:          10 * time.Millisecond,
		PostHomingSettle:       10 * time.Millisecond,
	}
}

func waitForState(t *testing.T, m *Manager, want State, timeout time.Duration) Snapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last Snapshot
	for time.Now().Before(deadline) {
		last = m.Snapshot()
		if last.State == want {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, last was %+v", want, last)
	return last
}

func TestNewManagerStartsUnknown(t *testing.T) {
	fc, port := newFakeController(t)
	_ = fc
	bus := eventbus.New()
	engine := protocol.New(port, testConfig(), bus)
	engine.Start()
	t.Cleanup(engine.Stop)

	m := New(engine, bus)
	if got := m.Snapshot().State; got != StateUnknown {
		t.Fatalf("expected Unknown before any telemetry, got %s", got)
	}
	if m.IsHomed() {
		t.Fatal("Unknown must not report IsHomed")
	}
}

func TestAlarmDetectedMarksRequired(t *testing.T) {
	fc, port := newFakeController(t)
	bus := eventbus.New()
	engine := protocol.New(port, testConfig(), bus)
	engine.Start()
	t.Cleanup(engine.Stop)

	m := New(engine, bus)

	fc.send(t, "<Alarm|MPos:0.000,0.000,0.000,0.000|FS:0,0>")

	snap := waitForState(t, m, StateRequired, time.Second)
	if !snap.RequiresUserAction || !snap.CanHome {
		t.Fatalf("unexpected snapshot on alarm: %+v", snap)
	}
	if m.IsHomed() {
		t.Fatal("Required must not report IsHomed")
	}
}

func TestStartHomingReachesCompleted(t *testing.T) {
	fc, port := newFakeController(t)
	bus := eventbus.New()
	engine := protocol.New(port, testConfig(), bus)
	engine.Start()
	t.Cleanup(engine.Stop)

	m := New(engine, bus)

	var progressed []State
	done := make(chan error, 1)
	go func() {
		done <- m.StartHoming(context.Background(), func(s Snapshot) {
			progressed = append(progressed, s.State)
		})
	}()

	if got := fc.next(t); got != "$X" {
		t.Fatalf("expected unlock, got %q", got)
	}
	fc.send(t, "ok")

	if got := fc.next(t); got != "$H" {
		t.Fatalf("expected $H, got %q", got)
	}
	fc.send(t, "ok")

	fc.send(t, "[MSG:Homed:Z]")
	fc.send(t, "[MSG:Homed:X]")
	fc.send(t, "[MSG:DBG: Homing done]")

	// finishHoming sends a trailing best-effort unlock; answer it so the
	// command task doesn't stall out waiting on CommandTimeout.
	go func() {
		if got := fc.next(t); got == "$X" {
			fc.send(t, "ok")
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StartHoming: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("StartHoming did not return in time")
	}

	final := waitForState(t, m, StateCompleted, time.Second)
	if !final.CanHome {
		t.Fatalf("unexpected final snapshot: %+v", final)
	}
	if !m.IsHomed() {
		t.Fatal("Completed must report IsHomed")
	}

	var sawInProgress bool
	for _, s := range progressed {
		if s == StateInProgress {
			sawInProgress = true
		}
	}
	if !sawInProgress {
		t.Fatalf("expected at least one InProgress callback, got %v", progressed)
	}
}

func TestManualUnlockClearsAlarmToNotRequired(t *testing.T) {
	fc, port := newFakeController(t)
	bus := eventbus.New()
	engine := protocol.New(port, testConfig(), bus)
	engine.Start()
	t.Cleanup(engine.Stop)

	m := New(engine, bus)

	fc.send(t, "<Alarm|MPos:0.000,0.000,0.000,0.000|FS:0,0>")
	waitForState(t, m, StateRequired, time.Second)

	done := make(chan error, 1)
	go func() {
		done <- m.ManualUnlock(context.Background())
	}()

	if got := fc.next(t); got != "$X" {
		t.Fatalf("expected unlock, got %q", got)
	}
	fc.send(t, "ok")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ManualUnlock: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ManualUnlock did not return in time")
	}

	final := m.Snapshot()
	if final.State != StateNotRequired {
		t.Fatalf("expected NotRequired after manual unlock, got %s", final.State)
	}
	if !m.IsHomed() {
		t.Fatal("NotRequired must report IsHomed (motion may proceed)")
	}
}

func TestConnectionLostMarksUnknown(t *testing.T) {
	fc, port := newFakeController(t)
	bus := eventbus.New()
	engine := protocol.New(port, testConfig(), bus)
	engine.Start()
	t.Cleanup(engine.Stop)

	m := New(engine, bus)
	fc.send(t, "<Alarm|MPos:0.000,0.000,0.000,0.000|FS:0,0>")
	waitForState(t, m, StateRequired, time.Second)

	_ = fc.conn.Close()

	snap := waitForState(t, m, StateUnknown, time.Second)
	if !snap.RequiresUserAction {
		t.Fatalf("unexpected snapshot on connection loss: %+v", snap)
	}
}
