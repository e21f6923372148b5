package motionadapter

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fourdof/scanner/coordinate"
	"github.com/fourdof/scanner/eventbus"
	"github.com/fourdof/scanner/protocol"
	"github.com/fourdof/scanner/serialport"
)

type fakeController struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func newHarness(t *testing.T) (*fakeController, *protocol.Engine) {
	t.Helper()
	client, server := net.Pipe()
	port := serialport.OpenConn(client)
	fc := &fakeController{conn: server, scanner: bufio.NewScanner(server)}

	cfg := protocol.Config{
		CommandTimeout:         2 * time.Second,
		MotionTimeout:          2 * time.Second,
		StatusPollInterval:     50 * time.Millisecond,
		CompletionPollInterval: 20 * time.Millisecond,
		MinCommandSpacing:      time.Millisecond,
		StabilityEpsilon:       0.001,
		StableReportsRequired:  2,
		NeverLeftIdleGrace:     80 * time.Millisecond,
	}
	e := protocol.New(port, cfg, eventbus.New())
	e.Start()

	t.Cleanup(func() {
		e.Stop()
		_ = server.Close()
		_ = port.Close()
	})
	return fc, e
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

// drain discards everything the engine writes from now on. net.Pipe is
// unbuffered, so once a test has read its last command the completion-phase
// '?' polls would otherwise block the engine's writes forever.
func (f *fakeController) drain() {
	go func() { _, _ = io.Copy(io.Discard, f.conn) }()
}

func (f *fakeController) send(t *testing.T, line string) {
	t.Helper()
	if _, err := f.conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("fake controller write: %v", err)
	}
}

func TestMoveToRejectsOutOfRange(t *testing.T) {
	_, e := newHarness(t)
	a := New(e, coordinate.DefaultAxes())

	err := a.MoveTo(context.Background(), coordinate.Position4D{X: 9999, Y: 0, Z: 0, C: 0})
	if err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestMoveToSendsFeedMoveAndCachesPosition(t *testing.T) {
	fc, e := newHarness(t)
	a := New(e, coordinate.DefaultAxes())

	// Seed a known current position.
	fc.send(t, "<Idle|MPos:0.000,0.000,0.000,0.000>")
	time.Sleep(30 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- a.MoveTo(context.Background(), coordinate.Position4D{X: 10, Y: 0, Z: 0, C: 0}) }()

	line := fc.next(t)
	if !strings.HasPrefix(line, "G1") || !strings.Contains(line, "X10.000") {
		t.Fatalf("unexpected command: %q", line)
	}
	fc.drain()
	fc.send(t, "ok")
	fc.send(t, "<Run|MPos:5.000,0.000,0.000,0.000>")
	fc.send(t, "<Idle|MPos:10.000,0.000,0.000,0.000>")
	fc.send(t, "<Idle|MPos:10.000,0.000,0.000,0.000>")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("MoveTo: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	cur, err := a.CurrentPosition(context.Background())
	if err != nil {
		t.Fatalf("CurrentPosition: %v", err)
	}
	if cur.X != 10 {
		t.Fatalf("expected cached X=10, got %v", cur.X)
	}
}

func TestMoveToUsesShortestZPath(t *testing.T) {
	fc, e := newHarness(t)
	a := New(e, coordinate.DefaultAxes())

	fc.send(t, "<Idle|MPos:0.000,0.000,10.000,0.000>")
	time.Sleep(30 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- a.MoveTo(context.Background(), coordinate.Position4D{X: 0, Y: 0, Z: 350, C: 0}) }()

	line := fc.next(t)
	if !strings.Contains(line, "Z-10.000") {
		t.Fatalf("expected shortest-path Z-10.000, got %q", line)
	}
	fc.drain()
	fc.send(t, "ok")
	fc.send(t, "<Run|MPos:0.000,0.000,-5.000,0.000>")
	fc.send(t, "<Idle|MPos:0.000,0.000,-10.000,0.000>")
	fc.send(t, "<Idle|MPos:0.000,0.000,-10.000,0.000>")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("MoveTo: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestEmergencyStopSendsFeedHoldAndSoftReset(t *testing.T) {
	fc, e := newHarness(t)
	a := New(e, coordinate.DefaultAxes())

	// Seed a cached position so EmergencyStop has something to invalidate.
	fc.send(t, "<Idle|MPos:5.000,0.000,0.000,0.000>")
	time.Sleep(30 * time.Millisecond)
	if _, err := a.CurrentPosition(context.Background()); err != nil {
		t.Fatalf("CurrentPosition: %v", err)
	}
	if _, ok := a.cached(); !ok {
		t.Fatal("expected a cached position before EmergencyStop")
	}

	// net.Pipe is unbuffered, so EmergencyStop's byte writes only complete
	// once the reads below take them; run it concurrently.
	stopErr := make(chan error, 1)
	go func() { stopErr <- a.EmergencyStop() }()

	// Immediate controls aren't line-terminated, so read raw bytes directly
	// off the fake controller's side of the pipe rather than through
	// fc.next's line scanner.
	r := bufio.NewReader(fc.conn)
	var sawFeedHold, sawSoftReset bool
	deadline := time.Now().Add(2 * time.Second)
	for !sawFeedHold || !sawSoftReset {
		if time.Now().After(deadline) {
			t.Fatalf("did not observe both bytes: feedHold=%v softReset=%v", sawFeedHold, sawSoftReset)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		switch b {
		case serialport.FeedHold:
			sawFeedHold = true
		case serialport.SoftReset:
			sawSoftReset = true
		}
	}
	// Keep draining so later '?' polls do not block the engine.
	go func() { _, _ = io.Copy(io.Discard, r) }()

	if err := <-stopErr; err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}

	if got := a.PositionState(); got != PositionStateUnknown {
		t.Fatalf("expected PositionState Unknown after EmergencyStop, got %s", got)
	}
	if _, ok := a.cached(); ok {
		t.Fatal("expected position cache to be invalidated after EmergencyStop")
	}
}
