// Package protocol implements the GRBL-dialect line protocol spoken by the
// FluidNC controller: framing commands, correlating ok/error/ALARM
// responses, detecting motion completion, and driving the homing sequence.
// It is the hardest subsystem in this repository -- see spec.md §4.3 and
// §9 for the design rationale behind splitting it into a telemetry task and
// a command task communicating over channels, rather than a single
// read-and-match loop.
package protocol

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/fourdof/scanner/eventbus"
	"github.com/fourdof/scanner/serialport"
	"github.com/fourdof/scanner/statusline"
)

// ErrDisconnected is returned to any command in flight when the underlying
// serial link drops.
var ErrDisconnected = errors.New("protocol: controller disconnected")

// ErrStopped is returned to commands submitted after the engine has been
// stopped.
var ErrStopped = errors.New("protocol: engine stopped")

type statusReading struct {
	status statusline.FluidNCStatus
	at     time.Time
}

type response struct {
	kind statusline.Kind
	code int
}

type completionMode int

const (
	completionNone completionMode = iota
	completionStandard
	completionHoming
)

type commandRequest struct {
	line       string
	completion completionMode
	issuedAt   time.Time
	ctx        context.Context
	resultCh   chan error
}

// Engine owns one serial connection to a FluidNC controller and serializes
// every command issued against it. Telemetry (status reports, alarms,
// homing progress) is consumed continuously on a separate goroutine so a
// slow or stuck command never starves status visibility.
type Engine struct {
	port *serialport.Port
	cfg  Config
	bus  *eventbus.Bus

	statusSlot atomic.Value // *statusReading
	alarm      int32        // atomic bool: sticky alarm flag, spec §4.3

	st stats

	cmdReqs      chan *commandRequest
	respCh       chan response
	homingDoneCh chan struct{}
	spacing      *rate.Limiter

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wraps an already-open serial port. The caller retains ownership of
// bus and may share it with other components (homing, orchestrator).
func New(port *serialport.Port, cfg Config, bus *eventbus.Bus) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		port:         port,
		cfg:          cfg,
		bus:          bus,
		cmdReqs:      make(chan *commandRequest),
		respCh:       make(chan response, 8),
		homingDoneCh: make(chan struct{}, 1),
		spacing:      rate.NewLimiter(rate.Every(cfg.MinCommandSpacing), 1),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the telemetry and command tasks. It returns immediately;
// callers stop the engine with Stop.
func (e *Engine) Start() {
	e.st.startedAt = time.Now()
	e.wg.Add(2)
	go e.telemetryTask()
	go e.commandTask()
}

// Stop halts both tasks and unblocks any command currently awaiting a
// response. It does not close the underlying port.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// LatestStatus returns the most recent status report and how long ago it
// was observed, or ok == false if none has arrived yet.
func (e *Engine) LatestStatus() (status statusline.FluidNCStatus, age time.Duration, ok bool) {
	v := e.statusSlot.Load()
	if v == nil {
		return statusline.FluidNCStatus{}, 0, false
	}
	r := v.(*statusReading)
	return r.status, time.Since(r.at), true
}

// AlarmSet reports whether the sticky alarm flag is set (spec §4.3: cleared
// only by a successful homing cycle or explicit ClearAlarm).
func (e *Engine) AlarmSet() bool {
	return atomic.LoadInt32(&e.alarm) == 1
}

// Stats returns a snapshot of the running counters.
func (e *Engine) Stats() Stats {
	return e.st.snapshot()
}

// SubmitCommand sends line and, if it is motion-producing, blocks through
// the completion phase of §4.3. It returns a *Error on any protocol-level
// failure.
func (e *Engine) SubmitCommand(ctx context.Context, line string) error {
	mode := completionNone
	switch {
	case strings.TrimSpace(line) == HomeAll:
		mode = completionHoming
	case IsMotionCommand(line):
		mode = completionStandard
	}
	req := &commandRequest{
		line:       line,
		completion: mode,
		issuedAt:   time.Now(),
		ctx:        ctx,
		resultCh:   make(chan error, 1),
	}
	select {
	case e.cmdReqs <- req:
	case <-e.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resultCh:
		return err
	case <-e.stopCh:
		return ErrStopped
	}
}

// Immediate sends a single control byte (spec §4.1: '?', '!', '~', 0x18)
// bypassing the command queue entirely -- these are never line-terminated
// and never wait for a response.
func (e *Engine) Immediate(b byte) error {
	return e.port.WriteByte(b)
}

// ClearAlarm unlocks the controller with "$X" and, on success, clears the
// sticky alarm flag.
func (e *Engine) ClearAlarm(ctx context.Context) error {
	if err := e.SubmitCommand(ctx, Unlock); err != nil {
		return err
	}
	e.clearAlarmLocked()
	return nil
}

func (e *Engine) clearAlarmLocked() {
	atomic.StoreInt32(&e.alarm, 0)
}

func (e *Engine) publish(t eventbus.Type, payload interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: t, Source: "protocol", Payload: payload})
}

// telemetryTask consumes every line off the wire, parses it, and either
// updates engine state directly (status reports, alarms) or forwards it to
// the command task via respCh. It also free-runs the 2 Hz status poll.
func (e *Engine) telemetryTask() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case line, ok := <-e.port.Lines():
			if !ok {
				log.Printf("protocol: connection lost: %v", e.port.Err())
				e.publish(eventbus.ConnectionLost, e.port.Err())
				return
			}
			e.handleLine(line)
		case <-ticker.C:
			_ = e.port.WriteByte(serialport.StatusQuery)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) handleLine(line string) {
	parsed := statusline.Parse(line)
	switch parsed.Kind {
	case statusline.KindStatusReport:
		e.statusSlot.Store(&statusReading{status: parsed.Status, at: time.Now()})
		if parsed.Status.State == statusline.StateAlarm {
			if atomic.SwapInt32(&e.alarm, 1) == 0 {
				log.Println("protocol: controller entered Alarm state")
				e.publish(eventbus.AlarmDetected, nil)
			}
		}
	case statusline.KindOK:
		atomic.AddInt64(&e.st.responsesReceived, 1)
		e.forwardResponse(response{kind: statusline.KindOK})
	case statusline.KindError:
		e.forwardResponse(response{kind: statusline.KindError, code: parsed.Code})
	case statusline.KindAlarm:
		if atomic.SwapInt32(&e.alarm, 1) == 0 {
			log.Printf("protocol: ALARM:%d", parsed.Code)
			e.publish(eventbus.AlarmDetected, parsed.Code)
		}
		e.forwardResponse(response{kind: statusline.KindAlarm, code: parsed.Code})
	case statusline.KindHomingComplete:
		select {
		case e.homingDoneCh <- struct{}{}:
		default:
		}
		log.Println("protocol: homing complete")
		e.publish(eventbus.HomingCompleted, nil)
	case statusline.KindHomedAxis:
		log.Printf("protocol: homed axis %s", parsed.Axis)
		e.publish(eventbus.HomingProgress, parsed.Axis)
	default:
		// KindInfo, KindStartup, KindOther carry no protocol-level action.
	}
}

// forwardResponse hands an ok/error/ALARM line to whichever command is
// currently waiting on respCh. A non-blocking send is used because a
// response can legitimately arrive with nothing waiting -- e.g. a second
// "ok" echoed after a command task has already timed out and moved on.
func (e *Engine) forwardResponse(r response) {
	select {
	case e.respCh <- r:
	default:
	}
}

// drainResponses discards any stale entries left over from a previous
// command's timeout, so the next command doesn't read someone else's
// response.
func (e *Engine) drainResponses() {
	for {
		select {
		case <-e.respCh:
		default:
			return
		}
	}
}

// commandTask is the sole writer to the serial port for line-terminated
// commands, and the sole consumer of e.cmdReqs. Serializing here is what
// makes ok/error correlation unambiguous.
func (e *Engine) commandTask() {
	defer e.wg.Done()
	for {
		select {
		case req := <-e.cmdReqs:
			req.resultCh <- e.serveCommand(req)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) serveCommand(req *commandRequest) error {
	e.enforceSpacing()

	if e.AlarmSet() && !isHomingOrUnlock(req.line) {
		return newErr(KindRequiresHoming, 0, nil)
	}

	if req.completion == completionHoming {
		e.drainHomingSignal()
	}

	if err := e.writeAndAwaitAck(req.line); err != nil {
		return err
	}

	switch req.completion {
	case completionStandard:
		return e.awaitMotionCompletion(req.issuedAt)
	case completionHoming:
		return e.finishHoming()
	default:
		return nil
	}
}

// writeAndAwaitAck is the shared low-level step of every command: drain any
// stale response, write the line, and wait for ok/error/ALARM. It never
// touches the completion phase -- callers that need it layer that on top.
func (e *Engine) writeAndAwaitAck(line string) error {
	e.drainResponses()

	if err := e.port.WriteLine(line); err != nil {
		return newErr(KindTransport, 0, err)
	}
	atomic.AddInt64(&e.st.commandsSent, 1)

	select {
	case resp := <-e.respCh:
		switch resp.kind {
		case statusline.KindError:
			return newErr(KindControllerError, resp.code, nil)
		case statusline.KindAlarm:
			return newErr(KindControllerAlarm, resp.code, nil)
		}
		return nil
	case <-time.After(e.cfg.CommandTimeout):
		atomic.AddInt64(&e.st.timeouts, 1)
		log.Printf("protocol: command timeout awaiting response to %q", line)
		return newErr(KindProtocolTimeout, 0, nil)
	case <-e.stopCh:
		return newErr(KindTransport, 0, ErrDisconnected)
	}
}

func (e *Engine) drainHomingSignal() {
	select {
	case <-e.homingDoneCh:
	default:
	}
}

// enforceSpacing blocks until the rate limiter admits the next command,
// carrying over the original_source command_delay that protects the
// controller's small input buffer from being overrun.
func (e *Engine) enforceSpacing() {
	_ = e.spacing.Wait(context.Background())
}

// awaitMotionCompletion implements the three-part completion test of
// spec §4.3: the controller must have transitioned through a motion state
// (or 500ms must have elapsed without ever leaving Idle, for zero-distance
// moves), the state must now be Idle, and the last two consecutive status
// reports must agree on position within StabilityEpsilon.
func (e *Engine) awaitMotionCompletion(issuedAt time.Time) error {
	ticker := time.NewTicker(e.cfg.CompletionPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(e.cfg.MotionTimeout)
	defer deadline.Stop()

	needed := e.cfg.StableReportsRequired - 1
	if needed < 1 {
		needed = 1
	}

	leftIdle := false
	var prev *statusReading
	stable := 0

	for {
		select {
		case <-deadline.C:
			atomic.AddInt64(&e.st.motionTimeouts, 1)
			log.Printf("protocol: motion timeout, issued %s ago", time.Since(issuedAt))
			return newErr(KindMotionTimeout, 0, nil)
		case <-e.stopCh:
			return newErr(KindTransport, 0, ErrDisconnected)
		case <-ticker.C:
			_ = e.port.WriteByte(serialport.StatusQuery)

			v := e.statusSlot.Load()
			if v == nil {
				continue
			}
			reading := v.(*statusReading)

			switch reading.status.State {
			case statusline.StateRun, statusline.StateJog, statusline.StateHome:
				leftIdle = true
				prev, stable = nil, 0
				continue
			case statusline.StateIdle:
				// fall through to stability check below
			default:
				prev, stable = nil, 0
				continue
			}

			if !leftIdle && time.Since(issuedAt) < e.cfg.NeverLeftIdleGrace {
				prev = reading
				continue
			}

			if prev != nil && positionsWithinEpsilon(prev.status, reading.status, e.cfg.StabilityEpsilon) {
				stable++
			} else {
				stable = 0
			}
			prev = reading
			if stable >= needed {
				return nil
			}
		}
	}
}

func positionsWithinEpsilon(a, b statusline.FluidNCStatus, eps float64) bool {
	return withinEps(a.MPos.X, b.MPos.X, eps) &&
		withinEps(a.MPos.Y, b.MPos.Y, eps) &&
		withinEps(a.MPos.Z, b.MPos.Z, eps) &&
		withinEps(a.MPos.C, b.MPos.C, eps)
}

func withinEps(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}
