// Package orchestrator implements the scan lifecycle state machine of spec
// §4.8: it drives a pattern's points through Moving, Stabilizing, Capturing
// and Advancing, persists a resumable ScanState, and applies the per-point
// failure policy. Grounded in fsm/fsm.go's Disturbance -- a pre-recorded
// sequence played back over a channel-driven pause/resume/stop signal --
// generalized from a fixed-rate DAC playback loop into a variable-duration
// per-point execution loop with its own failure and persistence policy.
package orchestrator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/fourdof/scanner/capture"
	"github.com/fourdof/scanner/coordinate"
	"github.com/fourdof/scanner/eventbus"
	"github.com/fourdof/scanner/motionadapter"
	"github.com/fourdof/scanner/pattern"
	"github.com/fourdof/scanner/protocol"
)

// errTwoConsecutiveFailures is returned internally from the execution loop
// when the per-point failure policy escalates to a scan-level failure
// (spec §4.8: "If two consecutive points fail, classify as Failed").
var errTwoConsecutiveFailures = errors.New("orchestrator: two consecutive points failed")

// Motion is the narrow motion surface the orchestrator drives. It is
// satisfied by *motionadapter.Adapter; tests substitute a fake.
type Motion interface {
	MoveTo(ctx context.Context, target coordinate.Position4D) error
	MoveToScaled(ctx context.Context, target coordinate.Position4D, scale float64) error
	EmergencyStop() error
	SetProfile(profile motionadapter.FeedrateProfile)
}

// HomeChecker reports whether the motion system has completed homing.
// Satisfied by the homing status manager's derived state.
type HomeChecker interface {
	IsHomed() bool
}

// ErrNotHomed is returned by Start and ResumeScan when HomeChecker reports
// the motion adapter is not yet homed (spec §4.8 step 3).
var ErrNotHomed = errors.New("orchestrator: motion adapter is not homed")

// ErrAlreadyRunning is returned by Start when a scan is already in
// progress on this Orchestrator.
var ErrAlreadyRunning = errors.New("orchestrator: a scan is already running")

// ErrEmptyPattern is returned by Start when the pattern has no points.
var ErrEmptyPattern = errors.New("orchestrator: pattern has no points")

// Orchestrator binds motion, capture, and lighting into the execution loop
// of spec §4.8. One Orchestrator runs one scan at a time; callers wanting
// concurrent scans construct more than one, each against its own Motion.
type Orchestrator struct {
	motion   Motion
	homed    HomeChecker
	camera   capture.Camera
	focus    capture.FocusController
	lighting capture.Lighting
	bus      *eventbus.Bus
	axes     map[coordinate.AxisID]coordinate.AxisKind
	cfg      Config

	mu          sync.Mutex
	state       *ScanState
	points      []pattern.ScanPoint
	consecutive int

	pauseRequested  int32
	pauseIsImmediate int32

	resumeCh chan struct{}
	cancelCh chan struct{}
	cancelOnce sync.Once
	doneCh   chan struct{}
}

// New builds an Orchestrator. lighting and camera/focus may be nil if no
// implementation is wired for that concern (spec §4.11: lighting is
// always optional; a nil camera makes Capturing a no-op, useful for
// motion-only dry runs).
func New(motion Motion, homed HomeChecker, camera capture.Camera, focus capture.FocusController, lighting capture.Lighting, bus *eventbus.Bus, axes map[coordinate.AxisID]coordinate.AxisKind, cfg Config) *Orchestrator {
	return &Orchestrator{
		motion:   motion,
		homed:    homed,
		camera:   camera,
		focus:    focus,
		lighting: lighting,
		bus:      bus,
		axes:     axes,
		cfg:      cfg.withDefaults(),
	}
}

// Start validates pattern and begins a new scan in the background,
// returning the initial persisted ScanState. scanID may be empty, in
// which case a timestamp-derived ID is assigned.
func (o *Orchestrator) Start(ctx context.Context, p *pattern.ScanPattern, outputDir, scanID string) (*ScanState, error) {
	if p == nil || len(p.Points) == 0 {
		return nil, ErrEmptyPattern
	}
	for i, pt := range p.Points {
		if err := coordinate.ValidatePosition(pt.Position, o.axes); err != nil {
			return nil, errors.Wrapf(err, "orchestrator: point %d", i)
		}
	}
	if !o.homed.IsHomed() {
		return nil, ErrNotHomed
	}

	o.mu.Lock()
	if o.state != nil && o.state.Status == StatusRunning {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	o.mu.Unlock()

	if scanID == "" {
		scanID = time.Now().UTC().Format("20060102T150405.000Z")
	}

	now := time.Now()
	state := &ScanState{
		ScanID:      scanID,
		PatternID:   p.ID,
		OutputDir:   outputDir,
		Status:      StatusInitializing,
		Phase:       PhaseNone,
		TotalPoints: len(p.Points),
		Parameters:  p.Parameters,
		Timing:      Timing{Start: now, LastUpdate: now},
	}
	if err := state.Save(); err != nil {
		return nil, err
	}

	o.motion.SetProfile(motionadapter.ProfileScanning)

	o.mu.Lock()
	o.state = state
	o.points = p.Points
	o.consecutive = 0
	o.resumeCh = make(chan struct{})
	o.cancelCh = make(chan struct{})
	o.cancelOnce = sync.Once{}
	o.doneCh = make(chan struct{})
	atomic.StoreInt32(&o.pauseRequested, 0)
	atomic.StoreInt32(&o.pauseIsImmediate, 0)
	o.mu.Unlock()

	state.Status = StatusRunning
	if err := state.Save(); err != nil {
		return nil, err
	}
	o.publish(eventbus.ScanStarted, state.ScanID)

	go o.run(ctx)

	return state, nil
}

// ResumeScan restores execution of a scan whose persisted state has
// status Paused, Failed, or Cancelled (spec §4.8 "Resume"). p must be the
// same pattern the scan was originally generated from; already-completed
// points (index < persisted.CurrentIndex) are skipped.
func (o *Orchestrator) ResumeScan(ctx context.Context, p *pattern.ScanPattern, persisted *ScanState) (*ScanState, error) {
	switch persisted.Status {
	case StatusPaused, StatusFailed, StatusCancelled:
	default:
		return nil, errors.Errorf("orchestrator: cannot resume scan with status %s", persisted.Status)
	}
	if !o.homed.IsHomed() {
		return nil, ErrNotHomed
	}

	if persisted.CurrentIndex >= persisted.TotalPoints {
		persisted.Status = StatusCompleted
		now := time.Now()
		persisted.Timing.End = &now
		persisted.Timing.LastUpdate = now
		if err := persisted.Save(); err != nil {
			return nil, err
		}
		return persisted, nil
	}

	o.motion.SetProfile(motionadapter.ProfileScanning)

	o.mu.Lock()
	o.state = persisted
	o.points = p.Points
	o.consecutive = 0
	o.resumeCh = make(chan struct{})
	o.cancelCh = make(chan struct{})
	o.cancelOnce = sync.Once{}
	o.doneCh = make(chan struct{})
	atomic.StoreInt32(&o.pauseRequested, 0)
	atomic.StoreInt32(&o.pauseIsImmediate, 0)
	o.mu.Unlock()

	persisted.Status = StatusRunning
	if err := persisted.Save(); err != nil {
		return nil, err
	}
	o.publish(eventbus.ScanResumed, persisted.ScanID)

	go o.run(ctx)

	return persisted, nil
}

// Pause requests a deferred pause: the loop finishes the point in flight
// and blocks before starting the next one (spec §4.8).
func (o *Orchestrator) Pause() {
	atomic.StoreInt32(&o.pauseRequested, 1)
}

// PauseImmediate requests an emergency pause: motion feed-hold is issued
// right away and the loop blocks without completing the current point
// (spec §4.8).
func (o *Orchestrator) PauseImmediate() {
	atomic.StoreInt32(&o.pauseIsImmediate, 1)
	atomic.StoreInt32(&o.pauseRequested, 1)
	_ = o.motion.EmergencyStop()
}

// Resume clears a pending or in-effect pause and wakes the execution loop.
func (o *Orchestrator) Resume() {
	atomic.StoreInt32(&o.pauseRequested, 0)
	atomic.StoreInt32(&o.pauseIsImmediate, 0)

	o.mu.Lock()
	ch := o.resumeCh
	o.resumeCh = make(chan struct{})
	o.mu.Unlock()

	close(ch)
	o.publish(eventbus.ScanResumed, o.scanID())
}

// Cancel stops the execution loop, issuing an immediate motion stop in
// case a move is in flight (spec §4.8).
func (o *Orchestrator) Cancel() {
	o.cancelOnce.Do(func() {
		close(o.cancelCh)
	})
	_ = o.motion.EmergencyStop()
}

// Done reports when the execution loop has exited, for callers that want
// to block until a scan reaches a terminal or paused state.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doneCh
}

// State returns a snapshot of the current ScanState.
func (o *Orchestrator) State() ScanState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.state
}

func (o *Orchestrator) scanID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.ScanID
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.doneCh)
	for {
		if o.isCancelled() {
			o.finishCancelled()
			return
		}
		if cancelled := o.blockIfPaused(); cancelled {
			o.finishCancelled()
			return
		}

		idx := o.currentIndex()
		if idx >= len(o.points) {
			o.finishCompleted()
			return
		}

		if _, fatal := o.executePoint(ctx, idx); fatal != nil {
			o.finishFailed(fatal)
			return
		}
	}
}

// blockIfPaused persists Paused and blocks until Resume or Cancel, if a
// pause is currently in effect. It returns true if the block ended via
// cancellation.
func (o *Orchestrator) blockIfPaused() bool {
	if atomic.LoadInt32(&o.pauseRequested) == 0 {
		return false
	}

	o.mu.Lock()
	s := o.state
	s.Status = StatusPaused
	s.Timing.LastUpdate = time.Now()
	o.mu.Unlock()
	_ = s.Save()
	o.publish(eventbus.ScanPaused, s.ScanID)

	o.mu.Lock()
	ch := o.resumeCh
	o.mu.Unlock()

	select {
	case <-ch:
		o.mu.Lock()
		s = o.state
		s.Status = StatusRunning
		o.mu.Unlock()
		_ = s.Save()
		return false
	case <-o.cancelCh:
		return true
	}
}

func (o *Orchestrator) isCancelled() bool {
	select {
	case <-o.cancelCh:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) immediatePauseRequested() bool {
	return atomic.LoadInt32(&o.pauseRequested) == 1 && atomic.LoadInt32(&o.pauseIsImmediate) == 1
}

func (o *Orchestrator) currentIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.CurrentIndex
}

// executePoint runs one point through Moving, Stabilizing, Capturing, and
// Advancing. interrupted is true when an immediate pause or a cancel cut
// the point short; fatal is non-nil for a Disconnected error or for a
// second consecutive point failure (errTwoConsecutiveFailures), either of
// which stops the scan entirely.
func (o *Orchestrator) executePoint(ctx context.Context, idx int) (interrupted bool, fatal error) {
	pt := o.points[idx]

	o.setPhase(PhaseSetup)
	o.setPhase(PhaseMoving)

	pointFailed, moveErr := o.moveWithRetry(ctx, idx, pt)
	if moveErr != nil {
		o.recordError(idx, ErrorKindDisconnected, moveErr.Error(), false, 0)
		return false, moveErr
	}
	if o.immediatePauseRequested() {
		return true, nil
	}
	if pointFailed {
		if o.bumpConsecutiveFailures() {
			return false, errTwoConsecutiveFailures
		}
		o.setPhase(PhaseAdvancing)
		o.advance(idx)
		return false, nil
	}
	o.resetConsecutiveFailures()

	o.setPhase(PhaseStabilizing)
	dwell := time.Duration(pt.DwellMs) * time.Millisecond
	if dwell < o.cfg.MinimumDwell {
		dwell = o.cfg.MinimumDwell
	}
	select {
	case <-time.After(dwell):
	case <-o.cancelCh:
		return true, nil
	}
	if o.immediatePauseRequested() {
		return true, nil
	}

	o.setPhase(PhaseCapturing)
	o.capturePoint(ctx, idx, pt)
	if o.immediatePauseRequested() {
		return true, nil
	}

	o.setPhase(PhaseAdvancing)
	o.advance(idx)
	o.publish(eventbus.PointCompleted, idx)
	return false, nil
}

// moveWithRetry applies spec §4.8's motion failure policy: one retry at a
// halved feedrate before the point is classified PointFailed. A
// Disconnected underlying error is returned as fatal instead of retried.
func (o *Orchestrator) moveWithRetry(ctx context.Context, idx int, pt pattern.ScanPoint) (pointFailed bool, fatal error) {
	err := o.motion.MoveTo(ctx, pt.Position)
	if err == nil {
		return false, nil
	}
	if isDisconnected(err) {
		return false, err
	}
	o.publish(eventbus.MotionError, err.Error())

	scale := o.cfg.MotionRetryFeedrateScale
	retryErr := o.motion.MoveToScaled(ctx, pt.Position, scale)
	if retryErr == nil {
		return false, nil
	}
	if isDisconnected(retryErr) {
		return false, retryErr
	}

	o.recordError(idx, ErrorKindMotion, retryErr.Error(), true, scale)
	return true, nil
}

func (o *Orchestrator) capturePoint(ctx context.Context, idx int, pt pattern.ScanPoint) {
	if pt.Focus.Kind == pattern.FocusManual && len(pt.Focus.ManualValues) > 0 {
		for _, v := range pt.Focus.ManualValues {
			if o.focus != nil {
				if err := o.focus.SetFocus(ctx, capture.FocusManual, v); err != nil {
					o.recordError(idx, ErrorKindCapture, err.Error(), false, 0)
				}
			}
			o.captureOne(ctx, idx, pt)
			if o.immediatePauseRequested() {
				return
			}
		}
		return
	}

	if o.focus != nil {
		if err := o.focus.SetFocus(ctx, focusModeOf(pt.Focus.Kind), 0); err != nil {
			o.recordError(idx, ErrorKindCapture, err.Error(), false, 0)
		}
	}
	count := pt.CaptureCount
	if count == 0 {
		count = 1
	}
	for i := uint16(0); i < count; i++ {
		o.captureOne(ctx, idx, pt)
		if o.immediatePauseRequested() {
			return
		}
	}
}

// captureOne fires the flash (if any) and the shutter so they overlap as
// spec §4.8/§4.11 describe: the flash activates roughly LightingLeadTime
// before the shutter and, since Flash is contracted not to return until
// complete, is expected to still be held through the exposure. flashDone
// is joined after the capture so a flash error is recorded even though it
// resolves concurrently with (or after) the shutter.
func (o *Orchestrator) captureOne(ctx context.Context, idx int, pt pattern.ScanPoint) {
	var flashDone chan error
	if pt.Lighting != nil && o.lighting != nil {
		flashDone = make(chan error, 1)
		go func() {
			flashDone <- o.lighting.Flash(ctx, pt.Lighting.Zones, pt.Lighting.Intensity, pt.Lighting.DurationMs)
		}()
		select {
		case <-time.After(o.cfg.LightingLeadTime):
		case <-ctx.Done():
		}
	}

	if o.camera != nil {
		if _, err := o.camera.Capture(ctx); err != nil {
			o.recordError(idx, ErrorKindCapture, err.Error(), false, 0)
		} else {
			o.mu.Lock()
			o.state.ImagesCaptured++
			o.mu.Unlock()
		}
	}

	if flashDone != nil {
		if err := <-flashDone; err != nil {
			o.recordError(idx, ErrorKindLighting, err.Error(), false, 0)
		}
	}
}

func (o *Orchestrator) bumpConsecutiveFailures() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consecutive++
	return o.consecutive >= o.cfg.ConsecutiveFailureLimit
}

func (o *Orchestrator) resetConsecutiveFailures() {
	o.mu.Lock()
	o.consecutive = 0
	o.mu.Unlock()
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.state.Phase = p
	o.state.Timing.LastUpdate = time.Now()
	o.mu.Unlock()
}

// advance moves current_index forward and persists every PersistEvery
// points, in addition to the always-persisted state transitions (spec
// §4.8: "persist every N points (N=5 default)").
func (o *Orchestrator) advance(idx int) {
	o.mu.Lock()
	s := o.state
	s.CurrentIndex = idx + 1
	persistNow := o.cfg.PersistEvery > 0 && s.CurrentIndex%o.cfg.PersistEvery == 0
	o.mu.Unlock()
	if persistNow {
		_ = s.Save()
	}
}

func (o *Orchestrator) recordError(idx int, kind ErrorKind, msg string, pointFailed bool, retryFeedrate float64) {
	rec := ErrorRecord{
		PointIndex:    idx,
		Kind:          kind,
		Message:       msg,
		At:            time.Now(),
		PointFailed:   pointFailed,
		RetryFeedrate: retryFeedrate,
	}
	o.mu.Lock()
	o.state.Errors = append(o.state.Errors, rec)
	o.mu.Unlock()
	log.Printf("orchestrator: point %d %s error: %s", idx, kind, msg)
}

func (o *Orchestrator) finishCompleted() {
	o.mu.Lock()
	s := o.state
	s.Status = StatusCompleted
	s.Phase = PhaseNone
	now := time.Now()
	s.Timing.End = &now
	s.Timing.LastUpdate = now
	o.mu.Unlock()
	_ = s.Save()
	o.motion.SetProfile(motionadapter.ProfileManual)
	o.publish(eventbus.ScanCompleted, s.ScanID)
}

func (o *Orchestrator) finishCancelled() {
	o.mu.Lock()
	s := o.state
	s.Status = StatusCancelled
	now := time.Now()
	s.Timing.End = &now
	s.Timing.LastUpdate = now
	o.mu.Unlock()
	_ = s.Save()
	o.motion.SetProfile(motionadapter.ProfileManual)
	o.publish(eventbus.ScanCancelled, s.ScanID)
}

func (o *Orchestrator) finishFailed(cause error) {
	o.mu.Lock()
	s := o.state
	s.Status = StatusFailed
	now := time.Now()
	s.Timing.End = &now
	s.Timing.LastUpdate = now
	o.mu.Unlock()
	_ = s.Save()
	log.Printf("orchestrator: scan %s failed: %v", s.ScanID, cause)
	o.publish(eventbus.ScanFailed, cause.Error())
}

func (o *Orchestrator) publish(t eventbus.Type, payload interface{}) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: t, Source: "orchestrator", Payload: payload})
}

func focusModeOf(k pattern.FocusKind) capture.FocusMode {
	switch k {
	case pattern.FocusAuto:
		return capture.FocusAuto
	case pattern.FocusContinuous:
		return capture.FocusContinuous
	case pattern.FocusManual:
		return capture.FocusManual
	default:
		return capture.FocusDefault
	}
}

func isDisconnected(err error) bool {
	if errors.Is(err, protocol.ErrDisconnected) {
		return true
	}
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr.Kind == protocol.KindTransport
	}
	return false
}
