// Package motionadapter translates axis-typed motion requests -- move to,
// move by, home, stop -- into the G-code lines package protocol actually
// sends, and caches the controller's last known position so callers don't
// each have to pester the wire for it. Grounded on
// original_source/V2.0/motion/adapter.py's StandardMotionAdapter.
package motionadapter

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/fourdof/scanner/coordinate"
	"github.com/fourdof/scanner/protocol"
	"github.com/fourdof/scanner/serialport"
	"github.com/fourdof/scanner/statusline"
)

// FeedrateProfile selects which per-axis feedrate table Adapter consults.
// Manual favors responsiveness for interactive jogging; Scanning trades
// speed for the smoother, lower-vibration moves a capture sequence wants.
type FeedrateProfile int

const (
	ProfileManual FeedrateProfile = iota
	ProfileScanning
)

// scanningFeedScale is how much Scanning derates Manual's feedrate.
const scanningFeedScale = 0.4

// positionCacheTTL is how long a cached position is trusted before a fresh
// status report is required, per spec §4.4 (100 ms staleness bound).
const positionCacheTTL = 100 * time.Millisecond

// ErrNoStatus is returned when CurrentPosition cannot obtain a fresh status
// report before its internal deadline.
var ErrNoStatus = errors.New("motionadapter: no status report available")

// PositionState reports whether the adapter's idea of the controller's
// position can be trusted. EmergencyStop drops this to Unknown (spec §4.4:
// "sets state to Unknown"); it returns to Known once a fresh position is
// established, either by a completed move or a completed homing cycle.
type PositionState int

const (
	PositionStateKnown PositionState = iota
	PositionStateUnknown
)

func (s PositionState) String() string {
	if s == PositionStateUnknown {
		return "Unknown"
	}
	return "Known"
}

// Adapter is the axis-typed motion surface used by the scan orchestrator.
// It is safe for concurrent use.
type Adapter struct {
	engine  *protocol.Engine
	axes    map[coordinate.AxisID]coordinate.AxisKind
	profile FeedrateProfile

	mu       sync.Mutex
	cache    *coordinate.Position4D
	cacheAt  time.Time
	posState PositionState
}

// New wraps engine with axis limit and feedrate knowledge from axes.
func New(engine *protocol.Engine, axes map[coordinate.AxisID]coordinate.AxisKind) *Adapter {
	return &Adapter{engine: engine, axes: axes, profile: ProfileManual}
}

// PositionState reports whether the last known position is still trusted,
// for orchestrator/homing callers that want to react to an emergency stop
// without depending on the event bus.
func (a *Adapter) PositionState() PositionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.posState
}

// SetProfile switches the feedrate table used by subsequent moves.
func (a *Adapter) SetProfile(p FeedrateProfile) {
	a.mu.Lock()
	a.profile = p
	a.mu.Unlock()
}

func (a *Adapter) feedrate(axis coordinate.AxisID) float64 {
	base := a.axes[axis].MaxFeedrate
	a.mu.Lock()
	profile := a.profile
	a.mu.Unlock()
	if profile == ProfileScanning {
		return base * scanningFeedScale
	}
	return base
}

// MoveTo commands an absolute move to target, validating it against axis
// limits first and resolving the Z axis via the shortest-arc path from the
// controller's current position (spec §4.2's worked homing-direction
// example).
func (a *Adapter) MoveTo(ctx context.Context, target coordinate.Position4D) error {
	return a.moveTo(ctx, target, 1.0)
}

// MoveToScaled is MoveTo with the resolved feedrate multiplied by scale.
// The orchestrator's motion-error retry policy (spec §4.8: "retry the move
// once with halved feedrate") uses this rather than switching the
// adapter's whole FeedrateProfile, which would affect every subsequent
// move rather than just the retry.
func (a *Adapter) MoveToScaled(ctx context.Context, target coordinate.Position4D, scale float64) error {
	return a.moveTo(ctx, target, scale)
}

func (a *Adapter) moveTo(ctx context.Context, target coordinate.Position4D, scale float64) error {
	if err := coordinate.ValidatePosition(target, a.axes); err != nil {
		return err
	}

	cur, err := a.CurrentPosition(ctx)
	if err != nil {
		return err
	}

	zCmd := coordinate.ShortestZPath(cur.Z, target.Z)

	moveX := cur.X != target.X
	moveY := cur.Y != target.Y
	moveZ := cur.Z != target.Z
	moveC := cur.C != target.C
	if !moveX && !moveY && !moveZ && !moveC {
		return nil
	}

	feed := a.slowestFeedrate(moveX, moveY, moveZ, moveC) * scale
	line := protocol.FeedMove(target.X, target.Y, zCmd, target.C, feed, moveX, moveY, moveZ, moveC)
	if err := a.engine.SubmitCommand(ctx, line); err != nil {
		return err
	}

	a.store(coordinate.Position4D{X: target.X, Y: target.Y, Z: coordinate.NormalizeZ(zCmd), C: target.C})
	return nil
}

// MoveRelative commands a move by delta from the controller's current
// position.
func (a *Adapter) MoveRelative(ctx context.Context, delta coordinate.Position4D) error {
	cur, err := a.CurrentPosition(ctx)
	if err != nil {
		return err
	}
	target := coordinate.Position4D{
		X: cur.X + delta.X,
		Y: cur.Y + delta.Y,
		Z: cur.Z + delta.Z,
		C: cur.C + delta.C,
	}
	return a.MoveTo(ctx, target)
}

// HomeAll runs the homing sequence and invalidates the position cache. A
// successful cycle re-establishes a known position (spec §4.10: homing is
// what makes position trustworthy again after EmergencyStop).
func (a *Adapter) HomeAll(ctx context.Context) error {
	if err := a.engine.Home(ctx); err != nil {
		log.Printf("motionadapter: homing failed: %v", err)
		return err
	}
	a.mu.Lock()
	a.cache = nil
	a.posState = PositionStateKnown
	a.mu.Unlock()
	return nil
}

// EmergencyStop implements spec §4.4's emergency_stop(): it sends an
// immediate feed hold ('!') followed by a soft reset (0x18), bypassing the
// command queue entirely so neither byte can be blocked behind an
// in-flight motion command, then clears the position cache and marks
// PositionState Unknown -- the soft reset discards whatever the
// controller's planner was doing, so any cached position is no longer
// trustworthy until the next home or successful move. Subsequent state
// cleanup elsewhere (spec.md: "subsequent state cleanup happens
// asynchronously") is the caller's -- orchestrator.Cancel/PauseImmediate --
// responsibility; this call only guarantees the two bytes reach the wire
// and the adapter's own cache stops lying.
func (a *Adapter) EmergencyStop() error {
	log.Println("motionadapter: emergency stop requested")
	err := a.engine.Immediate(serialport.FeedHold)
	if resetErr := a.engine.Immediate(serialport.SoftReset); err == nil {
		err = resetErr
	}

	a.mu.Lock()
	a.cache = nil
	a.posState = PositionStateUnknown
	a.mu.Unlock()

	return err
}

func (a *Adapter) slowestFeedrate(moveX, moveY, moveZ, moveC bool) float64 {
	var feed float64
	consider := func(ok bool, axis coordinate.AxisID) {
		if !ok {
			return
		}
		f := a.feedrate(axis)
		if feed == 0 || f < feed {
			feed = f
		}
	}
	consider(moveX, coordinate.AxisX)
	consider(moveY, coordinate.AxisY)
	consider(moveZ, coordinate.AxisZ)
	consider(moveC, coordinate.AxisC)
	return feed
}

// CurrentPosition returns the controller's last known machine position,
// served from cache when fresher than positionCacheTTL and otherwise
// forcing a status query.
func (a *Adapter) CurrentPosition(ctx context.Context) (coordinate.Position4D, error) {
	if p, ok := a.cached(); ok {
		return p, nil
	}

	if status, age, ok := a.engine.LatestStatus(); ok && age < positionCacheTTL {
		p := fromMPos(status)
		a.store(p)
		return p, nil
	}

	deadline := time.Now().Add(2 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if err := a.engine.Immediate(serialport.StatusQuery); err != nil {
			return coordinate.Position4D{}, err
		}
		select {
		case <-ctx.Done():
			return coordinate.Position4D{}, ctx.Err()
		case <-ticker.C:
			if status, age, ok := a.engine.LatestStatus(); ok && age < positionCacheTTL {
				p := fromMPos(status)
				a.store(p)
				return p, nil
			}
			if time.Now().After(deadline) {
				return coordinate.Position4D{}, ErrNoStatus
			}
		}
	}
}

func (a *Adapter) cached() (coordinate.Position4D, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache == nil || time.Since(a.cacheAt) >= positionCacheTTL {
		return coordinate.Position4D{}, false
	}
	return *a.cache, true
}

// store records a freshly observed position and marks it trustworthy --
// every successful read or move re-establishes PositionStateKnown, the
// counterpart to EmergencyStop dropping it to Unknown.
func (a *Adapter) store(p coordinate.Position4D) {
	a.mu.Lock()
	a.cache = &p
	a.cacheAt = time.Now()
	a.posState = PositionStateKnown
	a.mu.Unlock()
}

func fromMPos(status statusline.FluidNCStatus) coordinate.Position4D {
	return coordinate.Position4D{
		X: status.MPos.X,
		Y: status.MPos.Y,
		Z: status.MPos.Z,
		C: status.MPos.C,
	}
}
