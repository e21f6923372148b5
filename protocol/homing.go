package protocol

import (
	"context"
	"log"
	"time"
)

// Home drives the full homing sequence of spec §4.4: one or more
// best-effort pre-homing unlocks (a controller can refuse a bare $H while
// still in alarm from a prior fault), the $H command itself, and --
// crucially -- waiting for the distinguished "[MSG:DBG: Homing done]"
// marker rather than a mere return to Idle, since FluidNC reports Idle
// throughout parts of the homing cycle. On success the sticky alarm flag
// is cleared and a trailing unlock is sent to leave the controller ready
// to accept motion.
func (e *Engine) Home(ctx context.Context) error {
	log.Println("protocol: starting homing sequence")
	for attempt := 0; attempt < e.cfg.UnlockAttempts; attempt++ {
		if err := e.SubmitCommand(ctx, Unlock); err == nil {
			break
		}
		select {
		case <-time.After(e.cfg.UnlockSpacing):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// $H is exempt from the alarm gate regardless of whether the unlock
	// attempts above succeeded.
	return e.SubmitCommand(ctx, HomeAll)
}

// finishHoming runs after the $H command has been acknowledged with "ok".
// It blocks until the homing-complete marker arrives, then settles and
// clears the sticky alarm.
func (e *Engine) finishHoming() error {
	select {
	case <-e.homingDoneCh:
	case <-time.After(e.cfg.HomingTimeout):
		log.Println("protocol: homing timed out waiting for completion marker")
		return newErr(KindHomingTimeout, 0, nil)
	case <-e.stopCh:
		return newErr(KindTransport, 0, ErrDisconnected)
	}

	time.Sleep(e.cfg.PostHomingSettle)
	e.clearAlarmLocked()
	log.Println("protocol: homing sequence finished, alarm cleared")

	// Best-effort trailing unlock; FluidNC leaves some builds in a state
	// that still wants an explicit $X after homing. Failure here doesn't
	// fail the homing cycle itself.
	_ = e.writeAndAwaitAck(Unlock)
	return nil
}
