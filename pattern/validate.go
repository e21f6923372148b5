package pattern

import (
	"fmt"

	"github.com/fourdof/scanner/coordinate"
)

// ErrInvalidCaptureCount reports a ScanPoint whose CaptureCount disagrees
// with its FocusSpec (spec §4.5: "capture_count must equal the stack size
// when Manual(n>=2)").
type ErrInvalidCaptureCount struct {
	Index        int
	CaptureCount uint16
	StackSize    int
}

func (e *ErrInvalidCaptureCount) Error() string {
	return fmt.Sprintf("pattern: point %d: capture_count %d does not match focus stack size %d", e.Index, e.CaptureCount, e.StackSize)
}

// ValidatePoints checks every point's position against axes and every
// focus/capture_count pairing, collecting all violations rather than
// stopping at the first.
func ValidatePoints(points []ScanPoint, axes map[coordinate.AxisID]coordinate.AxisKind) []error {
	var errs []error
	for i, p := range points {
		if err := coordinate.ValidatePosition(p.Position, axes); err != nil {
			errs = append(errs, fmt.Errorf("point %d: %w", i, err))
		}
		if p.CaptureCount < 1 {
			errs = append(errs, &ErrInvalidCaptureCount{Index: i, CaptureCount: p.CaptureCount, StackSize: 1})
		}
		if p.Focus.Kind == FocusManual && len(p.Focus.ManualValues) >= 2 {
			if int(p.CaptureCount) != len(p.Focus.ManualValues) {
				errs = append(errs, &ErrInvalidCaptureCount{Index: i, CaptureCount: p.CaptureCount, StackSize: len(p.Focus.ManualValues)})
			}
		}
	}
	return errs
}
