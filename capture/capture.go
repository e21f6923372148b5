// Package capture defines the narrow interfaces the scan orchestrator
// drives during the Capturing phase -- a camera, its focus controller, and
// a lighting rig -- without implementing any of them. Grounded on
// camera/camera.go's split of a monolithic camera shape into Minimal and
// Sci, generalized here into three single-purpose traits per the design
// note in spec.md §9: a concrete camera/lighting driver lives outside this
// module and satisfies these interfaces.
package capture

import "context"

// ImageRef identifies an image a Camera has written to stable storage.
// Implementations are free to make Path a filesystem path, a URI, or any
// other locator meaningful to their storage backend.
type ImageRef struct {
	Path string
}

// Settings carries implementation-defined camera configuration -- exposure,
// gain, ROI, and the like. The orchestrator passes these through
// unmodified; it never inspects specific keys.
type Settings map[string]interface{}

// Camera captures images. Capture must block until the image is safely
// written; the orchestrator calls it once per exposure and expects typical
// durations from tens of milliseconds to a few seconds.
type Camera interface {
	Configure(ctx context.Context, settings Settings) error
	Capture(ctx context.Context) (ImageRef, error)
}

// FocusMode discriminates how FocusController.SetFocus should drive the
// lens. It mirrors pattern.FocusKind's discriminant rather than importing
// it, so this package stays implementable without depending on pattern's
// scan-generation concerns.
type FocusMode int

const (
	FocusDefault FocusMode = iota
	FocusAuto
	FocusContinuous
	FocusManual
)

// FocusController drives a camera's lens focus. value is only meaningful
// when mode is FocusManual.
type FocusController interface {
	SetFocus(ctx context.Context, mode FocusMode, value float64) error
}

// Lighting requests a flash synchronized with a capture's shutter. Flash
// must not return until the flash is complete; activation latency is
// expected to be at most 10ms.
type Lighting interface {
	Flash(ctx context.Context, zones []string, intensity float64, durationMs uint32) error
}
