package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/fourdof/scanner/pattern"
)

// Status is the top-level lifecycle state of a scan (spec §4.8).
type Status string

const (
	StatusIdle         Status = "Idle"
	StatusInitializing Status = "Initializing"
	StatusRunning      Status = "Running"
	StatusPaused       Status = "Paused"
	StatusCompleted    Status = "Completed"
	StatusCancelled    Status = "Cancelled"
	StatusFailed       Status = "Failed"
)

// Phase is where execution is within one point of a Running scan.
type Phase string

const (
	PhaseNone        Phase = ""
	PhaseSetup       Phase = "Setup"
	PhaseMoving      Phase = "Moving"
	PhaseStabilizing Phase = "Stabilizing"
	PhaseCapturing   Phase = "Capturing"
	PhaseAdvancing   Phase = "Advancing"
)

// ErrorKind classifies an ErrorRecord for the failure policy of spec §4.8
// and the error taxonomy of spec §7.
type ErrorKind string

const (
	ErrorKindMotion       ErrorKind = "Motion"
	ErrorKindCapture      ErrorKind = "Capture"
	ErrorKindLighting     ErrorKind = "Lighting"
	ErrorKindDisconnected ErrorKind = "Disconnected"
)

// ErrorRecord is one accumulated per-point error. RetryFeedrate is set only
// for a Motion error whose reduced-feedrate retry of spec §4.8 also failed;
// it holds the feedrate scale factor used for that retry
// (Config.MotionRetryFeedrateScale), not an absolute feedrate. Kept per original_source/V2.0/scanning/updated_scan_orchestrator.py
// for diagnostic purposes.
type ErrorRecord struct {
	PointIndex    int       `json:"point_index"`
	Kind          ErrorKind `json:"kind"`
	Message       string    `json:"message"`
	At            time.Time `json:"at"`
	PointFailed   bool      `json:"point_failed"`
	RetryFeedrate float64   `json:"retry_feedrate,omitempty"`
}

// Timing tracks when a scan started, was last persisted, and (once known)
// ended.
type Timing struct {
	Start      time.Time  `json:"start"`
	LastUpdate time.Time  `json:"last_update"`
	End        *time.Time `json:"end,omitempty"`
}

// ScanState is the orchestrator's persisted record of one scan (spec §3).
// It is written to a single JSON file under OutputDir and is the unit of
// resume.
type ScanState struct {
	ScanID         string                   `json:"scan_id"`
	PatternID      string                   `json:"pattern_id"`
	OutputDir      string                   `json:"output_dir"`
	Status         Status                   `json:"status"`
	Phase          Phase                    `json:"phase"`
	TotalPoints    int                      `json:"total_points"`
	CurrentIndex   int                      `json:"current_index"`
	ImagesCaptured int                      `json:"images_captured"`
	Errors         []ErrorRecord            `json:"errors"`
	Timing         Timing                   `json:"timing"`
	Parameters     pattern.PatternParameters `json:"parameters"`
}

// stateFileName is the single JSON file the orchestrator ever writes,
// per SPEC_FULL's domain-stack note ruling out any remote/filesystem
// layout beyond it.
const stateFileName = "scan_state.json"

func statePath(outputDir string) string {
	return filepath.Join(outputDir, stateFileName)
}

// Save persists s to OutputDir/scan_state.json by writing to a temp file
// and renaming over the target, so a reader (or a crash mid-write) never
// observes a partially written state file.
func (s *ScanState) Save() error {
	if s.OutputDir == "" {
		return errors.New("orchestrator: ScanState has no OutputDir")
	}
	if err := os.MkdirAll(s.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "orchestrator: create output dir")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "orchestrator: marshal state")
	}

	target := statePath(s.OutputDir)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "orchestrator: write temp state file")
	}
	if err := os.Rename(tmp, target); err != nil {
		return errors.Wrap(err, "orchestrator: rename temp state file")
	}
	return nil
}

// LoadState reads a persisted ScanState from outputDir for resume.
func LoadState(outputDir string) (*ScanState, error) {
	data, err := os.ReadFile(statePath(outputDir))
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: read state file")
	}
	var s ScanState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "orchestrator: unmarshal state file")
	}
	return &s, nil
}
