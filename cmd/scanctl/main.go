// Command scanctl drives the 4DOF photogrammetry rig from the command
// line: homing, running a scan pattern loaded from CSV, and reporting on
// a scan's persisted state. It wires every package in this module
// together the way cmd/andorhttp2's main.go wires its driver, recorder,
// and HTTP layer -- one small main package per deployable, dispatching on
// the first argument.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/theckman/yacspin"

	"github.com/fourdof/scanner/capture"
	"github.com/fourdof/scanner/config"
	"github.com/fourdof/scanner/coordinate"
	"github.com/fourdof/scanner/eventbus"
	"github.com/fourdof/scanner/homing"
	"github.com/fourdof/scanner/motionadapter"
	"github.com/fourdof/scanner/orchestrator"
	"github.com/fourdof/scanner/pattern"
	"github.com/fourdof/scanner/scancsv"
)

func usage() {
	fmt.Println(`scanctl drives the 4DOF scanner rig.

Usage:
	scanctl <command> [flags]

Commands:
	home     run the homing sequence
	unlock   clear an alarm without homing
	run      execute a scan pattern loaded from a CSV file
	resume   resume a previously paused or failed scan
	status   print a scan's last persisted state`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "home":
		err = cmdHome(os.Args[2:])
	case "unlock":
		err = cmdUnlock(os.Args[2:])
	case "run":
		err = cmdRun(os.Args[2:])
	case "resume":
		err = cmdResume(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		color.Red("scanctl: %v", err)
		os.Exit(1)
	}
}

// rig bundles everything a command needs to talk to the controller:
// built from config, torn down on Close.
type rig struct {
	doc        config.Document
	bus        *eventbus.Bus
	supervisor *motionadapter.Supervisor
	adapter    *motionadapter.Adapter
	homer      *homing.Manager
	axes       map[coordinate.AxisID]coordinate.AxisKind
}

func connect(configPath string) (*rig, error) {
	doc, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	axes, err := doc.AxisMap()
	if err != nil {
		return nil, fmt.Errorf("resolving axis limits: %w", err)
	}

	bus := eventbus.New()
	sup := motionadapter.NewSupervisor(doc.SerialConfig(), doc.ProtocolConfig(), bus)
	if err := sup.Start(); err != nil {
		return nil, fmt.Errorf("connecting to controller: %w", err)
	}

	adapter := motionadapter.New(sup.Engine(), axes)
	homer := homing.New(sup.Engine(), bus)
	homer.Start(2 * time.Second)

	return &rig{doc: doc, bus: bus, supervisor: sup, adapter: adapter, homer: homer, axes: axes}, nil
}

func (r *rig) Close() {
	r.homer.Stop()
	r.supervisor.Stop()
}

func newSpinner(msg string) (*yacspin.Spinner, error) {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[9],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	return yacspin.New(cfg)
}

func cmdHome(args []string) error {
	fs := flag.NewFlagSet("home", flag.ExitOnError)
	configPath := fs.String("config", "", "path to scanner.yml")
	fs.Parse(args)

	r, err := connect(*configPath)
	if err != nil {
		return err
	}
	defer r.Close()

	spinner, err := newSpinner("homing all axes")
	if err != nil {
		return err
	}
	if err := spinner.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.doc.ProtocolConfig().HomingTimeout+5*time.Second)
	defer cancel()

	err = r.homer.StartHoming(ctx, func(s homing.Snapshot) {
		spinner.Message(s.Message)
	})
	if err != nil {
		spinner.StopFail()
		return fmt.Errorf("homing failed: %w", err)
	}
	spinner.Stop()
	color.Green("homing complete")
	return nil
}

func cmdUnlock(args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ExitOnError)
	configPath := fs.String("config", "", "path to scanner.yml")
	fs.Parse(args)

	r, err := connect(*configPath)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.homer.ManualUnlock(ctx); err != nil {
		return fmt.Errorf("unlock failed: %w", err)
	}
	color.Yellow("alarm cleared, position is unknown until homed")
	return nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to scanner.yml")
	csvPath := fs.String("csv", "", "path to a scan pattern CSV")
	outDir := fs.String("out", "./scan-output", "directory for captured images and scan state")
	scanID := fs.String("id", "", "scan identifier (default: timestamp)")
	fs.Parse(args)

	if *csvPath == "" {
		return fmt.Errorf("-csv is required")
	}

	r, err := connect(*configPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if !r.homer.IsHomed() {
		return fmt.Errorf("system is not homed, run 'scanctl home' first")
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", *csvPath, err)
	}
	defer f.Close()

	result, err := scancsv.Parse(f, scancsv.FormatAuto, coordinate.IdentityCalibration, r.axes)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", *csvPath, err)
	}
	if !result.OK() {
		for _, e := range result.Errors {
			color.Red("  %v", e)
		}
		return fmt.Errorf("%s contains %d error(s)", *csvPath, len(result.Errors))
	}
	for _, w := range result.Warnings {
		color.Yellow("  warning: %s", w)
	}

	scanPattern := &pattern.ScanPattern{ID: filepath.Base(*csvPath), Points: result.Points}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", *outDir, err)
	}

	cam := &fileCamera{dir: *outDir}
	o := orchestrator.New(r.adapter, r.homer, cam, noopFocus{}, noopLighting{}, r.bus, r.axes, r.doc.OrchestratorConfig())

	return runScan(r, o, scanPattern, *outDir, *scanID)
}

func cmdResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "", "path to scanner.yml")
	csvPath := fs.String("csv", "", "path to the original scan pattern CSV")
	outDir := fs.String("out", "./scan-output", "directory used by the original run")
	fs.Parse(args)

	if *csvPath == "" {
		return fmt.Errorf("-csv is required")
	}

	r, err := connect(*configPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if !r.homer.IsHomed() {
		return fmt.Errorf("system is not homed, run 'scanctl home' first")
	}

	persisted, err := orchestrator.LoadState(*outDir)
	if err != nil {
		return fmt.Errorf("loading persisted state from %s: %w", *outDir, err)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", *csvPath, err)
	}
	defer f.Close()

	result, err := scancsv.Parse(f, scancsv.FormatAuto, coordinate.IdentityCalibration, r.axes)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", *csvPath, err)
	}
	scanPattern := &pattern.ScanPattern{ID: persisted.PatternID, Points: result.Points}

	cam := &fileCamera{dir: *outDir}
	o := orchestrator.New(r.adapter, r.homer, cam, noopFocus{}, noopLighting{}, r.bus, r.axes, r.doc.OrchestratorConfig())

	ctx := context.Background()
	if _, err := o.ResumeScan(ctx, scanPattern, persisted); err != nil {
		return fmt.Errorf("resuming scan: %w", err)
	}
	return watchToCompletion(r, o)
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	outDir := fs.String("out", "./scan-output", "directory used by the run")
	fs.Parse(args)

	state, err := orchestrator.LoadState(*outDir)
	if err != nil {
		return fmt.Errorf("loading persisted state from %s: %w", *outDir, err)
	}

	fmt.Printf("scan %s (pattern %s)\n", state.ScanID, state.PatternID)
	fmt.Printf("  status:   %s\n", state.Status)
	fmt.Printf("  phase:    %s\n", state.Phase)
	fmt.Printf("  progress: %d/%d points, %d images captured\n", state.CurrentIndex, state.TotalPoints, state.ImagesCaptured)
	if len(state.Errors) > 0 {
		color.Yellow("  %d error(s) recorded:", len(state.Errors))
		for _, e := range state.Errors {
			fmt.Printf("    point %d: %s\n", e.PointIndex, e.Message)
		}
	}
	return nil
}

// runScan starts a fresh scan and blocks until it finishes, wiring the
// orchestrator's event bus into spinner updates.
func runScan(r *rig, o *orchestrator.Orchestrator, p *pattern.ScanPattern, outDir, scanID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spinner, err := newSpinner(fmt.Sprintf("scanning %d points", len(p.Points)))
	if err != nil {
		return err
	}

	var mu sync.Mutex
	unsubscribe := r.bus.Subscribe([]eventbus.Type{
		eventbus.PointCompleted, eventbus.ScanPaused, eventbus.ScanResumed, eventbus.MotionError,
	}, func(e eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Type {
		case eventbus.PointCompleted:
			s := o.State()
			spinner.Message(fmt.Sprintf("point %d/%d complete", s.CurrentIndex, s.TotalPoints))
		case eventbus.ScanPaused:
			spinner.Message("paused")
		case eventbus.ScanResumed:
			spinner.Message("resuming")
		case eventbus.MotionError:
			color.Yellow("motion error, retrying at reduced feedrate")
		}
	})
	defer unsubscribe()

	if err := spinner.Start(); err != nil {
		return err
	}

	if _, err := o.Start(ctx, p, outDir, scanID); err != nil {
		spinner.StopFail()
		return fmt.Errorf("starting scan: %w", err)
	}

	handleInterrupt(o)

	<-o.Done()
	final := o.State()
	switch final.Status {
	case orchestrator.StatusCompleted:
		spinner.Stop()
		color.Green("scan complete: %d images captured", final.ImagesCaptured)
	case orchestrator.StatusCancelled:
		spinner.StopFail()
		color.Yellow("scan cancelled at point %d", final.CurrentIndex)
	default:
		spinner.StopFail()
		color.Red("scan ended in status %s", final.Status)
	}
	return nil
}

func watchToCompletion(r *rig, o *orchestrator.Orchestrator) error {
	handleInterrupt(o)
	<-o.Done()
	final := o.State()
	fmt.Printf("scan finished with status %s (%d/%d points)\n", final.Status, final.CurrentIndex, final.TotalPoints)
	return nil
}

// handleInterrupt requests a deferred pause on the first Ctrl-C and
// cancels outright on the second, so an operator can stop a scan without
// losing the current point's captures.
func handleInterrupt(o *orchestrator.Orchestrator) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		color.Yellow("pausing after the current point (press Ctrl-C again to cancel immediately)")
		o.Pause()
		if _, ok := <-sigCh; !ok {
			return
		}
		color.Red("cancelling")
		o.Cancel()
	}()
}

type fileCamera struct {
	dir string
	mu  sync.Mutex
	n   int
}

func (c *fileCamera) Configure(ctx context.Context, s capture.Settings) error { return nil }

func (c *fileCamera) Capture(ctx context.Context) (capture.ImageRef, error) {
	c.mu.Lock()
	c.n++
	n := c.n
	c.mu.Unlock()
	path := filepath.Join(c.dir, fmt.Sprintf("capture_%04d.jpg", n))
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return capture.ImageRef{}, err
	}
	return capture.ImageRef{Path: path}, nil
}

type noopFocus struct{}

func (noopFocus) SetFocus(ctx context.Context, mode capture.FocusMode, value float64) error {
	return nil
}

type noopLighting struct{}

func (noopLighting) Flash(ctx context.Context, zones []string, intensity float64, durationMs uint32) error {
	return nil
}
