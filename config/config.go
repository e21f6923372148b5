// Package config loads the system configuration -- serial port, protocol
// timings, axis limits, orchestrator tuning -- from a YAML file layered
// over built-in defaults, the way cmd/andorhttp2's setupconfig does it: a
// koanf store seeded with structs.Provider defaults, then overridden by
// file.Provider+yaml.Parser if a file is present.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/fourdof/scanner/coordinate"
	"github.com/fourdof/scanner/orchestrator"
	"github.com/fourdof/scanner/protocol"
	"github.com/fourdof/scanner/serialport"
)

// AxisLimits is the overridable portion of coordinate.AxisKind -- Kind and
// HomeRequired are fixed properties of the 4DOF rig, not configuration.
type AxisLimits struct {
	Min         float64 `yaml:"min"`
	Max         float64 `yaml:"max"`
	MaxFeedrate float64 `yaml:"maxFeedrate"`
}

// Document is the full on-disk shape of the scanner's configuration file.
type Document struct {
	Serial struct {
		Device string `yaml:"device"`
		Baud   int    `yaml:"baud"`
	} `yaml:"serial"`

	Protocol struct {
		CommandTimeout         time.Duration `yaml:"commandTimeout"`
		MotionTimeout          time.Duration `yaml:"motionTimeout"`
		HomingTimeout          time.Duration `yaml:"homingTimeout"`
		StatusPollInterval     time.Duration `yaml:"statusPollInterval"`
		CompletionPollInterval time.Duration `yaml:"completionPollInterval"`
		MinCommandSpacing      time.Duration `yaml:"minCommandSpacing"`
		StabilityEpsilon       float64       `yaml:"stabilityEpsilon"`
		StableReportsRequired  int           `yaml:"stableReportsRequired"`
		NeverLeftIdleGrace     time.Duration `yaml:"neverLeftIdleGrace"`
		UnlockAttempts         int           `yaml:"unlockAttempts"`
		UnlockSpacing          time.Duration `yaml:"unlockSpacing"`
		PostHomingSettle       time.Duration `yaml:"postHomingSettle"`
	} `yaml:"protocol"`

	Orchestrator struct {
		MinimumDwell             time.Duration `yaml:"minimumDwell"`
		PersistEvery             int           `yaml:"persistEvery"`
		MotionRetryFeedrateScale float64       `yaml:"motionRetryFeedrateScale"`
		ConsecutiveFailureLimit  int           `yaml:"consecutiveFailureLimit"`
		LightingLeadTime         time.Duration `yaml:"lightingLeadTime"`
	} `yaml:"orchestrator"`

	Axes map[string]AxisLimits `yaml:"axes"`
}

// defaultDocument mirrors coordinate.DefaultAxes and the zero-value
// defaults each component already applies internally, so a freshly loaded
// Document is usable even when no file overrides a section.
func defaultDocument() Document {
	var d Document
	d.Serial.Device = "/dev/ttyUSB0"
	d.Serial.Baud = serialport.DefaultBaud

	// Mirrors protocol.Config.withDefaults; duplicated here rather than
	// left zero so a Document is meaningful on its own (e.g. cmdHome's
	// homing-timeout-derived context deadline) without reaching into an
	// unexported method.
	d.Protocol.CommandTimeout = 10 * time.Second
	d.Protocol.MotionTimeout = 30 * time.Second
	d.Protocol.HomingTimeout = 120 * time.Second
	d.Protocol.StatusPollInterval = 500 * time.Millisecond
	d.Protocol.CompletionPollInterval = 150 * time.Millisecond
	d.Protocol.MinCommandSpacing = 50 * time.Millisecond
	d.Protocol.StabilityEpsilon = 0.001
	d.Protocol.StableReportsRequired = 2
	d.Protocol.NeverLeftIdleGrace = 500 * time.Millisecond
	d.Protocol.UnlockAttempts = 3
	d.Protocol.UnlockSpacing = 500 * time.Millisecond
	d.Protocol.PostHomingSettle = 1 * time.Second

	d.Orchestrator.MinimumDwell = 200 * time.Millisecond
	d.Orchestrator.PersistEvery = 5
	d.Orchestrator.MotionRetryFeedrateScale = 0.5
	d.Orchestrator.ConsecutiveFailureLimit = 2
	d.Orchestrator.LightingLeadTime = 10 * time.Millisecond

	for id, axis := range coordinate.DefaultAxes() {
		d.axesSet(id, AxisLimits{Min: axis.Min, Max: axis.Max, MaxFeedrate: axis.MaxFeedrate})
	}
	return d
}

func (d *Document) axesSet(id coordinate.AxisID, l AxisLimits) {
	if d.Axes == nil {
		d.Axes = make(map[string]AxisLimits)
	}
	d.Axes[id.String()] = l
}

// Load reads path (if it exists) over the built-in defaults and returns the
// decoded Document. A missing file is not an error -- defaults apply.
func Load(path string) (Document, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultDocument(), "yaml"), nil); err != nil {
		return Document{}, errors.Wrap(err, "config: loading defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such file") {
				return Document{}, errors.Wrapf(err, "config: loading %s", path)
			}
		}
	}

	var doc Document
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &doc,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
			TagName:          "yaml",
		},
	}
	if err := k.UnmarshalWithConf("", &doc, unmarshalConf); err != nil {
		return Document{}, errors.Wrap(err, "config: decoding")
	}
	return doc, nil
}

// SerialConfig builds the serialport.Config this Document describes.
func (d Document) SerialConfig() serialport.Config {
	return serialport.Config{Device: d.Serial.Device, Baud: d.Serial.Baud}
}

// ProtocolConfig builds the protocol.Config this Document describes.
func (d Document) ProtocolConfig() protocol.Config {
	p := d.Protocol
	return protocol.Config{
		CommandTimeout:         p.CommandTimeout,
		MotionTimeout:          p.MotionTimeout,
		HomingTimeout:          p.HomingTimeout,
		StatusPollInterval:     p.StatusPollInterval,
		CompletionPollInterval: p.CompletionPollInterval,
		MinCommandSpacing:      p.MinCommandSpacing,
		StabilityEpsilon:       p.StabilityEpsilon,
		StableReportsRequired:  p.StableReportsRequired,
		NeverLeftIdleGrace:     p.NeverLeftIdleGrace,
		UnlockAttempts:         p.UnlockAttempts,
		UnlockSpacing:          p.UnlockSpacing,
		PostHomingSettle:       p.PostHomingSettle,
	}
}

// OrchestratorConfig builds the orchestrator.Config this Document describes.
func (d Document) OrchestratorConfig() orchestrator.Config {
	o := d.Orchestrator
	return orchestrator.Config{
		MinimumDwell:             o.MinimumDwell,
		PersistEvery:             o.PersistEvery,
		MotionRetryFeedrateScale: o.MotionRetryFeedrateScale,
		ConsecutiveFailureLimit:  o.ConsecutiveFailureLimit,
		LightingLeadTime:         o.LightingLeadTime,
	}
}

// AxisMap builds the coordinate.AxisKind set this Document describes,
// starting from coordinate.DefaultAxes and applying any overridden limits.
func (d Document) AxisMap() (map[coordinate.AxisID]coordinate.AxisKind, error) {
	axes := coordinate.DefaultAxes()
	for name, limits := range d.Axes {
		id, ok := axisIDByName(name)
		if !ok {
			return nil, errors.Errorf("config: unknown axis %q", name)
		}
		a := axes[id]
		a.Min, a.Max, a.MaxFeedrate = limits.Min, limits.Max, limits.MaxFeedrate
		axes[id] = a
	}
	return axes, nil
}

func axisIDByName(name string) (coordinate.AxisID, bool) {
	for _, id := range []coordinate.AxisID{coordinate.AxisX, coordinate.AxisY, coordinate.AxisZ, coordinate.AxisC} {
		if id.String() == name {
			return id, true
		}
	}
	return 0, false
}
