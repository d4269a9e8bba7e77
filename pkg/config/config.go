// Package config holds the profiler's configuration surface.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srodi/csprof/pkg/types"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// readFile allows tests to stub reading the config file.
var readFile = os.ReadFile

// Config is the full set of recognized options.
type Config struct {
	RankingCapacity int           `yaml:"ranking_capacity"`
	PhaseInterval   time.Duration `yaml:"phase_interval"`
	MinPhaseGap     time.Duration `yaml:"min_phase_gap"`
	CSPThreshold    float64       `yaml:"csp_threshold"`
	StackFrames     int           `yaml:"stack_frames"`

	PrintCSPSummary   bool `yaml:"print_csp_summary"`
	PrintStackSummary bool `yaml:"print_stack_summary"`
	PrintFrequency    bool `yaml:"print_frequency"`
	PrintThreadStats  bool `yaml:"print_thread_stats"`

	CountLocked bool `yaml:"count_locked"`
	CountWaited bool `yaml:"count_waited"`

	MaxThreads    int  `yaml:"max_threads"`
	LockOSThreads bool `yaml:"lock_os_threads"`

	MetricsAddr string `yaml:"metrics_addr"`
	BPFPinPath  string `yaml:"bpf_pin_path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		RankingCapacity: types.DefaultTopK,
		CSPThreshold:    1.0,
		StackFrames:     types.DefaultStackFrames,
		PrintCSPSummary: true,
		PrintFrequency:  true,
		CountLocked:     true,
		CountWaited:     true,
		MaxThreads:      types.DefaultMaxThreads,
	}
}

// Load reads a YAML file on top of the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := readFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges. Zero values are legal where they disable a feature.
func (c Config) Validate() error {
	var errs []error
	if c.RankingCapacity < 0 {
		errs = append(errs, fmt.Errorf("ranking_capacity %d is negative: %w", c.RankingCapacity, ErrInvalid))
	}
	if c.PhaseInterval < 0 {
		errs = append(errs, fmt.Errorf("phase_interval %v is negative: %w", c.PhaseInterval, ErrInvalid))
	}
	if c.MinPhaseGap < 0 {
		errs = append(errs, fmt.Errorf("min_phase_gap %v is negative: %w", c.MinPhaseGap, ErrInvalid))
	}
	if c.CSPThreshold < 0 || c.CSPThreshold > 100 {
		errs = append(errs, fmt.Errorf("csp_threshold %.2f outside [0, 100]: %w", c.CSPThreshold, ErrInvalid))
	}
	if c.StackFrames < 0 {
		errs = append(errs, fmt.Errorf("stack_frames %d is negative: %w", c.StackFrames, ErrInvalid))
	}
	if c.MaxThreads <= 0 {
		errs = append(errs, fmt.Errorf("max_threads must be positive, got %d: %w", c.MaxThreads, ErrInvalid))
	}
	return errors.Join(errs...)
}

// Marshal renders the configuration as YAML, e.g. to echo the effective
// options at startup.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
