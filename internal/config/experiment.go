// Package config loads experiment definitions from JSON. Fields are
// pointer-typed so a partial file only overrides what it names; the
// Get* accessors apply the documented default for anything left nil.
// Hardware and runtime knobs (serial device, addresses, database path)
// are flags on the binaries, not config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical experiment defaults file.
// This is the single source of truth for all default experiment values.
const DefaultConfigPath = "config/experiment.defaults.json"

// ExperimentConfig selects an experiment preset and carries the knobs
// the experimenter sets per session.
type ExperimentConfig struct {
	// Experiment names the preset to run.
	Experiment *string `json:"experiment,omitempty"`

	// SessionName labels the recorded session.
	SessionName *string `json:"session_name,omitempty"`

	// Head direction window params (degrees). The stimulation angle is
	// the reference direction; the window bounds are deviations from it.
	StimulationDeg *float64 `json:"stimulation_deg,omitempty"`
	WindowStartDeg *float64 `json:"window_start_deg,omitempty"`
	WindowEndDeg   *float64 `json:"window_end_deg,omitempty"`

	// Classifier gate params
	ProbabilityThreshold *float64 `json:"probability_threshold,omitempty"`
	TargetClass          *int     `json:"target_class,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyExperimentConfig returns an ExperimentConfig with all fields set
// to nil. Use LoadExperimentConfig to load actual values from a file.
func EmptyExperimentConfig() *ExperimentConfig {
	return &ExperimentConfig{}
}

// DefaultExperimentConfig returns the canonical baseline with every
// field populated.
func DefaultExperimentConfig() *ExperimentConfig {
	return &ExperimentConfig{
		Experiment:           ptrString("example"),
		SessionName:          ptrString("session"),
		StimulationDeg:       ptrFloat64(0),
		WindowStartDeg:       ptrFloat64(-25),
		WindowEndDeg:         ptrFloat64(25),
		ProbabilityThreshold: ptrFloat64(0.5),
		TargetClass:          ptrInt(1),
	}
}

// LoadExperimentConfig loads an ExperimentConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadExperimentConfig(path string) (*ExperimentConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyExperimentConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical experiment defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *ExperimentConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadExperimentConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *ExperimentConfig) Validate() error {
	if c.Experiment != nil && *c.Experiment == "" {
		return fmt.Errorf("experiment must not be empty when set")
	}

	// The angles address screen directions, so a full circle is the
	// widest meaningful range.
	if c.StimulationDeg != nil {
		if *c.StimulationDeg < -180 || *c.StimulationDeg > 180 {
			return fmt.Errorf("stimulation_deg must be between -180 and 180, got %f", *c.StimulationDeg)
		}
	}
	if c.WindowStartDeg != nil {
		if *c.WindowStartDeg < -180 || *c.WindowStartDeg > 180 {
			return fmt.Errorf("window_start_deg must be between -180 and 180, got %f", *c.WindowStartDeg)
		}
	}
	if c.WindowEndDeg != nil {
		if *c.WindowEndDeg < -180 || *c.WindowEndDeg > 180 {
			return fmt.Errorf("window_end_deg must be between -180 and 180, got %f", *c.WindowEndDeg)
		}
	}
	if c.WindowStartDeg != nil && c.WindowEndDeg != nil {
		if *c.WindowStartDeg > *c.WindowEndDeg {
			return fmt.Errorf("window_start_deg %f must not exceed window_end_deg %f", *c.WindowStartDeg, *c.WindowEndDeg)
		}
	}

	if c.ProbabilityThreshold != nil {
		if *c.ProbabilityThreshold < 0 || *c.ProbabilityThreshold > 1 {
			return fmt.Errorf("probability_threshold must be between 0 and 1, got %f", *c.ProbabilityThreshold)
		}
	}

	if c.TargetClass != nil {
		if *c.TargetClass < 0 {
			return fmt.Errorf("target_class must be non-negative, got %d", *c.TargetClass)
		}
	}

	return nil
}

// GetExperiment returns the preset name or the default.
func (c *ExperimentConfig) GetExperiment() string {
	if c.Experiment == nil || *c.Experiment == "" {
		return "example" // default
	}
	return *c.Experiment
}

// GetSessionName returns the session label or the default.
func (c *ExperimentConfig) GetSessionName() string {
	if c.SessionName == nil || *c.SessionName == "" {
		return "session" // default
	}
	return *c.SessionName
}

// GetStimulationDeg returns the stimulation angle or the default.
func (c *ExperimentConfig) GetStimulationDeg() float64 {
	if c.StimulationDeg == nil {
		return 0 // default
	}
	return *c.StimulationDeg
}

// GetWindowStartDeg returns the window start deviation or the default.
func (c *ExperimentConfig) GetWindowStartDeg() float64 {
	if c.WindowStartDeg == nil {
		return -25 // default
	}
	return *c.WindowStartDeg
}

// GetWindowEndDeg returns the window end deviation or the default.
func (c *ExperimentConfig) GetWindowEndDeg() float64 {
	if c.WindowEndDeg == nil {
		return 25 // default
	}
	return *c.WindowEndDeg
}

// GetProbabilityThreshold returns the classifier gate threshold or the
// default.
func (c *ExperimentConfig) GetProbabilityThreshold() float64 {
	if c.ProbabilityThreshold == nil {
		return 0.5 // default
	}
	return *c.ProbabilityThreshold
}

// GetTargetClass returns the classifier target class or the default.
func (c *ExperimentConfig) GetTargetClass() int {
	if c.TargetClass == nil {
		return 1 // default
	}
	return *c.TargetClass
}
