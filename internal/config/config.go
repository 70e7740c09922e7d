package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/psantana5/farmsim/pkg/generator"
)

// DefaultPath is where the config is read from and written back to
const DefaultPath = "farmsim.json"

// EnvPrefix prefixes environment overrides, e.g. FARMSIM_CPU_CAPACITY
const EnvPrefix = "FARMSIM"

// Config is the simulation configuration record
type Config struct {
	Repetitions      int    `json:"repetitions" yaml:"repetitions" mapstructure:"repetitions"`
	MaxCycles        int    `json:"max_cycles" yaml:"max_cycles" mapstructure:"max_cycles"`
	CPUCapacity      int    `json:"cpu_capacity" yaml:"cpu_capacity" mapstructure:"cpu_capacity"`
	JobCount         int    `json:"job_count" yaml:"job_count" mapstructure:"job_count"`
	MinFrames        int    `json:"min_frames" yaml:"min_frames" mapstructure:"min_frames"`
	MaxFrames        int    `json:"max_frames" yaml:"max_frames" mapstructure:"max_frames"`
	MinChunkSize     int    `json:"min_chunk_size" yaml:"min_chunk_size" mapstructure:"min_chunk_size"`
	MaxChunkSize     int    `json:"max_chunk_size" yaml:"max_chunk_size" mapstructure:"max_chunk_size"`
	MinStartupCycles int    `json:"min_startup_cycles" yaml:"min_startup_cycles" mapstructure:"min_startup_cycles"`
	MaxStartupCycles int    `json:"max_startup_cycles" yaml:"max_startup_cycles" mapstructure:"max_startup_cycles"`
	Seed             int64  `json:"seed" yaml:"seed" mapstructure:"seed"`          // 0 picks a random seed per run
	Workers          int    `json:"workers" yaml:"workers" mapstructure:"workers"` // parallel repetitions
	OutputDir        string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`
	OTLPEndpoint     string `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty" mapstructure:"otlp_endpoint"`
}

// Default returns the record written when no usable config file exists
func Default() *Config {
	return &Config{
		Repetitions:      5,
		MaxCycles:        5000,
		CPUCapacity:      64,
		JobCount:         20,
		MinFrames:        50,
		MaxFrames:        500,
		MinChunkSize:     1,
		MaxChunkSize:     20,
		MinStartupCycles: 0,
		MaxStartupCycles: 5,
		Seed:             0,
		Workers:          1,
		OutputDir:        "results",
	}
}

// Ranges returns the generator bounds
func (c *Config) Ranges() generator.Ranges {
	return generator.Ranges{
		MinFrames:        c.MinFrames,
		MaxFrames:        c.MaxFrames,
		MinChunkSize:     c.MinChunkSize,
		MaxChunkSize:     c.MaxChunkSize,
		MinStartupCycles: c.MinStartupCycles,
		MaxStartupCycles: c.MaxStartupCycles,
	}
}

// Upper bounds enforced by Validate. They keep every job's work counter,
// a repetition's summed work and the per-run allocations inside int range.
const (
	LimitRepetitions   = 10_000
	LimitMaxCycles     = 1_000_000
	LimitCPUCapacity   = 1 << 20
	LimitJobCount      = 100_000
	LimitFrames        = 10_000_000
	LimitChunkSize     = LimitFrames
	LimitStartupCycles = 100_000
	LimitWorkers       = 1024
)

// MaxSeed bounds the seed magnitude. JSON numbers pass through float64 when
// the file is read back, which is exact only up to 2^53.
const MaxSeed = 1 << 53

// Validate performs the sanity check run before any simulation
func (c *Config) Validate() error {
	var errs []error
	bounded := []struct {
		name  string
		value int
		min   int
		max   int
	}{
		{"repetitions", c.Repetitions, 1, LimitRepetitions},
		{"max_cycles", c.MaxCycles, 1, LimitMaxCycles},
		{"cpu_capacity", c.CPUCapacity, 1, LimitCPUCapacity},
		{"job_count", c.JobCount, 1, LimitJobCount},
		{"min_frames", c.MinFrames, 1, LimitFrames},
		{"max_frames", c.MaxFrames, 1, LimitFrames},
		{"min_chunk_size", c.MinChunkSize, 1, LimitChunkSize},
		{"max_chunk_size", c.MaxChunkSize, 1, LimitChunkSize},
		{"min_startup_cycles", c.MinStartupCycles, 0, LimitStartupCycles},
		{"max_startup_cycles", c.MaxStartupCycles, 0, LimitStartupCycles},
		{"workers", c.Workers, 0, LimitWorkers},
	}
	for _, f := range bounded {
		switch {
		case f.value < f.min && f.min == 1:
			errs = append(errs, fmt.Errorf("%s must be a positive integer (got %d)", f.name, f.value))
		case f.value < f.min:
			errs = append(errs, fmt.Errorf("%s must be >= %d (got %d)", f.name, f.min, f.value))
		case f.value > f.max:
			errs = append(errs, fmt.Errorf("%s must be <= %d (got %d)", f.name, f.max, f.value))
		}
	}
	if c.MaxFrames < c.MinFrames {
		errs = append(errs, fmt.Errorf("max_frames (%d) must be >= min_frames (%d)", c.MaxFrames, c.MinFrames))
	}
	if c.MaxChunkSize < c.MinChunkSize {
		errs = append(errs, fmt.Errorf("max_chunk_size (%d) must be >= min_chunk_size (%d)", c.MaxChunkSize, c.MinChunkSize))
	}
	if c.MaxStartupCycles < c.MinStartupCycles {
		errs = append(errs, fmt.Errorf("max_startup_cycles (%d) must be >= min_startup_cycles (%d)", c.MaxStartupCycles, c.MinStartupCycles))
	}
	if c.Seed > MaxSeed || c.Seed < -MaxSeed {
		errs = append(errs, fmt.Errorf("seed must be within +/-%d (got %d)", int64(MaxSeed), c.Seed))
	}
	return errors.Join(errs...)
}

// Save writes the config as indented JSON
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadResult tells the caller whether the file had to be (re)written
type LoadResult struct {
	Config  *Config
	Path    string
	Created bool
	// ReadErr is why the existing file could not be used, if it was replaced
	ReadErr error
}

// Load reads the JSON config at path (DefaultPath when empty). An absent or
// unparseable file is replaced by the default record, which is then used.
// Environment variables prefixed with FARMSIM_ override file values.
// Load does not validate; call Validate on the result.
func Load(path string) (*LoadResult, error) {
	if path == "" {
		path = DefaultPath
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	res := &LoadResult{Path: path}
	if err := v.ReadInConfig(); err != nil {
		res.ReadErr = err
		if err := Default().Save(path); err != nil {
			return nil, err
		}
		res.Created = true
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	res.Config = cfg
	return res, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults double as the key set AutomaticEnv can bind during Unmarshal
	var defaults map[string]interface{}
	data, _ := json.Marshal(Default())
	_ = json.Unmarshal(data, &defaults)
	defaults["otlp_endpoint"] = ""
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}
