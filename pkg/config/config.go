// Package config provides configuration loading and management for stitchvol.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"stitchvol/internal/models"
)

// Conventions describes how the tile grid was acquired: whether tile
// indices ascend with stage position along each axis, and which axis labels
// the registration collaborator uses for its pair measurements. The labels
// are kept configurable because they encode the collaborator's own
// convention, not ours.
type Conventions struct {
	// AscendingX and AscendingY declare the tile ordering along each
	// mosaic axis. A descending axis flips the sign of propagated
	// displacements during position estimation.
	AscendingX bool `yaml:"ascendingTilesX"`
	AscendingY bool `yaml:"ascendingTilesY"`

	// AxisAlongY and AxisAlongX map the registration collaborator's
	// integer axis labels onto mosaic adjacency directions.
	AxisAlongY int `yaml:"axisAlongY"`
	AxisAlongX int `yaml:"axisAlongX"`
}

// MapAxis resolves a pair's integer axis label to a mosaic axis.
func (c Conventions) MapAxis(label int) (models.Axis, error) {
	switch label {
	case c.AxisAlongX:
		return models.AxisX, nil
	case c.AxisAlongY:
		return models.AxisY, nil
	}
	return 0, fmt.Errorf("unmapped registration axis label %d", label)
}

// Ascending returns the declared ordering convention for a mosaic axis.
func (c Conventions) Ascending(axis models.Axis) bool {
	if axis == models.AxisX {
		return c.AscendingX
	}
	return c.AscendingY
}

// Config represents the application configuration loaded from YAML.
type Config struct {
	Mosaic Conventions `yaml:"mosaic"`

	// Optimizer parameters for the global displacement refinement.
	Optimizer struct {
		// Enabled turns the refinement stage on. Degenerate inputs
		// (fewer than two measurements on an axis) skip it regardless.
		Enabled bool `yaml:"enabled"`

		// Islands is the number of independently seeded annealing runs.
		Islands int `yaml:"islands"`

		// Seed is the base seed for the ensemble; 0 means time-seeded.
		Seed int64 `yaml:"seed"`

		// TStart and TFinal bound the geometric cooling schedule, over
		// TSteps temperature adjustments with Sweeps proposals per
		// coordinate at each temperature.
		TStart float64 `yaml:"tStart"`
		TFinal float64 `yaml:"tFinal"`
		TSteps int     `yaml:"tSteps"`
		Sweeps int     `yaml:"sweeps"`

		// Search bounds around each tile's nominal stride: the stride
		// component may deviate from the tile size by at most MaxShift
		// pixels, the lateral component by ShiftLateral, the frame
		// component by ShiftZ.
		MaxShift     float64 `yaml:"maxShift"`
		ShiftLateral float64 `yaml:"shiftLateral"`
		ShiftZ       float64 `yaml:"shiftZ"`
	} `yaml:"optimizer"`

	// Fusion parameters for the streaming output stage.
	Fusion struct {
		// MemoryBytes caps the working memory for one output chunk.
		// 0 means detect available memory at run time.
		MemoryBytes int64 `yaml:"memoryBytes"`

		// MemoryFraction is the safety margin applied to the budget.
		MemoryFraction float64 `yaml:"memoryFraction"`

		// QueueDepth is the capacity of the producer/consumer queue.
		QueueDepth int `yaml:"queueDepth"`

		// ZMin and ZMax select an output frame window; ZMax 0 means the
		// full thickness.
		ZMin int `yaml:"zMin"`
		ZMax int `yaml:"zMax"`
	} `yaml:"fusion"`

	// Workers bounds internal parallelism (optimizer islands run
	// concurrently up to this count).
	Workers int `yaml:"workers"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Mosaic.AscendingX = true
	cfg.Mosaic.AscendingY = true
	cfg.Mosaic.AxisAlongY = 1
	cfg.Mosaic.AxisAlongX = 2

	cfg.Optimizer.Enabled = true
	cfg.Optimizer.Islands = 8
	cfg.Optimizer.TStart = 10.0
	cfg.Optimizer.TFinal = 1e-5
	cfg.Optimizer.TSteps = 10
	cfg.Optimizer.Sweeps = 20
	cfg.Optimizer.MaxShift = 112
	cfg.Optimizer.ShiftLateral = 30
	cfg.Optimizer.ShiftZ = 10

	cfg.Fusion.MemoryFraction = 2.0 / 3.0
	cfg.Fusion.QueueDepth = 20

	cfg.Workers = runtime.NumCPU()

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
