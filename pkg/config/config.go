// Package config provides configuration loading and management for mrivolumes.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sort strategies for ordering the files of a series before stacking.
const (
	OrderPath     = "path"
	OrderNatural  = "natural"
	OrderInstance = "instance"
)

// Transform strategies for the affine attached to an assembled volume.
const (
	TransformIdentity  = "identity"
	TransformSpacing   = "spacing"
	TransformCanonical = "canonical"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input describes where slice files are discovered
	Input struct {
		// Root is the directory tree that is scanned for slice files
		Root string `yaml:"root"`

		// Extensions filters candidate files; an empty list accepts every file
		Extensions []string `yaml:"extensions"`
	} `yaml:"input"`

	// Output describes where assembled volumes are written
	Output struct {
		// Dir is created if it does not exist
		Dir string `yaml:"dir"`

		// Extension of the written volume files
		Extension string `yaml:"extension"`
	} `yaml:"output"`

	// Assembly parameters for turning a series into a volume
	Assembly struct {
		// Order selects how files in a series are sorted (path, natural, instance)
		Order string `yaml:"order"`

		// Transform selects the affine attached to the volume (identity, spacing, canonical)
		Transform string `yaml:"transform"`

		// Spacing is the voxel size in mm used by the spacing transform
		Spacing [3]float64 `yaml:"spacing"`

		// TargetShape is the grid used by the canonical transform
		TargetShape [3]int `yaml:"targetShape"`

		// TargetSpacing is the voxel size in mm of the canonical grid
		TargetSpacing float64 `yaml:"targetSpacing"`
	} `yaml:"assembly"`

	// Resample parameters for the standalone volume transforms
	Resample struct {
		InputDir      string  `yaml:"inputDir"`
		OutputDir     string  `yaml:"outputDir"`
		TargetShape   [3]int  `yaml:"targetShape"`
		TargetSpacing float64 `yaml:"targetSpacing"`
	} `yaml:"resample"`

	// Segmentation parameters for K-means tissue classification
	Segmentation struct {
		// Clusters is the number of tissue classes
		Clusters int `yaml:"clusters"`

		// Percentile of positive intensities used as the automatic mask threshold
		Percentile float64 `yaml:"percentile"`

		// MaxIterations bounds the K-means refinement
		MaxIterations int `yaml:"maxIterations"`
	} `yaml:"segmentation"`

	// Plot parameters for comparison figures
	Plot struct {
		OutputDir string `yaml:"outputDir"`

		// CellSize is the edge length in pixels of each panel
		CellSize int `yaml:"cellSize"`
	} `yaml:"plot"`

	// Logging parameters
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"logging"`

	// Manifest is an optional SQLite file recording every converted series
	Manifest struct {
		Path string `yaml:"path"`
	} `yaml:"manifest"`

	// Metrics is an optional Prometheus textfile written after each run
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Root = "."
	cfg.Input.Extensions = []string{".dcm"}

	cfg.Output.Dir = "nifti_output"
	cfg.Output.Extension = ".nii.gz"

	cfg.Assembly.Order = OrderPath
	cfg.Assembly.Transform = TransformIdentity
	cfg.Assembly.Spacing = [3]float64{1, 1, 1}
	cfg.Assembly.TargetShape = [3]int{128, 128, 128}
	cfg.Assembly.TargetSpacing = 1.4

	cfg.Resample.InputDir = "input_dir"
	cfg.Resample.OutputDir = "output_dir"
	cfg.Resample.TargetShape = [3]int{128, 128, 128}
	cfg.Resample.TargetSpacing = 1.4

	cfg.Segmentation.Clusters = 3
	cfg.Segmentation.Percentile = 10
	cfg.Segmentation.MaxIterations = 300

	cfg.Plot.OutputDir = "plots"
	cfg.Plot.CellSize = 256

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
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

// SaveConfig saves the configuration to a YAML file
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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir must not be empty"))
	}
	switch strings.ToLower(c.Output.Extension) {
	case ".nii", ".nii.gz":
	default:
		errs = append(errs, fmt.Errorf("output.extension %q is not one of .nii, .nii.gz", c.Output.Extension))
	}

	switch c.Assembly.Order {
	case OrderPath, OrderNatural, OrderInstance:
	default:
		errs = append(errs, fmt.Errorf("assembly.order %q is not one of path, natural, instance", c.Assembly.Order))
	}

	switch c.Assembly.Transform {
	case TransformIdentity:
	case TransformSpacing:
		for i, s := range c.Assembly.Spacing {
			if s <= 0 {
				errs = append(errs, fmt.Errorf("assembly.spacing[%d] must be positive, got %g", i, s))
			}
		}
	case TransformCanonical:
		errs = append(errs, validateShape("assembly.targetShape", c.Assembly.TargetShape)...)
		if c.Assembly.TargetSpacing <= 0 {
			errs = append(errs, fmt.Errorf("assembly.targetSpacing must be positive, got %g", c.Assembly.TargetSpacing))
		}
	default:
		errs = append(errs, fmt.Errorf("assembly.transform %q is not one of identity, spacing, canonical", c.Assembly.Transform))
	}

	errs = append(errs, validateShape("resample.targetShape", c.Resample.TargetShape)...)
	if c.Resample.TargetSpacing <= 0 {
		errs = append(errs, fmt.Errorf("resample.targetSpacing must be positive, got %g", c.Resample.TargetSpacing))
	}

	if c.Segmentation.Clusters < 2 {
		errs = append(errs, fmt.Errorf("segmentation.clusters must be at least 2, got %d", c.Segmentation.Clusters))
	}
	if c.Segmentation.Percentile < 0 || c.Segmentation.Percentile >= 100 {
		errs = append(errs, fmt.Errorf("segmentation.percentile must be in [0, 100), got %g", c.Segmentation.Percentile))
	}
	if c.Segmentation.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("segmentation.maxIterations must be positive, got %d", c.Segmentation.MaxIterations))
	}

	if c.Plot.CellSize < 16 {
		errs = append(errs, fmt.Errorf("plot.cellSize must be at least 16, got %d", c.Plot.CellSize))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func validateShape(field string, shape [3]int) []error {
	var errs []error
	for i, n := range shape {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s[%d] must be positive, got %d", field, i, n))
		}
	}
	return errs
}
