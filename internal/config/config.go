package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"rxpanel/internal/errors"
)

// Config represents the complete pipeline configuration
type Config struct {
	Inputs     InputsConfig     `yaml:"inputs" envconfig:"INPUTS"`
	Pipeline   PipelineConfig   `yaml:"pipeline" envconfig:"PIPELINE"`
	Estimation EstimationConfig `yaml:"estimation" envconfig:"ESTIMATION"`
	Output     OutputConfig     `yaml:"output" envconfig:"OUTPUT"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Tracing    TracingConfig    `yaml:"tracing" envconfig:"TRACING"`
	Cases      []CaseConfig     `yaml:"cases" ignored:"true"`
}

// InputsConfig locates the three raw source files. Each may be a CSV
// file or an Excel workbook; the loader decides by extension.
type InputsConfig struct {
	PopulationFile string `yaml:"population_file" envconfig:"POPULATION_FILE" validate:"required"`
	MortalityFile  string `yaml:"mortality_file" envconfig:"MORTALITY_FILE" validate:"required"`
	ShipmentsFile  string `yaml:"shipments_file" envconfig:"SHIPMENTS_FILE" validate:"required"`
}

// PipelineConfig controls panel construction: the year window, the
// suppression filter thresholds, and the imputation policy.
type PipelineConfig struct {
	YearMin           int     `yaml:"year_min" envconfig:"YEAR_MIN" validate:"gt=1900"`
	YearMax           int     `yaml:"year_max" envconfig:"YEAR_MAX" validate:"gtefield=YearMin"`
	PopulationCutoff  float64 `yaml:"population_cutoff" envconfig:"POPULATION_CUTOFF" validate:"gte=0"`
	SuppressionCutoff float64 `yaml:"suppression_cutoff" envconfig:"SUPPRESSION_CUTOFF" validate:"gte=0,lte=1"`
	Impute            bool    `yaml:"impute" envconfig:"IMPUTE"`
	ImputeCeiling     int     `yaml:"impute_ceiling" envconfig:"IMPUTE_CEILING" validate:"gte=0"`
	RatePolicy        string  `yaml:"rate_policy" envconfig:"RATE_POLICY" validate:"oneof=global state"`
}

// EstimationConfig controls the regression stage
type EstimationConfig struct {
	Outcomes         []string `yaml:"outcomes" envconfig:"OUTCOMES" validate:"min=1"`
	ConfidenceLevel  float64  `yaml:"confidence_level" envconfig:"CONFIDENCE_LEVEL" validate:"gt=0,lt=1"`
	MaxParallelCases int      `yaml:"max_parallel_cases" envconfig:"MAX_PARALLEL_CASES" validate:"gte=1"`
}

// OutputConfig controls where artifacts land and in which format
type OutputConfig struct {
	Dir         string `yaml:"dir" envconfig:"DIR" validate:"required"`
	PanelFormat string `yaml:"panel_format" envconfig:"PANEL_FORMAT" validate:"oneof=csv sqlite"`
	MetricsFile string `yaml:"metrics_file" envconfig:"METRICS_FILE"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=stdout file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TracingConfig toggles span export for pipeline stages
type TracingConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`
}

// CaseConfig describes one policy case: the treated state, its policy
// year, and the fixed comparison states. The comparison list never
// includes the treated state itself.
type CaseConfig struct {
	Name             string           `yaml:"name" validate:"required"`
	PolicyState      string           `yaml:"policy_state" validate:"required,state"`
	PolicyYear       int              `yaml:"policy_year" validate:"gt=1900"`
	ComparisonStates []string         `yaml:"comparison_states" validate:"min=1,dive,state"`
	Robustness       RobustnessConfig `yaml:"robustness"`
}

// RobustnessConfig configures the optional per-case robustness checks.
// Empty lists and zero years mean the corresponding check is skipped;
// the population-weighted check always runs.
type RobustnessConfig struct {
	AltComparisonStates []string `yaml:"alt_comparison_states" validate:"dive,state"`
	PlaceboYear         int      `yaml:"placebo_year"`
	PlaceboMaxYear      int      `yaml:"placebo_max_year"`
	BorderFIPS          []string `yaml:"border_fips" validate:"dive,fips"`
	CoefMargin          float64  `yaml:"coef_margin" validate:"gte=0"`
}

// Load loads configuration from defaults, an optional YAML file, and
// environment variables, in increasing order of precedence. A YAML
// value of zero is honored (cutoffs of 0 disable the filter), so the
// file is applied on top of defaults rather than merged field by field.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, errors.NewConfigError("failed to load config file", err).
				WithContext("file", configFile)
		}
	}

	// Environment variables override file values
	if err := envconfig.Process("RXPANEL", cfg); err != nil {
		return nil, errors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile unmarshals a YAML file over the given config, so only
// keys present in the file are overridden
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// findConfigFile returns the first config file found in common locations
func findConfigFile() string {
	locations := []string{
		"rxpanel.yaml",
		"configs/rxpanel.yaml",
		"../configs/rxpanel.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // no config file, defaults + env vars only
}

// EnsureOutputDir creates the output directory tree if missing
func (c *Config) EnsureOutputDir() error {
	if err := os.MkdirAll(c.Output.Dir, 0o755); err != nil {
		return errors.NewStorageError("failed to create output directory", err).
			WithContext("dir", c.Output.Dir)
	}
	return nil
}

// OutputPath resolves a file name inside the output directory
func (c *Config) OutputPath(name string) string {
	return filepath.Join(c.Output.Dir, name)
}

// MetricsPath resolves the batch metrics textfile path. An absolute
// MetricsFile is honored as-is so node-exporter textfile directories
// outside the output tree work.
func (c *Config) MetricsPath() string {
	if c.Output.MetricsFile == "" {
		return ""
	}
	if filepath.IsAbs(c.Output.MetricsFile) {
		return c.Output.MetricsFile
	}
	return c.OutputPath(c.Output.MetricsFile)
}

// CaseByName returns the configured case with the given name
func (c *Config) CaseByName(name string) (*CaseConfig, error) {
	for i := range c.Cases {
		if c.Cases[i].Name == name {
			return &c.Cases[i], nil
		}
	}
	return nil, errors.NewNotFoundError(fmt.Sprintf("case %q", name))
}

// CohortStates returns the full state list for the case, treated state
// first, comparison states after, order preserved
func (cc *CaseConfig) CohortStates() []string {
	states := make([]string, 0, len(cc.ComparisonStates)+1)
	states = append(states, cc.PolicyState)
	states = append(states, cc.ComparisonStates...)
	return states
}

// Default returns the default configuration: the Florida 2010 and
// Washington 2012 opioid policy cases over the 2006-2015 panel window.
func Default() *Config {
	return &Config{
		Inputs: InputsConfig{
			PopulationFile: "data/population.csv",
			MortalityFile:  "data/mortality.csv",
			ShipmentsFile:  "data/shipments.csv",
		},
		Pipeline: PipelineConfig{
			YearMin:           2006,
			YearMax:           2015,
			PopulationCutoff:  50000,
			SuppressionCutoff: 0.40,
			Impute:            true,
			ImputeCeiling:     9,
			RatePolicy:        "global",
		},
		Estimation: EstimationConfig{
			Outcomes:         []string{"mortality_rate_per_100k", "shipment_rate_per_100k"},
			ConfidenceLevel:  0.95,
			MaxParallelCases: 2,
		},
		Output: OutputConfig{
			Dir:         "output",
			PanelFormat: "csv",
			MetricsFile: "panelbuild_metrics.prom",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "logs/rxpanel.log",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
		Cases: []CaseConfig{
			{
				Name:             "florida",
				PolicyState:      "FL",
				PolicyYear:       2010,
				ComparisonStates: []string{"GA", "AL", "SC", "NC", "TN", "MS"},
				Robustness: RobustnessConfig{
					AltComparisonStates: []string{"GA", "AL", "SC"},
					PlaceboYear:         2008,
					PlaceboMaxYear:      2009,
					BorderFIPS: []string{
						"12003", "12031", "12033", "12037", "12039", "12045",
						"12059", "12063", "12065", "12073", "12077", "12079",
						"12091", "12113", "12121", "12131", "12133",
					},
					CoefMargin: 2e6,
				},
			},
			{
				Name:             "washington",
				PolicyState:      "WA",
				PolicyYear:       2012,
				ComparisonStates: []string{"OR", "CO", "MN", "NV", "CA", "VA"},
				Robustness: RobustnessConfig{
					PlaceboYear:    2009,
					PlaceboMaxYear: 2011,
					CoefMargin:     2e6,
				},
			},
		},
	}
}
