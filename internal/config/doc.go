// Package config provides centralized configuration management for the
// panel pipeline. It handles loading configuration from multiple
// sources, validation, and a type-safe API for the settings every
// stage shares.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of
// precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// The YAML file is applied on top of defaults rather than merged field
// by field, so explicit zeros in the file are honored. Setting both
// filter cutoffs to zero, for example, disables the suppression filter
// entirely.
//
// # Environment Variables
//
// All environment variables follow the pattern RXPANEL_* for
// namespacing:
//
//	RXPANEL_PIPELINE_POPULATION_CUTOFF=50000
//	RXPANEL_PIPELINE_SUPPRESSION_CUTOFF=0.40
//	RXPANEL_OUTPUT_DIR=output
//	RXPANEL_LOGGING_LEVEL=info
//
// The policy-case roster is list-valued and comes from the YAML file
// only.
//
// # Validation
//
// All configuration is validated at load time: tag rules for ranges
// and enumerations, and cross-field rules for the things tags cannot
// express (policy years must split the panel window, comparison lists
// must exclude the treated state, placebo years must sit strictly in
// the pre-period).
//
// # Usage
//
// Load configuration at startup:
//
//	cfg, err := config.Load(*configFile)
//	if err != nil {
//	    slog.Error("config load failed", "error", err)
//	    os.Exit(1)
//	}
package config
