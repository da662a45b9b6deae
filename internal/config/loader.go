package config

import (
	"flag"
	"fmt"
)

// Load loads configuration with precedence: defaults → environment variables →
// command line flags, then reads the YAML device tree and validates the result.
func Load() (*Config, error) {
	// Parse command line flags if not already parsed
	if !flag.Parsed() {
		flag.Parse()
	}

	// Step 1: Start with defaults
	cfg := defaultConfig()

	// Step 2: Apply environment variables
	loadMQTTFromEnv(&cfg.MQTT)
	loadTimescaleFromEnv(&cfg.Timescale)
	loadPipelineFromEnv(&cfg.Pipeline)
	loadHTTPFromEnv(&cfg.HTTP)
	if v := getEnvString("DEVICES_FILE"); v != "" {
		cfg.DevicesFile = v
	}

	// Step 3: Apply command line flags (highest precedence)
	applyMQTTFlags(&cfg.MQTT)
	applyTimescaleFlags(&cfg.Timescale)
	applyPipelineFlags(&cfg.Pipeline)
	applyHTTPFlags(&cfg.HTTP)
	if *flagDevicesFile != "" {
		cfg.DevicesFile = *flagDevicesFile
	}

	// Step 4: Load the device tree
	devices, err := loadDevicesFile(cfg.DevicesFile)
	if err != nil {
		return nil, err
	}
	cfg.Devices = devices

	// Step 5: Validate the final configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
