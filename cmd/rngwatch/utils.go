package main

import (
	"fmt"
	"os"

	"github.com/jihwankim/rngwatch/pkg/config"
)

// loadConfig loads configuration from cfgFile (or ./rngwatch.yaml),
// writing out the defaults on first run so there is something for the
// operator to edit. Flag overrides and validation happen afterward, in
// runWatch, once the CLI flags that can fill in required fields
// (--source/--synthetic) have been applied.
func loadConfig() (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = "rngwatch.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("creating default config at %s: %w", configPath, err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	return cfg, nil
}
