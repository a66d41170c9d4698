package main

import (
	"fmt"

	"github.com/mcdev12/pokerclock/go/internal/config"
)

// loadConfig reads .env, the config file and the environment, then sets up
// the global logger.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		config.LoadEnv(envFile)
	} else {
		config.LoadEnv()
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logJSON {
		cfg.Log.Format = "json"
	}
	config.SetupLogging(cfg.Log)
	return cfg, nil
}
