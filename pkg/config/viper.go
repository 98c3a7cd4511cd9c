// Package config is responsible for initializing the application's
// configuration. It uses the Viper library to read settings from a config
// file and environment variables, and decodes the pipeline step list into
// the typed form the runner consumes.
package config

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/listkeeper/listkeeper/internal/logging"
	"github.com/listkeeper/listkeeper/internal/pipeline"
)

// InitConfig initializes the application's configuration using Viper.
// It sets up default values, defines configuration search paths, and enables
// reading from environment variables. Designed to be called once at startup.
func InitConfig() {
	viper.SetConfigName("listkeeper")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")                 // Current working directory
	viper.AddConfigPath("$HOME/.listkeeper") // User-specific configuration
	viper.AddConfigPath("/etc/listkeeper/")  // System-wide configuration

	viper.SetDefault("source_directory", "data")
	viper.SetDefault("development", false)

	viper.SetDefault("fetch.max_concurrent", 10)
	viper.SetDefault("fetch.requests_per_window", 60)
	viper.SetDefault("fetch.window", "1m")
	viper.SetDefault("fetch.max_retries", 3)
	viper.SetDefault("fetch.backoff_base", "500ms")
	viper.SetDefault("fetch.backoff_max", "30s")
	viper.SetDefault("fetch.timeout", "15s")
	viper.SetDefault("fetch.user_agent", "listkeeper/1.0 (+https://github.com/listkeeper/listkeeper)")

	viper.SetEnvPrefix("LISTKEEPER") // e.g. LISTKEEPER_SOURCE_DIRECTORY=data
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
		return
	}
	logging.L.Info("Loaded configuration", zap.String("file", viper.ConfigFileUsed()))
}

// LoadPipeline decodes the ordered steps list from the loaded configuration.
func LoadPipeline() (pipeline.Config, error) {
	raw := viper.Get("steps")
	if raw == nil {
		return pipeline.Config{}, fmt.Errorf("no steps configured")
	}
	var entries []pipeline.Entry
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &entries,
		ErrorUnused: true,
	})
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("build steps decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return pipeline.Config{}, fmt.Errorf("decode steps: %w", err)
	}
	if len(entries) == 0 {
		return pipeline.Config{}, fmt.Errorf("steps list is empty")
	}
	for i, e := range entries {
		if e.Step == "" {
			return pipeline.Config{}, fmt.Errorf("steps[%d]: step name is required", i)
		}
	}
	return pipeline.Config{Entries: entries}, nil
}
