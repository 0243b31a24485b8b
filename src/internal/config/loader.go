// FILE: src/internal/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lconfig "github.com/lixenwraith/config"
)

// Load resolves configuration from CLI args, environment, file, and
// defaults, in that precedence order.
func Load(cliArgs []string) (*Config, error) {
	configPath := GetConfigPath()

	cfg, err := lconfig.NewBuilder().
		WithDefaults(defaults()).
		WithEnvPrefix("TAPWIRE_").
		WithFile(configPath).
		WithArgs(cliArgs).
		WithEnvTransform(envTransform).
		WithSources(
			lconfig.SourceCLI,
			lconfig.SourceEnv,
			lconfig.SourceFile,
			lconfig.SourceDefault,
		).
		Build()

	if err != nil {
		// A missing config file is fine; everything else is fatal.
		if !strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	finalConfig := &Config{}
	if err := cfg.Scan(finalConfig); err != nil {
		return nil, fmt.Errorf("failed to scan config: %w", err)
	}

	return finalConfig, finalConfig.validate()
}

// Default returns the built-in configuration, validated.
func Default() *Config {
	return defaults()
}

func envTransform(path string) string {
	env := strings.ReplaceAll(path, ".", "_")
	env = strings.ToUpper(env)
	return "TAPWIRE_" + env
}

// GetConfigPath resolves the config file location from the
// environment, falling back to ~/.config/tapwire.toml.
func GetConfigPath() string {
	if configFile := os.Getenv("TAPWIRE_CONFIG_FILE"); configFile != "" {
		if filepath.IsAbs(configFile) {
			return configFile
		}
		if configDir := os.Getenv("TAPWIRE_CONFIG_DIR"); configDir != "" {
			return filepath.Join(configDir, configFile)
		}
		return configFile
	}

	if configDir := os.Getenv("TAPWIRE_CONFIG_DIR"); configDir != "" {
		return filepath.Join(configDir, "tapwire.toml")
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config", "tapwire.toml")
	}

	return "tapwire.toml"
}
