package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the default project config file name.
const ConfigFileName = ".syncstore.json"

// Config holds all configuration options. Config files are JWCC, so
// comments and trailing commas are fine.
type Config struct {
	DBPath     string `json:"db_path"`
	SchemaPath string `json:"schema_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DBPath:     "replica.sqlite",
		SchemaPath: "schema.json",
	}
}

// LoadConfig loads configuration with the following precedence
// (highest wins): defaults, project config file in workDir, explicit
// config file via configPath, CLI overrides.
func LoadConfig(workDir, configPath string, overrides Config) (Config, error) {
	cfg := DefaultConfig()

	projectPath := filepath.Join(workDir, ConfigFileName)

	fileCfg, err := loadConfigFile(projectPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	if err == nil {
		cfg = mergeConfig(cfg, fileCfg)
	}

	if configPath != "" {
		fileCfg, err = loadConfigFile(configPath)
		if err != nil {
			return Config{}, err
		}

		cfg = mergeConfig(cfg, fileCfg)
	}

	return mergeConfig(cfg, overrides), nil
}

// loadConfigFile reads and parses one JWCC config file.
func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// mergeConfig overlays non-empty fields of override onto base.
func mergeConfig(base, override Config) Config {
	if override.DBPath != "" {
		base.DBPath = override.DBPath
	}

	if override.SchemaPath != "" {
		base.SchemaPath = override.SchemaPath
	}

	return base
}
