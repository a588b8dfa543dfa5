// Package cli holds what the racer and racerctl command lines share: the
// on-disk config, exit codes and terminal prompts.
package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/jnoller/racer/pkg/api/client"
)

// Config is persisted at ConfigPath between invocations.
type Config struct {
	APIURL     string `json:"api_url"`
	AdminToken string `json:"admin_token,omitempty"`
}

// ConfigPath returns the location of the CLI config file.
func ConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "racer", "config.json"), nil
}

// LoadConfig reads the config file. A missing file yields defaults, and
// RACER_API_URL overrides the stored URL.
func LoadConfig() (Config, error) {
	cfg := Config{}
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if env := strings.TrimSpace(os.Getenv("RACER_API_URL")); env != "" {
		cfg.APIURL = env
	}
	if cfg.APIURL == "" {
		cfg.APIURL = client.DefaultBaseURL
	}
	return cfg, nil
}

// SaveConfig writes cfg with owner-only permissions.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
