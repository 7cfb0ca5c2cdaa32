// Package config holds the process-wide configuration for ra.
//
// Values come from, in increasing precedence: built-in defaults, the
// project file .github/repo-agents.yaml (found by walking up from the
// working directory, or named by RA_CONFIG), RA_-prefixed environment
// variables, and command-line flags bound by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Project config file location.
const (
	ConfigDir      = ".github"
	ConfigFileName = "repo-agents.yaml"
	EnvPrefix      = "RA"
	EnvConfigFile  = "RA_CONFIG"
)

var v *viper.Viper

// Initialize sets up the viper instance. It is safe to call repeatedly;
// each call starts from a clean instance.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	RegisterDefaults()

	path := os.Getenv(EnvConfigFile)
	if path == "" {
		found, err := findProjectConfig()
		if err != nil {
			return nil
		}
		path = found
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return nil
}

// ResetForTesting discards all configuration and reinstalls defaults only.
func ResetForTesting() {
	v = viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	RegisterDefaults()
}

// ConfigFileUsed returns the path of the loaded project file, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

var errNoProjectConfig = errors.New("no project config found")

// findProjectConfig walks up from the working directory looking for
// .github/repo-agents.yaml.
func findProjectConfig() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ConfigDir, ConfigFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		if dir == filepath.Dir(dir) {
			return "", errNoProjectConfig
		}
	}
}

// Set overrides a value, typically from a flag.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat64 retrieves a float configuration value.
func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice. Environment values are
// comma-separated.
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AllSettings returns the merged configuration as a nested map.
func AllSettings() map[string]any {
	if v == nil {
		return nil
	}
	return v.AllSettings()
}
