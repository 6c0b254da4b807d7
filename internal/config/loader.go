package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sipharness/pkg/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd
var osLookupEnv = os.LookupEnv

const (
	userConfigDir    = ".config/sipharness"
	projectConfigDir = ".sipharness"
	configFileName   = "config.yaml"
	dotEnvFileName   = ".env"

	// EnvPrefix prefixes every environment variable read by LoadConfig.
	EnvPrefix = "SIPHARNESS_"
)

// LoadConfig loads the configuration by layering defaults, the user file,
// the project file, then .env and SIPHARNESS_* variables.
func LoadConfig() (HarnessConfig, error) {
	// 1. Start with the default configuration
	config := GetDefaultConfig()

	// 2. User and project files, in that order
	for _, layer := range []struct {
		name string
		path func() (string, error)
	}{
		{"user", getUserConfigPath},
		{"project", getProjectConfigPath},
	} {
		path, err := layer.path()
		if err != nil {
			logging.Warn("Config", "Could not determine %s config path: %v", layer.name, err)
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		overlay, err := loadConfigFromFile(path)
		if err != nil {
			return HarnessConfig{}, fmt.Errorf("error loading %s config from %s: %w", layer.name, path, err)
		}
		logging.Debug("Config", "Loaded %s config from %s", layer.name, path)
		config = mergeConfigs(config, overlay)
	}

	// 3. Environment: process variables win over .env entries
	env, err := loadEnv()
	if err != nil {
		return HarnessConfig{}, err
	}
	overlay, err := configFromEnv(env)
	if err != nil {
		return HarnessConfig{}, err
	}
	return mergeConfigs(config, overlay), nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

var getDotEnvPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, dotEnvFileName), nil
}

// loadConfigFromFile loads a HarnessConfig from a YAML file. Unknown keys
// are rejected.
func loadConfigFromFile(filePath string) (HarnessConfig, error) {
	var config HarnessConfig
	f, err := os.Open(filePath)
	if err != nil {
		return HarnessConfig{}, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		if errors.Is(err, io.EOF) {
			return HarnessConfig{}, nil
		}
		return HarnessConfig{}, err
	}
	return config, nil
}

// loadEnv returns the SIPHARNESS_* variables from .env overlaid with the
// process environment.
func loadEnv() (map[string]string, error) {
	env := make(map[string]string)

	path, err := getDotEnvPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			fileEnv, err := godotenv.Read(path)
			if err != nil {
				return nil, fmt.Errorf("error loading %s: %w", path, err)
			}
			logging.Debug("Config", "Loaded %d variables from %s", len(fileEnv), path)
			for k, v := range fileEnv {
				env[k] = v
			}
		}
	}

	for _, key := range envKeys {
		if v, ok := osLookupEnv(EnvPrefix + key); ok {
			env[EnvPrefix+key] = v
		}
	}
	return env, nil
}

var envKeys = []string{
	"EXECUTABLE", "SCENARIO_PATH", "PARALLEL",
	"SCENARIO_TIMEOUT", "EVENT_TIMEOUT", "STARTUP_DELAY", "READY_TIMEOUT", "STOP_GRACE", "CHECK_INTERVAL",
	"REPORT_PATH", "METRICS_PATH",
}

func configFromEnv(env map[string]string) (HarnessConfig, error) {
	var config HarnessConfig
	get := func(key string) (string, bool) {
		v, ok := env[EnvPrefix+key]
		return v, ok && v != ""
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	config.Executable, _ = get("EXECUTABLE")
	config.ScenarioPath, _ = get("SCENARIO_PATH")
	config.ReportPath, _ = get("REPORT_PATH")
	config.MetricsPath, _ = get("METRICS_PATH")
	if v, ok := get("PARALLEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return HarnessConfig{}, fmt.Errorf("invalid %sPARALLEL: %w", EnvPrefix, err)
		}
		config.Parallel = n
	}

	for key, dst := range map[string]*time.Duration{
		"SCENARIO_TIMEOUT": &config.ScenarioTimeout,
		"EVENT_TIMEOUT":    &config.EventTimeout,
		"STARTUP_DELAY":    &config.StartupDelay,
		"READY_TIMEOUT":    &config.ReadyTimeout,
		"STOP_GRACE":       &config.StopGrace,
		"CHECK_INTERVAL":   &config.CheckInterval,
	} {
		if err := duration(key, dst); err != nil {
			return HarnessConfig{}, err
		}
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config.
func mergeConfigs(base, overlay HarnessConfig) HarnessConfig {
	merged := base

	if overlay.Executable != "" {
		merged.Executable = overlay.Executable
	}
	if overlay.ScenarioPath != "" {
		merged.ScenarioPath = overlay.ScenarioPath
	}
	if overlay.Parallel > 0 {
		merged.Parallel = overlay.Parallel
	}
	if overlay.ReportPath != "" {
		merged.ReportPath = overlay.ReportPath
	}
	if overlay.MetricsPath != "" {
		merged.MetricsPath = overlay.MetricsPath
	}

	for _, f := range []struct{ dst, src *time.Duration }{
		{&merged.ScenarioTimeout, &overlay.ScenarioTimeout},
		{&merged.EventTimeout, &overlay.EventTimeout},
		{&merged.StartupDelay, &overlay.StartupDelay},
		{&merged.ReadyTimeout, &overlay.ReadyTimeout},
		{&merged.StopGrace, &overlay.StopGrace},
		{&merged.CheckInterval, &overlay.CheckInterval},
	} {
		if *f.src > 0 {
			*f.dst = *f.src
		}
	}

	return merged
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
