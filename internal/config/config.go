package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Executor modes.
const (
	ExecutorInProcess  = "inprocess"
	ExecutorSubprocess = "subprocess"
)

// Config holds process configuration.
type Config struct {
	Port         int
	DBPath       string
	DataDir      string
	SettingsPath string
	Secret       string
	Executor     string
	LogLevel     string
	LogFormat    string
	FetchTimeout time.Duration
	// ChromeURL is the DevTools URL of a running browser used for previews.
	// Empty launches a local headless browser.
	ChromeURL string
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	return filepath.Join(cacheHome(), "snapkeeper", "snapshots.db")
}

// DefaultDataDir returns the default directory for captured pages using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "snapkeeper")
}

// DefaultSettingsPath returns the default settings file using XDG_CONFIG_HOME.
func DefaultSettingsPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "snapkeeper", "settings.toml")
}

func cacheHome() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return cacheDir
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Port:         8080,
		DBPath:       DefaultDBPath(),
		DataDir:      DefaultDataDir(),
		SettingsPath: DefaultSettingsPath(),
		Executor:     ExecutorInProcess,
		LogLevel:     "info",
		LogFormat:    "text",
		FetchTimeout: 30 * time.Second,
	}
}

// ApplyEnv overrides cfg with SNAPKEEPER_* environment variables.
func (cfg *Config) ApplyEnv() {
	if port := os.Getenv("SNAPKEEPER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if db := os.Getenv("SNAPKEEPER_DB"); db != "" {
		cfg.DBPath = db
	}
	if dataDir := os.Getenv("SNAPKEEPER_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if settings := os.Getenv("SNAPKEEPER_SETTINGS"); settings != "" {
		cfg.SettingsPath = settings
	}
	if secret := os.Getenv("SNAPKEEPER_SECRET"); secret != "" {
		cfg.Secret = secret
	}
	if executor := os.Getenv("SNAPKEEPER_EXECUTOR"); executor != "" {
		cfg.Executor = executor
	}
	if level := os.Getenv("SNAPKEEPER_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("SNAPKEEPER_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if timeout := os.Getenv("SNAPKEEPER_FETCH_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.FetchTimeout = d
		}
	}
	if chrome := os.Getenv("SNAPKEEPER_CHROME_URL"); chrome != "" {
		cfg.ChromeURL = chrome
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
