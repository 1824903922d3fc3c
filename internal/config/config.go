// Copyright (c) 2025, the agent-player contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "AGENTPLAYER__"

type Config struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	BaseURL       string `mapstructure:"baseUrl"`
	SessionSecret string `mapstructure:"sessionSecret"`
	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	DataDir       string `mapstructure:"dataDir"`
	AuthorityURL  string `mapstructure:"authorityUrl"`
	MetricsEnabled bool  `mapstructure:"metricsEnabled"`
}

type AppConfig struct {
	Config *Config
	viper  *viper.Viper

	configPath string
}

func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &Config{},
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "localhost")
	c.viper.SetDefault("port", 7435)
	c.viper.SetDefault("baseUrl", "")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("authorityUrl", "https://license.dpro.at")
	c.viper.SetDefault("metricsEnabled", false)
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")

	switch {
	case configPath == "":
		configPath = filepath.Join(GetDefaultConfigDir(), "config.toml")
	case strings.HasSuffix(strings.ToLower(configPath), ".toml"):
		// Direct file path, use as-is.
	default:
		if info, err := os.Stat(configPath); err == nil && info.IsDir() {
			configPath = filepath.Join(configPath, "config.toml")
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to create default config: %w", err)
		}
	}

	c.configPath = configPath
	c.viper.SetConfigFile(configPath)

	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variables override the file: AGENTPLAYER__HOST etc.
	envKeys := map[string]string{
		"HOST":            "host",
		"PORT":            "port",
		"BASE_URL":        "baseUrl",
		"SESSION_SECRET":  "sessionSecret",
		"LOG_LEVEL":       "logLevel",
		"LOG_PATH":        "logPath",
		"DATA_DIR":        "dataDir",
		"AUTHORITY_URL":   "authorityUrl",
		"METRICS_ENABLED": "metricsEnabled",
	}
	for env, key := range envKeys {
		if value := os.Getenv(envPrefix + env); value != "" {
			c.viper.Set(key, value)
		}
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if c.Config.SessionSecret == "" {
		return fmt.Errorf("sessionSecret must be set in %s", configPath)
	}

	return nil
}

// watchConfig reloads log settings when the config file changes on disk.
func (c *AppConfig) watchConfig() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Debug().Str("file", e.Name).Msg("Config file changed, reloading")

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload config")
			return
		}

		c.ApplyLogConfig()
	})
	c.viper.WatchConfig()
}

// ApplyLogConfig sets the global zerolog level and output from config.
func (c *AppConfig) ApplyLogConfig() {
	level := zerolog.InfoLevel
	switch strings.ToUpper(c.Config.LogLevel) {
	case "TRACE":
		level = zerolog.TraceLevel
	case "DEBUG":
		level = zerolog.DebugLevel
	case "INFO":
		level = zerolog.InfoLevel
	case "WARN":
		level = zerolog.WarnLevel
	case "ERROR":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.Config.LogPath != "" {
		logFile, err := os.OpenFile(c.Config.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Error().Err(err).Str("path", c.Config.LogPath).Msg("Failed to open log file, keeping stderr")
			return
		}
		log.Logger = log.Output(logFile)
	}
}

// SetDataDir overrides the data directory (CLI flag).
func (c *AppConfig) SetDataDir(dataDir string) {
	c.Config.DataDir = dataDir
}

// GetDatabasePath returns the sqlite database location: the configured
// data dir, or next to the config file.
func (c *AppConfig) GetDatabasePath() string {
	if c.Config.DataDir != "" {
		return filepath.Join(c.Config.DataDir, "agent-player.db")
	}
	return filepath.Join(filepath.Dir(c.configPath), "agent-player.db")
}

// GetEncryptionKey derives the 32-byte key used for credentials at rest
// from the session secret.
func (c *AppConfig) GetEncryptionKey() []byte {
	sum := sha256.Sum256([]byte(c.Config.SessionSecret))
	return sum[:]
}

// GetDefaultConfigDir returns the OS-specific config directory.
func GetDefaultConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "agent-player")
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "agent-player")
}

// WriteDefaultConfig generates a config file with a fresh session secret.
func WriteDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	secret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("failed to generate session secret: %w", err)
	}

	content := fmt.Sprintf(`# agent-player configuration

# Address to listen on
host = "localhost"
port = 7435

# Base URL when serving behind a reverse proxy under a sub-path
#baseUrl = "/agent-player/"

# Session secret, also used to encrypt stored credentials
sessionSecret = "%s"

# Log level: TRACE, DEBUG, INFO, WARN, ERROR
logLevel = "INFO"

# Log file path (empty logs to stderr)
#logPath = ""

# Data directory for the database (defaults to next to this file)
#dataDir = ""

# License issuing authority endpoint
authorityUrl = "https://license.dpro.at"

# Expose Prometheus metrics at /metrics
metricsEnabled = false
`, secret)

	return os.WriteFile(configPath, []byte(content), 0644)
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
