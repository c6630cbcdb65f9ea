// Package config handles soundboard configuration from YAML file and environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Speech   SpeechConfig   `yaml:"speech"`
	Session  SessionConfig  `yaml:"session"`
	Playback PlaybackConfig `yaml:"playback"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory or sqlite
	Path   string `yaml:"path"`
}

type SpeechConfig struct {
	Provider        string        `yaml:"provider"` // external or google
	Language        string        `yaml:"language"`
	SampleRate      int           `yaml:"sample_rate"`
	CredentialsFile string        `yaml:"credentials_file"`
	Endpoint        string        `yaml:"endpoint"`
	SilenceTimeout  time.Duration `yaml:"silence_timeout"`
}

type SessionConfig struct {
	RestartBackoffBase time.Duration `yaml:"restart_backoff_base"`
	RestartBackoffMax  time.Duration `yaml:"restart_backoff_max"`
	MaxRestartFailures int           `yaml:"max_restart_failures"`
}

type PlaybackConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command []string `yaml:"command"` // player argv; clip on stdin, {volume} replaced with 0-100
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8000",
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Driver: "memory",
			Path:   "soundboard.db",
		},
		Speech: SpeechConfig{
			Provider:       "external",
			Language:       "en-US",
			SampleRate:     16000,
			SilenceTimeout: 60 * time.Second,
		},
		Session: SessionConfig{
			RestartBackoffBase: 300 * time.Millisecond,
			RestartBackoffMax:  5 * time.Second,
			MaxRestartFailures: 5,
		},
		Playback: PlaybackConfig{
			Enabled: false,
			Command: []string{"ffplay", "-autoexit", "-nodisp", "-loglevel", "quiet", "-volume", "{volume}", "-"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Server.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Speech.Provider = getEnv("SPEECH_PROVIDER", c.Speech.Provider)
	c.Speech.Language = getEnv("SPEECH_LANGUAGE", c.Speech.Language)
	c.Speech.SampleRate = getEnvInt("SAMPLE_RATE", c.Speech.SampleRate)
	c.Speech.CredentialsFile = getEnv("SPEECH_CREDENTIALS_FILE", c.Speech.CredentialsFile)
	c.Speech.Endpoint = getEnv("SPEECH_ENDPOINT", c.Speech.Endpoint)
	c.Speech.SilenceTimeout = getEnvDuration("SPEECH_SILENCE_TIMEOUT", c.Speech.SilenceTimeout)
	c.Session.RestartBackoffBase = getEnvDuration("RESTART_BACKOFF_BASE", c.Session.RestartBackoffBase)
	c.Session.RestartBackoffMax = getEnvDuration("RESTART_BACKOFF_MAX", c.Session.RestartBackoffMax)
	c.Session.MaxRestartFailures = getEnvInt("MAX_RESTART_FAILURES", c.Session.MaxRestartFailures)
	c.Playback.Enabled = getEnvBool("PLAYBACK_ENABLED", c.Playback.Enabled)
	c.Playback.Command = getEnvList("PLAYBACK_COMMAND", c.Playback.Command)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Speech.Provider {
	case "external", "google":
	default:
		return fmt.Errorf("unknown speech provider %q", c.Speech.Provider)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("sqlite storage requires a path")
	}
	if c.Speech.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.Speech.SampleRate)
	}
	if c.Playback.Enabled && len(c.Playback.Command) == 0 {
		return fmt.Errorf("local playback requires a player command")
	}
	return nil
}

// SlogLevel parses the configured log level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
