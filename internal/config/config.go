package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings for the whisper server.
type Config struct {
	BindAddr        string        `yaml:"bind_addr"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
	LogLevel        string        `yaml:"log_level"`
	SessionSeconds  int           `yaml:"session_seconds"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MetricsNamespace string `yaml:"metrics_namespace"`

	// DatabaseURL enables the Postgres profile store; empty keeps profiles
	// in memory.
	DatabaseURL string `yaml:"database_url"`

	// NATSURL enables the JetStream session-event feed; empty disables it.
	NATSURL           string `yaml:"nats_url"`
	FeedStream        string `yaml:"feed_stream"`
	FeedSubjectPrefix string `yaml:"feed_subject_prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BindAddr:          ":5000",
		AllowedOrigin:     "*",
		LogLevel:          "info",
		SessionSeconds:    300,
		ShutdownTimeout:   10 * time.Second,
		MetricsNamespace:  "campuswhisper",
		FeedStream:        "CHAT_EVENTS",
		FeedSubjectPrefix: "chat.events",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variable overrides, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.BindAddr = getEnv("WHISPER_BIND_ADDR", cfg.BindAddr)
	cfg.AllowedOrigin = getEnv("WHISPER_ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.LogLevel = getEnv("WHISPER_LOG_LEVEL", cfg.LogLevel)
	cfg.SessionSeconds = getEnvAsInt("WHISPER_SESSION_SECONDS", cfg.SessionSeconds)
	cfg.MetricsNamespace = getEnv("WHISPER_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.FeedStream = getEnv("WHISPER_FEED_STREAM", cfg.FeedStream)
	cfg.FeedSubjectPrefix = getEnv("WHISPER_FEED_SUBJECT_PREFIX", cfg.FeedSubjectPrefix)

	if d := os.Getenv("WHISPER_SHUTDOWN_TIMEOUT"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return Config{}, fmt.Errorf("parse WHISPER_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = parsed
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr must not be empty")
	}
	if c.SessionSeconds <= 0 {
		return fmt.Errorf("session_seconds must be positive, got %d", c.SessionSeconds)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
