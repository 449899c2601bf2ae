package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the configuration file
const (
	EnvBaseURL   = "ASR_BASE_URL"
	EnvSessionID = "ASR_SESSION_ID"
	EnvLanguage  = "ASR_LANGUAGE"
	EnvLogLevel  = "ASR_LOG_LEVEL"
)

// Languages the transcription service keeps transcripts for
var Languages = []string{"cs", "en"}

// Config represents the complete client configuration
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Sync    SyncConfig    `yaml:"sync"`
	Audio   AudioConfig   `yaml:"audio"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// ClientConfig contains transcription service client configuration
type ClientConfig struct {
	BaseURL       string            `yaml:"base_url"`
	SessionID     string            `yaml:"session_id"`
	Language      string            `yaml:"language"`
	Timeout       int               `yaml:"timeout"` // seconds
	MaxRetries    int               `yaml:"max_retries"`
	RetryDelayMs  int               `yaml:"retry_delay_ms"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Headers       map[string]string `yaml:"headers"`
}

// SyncConfig contains transcript synchronization configuration
type SyncConfig struct {
	PollIntervalMs int  `yaml:"poll_interval_ms"`
	EndOnExit      bool `yaml:"end_on_exit"`
}

// AudioConfig contains audio capture and upload parameters
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	ChunkDurationMs  int     `yaml:"chunk_duration_ms"`
	QueueSize        int     `yaml:"queue_size"`
	SilenceThreshold float32 `yaml:"silence_threshold"` // RMS, 0 disables the gate
	UDPListen        string  `yaml:"udp_listen"`        // host:port, empty disables ingest
	UDPBufferSize    int     `yaml:"udp_buffer_size"`
}

// HTTPConfig contains monitoring HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for settings a file leaves out
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL:       "http://localhost:5003",
			Language:      "en",
			Timeout:       30,
			MaxRetries:    3,
			RetryDelayMs:  1000,
			MaxConcurrent: 10,
		},
		Sync: SyncConfig{
			PollIntervalMs: 1000,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			ChunkDurationMs: 1000,
			QueueSize:       32,
			UDPBufferSize:   65536,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// LoadEnvFiles reads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

// Load reads and parses the configuration file, applies environment
// overrides and validates the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv()

	if config.Client.SessionID == "" {
		config.Client.SessionID = uuid.NewString()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides settings from ASR_* environment variables
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvBaseURL); ok && v != "" {
		c.Client.BaseURL = v
	}
	if v, ok := os.LookupEnv(EnvSessionID); ok && v != "" {
		c.Client.SessionID = v
	}
	if v, ok := os.LookupEnv(EnvLanguage); ok && v != "" {
		c.Client.Language = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates client configuration
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got '%s'", c.BaseURL)
	}

	if c.SessionID == "" {
		return fmt.Errorf("session_id cannot be empty")
	}

	if !ValidLanguage(c.Language) {
		return fmt.Errorf("language must be one of %v, got '%s'", Languages, c.Language)
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}

	if c.RetryDelayMs < 1 {
		return fmt.Errorf("retry_delay_ms must be at least 1, got %d", c.RetryDelayMs)
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}

	return nil
}

// Validate validates synchronization configuration
func (s *SyncConfig) Validate() error {
	if s.PollIntervalMs < 100 {
		return fmt.Errorf("poll_interval_ms must be at least 100, got %d", s.PollIntervalMs)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.ChunkDurationMs < 100 || a.ChunkDurationMs > 30000 {
		return fmt.Errorf("chunk_duration_ms must be between 100 and 30000, got %d", a.ChunkDurationMs)
	}

	if a.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", a.QueueSize)
	}

	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", a.SilenceThreshold)
	}

	if a.UDPListen != "" && a.UDPBufferSize < 1024 {
		return fmt.Errorf("udp_buffer_size must be at least 1024 bytes, got %d", a.UDPBufferSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// ValidLanguage reports whether the service keeps transcripts in language
func ValidLanguage(language string) bool {
	for _, l := range Languages {
		if l == language {
			return true
		}
	}
	return false
}

// GetTimeoutDuration returns the request timeout as a time.Duration
func (c *ClientConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetRetryDelay returns the delay between retries as a time.Duration
func (c *ClientConfig) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// GetPollInterval returns the polling interval as a time.Duration
func (s *SyncConfig) GetPollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// GetChunkDuration returns the audio chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDurationMs) * time.Millisecond
}

// Sanitized returns a copy safe to expose over HTTP: header values are masked
func (c *Config) Sanitized() Config {
	out := *c
	if len(c.Client.Headers) > 0 {
		out.Client.Headers = make(map[string]string, len(c.Client.Headers))
		for k := range c.Client.Headers {
			out.Client.Headers[k] = "***"
		}
	}
	return out
}
