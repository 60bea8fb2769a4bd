package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Storage       StorageConfig       `yaml:"storage"`
	Interview     InterviewConfig     `yaml:"interview"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains the monitoring HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains microphone capture parameters
type AudioConfig struct {
	SampleRate         int     `yaml:"sample_rate"`
	Channels           int     `yaml:"channels"`
	BitDepth           int     `yaml:"bit_depth"`
	MIMEType           string  `yaml:"mime_type"`
	ChunkSize          int     `yaml:"chunk_size"`           // bytes per read from the device
	SilenceTimeout     float64 `yaml:"silence_timeout"`      // seconds
	MaxCaptureDuration float64 `yaml:"max_capture_duration"` // seconds
}

// SynthesisConfig contains speech synthesis API configuration
type SynthesisConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Voice    string `yaml:"voice"`
	Format   string `yaml:"format"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// PlaybackConfig selects the external audio player the synthesized
// speech is piped to. An empty command falls back to ffplay.
type PlaybackConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	Language        string `yaml:"language"`
	Timeout         int    `yaml:"timeout"` // seconds
	MaxRetries      int    `yaml:"max_retries"`
	MaxConcurrent   int    `yaml:"max_concurrent"`
	MaxPayloadBytes int64  `yaml:"max_payload_bytes"`
}

// ExtractionConfig contains field extraction API configuration
type ExtractionConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout"` // seconds
}

// StorageConfig contains consultation record store configuration
type StorageConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// QuestionConfig defines one interview question and the field key its
// extracted answer is stored under
type QuestionConfig struct {
	Text     string `yaml:"text"`
	FieldKey string `yaml:"field_key"`
}

// InterviewConfig contains the interview script
type InterviewConfig struct {
	Questions         []QuestionConfig `yaml:"questions"`
	CompletionMessage string           `yaml:"completion_message"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// collectionPattern restricts the storage collection name to identifiers
// that are safe to splice into SQL table names
var collectionPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Load reads and parses the configuration file, applies environment
// overrides for secrets, and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides fills API keys from the environment so secrets never
// have to live in the config file. A shared OPENAI_API_KEY covers all three
// backends; per-backend variables take precedence.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.Synthesis.APIKey == "" {
			c.Synthesis.APIKey = key
		}
		if c.Transcription.APIKey == "" {
			c.Transcription.APIKey = key
		}
		if c.Extraction.APIKey == "" {
			c.Extraction.APIKey = key
		}
	}
	if key := os.Getenv("SYNTHESIS_API_KEY"); key != "" {
		c.Synthesis.APIKey = key
	}
	if key := os.Getenv("TRANSCRIPTION_API_KEY"); key != "" {
		c.Transcription.APIKey = key
	}
	if key := os.Getenv("EXTRACTION_API_KEY"); key != "" {
		c.Extraction.APIKey = key
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Synthesis.Validate(); err != nil {
		return fmt.Errorf("synthesis config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Extraction.Validate(); err != nil {
		return fmt.Errorf("extraction config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Interview.Validate(); err != nil {
		return fmt.Errorf("interview config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
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

// Validate validates audio capture configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.MIMEType == "" {
		return fmt.Errorf("mime_type cannot be empty")
	}

	if a.ChunkSize < 256 {
		return fmt.Errorf("chunk_size must be at least 256 bytes, got %d", a.ChunkSize)
	}

	if a.SilenceTimeout <= 0 {
		return fmt.Errorf("silence_timeout must be positive, got %f", a.SilenceTimeout)
	}

	if a.MaxCaptureDuration <= a.SilenceTimeout {
		return fmt.Errorf("max_capture_duration (%f) must be greater than silence_timeout (%f)",
			a.MaxCaptureDuration, a.SilenceTimeout)
	}

	return nil
}

// Validate validates synthesis configuration
func (s *SynthesisConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.Voice == "" {
		return fmt.Errorf("voice cannot be empty")
	}

	validFormats := map[string]bool{"mp3": true, "wav": true, "opus": true}
	if !validFormats[s.Format] {
		return fmt.Errorf("format must be one of [mp3, wav, opus], got '%s'", s.Format)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.MaxPayloadBytes < 1024 {
		return fmt.Errorf("max_payload_bytes must be at least 1024, got %d", t.MaxPayloadBytes)
	}

	return nil
}

// Validate validates extraction configuration
func (e *ExtractionConfig) Validate() error {
	if e.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if e.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if e.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if e.Temperature < 0 || e.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", e.Temperature)
	}

	if e.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", e.MaxTokens)
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if !collectionPattern.MatchString(s.Collection) {
		return fmt.Errorf("collection must be a valid identifier, got '%s'", s.Collection)
	}

	return nil
}

// Validate validates the interview script
func (i *InterviewConfig) Validate() error {
	if len(i.Questions) == 0 {
		return fmt.Errorf("at least one question is required")
	}

	seen := make(map[string]bool, len(i.Questions))
	for idx, q := range i.Questions {
		if q.Text == "" {
			return fmt.Errorf("question %d: text cannot be empty", idx)
		}

		if q.FieldKey == "" {
			return fmt.Errorf("question %d: field_key cannot be empty", idx)
		}

		if seen[q.FieldKey] {
			return fmt.Errorf("question %d: duplicate field_key '%s'", idx, q.FieldKey)
		}
		seen[q.FieldKey] = true
	}

	if i.CompletionMessage == "" {
		return fmt.Errorf("completion_message cannot be empty")
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

	return nil
}

// GetSilenceTimeout returns the silence timeout as a time.Duration
func (a *AudioConfig) GetSilenceTimeout() time.Duration {
	return time.Duration(a.SilenceTimeout * float64(time.Second))
}

// GetMaxCaptureDuration returns the maximum capture duration as a time.Duration
func (a *AudioConfig) GetMaxCaptureDuration() time.Duration {
	return time.Duration(a.MaxCaptureDuration * float64(time.Second))
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (s *SynthesisConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the extraction timeout as a time.Duration
func (e *ExtractionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}
