// Package config provides the configuration structure for the voiceclone-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied when the TOML file leaves a field unset.
const (
	defaultHTTPHost              = "0.0.0.0"
	defaultHTTPPort              = 3011
	defaultReadTimeoutSeconds    = 30
	defaultWriteTimeoutSeconds   = 300
	defaultProbeAttempts         = 3
	defaultProbeDelaySeconds     = 2
	defaultStartupTimeoutSeconds = 120
	defaultGenerateTimeoutSec    = 300
	defaultRuntimeBinary         = "qwen-tts-runtime"
	defaultRuntimePort           = 8000
	defaultModelID               = "Qwen/Qwen3-TTS-12Hz-0.6B-Base"
	defaultFFmpegBinary          = "ffmpeg"
	defaultLanguage              = "Auto"
)

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	VoicesDir   string `toml:"voices_dir"`
	BaseLogsDir string `toml:"base_logs_dir"`
	KeysFile    string `toml:"keys_file"`
}

// HTTPConfig holds the configuration for the OpenAI-compatible API server.
type HTTPConfig struct {
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
}

// NATSConfig holds the configuration for the asynchronous job pipeline.
type NATSConfig struct {
	Enabled                  bool   `toml:"enabled"`
	URL                      string `toml:"url"`
	TTStreamName             string `toml:"tts_stream_name"`
	TTSConsumerName          string `toml:"tts_consumer_name"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
}

// EngineConfig holds the configuration for the inference runtime.
type EngineConfig struct {
	RuntimeBinary          string `toml:"runtime_binary"`
	RuntimePort            int    `toml:"runtime_port"`
	ModelID                string `toml:"model_id"`
	StartupTimeoutSeconds  int    `toml:"startup_timeout_seconds"`
	GenerateTimeoutSeconds int    `toml:"generate_timeout_seconds"`
	ProbeAttempts          int    `toml:"probe_attempts"`
	ProbeDelaySeconds      int    `toml:"probe_delay_seconds"`
	FFmpegBinary           string `toml:"ffmpeg_binary"`
	DefaultLanguage        string `toml:"default_language"`
	DefaultVoice           string `toml:"default_voice"`
}

// Config is the root configuration structure.
type Config struct {
	Paths  PathsConfig  `toml:"paths"`
	HTTP   HTTPConfig   `toml:"http"`
	NATS   NATSConfig   `toml:"nats"`
	Engine EngineConfig `toml:"engine"`
}

// Load loads the configuration for the voiceclone-service and applies defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Host == "" {
		c.HTTP.Host = defaultHTTPHost
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = defaultHTTPPort
	}

	if c.HTTP.ReadTimeoutSeconds == 0 {
		c.HTTP.ReadTimeoutSeconds = defaultReadTimeoutSeconds
	}

	if c.HTTP.WriteTimeoutSeconds == 0 {
		c.HTTP.WriteTimeoutSeconds = defaultWriteTimeoutSeconds
	}

	if c.Engine.RuntimeBinary == "" {
		c.Engine.RuntimeBinary = defaultRuntimeBinary
	}

	if c.Engine.RuntimePort == 0 {
		c.Engine.RuntimePort = defaultRuntimePort
	}

	if c.Engine.ModelID == "" {
		c.Engine.ModelID = defaultModelID
	}

	if c.Engine.StartupTimeoutSeconds == 0 {
		c.Engine.StartupTimeoutSeconds = defaultStartupTimeoutSeconds
	}

	if c.Engine.GenerateTimeoutSeconds == 0 {
		c.Engine.GenerateTimeoutSeconds = defaultGenerateTimeoutSec
	}

	if c.Engine.ProbeAttempts == 0 {
		c.Engine.ProbeAttempts = defaultProbeAttempts
	}

	if c.Engine.ProbeDelaySeconds == 0 {
		c.Engine.ProbeDelaySeconds = defaultProbeDelaySeconds
	}

	if c.Engine.FFmpegBinary == "" {
		c.Engine.FFmpegBinary = defaultFFmpegBinary
	}

	if c.Engine.DefaultLanguage == "" {
		c.Engine.DefaultLanguage = defaultLanguage
	}
}
