// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration.
type Config struct {
	Service ServiceConfig `envconfig:"SERVICE"`
	Audio   AudioConfig   `envconfig:"AUDIO"`
	STT     STTConfig     `envconfig:"STT"`
	Session SessionConfig `envconfig:"SESSION"`
	Hub     HubConfig     `envconfig:"HUB"`
	Persist PersistConfig `envconfig:"PERSIST"`
	Kafka   KafkaConfig   `envconfig:"KAFKA"`
	Archive ArchiveConfig `envconfig:"ARCHIVE"`
	Log     LogConfig     `envconfig:"LOG"`
}

type ServiceConfig struct {
	Name            string        `envconfig:"NAME" default:"call-transcription-service"`
	Principal       string        `envconfig:"PRINCIPAL" default:"svc-call-transcription"`
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	GRPCPort        string        `envconfig:"GRPC_PORT" default:"50051"`
	MetricsPort     string        `envconfig:"METRICS_PORT" default:"9090"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

type AudioConfig struct {
	FrameBytes   int           `envconfig:"FRAME_BYTES" default:"160"`
	ChunkWindow  time.Duration `envconfig:"CHUNK_WINDOW" default:"5s"`
	SampleRateHz int           `envconfig:"SAMPLE_RATE_HZ" default:"8000"`
	// FlushAfter sends a partial window once frames stop arriving for this
	// long. Zero disables it.
	FlushAfter time.Duration `envconfig:"FLUSH_AFTER" default:"2s"`
}

type STTConfig struct {
	Provider       string        `envconfig:"PROVIDER" default:"mock"`
	LanguageCode   string        `envconfig:"LANGUAGE_CODE" default:"en-US"`
	InterimResults bool          `envconfig:"INTERIM_RESULTS" default:"true"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"2"`
	InitialBackoff time.Duration `envconfig:"INITIAL_BACKOFF" default:"500ms"`

	// google
	Model string `envconfig:"MODEL" default:"phone_call"`

	// whisper (OpenAI compatible) and assemblyai
	APIKey       string `envconfig:"API_KEY"`
	BaseURL      string `envconfig:"BASE_URL" default:"https://api.openai.com/v1"`
	WhisperModel string `envconfig:"WHISPER_MODEL" default:"whisper-1"`

	// mock
	MockLatency time.Duration `envconfig:"MOCK_LATENCY" default:"150ms"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `envconfig:"IDLE_TIMEOUT" default:"30s"`
	EvictionDelay time.Duration `envconfig:"EVICTION_DELAY" default:"1m"`
	MaxAudioBytes int64         `envconfig:"MAX_AUDIO_BYTES" default:"230400000"`
	MaxDuration   time.Duration `envconfig:"MAX_DURATION" default:"4h"`
	MailboxSize   int           `envconfig:"MAILBOX_SIZE" default:"256"`
}

type HubConfig struct {
	QueueSize    int           `envconfig:"QUEUE_SIZE" default:"64"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"30s"`
}

type PersistConfig struct {
	Driver          string        `envconfig:"DRIVER" default:"memory"`
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	RedisTTL        time.Duration `envconfig:"REDIS_TTL" default:"168h"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"5s"`
	RetryMaxElapsed time.Duration `envconfig:"RETRY_MAX_ELAPSED" default:"30s"`
}

type KafkaConfig struct {
	Enabled        bool     `envconfig:"ENABLED" default:"false"`
	Brokers        []string `envconfig:"BROKERS"`
	TopicPartial   string   `envconfig:"TOPIC_PARTIAL" default:"call.transcript.partial"`
	TopicFinal     string   `envconfig:"TOPIC_FINAL" default:"call.transcript.final"`
	TopicLifecycle string   `envconfig:"TOPIC_LIFECYCLE" default:"call.transcript.lifecycle"`
	Principal      string   `envconfig:"PRINCIPAL"`
	QueueSize      int      `envconfig:"QUEUE_SIZE" default:"1024"`
}

type ArchiveConfig struct {
	Enabled   bool   `envconfig:"ENABLED" default:"false"`
	Endpoint  string `envconfig:"ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"ACCESS_KEY"`
	SecretKey string `envconfig:"SECRET_KEY"`
	Bucket    string `envconfig:"BUCKET" default:"call-transcripts"`
	UseSSL    bool   `envconfig:"USE_SSL" default:"false"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

var (
	validProviders = []string{"mock", "google", "whisper", "assemblyai"}
	validDrivers   = []string{"memory", "postgres", "redis"}
)

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	var errs []error

	if c.Audio.FrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("AUDIO_FRAME_BYTES must be positive, got %d", c.Audio.FrameBytes))
	}
	if c.Audio.ChunkWindow < 20*time.Millisecond {
		errs = append(errs, fmt.Errorf("AUDIO_CHUNK_WINDOW must be at least 20ms, got %v", c.Audio.ChunkWindow))
	}
	if c.Audio.FlushAfter < 0 {
		errs = append(errs, fmt.Errorf("AUDIO_FLUSH_AFTER must not be negative, got %v", c.Audio.FlushAfter))
	}
	if !contains(validProviders, c.STT.Provider) {
		errs = append(errs, fmt.Errorf("STT_PROVIDER must be one of %s, got %q", strings.Join(validProviders, ","), c.STT.Provider))
	}
	if (c.STT.Provider == "whisper" || c.STT.Provider == "assemblyai") && c.STT.APIKey == "" {
		errs = append(errs, fmt.Errorf("STT_API_KEY is required for provider %s", c.STT.Provider))
	}
	if c.STT.MaxRetries < 0 {
		errs = append(errs, errors.New("STT_MAX_RETRIES must not be negative"))
	}
	if c.STT.RequestTimeout <= 0 {
		errs = append(errs, errors.New("STT_REQUEST_TIMEOUT must be positive"))
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT must be positive"))
	}
	if c.Session.MailboxSize <= 0 {
		errs = append(errs, errors.New("SESSION_MAILBOX_SIZE must be positive"))
	}
	if c.Hub.QueueSize <= 0 {
		errs = append(errs, errors.New("HUB_QUEUE_SIZE must be positive"))
	}
	if !contains(validDrivers, c.Persist.Driver) {
		errs = append(errs, fmt.Errorf("PERSIST_DRIVER must be one of %s, got %q", strings.Join(validDrivers, ","), c.Persist.Driver))
	}
	if c.Persist.Driver == "postgres" && c.Persist.DatabaseURL == "" {
		errs = append(errs, errors.New("PERSIST_DATABASE_URL is required for the postgres driver"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true"))
	}
	if c.Archive.Enabled && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
		errs = append(errs, errors.New("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY are required when ARCHIVE_ENABLED is true"))
	}

	return errors.Join(errs...)
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
