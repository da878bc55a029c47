// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string
	Service    string
}

// DefaultConfig returns the production logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339Nano,
	}
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	}

	ctx := zerolog.New(output).
		With().
		Timestamp().
		Caller()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithCall returns a logger scoped to a transcription session.
func WithCall(component, callId string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("callId", callId).
		Logger()
}

// WithChunk returns a logger scoped to one audio chunk of a call.
func WithChunk(callId string, sequence uint64, provider string) zerolog.Logger {
	return log.With().
		Str("callId", callId).
		Uint64("sequence", sequence).
		Str("sttProvider", provider).
		Logger()
}

// WithSubscriber returns a logger scoped to a hub subscriber.
func WithSubscriber(callId, subscriberId string) zerolog.Logger {
	return log.With().
		Str("component", "hub").
		Str("callId", callId).
		Str("subscriberId", subscriberId).
		Logger()
}
