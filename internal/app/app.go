// Package app wires the service together: providers, persistence, the
// subscription hub, the event publisher and the session manager.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"call-transcription-service/internal/api/media"
	"call-transcription-service/internal/api/subscribe"
	"call-transcription-service/internal/archive"
	"call-transcription-service/internal/config"
	"call-transcription-service/internal/events"
	router "call-transcription-service/internal/http"
	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/schema"
	"call-transcription-service/internal/service/hub"
	"call-transcription-service/internal/service/session"
	"call-transcription-service/internal/service/stt"
	"call-transcription-service/internal/service/stt/assemblyai"
	"call-transcription-service/internal/service/stt/google"
	"call-transcription-service/internal/service/stt/mock"
	"call-transcription-service/internal/service/stt/whisper"
	"call-transcription-service/internal/store"
	"call-transcription-service/internal/store/memory"
	"call-transcription-service/internal/store/postgres"
	"call-transcription-service/internal/store/redis"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Sessions  *session.Manager
	Hub       *hub.Hub
	Publisher *events.Publisher
	Store     store.Store

	validator *schema.Validator
	closers   []namedCloser
	draining  atomic.Bool
}

type namedCloser struct {
	name  string
	close func() error
}

// New constructs the Application from cfg. It connects to every configured
// backend, so it fails fast on unreachable dependencies.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		TimeFormat: time.RFC3339Nano,
		Service:    cfg.Service.Name,
	})

	a := &Application{
		Cfg:       cfg,
		Logger:    logging.WithComponent("application"),
		validator: schema.New(),
	}

	provider, err := a.newProvider(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	client := stt.NewClient(provider, stt.ClientConfig{
		RequestTimeout: cfg.STT.RequestTimeout,
		MaxRetries:     cfg.STT.MaxRetries,
		InitialBackoff: cfg.STT.InitialBackoff,
		LanguageCode:   cfg.STT.LanguageCode,
		SampleRateHz:   cfg.Audio.SampleRateHz,
		InterimResults: cfg.STT.InterimResults,
	})

	if a.Store, err = a.newStore(ctx); err != nil {
		a.closeAll()
		return nil, err
	}

	a.Hub = hub.New()
	a.Publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicPartial:   cfg.Kafka.TopicPartial,
		TopicFinal:     cfg.Kafka.TopicFinal,
		TopicLifecycle: cfg.Kafka.TopicLifecycle,
		Principal:      cfg.Kafka.Principal,
		QueueSize:      cfg.Kafka.QueueSize,
	})

	a.Sessions = session.NewManager(session.Config{
		FrameBytes:    cfg.Audio.FrameBytes,
		ChunkWindow:   cfg.Audio.ChunkWindow,
		FlushAfter:    cfg.Audio.FlushAfter,
		IdleTimeout:   cfg.Session.IdleTimeout,
		EvictionDelay: cfg.Session.EvictionDelay,
		MailboxSize:   cfg.Session.MailboxSize,
		Limits: session.Limits{
			MaxAudioBytes: cfg.Session.MaxAudioBytes,
			MaxDuration:   cfg.Session.MaxDuration,
		},
		PersistTimeout:         cfg.Persist.Timeout,
		PersistRetryMaxElapsed: cfg.Persist.RetryMaxElapsed,
	}, client, a.Store, a.Hub, a.Publisher)

	a.Logger.Info().
		Str("sttProvider", client.ProviderName()).
		Str("persistDriver", cfg.Persist.Driver).
		Bool("archive", cfg.Archive.Enabled).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Call transcription service application created")
	return a, nil
}

func (a *Application) newProvider(ctx context.Context) (stt.Provider, error) {
	c := a.Cfg.STT
	switch c.Provider {
	case "mock":
		return mock.New(mock.Options{Latency: c.MockLatency, SilenceIsEmpty: true}), nil
	case "google":
		p, err := google.New(ctx, google.Config{
			LanguageCode:   c.LanguageCode,
			SampleRateHz:   a.Cfg.Audio.SampleRateHz,
			InterimResults: c.InterimResults,
			AudioEncoding:  "LINEAR16",
			Model:          c.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("google stt: %w", err)
		}
		a.onClose("google-stt", p.Close)
		return p, nil
	case "whisper":
		return whisper.New(whisper.Config{BaseURL: c.BaseURL, APIKey: c.APIKey, Model: c.WhisperModel}), nil
	case "assemblyai":
		return assemblyai.New(c.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", c.Provider)
	}
}

func (a *Application) newStore(ctx context.Context) (store.Store, error) {
	c := a.Cfg.Persist

	var st store.Store
	switch c.Driver {
	case "memory":
		st = memory.New()
	case "postgres":
		pg, err := postgres.Open(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		a.onClose("postgres", pg.Close)
		st = pg
	case "redis":
		rs, err := redis.Open(ctx, redis.Config{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			TTL:      c.RedisTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		a.onClose("redis", rs.Close)
		st = rs
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", c.Driver)
	}

	if !a.Cfg.Archive.Enabled {
		return st, nil
	}
	ac := a.Cfg.Archive
	client, err := archive.NewClient(ctx, archive.Config{
		Endpoint:  ac.Endpoint,
		AccessKey: ac.AccessKey,
		SecretKey: ac.SecretKey,
		Bucket:    ac.Bucket,
		UseSSL:    ac.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return archive.New(st, client, ac.Bucket), nil
}

func (a *Application) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Handler returns the HTTP handler serving the control, media and
// subscriber endpoints.
func (a *Application) Handler() http.Handler {
	return router.NewRouter(a.Sessions, a.validator, router.Options{
		Subscribe: subscribe.Config{
			QueueSize:    a.Cfg.Hub.QueueSize,
			WriteTimeout: a.Cfg.Hub.WriteTimeout,
			PingInterval: a.Cfg.Hub.PingInterval,
		},
		Media: media.Config{},
		Ready: a.Ready,
	})
}

// Ready reports whether the service is accepting new calls.
func (a *Application) Ready() bool {
	return !a.draining.Load()
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Call transcription service starting")
	return nil
}

// Shutdown drains live sessions, then closes the hub, the publisher and
// the backends, in that order.
func (a *Application) Shutdown(ctx context.Context) error {
	a.draining.Store(true)
	a.Logger.Info().
		Int("activeSessions", a.Sessions.ActiveCount()).
		Msg("Call transcription service shutting down")

	var errs []error
	if err := a.Sessions.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	a.Hub.Close()
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher: %w", err))
	}
	errs = append(errs, a.closeAll()...)

	if len(errs) == 0 {
		a.Logger.Info().Msg("Shutdown complete")
	}
	return errors.Join(errs...)
}

func (a *Application) closeAll() []error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Error().Err(err).Str("backend", c.name).Msg("Close failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errs
}
