// Package http exposes the control API, the media stream endpoint and the
// subscriber endpoint on one chi router.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"call-transcription-service/internal/api/media"
	"call-transcription-service/internal/api/subscribe"
	"call-transcription-service/internal/models"
	"call-transcription-service/internal/service/hub"
)

// Sessions is the session manager surface served over HTTP.
type Sessions interface {
	Start(ctx context.Context, callID string, metadata map[string]string) (models.SessionSnapshot, error)
	IngestFrame(ctx context.Context, f models.Frame) error
	Stop(ctx context.Context, callID string) error
	Abort(ctx context.Context, callID, reason string) error
	Lookup(ctx context.Context, callID string) (models.SessionSnapshot, error)
	Subscribe(ctx context.Context, callID string, sub hub.Subscriber) error
	Unsubscribe(callID, subscriberID string)
}

// Validator validates decoded request bodies.
type Validator interface {
	Validate(req any) error
}

// Options configures the router.
type Options struct {
	Subscribe subscribe.Config
	Media     media.Config
	// Ready reports whether new calls are accepted. Nil means always.
	Ready func() bool
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(sessions Sessions, validator Validator, opts Options) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if opts.Ready != nil && !opts.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("draining"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	c := &calls{sessions: sessions, validator: validator}

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/media-stream", media.NewHandler(sessions, validator, opts.Media).ServeHTTP)

		r.Route("/calls/{callId}", func(r chi.Router) {
			r.Get("/", c.get)
			r.Post("/start", c.start)
			r.Post("/stop", c.stop)
			r.Post("/abort", c.abort)
			r.Get("/subscribe", subscribe.Handler(sessions, opts.Subscribe))
		})
	})

	return r
}
