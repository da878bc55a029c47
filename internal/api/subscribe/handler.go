package subscribe

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/service/hub"
	"call-transcription-service/internal/service/session"
)

// Sessions is the part of the session manager the handler needs.
type Sessions interface {
	Lookup(ctx context.Context, callID string) (models.SessionSnapshot, error)
	Subscribe(ctx context.Context, callID string, sub hub.Subscriber) error
	Unsubscribe(callID, subscriberID string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves GET /v1/calls/{callId}/subscribe.
func Handler(sessions Sessions, cfg Config) http.HandlerFunc {
	logger := logging.WithComponent("subscribe")

	return func(w http.ResponseWriter, r *http.Request) {
		callID := chi.URLParam(r, "callId")
		if _, err := sessions.Lookup(r.Context(), callID); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("callId", callID).Msg("WebSocket upgrade failed")
			return
		}

		c := newConn(callID, ws, cfg)
		go c.writeLoop()

		if err := sessions.Subscribe(r.Context(), callID, c); err != nil {
			c.logger.Warn().Err(err).Msg("Subscribe failed")
			c.closeWith(websocket.CloseInternalServerErr, "subscribe failed")
			<-c.done
			return
		}

		c.readLoop()
		sessions.Unsubscribe(callID, c.ID())
		c.Close()
		<-c.done
		c.logger.Debug().Msg("Subscriber disconnected")
	}
}
