package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/observability/metrics"
	"call-transcription-service/internal/service/session"
)

// Sessions is the part of the session manager a media stream drives.
type Sessions interface {
	Start(ctx context.Context, callID string, metadata map[string]string) (models.SessionSnapshot, error)
	IngestFrame(ctx context.Context, f models.Frame) error
	Stop(ctx context.Context, callID string) error
}

// Validator checks decoded messages.
type Validator interface {
	Validate(v any) error
}

// Config tunes the media handler.
type Config struct {
	// ReadTimeout bounds the wait for the next message. Twilio sends a media
	// message every 20ms while the call is up.
	ReadTimeout time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the Twilio Media Streams WebSocket.
type Handler struct {
	sessions  Sessions
	validator Validator
	cfg       Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewHandler creates a media stream handler.
func NewHandler(sessions Sessions, validator Validator, cfg Config) *Handler {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Minute
	}
	return &Handler{
		sessions:  sessions,
		validator: validator,
		cfg:       cfg,
		logger:    logging.WithComponent("media"),
		metrics:   metrics.DefaultMetrics,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer ws.Close()

	// Stop must reach the session even after the client has gone.
	s := &stream{h: h, ws: ws, logger: h.logger}
	s.run(context.WithoutCancel(r.Context()))
}

// stream is the state of one media WebSocket.
type stream struct {
	h      *Handler
	ws     *websocket.Conn
	logger zerolog.Logger

	callID  string
	stopped bool
	frames  uint64
}

func (s *stream) run(ctx context.Context) {
	defer s.finish(ctx)

	for {
		_ = s.ws.SetReadDeadline(time.Now().Add(s.h.cfg.ReadTimeout))
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Media stream read ended")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("Ignoring malformed media message")
			continue
		}
		if done := s.handle(ctx, msg); done {
			return
		}
	}
}

// handle processes one message and reports whether the stream is over.
func (s *stream) handle(ctx context.Context, msg Message) bool {
	switch msg.Event {
	case EventConnected:
		s.logger.Debug().Str("protocol", msg.Protocol).Str("version", msg.Version).Msg("Media stream connected")

	case EventStart:
		if msg.Start == nil {
			s.logger.Warn().Msg("Start message without start block")
			return true
		}
		if err := s.h.validator.Validate(*msg.Start); err != nil {
			s.logger.Warn().Err(err).Msg("Rejecting media stream start")
			s.close(websocket.ClosePolicyViolation, "invalid start message")
			return true
		}
		s.callID = msg.Start.CallSid
		s.logger = logging.WithCall("media", s.callID)
		if _, err := s.h.sessions.Start(ctx, s.callID, msg.Start.CustomParameters); err != nil {
			s.logger.Warn().Err(err).Msg("Session start rejected")
			s.stopped = true
			s.close(websocket.ClosePolicyViolation, "session not accepted")
			return true
		}
		s.logger.Info().
			Str("streamSid", msg.Start.StreamSid).
			Strs("tracks", msg.Start.Tracks).
			Msg("Media stream started")

	case EventMedia:
		if msg.Media == nil {
			return false
		}
		if s.callID == "" {
			s.h.metrics.RecordFrameDropped("before_start")
			return false
		}
		if msg.Media.Track != "" && msg.Media.Track != "inbound" {
			return false
		}
		hint, _ := strconv.ParseUint(msg.Media.Chunk, 10, 64)
		err := s.h.sessions.IngestFrame(ctx, models.Frame{
			CallID:       s.callID,
			Payload:      msg.Media.Payload,
			SequenceHint: hint,
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Frame rejected")
			if errors.Is(err, session.ErrShuttingDown) {
				s.close(websocket.CloseGoingAway, "shutting down")
				return true
			}
			return false
		}
		s.frames++

	case EventStop:
		s.logger.Info().Uint64("frames", s.frames).Msg("Media stream stop received")
		s.stop(ctx)
		return true

	case EventMark:
		if msg.Mark != nil {
			s.logger.Debug().Str("mark", msg.Mark.Name).Msg("Mark received")
		}

	case EventDTMF:
		if msg.DTMF != nil {
			s.logger.Debug().Str("digit", msg.DTMF.Digit).Msg("DTMF received")
		}

	default:
		s.logger.Debug().Str("event", msg.Event).Msg("Ignoring unknown media event")
	}
	return false
}

// finish treats a stream that ends without a stop message as stopped.
func (s *stream) finish(ctx context.Context) {
	if s.callID != "" && !s.stopped {
		s.logger.Info().Uint64("frames", s.frames).Msg("Media stream closed without stop, stopping session")
		s.stop(ctx)
	}
}

func (s *stream) stop(ctx context.Context) {
	if s.stopped || s.callID == "" {
		return
	}
	s.stopped = true
	if err := s.h.sessions.Stop(ctx, s.callID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		s.logger.Warn().Err(err).Msg("Session stop failed")
	}
}

func (s *stream) close(code int, text string) {
	deadline := time.Now().Add(time.Second)
	_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
