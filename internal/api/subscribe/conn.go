// Package subscribe streams a call's session events to WebSocket clients.
package subscribe

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/service/hub"
)

// Config tunes a subscriber connection.
type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

type wsConn interface {
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Conn is a hub.Subscriber backed by a WebSocket. Events are queued and
// written by a single writer goroutine; a full queue drops the subscriber.
type Conn struct {
	id     string
	callID string
	ws     wsConn
	cfg    Config
	logger zerolog.Logger

	queue     chan models.Event
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	mu        sync.Mutex
	closeCode int
	closeText string
}

var _ hub.Subscriber = (*Conn)(nil)

func newConn(callID string, ws wsConn, cfg Config) *Conn {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	id := uuid.NewString()
	return &Conn{
		id:        id,
		callID:    callID,
		ws:        ws,
		cfg:       cfg,
		logger:    logging.WithSubscriber(callID, id),
		queue:     make(chan models.Event, cfg.QueueSize),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// ID implements hub.Subscriber.
func (c *Conn) ID() string { return c.id }

// Send implements hub.Subscriber. It never blocks.
func (c *Conn) Send(ev models.Event) error {
	select {
	case <-c.closed:
		return hub.ErrSubscriberGone
	default:
	}
	select {
	case c.queue <- ev:
		return nil
	default:
		c.closeWith(websocket.ClosePolicyViolation, "subscriber too slow")
		return hub.ErrSlowSubscriber
	}
}

// Close implements hub.Subscriber. Queued events are still written.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Conn) closeWith(code int, text string) {
	c.mu.Lock()
	c.closeCode, c.closeText = code, text
	c.mu.Unlock()
	c.Close()
}

// writeLoop owns every data write on the socket.
func (c *Conn) writeLoop() {
	defer close(c.done)
	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-c.queue:
			if err := c.write(ev); err != nil {
				c.logger.Debug().Err(err).Msg("Subscriber write failed")
				c.Close()
				_ = c.ws.Close()
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.Close()
				_ = c.ws.Close()
				return
			}
		case <-c.closed:
			c.flush()
			c.mu.Lock()
			code, text := c.closeCode, c.closeText
			c.mu.Unlock()
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
			_ = c.ws.Close()
			return
		}
	}
}

// flush writes whatever was queued before Close, terminal events included.
func (c *Conn) flush() {
	for {
		select {
		case ev := <-c.queue:
			if err := c.write(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// readLoop discards client messages and returns when the peer goes away or
// stops answering pings.
func (c *Conn) readLoop() {
	wait := 2 * c.cfg.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(wait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
