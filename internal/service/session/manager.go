// Package session owns live call transcription sessions.
//
// Each session runs as a single actor goroutine that receives frames, control
// signals and transcription results through a mailbox. Chunks are transcribed
// concurrently; results are merged in chunk order using a low-water mark so
// the transcript is identical regardless of completion order.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/observability/metrics"
	"call-transcription-service/internal/service/audio"
	"call-transcription-service/internal/service/hub"
	"call-transcription-service/internal/service/stt"
	"call-transcription-service/internal/store"
)

// Transcriber turns chunks into results. It never returns an error; failures
// are reported on the final Result.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk *audio.Chunk, onInterim func(stt.Result)) stt.Result
	ProviderName() string
}

// Broadcaster fans session events out to live subscribers.
type Broadcaster interface {
	Broadcast(callID string, ev models.Event)
}

// SubscriptionHub is a Broadcaster that also accepts subscribers.
type SubscriptionHub interface {
	Broadcaster
	Subscribe(callID string, sub hub.Subscriber, snapshot hub.SnapshotFunc) error
	Unsubscribe(callID, subscriberID string)
}

// EventSink receives every session event. Publish must not block.
type EventSink interface {
	Publish(ev models.Event)
}

// Config tunes session behaviour.
type Config struct {
	FrameBytes             int
	ChunkWindow            time.Duration
	FlushAfter             time.Duration
	IdleTimeout            time.Duration
	EvictionDelay          time.Duration
	MailboxSize            int
	Limits                 Limits
	PersistTimeout         time.Duration
	PersistRetryMaxElapsed time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FrameBytes:             audio.DefaultFrameBytes,
		ChunkWindow:            audio.DefaultChunkWindow,
		FlushAfter:             2 * time.Second,
		IdleTimeout:            30 * time.Second,
		EvictionDelay:          time.Minute,
		MailboxSize:            256,
		Limits:                 DefaultLimits(),
		PersistTimeout:         5 * time.Second,
		PersistRetryMaxElapsed: 30 * time.Second,
	}
}

// deps is shared by the manager and all of its sessions.
type deps struct {
	cfg     Config
	decoder *audio.Decoder
	acc     *audio.Accumulator
	stt     Transcriber
	store   store.Store
	hub     Broadcaster
	sink    EventSink
	metrics *metrics.Metrics
	onExit  func(*Session)
}

// Manager creates, routes to and evicts sessions.
type Manager struct {
	deps   *deps
	hub    SubscriptionHub
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool

	quit     chan struct{}
	quitOnce sync.Once
}

// NewManager creates a manager. sink may be nil.
func NewManager(cfg Config, transcriber Transcriber, st store.Store, h SubscriptionHub, sink EventSink) *Manager {
	def := DefaultConfig()
	if cfg.FrameBytes <= 0 {
		cfg.FrameBytes = def.FrameBytes
	}
	if cfg.ChunkWindow <= 0 {
		cfg.ChunkWindow = def.ChunkWindow
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}

	m := &Manager{
		hub:      h,
		logger:   logging.WithComponent("session-manager"),
		sessions: make(map[string]*Session),
		quit:     make(chan struct{}),
	}
	m.deps = &deps{
		cfg:     cfg,
		decoder: audio.NewDecoder(cfg.FrameBytes),
		acc:     audio.NewAccumulator(cfg.ChunkWindow),
		stt:     transcriber,
		store:   st,
		sink:    sink,
		metrics: metrics.DefaultMetrics,
		onExit:  m.evictLater,
	}
	if h != nil {
		m.deps.hub = h
	}
	return m
}

func validCallID(callID string) error {
	if callID == "" || len(callID) > 128 {
		return fmt.Errorf("%w: %q", ErrInvalidCallID, callID)
	}
	return nil
}

// session returns the live session for callID, creating it when absent.
func (m *Manager) session(callID string, metadata map[string]string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, false, ErrShuttingDown
	}
	if s, ok := m.sessions[callID]; ok {
		return s, false, nil
	}
	s := newSession(callID, metadata, m.deps)
	m.sessions[callID] = s
	m.logger.Info().Str("callId", callID).Int("sessions", len(m.sessions)).Msg("Session created")
	return s, true, nil
}

func (m *Manager) lookup(callID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Start creates a pending session. Starting a live session merges metadata
// and is otherwise a no-op; starting a terminal one fails with
// ErrAlreadyTerminal.
func (m *Manager) Start(ctx context.Context, callID string, metadata map[string]string) (models.SessionSnapshot, error) {
	if err := validCallID(callID); err != nil {
		return models.SessionSnapshot{}, err
	}
	s, created, err := m.session(callID, metadata)
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	if !created {
		if s.State().IsTerminal() {
			return s.Snapshot(), fmt.Errorf("start %s: %w", callID, ErrAlreadyTerminal)
		}
		if err := s.send(ctx, startMsg{metadata: metadata}); err != nil && !errors.Is(err, ErrSessionClosed) {
			return models.SessionSnapshot{}, err
		}
	}
	return s.Snapshot(), nil
}

// IngestFrame routes a frame to its session, creating it on first use.
// Frames for terminal sessions are dropped without error.
func (m *Manager) IngestFrame(ctx context.Context, f models.Frame) error {
	if err := validCallID(f.CallID); err != nil {
		return err
	}
	s, _, err := m.session(f.CallID, nil)
	if err != nil {
		return err
	}
	if s.State().IsTerminal() {
		m.dropLate(f)
		return nil
	}
	err = s.send(ctx, frameMsg{frame: f})
	if errors.Is(err, ErrSessionClosed) {
		m.dropLate(f)
		return nil
	}
	return err
}

func (m *Manager) dropLate(f models.Frame) {
	m.deps.metrics.RecordFrameDropped("late")
	m.logger.Debug().
		Str("callId", f.CallID).
		Uint64("sequenceHint", f.SequenceHint).
		Msg("Dropping frame for terminal session")
}

// Stop asks a session to drain its in-flight chunks and complete.
// Stopping a terminal session is a no-op.
func (m *Manager) Stop(ctx context.Context, callID string) error {
	s, ok := m.lookup(callID)
	if !ok {
		return fmt.Errorf("stop %s: %w", callID, ErrSessionNotFound)
	}
	if err := s.send(ctx, stopMsg{}); err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	}
	return nil
}

// Abort fails a session immediately. In-flight chunk results are discarded.
func (m *Manager) Abort(ctx context.Context, callID, reason string) error {
	s, ok := m.lookup(callID)
	if !ok {
		return fmt.Errorf("abort %s: %w", callID, ErrSessionNotFound)
	}
	msg := abortMsg{reason: ReasonAborted, cause: fmt.Errorf("%w: %s", ErrAborted, reason)}
	if err := s.send(ctx, msg); err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	}
	return nil
}

// Snapshot returns the state of a session held in memory.
func (m *Manager) Snapshot(callID string) (models.SessionSnapshot, error) {
	s, ok := m.lookup(callID)
	if !ok {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	return s.Snapshot(), nil
}

// Lookup returns the in-memory snapshot or, for evicted sessions, the
// persisted record.
func (m *Manager) Lookup(ctx context.Context, callID string) (models.SessionSnapshot, error) {
	if snap, err := m.Snapshot(callID); err == nil {
		return snap, nil
	}
	if m.deps.store == nil {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	snap, err := m.deps.store.Load(ctx, callID)
	if errors.Is(err, store.ErrNotFound) {
		return models.SessionSnapshot{}, ErrSessionNotFound
	}
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	return snap, nil
}

// Subscribe registers sub for a call's events, starting with a snapshot.
func (m *Manager) Subscribe(ctx context.Context, callID string, sub hub.Subscriber) error {
	if m.hub == nil {
		return errors.New("no subscription hub configured")
	}
	return m.hub.Subscribe(callID, sub, func() (models.SessionSnapshot, error) {
		return m.Lookup(ctx, callID)
	})
}

// Unsubscribe removes a subscriber.
func (m *Manager) Unsubscribe(callID, subscriberID string) {
	if m.hub != nil {
		m.hub.Unsubscribe(callID, subscriberID)
	}
}

// ActiveCount returns the number of sessions not yet terminal.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if !s.State().IsTerminal() {
			n++
		}
	}
	return n
}

// Len returns the number of sessions held in memory, terminal ones included.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evictLater removes a terminal session once its persister has drained and
// the eviction delay has passed.
func (m *Manager) evictLater(s *Session) {
	go func() {
		select {
		case <-s.persister.Done():
		case <-m.quit:
			return
		}
		if d := m.deps.cfg.EvictionDelay; d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
			case <-m.quit:
				return
			}
		}
		m.mu.Lock()
		if m.sessions[s.callID] == s {
			delete(m.sessions, s.callID)
		}
		m.mu.Unlock()
		m.logger.Debug().Str("callId", s.callID).Msg("Session evicted")
	}()
}

// Shutdown stops every live session and waits for them to drain and persist.
// Sessions still running at the deadline are failed with reason "shutdown".
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	defer m.quitOnce.Do(func() { close(m.quit) })

	m.logger.Info().Int("sessions", len(sessions)).Msg("Stopping sessions")
	for _, s := range sessions {
		if err := s.send(ctx, stopMsg{}); err != nil && !errors.Is(err, ErrSessionClosed) {
			break
		}
	}

	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			m.failRemaining(sessions)
			return ctx.Err()
		}
		select {
		case <-s.persister.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.logger.Info().Msg("All sessions drained")
	return nil
}

func (m *Manager) failRemaining(sessions []*Session) {
	for _, s := range sessions {
		if s.State().IsTerminal() {
			continue
		}
		select {
		case s.mailbox <- abortMsg{reason: ReasonShutdown, cause: ErrShuttingDown}:
		default:
			s.cancel(ErrShuttingDown)
		}
		m.logger.Warn().Str("callId", s.callID).Msg("Session did not drain before shutdown deadline")
	}
}
