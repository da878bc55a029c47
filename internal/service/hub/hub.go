// Package hub fans session events out to live subscribers.
//
// Every subscriber first receives a snapshot of the session, then each event
// published after that snapshot exactly once and in order. Events already
// reflected in the snapshot are skipped by comparing sequence numbers.
package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/observability/metrics"
)

var (
	// ErrSubscriberGone is returned by a Subscriber whose connection is closed.
	ErrSubscriberGone = errors.New("subscriber gone")
	// ErrSlowSubscriber is returned by a Subscriber that cannot keep up.
	ErrSlowSubscriber = errors.New("subscriber too slow")
)

// Subscriber is one live consumer of a session's events. Send must not
// block; implementations queue and return ErrSlowSubscriber when full.
type Subscriber interface {
	ID() string
	Send(ev models.Event) error
	Close()
}

// SnapshotFunc returns the current state of a session.
type SnapshotFunc func() (models.SessionSnapshot, error)

type member struct {
	sub     Subscriber
	lastSeq uint64
}

// room holds the subscribers of one call. Its lock serializes broadcasts
// with joins so a joining subscriber never misses or repeats an event.
type room struct {
	mu      sync.Mutex
	members map[string]*member
}

// Hub tracks subscribers per call.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]*room
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		rooms:   make(map[string]*room),
		logger:  logging.WithComponent("hub"),
		metrics: metrics.DefaultMetrics,
	}
}

// lock returns the call's room locked. A room released while the caller
// waited for its lock is skipped so members never join an orphaned room.
func (h *Hub) lock(callID string, create bool) *room {
	for {
		h.mu.Lock()
		r, ok := h.rooms[callID]
		if !ok {
			if !create {
				h.mu.Unlock()
				return nil
			}
			r = &room{members: make(map[string]*member)}
			h.rooms[callID] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		h.mu.Lock()
		current := h.rooms[callID] == r
		h.mu.Unlock()
		if current {
			return r
		}
		r.mu.Unlock()
	}
}

func (h *Hub) release(callID string, r *room) {
	h.mu.Lock()
	if h.rooms[callID] == r {
		delete(h.rooms, callID)
	}
	h.mu.Unlock()
}

// Subscribe sends sub a snapshot event and registers it for later events.
// If the snapshot is terminal the subscriber is closed right after it.
func (h *Hub) Subscribe(callID string, sub Subscriber, snapshot SnapshotFunc) error {
	r := h.lock(callID, true)
	defer r.mu.Unlock()

	snap, err := snapshot()
	if err != nil {
		if len(r.members) == 0 {
			h.release(callID, r)
		}
		return err
	}

	logger := logging.WithSubscriber(callID, sub.ID())
	ev := models.Event{
		Type:      models.EventSnapshot,
		CallID:    callID,
		Seq:       snap.EventSeq,
		Timestamp: time.Now().UnixMilli(),
		Payload:   snap,
	}
	if err := sub.Send(ev); err != nil {
		sub.Close()
		if len(r.members) == 0 {
			h.release(callID, r)
		}
		return fmt.Errorf("send snapshot: %w", err)
	}
	h.metrics.RecordDelivery()

	if snap.IsTerminal() {
		logger.Debug().Str("state", string(snap.State)).Msg("Session already terminal, closing subscriber")
		sub.Close()
		if len(r.members) == 0 {
			h.release(callID, r)
		}
		return nil
	}

	if old, ok := r.members[sub.ID()]; ok && old.sub != sub {
		old.sub.Close()
		h.metrics.RecordSubscriberRemoved()
	}
	r.members[sub.ID()] = &member{sub: sub, lastSeq: snap.EventSeq}
	h.metrics.RecordSubscriberAdded()
	logger.Info().Uint64("eventSeq", snap.EventSeq).Int("subscribers", len(r.members)).Msg("Subscriber added")
	return nil
}

// Unsubscribe removes and closes a subscriber. Unknown ids are ignored.
func (h *Hub) Unsubscribe(callID, subscriberID string) {
	r := h.lock(callID, false)
	if r == nil {
		return
	}
	defer r.mu.Unlock()

	m, ok := r.members[subscriberID]
	if !ok {
		return
	}
	delete(r.members, subscriberID)
	m.sub.Close()
	h.metrics.RecordSubscriberRemoved()
	if len(r.members) == 0 {
		h.release(callID, r)
	}
	l := logging.WithSubscriber(callID, subscriberID)
	l.Debug().Msg("Subscriber removed")
}

// Broadcast delivers ev to every subscriber of the call. A subscriber whose
// Send fails is dropped. Terminal events close the call's subscribers.
func (h *Hub) Broadcast(callID string, ev models.Event) {
	r := h.lock(callID, false)
	if r == nil {
		return
	}
	defer r.mu.Unlock()

	for id, m := range r.members {
		if ev.Seq <= m.lastSeq {
			continue
		}
		if err := m.sub.Send(ev); err != nil {
			reason := "error"
			switch {
			case errors.Is(err, ErrSlowSubscriber):
				reason = "slow"
			case errors.Is(err, ErrSubscriberGone):
				reason = "gone"
			}
			h.logger.Warn().
				Err(err).
				Str("callId", callID).
				Str("subscriberId", id).
				Str("eventType", string(ev.Type)).
				Msg("Dropping subscriber")
			h.metrics.RecordSubscriberDropped(reason)
			h.metrics.RecordSubscriberRemoved()
			m.sub.Close()
			delete(r.members, id)
			continue
		}
		m.lastSeq = ev.Seq
		h.metrics.RecordDelivery()
	}

	if ev.Type.IsTerminal() {
		for id, m := range r.members {
			m.sub.Close()
			delete(r.members, id)
			h.metrics.RecordSubscriberRemoved()
		}
	}
	if len(r.members) == 0 {
		h.release(callID, r)
	}
}

// Count returns the number of subscribers of a call.
func (h *Hub) Count(callID string) int {
	r := h.lock(callID, false)
	if r == nil {
		return 0
	}
	defer r.mu.Unlock()
	return len(r.members)
}

// Close closes every subscriber of every call.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		for id, m := range r.members {
			m.sub.Close()
			delete(r.members, id)
			h.metrics.RecordSubscriberRemoved()
		}
		r.mu.Unlock()
	}
}
