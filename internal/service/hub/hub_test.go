package hub

import (
	"errors"
	"sync"
	"testing"

	"call-transcription-service/internal/models"
)

type fakeSubscriber struct {
	id string

	mu     sync.Mutex
	events []models.Event
	closed bool
	err    error
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.closed {
		return ErrSubscriberGone
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSubscriber) seqs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Seq
	}
	return out
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func snapshotAt(seq uint64, state models.SessionState) SnapshotFunc {
	return func() (models.SessionSnapshot, error) {
		return models.SessionSnapshot{CallID: "call-1", State: state, EventSeq: seq}, nil
	}
}

func event(seq uint64, typ models.EventType) models.Event {
	return models.Event{Type: typ, CallID: "call-1", Seq: seq}
}

func TestSubscribe_SendsSnapshotFirst(t *testing.T) {
	h := New()
	sub := &fakeSubscriber{id: "a"}

	if err := h.Subscribe("call-1", sub, snapshotAt(3, models.StateActive)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if len(sub.events) != 1 || sub.events[0].Type != models.EventSnapshot {
		t.Fatalf("expected one snapshot event, got %+v", sub.events)
	}
	if snap, ok := sub.events[0].Payload.(models.SessionSnapshot); !ok || snap.EventSeq != 3 {
		t.Errorf("snapshot payload = %+v", sub.events[0].Payload)
	}
	if h.Count("call-1") != 1 {
		t.Errorf("Count() = %d, want 1", h.Count("call-1"))
	}
}

func TestBroadcast_SkipsEventsCoveredBySnapshot(t *testing.T) {
	h := New()
	sub := &fakeSubscriber{id: "a"}
	if err := h.Subscribe("call-1", sub, snapshotAt(2, models.StateActive)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for seq := uint64(1); seq <= 4; seq++ {
		h.Broadcast("call-1", event(seq, models.EventFinalUpdate))
	}

	got := sub.seqs()
	want := []uint64{2, 3, 4} // snapshot at 2, then 3 and 4
	if len(got) != len(want) {
		t.Fatalf("seqs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("seqs = %v, want %v", got, want)
			break
		}
	}
}

func TestBroadcast_TerminalClosesSubscribers(t *testing.T) {
	h := New()
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	for _, s := range []*fakeSubscriber{a, b} {
		if err := h.Subscribe("call-1", s, snapshotAt(0, models.StatePending)); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	h.Broadcast("call-1", event(1, models.EventCompleted))

	for _, s := range []*fakeSubscriber{a, b} {
		if !s.isClosed() {
			t.Errorf("subscriber %s not closed", s.id)
		}
		if got := s.seqs(); len(got) != 2 || got[1] != 1 {
			t.Errorf("subscriber %s seqs = %v", s.id, got)
		}
	}
	if h.Count("call-1") != 0 {
		t.Errorf("Count() = %d, want 0", h.Count("call-1"))
	}
}

func TestSubscribe_TerminalSnapshotClosesImmediately(t *testing.T) {
	h := New()
	sub := &fakeSubscriber{id: "a"}

	if err := h.Subscribe("call-1", sub, snapshotAt(7, models.StateCompleted)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.isClosed() {
		t.Error("subscriber should be closed after terminal snapshot")
	}
	if h.Count("call-1") != 0 {
		t.Errorf("Count() = %d, want 0", h.Count("call-1"))
	}
}

func TestSubscribe_SnapshotError(t *testing.T) {
	h := New()
	sub := &fakeSubscriber{id: "a"}
	errMissing := errors.New("missing")

	err := h.Subscribe("call-1", sub, func() (models.SessionSnapshot, error) {
		return models.SessionSnapshot{}, errMissing
	})
	if !errors.Is(err, errMissing) {
		t.Fatalf("Subscribe() error = %v, want %v", err, errMissing)
	}
	if len(sub.events) != 0 {
		t.Errorf("no events expected, got %d", len(sub.events))
	}
}

func TestBroadcast_FailingSubscriberIsolated(t *testing.T) {
	h := New()
	good := &fakeSubscriber{id: "good"}
	slow := &fakeSubscriber{id: "slow"}
	for _, s := range []*fakeSubscriber{good, slow} {
		if err := h.Subscribe("call-1", s, snapshotAt(0, models.StateActive)); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	slow.mu.Lock()
	slow.err = ErrSlowSubscriber
	slow.mu.Unlock()

	h.Broadcast("call-1", event(1, models.EventPartialUpdate))
	h.Broadcast("call-1", event(2, models.EventPartialUpdate))

	if got := good.seqs(); len(got) != 3 {
		t.Errorf("good subscriber seqs = %v, want snapshot plus 2 events", got)
	}
	if !slow.isClosed() {
		t.Error("slow subscriber should be closed")
	}
	if h.Count("call-1") != 1 {
		t.Errorf("Count() = %d, want 1", h.Count("call-1"))
	}
}

func TestBroadcast_OtherCallsUnaffected(t *testing.T) {
	h := New()
	a := &fakeSubscriber{id: "a"}
	if err := h.Subscribe("call-1", a, snapshotAt(0, models.StateActive)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	h.Broadcast("call-2", models.Event{Type: models.EventFinalUpdate, CallID: "call-2", Seq: 1})

	if got := a.seqs(); len(got) != 1 {
		t.Errorf("seqs = %v, want only the snapshot", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := New()
	sub := &fakeSubscriber{id: "a"}
	if err := h.Subscribe("call-1", sub, snapshotAt(0, models.StateActive)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	h.Unsubscribe("call-1", "a")
	h.Unsubscribe("call-1", "a")
	h.Unsubscribe("nope", "a")

	if !sub.isClosed() {
		t.Error("subscriber should be closed")
	}
	h.Broadcast("call-1", event(1, models.EventFinalUpdate))
	if got := sub.seqs(); len(got) != 1 {
		t.Errorf("seqs = %v, want only the snapshot", got)
	}
}

// Concurrent joins while events stream must each see a contiguous sequence
// starting at their snapshot.
func TestSubscribe_ConcurrentCatchUp(t *testing.T) {
	h := New()

	var (
		mu      sync.Mutex
		current uint64
	)
	snapshot := func() (models.SessionSnapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		return models.SessionSnapshot{CallID: "call-1", State: models.StateActive, EventSeq: current}, nil
	}

	const events = 200
	subs := make([]*fakeSubscriber, 20)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= events; seq++ {
			mu.Lock()
			current = seq
			mu.Unlock()
			h.Broadcast("call-1", event(seq, models.EventPartialUpdate))
		}
	}()
	for i := range subs {
		subs[i] = &fakeSubscriber{id: string(rune('a' + i))}
		wg.Add(1)
		go func(s *fakeSubscriber) {
			defer wg.Done()
			if err := h.Subscribe("call-1", s, snapshot); err != nil {
				t.Errorf("Subscribe() error = %v", err)
			}
		}(subs[i])
	}
	wg.Wait()

	for _, s := range subs {
		got := s.seqs()
		if len(got) == 0 {
			t.Fatalf("subscriber %s received nothing", s.id)
		}
		for i := 1; i < len(got); i++ {
			if got[i] != got[i-1]+1 {
				t.Errorf("subscriber %s: gap or duplicate in %v", s.id, got)
				break
			}
		}
		if got[len(got)-1] != events {
			t.Errorf("subscriber %s: last seq = %d, want %d", s.id, got[len(got)-1], events)
		}
	}
}
