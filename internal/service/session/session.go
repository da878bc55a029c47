package session

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/service/audio"
	"call-transcription-service/internal/service/stt"
)

type (
	frameMsg  struct{ frame models.Frame }
	startMsg  struct{ metadata map[string]string }
	stopMsg   struct{}
	resultMsg struct{ result stt.Result }
)

// abortMsg fails the session with reason.
type abortMsg struct {
	reason string
	cause  error
}

// Session is one call's transcription. A single actor goroutine owns every
// mutation; Snapshot may be called from any goroutine.
type Session struct {
	callID string
	deps   *deps
	logger zerolog.Logger

	mu            sync.RWMutex
	lifecycle     *Lifecycle
	transcript    *Transcript
	metadata      map[string]string
	startedAt     time.Time
	endedAt       time.Time
	failureReason string
	eventSeq      uint64

	// owned by the actor goroutine
	audioBytes int64
	inflight   int
	stopping   bool

	ctx       context.Context
	cancel    context.CancelCauseFunc
	mailbox   chan any
	done      chan struct{}
	persister *persister
}

func newSession(callID string, metadata map[string]string, d *deps) *Session {
	ctx, cancel := context.WithCancelCause(context.Background())
	logger := logging.WithCall("session", callID)
	s := &Session{
		callID:     callID,
		deps:       d,
		logger:     logger,
		lifecycle:  NewLifecycle(),
		transcript: NewTranscript(),
		metadata:   copyMetadata(metadata),
		startedAt:  time.Now().UTC(),
		ctx:        ctx,
		cancel:     cancel,
		mailbox:    make(chan any, d.cfg.MailboxSize),
		done:       make(chan struct{}),
		persister:  newPersister(d.store, callID, d.cfg.PersistTimeout, d.cfg.PersistRetryMaxElapsed, logger),
	}
	d.metrics.RecordSessionStart()
	go s.run()
	return s
}

// CallID returns the session's call identifier.
func (s *Session) CallID() string { return s.callID }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.lifecycle.State() }

// Done is closed when the actor exits, after the session went terminal.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns a consistent copy of the session.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		CallID:          s.callID,
		State:           s.lifecycle.State().Model(),
		FullTranscript:  s.transcript.Segments(),
		Transcript:      s.transcript.Text(),
		PartialSegments: s.transcript.Partials(),
		StartedAt:       s.startedAt,
		Metadata:        copyMetadata(s.metadata),
		Degraded:        s.transcript.Degraded(),
		ErrorCount:      s.transcript.ErrorCount(),
		FailureReason:   s.failureReason,
		NextSequence:    s.transcript.Next(),
		EventSeq:        s.eventSeq,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		snap.EndedAt = &ended
	}
	return snap
}

// send delivers m to the actor. It fails with ErrSessionClosed once the
// actor has exited.
func (s *Session) send(ctx context.Context, m any) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.mailbox <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post is send for goroutines the session itself started.
func (s *Session) post(m any) {
	select {
	case s.mailbox <- m:
	case <-s.done:
	}
}

func (s *Session) run() {
	defer s.exit()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Session actor panicked")
			s.fail(ReasonPanic, errPanic(r))
		}
	}()

	idle := time.NewTimer(s.deps.cfg.IdleTimeout)
	defer idle.Stop()
	flush := time.NewTimer(time.Hour)
	flush.Stop()
	defer flush.Stop()

	for !s.lifecycle.IsTerminal() {
		select {
		case m := <-s.mailbox:
			switch m := m.(type) {
			case frameMsg:
				if !s.stopping {
					resetTimer(idle, s.deps.cfg.IdleTimeout)
				}
				s.handleFrame(m.frame)
				s.armFlush(flush)
			case startMsg:
				s.handleStart(m.metadata)
			case stopMsg:
				s.beginStop()
			case abortMsg:
				s.fail(m.reason, m.cause)
			case resultMsg:
				s.handleResult(m.result)
			}
		case <-idle.C:
			s.fail(ReasonIdleTimeout, ErrIdleTimeout)
		case <-flush.C:
			s.flushStalled()
		}
		// Draining is bounded by the transcription retry budget, not by
		// inbound audio, whatever ended the stream.
		if s.stopping {
			idle.Stop()
			flush.Stop()
		}
	}
}

func (s *Session) exit() {
	close(s.done)
	if s.deps.onExit != nil {
		s.deps.onExit(s)
	}
}

func (s *Session) handleStart(metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	s.locked(func() {
		if s.metadata == nil {
			s.metadata = make(map[string]string, len(metadata))
		}
		maps.Copy(s.metadata, metadata)
	})
}

func (s *Session) handleFrame(f models.Frame) {
	if s.stopping {
		s.deps.metrics.RecordFrameDropped("late")
		s.logger.Debug().Uint64("sequenceHint", f.SequenceHint).Msg("Dropping frame received after stop")
		return
	}

	pcm, err := s.deps.decoder.Decode(f.Payload)
	if err != nil {
		s.deps.metrics.RecordFrameDropped("decode_error")
		s.fail(ReasonDecodeError, err)
		return
	}

	if s.lifecycle.State() == StatePending {
		s.activate()
	}

	s.deps.metrics.RecordAudioReceived(len(pcm))
	s.audioBytes += int64(len(pcm))
	if limitType, desc, exceeded := s.deps.cfg.Limits.check(s.audioBytes, time.Since(s.startedAt)); exceeded {
		s.deps.metrics.RecordLimitExceeded(limitType)
		s.fail(ReasonLimitExceeded, fmt.Errorf("%w: %s", ErrLimitExceeded, desc))
		return
	}

	if chunk := s.deps.acc.Push(s.callID, pcm); chunk != nil {
		s.dispatch(chunk)
	}
	if f.IsFinalFrame {
		s.beginStop()
	}
}

// armFlush restarts the stall timer while audio is buffered below a full
// window. A non-positive FlushAfter disables it.
func (s *Session) armFlush(t *time.Timer) {
	if s.deps.cfg.FlushAfter <= 0 || s.stopping || s.lifecycle.IsTerminal() {
		return
	}
	if s.deps.acc.Buffered(s.callID) == 0 {
		t.Stop()
		return
	}
	resetTimer(t, s.deps.cfg.FlushAfter)
}

// flushStalled sends buffered audio for transcription when frames stopped
// arriving before the window filled.
func (s *Session) flushStalled() {
	if s.stopping || s.lifecycle.IsTerminal() {
		return
	}
	chunk := s.deps.acc.Flush(s.callID)
	if chunk == nil {
		return
	}
	s.logger.Debug().Int64("durationMs", chunk.DurationMs).Msg("Flushing stalled audio")
	s.dispatch(chunk)
}

func (s *Session) activate() {
	var (
		ev   models.Event
		snap models.SessionSnapshot
		err  error
	)
	s.locked(func() {
		if err = s.lifecycle.Activate(); err != nil {
			return
		}
		ev = s.eventLocked(models.EventStarted, models.StartedPayload{
			Metadata:  copyMetadata(s.metadata),
			StartedAt: s.startedAt.UnixMilli(),
		})
		snap = s.snapshotLocked()
	})
	if err != nil {
		return
	}

	s.logger.Info().Msg("Session active")
	s.persister.Save(snap)
	s.publish(ev)
}

func (s *Session) dispatch(chunk *audio.Chunk) {
	s.inflight++
	s.deps.metrics.RecordChunkEmitted()
	s.logger.Debug().
		Uint64("sequence", chunk.Sequence).
		Int64("durationMs", chunk.DurationMs).
		Int("inflight", s.inflight).
		Msg("Dispatching chunk")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.post(resultMsg{stt.Result{
					CallID:   chunk.CallID,
					Sequence: chunk.Sequence,
					IsFinal:  true,
					Err:      errPanic(r),
				}})
			}
		}()
		res := s.deps.stt.Transcribe(s.ctx, chunk, func(interim stt.Result) {
			s.post(resultMsg{interim})
		})
		s.post(resultMsg{res})
	}()
}

func (s *Session) handleResult(r stt.Result) {
	if !r.IsFinal {
		s.applyPartial(r)
		return
	}

	s.inflight--
	if r.Err != nil {
		s.logger.Warn().
			Err(r.Err).
			Uint64("sequence", r.Sequence).
			Int("attempts", r.Attempts).
			Msg("Chunk transcription failed, committing empty segment")
	}

	var (
		out  MergeOutcome
		ev   models.Event
		snap models.SessionSnapshot
	)
	s.locked(func() {
		out = s.transcript.ApplyFinal(r)
		if len(out.Committed) > 0 {
			ev = s.eventLocked(models.EventFinalUpdate, models.FinalPayload{
				Segments:   out.Committed,
				Transcript: s.transcript.Text(),
				Degraded:   s.transcript.Degraded(),
			})
			snap = s.snapshotLocked()
		}
	})

	switch {
	case out.Discarded != "":
		s.deps.metrics.RecordResultDiscarded(out.Discarded)
		s.logger.Debug().Uint64("sequence", r.Sequence).Str("reason", out.Discarded).Msg("Result discarded")
	case out.Held:
		s.logger.Debug().Uint64("sequence", r.Sequence).Uint64("waitingFor", snap.NextSequence).Msg("Result held")
	}

	if len(out.Committed) > 0 {
		for _, seg := range out.Committed {
			s.deps.metrics.RecordSegmentCommitted(seg.Failed)
		}
		s.persister.Save(snap)
		s.publish(ev)
	}

	if s.stopping && s.inflight == 0 {
		s.complete()
	}
}

func (s *Session) applyPartial(r stt.Result) {
	var (
		ev models.Event
		ok bool
	)
	s.locked(func() {
		var p models.PartialSegment
		if p, ok = s.transcript.ApplyPartial(r, time.Now().UTC()); ok {
			ev = s.eventLocked(models.EventPartialUpdate, models.PartialPayload{Segment: p})
		}
	})
	if !ok {
		s.deps.metrics.RecordResultDiscarded("late_partial")
		return
	}

	s.deps.metrics.RecordPartialUpdate()
	s.publish(ev)
}

func (s *Session) beginStop() {
	if s.stopping || s.lifecycle.IsTerminal() {
		return
	}
	s.stopping = true
	if chunk := s.deps.acc.Flush(s.callID); chunk != nil {
		s.dispatch(chunk)
	}
	s.logger.Info().Int("inflight", s.inflight).Msg("Stop requested, draining")
	if s.inflight == 0 {
		s.complete()
	}
}

func (s *Session) complete() {
	var (
		ev   models.Event
		snap models.SessionSnapshot
		err  error
	)
	s.locked(func() {
		if err = s.lifecycle.Complete(); err != nil {
			return
		}
		s.endedAt = time.Now().UTC()
		ev = s.eventLocked(models.EventCompleted, models.CompletedPayload{
			Transcript: s.transcript.Text(),
			Segments:   len(s.transcript.segments),
			Degraded:   s.transcript.Degraded(),
			ErrorCount: s.transcript.ErrorCount(),
			EndedAt:    s.endedAt.UnixMilli(),
		})
		snap = s.snapshotLocked()
	})
	if err != nil {
		return
	}

	s.cancel(ErrCompleted)
	s.deps.acc.Reset(s.callID)
	s.persister.Save(snap)
	s.persister.Close()
	s.deps.metrics.RecordSessionEnd("", snap.EndedAt.Sub(snap.StartedAt).Seconds())

	s.logger.Info().
		Int("segments", len(snap.FullTranscript)).
		Bool("degraded", snap.Degraded).
		Int("errorCount", snap.ErrorCount).
		Msg("Session completed")
	s.publish(ev)
}

func (s *Session) fail(reason string, cause error) {
	var (
		ev      models.Event
		elapsed time.Duration
		failed  bool
	)
	s.locked(func() {
		if failed = s.lifecycle.Fail(); !failed {
			return
		}
		s.endedAt = time.Now().UTC()
		s.failureReason = reason
		ev = s.eventLocked(models.EventFailed, models.FailedPayload{
			Reason:  reason,
			EndedAt: s.endedAt.UnixMilli(),
		})
		elapsed = s.endedAt.Sub(s.startedAt)
	})
	if !failed {
		return
	}

	s.cancel(cause)
	s.deps.acc.Reset(s.callID)
	s.persister.MarkFailed(reason)
	s.persister.Close()
	s.deps.metrics.RecordSessionEnd(reason, elapsed.Seconds())

	s.logger.Warn().Err(cause).Str("reason", reason).Msg("Session failed")
	s.publish(ev)
}

// locked runs fn holding s.mu. The deferred unlock keeps the actor's panic
// recovery, which takes s.mu again, from deadlocking.
func (s *Session) locked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// eventLocked assigns the next event sequence. The caller holds s.mu so the
// sequence and the state it describes change together.
func (s *Session) eventLocked(typ models.EventType, payload any) models.Event {
	s.eventSeq++
	return models.Event{
		Type:      typ,
		CallID:    s.callID,
		Seq:       s.eventSeq,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

func (s *Session) publish(ev models.Event) {
	if s.deps.hub != nil {
		s.deps.hub.Broadcast(s.callID, ev)
	}
	if s.deps.sink != nil {
		s.deps.sink.Publish(ev)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
