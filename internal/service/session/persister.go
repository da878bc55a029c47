package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/observability/metrics"
	"call-transcription-service/internal/store"
)

var errSuperseded = errors.New("snapshot superseded by a newer one")

// persister writes one session's snapshots in order on its own goroutine.
// Queued saves coalesce so only the latest snapshot is written; a failed
// save is retried until it succeeds, is superseded, or the retry budget
// runs out. It never blocks the session actor.
type persister struct {
	store      store.Store
	callID     string
	timeout    time.Duration
	maxElapsed time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	mu         sync.Mutex
	pending    *models.SessionSnapshot
	failReason string
	failQueued bool
	closed     bool

	wake chan struct{}
	done chan struct{}
}

func newPersister(st store.Store, callID string, timeout, maxElapsed time.Duration, logger zerolog.Logger) *persister {
	p := &persister{
		store:      st,
		callID:     callID,
		timeout:    timeout,
		maxElapsed: maxElapsed,
		logger:     logger,
		metrics:    metrics.DefaultMetrics,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

// Save queues snap, replacing any snapshot not yet written.
func (p *persister) Save(snap models.SessionSnapshot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = &snap
	p.mu.Unlock()
	p.signal()
}

// MarkFailed queues the terminal failure write. Only the first call counts.
func (p *persister) MarkFailed(reason string) {
	p.mu.Lock()
	if p.closed || p.failQueued {
		p.mu.Unlock()
		return
	}
	p.failQueued = true
	p.failReason = reason
	p.mu.Unlock()
	p.signal()
}

// Close stops accepting work. Done is closed once the queue is drained.
func (p *persister) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
}

// Done is closed after Close once every queued write has been attempted.
func (p *persister) Done() <-chan struct{} {
	return p.done
}

func (p *persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for range p.wake {
		for {
			p.mu.Lock()
			snap := p.pending
			p.pending = nil
			markFailed := p.failQueued && p.failReason != ""
			reason := p.failReason
			if markFailed {
				p.failReason = ""
			}
			closed := p.closed
			p.mu.Unlock()

			if snap == nil && !markFailed {
				if closed {
					return
				}
				break
			}
			if snap != nil {
				p.save(*snap)
			}
			if markFailed {
				p.markFailed(reason)
			}
		}
	}
}

func (p *persister) save(snap models.SessionSnapshot) {
	op := func() error {
		p.mu.Lock()
		superseded := p.pending != nil
		p.mu.Unlock()
		if superseded {
			return backoff.Permanent(errSuperseded)
		}
		return p.call("save", func(ctx context.Context) error {
			return p.store.Save(ctx, snap)
		})
	}

	err := backoff.RetryNotify(op, p.policy(), p.notify("save"))
	switch {
	case errors.Is(err, errSuperseded):
		p.logger.Debug().Uint64("eventSeq", snap.EventSeq).Msg("Snapshot save superseded")
	case err != nil:
		p.logger.Error().Err(err).Uint64("eventSeq", snap.EventSeq).Msg("Giving up on snapshot save")
	}
}

func (p *persister) markFailed(reason string) {
	op := func() error {
		return p.call("mark_failed", func(ctx context.Context) error {
			return p.store.MarkFailed(ctx, p.callID, reason)
		})
	}
	if err := backoff.RetryNotify(op, p.policy(), p.notify("mark_failed")); err != nil {
		p.logger.Error().Err(err).Str("reason", reason).Msg("Giving up on marking session failed")
	}
}

func (p *persister) call(op string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(&store.PersistenceError{Op: op, CallID: p.callID, Err: errPanic(r)})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	err = fn(ctx)
	p.metrics.RecordPersist(op, err, time.Since(start).Seconds())
	return err
}

func (p *persister) policy() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = p.maxElapsed
	return bo
}

func (p *persister) notify(op string) backoff.Notify {
	return func(err error, wait time.Duration) {
		p.logger.Warn().
			Err(err).
			Str("op", op).
			Dur("backoff", wait).
			Msg("Persistence failed, retrying")
	}
}
