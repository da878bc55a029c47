// Package mock provides a canned STT provider for running without cloud
// credentials. It reports progressive interim transcripts followed by one
// final transcript per chunk.
package mock

import (
	"context"
	"sync"
	"time"

	"call-transcription-service/internal/service/stt"
)

// SimulatedUtterance is the text the provider "hears" for one chunk.
type SimulatedUtterance struct {
	Partials   []string // progressive interim transcripts
	Final      string
	Confidence float64
}

// DefaultUtterances are cycled through by chunk sequence.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you help", "Can you help me with"},
		Final:      "Can you help me with my account",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:      "I've been waiting for over an hour",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// Options tune the simulation.
type Options struct {
	// Latency is spread evenly across the interim results and the final.
	Latency time.Duration
	// Utterances replaces DefaultUtterances when non-empty.
	Utterances []SimulatedUtterance
	// SilenceIsEmpty makes all-zero audio transcribe to empty text.
	SilenceIsEmpty bool
}

// Provider implements stt.InterimProvider with canned responses.
type Provider struct {
	opts Options

	mu       sync.Mutex
	failures map[uint64][]error
	calls    map[uint64]int
}

var _ stt.InterimProvider = (*Provider)(nil)

// New creates a mock provider.
func New(opts Options) *Provider {
	if len(opts.Utterances) == 0 {
		opts.Utterances = DefaultUtterances
	}
	return &Provider{
		opts:     opts,
		failures: make(map[uint64][]error),
		calls:    make(map[uint64]int),
	}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "mock" }

// FailNext queues errs to be returned, one per attempt, for sequence seq.
func (p *Provider) FailNext(seq uint64, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[seq] = append(p.failures[seq], errs...)
}

// Calls returns how many attempts were made for sequence seq.
func (p *Provider) Calls(seq uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[seq]
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcription, error) {
	return p.TranscribeStream(ctx, req, nil)
}

// TranscribeStream implements stt.InterimProvider.
func (p *Provider) TranscribeStream(ctx context.Context, req stt.Request, onInterim func(string)) (stt.Transcription, error) {
	if err := p.nextFailure(req.Sequence); err != nil {
		return stt.Transcription{}, err
	}

	if p.opts.SilenceIsEmpty && silent(req.PCM) {
		return stt.Transcription{LanguageCode: req.LanguageCode}, nil
	}

	utt := p.opts.Utterances[int(req.Sequence%uint64(len(p.opts.Utterances)))]
	step := p.opts.Latency / time.Duration(len(utt.Partials)+1)

	for _, partial := range utt.Partials {
		if err := sleep(ctx, step); err != nil {
			return stt.Transcription{}, err
		}
		if onInterim != nil {
			onInterim(partial)
		}
	}
	if err := sleep(ctx, step); err != nil {
		return stt.Transcription{}, err
	}

	return stt.Transcription{
		Text:         utt.Final,
		Confidence:   utt.Confidence,
		LanguageCode: req.LanguageCode,
	}, nil
}

func (p *Provider) nextFailure(seq uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[seq]++
	queue := p.failures[seq]
	if len(queue) == 0 {
		return nil
	}
	p.failures[seq] = queue[1:]
	return queue[0]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func silent(pcm []byte) bool {
	for _, b := range pcm {
		if b != 0 {
			return false
		}
	}
	return true
}
