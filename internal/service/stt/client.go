package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-transcription-service/internal/observability/logging"
	"call-transcription-service/internal/observability/metrics"
	"call-transcription-service/internal/service/audio"
)

// ClientConfig controls timeouts and retries around a Provider.
type ClientConfig struct {
	RequestTimeout time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
}

// DefaultClientConfig returns the production retry policy: a 15s per-attempt
// timeout and two retries starting at 500ms.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout: 15 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		LanguageCode:   "en-US",
		SampleRateHz:   audio.SampleRateHz,
		InterimResults: true,
	}
}

// Client is the only component doing STT network I/O. It never returns an
// error: failures come back as a final Result with Err set.
type Client struct {
	provider Provider
	cfg      ClientConfig
	metrics  *metrics.Metrics
}

// NewClient wraps provider with the retry policy in cfg.
func NewClient(provider Provider, cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = audio.SampleRateHz
	}
	return &Client{
		provider: provider,
		cfg:      cfg,
		metrics:  metrics.DefaultMetrics,
	}
}

// ProviderName returns the name of the wrapped provider.
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Transcribe sends chunk to the provider, retrying transient failures.
// onInterim, when non-nil and the provider supports it, receives non-final
// Results for the same sequence before Transcribe returns.
func (c *Client) Transcribe(ctx context.Context, chunk *audio.Chunk, onInterim func(Result)) Result {
	logger := logging.WithChunk(chunk.CallID, chunk.Sequence, c.provider.Name())
	start := time.Now()

	req := Request{
		CallID:       chunk.CallID,
		Sequence:     chunk.Sequence,
		PCM:          chunk.PCM,
		SampleRateHz: c.cfg.SampleRateHz,
		LanguageCode: c.cfg.LanguageCode,
	}

	var (
		attempts int
		out      Transcription
	)
	op := func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		t, err := c.attempt(actx, req, onInterim)
		if err == nil {
			out = t
			return nil
		}
		if actx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("attempt timed out after %v: %w", c.cfg.RequestTimeout, context.DeadlineExceeded)
		}
		pe := Classify(c.provider.Name(), err)
		c.metrics.RecordSTTError(c.provider.Name(), errorType(pe))
		if !pe.Temporary {
			return backoff.Permanent(pe)
		}
		return pe
	}

	notify := func(err error, wait time.Duration) {
		c.metrics.RecordSTTRetry(c.provider.Name())
		logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("STT attempt failed, retrying")
	}

	err := backoff.RetryNotify(op, c.policy(ctx), notify)
	c.metrics.RecordSTTResult(c.provider.Name(), err, time.Since(start).Seconds())

	if err != nil {
		pe := Classify(c.provider.Name(), err)
		logger.Error().
			Err(pe).
			Int("attempts", attempts).
			Bool("temporary", pe.Temporary).
			Msg("STT failed for chunk")
		return Result{
			CallID:   chunk.CallID,
			Sequence: chunk.Sequence,
			IsFinal:  true,
			Attempts: attempts,
			Err:      pe,
		}
	}

	logger.Debug().
		Int("attempts", attempts).
		Int("chars", len(out.Text)).
		Dur("latency", time.Since(start)).
		Msg("STT chunk transcribed")

	lang := out.LanguageCode
	if lang == "" {
		lang = c.cfg.LanguageCode
	}
	return Result{
		CallID:       chunk.CallID,
		Sequence:     chunk.Sequence,
		Text:         out.Text,
		Confidence:   out.Confidence,
		IsFinal:      true,
		LanguageCode: lang,
		Attempts:     attempts,
	}
}

func (c *Client) policy(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)
}

func (c *Client) attempt(ctx context.Context, req Request, onInterim func(Result)) (t Transcription, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	ip, ok := c.provider.(InterimProvider)
	if !ok || onInterim == nil || !c.cfg.InterimResults {
		return c.provider.Transcribe(ctx, req)
	}
	return ip.TranscribeStream(ctx, req, func(text string) {
		if text == "" || ctx.Err() != nil {
			return
		}
		c.metrics.RecordInterim()
		onInterim(Result{
			CallID:       req.CallID,
			Sequence:     req.Sequence,
			Text:         text,
			LanguageCode: req.LanguageCode,
		})
	})
}
