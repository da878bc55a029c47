package stt

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"call-transcription-service/internal/service/audio"
)

// scriptedProvider returns errs in order, then text.
type scriptedProvider struct {
	mu       sync.Mutex
	errs     []error
	text     string
	interims []string
	attempts int
	block    bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Transcribe(ctx context.Context, req Request) (Transcription, error) {
	return p.TranscribeStream(ctx, req, nil)
}

func (p *scriptedProvider) TranscribeStream(ctx context.Context, req Request, onInterim func(string)) (Transcription, error) {
	p.mu.Lock()
	p.attempts++
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return Transcription{}, ctx.Err()
	}
	if err != nil {
		return Transcription{}, err
	}
	for _, s := range p.interims {
		if onInterim != nil {
			onInterim(s)
		}
	}
	return Transcription{Text: p.text, Confidence: 0.9}, nil
}

func testConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.RequestTimeout = time.Second
	return cfg
}

func testChunk(seq uint64) *audio.Chunk {
	return &audio.Chunk{CallID: "call-1", Sequence: seq, PCM: make([]byte, 320), DurationMs: 20}
}

func TestClient_Success(t *testing.T) {
	p := &scriptedProvider{text: "hello"}
	c := NewClient(p, testConfig())

	res := c.Transcribe(context.Background(), testChunk(4), nil)
	if res.Err != nil {
		t.Fatalf("unexpected error %v", res.Err)
	}
	if !res.IsFinal || res.Text != "hello" || res.Sequence != 4 || res.CallID != "call-1" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
	if res.LanguageCode != "en-US" {
		t.Errorf("expected language fallback en-US, got %s", res.LanguageCode)
	}
}

func TestClient_RetryPolicy(t *testing.T) {
	tests := []struct {
		name         string
		errs         []error
		wantAttempts int
		wantErr      bool
		wantStatus   int
	}{
		{"5xx then success", []error{NewHTTPError("scripted", 503, errors.New("unavailable"))}, 2, false, 0},
		{"5xx exhausts retries", []error{
			NewHTTPError("scripted", 500, errors.New("a")),
			NewHTTPError("scripted", 502, errors.New("b")),
			NewHTTPError("scripted", 503, errors.New("c")),
		}, 3, true, 503},
		{"4xx not retried", []error{NewHTTPError("scripted", 400, errors.New("bad audio"))}, 1, true, 400},
		{"429 not retried", []error{NewHTTPError("scripted", http.StatusTooManyRequests, errors.New("slow down"))}, 1, true, 429},
		{"grpc unavailable retried", []error{status.Error(codes.Unavailable, "down")}, 2, false, 0},
		{"grpc invalid argument not retried", []error{status.Error(codes.InvalidArgument, "bad")}, 1, true, 0},
		{"grpc unauthenticated not retried", []error{status.Error(codes.Unauthenticated, "who")}, 1, true, 0},
		{"unknown transport error retried", []error{errors.New("connection reset")}, 2, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{errs: tt.errs, text: "ok"}
			res := NewClient(p, testConfig()).Transcribe(context.Background(), testChunk(0), nil)

			if res.Attempts != tt.wantAttempts {
				t.Errorf("expected %d attempts, got %d", tt.wantAttempts, res.Attempts)
			}
			if !res.IsFinal {
				t.Error("expected a final result")
			}
			if (res.Err != nil) != tt.wantErr {
				t.Fatalf("expected err=%v, got %v", tt.wantErr, res.Err)
			}
			if !tt.wantErr {
				return
			}
			if res.Text != "" {
				t.Errorf("expected empty text on failure, got %q", res.Text)
			}
			var pe *ProviderError
			if !errors.As(res.Err, &pe) {
				t.Fatalf("expected *ProviderError, got %T", res.Err)
			}
			if tt.wantStatus != 0 && pe.StatusCode != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, pe.StatusCode)
			}
		})
	}
}

func TestClient_AttemptTimeoutIsTransient(t *testing.T) {
	p := &scriptedProvider{block: true}
	cfg := testConfig()
	cfg.RequestTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 1

	res := NewClient(p, cfg).Transcribe(context.Background(), testChunk(0), nil)
	if res.Attempts != 2 {
		t.Errorf("expected timeout to be retried once, got %d attempts", res.Attempts)
	}
	var pe *ProviderError
	if !errors.As(res.Err, &pe) || !pe.Temporary {
		t.Fatalf("expected temporary provider error, got %v", res.Err)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", res.Err)
	}
}

func TestClient_ParentCancelStopsRetries(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		NewHTTPError("scripted", 503, errors.New("a")),
		NewHTTPError("scripted", 503, errors.New("b")),
	}}
	cfg := testConfig()
	cfg.InitialBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := NewClient(p, cfg).Transcribe(ctx, testChunk(0), nil)
	if res.Err == nil {
		t.Fatal("expected failure after cancel")
	}
	if res.Attempts != 1 {
		t.Errorf("expected a single attempt, got %d", res.Attempts)
	}
}

func TestClient_Interims(t *testing.T) {
	p := &scriptedProvider{text: "hello world", interims: []string{"hel", "hello"}}
	c := NewClient(p, testConfig())

	var got []Result
	res := c.Transcribe(context.Background(), testChunk(2), func(r Result) {
		got = append(got, r)
	})

	if res.Text != "hello world" {
		t.Errorf("expected final text, got %q", res.Text)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 interims, got %d", len(got))
	}
	for _, r := range got {
		if r.IsFinal {
			t.Error("interim marked final")
		}
		if r.Sequence != 2 {
			t.Errorf("interim for wrong sequence %d", r.Sequence)
		}
	}
}

func TestClient_InterimsDisabled(t *testing.T) {
	p := &scriptedProvider{text: "x", interims: []string{"a"}}
	cfg := testConfig()
	cfg.InterimResults = false

	called := false
	NewClient(p, cfg).Transcribe(context.Background(), testChunk(0), func(Result) { called = true })
	if called {
		t.Error("expected no interims when disabled")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTemporary bool
		wantType      string
	}{
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "canceled"},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "quota"), true, "grpc_ResourceExhausted"},
		{"not found", status.Error(codes.NotFound, "model"), false, "grpc_NotFound"},
		{"permission denied", status.Error(codes.PermissionDenied, "no"), false, "grpc_PermissionDenied"},
		{"http 404", NewHTTPError("x", 404, errors.New("nope")), false, "http_4xx"},
		{"http 500", NewHTTPError("x", 500, errors.New("oops")), true, "http_5xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := Classify("x", tt.err)
			if pe.Temporary != tt.wantTemporary {
				t.Errorf("Temporary = %v, want %v", pe.Temporary, tt.wantTemporary)
			}
			if got := errorType(pe); got != tt.wantType {
				t.Errorf("errorType = %s, want %s", got, tt.wantType)
			}
		})
	}
}
