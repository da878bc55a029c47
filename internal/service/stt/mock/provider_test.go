package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"call-transcription-service/internal/service/stt"
)

func TestProvider_CyclesUtterancesBySequence(t *testing.T) {
	p := New(Options{})

	for seq := uint64(0); seq < uint64(2*len(DefaultUtterances)); seq++ {
		got, err := p.Transcribe(context.Background(), stt.Request{Sequence: seq, PCM: []byte{1, 2}})
		if err != nil {
			t.Fatalf("seq %d: unexpected error %v", seq, err)
		}
		want := DefaultUtterances[int(seq)%len(DefaultUtterances)]
		if got.Text != want.Final {
			t.Errorf("seq %d: expected %q, got %q", seq, want.Final, got.Text)
		}
		if got.Confidence != want.Confidence {
			t.Errorf("seq %d: expected confidence %v, got %v", seq, want.Confidence, got.Confidence)
		}
	}
}

func TestProvider_ProgressiveInterims(t *testing.T) {
	p := New(Options{Latency: 20 * time.Millisecond})

	var interims []string
	got, err := p.TranscribeStream(context.Background(), stt.Request{Sequence: 0, PCM: []byte{1}}, func(text string) {
		interims = append(interims, text)
	})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	want := DefaultUtterances[0]
	if len(interims) != len(want.Partials) {
		t.Fatalf("expected %d interims, got %d", len(want.Partials), len(interims))
	}
	for i := range interims {
		if interims[i] != want.Partials[i] {
			t.Errorf("interim %d: expected %q, got %q", i, want.Partials[i], interims[i])
		}
	}
	if got.Text != want.Final {
		t.Errorf("expected final %q, got %q", want.Final, got.Text)
	}
}

func TestProvider_FailNext(t *testing.T) {
	p := New(Options{})
	boom := errors.New("boom")
	p.FailNext(3, boom, boom)

	for i := 0; i < 2; i++ {
		if _, err := p.Transcribe(context.Background(), stt.Request{Sequence: 3}); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{Sequence: 3, PCM: []byte{1}}); err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if p.Calls(3) != 3 {
		t.Errorf("expected 3 calls, got %d", p.Calls(3))
	}
}

func TestProvider_SilenceIsEmpty(t *testing.T) {
	p := New(Options{SilenceIsEmpty: true})
	got, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 320)})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got.Text != "" {
		t.Errorf("expected empty text for silence, got %q", got.Text)
	}
}

func TestProvider_ContextCanceled(t *testing.T) {
	p := New(Options{Latency: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Transcribe(ctx, stt.Request{PCM: []byte{1}}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
