package assemblyai

import (
	"context"
	"errors"
	"io"
	"testing"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"

	"call-transcription-service/internal/service/stt"
)

type fakeTranscriber struct {
	transcript aai.Transcript
	err        error
	params     *aai.TranscriptOptionalParams
	body       []byte
}

func (f *fakeTranscriber) TranscribeFromReader(ctx context.Context, r io.Reader, params *aai.TranscriptOptionalParams) (aai.Transcript, error) {
	f.params = params
	f.body, _ = io.ReadAll(r)
	return f.transcript, f.err
}

func passthrough(pcm []byte, _ int) ([]byte, error) { return pcm, nil }

func TestProvider_Transcribe(t *testing.T) {
	fake := &fakeTranscriber{transcript: aai.Transcript{
		Status:       aai.TranscriptStatusCompleted,
		Text:         aai.String(" good morning "),
		Confidence:   aai.Float64(0.93),
		LanguageCode: aai.TranscriptLanguageCode("en"),
	}}
	p := &Provider{transcripts: fake, encode: passthrough}

	got, err := p.Transcribe(context.Background(), stt.Request{PCM: []byte{1, 2, 3}, LanguageCode: "en-US"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Text != "good morning" {
		t.Errorf("expected trimmed text, got %q", got.Text)
	}
	if got.Confidence != 0.93 {
		t.Errorf("expected confidence 0.93, got %v", got.Confidence)
	}
	if string(fake.params.LanguageCode) != "en" {
		t.Errorf("expected language param 'en', got %q", fake.params.LanguageCode)
	}
	if len(fake.body) != 3 {
		t.Errorf("expected encoded body to be uploaded, got %d bytes", len(fake.body))
	}
}

func TestProvider_TranscriptError(t *testing.T) {
	fake := &fakeTranscriber{transcript: aai.Transcript{
		Status: aai.TranscriptStatusError,
		Error:  aai.String("audio too short"),
	}}
	p := &Provider{transcripts: fake, encode: passthrough}

	_, err := p.Transcribe(context.Background(), stt.Request{PCM: []byte{1}})
	var pe *stt.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *stt.ProviderError, got %v", err)
	}
	if pe.Temporary {
		t.Error("expected transcript error to be permanent")
	}
}

func TestProvider_APIErrors(t *testing.T) {
	tests := []struct {
		status        int
		wantTemporary bool
	}{
		{401, false},
		{400, false},
		{500, true},
		{503, true},
	}

	for _, tt := range tests {
		fake := &fakeTranscriber{err: aai.APIError{Status: tt.status, Message: "api says no"}}
		p := &Provider{transcripts: fake, encode: passthrough}

		_, err := p.Transcribe(context.Background(), stt.Request{PCM: []byte{1}})
		var pe *stt.ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("status %d: expected *stt.ProviderError, got %v", tt.status, err)
		}
		if pe.StatusCode != tt.status || pe.Temporary != tt.wantTemporary {
			t.Errorf("status %d: got status=%d temporary=%v", tt.status, pe.StatusCode, pe.Temporary)
		}
	}
}

func TestProvider_EncodeFailure(t *testing.T) {
	p := &Provider{transcripts: &fakeTranscriber{}, encode: func([]byte, int) ([]byte, error) {
		return nil, errors.New("bad pcm")
	}}
	_, err := p.Transcribe(context.Background(), stt.Request{})
	if err == nil {
		t.Fatal("expected error")
	}
}
