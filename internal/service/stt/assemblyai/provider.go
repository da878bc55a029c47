// Package assemblyai provides an STT provider backed by the AssemblyAI SDK.
package assemblyai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"

	"call-transcription-service/internal/service/audio"
	"call-transcription-service/internal/service/stt"
)

// transcriber is the slice of the SDK the provider needs.
type transcriber interface {
	TranscribeFromReader(ctx context.Context, reader io.Reader, params *aai.TranscriptOptionalParams) (aai.Transcript, error)
}

// Provider implements stt.Provider. Each chunk is uploaded as a WAV file
// and transcribed synchronously.
type Provider struct {
	transcripts transcriber
	encode      func(pcm []byte, sampleRate int) ([]byte, error)
}

var _ stt.Provider = (*Provider)(nil)

// New creates an AssemblyAI provider.
func New(apiKey string) *Provider {
	client := aai.NewClient(apiKey)
	return &Provider{transcripts: client.Transcripts, encode: audio.EncodeWAV}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "assemblyai" }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcription, error) {
	body, err := p.encode(req.PCM, req.SampleRateHz)
	if err != nil {
		return stt.Transcription{}, &stt.ProviderError{Provider: p.Name(), Err: err}
	}

	params := &aai.TranscriptOptionalParams{
		Punctuate:  aai.Bool(true),
		FormatText: aai.Bool(true),
	}
	if lang := baseLanguage(req.LanguageCode); lang != "" {
		params.LanguageCode = aai.TranscriptLanguageCode(lang)
	}

	transcript, err := p.transcripts.TranscribeFromReader(ctx, bytes.NewReader(body), params)
	if err != nil {
		return stt.Transcription{}, classify(err)
	}

	if transcript.Status == aai.TranscriptStatusError {
		msg := "transcription failed"
		if transcript.Error != nil {
			msg = *transcript.Error
		}
		return stt.Transcription{}, &stt.ProviderError{Provider: "assemblyai", Err: errors.New(msg)}
	}

	return stt.Transcription{
		Text:         strings.TrimSpace(aai.ToString(transcript.Text)),
		Confidence:   aai.ToFloat64(transcript.Confidence),
		LanguageCode: string(transcript.LanguageCode),
	}, nil
}

// classify maps SDK API errors to HTTP status based provider errors; other
// errors are left to stt.Classify.
func classify(err error) error {
	var apiErr aai.APIError
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		return stt.NewHTTPError("assemblyai", apiErr.Status, fmt.Errorf("%s", apiErr.Message))
	}
	return err
}

func baseLanguage(code string) string {
	lang, _, _ := strings.Cut(code, "-")
	return strings.ToLower(lang)
}
