// Package whisper provides an STT provider for OpenAI compatible
// /audio/transcriptions endpoints.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"call-transcription-service/internal/service/audio"
	"call-transcription-service/internal/service/stt"
)

// Config holds endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Provider implements stt.Provider over HTTP.
type Provider struct {
	cfg    Config
	client *http.Client
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Whisper provider. Per-request deadlines come from the
// caller's context, so the HTTP client carries no timeout of its own.
func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "whisper" }

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcription, error) {
	riffWav, err := audio.EncodeWAV(req.PCM, req.SampleRateHz)
	if err != nil {
		return stt.Transcription{}, &stt.ProviderError{Provider: p.Name(), Err: err}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fmt.Sprintf("%s-%d.wav", req.CallID, req.Sequence))
	if err != nil {
		return stt.Transcription{}, err
	}
	if _, err := part.Write(riffWav); err != nil {
		return stt.Transcription{}, err
	}
	_ = writer.WriteField("model", p.cfg.Model)
	_ = writer.WriteField("response_format", "json")
	if lang := baseLanguage(req.LanguageCode); lang != "" {
		_ = writer.WriteField("language", lang)
	}
	if err := writer.Close(); err != nil {
		return stt.Transcription{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return stt.Transcription{}, &stt.ProviderError{Provider: p.Name(), Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return stt.Transcription{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stt.Transcription{}, err
	}

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		msg := strings.TrimSpace(string(payload))
		if json.Unmarshal(payload, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		return stt.Transcription{}, stt.NewHTTPError(p.Name(), resp.StatusCode, errors.New(msg))
	}

	var tr transcriptionResponse
	if err := json.Unmarshal(payload, &tr); err != nil {
		return stt.Transcription{}, stt.NewHTTPError(p.Name(), resp.StatusCode, fmt.Errorf("parse response: %w", err))
	}

	return stt.Transcription{
		Text:         strings.TrimSpace(tr.Text),
		Confidence:   1,
		LanguageCode: tr.Language,
	}, nil
}

// baseLanguage turns "en-US" into the ISO-639-1 "en" the endpoint expects.
func baseLanguage(code string) string {
	lang, _, _ := strings.Cut(code, "-")
	return strings.ToLower(lang)
}
