// Package stt defines the speech-to-text provider contract and the retrying
// client the session manager uses to transcribe audio chunks.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Request is one chunk of PCM16 LE mono audio to transcribe.
type Request struct {
	CallID       string
	Sequence     uint64
	PCM          []byte
	SampleRateHz int
	LanguageCode string
}

// Transcription is a provider's answer for one request.
type Transcription struct {
	Text         string
	Confidence   float64
	LanguageCode string
}

// Provider transcribes a whole chunk in one call (Google, Whisper, AssemblyAI, mock).
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Transcription, error)
}

// InterimProvider is a Provider that can report provisional text while it
// is still recognizing a chunk.
type InterimProvider interface {
	Provider
	TranscribeStream(ctx context.Context, req Request, onInterim func(text string)) (Transcription, error)
}

// Result is what the client hands back to the session manager. A failed
// chunk is reported as a final Result with empty Text and Err set.
type Result struct {
	CallID       string
	Sequence     uint64
	Text         string
	Confidence   float64
	IsFinal      bool
	LanguageCode string
	Attempts     int
	Err          error
}

// ProviderError is a classified provider failure. StatusCode is the HTTP
// status when the provider speaks HTTP, zero otherwise.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       codes.Code
	Temporary  bool
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("stt %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	case e.Code != codes.OK:
		return fmt.Sprintf("stt %s: %s: %v", e.Provider, e.Code, e.Err)
	default:
		return fmt.Sprintf("stt %s: %v", e.Provider, e.Err)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewHTTPError classifies an HTTP failure. 5xx is retried, anything else
// below 500 is not.
func NewHTTPError(provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Temporary:  statusCode >= 500,
		Err:        err,
	}
}

// Classify turns any provider error into a *ProviderError.
func Classify(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = provider
		}
		return pe
	}

	if s, ok := status.FromError(err); ok && s.Code() != codes.OK {
		return &ProviderError{
			Provider:  provider,
			Code:      s.Code(),
			Temporary: temporaryCode(s.Code()),
			Err:       err,
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &ProviderError{Provider: provider, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ProviderError{Provider: provider, Code: codes.DeadlineExceeded, Temporary: true, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ProviderError{Provider: provider, Temporary: true, Err: err}
	}

	// Unknown transport level failures are retried.
	return &ProviderError{Provider: provider, Temporary: true, Err: err}
}

func temporaryCode(c codes.Code) bool {
	switch c {
	case codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// errorType is the metrics label for a classified error.
func errorType(pe *ProviderError) string {
	switch {
	case pe.StatusCode >= 500:
		return "http_5xx"
	case pe.StatusCode >= 400:
		return "http_4xx"
	case pe.Code == codes.DeadlineExceeded:
		return "timeout"
	case pe.Code != codes.OK:
		return "grpc_" + pe.Code.String()
	case errors.Is(pe.Err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}
