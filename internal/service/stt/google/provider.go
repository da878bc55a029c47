// Package google provides a Google Cloud Speech-to-Text provider.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"call-transcription-service/internal/service/stt"
)

// maxAudioMessage keeps each streamed request under the API's 25 KiB limit.
const maxAudioMessage = 3200

// Config holds recognition settings.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	Model          string
}

// DefaultConfig returns settings for 8 kHz telephony PCM.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		Model:          "phone_call",
	}
}

// Provider implements stt.InterimProvider using StreamingRecognize, one
// stream per chunk.
type Provider struct {
	client *speech.Client
	cfg    Config
}

var _ stt.InterimProvider = (*Provider)(nil)

// New creates a Google STT provider.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &Provider{client: c, cfg: cfg}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "google" }

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcription, error) {
	return p.TranscribeStream(ctx, req, nil)
}

// TranscribeStream implements stt.InterimProvider.
func (p *Provider) TranscribeStream(ctx context.Context, req stt.Request, onInterim func(string)) (stt.Transcription, error) {
	stream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		return stt.Transcription{}, err
	}

	if err := stream.Send(p.streamingConfig(req, onInterim != nil)); err != nil {
		return stt.Transcription{}, err
	}
	for off := 0; off < len(req.PCM); off += maxAudioMessage {
		end := min(off+maxAudioMessage, len(req.PCM))
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: req.PCM[off:end],
			},
		}); err != nil {
			return stt.Transcription{}, err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return stt.Transcription{}, err
	}

	return collect(stream, onInterim)
}

func (p *Provider) streamingConfig(req stt.Request, interim bool) *speechpb.StreamingRecognizeRequest {
	lang := req.LanguageCode
	if lang == "" {
		lang = p.cfg.LanguageCode
	}
	rate := req.SampleRateHz
	if rate == 0 {
		rate = p.cfg.SampleRateHz
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(p.cfg.AudioEncoding),
					SampleRateHertz:            int32(rate),
					LanguageCode:               lang,
					Model:                      p.cfg.Model,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: interim && p.cfg.InterimResults,
			},
		},
	}
}

type recvStream interface {
	Recv() (*speechpb.StreamingRecognizeResponse, error)
}

// collect reads responses until the server closes the stream. Finals are
// concatenated; interims are reported as finals-so-far plus the interim.
func collect(stream recvStream, onInterim func(string)) (stt.Transcription, error) {
	var (
		finals     []string
		confidence float64
		lang       string
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcription{}, err
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if r.LanguageCode != "" {
				lang = r.LanguageCode
			}
			if r.IsFinal {
				text := strings.TrimSpace(alt.Transcript)
				if text != "" {
					finals = append(finals, text)
					confidence += float64(alt.Confidence)
				}
				continue
			}
			if onInterim != nil {
				onInterim(strings.TrimSpace(strings.Join(append(finals[:len(finals):len(finals)], alt.Transcript), " ")))
			}
		}
	}

	t := stt.Transcription{
		Text:         strings.Join(finals, " "),
		LanguageCode: lang,
	}
	if len(finals) > 0 {
		t.Confidence = confidence / float64(len(finals))
	}
	return t, nil
}

func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
