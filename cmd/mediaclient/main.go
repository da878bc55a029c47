// Command mediaclient plays a WAV file into the service as a Twilio Media
// Streams call, paced like a real phone line.
package main

import (
	"encoding/base64"
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"call-transcription-service/internal/api/media"
	"call-transcription-service/internal/service/audio"
)

// 20ms of 8 kHz μ-law, the frame size Twilio sends.
const (
	frameBytes    = 160
	frameInterval = 20 * time.Millisecond
)

func main() {
	audioFile := flag.String("audio", "testdata/sample-8khz.wav", "Path to WAV file (8kHz 16-bit mono)")
	serverURL := flag.String("server", "ws://localhost:8080/v1/media-stream", "Media stream WebSocket URL")
	callSid := flag.String("call", "CA-"+time.Now().Format("150405"), "Call SID used as callId")
	realtime := flag.Bool("realtime", true, "Pace frames at 20ms intervals")
	skipStop := flag.Bool("skip-stop", false, "Close without sending a stop message")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	pcm, sampleRate, err := audio.DecodeWAV(f)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to decode WAV")
	}
	if sampleRate != audio.SampleRateHz {
		log.Warn().Int("sampleRate", sampleRate).Msg("Sample rate is not 8000 Hz, audio will play at the wrong speed")
	}
	ulaw := audio.EncodeMulaw(pcm)
	// Pad the last frame with μ-law silence.
	for len(ulaw)%frameBytes != 0 {
		ulaw = append(ulaw, 0xFF)
	}
	log.Info().
		Int("bytes", len(ulaw)).
		Dur("duration", time.Duration(audio.DurationMs(pcm))*time.Millisecond).
		Msg("Loaded audio")

	ws, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverURL).Msg("Failed to connect")
	}
	defer ws.Close()
	log.Info().Str("server", *serverURL).Str("callSid", *callSid).Msg("Connected")

	send := func(m media.Message) {
		if err := ws.WriteJSON(m); err != nil {
			log.Fatal().Err(err).Str("event", m.Event).Msg("Failed to send message")
		}
	}

	streamSid := "MZ" + *callSid
	send(media.Message{Event: media.EventConnected, Protocol: "Call", Version: "1.0.0"})
	send(media.Message{
		Event:     media.EventStart,
		StreamSid: streamSid,
		Start: &media.StartMessage{
			StreamSid:        streamSid,
			CallSid:          *callSid,
			Tracks:           []string{"inbound"},
			CustomParameters: map[string]string{"source": "mediaclient"},
			MediaFormat:      media.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: audio.SampleRateHz, Channels: 1},
		},
	})

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	start := time.Now()
	chunk := 0
	for off := 0; off < len(ulaw); off += frameBytes {
		chunk++
		send(media.Message{
			Event:     media.EventMedia,
			StreamSid: streamSid,
			Media: &media.MediaMessage{
				Track:     "inbound",
				Chunk:     strconv.Itoa(chunk),
				Timestamp: strconv.FormatInt(time.Since(start).Milliseconds(), 10),
				Payload:   base64.StdEncoding.EncodeToString(ulaw[off:off+frameBytes]),
			},
		})
		if chunk%250 == 0 {
			log.Info().Int("frames", chunk).Msg("Streaming")
		}
		if *realtime {
			<-ticker.C
		}
	}

	if !*skipStop {
		send(media.Message{Event: media.EventStop, StreamSid: streamSid, Stop: &media.StopMessage{CallSid: *callSid}})
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	log.Info().
		Int("frames", chunk).
		Dur("elapsed", time.Since(start)).
		Msg("Stream finished")
}
