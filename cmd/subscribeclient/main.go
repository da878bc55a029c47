// Command subscribeclient follows one call's transcript over the subscriber
// WebSocket and prints each event until the session ends.
package main

import (
	"encoding/json"
	"flag"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"call-transcription-service/internal/models"
)

func main() {
	server := flag.String("server", "ws://localhost:8080", "Service base WebSocket URL")
	callID := flag.String("call", "", "Call ID to follow")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if *callID == "" {
		log.Fatal().Msg("-call is required")
	}
	u, err := url.JoinPath(*server, "v1", "calls", *callID, "subscribe")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server URL")
	}

	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		ev := log.Fatal().Err(err).Str("url", u)
		if resp != nil {
			ev = ev.Int("status", resp.StatusCode)
		}
		ev.Msg("Failed to subscribe")
	}
	defer ws.Close()
	log.Info().Str("callId", *callID).Msg("Subscribed")

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("Session ended")
				return
			}
			log.Fatal().Err(err).Msg("Connection lost")
		}

		var ev struct {
			models.Event
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Msg("Undecodable event")
			continue
		}
		printEvent(ev.Event, ev.Payload)
	}
}

func printEvent(ev models.Event, payload json.RawMessage) {
	entry := log.Info().Str("type", string(ev.Type)).Uint64("seq", ev.Seq)

	switch ev.Type {
	case models.EventSnapshot:
		var snap models.SessionSnapshot
		if json.Unmarshal(payload, &snap) == nil {
			entry = entry.Str("state", string(snap.State)).Str("transcript", snap.Transcript)
		}
	case models.EventPartialUpdate:
		var p models.PartialPayload
		if json.Unmarshal(payload, &p) == nil {
			entry = entry.Uint64("sequence", p.Segment.Sequence).Str("partial", p.Segment.Text)
		}
	case models.EventFinalUpdate:
		var p models.FinalPayload
		if json.Unmarshal(payload, &p) == nil {
			entry = entry.Str("transcript", p.Transcript).Bool("degraded", p.Degraded)
		}
	case models.EventCompleted:
		var p models.CompletedPayload
		if json.Unmarshal(payload, &p) == nil {
			entry = entry.Str("transcript", p.Transcript).Int("errors", p.ErrorCount)
		}
	case models.EventFailed:
		var p models.FailedPayload
		if json.Unmarshal(payload, &p) == nil {
			entry = entry.Str("reason", p.Reason)
		}
	}
	entry.Msg("Event")
}
