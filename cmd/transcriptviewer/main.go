// Command transcriptviewer tails the transcript topics on Kafka and prints
// each call's events as they arrive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"call-transcription-service/internal/models"
)

type wireEvent struct {
	models.Event
	Payload json.RawMessage `json:"payload"`
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "call.transcript.partial", "Partial update topic")
	topicFinal := flag.String("topic-final", "call.transcript.final", "Final update topic")
	topicLifecycle := flag.String("topic-lifecycle", "call.transcript.lifecycle", "Lifecycle topic")
	callID := flag.String("call", "", "Only show events for this call")
	since := flag.Duration("since", time.Hour, "Start this far back in each partition")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, topic := range []string{*topicPartial, *topicFinal, *topicLifecycle} {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			consume(ctx, strings.Split(*brokers, ","), topic, *callID, *since)
		}(topic)
	}

	log.Info().
		Str("brokers", *brokers).
		Strs("topics", []string{*topicPartial, *topicFinal, *topicLifecycle}).
		Msg("Transcript viewer started")
	wg.Wait()
}

// consume reads partition 0 of topic without a consumer group, so several
// viewers can tail the same topics independently.
func consume(ctx context.Context, brokers []string, topic, callID string, since time.Duration) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Could not seek, reading from the start")
	}

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}
		if callID != "" && string(msg.Key) != callID {
			continue
		}

		var ev wireEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Undecodable event")
			continue
		}
		show(topic, msg, ev)
	}
}

func show(topic string, msg kafka.Message, ev wireEvent) {
	entry := log.Info().
		Str("topic", topic).
		Int64("offset", msg.Offset).
		Str("callId", ev.CallID).
		Str("type", string(ev.Type)).
		Uint64("seq", ev.Seq)

	switch ev.Type {
	case models.EventPartialUpdate:
		var p models.PartialPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			entry = entry.Uint64("sequence", p.Segment.Sequence).Int("revision", p.Segment.Revision).Str("text", truncate(p.Segment.Text, 60))
		}
	case models.EventFinalUpdate:
		var p models.FinalPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			entry = entry.Int("segments", len(p.Segments)).Str("transcript", truncate(p.Transcript, 80))
		}
	case models.EventCompleted:
		var p models.CompletedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			entry = entry.Bool("degraded", p.Degraded).Str("transcript", truncate(p.Transcript, 80))
		}
	case models.EventFailed:
		var p models.FailedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			entry = entry.Str("reason", p.Reason)
		}
	}
	entry.Msg("Event")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
