// Package events publishes session events to Kafka.
//
// Partial updates, final updates and lifecycle events go to separate topics,
// keyed by callId so a call's events stay ordered within a partition.
// Publishing is asynchronous: sessions enqueue and never wait on the broker.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"call-transcription-service/internal/models"
	"call-transcription-service/internal/observability/metrics"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes session events to separate Kafka topics.
type Publisher struct {
	writerPartial   messageWriter
	writerFinal     messageWriter
	writerLifecycle messageWriter
	principal       string
	topicPartial    string
	topicFinal      string
	topicLifecycle  string
	enabled         bool
	writeTimeout    time.Duration
	metrics         *metrics.Metrics

	queue     chan models.Event
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicPartial   string
	TopicFinal     string
	TopicLifecycle string
	Principal      string
	Enabled        bool
	QueueSize      int
}

// New creates a Kafka event publisher. With Kafka disabled it only logs.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return newPublisher(&Config{}, false, m)
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return newPublisher(cfg, false, m)
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}
	writer := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	p := newPublisher(cfg, true, m)
	p.writerPartial = writer(cfg.TopicPartial)
	p.writerFinal = writer(cfg.TopicFinal)
	p.writerLifecycle = writer(cfg.TopicLifecycle)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicLifecycle", cfg.TopicLifecycle).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	go p.run()
	return p
}

func newPublisher(cfg *Config, enabled bool, m *metrics.Metrics) *Publisher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	return &Publisher{
		principal:      cfg.Principal,
		topicPartial:   cfg.TopicPartial,
		topicFinal:     cfg.TopicFinal,
		topicLifecycle: cfg.TopicLifecycle,
		enabled:        enabled,
		writeTimeout:   10 * time.Second,
		metrics:        m,
		queue:          make(chan models.Event, size),
		done:           make(chan struct{}),
	}
}

// Publish queues ev for delivery. It never blocks: when the queue is full the
// event is dropped and counted.
func (p *Publisher) Publish(ev models.Event) {
	if !p.enabled {
		_ = p.PublishEvent(context.Background(), ev)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.RecordKafkaDropped(string(ev.Type))
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.metrics.RecordKafkaDropped(string(ev.Type))
		log.Warn().
			Str("callId", ev.CallID).
			Str("eventType", string(ev.Type)).
			Uint64("seq", ev.Seq).
			Msg("Kafka queue full, dropping event")
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		_ = p.PublishEvent(ctx, ev)
		cancel()
	}
}

// PublishEvent writes ev synchronously to the topic for its type.
func (p *Publisher) PublishEvent(ctx context.Context, ev models.Event) error {
	writer, topic := p.route(ev.Type)
	return p.publish(ctx, writer, topic, string(ev.Type), ev.CallID, ev)
}

func (p *Publisher) route(typ models.EventType) (messageWriter, string) {
	switch typ {
	case models.EventPartialUpdate:
		return p.writerPartial, p.topicPartial
	case models.EventFinalUpdate:
		return p.writerFinal, p.topicFinal
	default:
		return p.writerLifecycle, p.topicLifecycle
	}
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close stops accepting events, drains the queue and closes the writers.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	if p.enabled {
		<-p.done
	}

	var err error
	for name, w := range map[string]messageWriter{
		"partial":   p.writerPartial,
		"final":     p.writerFinal,
		"lifecycle": p.writerLifecycle,
	} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("writer", name).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
