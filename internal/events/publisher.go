package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/Sanjana-Tekisho/screen5-meetingcapture/internal/observability"
)

// Publisher writes line and session events to separate Kafka topics.
// Without brokers it runs in log-only mode.
type Publisher struct {
	writerLines   *kafka.Writer
	writerSession *kafka.Writer
	principal     string
	topicLines    string
	topicSession  string
	enabled       bool
}

// Config holds Kafka publisher configuration
type Config struct {
	Brokers      []string
	TopicLines   string
	TopicSession string
	Principal    string
	Enabled      bool
}

// New creates a publisher. A nil config, Enabled=false or an empty broker
// list all select log-only mode.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{}
	}

	p := &Publisher{
		principal:    cfg.Principal,
		topicLines:   cfg.TopicLines,
		topicSession: cfg.TopicSession,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerLines = newWriter(cfg.Brokers, cfg.TopicLines, transport)
	p.writerSession = newWriter(cfg.Brokers, cfg.TopicSession, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicLines", cfg.TopicLines).
		Str("topicSession", cfg.TopicSession).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether events reach Kafka
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishLine publishes a transcript line event keyed by session
func (p *Publisher) PublishLine(ctx context.Context, event TranscriptLineEvent) error {
	return p.publish(ctx, p.writerLines, p.topicLines, "transcript.line", event.SessionID, event)
}

// PublishSession publishes a session state event keyed by session
func (p *Publisher) PublishSession(ctx context.Context, event SessionStateEvent) error {
	return p.publish(ctx, p.writerSession, p.topicSession, "session.state", event.SessionID, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
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

	if !p.enabled || writer == nil {
		observability.RecordPublish(topic, nil)
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
		observability.RecordPublish(topic, err)
		return err
	}

	observability.RecordPublish(topic, nil)
	return nil
}

// Close closes both Kafka writers
func (p *Publisher) Close() error {
	var err error
	for _, w := range []*kafka.Writer{p.writerLines, p.writerSession} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("topic", w.Topic).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
