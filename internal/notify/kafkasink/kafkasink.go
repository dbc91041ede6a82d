// Package kafkasink publishes alerts as JSON event envelopes to a Kafka
// topic so downstream consumers can react to them without scraping chat.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/notify"
)

// Writer is the kafka-go writer surface the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter builds a synchronous kafka writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        false,
	}
}

// Sink implements notify.Transport on top of a Writer. Images are not
// shipped; consumers render their own.
type Sink struct {
	w      Writer
	logger *slog.Logger
}

// New creates a Sink.
func New(w Writer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{w: w, logger: logger.With(slog.String("component", "kafka-sink"))}
}

func (s *Sink) Name() string { return "kafka" }

// Close flushes and closes the writer.
func (s *Sink) Close() error { return s.w.Close() }

// publish writes one envelope keyed by key so events of one collection stay
// ordered within a partition.
func (s *Sink) publish(ctx context.Context, kind notify.Kind, key string, payload any) error {
	ev := notify.NewEvent(kind, payload)
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	s.logger.Debug("Event published", "kind", kind, "event_id", ev.ID, "key", key)
	return nil
}

func collectionKey(id int) string { return strconv.Itoa(id) }

func (s *Sink) SendNewCollection(ctx context.Context, c collection.Collection) error {
	return s.publish(ctx, notify.KindNewCollection, collectionKey(c.ID), c)
}

func (s *Sink) SendProgressChange(ctx context.Context, ev notify.ProgressChange, _ []byte) error {
	return s.publish(ctx, notify.KindProgressChange, collectionKey(ev.Collection.ID), ev)
}

func (s *Sink) SendPrivilegedProgressChange(ctx context.Context, ev notify.ProgressChange, _ []byte) error {
	return s.publish(ctx, notify.KindPrivilegedProgress, collectionKey(ev.Collection.ID), ev)
}

func (s *Sink) SendLastChance(ctx context.Context, c collection.Collection) error {
	return s.publish(ctx, notify.KindLastChance, collectionKey(c.ID), c)
}

type rewardDigest struct {
	Snowballs   bool                    `json:"snowballs"`
	Collections []collection.Collection `json:"collections"`
}

func (s *Sink) SendUpcomingRewards(ctx context.Context, cs []collection.Collection, snowballs bool) error {
	if len(cs) == 0 {
		return nil
	}
	return s.publish(ctx, notify.KindUpcomingRewards, string(notify.KindUpcomingRewards), rewardDigest{Snowballs: snowballs, Collections: cs})
}

func (s *Sink) SendFinishingBatch(ctx context.Context, items []notify.FinishingItem) error {
	if len(items) == 0 {
		return nil
	}
	return s.publish(ctx, notify.KindFinishingBatch, string(notify.KindFinishingBatch), items)
}

func (s *Sink) SendPriceDrop(ctx context.Context, ev notify.PriceDrop) error {
	return s.publish(ctx, notify.KindPriceDrop, collectionKey(ev.Collection.ID), ev)
}

var _ notify.Transport = (*Sink)(nil)
