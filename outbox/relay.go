package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/twmb/franz-go/pkg/kgo"

	"clearinghouse/metrics"
)

// Publisher delivers one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// KafkaPublisher publishes outbox messages through franz-go.
type KafkaPublisher struct {
	client *kgo.Client
}

func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("outbox: kafka client: %w", err)
	}
	return &KafkaPublisher{client: client}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: payload}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("outbox: produce to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// store is the persistence surface the relay drives.
type store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	FetchPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string) error
}

// Relay drains the outbox on a ticker. Delivery is at-least-once: a crash
// between publish and commit republishes the message, so consumers must
// treat message IDs as idempotency keys.
type Relay struct {
	store     store
	publisher Publisher
	interval  time.Duration
	batchSize int
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewRelay(store store, publisher Publisher, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: 100,
		now:       time.Now,
	}
}

func (r *Relay) WithMetrics(m *metrics.Metrics) *Relay {
	r.metrics = m
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Run drains until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.DrainOnce(ctx); err != nil {
				log.Printf("outbox: drain: %v", err)
			}
		}
	}
}

// DrainOnce claims one batch and publishes it, returning how many messages
// were delivered.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := r.store.FetchPending(ctx, tx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, m := range msgs {
		payload, err := json.Marshal(m.Payload)
		if err != nil {
			// Unmarshalable payloads never succeed; park immediately.
			log.Printf("outbox: drop %s: %v", m.ID, err)
			if err := r.store.MarkFailed(ctx, tx, m.ID); err != nil {
				return published, err
			}
			continue
		}
		if err := r.publisher.Publish(ctx, m.Topic, m.ID, payload); err != nil {
			log.Printf("outbox: publish %s: %v", m.ID, err)
			if err := r.store.MarkFailed(ctx, tx, m.ID); err != nil {
				return published, err
			}
			continue
		}
		if err := r.store.MarkPublished(ctx, tx, m.ID, r.now()); err != nil {
			return published, err
		}
		published++
		if r.metrics != nil {
			r.metrics.OutboxPublished.Inc()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit drain: %w", err)
	}
	return published, nil
}
