// Package bus abstracts the log bus the replication engine consumes
// entries from and publishes status/metrics records to. It is grounded on
// wpnpeiris-nats-s3's use of github.com/nats-io/nats.go/jetstream for
// durable storage primitives (that repo uses JetStream KeyValue/ObjectStore
// for multipart session state); here the same client library backs a
// stream Producer/Consumer pair instead, since the replication engine's
// log bus is an append-only topic rather than a key-value session store.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Record is one inbound or outbound log-bus message: an opaque key plus a
// JSON value, matching the external interface's {key, value} shape.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// Producer publishes records onto the bus.
type Producer interface {
	Publish(ctx context.Context, topic string, r Record) error
}

// AckableRecord is a Record paired with the ack/nak hooks the consumer's
// caller uses to signal whether the offset is committable, matching
// spec.md's "entry is considered processed (offset committable) only when
// publication is enqueued" contract.
type AckableRecord struct {
	Record
	Ack func() error
	Nak func() error
}

// Consumer delivers records from one or more subjects.
type Consumer interface {
	// Consume calls handle for each delivered record until ctx is done or
	// handle returns a fatal error. handle is responsible for calling
	// Ack() (advance past this record) or Nak() (redeliver) on the
	// AckableRecord.
	Consume(ctx context.Context, handle func(AckableRecord) error) error
}

// JetStreamBus implements both Producer and Consumer over a NATS
// JetStream stream, one subject per topic.
type JetStreamBus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// Config parameterizes the underlying stream.
type Config struct {
	URL          string
	StreamName   string
	Subjects     []string
	ConsumerName string
	AckWait      time.Duration
	MaxDeliver   int
}

// Connect dials the NATS server at cfg.URL and ensures the configured
// stream exists, creating it if necessary.
func Connect(ctx context.Context, cfg Config) (*JetStreamBus, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("bus: connecting to NATS at %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: creating JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: cfg.Subjects,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: upserting stream %s: %w", cfg.StreamName, err)
	}

	return &JetStreamBus{nc: nc, js: js, stream: stream}, nil
}

// Close closes the underlying NATS connection without draining it.
func (b *JetStreamBus) Close() {
	b.nc.Close()
}

// Publish publishes r onto topic as a JetStream message.
func (b *JetStreamBus) Publish(ctx context.Context, topic string, r Record) error {
	_, err := b.js.Publish(ctx, topic, r.Value)
	if err != nil {
		return fmt.Errorf("bus: publishing to %s: %w", topic, err)
	}
	return nil
}

// Consume creates (or reattaches to) a durable pull consumer on cfg's
// subjects and delivers messages to handle until ctx is cancelled.
func (b *JetStreamBus) Consume(ctx context.Context, cfg Config, handle func(AckableRecord) error) error {
	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	maxDeliver := cfg.MaxDeliver
	if maxDeliver <= 0 {
		maxDeliver = 5
	}

	cons, err := b.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		FilterSubject: firstOrEmpty(cfg.Subjects),
	})
	if err != nil {
		return fmt.Errorf("bus: creating consumer %s: %w", cfg.ConsumerName, err)
	}

	consCtx, err := cons.Consume(func(msg jetstream.Msg) {
		meta, _ := msg.Metadata()
		rec := AckableRecord{
			Record: Record{
				Topic: msg.Subject(),
				Value: msg.Data(),
			},
			Ack: msg.Ack,
			Nak: msg.Nak,
		}
		if meta != nil {
			rec.Offset = int64(meta.Sequence.Stream)
		}
		if err := handle(rec); err != nil {
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("bus: starting consume loop: %w", err)
	}
	defer consCtx.Stop()

	<-ctx.Done()
	return ctx.Err()
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// BoundConsumer binds a JetStreamBus to one Config, satisfying the
// Consumer interface so the worker harness and the mirror processor can
// each hold their own durable consumer (distinct ConsumerName) over the
// same stream without knowing about Config themselves.
type BoundConsumer struct {
	Bus *JetStreamBus
	Cfg Config
}

func (c *BoundConsumer) Consume(ctx context.Context, handle func(AckableRecord) error) error {
	return c.Bus.Consume(ctx, c.Cfg, handle)
}

var _ Producer = (*JetStreamBus)(nil)
var _ Consumer = (*BoundConsumer)(nil)
