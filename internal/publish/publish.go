// Package publish implements the status and metrics publisher (C7): it
// writes the outbound status record for a processed log entry and emits
// metrics events at the queued/completed/failed boundary points, both onto
// the log bus and into the in-process Prometheus collectors.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bleepstore/replicator/internal/bus"
	"github.com/bleepstore/replicator/internal/logentry"
	"github.com/bleepstore/replicator/internal/metrics"
)

// MetricsExtension distinguishes replication traffic from plain ingestion
// traffic in the metrics record, matching spec §6's extension field.
type MetricsExtension string

const (
	ExtensionCRR       MetricsExtension = "crr"
	ExtensionIngestion MetricsExtension = "ingestion"
)

// MetricsEventType is the metrics record's type field.
type MetricsEventType string

const (
	EventQueued    MetricsEventType = "queued"
	EventCompleted MetricsEventType = "completed"
	EventFailed    MetricsEventType = "failed"
)

// MetricsEvent is the JSON shape published onto the metrics topic, matching
// spec §6's metrics record exactly.
type MetricsEvent struct {
	Timestamp  int64             `json:"timestamp"`
	Ops        int               `json:"ops"`
	Bytes      int64             `json:"bytes"`
	Extension  MetricsExtension  `json:"extension"`
	Type       MetricsEventType  `json:"type"`
	Site       string            `json:"site"`
	BucketName string            `json:"bucketName,omitempty"`
	ObjectKey  string            `json:"objectKey,omitempty"`
	VersionID  string            `json:"versionId,omitempty"`
}

// StatusRecord is the outbound log record's JSON value, matching spec §6's
// status publish shape.
type StatusRecord struct {
	Type   string          `json:"type"`
	Bucket string          `json:"bucket"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

// Topics names the bus subjects this publisher writes to: Status for status
// records, Metrics for metrics events. They are parameters rather than
// constants so a single bus can be
// shared across multiple entry namespaces.
type Topics struct {
	Status  string
	Metrics string
}

// Publisher writes status and metrics records onto the log bus and
// increments the corresponding Prometheus collectors. It is the only
// component in the engine allowed to treat publication as best-effort and
// non-cancellable, per spec §5.
type Publisher struct {
	producer bus.Producer
	topics   Topics
	now      func() int64
}

// New builds a Publisher writing through producer.
func New(producer bus.Producer, topics Topics, now func() int64) *Publisher {
	return &Publisher{producer: producer, topics: topics, now: now}
}

// PublishStatus writes the updated entry (carrying the new site status) as
// the outbound log record. Publication is best-effort: failures are
// returned to the caller to log, never retried here, matching the Task's
// contract that a failed publication leaves the offset uncommittable
// rather than aborting the process.
func (p *Publisher) PublishStatus(ctx context.Context, e logentry.Entry) error {
	payload, err := logentry.Serialize(e)
	if err != nil {
		return fmt.Errorf("publish: serializing entry for status publication: %w", err)
	}

	bucket, key := identityOf(e)
	rec := StatusRecord{Type: "put", Bucket: bucket, Key: key, Value: payload}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("publish: marshaling status record: %w", err)
	}

	return p.producer.Publish(context.WithoutCancel(ctx), p.topics.Status, bus.Record{
		Key:   []byte(bucket + "/" + key),
		Value: value,
	})
}

// PublishQueued emits a queued metrics event: value = contentLength, ops = 1.
func (p *Publisher) PublishQueued(ctx context.Context, site string, ext MetricsExtension, bucketName, objectKey, versionID string, contentLength int64) error {
	metrics.ReplicationQueueDepth.Inc()
	return p.publishMetricsEvent(ctx, MetricsEvent{
		Timestamp:  p.now(),
		Ops:        1,
		Bytes:      contentLength,
		Extension:  ext,
		Type:       EventQueued,
		Site:       site,
		BucketName: bucketName,
		ObjectKey:  objectKey,
		VersionID:  versionID,
	})
}

// PublishCompleted emits a completed metrics event for one part or
// single-put transfer, value = size.
func (p *Publisher) PublishCompleted(ctx context.Context, family, site string, ext MetricsExtension, bucketName, objectKey, versionID string, size int64) error {
	metrics.ReplicationQueueDepth.Dec()
	metrics.ReplicationBytesTransferred.WithLabelValues(family).Add(float64(size))
	return p.publishMetricsEvent(ctx, MetricsEvent{
		Timestamp:  p.now(),
		Ops:        1,
		Bytes:      size,
		Extension:  ext,
		Type:       EventCompleted,
		Site:       site,
		BucketName: bucketName,
		ObjectKey:  objectKey,
		VersionID:  versionID,
	})
}

// PublishFailed emits a failed metrics event on terminal failure, value =
// contentLength.
func (p *Publisher) PublishFailed(ctx context.Context, family, site string, ext MetricsExtension, bucketName, objectKey, versionID string, contentLength int64) error {
	metrics.ReplicationQueueDepth.Dec()
	metrics.ReplicationTasksTotal.WithLabelValues(family, "failed").Inc()
	return p.publishMetricsEvent(ctx, MetricsEvent{
		Timestamp:  p.now(),
		Ops:        1,
		Bytes:      contentLength,
		Extension:  ext,
		Type:       EventFailed,
		Site:       site,
		BucketName: bucketName,
		ObjectKey:  objectKey,
		VersionID:  versionID,
	})
}

func (p *Publisher) publishMetricsEvent(ctx context.Context, ev MetricsEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publish: marshaling metrics event: %w", err)
	}
	return p.producer.Publish(context.WithoutCancel(ctx), p.topics.Metrics, bus.Record{
		Key:   []byte(ev.Site),
		Value: value,
	})
}

// identityOf extracts the {bucket, key} the status record is addressed to
// for the entry variants that carry one.
func identityOf(e logentry.Entry) (bucket, key string) {
	switch v := e.(type) {
	case *logentry.ObjectEntry:
		return v.Bucket, v.Key
	case *logentry.DeleteEntry:
		return v.Bucket, v.VersionedKey
	default:
		return "", ""
	}
}
