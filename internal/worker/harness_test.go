package worker

import (
	"context"
	"encoding/json"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bleepstore/replicator/internal/bus"
	"github.com/bleepstore/replicator/internal/destgw"
	"github.com/bleepstore/replicator/internal/logentry"
	"github.com/bleepstore/replicator/internal/publish"
	"github.com/bleepstore/replicator/internal/rangeplan"
	"github.com/bleepstore/replicator/internal/replication"
	"github.com/bleepstore/replicator/internal/retry"
	"github.com/bleepstore/replicator/internal/sourcegw"
)

// fakeConsumer feeds a fixed slice of records through handle sequentially,
// then blocks until ctx is done, mirroring JetStreamBus.Consume's shape.
type fakeConsumer struct {
	records []bus.AckableRecord
}

func (f *fakeConsumer) Consume(ctx context.Context, handle func(bus.AckableRecord) error) error {
	for _, rec := range f.records {
		if err := handle(rec); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeProducer struct{}

func (fakeProducer) Publish(ctx context.Context, topic string, r bus.Record) error { return nil }

type passthroughSource struct{}

func (passthroughSource) GetBucketReplicationPolicy(ctx context.Context, bucket string) (*sourcegw.ReplicationPolicy, error) {
	return &sourcegw.ReplicationPolicy{Rules: []sourcegw.ReplicationRule{{Enabled: true}}}, nil
}

func (passthroughSource) GetMetadata(ctx context.Context, bucket, key, versionID string) (*sourcegw.ObjectMetadata, error) {
	return &sourcegw.ObjectMetadata{ContentLength: 16}, nil
}

func (passthroughSource) GetObject(ctx context.Context, bucket, key, versionID string, rng *rangeplan.Range, partNumber int) (io.ReadCloser, error) {
	return io.NopCloser(io.LimitReader(nil, 0)), nil
}

type passthroughDest struct{}

func (passthroughDest) PutObject(ctx context.Context, p destgw.PutObjectParams) (string, string, error) {
	if p.Body != nil {
		_, _ = io.Copy(io.Discard, p.Body)
	}
	return "v1", "etag", nil
}
func (passthroughDest) InitiateMPU(ctx context.Context, p destgw.InitiateMPUParams) (string, error) {
	return "upload", nil
}
func (passthroughDest) PutMPUPart(ctx context.Context, p destgw.PutMPUPartParams) (string, error) {
	_, _ = io.Copy(io.Discard, p.Body)
	return "etag", nil
}
func (passthroughDest) CompleteMPU(ctx context.Context, p destgw.CompleteMPUParams) (string, error) {
	return "v1", nil
}
func (passthroughDest) AbortMPU(ctx context.Context, p destgw.AbortMPUParams) error { return nil }
func (passthroughDest) DeleteObject(ctx context.Context, p destgw.DeleteObjectParams) error {
	return nil
}
func (passthroughDest) PutObjectTagging(ctx context.Context, p destgw.TaggingParams) (string, error) {
	return "v1", nil
}
func (passthroughDest) DeleteObjectTagging(ctx context.Context, p destgw.TaggingParams) (string, error) {
	return "v1", nil
}

func newFakeTaskFactory() TaskFactory {
	pub := publish.New(fakeProducer{}, publish.Topics{Status: "status", Metrics: "metrics"}, func() int64 { return 0 })
	cfg := replication.Config{
		Concurrency: 1,
		Retry:       retry.Config{MaxRetries: 1},
	}
	return func(entry logentry.Entry, site string) *replication.Task {
		return &replication.Task{
			Entry:       entry,
			Site:        site,
			Family:      rangeplan.FamilyGeneric,
			SourceGW:    passthroughSource{},
			DestFactory: func(host string) destgw.DestinationGateway { return passthroughDest{} },
			Hosts:       retry.NewHostPicker([]string{"host-a"}),
			Publisher:   pub,
			Cfg:         cfg,
		}
	}
}

func objectEntryRecord(t *testing.T, key string, sites map[string]logentry.SiteStatus) bus.AckableRecord {
	t.Helper()
	e := logentry.ObjectEntry{
		Bucket:        "b",
		Key:           key,
		ContentLength: 16,
		ReplicationInfo: logentry.ReplicationInfo{
			Sites:   sites,
			Content: []logentry.ContentCategory{logentry.ContentData},
		},
	}
	payload, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	envelope := struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{Type: "put", Payload: payload}
	value, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var acked, naked int32
	return bus.AckableRecord{
		Record: bus.Record{Value: value},
		Ack:    func() error { atomic.AddInt32(&acked, 1); return nil },
		Nak:    func() error { atomic.AddInt32(&naked, 1); return nil },
	}
}

func TestHarnessAcksCompletedEntry(t *testing.T) {
	var acked int32
	rec := bus.AckableRecord{
		Record: objectEntryRecord(t, "k1", map[string]logentry.SiteStatus{"site-a": logentry.SiteStatusPending}).Record,
		Ack:    func() error { atomic.AddInt32(&acked, 1); return nil },
		Nak:    func() error { t.Error("unexpected nak"); return nil },
	}

	h := &Harness{
		Consumer: &fakeConsumer{records: []bus.AckableRecord{rec}},
		NewTask:  newFakeTaskFactory(),
		Cfg:      Config{Concurrency: 4},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.Run(ctx)

	waitFor(t, func() bool { return atomic.LoadInt32(&acked) == 1 })
}

func TestHarnessDropsMalformedEntry(t *testing.T) {
	var acked, naked int32
	rec := bus.AckableRecord{
		Record: bus.Record{Value: []byte("not json")},
		Ack:    func() error { atomic.AddInt32(&acked, 1); return nil },
		Nak:    func() error { atomic.AddInt32(&naked, 1); return nil },
	}

	h := &Harness{
		Consumer: &fakeConsumer{records: []bus.AckableRecord{rec}},
		NewTask:  newFakeTaskFactory(),
		Cfg:      Config{Concurrency: 4},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.Run(ctx)

	waitFor(t, func() bool { return atomic.LoadInt32(&acked) == 1 })
	if atomic.LoadInt32(&naked) != 0 {
		t.Error("expected malformed entry to be dropped (acked), not naked")
	}
}

func TestHarnessSkipsEntryWithNoSites(t *testing.T) {
	var acked int32
	rec := bus.AckableRecord{
		Record: objectEntryRecord(t, "k2", map[string]logentry.SiteStatus{}).Record,
		Ack:    func() error { atomic.AddInt32(&acked, 1); return nil },
		Nak:    func() error { t.Error("unexpected nak"); return nil },
	}

	h := &Harness{
		Consumer: &fakeConsumer{records: []bus.AckableRecord{rec}},
		NewTask:  newFakeTaskFactory(),
		Cfg:      Config{Concurrency: 4},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.Run(ctx)

	waitFor(t, func() bool { return atomic.LoadInt32(&acked) == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before deadline")
	}
}
