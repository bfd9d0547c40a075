package publish

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bleepstore/replicator/internal/bus"
	"github.com/bleepstore/replicator/internal/logentry"
)

type fakeProducer struct {
	records map[string][]bus.Record
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{records: make(map[string][]bus.Record)}
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, r bus.Record) error {
	f.records[topic] = append(f.records[topic], r)
	return nil
}

func fixedClock(ts int64) func() int64 {
	return func() int64 { return ts }
}

func TestPublishStatus(t *testing.T) {
	fp := newFakeProducer()
	p := New(fp, Topics{Status: "status", Metrics: "metrics"}, fixedClock(1000))

	entry := &logentry.ObjectEntry{Bucket: "b1", Key: "k1", ContentLength: 42}
	if err := p.PublishStatus(context.Background(), entry); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}

	recs := fp.records["status"]
	if len(recs) != 1 {
		t.Fatalf("expected 1 status record, got %d", len(recs))
	}

	var got StatusRecord
	if err := json.Unmarshal(recs[0].Value, &got); err != nil {
		t.Fatalf("unmarshaling status record: %v", err)
	}
	if got.Bucket != "b1" || got.Key != "k1" || got.Type != "put" {
		t.Fatalf("unexpected status record: %+v", got)
	}
}

func TestPublishStatusDeleteEntry(t *testing.T) {
	fp := newFakeProducer()
	p := New(fp, Topics{Status: "status", Metrics: "metrics"}, fixedClock(1000))

	entry := &logentry.DeleteEntry{Bucket: "b2", VersionedKey: "k2\x00v1"}
	if err := p.PublishStatus(context.Background(), entry); err != nil {
		t.Fatalf("PublishStatus: %v", err)
	}

	var got StatusRecord
	if err := json.Unmarshal(fp.records["status"][0].Value, &got); err != nil {
		t.Fatalf("unmarshaling: %v", err)
	}
	if got.Bucket != "b2" || got.Key != "k2\x00v1" {
		t.Fatalf("unexpected status record: %+v", got)
	}
}

func TestPublishQueuedCompletedFailed(t *testing.T) {
	fp := newFakeProducer()
	p := New(fp, Topics{Status: "status", Metrics: "metrics"}, fixedClock(12345))

	ctx := context.Background()
	if err := p.PublishQueued(ctx, "site-a", ExtensionCRR, "bkt", "key", "v1", 100); err != nil {
		t.Fatalf("PublishQueued: %v", err)
	}
	if err := p.PublishCompleted(ctx, "generic", "site-a", ExtensionCRR, "bkt", "key", "v1", 50); err != nil {
		t.Fatalf("PublishCompleted: %v", err)
	}
	if err := p.PublishFailed(ctx, "generic", "site-a", ExtensionCRR, "bkt", "key", "v1", 100); err != nil {
		t.Fatalf("PublishFailed: %v", err)
	}

	recs := fp.records["metrics"]
	if len(recs) != 3 {
		t.Fatalf("expected 3 metrics records, got %d", len(recs))
	}

	wantTypes := []MetricsEventType{EventQueued, EventCompleted, EventFailed}
	wantBytes := []int64{100, 50, 100}
	for i, rec := range recs {
		var ev MetricsEvent
		if err := json.Unmarshal(rec.Value, &ev); err != nil {
			t.Fatalf("unmarshaling metrics event %d: %v", i, err)
		}
		if ev.Type != wantTypes[i] {
			t.Errorf("record %d: type = %q, want %q", i, ev.Type, wantTypes[i])
		}
		if ev.Bytes != wantBytes[i] {
			t.Errorf("record %d: bytes = %d, want %d", i, ev.Bytes, wantBytes[i])
		}
		if ev.Ops != 1 {
			t.Errorf("record %d: ops = %d, want 1", i, ev.Ops)
		}
		if ev.Site != "site-a" {
			t.Errorf("record %d: site = %q, want site-a", i, ev.Site)
		}
		if ev.Timestamp != 12345 {
			t.Errorf("record %d: timestamp = %d, want 12345", i, ev.Timestamp)
		}
	}
}
