package mirror

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bleepstore/replicator/internal/bus"
	"github.com/bleepstore/replicator/internal/logentry"
)

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

type fakeStore struct {
	mu      sync.Mutex
	puts    []Record
	deletes []string
	putErr  error
}

func (s *fakeStore) PutObjectNoVer(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts = append(s.puts, rec)
	return nil
}

func (s *fakeStore) DeleteObjectNoVer(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, bucket+"/"+key)
	return nil
}

func (s *fakeStore) GetObjectNoVer(ctx context.Context, bucket, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.puts) - 1; i >= 0; i-- {
		if s.puts[i].Bucket == bucket && s.puts[i].Key == key {
			return s.puts[i], true, nil
		}
	}
	return Record{}, false, nil
}

func objectRecord(t *testing.T) (bus.AckableRecord, *int32, *int32) {
	t.Helper()
	e := logentry.ObjectEntry{
		Bucket:        "b",
		Key:           "k",
		VersionID:     "v1",
		ContentLength: 10,
		Location: []logentry.PartLocation{
			{PartNumber: 1, PartSize: 10, DataStoreETag: "e1", DataStoreName: "site-a"},
		},
	}
	payload, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env := struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{Type: "put", Payload: payload}
	value, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var acked, naked int32
	rec := bus.AckableRecord{
		Record: bus.Record{Value: value},
		Ack:    func() error { atomic.AddInt32(&acked, 1); return nil },
		Nak:    func() error { atomic.AddInt32(&naked, 1); return nil },
	}
	return rec, &acked, &naked
}

func TestProcessorMirrorsObjectEntry(t *testing.T) {
	rec, acked, naked := objectRecord(t)
	store := &fakeStore{}
	p := &Processor{
		Consumer: &fakeConsumer{records: []bus.AckableRecord{rec}},
		Store:    store,
		Cfg:      Config{DataStoreName: "mirror-1", DataStoreType: "dynamodb"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Run(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.puts) != 1 {
		t.Fatalf("expected 1 put, got %d", len(store.puts))
	}
	got := store.puts[0]
	if got.Bucket != "b" || got.Key != "k" || got.VersionID != "v1" {
		t.Errorf("mirrored record = %+v, want bucket=b key=k versionID=v1", got)
	}
	if got.DataStoreName != "mirror-1" || got.DataStoreType != "dynamodb" {
		t.Errorf("mirrored record backend identity = %+v, want rewritten to mirror-1/dynamodb", got)
	}
	if got.Size != 10 {
		t.Errorf("mirrored record size = %d, want 10", got.Size)
	}
	if atomic.LoadInt32(acked) != 1 {
		t.Error("expected ack")
	}
	if atomic.LoadInt32(naked) != 0 {
		t.Error("expected no nak")
	}
}

func TestProcessorDeletesOnDeleteEntry(t *testing.T) {
	e := logentry.DeleteEntry{Bucket: "b", VersionedKey: "k/v1"}
	payload, _ := json.Marshal(e)
	env := struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{Type: "del", Payload: payload}
	value, _ := json.Marshal(env)

	var acked int32
	rec := bus.AckableRecord{
		Record: bus.Record{Value: value},
		Ack:    func() error { atomic.AddInt32(&acked, 1); return nil },
		Nak:    func() error { t.Error("unexpected nak"); return nil },
	}
	store := &fakeStore{}
	p := &Processor{
		Consumer: &fakeConsumer{records: []bus.AckableRecord{rec}},
		Store:    store,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Run(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.deletes) != 1 || store.deletes[0] != "b/k/v1" {
		t.Fatalf("deletes = %v, want [b/k/v1]", store.deletes)
	}
	if atomic.LoadInt32(&acked) != 1 {
		t.Error("expected ack")
	}
}

func TestProcessorDropsMalformedEntry(t *testing.T) {
	var acked, naked int32
	rec := bus.AckableRecord{
		Record: bus.Record{Value: []byte("garbage")},
		Ack:    func() error { atomic.AddInt32(&acked, 1); return nil },
		Nak:    func() error { atomic.AddInt32(&naked, 1); return nil },
	}
	p := &Processor{
		Consumer: &fakeConsumer{records: []bus.AckableRecord{rec}},
		Store:    &fakeStore{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Run(ctx)

	if atomic.LoadInt32(&acked) != 1 {
		t.Error("expected malformed entry to be acked (dropped)")
	}
	if atomic.LoadInt32(&naked) != 0 {
		t.Error("expected no nak for malformed entry")
	}
}

func TestProcessorSkipsBucketEventsByDefault(t *testing.T) {
	e := logentry.BucketEntry{Bucket: "b"}
	payload, _ := json.Marshal(e)
	env := struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{Type: "bucket", Payload: payload}
	value, _ := json.Marshal(env)

	var acked int32
	rec := bus.AckableRecord{
		Record: bus.Record{Value: value},
		Ack:    func() error { atomic.AddInt32(&acked, 1); return nil },
		Nak:    func() error { t.Error("unexpected nak"); return nil },
	}
	store := &fakeStore{}
	p := &Processor{
		Consumer: &fakeConsumer{records: []bus.AckableRecord{rec}},
		Store:    store,
		Cfg:      Config{HandleBucketEvents: false},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Run(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.puts) != 0 || len(store.deletes) != 0 {
		t.Fatal("expected bucket event to be a no-op when HandleBucketEvents is false")
	}
	if atomic.LoadInt32(&acked) != 1 {
		t.Error("expected ack")
	}
}
