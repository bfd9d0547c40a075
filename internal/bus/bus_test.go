package bus

import "testing"

func TestFirstOrEmpty(t *testing.T) {
	if got := firstOrEmpty(nil); got != "" {
		t.Fatalf("firstOrEmpty(nil) = %q, want empty", got)
	}
	if got := firstOrEmpty([]string{}); got != "" {
		t.Fatalf("firstOrEmpty([]) = %q, want empty", got)
	}
	if got := firstOrEmpty([]string{"a", "b"}); got != "a" {
		t.Fatalf("firstOrEmpty([a b]) = %q, want a", got)
	}
}

func TestRecordEmbedsInAckableRecord(t *testing.T) {
	acked := false
	nakked := false
	r := AckableRecord{
		Record: Record{Topic: "t", Key: []byte("k"), Value: []byte("v")},
		Ack:    func() error { acked = true; return nil },
		Nak:    func() error { nakked = true; return nil },
	}
	if r.Topic != "t" || string(r.Key) != "k" || string(r.Value) != "v" {
		t.Fatalf("unexpected embedded record: %+v", r.Record)
	}
	if err := r.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if !acked {
		t.Fatal("expected Ack to be invoked")
	}
	if err := r.Nak(); err != nil {
		t.Fatalf("Nak: %v", err)
	}
	if !nakked {
		t.Fatal("expected Nak to be invoked")
	}
}
