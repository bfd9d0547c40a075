package replication

import (
	"testing"

	"github.com/bleepstore/replicator/internal/logentry"
)

func TestReduceLocationsCoalescesSameBackend(t *testing.T) {
	locs := []logentry.PartLocation{
		{PartNumber: 1, PartSize: 10, DataStoreETag: "a", DataStoreName: "store1"},
		{PartNumber: 2, PartSize: 20, DataStoreETag: "b", DataStoreName: "store1"},
		{PartNumber: 3, PartSize: 5, DataStoreETag: "c", DataStoreName: "store2"},
	}

	reduced := reduceLocations(locs)
	if len(reduced) != 2 {
		t.Fatalf("expected 2 reduced parts, got %d: %+v", len(reduced), reduced)
	}

	if reduced[0].Start != 0 || reduced[0].End != 29 || reduced[0].Size != 30 {
		t.Errorf("reduced[0] = %+v, want Start=0 End=29 Size=30", reduced[0])
	}
	if len(reduced[0].PartNumbers) != 2 || reduced[0].PartNumbers[0] != 1 || reduced[0].PartNumbers[1] != 2 {
		t.Errorf("reduced[0].PartNumbers = %v, want [1 2]", reduced[0].PartNumbers)
	}

	if reduced[1].Start != 30 || reduced[1].End != 34 || reduced[1].Size != 5 {
		t.Errorf("reduced[1] = %+v, want Start=30 End=34 Size=5", reduced[1])
	}
}

func TestReduceLocationsEmpty(t *testing.T) {
	if got := reduceLocations(nil); got != nil {
		t.Fatalf("reduceLocations(nil) = %+v, want nil", got)
	}
}

func TestReduceLocationsSinglePart(t *testing.T) {
	locs := []logentry.PartLocation{
		{PartNumber: 1, PartSize: 100, DataStoreETag: "a", DataStoreName: "store1"},
	}
	reduced := reduceLocations(locs)
	if len(reduced) != 1 {
		t.Fatalf("expected 1 reduced part, got %d", len(reduced))
	}
	if reduced[0].Start != 0 || reduced[0].End != 99 {
		t.Errorf("reduced[0] = %+v, want Start=0 End=99", reduced[0])
	}
}

func TestReduceLocationsNoCoalesceAcrossDifferentStores(t *testing.T) {
	locs := []logentry.PartLocation{
		{PartNumber: 1, PartSize: 10, DataStoreETag: "a", DataStoreName: "s1"},
		{PartNumber: 2, PartSize: 10, DataStoreETag: "b", DataStoreName: "s2"},
		{PartNumber: 3, PartSize: 10, DataStoreETag: "c", DataStoreName: "s1"},
	}
	reduced := reduceLocations(locs)
	if len(reduced) != 3 {
		t.Fatalf("expected 3 reduced parts (no coalescing across interleaved stores), got %d", len(reduced))
	}
}
