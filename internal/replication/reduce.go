package replication

import "github.com/bleepstore/replicator/internal/logentry"

// ReducedPart is a contiguous byte range covering one or more adjacent
// PartLocations that share the same backend identity, the generalized form
// of the teacher's AssembleParts single-vs-multi-part branching: instead of
// reassembling already-uploaded destination parts, this collapses the
// source's own part list before the engine re-reads and re-writes it.
type ReducedPart struct {
	Start         int64
	End           int64
	Size          int64
	DataStoreName string
	PartNumbers   []int
}

// reduceLocations coalesces adjacent entries of locs that share a
// DataStoreName into a single ReducedPart, computing each part's absolute
// byte range from the running sum of preceding PartSizes. locs is assumed
// ordered by PartNumber, the order Parse preserves from the wire entry.
func reduceLocations(locs []logentry.PartLocation) []ReducedPart {
	if len(locs) == 0 {
		return nil
	}

	reduced := make([]ReducedPart, 0, len(locs))
	var offset int64
	for _, loc := range locs {
		start := offset
		end := offset + loc.PartSize - 1
		offset = end + 1

		if n := len(reduced); n > 0 && reduced[n-1].DataStoreName == loc.DataStoreName {
			reduced[n-1].End = end
			reduced[n-1].Size += loc.PartSize
			reduced[n-1].PartNumbers = append(reduced[n-1].PartNumbers, loc.PartNumber)
			continue
		}

		reduced = append(reduced, ReducedPart{
			Start:         start,
			End:           end,
			Size:          loc.PartSize,
			DataStoreName: loc.DataStoreName,
			PartNumbers:   []int{loc.PartNumber},
		})
	}
	return reduced
}
