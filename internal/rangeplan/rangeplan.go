// Package rangeplan chooses the part size and byte ranges used to replicate
// an object of a given length, tiling [0, contentLength-1] exactly. It is
// pure and non-blocking: no I/O, no locks, safe to call from any goroutine.
package rangeplan

import "math/bits"

// Family is the destination backend family, used only to decide whether
// the GCP part-count cap applies.
type Family string

const (
	FamilyGeneric Family = "generic"
	FamilyGCP     Family = "gcp"
	FamilyAzure   Family = "azure"
)

const (
	basePartSize = 16 << 20 // 16 MiB
	gcpMaxParts  = 1024
)

// Range is a byte range [Start, End] with an inclusive End. For a 0-byte
// object Plan returns a slice containing one sentinel Range with
// Start==End==-1, meaning "whole object, no partial range", so callers
// never handle a nil element. NilRange reports whether a Range is that
// sentinel.
type Range struct {
	Start int64
	End   int64
}

// NilRange reports whether r is the sentinel "no range" value produced for
// a zero-length object.
func (r Range) NilRange() bool {
	return r.Start < 0 && r.End < 0
}

// Plan computes the ordered list of byte ranges that tile
// [0, contentLength-1]. For contentLength == 0 it returns a single
// sentinel Range (NilRange() == true), matching the "single null range"
// case in the part-size algorithm.
func Plan(contentLength int64, family Family) []Range {
	if contentLength <= 0 {
		return []Range{{Start: -1, End: -1}}
	}

	partSize := int64(basePartSize)

	for contentLength/partSize > 1000 && partSize < 512<<20 {
		partSize *= 2
	}
	for contentLength/partSize > 10000 {
		partSize *= 2
	}
	if family == FamilyGCP && contentLength/partSize > gcpMaxParts {
		partSize = ceilDiv(nextPow2(contentLength), gcpMaxParts)
	}

	n := (contentLength + partSize - 1) / partSize
	ranges := make([]Range, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * partSize
		end := start + partSize - 1
		if end > contentLength-1 {
			end = contentLength - 1
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges
}

// nextPow2 returns the smallest power of two >= n (n > 0).
func nextPow2(n int64) int64 {
	if n <= 1 {
		return 1
	}
	return int64(1) << bits.Len64(uint64(n-1))
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
