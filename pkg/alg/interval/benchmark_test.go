package interval

import (
	"testing"
)

// Benchmark constants.
const (
	benchIntervalCount = 10000
	benchSpacing       = 10
	benchWidth         = 5
	benchQueryLow      = 500
	benchQueryHigh     = 1500
)

// BenchmarkInsert benchmarks inserting intervals.
func BenchmarkInsert(b *testing.B) {
	for range b.N {
		tree := New[uint32, uint32]()

		for i := range benchIntervalCount {
			low := uint32(i * benchSpacing)
			high := low + benchWidth

			tree.Insert(low, high, uint32(i))
		}
	}
}

// BenchmarkQueryOverlap benchmarks overlap queries.
func BenchmarkQueryOverlap(b *testing.B) {
	tree := New[uint32, uint32]()

	for i := range benchIntervalCount {
		low := uint32(i * benchSpacing)
		high := low + benchWidth

		tree.Insert(low, high, uint32(i))
	}

	b.ResetTimer()

	for range b.N {
		tree.QueryOverlap(benchQueryLow, benchQueryHigh)
	}
}
