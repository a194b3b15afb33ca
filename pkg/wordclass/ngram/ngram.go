// Package ngram implements the dense class n-gram count arrays: for each
// order n in 1..M, the number of occurrences of each class n-gram in the
// corpus under the current class assignment.
package ngram

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/cognicore/wordclass/pkg/wordclass/index"
)

// bytesPerCount is sizeof(uint32), the counter width used throughout.
const bytesPerCount = 4

// Arrays holds, for each order n in 1..M, a dense array of length k^n
// indexed by index.Offset. Arrays[n-1] is the order-n array.
type Arrays struct {
	K      int
	Arrays [][]uint32
}

// Allocate builds dense count arrays for orders 1..m at class count k.
// It fails with a human-readable size estimate when any order's k^n * 4
// bytes exceeds maxBytes; the caller (the exchange driver) must then
// either decrease m or abort.
func Allocate(m, k int, maxBytes int64) (*Arrays, error) {
	if m < 1 || m > 3 {
		return nil, fmt.Errorf("max_array=%d out of range [1,3]", m)
	}
	arrays := make([][]uint32, m)
	for n := 1; n <= m; n++ {
		size := index.Size(n, k)
		need := int64(size) * bytesPerCount
		if maxBytes > 0 && need > maxBytes {
			return nil, fmt.Errorf("count array order %d needs %s (k=%d), exceeds budget %s",
				n, humanize.Bytes(uint64(need)), k, humanize.Bytes(uint64(maxBytes)))
		}
		arrays[n-1] = make([]uint32, size)
	}
	return &Arrays{K: k, Arrays: arrays}, nil
}

// Clear zeroes every order's array in place.
func (a *Arrays) Clear() {
	for _, arr := range a.Arrays {
		for i := range arr {
			arr[i] = 0
		}
	}
}

// Increment increments the count for the class n-gram given by classes
// (len(classes) == n). Unsynchronized: legal only during single-threaded
// build, or via per-worker scratch arrays merged afterward.
func (a *Arrays) Increment(classes []int) {
	n := len(classes)
	a.Arrays[n-1][index.Offset(classes, a.K)]++
}

// Decrement is Increment's inverse, used by the exchange driver's "apply
// move" step to retire a class n-gram's old contribution before Increment
// records its new one, so the arrays always reflect the current class
// assignment exactly. Counts never underflow below 0.
func (a *Arrays) Decrement(classes []int) {
	n := len(classes)
	off := index.Offset(classes, a.K)
	if a.Arrays[n-1][off] > 0 {
		a.Arrays[n-1][off]--
	}
}

// Read returns the count for the class n-gram given by classes.
func (a *Arrays) Read(classes []int) uint32 {
	n := len(classes)
	return a.Arrays[n-1][index.Offset(classes, a.K)]
}

// Order returns the maximum n for which this Arrays has a dense array.
func (a *Arrays) Order() int { return len(a.Arrays) }

// Total returns the sum of the order-1 array, which equals the total token
// count including <s> and </s>.
func (a *Arrays) Total() uint64 {
	var total uint64
	for _, c := range a.Arrays[0] {
		total += uint64(c)
	}
	return total
}

// BuildFromCorpus recomputes every order's array from scratch against the
// current class assignment: one pass over the corpus, incrementing the
// order-n array at every sliding window of n consecutive positions. It is
// the from-scratch reference the incrementally maintained arrays are
// checked against.
func BuildFromCorpus(numSentences int, sentence func(i int) []int32, classOf func(int) int, m, k int, maxBytes int64) (*Arrays, error) {
	a, err := Allocate(m, k, maxBytes)
	if err != nil {
		return nil, err
	}
	classes := make([]int, 0, m)
	for s := 0; s < numSentences; s++ {
		sent := sentence(s)
		for i := range sent {
			classes = classes[:0]
			for n := 1; n <= m; n++ {
				start := i - n + 1
				if start < 0 {
					break
				}
				classes = classes[:0]
				for p := start; p <= i; p++ {
					classes = append(classes, classOf(int(sent[p])))
				}
				a.Increment(classes)
			}
		}
	}
	return a, nil
}
