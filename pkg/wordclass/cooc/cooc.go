// Package cooc implements the dense word×class co-occurrence matrix M,
// indexed as M[word, class] and used to bookkeep the effect of a class
// move without rescanning the corpus.
package cooc

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/cognicore/wordclass/pkg/wordclass/bigram"
)

// bytesPerCount is sizeof(uint32).
const bytesPerCount = 4

// Matrix is the row-major V x K matrix of (word, successor-class) counts.
type Matrix struct {
	V, K int
	Data []uint32
}

// Allocate builds a V x K matrix, failing with a human-readable size
// estimate when V*K*4 bytes exceeds maxBytes. Allocation failure here is
// always fatal: unlike the reverse predecessor lists, there is no graceful
// degradation for the forward matrix, and the caller decides whether the
// reverse matrix is optional.
func Allocate(v, k int, maxBytes int64) (*Matrix, error) {
	need := int64(v) * int64(k) * bytesPerCount
	if maxBytes > 0 && need > maxBytes {
		return nil, fmt.Errorf("word x class matrix needs %s (V=%d, K=%d), exceeds budget %s",
			humanize.Bytes(uint64(need)), v, k, humanize.Bytes(uint64(maxBytes)))
	}
	return &Matrix{V: v, K: k, Data: make([]uint32, int64(v)*int64(k))}, nil
}

// At returns M[u, c].
func (m *Matrix) At(u, c int) uint32 { return m.Data[u*m.K+c] }

func (m *Matrix) inc(u, c int, delta uint32) {
	m.Data[u*m.K+c] += delta
}

func (m *Matrix) dec(u, c int, delta uint32) {
	v := m.Data[u*m.K+c]
	if delta > v {
		delta = v // counts are unsigned; never underflow below 0
	}
	m.Data[u*m.K+c] -= delta
}

// RowSum returns sum_c M[u, c]; it must equal the total bigram count for u.
func (m *Matrix) RowSum(u int) uint64 {
	var total uint64
	row := m.Data[u*m.K : (u+1)*m.K]
	for _, c := range row {
		total += uint64(c)
	}
	return total
}

// classOf is the minimal view Build needs of the class assignment, kept
// as a function rather than importing package class (class is a pure
// data structure; cooc only ever needs to read it).
type classOf func(word int) int

// Build scans the corpus once and builds either the forward matrix
// (forward=true: M[sent[i-1], class(sent[i])]) or the reverse matrix
// (forward=false: M[sent[i], class(sent[i-1])]).
//
// The scan is sharded across numWorkers goroutines, each accumulating into
// a local V x K array; the barrier sums all local arrays into the result,
// the same fork-join shape used throughout this repository for
// corpus-sized passes.
func Build(sentences func(i int) []int32, numSentences, v, k int, cls classOf, numWorkers int, forward bool) *Matrix {
	if numWorkers < 1 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > numSentences {
		numWorkers = numSentences
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	locals := make([][]uint32, numWorkers)
	var wg sync.WaitGroup
	chunk := (numSentences + numWorkers - 1) / numWorkers

	for wk := 0; wk < numWorkers; wk++ {
		start := wk * chunk
		end := start + chunk
		if end > numSentences {
			end = numSentences
		}
		if start >= end {
			continue
		}
		local := make([]uint32, v*k)
		locals[wk] = local
		wg.Add(1)
		go func(start, end int, local []uint32) {
			defer wg.Done()
			for s := start; s < end; s++ {
				sent := sentences(s)
				for i := 1; i < len(sent); i++ {
					var row, colWord int32
					if forward {
						row, colWord = sent[i-1], sent[i]
					} else {
						row, colWord = sent[i], sent[i-1]
					}
					c := cls(int(colWord))
					local[int(row)*k+c]++
				}
			}
		}(start, end, local)
	}
	wg.Wait()

	data := make([]uint32, v*k)
	for _, local := range locals {
		if local == nil {
			continue
		}
		for i, c := range local {
			data[i] += c
		}
	}
	return &Matrix{V: v, K: k, Data: data}
}

// ApplyMove keeps the matrix consistent with a word's class change: moving
// word from oldClass to newClass subtracts from column oldClass and adds
// to column newClass over exactly the rows given by neighbors (the
// predecessors of word, for the forward matrix; the successors of word,
// for the reverse matrix).
func (m *Matrix) ApplyMove(neighbors *bigram.Lists, word, oldClass, newClass int) {
	rows := neighbors.Preds[word]
	counts := neighbors.Counts[word]
	for i, u := range rows {
		cnt := counts[i]
		m.dec(int(u), oldClass, cnt)
		m.inc(int(u), newClass, cnt)
	}
}
