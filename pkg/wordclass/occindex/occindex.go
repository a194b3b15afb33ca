// Package occindex is the occurrence index: for every word id, the list of
// corpus positions where it appears. It lets the scoring kernel and the
// exchange driver touch only the positions where a word or one of its
// near neighbors appears, instead of rescanning the full corpus per
// candidate move.
package occindex

import (
	"runtime"
	"sync"

	"github.com/cognicore/wordclass/pkg/wordclass/vocab"
)

// Pos locates one occurrence of a word in the corpus.
type Pos struct {
	Sentence int32
	Index    int32
}

// Index maps word id -> every position where it occurs.
type Index struct {
	Occ [][]Pos
}

// Build scans the corpus once and records every occurrence of every word.
// The scan is sharded across numWorkers goroutines by sentence range, each
// with a local per-word map merged under the barrier, the same fork-join
// shape used by bigram.Build and cooc.Build.
func Build(c *vocab.Corpus, v int, numWorkers int) *Index {
	n := c.NumSentences()
	if numWorkers < 1 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > n {
		numWorkers = n
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	locals := make([][][]Pos, numWorkers)
	var wg sync.WaitGroup
	chunk := (n + numWorkers - 1) / numWorkers

	for wk := 0; wk < numWorkers; wk++ {
		start := wk * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		local := make([][]Pos, v)
		locals[wk] = local
		wg.Add(1)
		go func(start, end int, local [][]Pos) {
			defer wg.Done()
			for s := start; s < end; s++ {
				sent := c.Sentence(s)
				for i, word := range sent {
					local[word] = append(local[word], Pos{Sentence: int32(s), Index: int32(i)})
				}
			}
		}(start, end, local)
	}
	wg.Wait()

	occ := make([][]Pos, v)
	for _, local := range locals {
		if local == nil {
			continue
		}
		for word, positions := range local {
			occ[word] = append(occ[word], positions...)
		}
	}
	return &Index{Occ: occ}
}

// WindowKind identifies one of the five class-trigram-model components,
// anchored at a center position i.
type WindowKind int

const (
	TrigramBack WindowKind = iota // (i-2, i-1, i), weight index 0
	BigramBack                    // (i-1, i), weight index 1
	Unigram                       // (i), weight index 2
	BigramFwd                     // (i, i+1), weight index 3
	TrigramFwd                    // (i, i+1, i+2), weight index 4
)

// Window is one class-n-gram pattern: the sentence positions that make it
// up, in left-to-right order, and which of the five components it is.
type Window struct {
	Kind      WindowKind
	Positions []int
}

// CenterWindows returns every window (of the five kinds above) anchored at
// center i that is addressable given sentLen and maxOrder (the configured
// max_array). Future-offset windows (BigramFwd, TrigramFwd) are omitted
// when unidirectional is true.
func CenterWindows(sentLen, i, maxOrder int, unidirectional bool) []Window {
	windows := make([]Window, 0, 5)
	if maxOrder >= 3 && i-2 >= 0 {
		windows = append(windows, Window{Kind: TrigramBack, Positions: []int{i - 2, i - 1, i}})
	}
	if maxOrder >= 2 && i-1 >= 0 {
		windows = append(windows, Window{Kind: BigramBack, Positions: []int{i - 1, i}})
	}
	windows = append(windows, Window{Kind: Unigram, Positions: []int{i}})
	if !unidirectional && maxOrder >= 2 && i+1 < sentLen {
		windows = append(windows, Window{Kind: BigramFwd, Positions: []int{i, i + 1}})
	}
	if !unidirectional && maxOrder >= 3 && i+2 < sentLen {
		windows = append(windows, Window{Kind: TrigramFwd, Positions: []int{i, i + 1, i + 2}})
	}
	return windows
}

// Centers returns the deduplicated set of center positions, across every
// occurrence of w, that some window addressable in a sentence of length
// sentLen could anchor on: every center within distance 2 of an
// occurrence.
func (idx *Index) Centers(w int, sentence int32, sentLen int) []int {
	seen := make(map[int]bool, 8)
	var out []int
	for _, pos := range idx.Occ[w] {
		if pos.Sentence != sentence {
			continue
		}
		p := int(pos.Index)
		for d := -2; d <= 2; d++ {
			c := p + d
			if c < 0 || c >= sentLen || seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// SentencesWith returns the distinct sentence indices in which w occurs.
func (idx *Index) SentencesWith(w int) []int32 {
	seen := make(map[int32]bool, len(idx.Occ[w]))
	var out []int32
	for _, pos := range idx.Occ[w] {
		if !seen[pos.Sentence] {
			seen[pos.Sentence] = true
			out = append(out, pos.Sentence)
		}
	}
	return out
}
