// Package bigram builds the forward and reverse bigram predecessor lists:
// for each word w, every distinct u such that the bigram "u w" occurred,
// with its count.
package bigram

import (
	"runtime"
	"sort"
	"sync"

	"github.com/cognicore/wordclass/pkg/wordclass/vocab"
)

// Lists holds, for every word id, the sorted list of (predecessor, count)
// pairs: Preds[w] and Counts[w] are parallel, equal-length slices.
type Lists struct {
	Preds  [][]int32
	Counts [][]uint32
}

type pairKey struct{ u, v int32 }

// BuildForward accumulates, for every bigram (u, v) in the corpus, the
// count of its occurrences, then groups by v: Lists.Preds[v] lists every
// distinct u with bigram_count(u, v) > 0.
//
// The accumulation pass is sharded across numWorkers goroutines over
// sentence ranges, each with a local map merged into one global map after
// a sync.WaitGroup barrier.
func BuildForward(c *vocab.Corpus, v int, numWorkers int) *Lists {
	return build(c, v, numWorkers, false)
}

// BuildReverse is BuildForward with (w[i], w[i-1]) in place of (w[i-1],
// w[i]): the lists are built from the reversed bigram.
func BuildReverse(c *vocab.Corpus, v int, numWorkers int) *Lists {
	return build(c, v, numWorkers, true)
}

// BuildBoth runs BuildForward and BuildReverse concurrently; they have no
// data dependency.
func BuildBoth(c *vocab.Corpus, v int, numWorkers int) (fwd, rev *Lists) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		fwd = BuildForward(c, v, numWorkers)
	}()
	go func() {
		defer wg.Done()
		rev = BuildReverse(c, v, numWorkers)
	}()
	wg.Wait()
	return fwd, rev
}

func build(c *vocab.Corpus, v, numWorkers int, reverse bool) *Lists {
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

	locals := make([]map[pairKey]uint32, numWorkers)
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
		local := make(map[pairKey]uint32, 4096)
		locals[wk] = local
		wg.Add(1)
		go func(start, end int, local map[pairKey]uint32) {
			defer wg.Done()
			for s := start; s < end; s++ {
				sent := c.Sentence(s)
				for i := 1; i < len(sent); i++ {
					var u, vv int32
					if reverse {
						u, vv = sent[i], sent[i-1]
					} else {
						u, vv = sent[i-1], sent[i]
					}
					local[pairKey{u, vv}]++
				}
			}
		}(start, end, local)
	}
	wg.Wait()

	merged := make(map[pairKey]uint32, 4096)
	for _, local := range locals {
		for k, cnt := range local {
			merged[k] += cnt
		}
	}

	return group(merged, v)
}

// group turns a flat (u,v)->count map into the per-v sorted predecessor
// lists. The sort by u gives a deterministic list order for a given
// corpus, independent of map iteration order or thread count.
func group(merged map[pairKey]uint32, v int) *Lists {
	preds := make([][]int32, v)
	counts := make([][]uint32, v)

	byV := make(map[int32][]pairKey, v)
	for k := range merged {
		byV[k.v] = append(byV[k.v], k)
	}
	for vv, keys := range byV {
		sort.Slice(keys, func(i, j int) bool { return keys[i].u < keys[j].u })
		ps := make([]int32, len(keys))
		cs := make([]uint32, len(keys))
		for i, k := range keys {
			ps[i] = k.u
			cs[i] = merged[k]
		}
		preds[vv] = ps
		counts[vv] = cs
	}
	return &Lists{Preds: preds, Counts: counts}
}

// CountOf returns the count for predecessor u of word w, or 0 if absent.
func (l *Lists) CountOf(w int, u int32) uint32 {
	preds := l.Preds[w]
	idx := sort.Search(len(preds), func(i int) bool { return preds[i] >= u })
	if idx < len(preds) && preds[idx] == u {
		return l.Counts[w][idx]
	}
	return 0
}
