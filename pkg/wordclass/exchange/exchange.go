// Package exchange implements the predictive exchange driver. It
// repeatedly considers moving one word at a time to the class that
// maximizes corpus log-likelihood, applying any strictly improving move
// immediately (a greedy local search, not simulated annealing).
package exchange

import (
	"runtime"
	"sync"

	"github.com/cognicore/wordclass/pkg/wordclass/bigram"
	"github.com/cognicore/wordclass/pkg/wordclass/class"
	"github.com/cognicore/wordclass/pkg/wordclass/cooc"
	"github.com/cognicore/wordclass/pkg/wordclass/diag"
	"github.com/cognicore/wordclass/pkg/wordclass/score"
)

// Driver owns every structure the exchange loop reads and mutates in
// lockstep: the class assignment, the count arrays (through Kernel), and
// the two word×class matrices used to apply a move's bookkeeping.
type Driver struct {
	Kernel     *score.Kernel
	Assignment *class.Assignment

	FwdCooc   *cooc.Matrix
	FwdBigram *bigram.Lists

	// RevCooc and RevBigram drive reverse-direction cycles. Both are nil
	// when the reverse structures were never built: either --unidirectional
	// was set, or reverse allocation failed and the caller downgraded
	// rev_alternate to 0. The decision to downgrade belongs to the caller;
	// this driver only honors a nil here.
	RevCooc   *cooc.Matrix
	RevBigram *bigram.Lists

	NumThreads int
	MaxCycles  int

	// RevAlternate is the cycle-alternation parameter: 0 never alternates
	// the scoring direction; 1 flips direction every cycle; k flips every
	// k-th cycle. It has no effect when the reverse structures are nil.
	RevAlternate int

	Writer *diag.Writer
}

// Result summarizes a completed run, suitable for verbose reporting.
type Result struct {
	CyclesRun     int
	MovesAccepted int
	MovesPerCycle []int
}

// Run considers every word in words once per cycle, always in the given
// (decreasing-frequency) order. When RevAlternate is nonzero and reverse
// structures are available, the driver alternates between forward and
// reverse predictive exchange: a reverse cycle scores every candidate
// through the successor lists and the reverse word×class matrix instead
// of the forward pair. 0 never alternates, 1 flips direction every cycle,
// k flips every k-th cycle.
//
// The loop terminates after MaxCycles cycles, or after any cycle accepts
// zero moves, whichever comes first.
//
// When the kernel's Verbose level enables its invariant checks, Run also
// re-scores the full corpus after every cycle as its reporting step; a
// check failure aborts the run and returns the error alongside the
// partial Result accumulated so far.
func (d *Driver) Run(words []int) (*Result, error) {
	res := &Result{}
	reverse := false
	sinceFlip := 0

	for cycle := 0; cycle < d.MaxCycles; cycle++ {
		moves := d.runCycle(words, reverse)
		res.CyclesRun++
		res.MovesAccepted += moves
		res.MovesPerCycle = append(res.MovesPerCycle, moves)
		d.Writer.Warnf(1, "cycle %d: %d moves accepted", cycle, moves)

		if d.Kernel.Verbose > 2 {
			if _, err := d.Kernel.FullCorpusScore(); err != nil {
				return res, err
			}
		}

		if moves == 0 {
			break
		}

		if d.RevAlternate > 0 && d.RevBigram != nil && d.RevCooc != nil {
			sinceFlip++
			if sinceFlip >= d.RevAlternate {
				reverse = !reverse
				sinceFlip = 0
			}
		}
	}
	return res, nil
}

func (d *Driver) runCycle(words []int, reverse bool) int {
	moves := 0
	for _, w := range words {
		newClass, delta := d.bestMove(w, reverse)
		if delta <= 0 {
			continue
		}
		d.applyMove(w, newClass)
		moves++
	}
	return moves
}

// bestMove scores every class other than w's current one and returns the
// class with the largest positive Delta, breaking ties by the lowest
// class id for deterministic results. It returns delta <= 0 when no
// candidate improves on the current assignment.
func (d *Driver) bestMove(w int, reverse bool) (bestClass int, bestDelta float64) {
	k := d.Kernel.K
	current := d.Assignment.Of(w)
	deltas := make([]float64, k)

	numWorkers := d.NumThreads
	if numWorkers < 1 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if numWorkers > k {
		numWorkers = k
	}

	jobs := make(chan int, k)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				if c == current {
					continue
				}
				deltas[c] = d.Kernel.Delta(w, c, reverse)
			}
		}()
	}
	for c := 0; c < k; c++ {
		jobs <- c
	}
	close(jobs)
	wg.Wait()

	bestClass, bestDelta = current, 0
	for c := 0; c < k; c++ {
		if c == current {
			continue
		}
		if deltas[c] > bestDelta {
			bestDelta = deltas[c]
			bestClass = c
		}
	}
	return bestClass, bestDelta
}

// applyMove commits word w's move from its current class to newClass:
// every affected class n-gram slot is retired and re-recorded at its new
// class so the arrays keep reflecting the current class assignment
// exactly, both word×class matrices are updated over exactly w's
// predecessor/successor rows, and the assignment itself is updated last
// so every structure above still sees the pre-move class while it
// computes its own update.
func (d *Driver) applyMove(w, newClass int) {
	oldClass := d.Assignment.Of(w)
	wWord := int32(w)

	for _, win := range d.Kernel.AffectedWindows(w) {
		sent := d.Kernel.Corpus.Sentence(int(win.Sentence))
		oldClasses := make([]int, len(win.Positions))
		newClasses := make([]int, len(win.Positions))
		for i, p := range win.Positions {
			if sent[p] == wWord {
				oldClasses[i] = oldClass
				newClasses[i] = newClass
			} else {
				c := d.Assignment.Of(int(sent[p]))
				oldClasses[i] = c
				newClasses[i] = c
			}
		}
		d.Kernel.Arrays.Decrement(oldClasses)
		d.Kernel.Arrays.Increment(newClasses)
	}

	d.FwdCooc.ApplyMove(d.FwdBigram, w, oldClass, newClass)
	if d.RevCooc != nil {
		d.RevCooc.ApplyMove(d.RevBigram, w, oldClass, newClass)
	}

	d.Assignment.Set(w, newClass)
}
