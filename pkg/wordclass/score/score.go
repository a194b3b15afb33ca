// Package score implements the scoring kernel. Given the current class
// assignment, the count arrays, the word x class matrix, and a candidate
// (word, class), it returns the change in corpus log-likelihood restricted
// to the positions where the word or one of its immediate neighbors
// appears, so a candidate is never scored by rescanning the full corpus.
package score

import (
	"fmt"
	"math"

	"github.com/cognicore/wordclass/pkg/wordclass/bigram"
	"github.com/cognicore/wordclass/pkg/wordclass/cooc"
	"github.com/cognicore/wordclass/pkg/wordclass/ngram"
	"github.com/cognicore/wordclass/pkg/wordclass/occindex"
	"github.com/cognicore/wordclass/pkg/wordclass/vocab"
	"github.com/cognicore/wordclass/pkg/wordclass/wcerr"
)

// Weights are the five class-trigram-model interpolation weights for
// offsets -2..+2, indexed by occindex.WindowKind so a window's Kind is a
// direct index into this array.
var Weights = [5]float64{0.40, 0.16, 0.01, 0.10, 0.33}

// minProb floors a class probability before taking its log2, so a
// never-seen class n-gram contributes a large negative penalty instead of
// -Inf. It never surfaces in output; it only keeps Delta well-defined.
const minProb = 1e-12

// Kernel borrows the driver's structures read-only to score candidate
// moves. Every field is shared, immutable state during a scoring pass:
// the kernel writes nothing.
type Kernel struct {
	Corpus *vocab.Corpus
	Vocab  *vocab.Vocabulary
	Occ    *occindex.Index
	Arrays *ngram.Arrays

	// FwdPreds and FwdCooc are the forward predecessor lists and word x
	// class matrix; RevPreds and RevCooc their reverse counterparts, nil
	// when reverse structures were suppressed or failed to allocate.
	// The kernel reads them; only the driver's apply-move step writes.
	FwdPreds *bigram.Lists
	RevPreds *bigram.Lists
	FwdCooc  *cooc.Matrix
	RevCooc  *cooc.Matrix

	ClassOf        func(word int) int
	Unidirectional bool
	K              int

	// Verbose gates the invariant checks classLogProb performs. Verbose > 3
	// enables the class-count-vs-word-count check; Verbose > 2 enables the
	// probability-range checks. Zero (the default) performs none of them.
	Verbose int
}

// Delta returns the corpus log-likelihood contribution of moving word w to
// class candidate, minus its contribution under the current assignment,
// restricted to the positions where w or an immediate neighbor of w
// appears. Moves with larger Delta are preferred; the exchange driver
// accepts only Delta > 0.
//
// One pass over w's predecessor list buckets the neighbor counts by
// class, and one row of the word x class matrix gives the class profile
// of the positions adjacent to w on the other side, so a single candidate
// costs O(|preds(w)| + K) regardless of corpus size. The interpolated
// transition covers the unigram and bigram components; the trigram
// components need joint two-sided context the per-class aggregation does
// not carry, so their weights drop out of the normalizer, the same rule a
// zero-denominator ratio follows.
//
// The count arrays used for both the "before" and "after" evaluation are
// the current, unmutated arrays: candidate is substituted only for w's
// own class. Delta does not additionally inflate candidate's own
// unigram/bigram totals by w's token mass the way a committed move would;
// it is the tentative, local estimate of predictive exchange, re-derived
// fresh every cycle, not an exact global recomputation.
//
// reverse selects reverse predictive exchange: the successor lists and
// reverse matrix take the roles of the predecessor lists and forward
// matrix, and the future-offset bigram weight replaces the past-offset
// one. Callers must pass reverse=true only when the reverse structures
// exist.
func (k *Kernel) Delta(w, candidate int, reverse bool) float64 {
	current := k.ClassOf(w)
	if candidate == current {
		return 0
	}
	preds, matrix := k.FwdPreds, k.FwdCooc
	if reverse {
		preds, matrix = k.RevPreds, k.RevCooc
	}

	wordCount := k.Vocab.Count(w)
	nself := preds.CountOf(w, int32(w))

	// Neighbor-class profile of w's own positions. The self-bigram count
	// is held out: its neighbor is w itself, whose class differs between
	// the two hypotheses.
	profile := make([]uint32, k.K)
	for i, u := range preds.Preds[w] {
		if int(u) == w {
			continue
		}
		profile[k.ClassOf(int(u))] += preds.Counts[w][i]
	}

	oldEmit := k.emission(wordCount, current)
	newEmit := k.emission(wordCount, candidate)
	var oldSum, newSum float64
	for c := 0; c < k.K; c++ {
		if m := profile[c]; m > 0 {
			oldSum += float64(m) * log2Floored(oldEmit*k.transition(c, current, reverse))
			newSum += float64(m) * log2Floored(newEmit*k.transition(c, candidate, reverse))
		}
	}
	if nself > 0 {
		oldSum += float64(nself) * log2Floored(oldEmit*k.transition(current, current, reverse))
		newSum += float64(nself) * log2Floored(newEmit*k.transition(candidate, candidate, reverse))
	}

	// Transition changes at the neighboring positions themselves: each
	// such position predicts its own class with w's class as context, and
	// w's row of the matrix gives their class profile in O(K). Emission
	// and the context-free component at those positions are tied to their
	// own class, which the move does not touch.
	for c := 0; c < k.K; c++ {
		m := matrix.At(w, c)
		if c == current {
			if nself > m {
				m = 0
			} else {
				m -= nself
			}
		}
		if m == 0 {
			continue
		}
		oldSum += float64(m) * log2Floored(k.transition(current, c, reverse))
		newSum += float64(m) * log2Floored(k.transition(candidate, c, reverse))
	}
	return newSum - oldSum
}

// transition returns the interpolated probability of class predicted
// adjacent to class context: the preceding class in forward mode, the
// following class in reverse mode. An inactive component (no order-2
// array, zero denominator) is removed from the normalizer entirely.
func (k *Kernel) transition(context, predicted int, reverse bool) float64 {
	total := k.Arrays.Total()
	if total == 0 {
		return 1.0 / float64(k.K)
	}
	weightedSum := Weights[occindex.Unigram] * float64(k.Arrays.Read([]int{predicted})) / float64(total)
	activeWeight := Weights[occindex.Unigram]
	if k.Arrays.Order() >= 2 {
		if den := k.Arrays.Read([]int{context}); den > 0 {
			if reverse {
				weightedSum += Weights[occindex.BigramFwd] * float64(k.Arrays.Read([]int{predicted, context})) / float64(den)
				activeWeight += Weights[occindex.BigramFwd]
			} else {
				weightedSum += Weights[occindex.BigramBack] * float64(k.Arrays.Read([]int{context, predicted})) / float64(den)
				activeWeight += Weights[occindex.BigramBack]
			}
		}
	}
	return weightedSum / activeWeight
}

// emission returns count(w)/count_class(c), with 1/count_class(c) for an
// unseen word and minProb for an empty class.
func (k *Kernel) emission(wordCount int64, class int) float64 {
	classCount := k.Arrays.Read([]int{class})
	switch {
	case classCount == 0:
		return minProb
	case wordCount == 0:
		return 1.0 / float64(classCount)
	default:
		return float64(wordCount) / float64(classCount)
	}
}

func log2Floored(p float64) float64 {
	if p < minProb {
		p = minProb
	}
	return math.Log2(p)
}

// FullCorpusScore computes the total corpus log-likelihood under the
// current class assignment: Σ_i log2(class_prob_i) over every position in
// every sentence. Unlike Delta it is O(corpus) and is only meant to run as a
// diagnostic or in tests validating the exchange driver's monotone-
// objective property, never inside the hot per-candidate loop.
func (k *Kernel) FullCorpusScore() (float64, error) {
	maxOrder := k.Arrays.Order()
	totalTokens := k.Arrays.Total()
	var total float64
	for s := 0; s < k.Corpus.NumSentences(); s++ {
		sent := k.Corpus.Sentence(s)
		for i := range sent {
			windows := occindex.CenterWindows(len(sent), i, maxOrder, k.Unidirectional)
			logp, err := k.classLogProb(sent, i, windows, totalTokens, -1, 0)
			if err != nil {
				return 0, err
			}
			total += logp
		}
	}
	return total, nil
}

// AffectedWindows returns every distinct structural class n-gram window
// (deduped by absolute sentence position, since a window reached as a
// "back" kind from one center and a "forward" kind from another center
// addresses the identical count-array cell) that contains at least one
// occurrence of w; windows made up only of w's neighbors are not
// included, since their classes do not change with w's move. The
// exchange driver's "apply move" step uses this to retire exactly one old
// contribution and record exactly one new contribution per structural
// slot: the arrays would stop reflecting the current class assignment
// exactly if a slot reached from two centers were double-counted.
func (k *Kernel) AffectedWindows(w int) []AffectedWindow {
	wWord := int32(w)
	seen := make(map[string]struct{})
	var out []AffectedWindow
	for _, sIdx := range k.Occ.SentencesWith(w) {
		sent := k.Corpus.Sentence(int(sIdx))
		maxOrder := k.Arrays.Order()
		for _, center := range k.Occ.Centers(w, sIdx, len(sent)) {
			for _, win := range occindex.CenterWindows(len(sent), center, maxOrder, k.Unidirectional) {
				if !anyTouches(sent, []occindex.Window{win}, wWord) {
					continue
				}
				key := positionKey(sIdx, win.Positions)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, AffectedWindow{Sentence: sIdx, Positions: win.Positions})
			}
		}
	}
	return out
}

// AffectedWindow is a structural class n-gram slot: a sentence and the
// absolute positions within it that make up one n-gram.
type AffectedWindow struct {
	Sentence  int32
	Positions []int
}

func positionKey(sentence int32, positions []int) string {
	b := make([]byte, 0, 4+4*len(positions))
	b = append(b, byte(sentence), byte(sentence>>8), byte(sentence>>16), byte(sentence>>24))
	for _, p := range positions {
		b = append(b, byte(p), byte(p>>8), byte(p>>16), byte(p>>24))
	}
	return string(b)
}

func anyTouches(sent []int32, windows []occindex.Window, w int32) bool {
	for _, win := range windows {
		for _, p := range win.Positions {
			if sent[p] == w {
				return true
			}
		}
	}
	return false
}

// classLogProb computes log2(class_prob_i) at the predicted position
// `center`, interpolating across the window kinds present in `windows`.
// When substWord >= 0, every position whose word id equals
// substWord is scored as substClass instead of its current assignment;
// otherwise the current assignment is used throughout.
func (k *Kernel) classLogProb(sent []int32, center int, windows []occindex.Window, totalTokens uint64, substWord, substClass int) (float64, error) {
	classAt := func(pos int) int {
		if substWord >= 0 && int(sent[pos]) == substWord {
			return substClass
		}
		return k.ClassOf(int(sent[pos]))
	}

	var weightedSum, activeWeight float64
	for _, win := range windows {
		classes := make([]int, len(win.Positions))
		for i, p := range win.Positions {
			classes[i] = classAt(p)
		}

		var prob float64
		var active bool
		switch win.Kind {
		case occindex.Unigram:
			prob = float64(k.Arrays.Read(classes)) / float64(totalTokens)
			active = true
		case occindex.TrigramBack, occindex.BigramBack:
			num := k.Arrays.Read(classes)
			den := k.Arrays.Read(classes[:len(classes)-1])
			if den > 0 {
				prob = float64(num) / float64(den)
				active = true
			}
		case occindex.TrigramFwd, occindex.BigramFwd:
			num := k.Arrays.Read(classes)
			den := k.Arrays.Read(classes[1:])
			if den > 0 {
				prob = float64(num) / float64(den)
				active = true
			}
		}
		if !active {
			continue
		}
		weightedSum += Weights[win.Kind] * prob
		activeWeight += Weights[win.Kind]
	}

	var transition float64
	if activeWeight > 0 {
		transition = weightedSum / activeWeight
	} else {
		transition = 1.0 / float64(k.K)
	}

	// an interpolated ratio above 1 means some count array entry exceeds
	// its own prefix total
	if k.Verbose > 2 && transition > 1 {
		return 0, fmt.Errorf("%w: transition=%v at position %d", wcerr.ErrProbabilityRange, transition, center)
	}

	predictedWord := int(sent[center])
	predictedClass := classAt(center)
	wordCount := k.Vocab.Count(predictedWord)
	classCount := k.Arrays.Read([]int{predictedClass})

	// a class's unigram count can never legitimately drop below the count
	// of any single word assigned to it
	if k.Verbose > 3 && uint64(classCount) < uint64(wordCount) {
		return 0, fmt.Errorf("%w: class %d count %d < word %d count %d",
			wcerr.ErrClassCountMismatch, predictedClass, classCount, predictedWord, wordCount)
	}

	var emission float64
	switch {
	case classCount == 0:
		emission = minProb
	case wordCount == 0:
		emission = 1.0 / float64(classCount)
	default:
		emission = float64(wordCount) / float64(classCount)
	}

	p := emission * transition
	if k.Verbose > 2 && (p < 0 || p > 1) {
		return 0, fmt.Errorf("%w: class_prob=%v", wcerr.ErrClassProbRange, p)
	}
	if p < minProb {
		p = minProb
	}
	return math.Log2(p), nil
}
