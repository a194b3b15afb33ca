package exchange

import (
	"math"
	"strings"
	"testing"

	"github.com/cognicore/wordclass/pkg/wordclass/bigram"
	"github.com/cognicore/wordclass/pkg/wordclass/class"
	"github.com/cognicore/wordclass/pkg/wordclass/cooc"
	"github.com/cognicore/wordclass/pkg/wordclass/diag"
	"github.com/cognicore/wordclass/pkg/wordclass/ngram"
	"github.com/cognicore/wordclass/pkg/wordclass/occindex"
	"github.com/cognicore/wordclass/pkg/wordclass/score"
	"github.com/cognicore/wordclass/pkg/wordclass/vocab"
)

func buildDriver(t *testing.T, input string, k, maxCycles int) (*Driver, *vocab.Vocabulary) {
	t.Helper()
	v, c, err := vocab.Build(strings.NewReader(input), vocab.DefaultLimits(), nil)
	if err != nil {
		t.Fatalf("vocab.Build: %v", err)
	}
	a := class.RoundRobin(v.Size(), k)
	arrays, err := ngram.BuildFromCorpus(c.NumSentences(), c.Sentence, a.Of, 2, k, 0)
	if err != nil {
		t.Fatalf("ngram.BuildFromCorpus: %v", err)
	}
	occ := occindex.Build(c, v.Size(), 1)
	fwdBigram := bigram.BuildForward(c, v.Size(), 1)
	revBigram := bigram.BuildReverse(c, v.Size(), 1)
	fwdCooc := cooc.Build(c.Sentence, c.NumSentences(), v.Size(), k, a.Of, 1, true)
	revCooc := cooc.Build(c.Sentence, c.NumSentences(), v.Size(), k, a.Of, 1, false)

	kernel := &score.Kernel{
		Corpus:   c,
		Vocab:    v,
		Occ:      occ,
		Arrays:   arrays,
		FwdPreds: fwdBigram,
		RevPreds: revBigram,
		FwdCooc:  fwdCooc,
		RevCooc:  revCooc,
		ClassOf:  a.Of,
		K:        k,
	}
	return &Driver{
		Kernel:       kernel,
		Assignment:   a,
		FwdCooc:      fwdCooc,
		FwdBigram:    fwdBigram,
		RevCooc:      revCooc,
		RevBigram:    revBigram,
		NumThreads:   2,
		MaxCycles:    maxCycles,
		RevAlternate: 1,
		Writer:       diag.New(nil, -1),
	}, v
}

func allWordIDs(v *vocab.Vocabulary) []int {
	words := make([]int, 0, v.Size())
	for id := 0; id < v.Size(); id++ {
		if id == vocab.UnkID || id == vocab.BOSID || id == vocab.EOSID {
			continue
		}
		words = append(words, id)
	}
	return words
}

func TestRunTerminatesWithinMaxCycles(t *testing.T) {
	d, v := buildDriver(t, "the cat sat on the mat\nthe dog sat on the rug\na cat and a dog play\n", 2, 10)
	res, err := d.Run(allWordIDs(v))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.CyclesRun > 10 {
		t.Fatalf("CyclesRun = %d, want <= 10", res.CyclesRun)
	}
	if len(res.MovesPerCycle) != res.CyclesRun {
		t.Fatalf("len(MovesPerCycle) = %d, want %d", len(res.MovesPerCycle), res.CyclesRun)
	}
}

func TestRunNeverDecreasesCorpusScore(t *testing.T) {
	d, v := buildDriver(t, "the cat sat on the mat\nthe dog sat on the rug\na cat and a dog play\n", 3, 5)
	before, err := d.Kernel.FullCorpusScore()
	if err != nil {
		t.Fatalf("FullCorpusScore: %v", err)
	}
	if _, err := d.Run(allWordIDs(v)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	after, err := d.Kernel.FullCorpusScore()
	if err != nil {
		t.Fatalf("FullCorpusScore: %v", err)
	}
	if after < before-1e-6*math.Abs(before) {
		t.Errorf("FullCorpusScore decreased: before=%v after=%v", before, after)
	}
}

func TestRunStopsEarlyOnNoMoves(t *testing.T) {
	// A single repeated bigram pattern under K=1 has no alternative class to
	// move to, so the very first cycle must accept zero moves.
	d, v := buildDriver(t, "a b a b\n", 1, 10)
	res, err := d.Run(allWordIDs(v))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.CyclesRun != 1 {
		t.Fatalf("CyclesRun = %d, want 1 (stop after the first dry cycle)", res.CyclesRun)
	}
	if res.MovesAccepted != 0 {
		t.Errorf("MovesAccepted = %d, want 0", res.MovesAccepted)
	}
}

func TestUnidirectionalRunsWithoutReverseStructures(t *testing.T) {
	// With unidirectional set, the reverse predecessor lists and reverse
	// matrix are never built; the driver must complete a run with both nil
	// and never switch to reverse scoring.
	d, v := buildDriver(t, "a b a b\na b a b\n", 2, 5)
	d.Kernel.Unidirectional = true
	d.Kernel.RevPreds = nil
	d.Kernel.RevCooc = nil
	d.RevCooc = nil
	d.RevBigram = nil
	d.RevAlternate = 1
	if _, err := d.Run(allWordIDs(v)); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestTrivialCorpusSeparatesWords(t *testing.T) {
	d, v := buildDriver(t, "a b a b\na b a b\n", 2, 5)
	if _, err := d.Run(allWordIDs(v)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	aID, _ := v.ID("a")
	bID, _ := v.ID("b")
	if d.Assignment.Of(aID) == d.Assignment.Of(bID) {
		t.Errorf("a and b ended in the same class %d; a strictly alternating corpus must separate them", d.Assignment.Of(aID))
	}
}

func TestCountArraysRoundTripAfterRun(t *testing.T) {
	// Rebuilding the count arrays from scratch against the final class
	// assignment must give arrays identical to the ones the driver
	// maintained incrementally across its accepted moves.
	d, v := buildDriver(t, "the cat sat on the mat\nthe dog sat on the rug\na cat and a dog play\n", 2, 5)
	if _, err := d.Run(allWordIDs(v)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c := d.Kernel.Corpus
	rebuilt, err := ngram.BuildFromCorpus(c.NumSentences(), c.Sentence, d.Assignment.Of, d.Kernel.Arrays.Order(), d.Kernel.K, 0)
	if err != nil {
		t.Fatalf("ngram.BuildFromCorpus: %v", err)
	}
	for n, arr := range d.Kernel.Arrays.Arrays {
		for i, cnt := range arr {
			if cnt != rebuilt.Arrays[n][i] {
				t.Fatalf("order-%d array diverged at offset %d: incremental=%d rebuilt=%d", n+1, i, cnt, rebuilt.Arrays[n][i])
			}
		}
	}
}

func TestApplyMoveConservesRowSums(t *testing.T) {
	d, v := buildDriver(t, "the cat sat on the mat\nthe dog sat on the rug\n", 2, 0)
	words := allWordIDs(v)
	if len(words) == 0 {
		t.Fatal("no words to test")
	}
	w := words[0]
	if len(d.FwdBigram.Preds[w]) == 0 {
		t.Skip("word has no predecessors to exercise ApplyMove")
	}
	before := d.FwdCooc.RowSum(int(d.FwdBigram.Preds[w][0]))
	current := d.Assignment.Of(w)
	target := (current + 1) % d.Kernel.K
	d.applyMove(w, target)
	after := d.FwdCooc.RowSum(int(d.FwdBigram.Preds[w][0]))
	if before != after {
		t.Errorf("RowSum changed across a move: before=%d after=%d", before, after)
	}
}
