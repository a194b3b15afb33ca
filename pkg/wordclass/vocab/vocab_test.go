package vocab

import (
	"strings"
	"testing"
)

func limitsFor(minCount int) Limits {
	l := DefaultLimits()
	l.MinCount = minCount
	return l
}

func TestBuildTrivialCorpus(t *testing.T) {
	input := "a b a b\na b a b\n"
	v, c, err := Build(strings.NewReader(input), limitsFor(1), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := v.ID("a"); !ok {
		t.Error("expected \"a\" in vocabulary")
	}
	if _, ok := v.ID("b"); !ok {
		t.Error("expected \"b\" in vocabulary")
	}
	if c.NumSentences() != 2 {
		t.Fatalf("NumSentences() = %d, want 2", c.NumSentences())
	}
	sent := c.Sentence(0)
	if sent[0] != BOSID || sent[len(sent)-1] != EOSID {
		t.Errorf("sentence 0 = %v, want boundaries %d/%d", sent, BOSID, EOSID)
	}
}

func TestSingletonFilter(t *testing.T) {
	input := "x y z\nx y z\nx y q\n"
	v, _, err := Build(strings.NewReader(input), limitsFor(2), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, w := range []string{"x", "y", "z"} {
		if _, ok := v.ID(w); !ok {
			t.Errorf("expected %q in vocabulary", w)
		}
	}
	if _, ok := v.ID("q"); ok {
		t.Error("expected \"q\" to be filtered into <unk>")
	}
	unkID, _ := v.ID(UnkToken)
	if got := v.Count(unkID); got != 1 {
		t.Errorf("<unk> count = %d, want 1", got)
	}
}

func TestFilterIdempotent(t *testing.T) {
	input := "x y z\nx y z\nx y q\n"
	v, _, err := Build(strings.NewReader(input), limitsFor(2), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	v2 := v.Filter(2)
	if v.Size() != v2.Size() {
		t.Fatalf("Filter is not idempotent: size %d -> %d", v.Size(), v2.Size())
	}
	for id, word := range v.words {
		if v2.Count(id) != v.counts[id] {
			t.Errorf("word %q count changed on re-filter: %d -> %d", word, v.counts[id], v2.Count(id))
		}
	}
}

func TestIDsDenseInDescendingCountOrder(t *testing.T) {
	input := "a a a b b c\n"
	v, _, err := Build(strings.NewReader(input), limitsFor(1), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for id := 3; id < v.Size()-1; id++ {
		if v.Count(id) < v.Count(id+1) {
			t.Errorf("counts not descending at id %d: %d < %d", id, v.Count(id), v.Count(id+1))
		}
	}
}

func TestWordTruncation(t *testing.T) {
	l := limitsFor(1)
	l.MaxWordLen = 3
	input := "abcdef\n"
	v, _, err := Build(strings.NewReader(input), l, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := v.ID("abc"); !ok {
		t.Error("expected word truncated to \"abc\"")
	}
	if _, ok := v.ID("abcdef"); ok {
		t.Error("untruncated word should not appear in vocabulary")
	}
}
