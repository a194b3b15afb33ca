// Package vocab builds the vocabulary and the integer-compact corpus from
// raw tokenized sentences.
package vocab

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	"github.com/cognicore/wordclass/pkg/wordclass/diag"
	"github.com/cognicore/wordclass/pkg/wordclass/wcerr"
)

// Reserved word ids, assigned before any corpus word.
const (
	UnkID = 0
	BOSID = 1
	EOSID = 2
)

// Reserved token spellings. These should never appear verbatim in raw
// input; Build does not reject input that violates this: such a token maps
// to its reserved id, an input "<unk>" adds to the <unk> count, and the
// <s>/</s> counts are always the number of sentences.
const (
	UnkToken = "<unk>"
	BOSToken = "<s>"
	EOSToken = "</s>"
)

// Limits bounds the resources consumed while building a Vocabulary and
// Corpus.
type Limits struct {
	MaxSentences int // max_tune_sents: sentence-store capacity
	MaxWordLen   int // words longer than this are truncated
	MaxSentWords int // sentences longer than this are truncated
	MinCount     int // min_count: vocabulary filter threshold
}

// DefaultLimits returns conservative default limits. Build uses the Limits
// it is given as they are; it does not fill in zero-valued fields.
func DefaultLimits() Limits {
	return Limits{
		MaxSentences: 10_000_000,
		MaxWordLen:   64,
		MaxSentWords: 256,
		MinCount:     1,
	}
}

// Vocabulary is the finite, immutable-after-build mapping string <->
// word_id. Ids are dense, assigned in descending
// count order after filtering, with ids 0..2 reserved for <unk>, <s>,
// </s>.
type Vocabulary struct {
	words  []string // id -> word
	ids    map[string]int
	counts []int64 // id -> unigram count
}

// Size returns V, the number of distinct word ids.
func (v *Vocabulary) Size() int { return len(v.words) }

// Word returns the surface form for id, or "" if id is out of range.
func (v *Vocabulary) Word(id int) string {
	if id < 0 || id >= len(v.words) {
		return ""
	}
	return v.words[id]
}

// ID returns the word id for w, and whether w is known. Unknown words map
// to UnkID with ok == false so callers can distinguish a genuine <unk>
// token from an out-of-vocabulary lookup while still getting a usable id.
func (v *Vocabulary) ID(w string) (int, bool) {
	id, ok := v.ids[w]
	if !ok {
		return UnkID, false
	}
	return id, true
}

// Count returns the unigram token count for id.
func (v *Vocabulary) Count(id int) int64 {
	if id < 0 || id >= len(v.counts) {
		return 0
	}
	return v.counts[id]
}

// Counts returns the full id -> count array. The returned slice must not
// be mutated by the caller.
func (v *Vocabulary) Counts() []int64 { return v.counts }

// Corpus is the ordered sequence of sentences in id form. Ids are stored
// contiguously; Lengths gives each
// sentence's word count so individual sentences can be sliced out of Data
// without a second allocation per sentence.
type Corpus struct {
	Data    []int32
	Lengths []int32

	offsets []int32 // lazily built prefix sum over Lengths
}

// NumSentences returns the number of sentences in the corpus.
func (c *Corpus) NumSentences() int { return len(c.Lengths) }

// Sentence returns the word ids (including the leading <s> and trailing
// </s> boundary ids) for sentence i.
func (c *Corpus) Sentence(i int) []int32 {
	c.ensureOffsets()
	start := c.offsets[i]
	end := start + c.Lengths[i]
	return c.Data[start:end]
}

func (c *Corpus) ensureOffsets() {
	if c.offsets != nil {
		return
	}
	c.offsets = make([]int32, len(c.Lengths))
	var running int32
	for i, l := range c.Lengths {
		c.offsets[i] = running
		running += l
	}
}

// isTokenSep reports whether r separates tokens: whitespace plus the
// fixed set of punctuation spacers.
func isTokenSep(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case ',', ';', ':', '!', '?', '(', ')', '"', '‘', '’', '“', '”':
		return true
	}
	return false
}

// Build reads up to limits.MaxSentences newline-delimited sentences from r,
// tokenizes each on the fixed token-character set, and returns the
// resulting Vocabulary and Corpus. Empty lines are ignored. w receives
// diagnostics; it may be nil.
func Build(r io.Reader, limits Limits, w *diag.Writer) (*Vocabulary, *Corpus, error) {
	rawCounts := make(map[string]int64)
	rawCounts[UnkToken] = 0

	var rawSentences [][]string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	truncatedWords := 0
	truncatedSents := 0
	sentCount := 0
	inputExhausted := true

	for scanner.Scan() {
		if sentCount >= limits.MaxSentences {
			inputExhausted = false
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		words := strings.FieldsFunc(line, isTokenSep)
		if len(words) == 0 {
			continue
		}
		if len(words) > limits.MaxSentWords {
			words = words[:limits.MaxSentWords]
			truncatedSents++
		}
		for i, word := range words {
			if len(word) > limits.MaxWordLen {
				full := word
				word = word[:limits.MaxWordLen]
				words[i] = word
				truncatedWords++
				w.WarnOnce(0, full, "word %q truncated to %d bytes", full, limits.MaxWordLen)
			}
			rawCounts[word]++
		}
		rawSentences = append(rawSentences, words)
		sentCount++
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if !inputExhausted {
		w.Warnf(0, "sentence buffer filled at %d sentences; proceeding with truncated prefix", limits.MaxSentences)
	}
	if truncatedSents > 0 {
		w.Warnf(1, "%d sentences truncated to %d words", truncatedSents, limits.MaxSentWords)
	}

	rawCounts[BOSToken] = int64(len(rawSentences))
	rawCounts[EOSToken] = int64(len(rawSentences))

	vocab := buildVocabulary(rawCounts, limits.MinCount)
	if err := vocab.checkConsistency(); err != nil {
		return nil, nil, err
	}

	corpus := buildCorpus(rawSentences, vocab)
	return vocab, corpus, nil
}

// checkConsistency verifies the id<->word mapping built by buildVocabulary
// is a genuine bijection: one id per word, and the id table agrees with
// the id->word slice in both directions. Run unconditionally (not gated
// by verbose); it guards against an internal bug in the build itself,
// not any condition a caller can trigger through normal input.
func (v *Vocabulary) checkConsistency() error {
	if len(v.ids) != len(v.words) {
		return fmt.Errorf("%w: %d distinct ids but %d words", wcerr.ErrVocabInconsistent, len(v.ids), len(v.words))
	}
	for id, word := range v.words {
		got, ok := v.ids[word]
		if !ok || got != id {
			return fmt.Errorf("%w: word %q maps to id %d, want %d", wcerr.ErrVocabInconsistent, word, got, id)
		}
	}
	return nil
}

// buildVocabulary implements the frequency filter: every word whose
// count is strictly less than minCount, and is not the reserved <unk>, is
// deleted and its count folded into <unk>. Surviving words are sorted by
// decreasing count and assigned dense ids in that order, with 0..2 fixed
// at <unk>, <s>, </s>.
func buildVocabulary(rawCounts map[string]int64, minCount int) *Vocabulary {
	unkCount := rawCounts[UnkToken]
	type wc struct {
		word  string
		count int64
	}
	var kept []wc
	for word, count := range rawCounts {
		if word == UnkToken || word == BOSToken || word == EOSToken {
			continue
		}
		if count < int64(minCount) {
			unkCount += count
			continue
		}
		kept = append(kept, wc{word, count})
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].count != kept[j].count {
			return kept[i].count > kept[j].count
		}
		return kept[i].word < kept[j].word // deterministic tiebreak
	})

	words := make([]string, 0, len(kept)+3)
	counts := make([]int64, 0, len(kept)+3)
	words = append(words, UnkToken, BOSToken, EOSToken)
	counts = append(counts, unkCount, rawCounts[BOSToken], rawCounts[EOSToken])

	ids := make(map[string]int, len(kept)+3)
	ids[UnkToken] = UnkID
	ids[BOSToken] = BOSID
	ids[EOSToken] = EOSID

	for _, e := range kept {
		ids[e.word] = len(words)
		words = append(words, e.word)
		counts = append(counts, e.count)
	}

	return &Vocabulary{words: words, ids: ids, counts: counts}
}

// buildCorpus re-maps every sentence to id form, with sent[0] = id(<s>)
// and sent[L-1] = id(</s>).
func buildCorpus(rawSentences [][]string, vocab *Vocabulary) *Corpus {
	data := make([]int32, 0)
	lengths := make([]int32, 0, len(rawSentences))
	for _, words := range rawSentences {
		data = append(data, BOSID)
		for _, word := range words {
			id, ok := vocab.ID(word)
			if !ok {
				id = UnkID
			}
			data = append(data, int32(id))
		}
		data = append(data, EOSID)
		lengths = append(lengths, int32(len(words)+2))
	}
	return &Corpus{Data: data, Lengths: lengths}
}

// Filter re-applies the minCount filter to an already-built vocabulary. It
// is a no-op on a second call at the same threshold: every surviving word
// already has count >= minCount, so nothing new folds into <unk>.
func (v *Vocabulary) Filter(minCount int) *Vocabulary {
	rawCounts := make(map[string]int64, len(v.words))
	for id, word := range v.words {
		rawCounts[word] = v.counts[id]
	}
	return buildVocabulary(rawCounts, minCount)
}
