// Package output writes the two emission formats a clustering run
// produces: the Classes table and the word-vector dump (text or the
// classical word2vec binary layout).
package output

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/cognicore/wordclass/pkg/wordclass/vocab"
)

// WriteClasses writes one record per vocabulary word: word, tab,
// class_id + classOffset, and, when printFreqs is set, a second tab and
// the word's unigram count. Records are ordered by descending word count,
// ties broken alphabetically, the reserved tokens included.
func WriteClasses(w io.Writer, v *vocab.Vocabulary, classOf func(word int) int, classOffset int, printFreqs bool) error {
	bw := bufio.NewWriter(w)
	order := make([]int, v.Size())
	for id := range order {
		order[id] = id
	}
	sort.SliceStable(order, func(i, j int) bool {
		ci, cj := v.Count(order[i]), v.Count(order[j])
		if ci != cj {
			return ci > cj
		}
		return v.Word(order[i]) < v.Word(order[j])
	})
	for _, id := range order {
		if printFreqs {
			if _, err := fmt.Fprintf(bw, "%s\t%d\t%d\n", v.Word(id), classOf(id)+classOffset, v.Count(id)); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s\t%d\n", v.Word(id), classOf(id)+classOffset); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Vector is one word's continuous representation: a one-hot-ish row over
// K classes, or any other V-dimensional row a caller supplies. This
// package only formats rows, it does not compute them.
type Vector struct {
	Word string
	Row  []float32
}

// VectorsFromClasses builds the simplest possible vector emission: a
// one-hot row over the K classes, in vocabulary id order (the reserved
// <unk>, <s>, </s> first). This is the degenerate case of "print word vectors"
// a hard clustering admits without an auxiliary continuous embedding.
func VectorsFromClasses(v *vocab.Vocabulary, classOf func(word int) int, k int) []Vector {
	out := make([]Vector, v.Size())
	for id := 0; id < v.Size(); id++ {
		row := make([]float32, k)
		row[classOf(id)] = 1
		out[id] = Vector{Word: v.Word(id), Row: row}
	}
	return out
}

// WriteVectorsText writes one line per vector: the word, a space, then
// each dimension formatted with %g and separated by single spaces.
func WriteVectorsText(w io.Writer, vectors []Vector) error {
	bw := bufio.NewWriter(w)
	for _, vec := range vectors {
		if _, err := fmt.Fprintf(bw, "%s", vec.Word); err != nil {
			return err
		}
		for _, f := range vec.Row {
			if _, err := fmt.Fprintf(bw, " %g", f); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteVectorsBinary writes the classical word2vec binary layout: an
// ASCII header "<vocab_size> <dim>\n", then for each word, its surface
// form, a single space, dim little-endian float32s, and a single trailing
// newline byte.
func WriteVectorsBinary(w io.Writer, vectors []Vector, dim int) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%d %d\n", len(vectors), dim); err != nil {
		return err
	}
	var buf [4]byte
	for _, vec := range vectors {
		if _, err := bw.WriteString(vec.Word); err != nil {
			return err
		}
		if err := bw.WriteByte(' '); err != nil {
			return err
		}
		for _, f := range vec.Row {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SortByCountDesc returns vectors ordered by descending vocabulary count,
// breaking ties alphabetically: the same order WriteClasses writes its
// records in, kept explicit here so callers that reorder vectors (e.g. after
// filtering) can still match the Classes table's output order.
func SortByCountDesc(vectors []Vector, count func(word string) int64) []Vector {
	out := make([]Vector, len(vectors))
	copy(out, vectors)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := count(out[i].Word), count(out[j].Word)
		if ci != cj {
			return ci > cj
		}
		return out[i].Word < out[j].Word
	})
	return out
}
