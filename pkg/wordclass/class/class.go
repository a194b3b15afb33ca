// Package class implements the class assignment: word_id -> class_id,
// mutated only by the exchange driver.
package class

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Assignment is a mutable word_id -> class_id mapping.
type Assignment struct {
	K       int
	classes []int
}

// RoundRobin builds the default initial assignment: word_id -> word_id % k.
// It is total and surjective for any v >= k without a separate
// random-number dependency.
func RoundRobin(v, k int) *Assignment {
	classes := make([]int, v)
	for id := range classes {
		classes[id] = id % k
	}
	return &Assignment{K: k, classes: classes}
}

// Of returns the class id of word.
func (a *Assignment) Of(word int) int { return a.classes[word] }

// Set moves word to class c. This is the only mutator; the exchange
// driver's "apply move" step calls it after updating the V×K matrix and
// count arrays, never before, though the assignment itself has no
// ordering dependency of its own.
func (a *Assignment) Set(word, c int) { a.classes[word] = c }

// Classes returns the full word_id -> class_id slice. Callers must not
// mutate it directly; use Set.
func (a *Assignment) Classes() []int { return a.classes }

// Surjective reports whether every class in [0,K) has at least one member.
// An assignment is total and surjective unless overridden by a class_file
// that leaves some class empty.
func (a *Assignment) Surjective() bool {
	seen := make([]bool, a.K)
	count := 0
	for _, c := range a.classes {
		if !seen[c] {
			seen[c] = true
			count++
		}
	}
	return count == a.K
}

// Override holds the (word, class) pairs parsed from a class_file, used to
// import an initial assignment that overrides the default for listed
// words only.
type Override struct {
	ByWord map[string]int
}

// LoadOverride reads a class_file. Two formats are accepted, auto-detected:
// the flat "word\tclass" form this repository's own Classes output uses,
// and a YAML form. The flat form is tried first; a YAML form is assumed
// only when the first non-empty line has no tab-separated integer second
// field.
func LoadOverride(r io.Reader) (*Override, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if looksLikeFlat(data) {
		return parseFlatOverride(data)
	}
	return parseYAMLOverride(data)
}

func looksLikeFlat(data []byte) bool {
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return false
		}
		_, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		return err == nil
	}
	return false
}

func parseFlatOverride(data []byte) (*Override, error) {
	o := &Override{ByWord: make(map[string]int)}
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("class_file: malformed line %q", line)
		}
		c, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("class_file: bad class id in line %q: %w", line, err)
		}
		o.ByWord[fields[0]] = c
	}
	return o, sc.Err()
}

func parseYAMLOverride(data []byte) (*Override, error) {
	var doc struct {
		Classes map[string]int `yaml:"classes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("class_file: %w", err)
	}
	return &Override{ByWord: doc.Classes}, nil
}

// Apply overrides a's assignment for every word in o that exists in the
// vocabulary resolver vocabID. Words not present in o keep their existing
// (e.g. round-robin) class. It returns the word ids it overrode: an
// imported assignment is authoritative for exactly those words, so the
// exchange driver must leave them out of its scan and only reassign the
// rest freely.
func (a *Assignment) Apply(o *Override, vocabID func(word string) (int, bool)) []int {
	var applied []int
	for word, c := range o.ByWord {
		if id, ok := vocabID(word); ok {
			a.Set(id, c)
			applied = append(applied, id)
		}
	}
	sort.Ints(applied)
	return applied
}
