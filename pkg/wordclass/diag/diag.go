// Package diag is the diagnostic stream: warnings written during corpus
// build and clustering, gated by a verbosity level. Warnings never alter
// output.
package diag

import (
	"fmt"
	"io"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-isatty"
)

// dedupCacheSize bounds the truncation-warning dedup cache so a corpus with
// many distinct over-long words still has bounded diagnostic memory.
const dedupCacheSize = 4096

// Writer is the diagnostic sink. A Writer with Verbose < 0 silences all
// warnings.
type Writer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose int
	isTTY   bool
	seen    *lru.Cache[string, struct{}]
}

// New creates a Writer around out at the given verbosity level. out is
// normally os.Stderr; passing nil defaults to os.Stderr.
func New(out io.Writer, verbose int) *Writer {
	if out == nil {
		out = os.Stderr
	}
	cache, _ := lru.New[string, struct{}](dedupCacheSize)
	return &Writer{
		out:     out,
		verbose: verbose,
		isTTY:   isTerminal(out),
		seen:    cache,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Warnf emits a warning at the given level if the writer's verbosity
// permits it. level 0 warnings are always shown unless verbose < 0;
// higher levels require verbose >= level.
func (w *Writer) Warnf(level int, format string, args ...interface{}) {
	if w == nil || w.verbose < 0 || level > w.verbose {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.print("warning", format, args...)
}

// WarnOnce emits a warning at most once per distinct key while that key
// stays in the bounded dedup cache; a key evicted after dedupCacheSize
// newer keys can warn again. Used for per-word truncation
// diagnostics, where a pathological corpus can repeat the same over-long
// token millions of times.
func (w *Writer) WarnOnce(level int, key string, format string, args ...interface{}) {
	if w == nil || w.verbose < 0 || level > w.verbose {
		return
	}
	if w.seen != nil {
		if _, ok := w.seen.Get(key); ok {
			return
		}
		w.seen.Add(key, struct{}{})
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.print("warning", format, args...)
}

func (w *Writer) print(tag, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if w.isTTY {
		fmt.Fprintf(w.out, "[%s] %s\n", tag, msg)
		return
	}
	fmt.Fprintf(w.out, "%s: %s\n", tag, msg)
}
