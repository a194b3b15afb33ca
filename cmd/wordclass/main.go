// Command wordclass induces a hard word-class partition from a raw
// tokenized corpus via predictive exchange.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/cognicore/wordclass/pkg/wordclass/bigram"
	"github.com/cognicore/wordclass/pkg/wordclass/checkpoint"
	"github.com/cognicore/wordclass/pkg/wordclass/class"
	"github.com/cognicore/wordclass/pkg/wordclass/config"
	"github.com/cognicore/wordclass/pkg/wordclass/cooc"
	"github.com/cognicore/wordclass/pkg/wordclass/diag"
	"github.com/cognicore/wordclass/pkg/wordclass/exchange"
	"github.com/cognicore/wordclass/pkg/wordclass/ngram"
	"github.com/cognicore/wordclass/pkg/wordclass/occindex"
	"github.com/cognicore/wordclass/pkg/wordclass/output"
	"github.com/cognicore/wordclass/pkg/wordclass/score"
	"github.com/cognicore/wordclass/pkg/wordclass/vocab"
	"github.com/cognicore/wordclass/pkg/wordclass/wcerr"
)

func main() {
	var (
		input            = flag.String("input", "", "Path to tokenized corpus, one sentence per line (required)")
		classesOut       = flag.String("classes-out", "", "Path to write the Classes output (required)")
		configFile       = flag.String("config", "", "Optional YAML config file; flags override its values")
		numClasses       = flag.Int("num-classes", -1, "Number of classes K (default floor(1.2*sqrt(vocab size)))")
		classOffset      = flag.Int("class-offset", -1, "Offset added to each emitted class id")
		minCount         = flag.Int("min-count", -1, "Vocabulary filter threshold")
		maxArray         = flag.Int("max-array", -1, "Highest class-n-gram order stored densely (1..3)")
		numThreads       = flag.Int("num-threads", -1, "Worker pool size (0 = runtime default)")
		maxTuneSents     = flag.Int("max-tune-sents", -1, "Sentence-store capacity")
		tuneCycles       = flag.Int("tune-cycles", -1, "Hard cycle bound")
		revAlternate     = flag.Int("rev-alternate", -1, "Direction-alternation frequency (0 = never)")
		unidirectional   = flag.Bool("unidirectional", false, "Suppress reverse structures entirely")
		printFreqs       = flag.Bool("print-freqs", false, "Append counts to the Classes output")
		printWordVectors = flag.String("print-word-vectors", "", "Vector output format: none, text, binary")
		vectorsOut       = flag.String("vectors-out", "", "Path to write word vectors (required with --print-word-vectors)")
		classFile        = flag.String("class-file", "", "Import an initial assignment, overriding defaults for listed words only")
		classAlgo        = flag.String("class-algo", "", "Clustering algorithm: exchange, brown, exchange-then-brown")
		verbose          = flag.Int("verbose", 0, "Diagnostic volume; negative values silence warnings")
		checkpointDB     = flag.String("checkpoint-db", "", "Optional SQLite file to persist this run's final assignment")
	)
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile, cfg)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	applyFlagOverrides(&cfg, flagsSet(), numClasses, classOffset, minCount, maxArray, numThreads,
		maxTuneSents, tuneCycles, revAlternate, unidirectional, printFreqs, printWordVectors,
		classFile, classAlgo, verbose, checkpointDB)

	if *input == "" {
		log.Fatal("--input required")
	}
	if *classesOut == "" {
		log.Fatal("--classes-out required")
	}

	if err := run(cfg, *input, *classesOut, *vectorsOut); err != nil {
		code := wcerr.ExitCode(err)
		fmt.Fprintf(os.Stderr, "wordclass: %v\n", err)
		os.Exit(int(code))
	}
}

// flagsSet returns the set of flag names the user actually passed, so a
// config file's values are only overridden by flags the invocation named.
func flagsSet() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func applyFlagOverrides(cfg *config.Config, set map[string]bool,
	numClasses, classOffset, minCount, maxArray, numThreads, maxTuneSents, tuneCycles, revAlternate *int,
	unidirectional, printFreqs *bool, printWordVectors, classFile, classAlgo *string, verbose *int, checkpointDB *string) {

	if set["num-classes"] {
		cfg.NumClasses = *numClasses
	}
	if set["class-offset"] {
		cfg.ClassOffset = *classOffset
	}
	if set["min-count"] {
		cfg.MinCount = *minCount
	}
	if set["max-array"] {
		cfg.MaxArray = *maxArray
	}
	if set["num-threads"] {
		cfg.NumThreads = *numThreads
	}
	if set["max-tune-sents"] {
		cfg.MaxTuneSents = *maxTuneSents
	}
	if set["tune-cycles"] {
		cfg.TuneCycles = *tuneCycles
	}
	if set["rev-alternate"] {
		cfg.RevAlternate = *revAlternate
	}
	if set["unidirectional"] {
		cfg.Unidirectional = *unidirectional
	}
	if set["print-freqs"] {
		cfg.PrintFreqs = *printFreqs
	}
	if set["print-word-vectors"] {
		cfg.PrintWordVectors = config.VectorFormat(*printWordVectors)
	}
	if set["class-file"] {
		cfg.ClassFile = *classFile
	}
	if set["class-algo"] {
		cfg.ClassAlgo = config.ClassAlgo(*classAlgo)
	}
	if set["verbose"] {
		cfg.Verbose = *verbose
	}
	if set["checkpoint-db"] {
		cfg.CheckpointDB = *checkpointDB
	}
}

func run(cfg config.Config, inputPath, classesOutPath, vectorsOutPath string) error {
	if err := cfg.Validate(-1); err != nil {
		return err
	}

	writer := diag.New(os.Stderr, cfg.Verbose)

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("%w: %v", wcerr.ErrUsage, err)
	}
	defer f.Close()

	limits := vocab.DefaultLimits()
	if cfg.MaxTuneSents > 0 {
		limits.MaxSentences = cfg.MaxTuneSents
	}
	if cfg.MinCount > 0 {
		limits.MinCount = cfg.MinCount
	}

	v, c, err := vocab.Build(f, limits, writer)
	if err != nil {
		if errors.Is(err, wcerr.ErrVocabInconsistent) {
			return err
		}
		return fmt.Errorf("%w: %v", wcerr.ErrSentBufAlloc, err)
	}

	if cfg.NumClasses == 0 {
		cfg.NumClasses = config.DefaultNumClasses(v.Size())
	}
	if err := cfg.Validate(v.Size()); err != nil {
		return err
	}

	k := cfg.NumClasses
	assignment := class.RoundRobin(v.Size(), k)
	var pinned []int
	if cfg.ClassFile != "" {
		pinned, err = applyClassFile(cfg.ClassFile, assignment, v)
		if err != nil {
			return fmt.Errorf("%w: %v", wcerr.ErrUsage, err)
		}
	}

	numWorkers := cfg.NumThreads

	var fwdBigram, revBigram *bigram.Lists
	unidirectional := cfg.Unidirectional
	if unidirectional {
		fwdBigram = bigram.BuildForward(c, v.Size(), numWorkers)
	} else {
		fwdBigram, revBigram = bigram.BuildBoth(c, v.Size(), numWorkers)
	}

	arrays, err := ngram.BuildFromCorpus(c.NumSentences(), c.Sentence, assignment.Of, cfg.MaxArray, k, cfg.MaxBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", wcerr.ErrCountArrayAlloc, err)
	}

	if need, ok := withinBudget(v.Size(), k, cfg.MaxBytes); !ok {
		return fmt.Errorf("%w: word x class matrix needs %s", wcerr.ErrCoocAlloc, humanize.Bytes(uint64(need)))
	}
	fwdCooc := cooc.Build(c.Sentence, c.NumSentences(), v.Size(), k, assignment.Of, numWorkers, true)

	var revCooc *cooc.Matrix
	revAlternate := cfg.RevAlternate
	if !unidirectional {
		if need, ok := withinBudget(v.Size(), k, cfg.MaxBytes); !ok {
			writer.Warnf(0, "reverse matrix needs %s, disabling rev_alternate", humanize.Bytes(uint64(need)))
			revAlternate = 0
			revBigram = nil
		} else {
			revCooc = cooc.Build(c.Sentence, c.NumSentences(), v.Size(), k, assignment.Of, numWorkers, false)
		}
	}

	occ := occindex.Build(c, v.Size(), numWorkers)
	kernel := &score.Kernel{
		Corpus:         c,
		Vocab:          v,
		Occ:            occ,
		Arrays:         arrays,
		FwdPreds:       fwdBigram,
		RevPreds:       revBigram,
		FwdCooc:        fwdCooc,
		RevCooc:        revCooc,
		ClassOf:        assignment.Of,
		Unidirectional: unidirectional,
		K:              k,
		Verbose:        cfg.Verbose,
	}

	driver := &exchange.Driver{
		Kernel:       kernel,
		Assignment:   assignment,
		FwdCooc:      fwdCooc,
		FwdBigram:    fwdBigram,
		RevCooc:      revCooc,
		RevBigram:    revBigram,
		NumThreads:   numWorkers,
		MaxCycles:    cfg.TuneCycles,
		RevAlternate: revAlternate,
		Writer:       writer,
	}

	pinnedSet := make(map[int]bool, len(pinned))
	for _, id := range pinned {
		pinnedSet[id] = true
	}
	words := make([]int, 0, v.Size()-3)
	for id := vocab.EOSID + 1; id < v.Size(); id++ {
		if pinnedSet[id] {
			continue // class_file assignments are authoritative, not seeds
		}
		words = append(words, id)
	}

	result, err := driver.Run(words)
	if err != nil {
		return err
	}
	writer.Warnf(0, "finished after %d cycles, %d moves accepted", result.CyclesRun, result.MovesAccepted)

	outFile, err := os.Create(classesOutPath)
	if err != nil {
		return fmt.Errorf("%w: %v", wcerr.ErrUsage, err)
	}
	defer outFile.Close()
	if err := output.WriteClasses(outFile, v, assignment.Of, cfg.ClassOffset, cfg.PrintFreqs); err != nil {
		return fmt.Errorf("%w: %v", wcerr.ErrUsage, err)
	}

	if cfg.PrintWordVectors != config.VectorsNone {
		if vectorsOutPath == "" {
			return fmt.Errorf("%w: --vectors-out required with --print-word-vectors", wcerr.ErrUsage)
		}
		vf, err := os.Create(vectorsOutPath)
		if err != nil {
			return fmt.Errorf("%w: %v", wcerr.ErrUsage, err)
		}
		defer vf.Close()
		vectors := output.VectorsFromClasses(v, assignment.Of, k)
		switch cfg.PrintWordVectors {
		case config.VectorsText:
			err = output.WriteVectorsText(vf, vectors)
		case config.VectorsBinary:
			err = output.WriteVectorsBinary(vf, vectors, k)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", wcerr.ErrUsage, err)
		}
	}

	if cfg.CheckpointDB != "" {
		ctx := context.Background()
		store, err := checkpoint.Open(ctx, cfg.CheckpointDB)
		if err != nil {
			return fmt.Errorf("%w: %v", wcerr.ErrUsage, err)
		}
		defer store.Close()
		runID, err := store.Save(ctx, checkpoint.Run{
			NumClasses:    k,
			ClassOffset:   cfg.ClassOffset,
			TuneCycles:    cfg.TuneCycles,
			CyclesRun:     result.CyclesRun,
			MovesAccepted: result.MovesAccepted,
		}, v, assignment.Of)
		if err != nil {
			return fmt.Errorf("%w: %v", wcerr.ErrUsage, err)
		}
		writer.Warnf(0, "checkpoint saved as run %s", runID)
	}

	return nil
}

// withinBudget reports whether a dense V x K uint32 matrix fits within
// maxBytes (0 meaning unbounded), and the size it would need either way:
// a cheap arithmetic check so the caller can decide fatal-vs-degrade
// without allocating the matrix just to find out (cooc.Allocate performs
// the same check but also allocates, which main only wants to do once,
// via cooc.Build itself).
func withinBudget(v, k int, maxBytes int64) (need int64, ok bool) {
	need = int64(v) * int64(k) * 4
	if maxBytes <= 0 {
		return need, true
	}
	return need, need <= maxBytes
}

func applyClassFile(path string, a *class.Assignment, v *vocab.Vocabulary) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	override, err := class.LoadOverride(f)
	if err != nil {
		return nil, err
	}
	return a.Apply(override, v.ID), nil
}
