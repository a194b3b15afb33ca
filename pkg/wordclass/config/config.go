// Package config loads the run configuration: command-line flags are the
// primary source (see cmd/wordclass), with an optional YAML file supplying
// the same fields so a run can be checked into source control and
// replayed. A field present in the file overrides the default; a field
// absent from it keeps the default.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/wordclass/pkg/wordclass/wcerr"
)

// VectorFormat selects the --print-word-vectors output format.
type VectorFormat string

const (
	VectorsNone   VectorFormat = "none"
	VectorsText   VectorFormat = "text"
	VectorsBinary VectorFormat = "binary"
)

// ClassAlgo selects the clustering algorithm. Only Exchange is implemented;
// the other two values are recognized and rejected with a clear error.
type ClassAlgo string

const (
	AlgoExchange          ClassAlgo = "exchange"
	AlgoBrown             ClassAlgo = "brown"
	AlgoExchangeThenBrown ClassAlgo = "exchange-then-brown"
)

// Config holds every tunable for one clustering run, plus additive fields
// (CheckpointDB, MaxBytes) for persistence and memory budgeting.
type Config struct {
	NumClasses     int  `yaml:"num_classes"`
	ClassOffset    int  `yaml:"class_offset"`
	MinCount       int  `yaml:"min_count"`
	MaxArray       int  `yaml:"max_array"`
	NumThreads     int  `yaml:"num_threads"`
	MaxTuneSents   int  `yaml:"max_tune_sents"`
	TuneCycles     int  `yaml:"tune_cycles"`
	RevAlternate   int  `yaml:"rev_alternate"`
	Unidirectional bool `yaml:"unidirectional"`
	PrintFreqs     bool `yaml:"print_freqs"`

	PrintWordVectors VectorFormat `yaml:"print_word_vectors"`
	ClassFile        string       `yaml:"class_file"`
	ClassAlgo        ClassAlgo    `yaml:"class_algo"`
	Verbose          int          `yaml:"verbose"`

	// CheckpointDB: when non-empty, the completed run is persisted to this
	// SQLite file.
	CheckpointDB string `yaml:"checkpoint_db"`

	// MaxBytes bounds any single allocation (count arrays, the V×K matrix);
	// 0 means unbounded.
	MaxBytes int64 `yaml:"max_bytes"`
}

// Default returns the configuration used absent any flags. NumClasses is
// left at 0, a "not set" sentinel: the CLI resolves it to
// DefaultNumClasses(vocabSize) once the vocabulary is built, rather than
// baking in a fixed class count that would reject any small vocabulary
// outright.
func Default() Config {
	return Config{
		NumClasses:       0,
		ClassOffset:      0,
		MinCount:         1,
		MaxArray:         2,
		NumThreads:       0, // 0 means runtime.GOMAXPROCS(0)
		MaxTuneSents:     10_000_000,
		TuneCycles:       15,
		RevAlternate:     0,
		Unidirectional:   false,
		PrintFreqs:       false,
		PrintWordVectors: VectorsNone,
		ClassFile:        "",
		ClassAlgo:        AlgoExchange,
		Verbose:          0,
		CheckpointDB:     "",
		MaxBytes:         0,
	}
}

// LoadFile reads a YAML config file and merges it on top of base: every
// field present in the file overrides base's value, fields absent from the
// file keep base's value (gopkg.in/yaml.v3 leaves a struct field alone
// when its key is missing from the document).
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// DefaultNumClasses derives the default class count from the built
// vocabulary size: floor(1.2 * sqrt(vocabSize)). The CLI calls this to
// resolve Config.NumClasses when the user left it at its unset sentinel
// (0), i.e. never passed --num-classes.
func DefaultNumClasses(vocabSize int) int {
	return int(1.2 * math.Sqrt(float64(vocabSize)))
}

// Validate catches configuration errors before any heavy allocation.
// vocabSize is the already-built vocabulary size, or -1 when not yet known.
// NumClasses==0 is the unset sentinel: with vocabSize unknown it is left
// unresolved (not an error), and run is expected to resolve it via
// DefaultNumClasses before the vocabSize>=0 call that follows vocab.Build.
func (c Config) Validate(vocabSize int) error {
	if c.MaxArray < 1 || c.MaxArray > 3 {
		return fmt.Errorf("%w: max_array=%d", wcerr.ErrMaxArrayRange, c.MaxArray)
	}
	if c.NumClasses < 0 {
		return fmt.Errorf("%w: num_classes=%d", wcerr.ErrUsage, c.NumClasses)
	}
	if vocabSize >= 0 {
		if c.NumClasses == 0 {
			return fmt.Errorf("%w: num_classes unresolved", wcerr.ErrUsage)
		}
		if c.NumClasses >= vocabSize {
			return fmt.Errorf("%w: num_classes=%d vocabulary=%d", wcerr.ErrNumClassesTooLarge, c.NumClasses, vocabSize)
		}
	}
	switch c.PrintWordVectors {
	case VectorsNone, VectorsText, VectorsBinary:
	default:
		return fmt.Errorf("%w: print_word_vectors=%q", wcerr.ErrUsage, c.PrintWordVectors)
	}
	switch c.ClassAlgo {
	case AlgoExchange:
	case AlgoBrown, AlgoExchangeThenBrown:
		return fmt.Errorf("%w: class_algo=%q is not implemented in this build", wcerr.ErrUsage, c.ClassAlgo)
	default:
		return fmt.Errorf("%w: class_algo=%q", wcerr.ErrUsage, c.ClassAlgo)
	}
	return nil
}
