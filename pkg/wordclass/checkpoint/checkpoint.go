// Package checkpoint persists a completed clustering run to a SQLite
// file: the vocabulary, word counts, and final class assignment, tagged
// with a ULID run id. It is a purely additive artifact the core exchange
// driver never reads back mid-run.
package checkpoint

import (
	"context"
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	_ "modernc.org/sqlite"

	"github.com/cognicore/wordclass/pkg/wordclass/vocab"
)

// Store wraps a SQLite database opened in WAL mode.
type Store struct {
	db      *sql.DB
	entropy *ulid.MonotonicEntropy
}

// Open opens (creating if absent) the checkpoint database at path and
// ensures its schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func initSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	num_classes INTEGER NOT NULL,
	class_offset INTEGER NOT NULL,
	tune_cycles INTEGER NOT NULL,
	cycles_run INTEGER NOT NULL,
	moves_accepted INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_words (
	run_id TEXT NOT NULL,
	word_id INTEGER NOT NULL,
	word TEXT NOT NULL,
	count INTEGER NOT NULL,
	class_id INTEGER NOT NULL,
	PRIMARY KEY(run_id, word_id),
	FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Run is the set of fields Save records for one completed clustering run.
type Run struct {
	NumClasses    int
	ClassOffset   int
	TuneCycles    int
	CyclesRun     int
	MovesAccepted int
}

// Save records a completed run: one runs row tagged with a fresh ULID, and
// one run_words row per vocabulary word recording its final class. It
// returns the generated run id.
func (s *Store) Save(ctx context.Context, run Run, v *vocab.Vocabulary, classOf func(word int) int) (string, error) {
	id := ulid.MustNew(ulid.Now(), s.entropy).String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO runs (run_id, created_at, num_classes, class_offset, tune_cycles, cycles_run, moves_accepted)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339),
		run.NumClasses, run.ClassOffset, run.TuneCycles, run.CyclesRun, run.MovesAccepted)
	if err != nil {
		return "", err
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO run_words (run_id, word_id, word, count, class_id) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for id2 := 0; id2 < v.Size(); id2++ {
		if _, err := stmt.ExecContext(ctx, id, id2, v.Word(id2), v.Count(id2), classOf(id2)); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// WordClass is one row of a previously saved run's final assignment.
type WordClass struct {
	Word    string
	Count   int64
	ClassID int
}

// Load returns every word and its final class for a previously saved run
// id, ordered by descending count, the same order the Classes table uses.
func (s *Store) Load(ctx context.Context, runID string) ([]WordClass, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT word, count, class_id FROM run_words WHERE run_id = ? ORDER BY count DESC, word ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WordClass
	for rows.Next() {
		var wc WordClass
		if err := rows.Scan(&wc.Word, &wc.Count, &wc.ClassID); err != nil {
			return nil, err
		}
		out = append(out, wc)
	}
	return out, rows.Err()
}
