// Package checkpoint persists each stage's output table as a CSV artifact
// under the run's backup directory. A stage whose artifact exists is skipped
// entirely on restart; artifacts are written atomically so a crashed writer
// never leaves a partial file visible.
//
// Staleness is deliberately undetected: if an upstream input changes, the
// operator deletes the affected artifacts to force recomputation (see the
// checkpoints command).
package checkpoint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CorruptError indicates a persisted artifact that cannot be loaded into the
// expected row shape. It is fatal for the run; the artifact is never
// silently discarded and recomputed.
type CorruptError struct {
	Stage string
	Path  string
	Err   error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("checkpoint: corrupt artifact for stage %q at %s: %v", e.Stage, e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Store locates and manages per-stage artifacts under a root directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "checkpoint: create dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the artifact path for a stage.
func (s *Store) Path(stage string) string {
	return filepath.Join(s.dir, stage+".csv")
}

// Exists reports whether a stage has a persisted artifact.
func (s *Store) Exists(stage string) bool {
	info, err := os.Stat(s.Path(stage))
	return err == nil && !info.IsDir()
}

// Remove deletes a stage's artifact. Removing an absent artifact is not an
// error.
func (s *Store) Remove(stage string) error {
	if err := os.Remove(s.Path(stage)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "checkpoint: remove %s", stage)
	}
	return nil
}

// List returns the stage names that currently have artifacts.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read dir %s", s.dir)
	}
	var stages []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".csv" {
			continue
		}
		stages = append(stages, name[:len(name)-len(".csv")])
	}
	return stages, nil
}

// Save serializes rows to the stage's artifact. The write goes to a temp
// file in the same directory followed by a rename, so Exists never observes
// a partially written artifact.
func Save[T any](s *Store, stage string, rows []T) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: marshal stage %s", stage)
	}

	path := s.Path(stage)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "checkpoint: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "checkpoint: rename %s", tmp)
	}

	zap.L().Info("checkpoint saved",
		zap.String("stage", stage),
		zap.Int("rows", len(rows)),
		zap.String("path", path),
	)
	return nil
}

// Load deserializes the stage's artifact into rows of type T. A file that
// cannot be parsed, or whose header is missing a column required by T,
// yields a *CorruptError.
func Load[T any](s *Store, stage string) ([]T, error) {
	path := s.Path(stage)
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	dec, err := csvutil.NewDecoder(csv.NewReader(f))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &CorruptError{Stage: stage, Path: path, Err: eris.New("empty artifact")}
		}
		return nil, &CorruptError{Stage: stage, Path: path, Err: err}
	}
	dec.DisallowMissingColumns = true

	var rows []T
	for {
		var row T
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, &CorruptError{Stage: stage, Path: path, Err: err}
		}
		rows = append(rows, row)
	}

	zap.L().Info("checkpoint loaded",
		zap.String("stage", stage),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}
