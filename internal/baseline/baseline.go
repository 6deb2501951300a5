// Package baseline persists the reference analysis that compare runs are
// judged against.
package baseline

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phi-regress/internal/model"
)

const (
	// FileName is the snapshot file inside the baseline directory.
	FileName = "baseline.json"

	comparisonTimeFormat = "20060102T150405Z"
)

// ErrNotFound is returned by Load when no baseline has been saved.
var ErrNotFound = eris.New("baseline: not found")

// Store reads and writes snapshots under a directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the snapshot path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Save replaces the snapshot. Readers see either the old or the new file,
// never a partial write.
func (s *Store) Save(snap model.BaselineSnapshot) error {
	if err := writeJSON(s.dir, FileName, snap); err != nil {
		return eris.Wrap(err, "baseline: save")
	}
	return nil
}

// Load reads the snapshot, returning ErrNotFound if none exists.
func (s *Store) Load() (model.BaselineSnapshot, error) {
	var snap model.BaselineSnapshot
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, eris.Wrapf(err, "baseline: read %s", s.Path())
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, eris.Wrapf(err, "baseline: parse %s", s.Path())
	}
	return snap, nil
}

// SaveComparison writes a timestamped comparison artifact next to the
// baseline and returns its path.
func (s *Store) SaveComparison(art model.ComparisonArtifact) (string, error) {
	name := "comparison-" + art.Timestamp.UTC().Format(comparisonTimeFormat) + ".json"
	if err := writeJSON(s.dir, name, art); err != nil {
		return "", eris.Wrap(err, "baseline: save comparison")
	}
	return filepath.Join(s.dir, name), nil
}

func writeJSON(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return eris.Wrap(err, "rename temp file")
	}
	return nil
}
