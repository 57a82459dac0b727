// Package storage owns the persisted output layout. Every completed run is
// numbered with a zero-padded sequence and writes
// img_NNN_orig.<ext>, img_NNN_thatch.<ext> and img_NNN_composite.<ext>
// into a single directory.
package storage

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/menta2k/thatcherizer/internal/utils"
)

// ErrPersistence wraps every failure to write an artifact.
var ErrPersistence = errors.New("persistence failed")

// Artifact suffixes
const (
	KindOriginal  = "orig"
	KindIllusion  = "thatch"
	KindComposite = "composite"
	KindRegions   = "regions"
)

var sequencePattern = regexp.MustCompile(`^img_(\d+)`)

// Encoder writes an image to a path in a format
type Encoder interface {
	SaveImage(img image.Image, path, format string) error
}

// Store writes run artifacts into a directory
type Store struct {
	dir     string
	format  string
	encoder Encoder
}

// New creates a Store rooted at dir writing artifacts in format.
func New(dir, format string, encoder Encoder) *Store {
	return &Store{dir: dir, format: format, encoder: encoder}
}

// Dir returns the output directory
func (s *Store) Dir() string {
	return s.dir
}

// Run identifies one numbered capture-to-composite cycle
type Run struct {
	Seq int
}

// Stem returns the file name stem shared by the run's artifacts.
func (r Run) Stem() string {
	return fmt.Sprintf("img_%03d", r.Seq)
}

// LastSequence scans the output directory for the highest sequence number
// among img_* files. A missing directory counts as no prior runs.
func (s *Store) LastSequence() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: failed to scan output directory: %v", ErrPersistence, err)
	}

	last := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := ParseSequence(e.Name()); ok && n > last {
			last = n
		}
	}
	return last, nil
}

// ParseSequence extracts the sequence number from an artifact file name.
func ParseSequence(name string) (int, bool) {
	m := sequencePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextRun returns the run following the highest persisted sequence.
func (s *Store) NextRun() (Run, error) {
	last, err := s.LastSequence()
	if err != nil {
		return Run{}, err
	}
	return Run{Seq: last + 1}, nil
}

// Path returns the artifact path for a run and kind.
func (s *Store) Path(run Run, kind string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.%s", run.Stem(), kind, s.format))
}

// Save persists one artifact of a run and returns its path.
func (s *Store) Save(run Run, kind string, img image.Image) (string, error) {
	if err := utils.EnsureDir(s.dir); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	path := s.Path(run, kind)
	if err := s.encoder.SaveImage(img, path, s.format); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPersistence, filepath.Base(path), err)
	}
	return path, nil
}

// SavePair persists the unmodified and illusion images of a run. If the
// second write fails the first artifact is removed so no partial run is
// left behind.
func (s *Store) SavePair(run Run, original, illusion image.Image) error {
	origPath, err := s.Save(run, KindOriginal, original)
	if err != nil {
		return err
	}
	if _, err := s.Save(run, KindIllusion, illusion); err != nil {
		if rerr := os.Remove(origPath); rerr != nil {
			return errors.Join(err, fmt.Errorf("%w: partial artifact left behind: %v", ErrPersistence, rerr))
		}
		return err
	}
	return nil
}
