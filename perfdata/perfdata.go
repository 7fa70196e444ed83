// Package perfdata stores historical test durations, one JSON file per
// architecture and build mode.
package perfdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/perfgo/testrunner/testsuite"
	"github.com/rs/zerolog"
)

// DirName is the directory created below the output directory.
const DirName = "testrunner_data"

// learnRateLimiter bounds the weight of the stored average. Greater values
// mean slower learning; the average approximates the last 100 results.
const learnRateLimiter = 99

// ErrClosed is returned when using a closed store.
var ErrClosed = errors.New("perf data store is closed")

// Entry is the stored duration of one test.
type Entry struct {
	Suite   string `json:"suite"`
	Test    string `json:"test"`
	Variant string `json:"variant,omitempty"`
	// Avg is the average duration in seconds
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// Duration returns the average as a time.Duration.
func (e *Entry) Duration() time.Duration {
	return time.Duration(e.Avg * float64(time.Second))
}

func (e *Entry) addResult(d time.Duration) {
	effective := min(e.Count, learnRateLimiter)
	e.Avg = (e.Avg*float64(effective) + d.Seconds()) / float64(effective+1)
	e.Count = effective + 1
}

// Store holds the durations of one architecture and mode. It is not safe
// for concurrent use.
type Store struct {
	dir    string
	path   string
	logger zerolog.Logger

	entries map[string]*Entry
	// loadErr is returned by every operation when the data on disk was
	// unreadable.
	loadErr error
	dirty   bool
	closed  bool
}

// Open loads the store for arch and mode below outDir. Unreadable data is
// not an error here: it is reported by the first Fetch or Update so the
// caller can treat it like any other store failure.
func Open(outDir, arch, mode string, logger zerolog.Logger) (*Store, error) {
	dir := filepath.Join(outDir, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create perf data directory: %w", err)
	}

	s := &Store{
		dir:     dir,
		path:    filepath.Join(dir, fmt.Sprintf("%s.%s.json", arch, mode)),
		logger:  logger,
		entries: make(map[string]*Entry),
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		s.loadErr = fmt.Errorf("failed to read perf data: %w", err)
	default:
		if err := json.Unmarshal(data, &s.entries); err != nil {
			s.loadErr = fmt.Errorf("corrupt perf data %s: %w", s.path, err)
		}
	}

	s.logger.Debug().
		Str("path", s.path).
		Int("entries", len(s.entries)).
		Msg("Opened perf data store")

	return s, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) check() error {
	if s.closed {
		return ErrClosed
	}
	return s.loadErr
}

// Fetch returns the stored average duration of tc.
func (s *Store) Fetch(tc *testsuite.TestCase) (time.Duration, bool, error) {
	if err := s.check(); err != nil {
		return 0, false, err
	}
	e, ok := s.entries[tc.Key()]
	if !ok {
		return 0, false, nil
	}
	return e.Duration(), true, nil
}

// Update adds the duration of the last attempt of tc to its average.
func (s *Store) Update(tc *testsuite.TestCase) error {
	if err := s.check(); err != nil {
		return err
	}
	key := tc.Key()
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{Test: tc.Name, Variant: tc.Variant}
		if tc.Suite != nil {
			e.Suite = tc.Suite.Name
		}
		s.entries[key] = e
	}
	e.addResult(tc.Duration)
	s.dirty = true
	return nil
}

// Entries returns the stored entries ordered by suite, test and variant.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Suite != out[j].Suite {
			return out[i].Suite < out[j].Suite
		}
		if out[i].Test != out[j].Test {
			return out[i].Test < out[j].Test
		}
		return out[i].Variant < out[j].Variant
	})
	return out
}

// Close writes pending updates. The file is replaced atomically so an
// interrupted run never leaves partial data behind.
func (s *Store) Close() error {
	if err := s.check(); err != nil {
		s.closed = true
		return err
	}
	s.closed = true
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode perf data: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".perfdata-*")
	if err != nil {
		return fmt.Errorf("failed to create perf data file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write perf data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write perf data: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace perf data: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Int("entries", len(s.entries)).Msg("Wrote perf data")
	return nil
}

// Clear deletes the whole data directory, including the stores of other
// architectures and modes.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to delete perf data: %w", err)
	}
	s.entries = make(map[string]*Entry)
	s.dirty = false
	return nil
}
