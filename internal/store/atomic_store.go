// Package store provides AtomicStore, the atomic-write, schema-validated
// JSON persistence primitive every stateful repository in this repo is
// built on (spec.md §3 component A, §5 "Repository locking").
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Validator checks a decoded JSON document for schema validity before it is
// accepted as the in-memory image of a store. A nil Validator means "accept
// anything that parses".
type Validator func(data []byte) error

// AtomicStore persists one JSON document at path using a temp-file-then-
// rename write (atomic on the filesystem, per spec.md §5 "every write
// produces a temp file and renames it over the target"). Concurrent Load
// calls are collapsed with a single-flight group so they share one
// in-flight read; nothing is cached, so a later Load reads the file again
// (spec.md §3, §5).
type AtomicStore struct {
	path      string
	validate  Validator
	logger    *logrus.Logger
	mu        sync.RWMutex
	group     singleflight.Group
	loaded    bool
}

// New creates an AtomicStore backed by the JSON file at path. logger may be
// nil, in which case logrus.StandardLogger() is used.
func New(path string, validate Validator, logger *logrus.Logger) *AtomicStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AtomicStore{path: path, validate: validate, logger: logger}
}

// Path returns the backing file path.
func (s *AtomicStore) Path() string { return s.path }

// Load decodes the store's JSON file into out (a pointer). If the file is
// missing, out is left at its zero value and no error is returned — callers
// treat a missing store as "empty state". If the file exists but fails to
// parse or fails schema validation, the error is logged as a warning and the
// store falls back to empty state rather than propagating the error (spec.md
// §6 "parse failures fall back to empty state with a warning — they do not
// crash the process").
//
// Concurrent first-load callers for the same AtomicStore share one
// in-flight read via singleflight.
func (s *AtomicStore) Load(out any) error {
	raw, err, _ := s.group.Do(s.path, func() (any, error) {
		data, readErr := os.ReadFile(s.path)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				return []byte(nil), nil
			}
			return nil, readErr
		}
		if s.validate != nil {
			if verr := s.validate(data); verr != nil {
				s.logger.WithError(verr).WithField("path", s.path).Warn("store: schema validation failed, falling back to empty state")
				return []byte(nil), nil
			}
		}
		return data, nil
	})
	if err != nil {
		return fmt.Errorf("store: read %s: %w", s.path, err)
	}

	data := raw.([]byte)
	if data == nil {
		s.mu.Lock()
		s.loaded = true
		s.mu.Unlock()
		return nil
	}

	if jerr := json.Unmarshal(data, out); jerr != nil {
		s.logger.WithError(jerr).WithField("path", s.path).Warn("store: parse failed, falling back to empty state")
		return nil
	}

	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Save atomically writes v as indented JSON to the store's path: it writes
// to a temp file in the same directory and renames it over the target, so
// readers never observe a partially-written file (spec.md §5).
func (s *AtomicStore) Save(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir for %s: %w", s.path, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal for %s: %w", s.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp for %s: %w", s.path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp for %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp for %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp for %s: %w", s.path, err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: rename temp over %s: %w", s.path, err)
	}

	s.loaded = true
	return nil
}
