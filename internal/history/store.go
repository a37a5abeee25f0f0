// Package history persists the URL-keyed posting history that is the
// system's only memory across pipeline runs.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/hunter"
)

// Store maps exact URL strings to job records. Identity is the raw URL: no
// canonicalization is applied, so URLs differing by a trailing slash or
// tracking parameters are distinct entries. Records are never deleted by the
// store; reconciliation only flips their status.
type Store struct {
	mu      sync.RWMutex
	path    string
	records map[string]hunter.JobRecord
	clock   hunter.Clock
	logger  *zap.Logger
}

// Open loads the history file at path. A missing file starts empty; a
// corrupt or unreadable file also starts empty, but that is a lossy recovery
// and is surfaced as a warning rather than swallowed.
func Open(path string, clock hunter.Clock, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:    path,
		records: make(map[string]hunter.JobRecord),
		clock:   clock,
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s
	case err != nil:
		logger.Warn("history file unreadable, starting with empty history",
			zap.String("path", path), zap.Error(err))
		return s
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		logger.Warn("history file corrupt, starting with empty history",
			zap.String("path", path), zap.Error(err))
		s.records = make(map[string]hunter.JobRecord)
	}
	return s
}

// IsNew reports whether the exact URL is absent from the store.
func (s *Store) IsNew(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[url]
	return !ok
}

// Add inserts the posting if its URL is absent, assigning active status and
// stamping last_checked. Returns whether an insertion occurred; a duplicate
// URL is a no-op. The record is flushed to disk before Add returns.
func (s *Store) Add(job hunter.Posting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[job.URL]; exists {
		return false, nil
	}
	s.records[job.URL] = hunter.JobRecord{
		Posting:     job,
		Status:      hunter.StatusActive,
		LastChecked: s.clock.Now().Format(hunter.DateFormat),
	}
	if err := s.flushLocked(); err != nil {
		return false, fmt.Errorf("flush history: %w", err)
	}
	return true, nil
}

// Active returns all records currently marked active, ordered by URL.
func (s *Store) Active() []hunter.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(r hunter.JobRecord) bool {
		return r.Status == hunter.StatusActive
	})
}

// All returns every record, ordered by URL.
func (s *Store) All() []hunter.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(func(hunter.JobRecord) bool { return true })
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// MarkExpired flips the record's status to expired and stamps last_checked.
// Idempotent; a missing URL is a no-op.
func (s *Store) MarkExpired(url string) error {
	return s.setStatus(url, hunter.StatusExpired)
}

// MarkActive flips the record's status to active and stamps last_checked.
// Idempotent; a missing URL is a no-op.
func (s *Store) MarkActive(url string) error {
	return s.setStatus(url, hunter.StatusActive)
}

func (s *Store) setStatus(url string, status hunter.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[url]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.LastChecked = s.clock.Now().Format(hunter.DateFormat)
	s.records[url] = rec
	if err := s.flushLocked(); err != nil {
		return fmt.Errorf("flush history: %w", err)
	}
	return nil
}

func (s *Store) collectLocked(keep func(hunter.JobRecord) bool) []hunter.JobRecord {
	urls := make([]string, 0, len(s.records))
	for url := range s.records {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	out := make([]hunter.JobRecord, 0, len(urls))
	for _, url := range urls {
		if rec := s.records[url]; keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// flushLocked writes the full map through a temp file rename so a crash
// mid-write never leaves a torn history visible to the next read.
func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.records, "", "    ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}
