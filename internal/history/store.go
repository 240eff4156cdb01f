// Package history persists sent alerts and answers cooldown questions.
//
// The file is a JSON array of records in append order. Each save replaces
// the whole file atomically; a file that cannot be parsed is renamed aside
// and the store starts empty.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ddbot/internal/storage/local"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Record is one delivered alert. Timestamp stays a string so entries written
// by other tools survive a load and save round trip unchanged.
type Record struct {
	ID          string   `json:"id,omitempty"`
	Service     string   `json:"service"`
	ReportCount int      `json:"report_count"`
	Timestamp   string   `json:"timestamp"`
	Recipients  []string `json:"recipients"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Time parses Timestamp. Values without a zone are taken as UTC.
func (r Record) Time() (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, r.Timestamp); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Store is a single-writer alert history backed by one JSON file.
type Store struct {
	path   string
	clock  Clock
	ids    IDGenerator
	logger *zap.Logger

	mu      sync.Mutex
	records []Record
}

// Open loads path, quarantining it first if it is corrupt.
func Open(path string, clock Clock, ids IDGenerator, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	s := &Store{path: path, clock: clock, ids: ids, logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	records, parseErr := decode(data)
	if parseErr == nil {
		s.records = records
		s.logger.Debug("loaded alert history", zap.Int("records", len(records)))
		return nil
	}

	dest, err := s.quarantine()
	if err != nil {
		return fmt.Errorf("quarantine corrupt history: %w", err)
	}
	s.logger.Warn("history file corrupt, starting fresh",
		zap.String("moved_to", dest),
		zap.Error(parseErr),
	)
	return nil
}

func decode(data []byte) ([]Record, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, errors.New("empty history file")
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	for i, r := range records {
		if r.Service == "" || r.Timestamp == "" {
			return nil, fmt.Errorf("record %d is missing service or timestamp", i)
		}
	}
	return records, nil
}

// quarantine renames the current file to .bak, or to a timestamped .bak
// when a previous quarantine is still around.
func (s *Store) quarantine() (string, error) {
	dest := s.path + ".bak"
	if _, err := os.Stat(dest); err == nil {
		dest = fmt.Sprintf("%s.%s.bak", s.path, s.now().Format("20060102T150405Z"))
	}
	if err := os.Rename(s.path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// LastAlert returns the newest parseable alert time for service, matched
// case-insensitively.
func (s *Store) LastAlert(service string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest time.Time
		found  bool
	)
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !strings.EqualFold(r.Service, service) {
			continue
		}
		t, ok := r.Time()
		if !ok {
			continue
		}
		if !found || t.After(latest) {
			latest, found = t, true
		}
	}
	return latest, found
}

// InCooldown reports whether service was alerted less than cooldown ago.
func (s *Store) InCooldown(service string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return false
	}
	last, ok := s.LastAlert(service)
	if !ok {
		return false
	}
	elapsed := s.now().Sub(last)
	if elapsed < cooldown {
		s.logger.Debug("service in cooldown",
			zap.String("service", service),
			zap.Duration("remaining", cooldown-elapsed),
		)
		return true
	}
	return false
}

// Record appends a delivered alert and saves. The record is kept in memory
// even when the save fails so this process still honors the cooldown.
func (s *Store) Record(service string, reportCount int, recipients []string) (Record, error) {
	rec := Record{
		Service:     service,
		ReportCount: reportCount,
		Timestamp:   s.now().Format(time.RFC3339Nano),
		Recipients:  append([]string(nil), recipients...),
	}
	if s.ids != nil {
		id, err := s.ids.NewID()
		if err != nil {
			return Record{}, fmt.Errorf("record id: %w", err)
		}
		rec.ID = id
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("persist alert history failed", zap.String("service", service), zap.Error(err))
		return rec, err
	}
	s.logger.Info("alert recorded",
		zap.String("service", service),
		zap.Int("reports", reportCount),
		zap.Int("recipients", len(recipients)),
	)
	return rec, nil
}

func (s *Store) saveLocked() error {
	records := s.records
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := local.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Recent returns records no older than within, in file order.
func (s *Store) Recent(within time.Duration) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []Record
	for _, r := range s.records {
		t, ok := r.Time()
		if !ok {
			continue
		}
		if now.Sub(t) <= within {
			out = append(out, r)
		}
	}
	return out
}

// All returns a copy of every record.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}
