// Package store keeps a small on-disk history of update attempts so they
// can be inspected after the reboot that usually follows one.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// MaxRecords bounds each history file; older records are dropped first.
const MaxRecords = 200

const updatesFile = "updates.json"

// Store manages persistence of update records.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates a Store rooted at the given directory (typically the
// state dir).
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) historyDir() string {
	return filepath.Join(s.root, "history")
}

// AddUpdate appends an update record.
func (s *Store) AddUpdate(r UpdateRecord) error {
	return s.appendRecord(updatesFile, r)
}

// Updates returns all update records, oldest first.
func (s *Store) Updates() ([]UpdateRecord, error) {
	var records []UpdateRecord
	err := s.loadRecords(updatesFile, &records)
	return records, err
}

func (s *Store) appendRecord(filename string, record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.historyDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(dir, filename)

	// A corrupt file is replaced rather than blocking new records.
	var records []json.RawMessage
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &records)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	records = append(records, raw)
	if len(records) > MaxRecords {
		records = records[len(records)-MaxRecords:]
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) loadRecords(filename string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.historyDir(), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, dest)
}
