package store

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"devserve/internal/domain"
)

const filePrefix = "devserve-"

// FileStore keeps the instance record for one project root in a state
// directory. The file name is derived from the root so distinct roots never
// share a record.
type FileStore struct {
	path string
}

// NewFileStore creates a store for root inside stateDir.
func NewFileStore(stateDir, root string) *FileStore {
	return &FileStore{path: RecordPath(stateDir, root)}
}

// RecordPath returns <stateDir>/devserve-<first 10 hex of sha1(root)>.json.
func RecordPath(stateDir, root string) string {
	sum := sha1.Sum([]byte(root))
	return filepath.Join(stateDir, filePrefix+hex.EncodeToString(sum[:])[:10]+".json")
}

// Path returns the state file path.
func (s *FileStore) Path() string {
	return s.path
}

// Read loads the record. Any problem with the file is reported as
// domain.ErrNoRecord.
func (s *FileStore) Read() (domain.InstanceRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.InstanceRecord{}, domain.ErrNoRecord
	}
	var rec domain.InstanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.InstanceRecord{}, domain.ErrNoRecord
	}
	if !rec.Valid() {
		return domain.InstanceRecord{}, domain.ErrNoRecord
	}
	return rec, nil
}

// Write replaces the record. The document is written to a temp file in the
// same directory and renamed over the old one so readers never see a
// partial record.
func (s *FileStore) Write(rec domain.InstanceRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".devserve-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write record: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// Remove deletes the record file if present.
func (s *FileStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// RemoveIfOwned deletes the record only when it was written by pid. A newer
// instance may have replaced the file since this process wrote it.
func (s *FileStore) RemoveIfOwned(pid int) (bool, error) {
	rec, err := s.Read()
	if err != nil || rec.PID != pid {
		return false, nil
	}
	if err := s.Remove(); err != nil {
		return false, err
	}
	return true, nil
}
