package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// StatusStore persists ingestion status keyed by documentId+version.
type StatusStore interface {
	// Get returns the status for one document version.
	Get(ctx context.Context, documentID, version string) (*Status, error)

	// Put stores or replaces a status record.
	Put(ctx context.Context, status Status) error

	// Versions returns all recorded statuses for a document, newest first.
	Versions(ctx context.Context, documentID string) ([]Status, error)

	// Delete removes the record for one document version.
	Delete(ctx context.Context, documentID, version string) error
}

func statusKey(documentID, version string) string {
	return documentID + "@" + version
}

// MemoryStatusStore is an in-memory StatusStore for tests.
type MemoryStatusStore struct {
	mu      sync.RWMutex
	records map[string]Status
}

// NewMemoryStatusStore creates an empty in-memory status store.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{records: make(map[string]Status)}
}

func (s *MemoryStatusStore) Get(ctx context.Context, documentID, version string) (*Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.records[statusKey(documentID, version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrDocumentNotFound, documentID, version)
	}
	return &status, nil
}

func (s *MemoryStatusStore) Put(ctx context.Context, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[statusKey(status.DocumentID, status.Version)] = status
	return nil
}

func (s *MemoryStatusStore) Versions(ctx context.Context, documentID string) ([]Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Status
	for _, status := range s.records {
		if status.DocumentID == documentID {
			out = append(out, status)
		}
	}
	sortByUpdatedAt(out)
	return out, nil
}

func (s *MemoryStatusStore) Delete(ctx context.Context, documentID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, statusKey(documentID, version))
	return nil
}

// FileStatusStore persists status records as a single JSON file under the
// data directory. Writes go through a temp file and rename so a crash never
// leaves a truncated file.
type FileStatusStore struct {
	path    string
	mu      sync.Mutex
	records map[string]Status
}

// NewFileStatusStore opens or creates the status file at dir/ingest_status.json.
func NewFileStatusStore(dir string) (*FileStatusStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: data directory is required", ErrInvalidConfig)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &FileStatusStore{
		path:    filepath.Join(dir, "ingest_status.json"),
		records: make(map[string]Status),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStatusStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading status file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return fmt.Errorf("parsing status file: %w", err)
	}
	return nil
}

// flush writes records to disk. Caller must hold s.mu.
func (s *FileStatusStore) flush() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status records: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing status file: %w", err)
	}
	return nil
}

func (s *FileStatusStore) Get(ctx context.Context, documentID, version string) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.records[statusKey(documentID, version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrDocumentNotFound, documentID, version)
	}
	return &status, nil
}

func (s *FileStatusStore) Put(ctx context.Context, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[statusKey(status.DocumentID, status.Version)] = status
	return s.flush()
}

func (s *FileStatusStore) Versions(ctx context.Context, documentID string) ([]Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Status
	for _, status := range s.records {
		if status.DocumentID == documentID {
			out = append(out, status)
		}
	}
	sortByUpdatedAt(out)
	return out, nil
}

func (s *FileStatusStore) Delete(ctx context.Context, documentID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, statusKey(documentID, version))
	return s.flush()
}

func sortByUpdatedAt(statuses []Status) {
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].UpdatedAt.Equal(statuses[j].UpdatedAt) {
			return statuses[i].Version > statuses[j].Version
		}
		return statuses[i].UpdatedAt.After(statuses[j].UpdatedAt)
	})
}

// touch stamps the status with the current time.
func touch(status *Status) {
	status.UpdatedAt = time.Now().UTC()
}

var (
	_ StatusStore = (*MemoryStatusStore)(nil)
	_ StatusStore = (*FileStatusStore)(nil)
)
