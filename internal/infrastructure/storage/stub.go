// Package storage provides object storage implementations for report archival.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/automna/backend/internal/application/reporting"
)

// Ensure StubObjectStorage implements ReportStorage
var _ reporting.ReportStorage = (*StubObjectStorage)(nil)

// StubObjectStorage is an in-memory ReportStorage for development and
// tests. Objects live only as long as the process.
type StubObjectStorage struct {
	// BaseURL is the base URL for generated download URLs.
	// Defaults to "https://storage.example.com" if not set.
	BaseURL string

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewStubObjectStorage creates a new StubObjectStorage
func NewStubObjectStorage() *StubObjectStorage {
	return &StubObjectStorage{
		BaseURL: "https://storage.example.com",
		objects: make(map[string][]byte),
	}
}

// Upload stores the report object in memory
func (s *StubObjectStorage) Upload(ctx context.Context, storageKey string, data []byte, contentType string) error {
	if storageKey == "" {
		return errors.New("storage key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[storageKey] = stored
	return nil
}

// GenerateDownloadURL generates a stub download URL
func (s *StubObjectStorage) GenerateDownloadURL(
	ctx context.Context,
	storageKey string,
	expiresIn time.Duration,
) (string, time.Time, error) {
	if storageKey == "" {
		return "", time.Time{}, errors.New("storage key is required")
	}

	expiresAt := time.Now().Add(expiresIn)
	url := s.BaseURL + "/download/" + storageKey + "?expires=" + expiresAt.Format(time.RFC3339)

	return url, expiresAt, nil
}

// ObjectExists reports whether a report was uploaded in this process
func (s *StubObjectStorage) ObjectExists(ctx context.Context, storageKey string) (bool, error) {
	if storageKey == "" {
		return false, errors.New("storage key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[storageKey]
	return ok, nil
}

// Object returns the stored bytes for a key, for test assertions
func (s *StubObjectStorage) Object(storageKey string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[storageKey]
	return data, ok
}
