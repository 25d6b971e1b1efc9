// Package memory holds in-memory blob and draft stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// BlobStore stores media in-memory and returns pseudo URLs.
type BlobStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	types   map[string]string
	baseURL string
	puts    int
}

// NewBlobStore creates a new in-memory blob store. An empty baseURL yields memory:// URLs.
func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{
		data:    make(map[string][]byte),
		types:   make(map[string]string),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// PutObject persists the content and returns its URL. Writing an existing key overwrites it.
func (s *BlobStore) PutObject(_ context.Context, key string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = byteData
	s.types[key] = contentType
	s.puts++
	return s.url(key), nil
}

// DeleteObject removes key; deleting a missing key is not an error.
func (s *BlobStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	delete(s.types, key)
	return nil
}

// Get returns a copy of the stored bytes and content type.
func (s *BlobStore) Get(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), b...), s.types[key], true
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Puts returns how many PutObject calls succeeded.
func (s *BlobStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

func (s *BlobStore) url(key string) string {
	if s.baseURL == "" {
		return "memory://" + key
	}
	return s.baseURL + "/" + key
}
