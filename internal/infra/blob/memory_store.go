package blob

import (
	"context"
	"strings"
	"sync"

	"content-batch/internal/domain"
	"content-batch/internal/domain/ports/adapter"
)

var _ adapter.BlobStore = (*MemoryStore)(nil)

const memBucket = "memory"

// MemoryStore is a process-local BlobStore for dev mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", domain.ErrInvalidArgument
	}
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.objects[key] = cp
	s.mu.Unlock()
	return refScheme + memBucket + "/" + key, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) ([]byte, error) {
	_, key := splitRef(ref, memBucket)
	s.mu.RLock()
	b, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}
