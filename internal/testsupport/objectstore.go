package testsupport

import (
	"context"
	"sync"

	"github.com/tonimelisma/zotero-sync/internal/objectstore"
	"github.com/tonimelisma/zotero-sync/internal/zoteroapi"
)

// MemStore is an in-memory objectstore.Store for engine and attachment
// coordination tests, avoiding a live S3-compatible endpoint.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemStore returns an empty in-memory object store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.objects[key]

	return ok, nil
}

func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}

	return data, nil
}

func (m *MemStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp

	return nil
}

func (m *MemStore) Stat(ctx context.Context, key string) (*objectstore.Info, error) {
	data, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	return &objectstore.Info{Size: int64(len(data)), MD5: zoteroapi.MD5Hex(data)}, nil
}
