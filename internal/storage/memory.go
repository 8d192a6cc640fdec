package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type memoryObject struct {
	data []byte
	meta ObjectMeta
}

// MemoryStorage is an in-process BlobStore
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject)}
}

// Download returns a reader over a copy of the object data
func (m *MemoryStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// GetMetadata returns a copy of the object's metadata
func (m *MemoryStorage) GetMetadata(ctx context.Context, path string) (*ObjectMeta, error) {
	m.mu.RLock()
	obj, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	meta := obj.meta
	meta.CustomMetadata = copyCustom(obj.meta.CustomMetadata)
	return &meta, nil
}

// Upload stores the object, replacing any previous version
func (m *MemoryStorage) Upload(ctx context.Context, path string, r io.Reader, meta ObjectMeta) (*ObjectMeta, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	sum := sha256.Sum256(data)
	stored := ObjectMeta{
		Size:           int64(len(data)),
		ContentType:    meta.ContentType,
		CacheControl:   meta.CacheControl,
		ETag:           hex.EncodeToString(sum[:]),
		CustomMetadata: copyCustom(meta.CustomMetadata),
		UpdatedAt:      time.Now().UTC(),
	}

	m.mu.Lock()
	m.objects[path] = memoryObject{data: data, meta: stored}
	m.mu.Unlock()

	out := stored
	out.CustomMetadata = copyCustom(stored.CustomMetadata)
	return &out, nil
}

// Delete removes the object at path
func (m *MemoryStorage) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	delete(m.objects, path)
	return nil
}

// Paths lists every stored path in sorted order
func (m *MemoryStorage) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
