package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"time"
)

// MockStore is an in-memory ArtifactStore for tests.
type MockStore struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
	data      map[string][]byte // by hash
	calls     MockCalls

	// UploadErr, when set, is returned by every Upload.
	UploadErr error
}

// MockCalls tracks method invocations for test verification.
type MockCalls struct {
	Upload    int
	Download  int
	SignedURL int
	Delete    int
}

var _ ArtifactStore = (*MockStore)(nil)

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		artifacts: make(map[string]*Artifact),
		data:      make(map[string][]byte),
	}
}

// Upload stores the content of r under key.
func (m *MockStore) Upload(ctx context.Context, key string, r io.Reader, meta Metadata) (*Artifact, error) {
	m.mu.Lock()
	m.calls.Upload++
	uploadErr := m.UploadErr
	m.mu.Unlock()
	if uploadErr != nil {
		return nil, uploadErr
	}

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[hash] = content
	a := &Artifact{Key: key, Hash: hash, Size: int64(len(content)), ContentType: meta.ContentType, CreatedAt: time.Now().UTC(), Custom: meta.Custom}
	m.artifacts[key] = a
	return a, nil
}

// Download returns the content stored under key.
func (m *MockStore) Download(ctx context.Context, key string) (io.ReadCloser, *Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Download++
	a, ok := m.artifacts[key]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(m.data[a.Hash])), a, nil
}

// SignedURL returns a fake URL for existing keys.
func (m *MockStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.SignedURL++
	if _, ok := m.artifacts[key]; !ok {
		return "", ErrNotFound
	}
	return "mock://" + key, nil
}

// Delete removes key.
func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Delete++
	if _, ok := m.artifacts[key]; !ok {
		return ErrNotFound
	}
	delete(m.artifacts, key)
	return nil
}

// Content returns the bytes stored under key.
func (m *MockStore) Content(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[key]
	if !ok {
		return nil, false
	}
	return m.data[a.Hash], true
}

// Calls returns a snapshot of invocation counts.
func (m *MockStore) Calls() MockCalls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
