// Package storage provides content-addressable storage for build artifacts.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ArtifactStore stores build artifacts under logical keys. Content is
// addressed by its SHA256 hash, so identical uploads under different keys
// share one object.
type ArtifactStore interface {
	// Upload streams r into the store under key, replacing any previous content for key.
	Upload(ctx context.Context, key string, r io.Reader, meta Metadata) (*Artifact, error)

	// Download opens the content stored under key. Returns ErrNotFound if absent.
	Download(ctx context.Context, key string) (io.ReadCloser, *Artifact, error)

	// SignedURL returns a time-limited URL granting read access to key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Delete removes key. Returns ErrNotFound if absent.
	Delete(ctx context.Context, key string) error
}

// Artifact describes stored content.
type Artifact struct {
	Key         string            `json:"key"`
	Hash        string            `json:"hash"` // SHA256 of the content
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// Metadata is caller-supplied information recorded with an upload.
type Metadata struct {
	ContentType string
	Custom      map[string]string
}

// ErrNotFound is returned when a key has no stored content.
var ErrNotFound = errors.New("artifact not found")

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
