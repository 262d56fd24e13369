package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FSStore is a filesystem implementation of ArtifactStore:
//
//	<base>/
//	  objects/
//	    ab/
//	      cd1234...        content (first 2 hash chars = subdir)
//	      cd1234....refs   reference count
//	  refs/
//	    <sha256(key)>.json artifact record for a key
type FSStore struct {
	basePath string
	signer   *Signer
	mu       sync.RWMutex
}

var _ ArtifactStore = (*FSStore)(nil)

// NewFSStore creates the directory layout under basePath. signer may be nil,
// in which case SignedURL fails.
func NewFSStore(basePath string, signer *Signer) (*FSStore, error) {
	for _, dir := range []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "refs"),
		filepath.Join(basePath, "tmp"),
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &FSStore{basePath: basePath, signer: signer}, nil
}

// Upload streams r to a temporary file while hashing, then moves it into place.
func (fs *FSStore) Upload(ctx context.Context, key string, r io.Reader, meta Metadata) (*Artifact, error) {
	if key == "" {
		return nil, fmt.Errorf("empty artifact key")
	}

	tmp, err := os.CreateTemp(filepath.Join(fs.basePath, "tmp"), "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), ctxReader{ctx: ctx, r: r})
	closeErr := tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close temp file: %w", closeErr)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	fs.mu.Lock()
	defer fs.mu.Unlock()

	objectPath := fs.objectPath(hash)
	if _, err := os.Stat(objectPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
			return nil, fmt.Errorf("create object directory: %w", err)
		}
		if err := os.Rename(tmpPath, objectPath); err != nil {
			return nil, fmt.Errorf("move object into place: %w", err)
		}
	}

	previous, err := fs.readRef(key)
	switch {
	case err == nil && previous.Hash == hash:
		// Same content re-uploaded under the same key; refcount unchanged.
	case err == nil:
		fs.releaseObject(previous.Hash)
		fs.retainObject(hash)
	case IsNotFound(err):
		fs.retainObject(hash)
	default:
		return nil, err
	}

	artifact := &Artifact{
		Key:         key,
		Hash:        hash,
		Size:        size,
		ContentType: meta.ContentType,
		CreatedAt:   time.Now().UTC(),
		Custom:      meta.Custom,
	}
	if err := fs.writeRef(artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// Download opens the object referenced by key.
func (fs *FSStore) Download(ctx context.Context, key string) (io.ReadCloser, *Artifact, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	artifact, err := fs.readRef(key)
	if err != nil {
		return nil, nil, err
	}
	// #nosec G304 - path is derived from a hex hash
	f, err := os.Open(fs.objectPath(artifact.Hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open object: %w", err)
	}
	return f, artifact, nil
}

// SignedURL delegates to the configured signer after checking the key exists.
func (fs *FSStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if fs.signer == nil {
		return "", fmt.Errorf("artifact url signing is not configured")
	}
	fs.mu.RLock()
	_, err := fs.readRef(key)
	fs.mu.RUnlock()
	if err != nil {
		return "", err
	}
	return fs.signer.Sign(key, ttl), nil
}

// Delete removes key and the object once no key references it.
func (fs *FSStore) Delete(ctx context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	artifact, err := fs.readRef(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fs.refPath(key)); err != nil {
		return fmt.Errorf("delete artifact ref: %w", err)
	}
	fs.releaseObject(artifact.Hash)
	return nil
}

func (fs *FSStore) objectPath(hash string) string {
	return filepath.Join(fs.basePath, "objects", hash[:2], hash[2:])
}

func (fs *FSStore) refCountPath(hash string) string {
	return fs.objectPath(hash) + ".refs"
}

func (fs *FSStore) refPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(fs.basePath, "refs", hex.EncodeToString(sum[:])+".json")
}

func (fs *FSStore) readRef(key string) (*Artifact, error) {
	// #nosec G304 - refPath hashes the key
	data, err := os.ReadFile(fs.refPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact ref: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact ref: %w", err)
	}
	return &a, nil
}

func (fs *FSStore) writeRef(a *Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifact ref: %w", err)
	}
	if err := os.WriteFile(fs.refPath(a.Key), data, 0o600); err != nil {
		return fmt.Errorf("write artifact ref: %w", err)
	}
	return nil
}

func (fs *FSStore) refCount(hash string) int {
	// #nosec G304 - path is derived from a hex hash
	data, err := os.ReadFile(fs.refCountPath(hash))
	if err != nil {
		return 0
	}
	var n int
	_, _ = fmt.Sscanf(string(data), "%d", &n)
	return n
}

func (fs *FSStore) retainObject(hash string) {
	if err := os.WriteFile(fs.refCountPath(hash), []byte(fmt.Sprintf("%d", fs.refCount(hash)+1)), 0o600); err != nil {
		slog.Warn("Failed to update artifact refcount", slog.String("hash", hash), slog.String("error", err.Error()))
	}
}

// releaseObject drops one reference and removes the object when none remain.
func (fs *FSStore) releaseObject(hash string) {
	n := fs.refCount(hash) - 1
	if n > 0 {
		if err := os.WriteFile(fs.refCountPath(hash), []byte(fmt.Sprintf("%d", n)), 0o600); err != nil {
			slog.Warn("Failed to update artifact refcount", slog.String("hash", hash), slog.String("error", err.Error()))
		}
		return
	}
	_ = os.Remove(fs.objectPath(hash))
	_ = os.Remove(fs.refCountPath(hash))
	_ = os.Remove(filepath.Dir(fs.objectPath(hash))) // only succeeds when empty
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
