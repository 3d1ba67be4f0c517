// Package creative stores creative asset bytes content-addressed by
// SHA-256 digest. The review pool reads assets here; the API writes
// them on upload. Storage is idempotent: putting the same bytes twice
// yields the same digest and one stored object.
package creative

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when no asset exists for a digest.
var ErrNotFound = errors.New("creative: asset not found")

const digestPrefix = "sha256:"

// Store is the content-addressed asset store.
type Store interface {
	// Put persists data and returns its digest ("sha256:<hex>").
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves asset bytes by digest, or ErrNotFound.
	Get(ctx context.Context, digest string) ([]byte, error)
	Exists(ctx context.Context, digest string) (bool, error)
	Delete(ctx context.Context, digest string) error
}

// Digest computes the store's digest for data without storing it.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// parseDigest validates "sha256:<hex>" and returns the hex part.
func parseDigest(digest string) (string, error) {
	if !strings.HasPrefix(digest, digestPrefix) {
		return "", fmt.Errorf("creative: digest %q missing %s prefix", digest, digestPrefix)
	}
	raw := digest[len(digestPrefix):]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("creative: digest %q is not hex: %w", digest, err)
	}
	return raw, nil
}

// FileStore keeps assets as blob files under one directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creative: ensure asset dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	digest := Digest(data)
	raw := digest[len(digestPrefix):]
	path := filepath.Join(s.baseDir, raw+".blob")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}

	// Write to a temp file, then rename, so readers never see a
	// partial blob.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("creative: write asset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("creative: commit asset: %w", err)
	}
	return digest, nil
}

func (s *FileStore) Get(ctx context.Context, digest string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := parseDigest(digest)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(filepath.Join(s.baseDir, raw+".blob"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
		}
		return nil, fmt.Errorf("creative: open asset: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("creative: read asset: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, digest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	raw, err := parseDigest(digest)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(filepath.Join(s.baseDir, raw+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("creative: stat asset: %w", err)
}

func (s *FileStore) Delete(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := parseDigest(digest)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filepath.Join(s.baseDir, raw+".blob")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("creative: delete asset: %w", err)
	}
	return nil
}
