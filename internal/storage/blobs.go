// Package storage provides content-addressed storage for captured media blobs.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore stores photo and voice-note blobs by their SHA-256 content
// hash. Identical captures are stored only once; queue rows reference the
// blob by hash.
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates a BlobStore rooted at baseDir.
func NewBlobStore(baseDir string) *BlobStore {
	return &BlobStore{baseDir: baseDir}
}

// Hash calculates the SHA-256 hash of blob content.
func Hash(data []byte) string {
	h := sha256.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashReader calculates the SHA-256 hash from an io.Reader.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// path returns baseDir/{hash[0:2]}/{hash[2:4]}/{hash}. The two-level
// directory structure keeps directories small.
func (s *BlobStore) path(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}

// Store writes data and returns its content hash.
func (s *BlobStore) Store(data []byte) (string, error) {
	hash := Hash(data)

	dir := filepath.Dir(s.path(hash))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	filePath := s.path(hash)

	// Deduplication: identical content is already on disk.
	if _, err := os.Stat(filePath); err == nil {
		return hash, nil
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	return hash, nil
}

// Open returns a reader over the blob with the given hash.
func (s *BlobStore) Open(hash string) (io.ReadCloser, error) {
	if len(hash) < 4 {
		return nil, fmt.Errorf("invalid content hash: %q", hash)
	}
	f, err := os.Open(s.path(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", hash, err)
	}
	return f, nil
}

// Exists reports whether a blob with the given hash is stored.
func (s *BlobStore) Exists(hash string) bool {
	if len(hash) < 4 {
		return false
	}
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Delete removes the blob with the given hash. Deleting a missing blob is
// not an error.
func (s *BlobStore) Delete(hash string) error {
	if len(hash) < 4 {
		return fmt.Errorf("invalid content hash: %q", hash)
	}
	err := os.Remove(s.path(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", hash, err)
	}
	return nil
}
