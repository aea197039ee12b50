package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Object describes a stored blob and its public address.
type Object struct {
	Bucket string
	Path   string
	URL    string
}

// ObjectStore persists media under a bucket and exposes it at a public URL.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (Object, error)
}

// FileStore persists objects onto the local filesystem under basePath/bucket/key
// and addresses them as baseURL/bucket/key. It backs development deployments and
// tests where an object storage service is not available.
type FileStore struct {
	basePath string
	baseURL  string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data at bucket/key. Keys are cleaned to prevent directory traversal.
// Content type is implied by the key's extension when served back.
func (s *FileStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (Object, error) {
	if s == nil {
		return Object{}, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	cleanBucket, err := sanitizeKey(bucket)
	if err != nil || strings.Contains(cleanBucket, "/") {
		return Object{}, errors.New("storage: invalid bucket")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return Object{}, err
	}
	fullPath := filepath.Join(s.basePath, cleanBucket, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return Object{}, fmt.Errorf("storage: commit file: %w", err)
	}
	return Object{
		Bucket: cleanBucket,
		Path:   cleanKey,
		URL:    s.baseURL + "/" + cleanBucket + "/" + cleanKey,
	}, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ ObjectStore = (*FileStore)(nil)
