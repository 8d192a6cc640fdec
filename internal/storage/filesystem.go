package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const metaDirName = ".meta"

// FilesystemStorage implements BlobStore on a local directory. Object data
// lives at baseDir/<path>; metadata is kept in a JSON sidecar under
// baseDir/.meta/<path>.json.
type FilesystemStorage struct {
	baseDir string
}

// NewFilesystemStorage creates a new filesystem blob store
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &FilesystemStorage{
		baseDir: abs,
	}, nil
}

// BaseDir returns the root directory of the store
func (fs *FilesystemStorage) BaseDir() string {
	return fs.baseDir
}

// resolve maps a key to its data and metadata paths
func (fs *FilesystemStorage) resolve(key string) (string, string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", "", fmt.Errorf("invalid key: %q", key)
	}

	dataPath := filepath.Join(fs.baseDir, clean)
	// Security: prevent directory traversal and access to the sidecar tree
	if !strings.HasPrefix(dataPath, fs.baseDir+string(filepath.Separator)) {
		return "", "", fmt.Errorf("invalid key: path traversal detected")
	}
	rel := strings.TrimPrefix(dataPath, fs.baseDir+string(filepath.Separator))
	if rel == metaDirName || strings.HasPrefix(rel, metaDirName+string(filepath.Separator)) {
		return "", "", fmt.Errorf("invalid key: reserved prefix %s", metaDirName)
	}

	metaPath := filepath.Join(fs.baseDir, metaDirName, rel+".json")
	return dataPath, metaPath, nil
}

// Download returns a reader for the file at the given key
func (fs *FilesystemStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	dataPath, _, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// GetMetadata returns metadata for the file at the given key
func (fs *FilesystemStorage) GetMetadata(ctx context.Context, key string) (*ObjectMeta, error) {
	dataPath, metaPath, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	meta := &ObjectMeta{}
	data, err := os.ReadFile(metaPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, meta); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for %s: %w", key, err)
		}
	case os.IsNotExist(err):
		// Objects copied in by hand have no sidecar
		meta.UpdatedAt = info.ModTime()
	default:
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	meta.Size = info.Size()

	return meta, nil
}

// Upload writes the object and its sidecar. Both files are replaced by
// rename while holding a per-object file lock.
func (fs *FilesystemStorage) Upload(ctx context.Context, key string, r io.Reader, meta ObjectMeta) (*ObjectMeta, error) {
	dataPath, metaPath, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(metaPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	lock := flock.New(metaPath + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer lock.Unlock()

	hash := sha256.New()
	size, err := writeAtomic(dataPath, io.TeeReader(r, hash))
	if err != nil {
		return nil, fmt.Errorf("failed to write object: %w", err)
	}

	stored := ObjectMeta{
		Size:           size,
		ContentType:    meta.ContentType,
		CacheControl:   meta.CacheControl,
		ETag:           hex.EncodeToString(hash.Sum(nil)),
		CustomMetadata: copyCustom(meta.CustomMetadata),
		UpdatedAt:      time.Now().UTC(),
	}

	encoded, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if _, err := writeAtomic(metaPath, bytes.NewReader(encoded)); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	return &stored, nil
}

// Delete removes the object and its sidecar
func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	dataPath, metaPath, err := fs.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(dataPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	os.Remove(metaPath + ".lock")
	return nil
}

// writeAtomic writes r to a temp file next to dst and renames it into place
func writeAtomic(dst string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return 0, err
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}
