package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no object exists at a path
var ErrNotFound = errors.New("object not found")

// ObjectMeta contains storage object metadata
type ObjectMeta struct {
	Size           int64             `json:"size"`
	ContentType    string            `json:"content_type,omitempty"`
	CacheControl   string            `json:"cache_control,omitempty"`
	ETag           string            `json:"etag,omitempty"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Custom returns a custom metadata value, tolerating a nil map
func (m *ObjectMeta) Custom(key string) string {
	if m == nil || m.CustomMetadata == nil {
		return ""
	}
	return m.CustomMetadata[key]
}

// Reader provides read access to stored objects
type Reader interface {
	// Download returns a reader for the object at path
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// GetMetadata returns metadata for the object at path
	GetMetadata(ctx context.Context, path string) (*ObjectMeta, error)
}

// Writer provides write access to stored objects
type Writer interface {
	// Upload creates or replaces the object at path. Size, ETag and
	// UpdatedAt in meta are ignored and computed by the store.
	Upload(ctx context.Context, path string, r io.Reader, meta ObjectMeta) (*ObjectMeta, error)

	// Delete removes the object at path
	Delete(ctx context.Context, path string) error
}

// BlobStore is a path-keyed object store with per-object last-write-wins
// semantics. Implementations must be safe for concurrent use.
type BlobStore interface {
	Reader
	Writer
}

// Exists reports whether an object exists at path
func Exists(ctx context.Context, r Reader, path string) (bool, error) {
	_, err := r.GetMetadata(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func copyCustom(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
