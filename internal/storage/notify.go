package storage

import (
	"context"
	"io"
)

// FinalizeFunc receives the path and metadata of every completed upload
type FinalizeFunc func(path string, meta ObjectMeta)

// NotifyingStorage wraps a BlobStore and reports "object finalized" events
// after each successful upload, the way a managed bucket does.
type NotifyingStorage struct {
	BlobStore
	onFinalize FinalizeFunc
}

// NewNotifyingStorage wraps store, calling fn after each successful upload
func NewNotifyingStorage(store BlobStore, fn FinalizeFunc) *NotifyingStorage {
	return &NotifyingStorage{BlobStore: store, onFinalize: fn}
}

// Upload forwards to the wrapped store and emits the finalize notification
func (n *NotifyingStorage) Upload(ctx context.Context, path string, r io.Reader, meta ObjectMeta) (*ObjectMeta, error) {
	stored, err := n.BlobStore.Upload(ctx, path, r, meta)
	if err != nil {
		return nil, err
	}
	if n.onFinalize != nil {
		event := *stored
		event.CustomMetadata = copyCustom(stored.CustomMetadata)
		n.onFinalize(path, event)
	}
	return stored, nil
}
