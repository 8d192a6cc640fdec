package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// customHeaderPrefix carries custom metadata on the object API
const customHeaderPrefix = "X-Object-Meta-"

// HTTPStorage provides access to objects via an HTTP object API:
//
//	GET    {base}/api/v1/objects/{path}
//	HEAD   {base}/api/v1/objects/{path}
//	PUT    {base}/api/v1/objects/{path}
//	DELETE {base}/api/v1/objects/{path}
type HTTPStorage struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPStorage creates a new HTTP-based blob store
func NewHTTPStorage(baseURL string) *HTTPStorage {
	return NewHTTPStorageWithClient(baseURL, &http.Client{Timeout: 60 * time.Second})
}

// NewHTTPStorageWithClient creates an HTTP blob store with a custom client
func NewHTTPStorageWithClient(baseURL string, httpClient *http.Client) *HTTPStorage {
	return &HTTPStorage{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (s *HTTPStorage) objectURL(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/api/v1/objects/%s", s.baseURL, strings.Join(segments, "/"))
}

// Download returns the object body via HTTP API
func (s *HTTPStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// GetMetadata issues a HEAD request and decodes the object headers
func (s *HTTPStorage) GetMetadata(ctx context.Context, path string) (*ObjectMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return MetaFromHeader(resp.Header), nil
}

// Upload PUTs the object body with metadata headers
func (s *HTTPStorage) Upload(ctx context.Context, path string, r io.Reader, meta ObjectMeta) (*ObjectMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(path), r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	SetMetaHeader(req.Header, meta)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	// The API answers with the stored headers; fall back to what was sent
	stored := MetaFromHeader(resp.Header)
	if stored.ContentType == "" {
		stored.ContentType = meta.ContentType
	}
	if stored.CacheControl == "" {
		stored.CacheControl = meta.CacheControl
	}
	if stored.CustomMetadata == nil {
		stored.CustomMetadata = copyCustom(meta.CustomMetadata)
	}
	return stored, nil
}

// Delete removes the object via HTTP API
func (s *HTTPStorage) Delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(path), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusAccepted:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		return fmt.Errorf("delete failed with status %d", resp.StatusCode)
	}
}

// SetMetaHeader writes the content type, cache control and custom metadata of
// meta onto h
func SetMetaHeader(h http.Header, meta ObjectMeta) {
	if meta.ContentType != "" {
		h.Set("Content-Type", meta.ContentType)
	}
	if meta.CacheControl != "" {
		h.Set("Cache-Control", meta.CacheControl)
	}
	for k, v := range meta.CustomMetadata {
		h.Set(customHeaderPrefix+k, v)
	}
}

// MetaFromHeader decodes object metadata from API headers. Custom metadata
// keys come back lower-cased.
func MetaFromHeader(h http.Header) *ObjectMeta {
	meta := &ObjectMeta{
		ContentType:  h.Get("Content-Type"),
		CacheControl: h.Get("Cache-Control"),
		ETag:         strings.Trim(h.Get("ETag"), `"`),
	}
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		meta.Size = n
	}
	if t, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		meta.UpdatedAt = t
	}
	for name, values := range h {
		if len(values) == 0 || !strings.HasPrefix(name, customHeaderPrefix) {
			continue
		}
		if meta.CustomMetadata == nil {
			meta.CustomMetadata = make(map[string]string)
		}
		key := strings.ToLower(strings.TrimPrefix(name, customHeaderPrefix))
		meta.CustomMetadata[key] = values[0]
	}
	return meta
}
