package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func blobStores(t *testing.T) map[string]BlobStore {
	t.Helper()
	fs, err := NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStorage() error = %v", err)
	}
	return map[string]BlobStore{
		"filesystem": fs,
		"memory":     NewMemoryStorage(),
	}
}

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			meta := ObjectMeta{
				ContentType:    "image/webp",
				CacheControl:   "public, max-age=31536000",
				CustomMetadata: map[string]string{"provenance_token": "tok-1"},
			}
			stored, err := store.Upload(ctx, "derivatives/a/b.webp", strings.NewReader("payload"), meta)
			if err != nil {
				t.Fatalf("Upload() error = %v", err)
			}
			if stored.Size != 7 {
				t.Errorf("Size = %d, want 7", stored.Size)
			}
			if stored.ETag == "" {
				t.Error("ETag should be computed on upload")
			}

			got, err := store.GetMetadata(ctx, "derivatives/a/b.webp")
			if err != nil {
				t.Fatalf("GetMetadata() error = %v", err)
			}
			if got.ContentType != "image/webp" || got.CacheControl != meta.CacheControl {
				t.Errorf("GetMetadata() = %+v", got)
			}
			if got.Custom("provenance_token") != "tok-1" {
				t.Errorf("provenance token = %q, want tok-1", got.Custom("provenance_token"))
			}
			if got.ETag != stored.ETag {
				t.Errorf("ETag = %q, want %q", got.ETag, stored.ETag)
			}

			rc, err := store.Download(ctx, "derivatives/a/b.webp")
			if err != nil {
				t.Fatalf("Download() error = %v", err)
			}
			data, _ := io.ReadAll(rc)
			rc.Close()
			if string(data) != "payload" {
				t.Errorf("Download() = %q, want payload", data)
			}

			if err := store.Delete(ctx, "derivatives/a/b.webp"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := store.GetMetadata(ctx, "derivatives/a/b.webp"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetMetadata() after delete error = %v, want ErrNotFound", err)
			}
			if ok, err := Exists(ctx, store, "derivatives/a/b.webp"); err != nil || ok {
				t.Errorf("Exists() = %v, %v; want false, nil", ok, err)
			}
		})
	}
}

func TestBlobStoreOverwriteIsLastWriteWins(t *testing.T) {
	ctx := context.Background()

	for name, store := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Upload(ctx, "k", strings.NewReader("one"), ObjectMeta{}); err != nil {
				t.Fatal(err)
			}
			if _, err := store.Upload(ctx, "k", strings.NewReader("second"), ObjectMeta{ContentType: "text/plain"}); err != nil {
				t.Fatal(err)
			}
			meta, err := store.GetMetadata(ctx, "k")
			if err != nil {
				t.Fatal(err)
			}
			if meta.Size != 6 || meta.ContentType != "text/plain" {
				t.Errorf("GetMetadata() = %+v, want second write", meta)
			}
		})
	}
}

func TestBlobStoreNotFound(t *testing.T) {
	ctx := context.Background()

	for name, store := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Download(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Download() error = %v, want ErrNotFound", err)
			}
			if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Delete() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestFilesystemStorageRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// Cleaned keys stay inside the base directory
	if _, err := fs.Upload(ctx, "../../etc/passwd", strings.NewReader("x"), ObjectMeta{}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(fs.BaseDir(), "etc", "passwd")); err != nil {
		t.Errorf("object not stored under base dir: %v", err)
	}

	if _, err := fs.Upload(ctx, ".meta/x.json", strings.NewReader("x"), ObjectMeta{}); err == nil {
		t.Error("Upload() into sidecar tree should fail")
	}
	if _, err := fs.Upload(ctx, "/", strings.NewReader("x"), ObjectMeta{}); err == nil {
		t.Error("Upload() with empty key should fail")
	}
}

func TestFilesystemStorageWithoutSidecar(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFilesystemStorage(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "uploads"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "uploads", "manual.jpg"), []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}

	meta, err := fs.GetMetadata(ctx, "uploads/manual.jpg")
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if meta.Size != 3 || meta.UpdatedAt.IsZero() {
		t.Errorf("GetMetadata() = %+v", meta)
	}
}

func TestFilesystemStorageConcurrentUploads(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystemStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fs.Upload(ctx, "same/key.webp", strings.NewReader("identical"), ObjectMeta{ContentType: "image/webp"}); err != nil {
				t.Errorf("Upload() error = %v", err)
			}
		}()
	}
	wg.Wait()

	meta, err := fs.GetMetadata(ctx, "same/key.webp")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size != int64(len("identical")) {
		t.Errorf("Size = %d after concurrent writes", meta.Size)
	}

	// no temp files left behind next to the object
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir(), "same"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("found %d entries, want only key.webp", len(entries))
	}
}

func TestNotifyingStorage(t *testing.T) {
	ctx := context.Background()
	var got []string
	store := NewNotifyingStorage(NewMemoryStorage(), func(path string, meta ObjectMeta) {
		got = append(got, path+"|"+meta.ContentType)
	})

	if _, err := store.Upload(ctx, "derivatives/a.webp", strings.NewReader("x"), ObjectMeta{ContentType: "image/webp"}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "derivatives/a.webp|image/webp" {
		t.Errorf("finalize events = %v", got)
	}
}

func TestHTTPStorage(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStorage()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/objects/")
		switch r.Method {
		case http.MethodPut:
			meta := ObjectMeta{
				ContentType:    r.Header.Get("Content-Type"),
				CacheControl:   r.Header.Get("Cache-Control"),
				CustomMetadata: map[string]string{},
			}
			for name, values := range r.Header {
				if strings.HasPrefix(name, customHeaderPrefix) {
					meta.CustomMetadata[strings.ToLower(strings.TrimPrefix(name, customHeaderPrefix))] = values[0]
				}
			}
			if _, err := backing.Upload(r.Context(), path, r.Body, meta); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case http.MethodHead:
			meta, err := backing.GetMetadata(r.Context(), path)
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", meta.ContentType)
			w.Header().Set("Cache-Control", meta.CacheControl)
			w.Header().Set("ETag", `"`+meta.ETag+`"`)
			for k, v := range meta.CustomMetadata {
				w.Header().Set(customHeaderPrefix+k, v)
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			rc, err := backing.Download(r.Context(), path)
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			defer rc.Close()
			io.Copy(w, rc)
		case http.MethodDelete:
			if err := backing.Delete(r.Context(), path); err != nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	store := NewHTTPStorage(server.URL)

	if _, err := store.Upload(ctx, "derivatives/x.webp", strings.NewReader("data"), ObjectMeta{
		ContentType:    "image/webp",
		CacheControl:   "public, max-age=31536000",
		CustomMetadata: map[string]string{"provenance_token": "abc"},
	}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	meta, err := store.GetMetadata(ctx, "derivatives/x.webp")
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if meta.ContentType != "image/webp" || meta.Custom("provenance_token") != "abc" || meta.ETag == "" {
		t.Errorf("GetMetadata() = %+v", meta)
	}

	rc, err := store.Download(ctx, "derivatives/x.webp")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "data" {
		t.Errorf("Download() = %q", body)
	}

	if err := store.Delete(ctx, "derivatives/x.webp"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.GetMetadata(ctx, "derivatives/x.webp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMetadata() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := store.Download(ctx, "derivatives/x.webp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Download() after delete error = %v, want ErrNotFound", err)
	}
}
