package handlers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/tendant/simple-derivative-pipeline/internal/logging"
	"github.com/tendant/simple-derivative-pipeline/internal/storage"
)

func TestObjectsRoundTripThroughHTTPStorage(t *testing.T) {
	backing := storage.NewMemoryStorage()
	r := mux.NewRouter()
	NewObjects(backing, logging.Discard()).Mount(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx := context.Background()
	client := storage.NewHTTPStorage(srv.URL)

	stored, err := client.Upload(ctx, "uploads/dir/a b.png", strings.NewReader("pixels"), storage.ObjectMeta{
		ContentType:    "image/png",
		CacheControl:   "no-cache",
		CustomMetadata: map[string]string{"provenance_token": "tok"},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if stored.ETag == "" {
		t.Error("upload response missing etag")
	}

	meta, err := client.GetMetadata(ctx, "uploads/dir/a b.png")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.Size != 6 || meta.ContentType != "image/png" || meta.CacheControl != "no-cache" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Custom("provenance_token") != "tok" {
		t.Errorf("custom = %v", meta.CustomMetadata)
	}
	if meta.ETag != stored.ETag {
		t.Errorf("etag = %q, want %q", meta.ETag, stored.ETag)
	}

	rc, err := client.Download(ctx, "uploads/dir/a b.png")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "pixels" {
		t.Errorf("body = %q", body)
	}

	// The backing store saw the unescaped path
	if _, err := backing.GetMetadata(ctx, "uploads/dir/a b.png"); err != nil {
		t.Errorf("backing store: %v", err)
	}

	if err := client.Delete(ctx, "uploads/dir/a b.png"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.GetMetadata(ctx, "uploads/dir/a b.png"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("after delete err = %v", err)
	}
	if err := client.Delete(ctx, "uploads/dir/a b.png"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}
