package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tendant/simple-derivative-pipeline/internal/storage"
)

// Objects serves a BlobStore over the object API that storage.HTTPStorage
// speaks. Writes through a NotifyingStorage emit finalize events.
type Objects struct {
	store  storage.BlobStore
	logger *slog.Logger
}

// NewObjects creates the object API handlers
func NewObjects(store storage.BlobStore, logger *slog.Logger) *Objects {
	if logger == nil {
		logger = slog.Default()
	}
	return &Objects{store: store, logger: logger}
}

// Mount registers the object routes on r
func (o *Objects) Mount(r *mux.Router) {
	const route = "/api/v1/objects/{path:.+}"
	r.HandleFunc(route, o.get).Methods(http.MethodGet)
	r.HandleFunc(route, o.head).Methods(http.MethodHead)
	r.HandleFunc(route, o.put).Methods(http.MethodPut)
	r.HandleFunc(route, o.delete).Methods(http.MethodDelete)
}

func writeObjectHeaders(w http.ResponseWriter, meta *storage.ObjectMeta) {
	storage.SetMetaHeader(w.Header(), *meta)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if meta.ETag != "" {
		w.Header().Set("ETag", `"`+meta.ETag+`"`)
	}
	if !meta.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", meta.UpdatedAt.UTC().Format(http.TimeFormat))
	}
}

func (o *Objects) storeError(w http.ResponseWriter, path string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	o.logger.Error("object store error", "path", path, "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (o *Objects) head(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	meta, err := o.store.GetMetadata(r.Context(), path)
	if err != nil {
		o.storeError(w, path, err)
		return
	}
	writeObjectHeaders(w, meta)
	w.WriteHeader(http.StatusOK)
}

func (o *Objects) get(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	meta, err := o.store.GetMetadata(r.Context(), path)
	if err != nil {
		o.storeError(w, path, err)
		return
	}
	rc, err := o.store.Download(r.Context(), path)
	if err != nil {
		o.storeError(w, path, err)
		return
	}
	defer rc.Close()

	writeObjectHeaders(w, meta)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		o.logger.Warn("object download interrupted", "path", path, "error", err)
	}
}

func (o *Objects) put(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	meta := storage.MetaFromHeader(r.Header)

	stored, err := o.store.Upload(r.Context(), path, r.Body, storage.ObjectMeta{
		ContentType:    meta.ContentType,
		CacheControl:   meta.CacheControl,
		CustomMetadata: meta.CustomMetadata,
	})
	if err != nil {
		o.storeError(w, path, err)
		return
	}
	o.logger.Info("object stored", "path", path, "bytes", stored.Size)

	storage.SetMetaHeader(w.Header(), *stored)
	if stored.ETag != "" {
		w.Header().Set("ETag", `"`+stored.ETag+`"`)
	}
	w.WriteHeader(http.StatusCreated)
}

func (o *Objects) delete(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	if err := o.store.Delete(r.Context(), path); err != nil {
		o.storeError(w, path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
