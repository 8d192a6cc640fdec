package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tendant/simple-derivative-pipeline/internal/encoder"
	"github.com/tendant/simple-derivative-pipeline/internal/logging"
	"github.com/tendant/simple-derivative-pipeline/internal/naming"
	"github.com/tendant/simple-derivative-pipeline/internal/scratch"
	"github.com/tendant/simple-derivative-pipeline/internal/storage"
	"github.com/tendant/simple-derivative-pipeline/internal/trigger"
	"github.com/tendant/simple-derivative-pipeline/internal/workflows"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

type brokenUploads struct {
	storage.BlobStore
}

func (brokenUploads) Upload(ctx context.Context, path string, r io.Reader, meta storage.ObjectMeta) (*storage.ObjectMeta, error) {
	return nil, errors.New("bucket unavailable")
}

func newTestServer(t *testing.T, store storage.BlobStore) *httptest.Server {
	t.Helper()
	space, err := scratch.NewSpace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := logging.Discard()

	runner := workflows.NewWorkflowRunner(nil)
	runner.Register(pipeline.JobIngest, workflows.NewIngestWorkflow(store, encoder.NewImagingEncoder(), space,
		workflows.IngestConfig{Format: encoder.FormatPNG}, workflows.WithLogger(logger)))
	runner.Register(pipeline.JobRecompress, workflows.NewRecompressWorkflow(store, encoder.NewImagingEncoder(), space,
		workflows.RecompressConfig{}, workflows.WithLogger(logger)))

	adapter := trigger.NewAdapter(trigger.NewRouter(naming.DefaultScheme(), true), runner, nil, logger)
	srv := httptest.NewServer(New(adapter, runner, "test", logger).Router())
	t.Cleanup(srv.Close)
	return srv
}

func seedPNG(t *testing.T, store storage.BlobStore, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 20, 10))); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upload(context.Background(), path, &buf, storage.ObjectMeta{ContentType: "image/png"}); err != nil {
		t.Fatal(err)
	}
}

func post(t *testing.T, url string, body any) (*http.Response, pipeline.ProcessResponse) {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out pipeline.ProcessResponse
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHandleEvent(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedPNG(t, store, "uploads/a.png")
	srv := newTestServer(t, store)

	tests := []struct {
		name   string
		body   any
		status int
		state  string
	}{
		{"raw image", pipeline.ObjectEvent{Name: "uploads/a.png", ContentType: "image/png"}, http.StatusOK, "done"},
		{"duplicate delivery", pipeline.ObjectEvent{Name: "uploads/a.png", ContentType: "image/png"}, http.StatusOK, "filtered_out"},
		{"non image", pipeline.ObjectEvent{Name: "uploads/a.txt", ContentType: "text/plain"}, http.StatusOK, "filtered_out"},
		{"small derivative", pipeline.ObjectEvent{Name: "derivatives/a.png", ContentType: "image/png"}, http.StatusOK, "filtered_out"},
		{"unrelated path", pipeline.ObjectEvent{Name: "logs/x", ContentType: "text/plain"}, http.StatusOK, "filtered_out"},
		{"missing name", pipeline.ObjectEvent{ContentType: "image/png"}, http.StatusBadRequest, ""},
		{"bad json", "{", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := post(t, srv.URL+"/v1/events", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if out.State != tt.state {
				t.Errorf("state = %q, want %q (%s)", out.State, tt.state, out.Reason)
			}
		})
	}

	if _, err := store.GetMetadata(context.Background(), "derivatives/a.png"); err != nil {
		t.Errorf("derivative missing: %v", err)
	}
}

func TestHandleEventTransientFailure(t *testing.T) {
	mem := storage.NewMemoryStorage()
	seedPNG(t, mem, "uploads/a.png")
	srv := newTestServer(t, brokenUploads{mem})

	resp, out := post(t, srv.URL+"/v1/events", pipeline.ObjectEvent{Name: "uploads/a.png", ContentType: "image/png"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if out.Failure != string(workflows.FailureUpload) {
		t.Errorf("failure = %q", out.Failure)
	}
}

func TestHandleEventPermanentFailure(t *testing.T) {
	store := storage.NewMemoryStorage()
	store.Upload(context.Background(), "uploads/bad.png", strings.NewReader("not a png"), storage.ObjectMeta{ContentType: "image/png"})
	srv := newTestServer(t, store)

	resp, out := post(t, srv.URL+"/v1/events", pipeline.ObjectEvent{Name: "uploads/bad.png", ContentType: "image/png"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the event is not redelivered", resp.StatusCode)
	}
	if out.State != "failed" || out.Failure != string(workflows.FailureDecode) {
		t.Errorf("state = %q failure = %q", out.State, out.Failure)
	}
}

func TestHandleProcess(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedPNG(t, store, "uploads/p.png")
	srv := newTestServer(t, store)

	tests := []struct {
		name   string
		req    pipeline.ProcessRequest
		status int
	}{
		{"ingest", pipeline.ProcessRequest{Job: pipeline.JobIngest, ObjectKey: "uploads/p.png"}, http.StatusOK},
		{"unknown job", pipeline.ProcessRequest{Job: "thumbnail", ObjectKey: "uploads/p.png"}, http.StatusBadRequest},
		{"missing key", pipeline.ProcessRequest{Job: pipeline.JobIngest}, http.StatusBadRequest},
		{"missing job", pipeline.ProcessRequest{ObjectKey: "uploads/p.png"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := post(t, srv.URL+"/v1/process", tt.req)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status == http.StatusOK && (out.RunID == "" || out.State != "done") {
				t.Errorf("response = %+v", out)
			}
		})
	}
}

func TestRunsRequireDurableQueue(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage())

	for _, path := range []string{"/v1/runs/abc", "/v1/runs"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotImplemented {
			t.Errorf("%s: status = %d, want 501", path, resp.StatusCode)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage())

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health HealthResponse
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health.Status != "healthy" || health.Mode != "sync" {
		t.Errorf("health = %d %+v", resp.StatusCode, health)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing default collectors")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, storage.NewMemoryStorage())
	resp, err := http.Get(srv.URL + "/v1/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
