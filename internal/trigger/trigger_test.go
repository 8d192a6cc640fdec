package trigger

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"math/rand"
	"sync"
	"testing"

	"github.com/tendant/simple-derivative-pipeline/internal/dedupe"
	"github.com/tendant/simple-derivative-pipeline/internal/encoder"
	"github.com/tendant/simple-derivative-pipeline/internal/logging"
	"github.com/tendant/simple-derivative-pipeline/internal/naming"
	"github.com/tendant/simple-derivative-pipeline/internal/scratch"
	"github.com/tendant/simple-derivative-pipeline/internal/storage"
	"github.com/tendant/simple-derivative-pipeline/internal/workflows"
	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

func TestRouterRoute(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		recompress bool
		want       string
	}{
		{"raw upload", "uploads/a.png", true, pipeline.JobIngest},
		{"derivative with recompression", "derivatives/a.webp", true, pipeline.JobRecompress},
		{"derivative without recompression", "derivatives/a.webp", false, ""},
		{"unrelated path", "exports/report.csv", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(naming.DefaultScheme(), tt.recompress)
			if got := r.Route(pipeline.ObjectEvent{Name: tt.path}); got != tt.want {
				t.Errorf("Route(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func noisyPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// pipelineHarness wires a notifying store back into the adapter, the way a
// bucket's finalize events feed the trigger
type pipelineHarness struct {
	mu     sync.Mutex
	events []string
	jobs   map[string][]workflows.State

	mem     *storage.MemoryStorage
	store   *storage.NotifyingStorage
	adapter *Adapter
}

func newHarness(t *testing.T, recompress bool) *pipelineHarness {
	t.Helper()
	space, err := scratch.NewSpace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	h := &pipelineHarness{mem: storage.NewMemoryStorage(), jobs: map[string][]workflows.State{}}
	h.store = storage.NewNotifyingStorage(h.mem, func(path string, meta storage.ObjectMeta) {
		h.mu.Lock()
		h.events = append(h.events, path)
		h.mu.Unlock()

		out, err := h.adapter.Handle(context.Background(), EventFromUpload("test", path, meta))
		if err != nil {
			t.Errorf("handle %s: %v", path, err)
			return
		}
		if out.Result != nil {
			h.mu.Lock()
			h.jobs[out.Job] = append(h.jobs[out.Job], out.Result.State)
			h.mu.Unlock()
		}
	})

	logger := logging.Discard()
	enc := encoder.NewImagingEncoder()
	runner := workflows.NewWorkflowRunner(nil)
	runner.Register(pipeline.JobIngest, workflows.NewIngestWorkflow(h.store, enc, space,
		workflows.IngestConfig{Format: encoder.FormatJPEG}, workflows.WithLogger(logger)))
	runner.Register(pipeline.JobRecompress, workflows.NewRecompressWorkflow(h.store, enc, space,
		workflows.RecompressConfig{}, workflows.WithLogger(logger)))

	h.adapter = NewAdapter(NewRouter(naming.DefaultScheme(), recompress), runner, nil, logger)
	return h
}

func (h *pipelineHarness) upload(t *testing.T, path string, data []byte) {
	t.Helper()
	_, err := h.store.Upload(context.Background(), path, bytes.NewReader(data), storage.ObjectMeta{
		ContentType:    "image/png",
		CustomMetadata: map[string]string{pipeline.MetaProvenanceToken: "tok"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDerivativeWritesDoNotLoop(t *testing.T) {
	h := newHarness(t, true)

	// Large enough that the derivative exceeds the recompression ceiling
	h.upload(t, "uploads/noise.png", noisyPNG(t, 1200, 800))

	want := []string{"uploads/noise.png", "derivatives/noise.jpg", "derivatives/noise.jpg"}
	if len(h.events) != len(want) {
		t.Fatalf("events = %v, want %v", h.events, want)
	}
	for i := range want {
		if h.events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, h.events[i], want[i])
		}
	}

	if got := h.jobs[pipeline.JobIngest]; len(got) != 1 || got[0] != workflows.StateDone {
		t.Errorf("ingest states = %v, want [done]", got)
	}
	// The outer recompression finishes after the nested one filtered itself
	rec := h.jobs[pipeline.JobRecompress]
	if len(rec) != 2 || rec[0] != workflows.StateFilteredOut || rec[1] != workflows.StateDone {
		t.Errorf("recompress states = %v, want [filtered_out done]", rec)
	}

	meta, err := h.mem.GetMetadata(context.Background(), "derivatives/noise.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Custom(pipeline.MetaRecompressed) == "" {
		t.Error("derivative missing recompressed marker")
	}
	if _, err := h.mem.GetMetadata(context.Background(), "derivatives/derivatives/noise.jpg"); err == nil {
		t.Error("derivative of a derivative was written")
	}
}

func TestDerivativeEventsIgnoredWithoutRecompression(t *testing.T) {
	h := newHarness(t, false)
	h.upload(t, "uploads/small.png", noisyPNG(t, 32, 32))

	if len(h.events) != 2 {
		t.Fatalf("events = %v, want raw + derivative", h.events)
	}
	if len(h.jobs[pipeline.JobRecompress]) != 0 {
		t.Errorf("recompression ran: %v", h.jobs[pipeline.JobRecompress])
	}
	if paths := h.mem.Paths(); len(paths) != 2 {
		t.Errorf("stored paths = %v", paths)
	}
}

func TestAdapterSeenCount(t *testing.T) {
	ctx := context.Background()
	ledger, err := dedupe.Open(ctx, ":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	runner := workflows.NewWorkflowRunner(nil)
	runner.Register(pipeline.JobIngest, workflows.NewIngestWorkflow(storage.NewMemoryStorage(),
		encoder.NewImagingEncoder(), nil, workflows.IngestConfig{}, workflows.WithLogger(logging.Discard())))
	a := NewAdapter(NewRouter(naming.DefaultScheme(), false), runner, ledger, logging.Discard())

	ev := pipeline.ObjectEvent{Name: "uploads/missing.png", ContentType: "image/png"}
	for i := 1; i <= 3; i++ {
		out, err := a.Handle(ctx, ev)
		if err != nil {
			t.Fatal(err)
		}
		if out.SeenCount != i {
			t.Errorf("delivery %d: seen count = %d", i, out.SeenCount)
		}
		if out.Result.State != workflows.StateFilteredOut {
			t.Errorf("state = %s", out.Result.State)
		}
		if out.RunID == "" {
			t.Error("empty run ID")
		}
	}
}

func TestOutcomeResponse(t *testing.T) {
	tests := []struct {
		name      string
		outcome   Outcome
		state     string
		transient bool
	}{
		{"ignored", Outcome{}, "filtered_out", false},
		{"queued", Outcome{RunID: "r", Queued: true}, "queued", false},
		{"done", Outcome{Result: &workflows.WorkflowResult{State: workflows.StateDone}}, "done", false},
		{"permanent failure", Outcome{Result: &workflows.WorkflowResult{State: workflows.StateFailed, Failure: workflows.FailureDecode}}, "failed", false},
		{"transient failure", Outcome{Result: &workflows.WorkflowResult{State: workflows.StateFailed, Failure: workflows.FailureUpload}}, "failed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.outcome.Response()
			if resp.State != tt.state {
				t.Errorf("state = %q, want %q", resp.State, tt.state)
			}
			if tt.outcome.Transient() != tt.transient {
				t.Errorf("transient = %v, want %v", tt.outcome.Transient(), tt.transient)
			}
		})
	}
}
