package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tendant/simple-derivative-pipeline/pkg/pipeline"
)

func TestSendEventStatuses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		state     string
		wantErr   bool
		redeliver bool
	}{
		{"done", http.StatusOK, "done", false, false},
		{"queued", http.StatusAccepted, "queued", false, false},
		{"transient", http.StatusServiceUnavailable, "failed", true, true},
		{"bad request", http.StatusBadRequest, "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/events" || r.Method != http.MethodPost {
					t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
				}
				var ev pipeline.ObjectEvent
				if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Name != "uploads/a.png" {
					t.Errorf("event = %+v err = %v", ev, err)
				}
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(pipeline.ProcessResponse{RunID: "r1", State: tt.state})
			}))
			defer srv.Close()

			resp, err := New(srv.URL).SendEvent(context.Background(), pipeline.ObjectEvent{Name: "uploads/a.png"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrRedeliver) != tt.redeliver {
				t.Errorf("redeliver = %v, want %v", errors.Is(err, ErrRedeliver), tt.redeliver)
			}
			if tt.state != "" && (resp == nil || resp.State != tt.state) {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestStatusAndRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/runs/ingest-1":
			json.NewEncoder(w).Encode(RunStatus{RunID: "ingest-1", State: "SUCCESS"})
		case "/v1/runs":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			json.NewEncoder(w).Encode([]RunStatus{{RunID: "a"}, {RunID: "b"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	status, err := c.Status(context.Background(), "ingest-1")
	if err != nil || status.State != "SUCCESS" {
		t.Fatalf("status = %+v err = %v", status, err)
	}
	runs, err := c.Runs(context.Background(), 5)
	if err != nil || len(runs) != 2 {
		t.Fatalf("runs = %v err = %v", runs, err)
	}
	if _, err := c.Status(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}
