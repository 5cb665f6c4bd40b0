package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trafficeditor.app/internal/sim/controller"
)

func TestSimClient_StatusAndTrigger(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(rw).Encode(controller.Status{RunID: "run_1", Building: "office", Tick: 12, Models: 2, Resets: 1})
	})
	mux.HandleFunc("/admin/v1/reset", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(rw).Encode(actionResult{OK: true, Tick: 12})
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(actionResult{OK: false, Tick: 11, Error: "snapshot sink backpressure"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newSimClient(srv.URL+"/", time.Second)
	st, err := c.status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Tick != 12 || st.Building != "office" {
		t.Fatalf("status: %+v", st)
	}
	if line := formatStatus(st); !strings.Contains(line, "tick=12") || !strings.Contains(line, "resets=1") {
		t.Fatalf("format: %s", line)
	}

	res, err := c.trigger("reset")
	if err != nil || res.Tick != 12 {
		t.Fatalf("reset: %+v err=%v", res, err)
	}
	if _, err := c.trigger("snapshot"); err == nil || !strings.Contains(err.Error(), "backpressure") {
		t.Fatalf("expected backpressure error, got %v", err)
	}
}
