// Package admin serves the local-only control endpoints of a simulator.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"trafficeditor.app/internal/sim/controller"
)

type Controller interface {
	Status() controller.Status
	RequestReset(ctx context.Context) (uint64, error)
	RequestSnapshot(ctx context.Context) (uint64, error)
}

// Register mounts /admin/v1/{state,reset,snapshot}. Every route rejects
// non-loopback callers.
func Register(mux *http.ServeMux, ctl Controller) {
	mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(ctl.Status())
	}))
	mux.HandleFunc("/admin/v1/reset", loopbackOnly(requestHandler(ctl.RequestReset)))
	mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(requestHandler(ctl.RequestSnapshot)))
}

func requestHandler(do func(context.Context) (uint64, error)) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		tick, err := do(ctx)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
	}
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
