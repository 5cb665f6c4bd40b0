package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"trafficeditor.app/internal/sim/controller"
	"trafficeditor.app/internal/sim/model"
	"trafficeditor.app/internal/sim/simtest"
	"trafficeditor.app/internal/viewerproto"
)

type fakeHub struct {
	mu     sync.Mutex
	joined []controller.ViewerJoinRequest
	left   chan string
}

func (h *fakeHub) JoinViewer(_ context.Context, req controller.ViewerJoinRequest) (viewerproto.WelcomeMsg, error) {
	h.mu.Lock()
	h.joined = append(h.joined, req)
	h.mu.Unlock()
	frame, _ := json.Marshal(viewerproto.TickMsg{
		Type:            viewerproto.TypeTick,
		ProtocolVersion: viewerproto.Version,
		Tick:            7,
		Models:          []viewerproto.Model{{Name: "r1", State: model.ModelState{X: 1}}},
	})
	req.Out <- frame
	return viewerproto.WelcomeMsg{
		Type:            viewerproto.TypeWelcome,
		ProtocolVersion: viewerproto.Version,
		SessionID:       req.SessionID,
		Building:        "test",
		Tick:            7,
	}, nil
}

func (h *fakeHub) LeaveViewer(id string) { h.left <- id }
func (h *fakeHub) ViewerQueue() int      { return 4 }

func dial(t *testing.T, srvURL string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srvURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func TestServer_SubscribeWelcomeTick(t *testing.T) {
	hub := &fakeHub{left: make(chan string, 1)}
	logger, _ := simtest.Logger()
	srv := httptest.NewServer(NewServer(hub, logger).Handler())
	defer srv.Close()

	conn := dial(t, srv.URL)
	sub := viewerproto.SubscribeMsg{Type: viewerproto.TypeSubscribe, ProtocolVersion: viewerproto.Version, Models: []string{"r1"}, WithEvents: true}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write: %v", err)
	}

	var welcome viewerproto.WelcomeMsg
	readJSON(t, conn, &welcome)
	if welcome.Type != viewerproto.TypeWelcome || welcome.SessionID != "V1" {
		t.Fatalf("welcome: %+v", welcome)
	}
	var tick viewerproto.TickMsg
	readJSON(t, conn, &tick)
	if tick.Tick != 7 || len(tick.Models) != 1 {
		t.Fatalf("tick: %+v", tick)
	}

	hub.mu.Lock()
	req := hub.joined[0]
	hub.mu.Unlock()
	if !req.WithEvents || len(req.Models) != 1 || cap(req.Out) != 4 {
		t.Fatalf("join request: %+v", req)
	}

	_ = conn.Close()
	select {
	case id := <-hub.left:
		if id != "V1" {
			t.Fatalf("left: %s", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("viewer never left")
	}
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	hub := &fakeHub{left: make(chan string, 1)}
	srv := httptest.NewServer(NewServer(hub, nil).Handler())
	defer srv.Close()

	for _, msg := range []any{
		map[string]any{"type": "HELLO", "protocol_version": viewerproto.Version},
		map[string]any{"type": viewerproto.TypeSubscribe, "protocol_version": "9.9"},
	} {
		conn := dial(t, srv.URL)
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("expected policy close, got %v", err)
		}
		_ = conn.Close()
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.joined) != 0 {
		t.Fatalf("bad handshakes should not join")
	}
}
