package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"trafficeditor.app/internal/sim/controller"
	"trafficeditor.app/internal/viewerproto"
)

// Hub is the side of the controller the viewer server talks to.
type Hub interface {
	JoinViewer(ctx context.Context, req controller.ViewerJoinRequest) (viewerproto.WelcomeMsg, error)
	LeaveViewer(sessionID string)
	ViewerQueue() int
}

// Server streams TICK frames to read-only viewers. A viewer opens the
// socket, sends SUBSCRIBE, gets WELCOME and then one frame per tick.
type Server struct {
	hub Hub
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(hub Hub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		hub: hub,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub, ok := readSubscribe(conn)
		if !ok {
			return
		}

		sid := fmt.Sprintf("V%d", s.nextID.Add(1))
		out := make(chan []byte, s.hub.ViewerQueue())

		joinCtx, cancelJoin := context.WithTimeout(r.Context(), 5*time.Second)
		welcome, err := s.hub.JoinViewer(joinCtx, controller.ViewerJoinRequest{
			SessionID:  sid,
			Models:     sub.Models,
			WithEvents: sub.WithEvents,
			Out:        out,
		})
		cancelJoin()
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer s.hub.LeaveViewer(sid)

		if err := writeJSON(conn, welcome); err != nil {
			return
		}
		s.log.Printf("viewer %s joined (%d models)", sid, len(welcome.Models))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Viewers are read-only; the reader only notices the close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("viewer %s left", sid)
	}
}

func readSubscribe(conn *websocket.Conn) (viewerproto.SubscribeMsg, bool) {
	var sub viewerproto.SubscribeMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return sub, false
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
		return sub, false
	}
	if sub.Type != viewerproto.TypeSubscribe {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
		return sub, false
	}
	if sub.ProtocolVersion != viewerproto.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return sub, false
	}
	return sub, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
