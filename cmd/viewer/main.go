package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"

	"trafficeditor.app/internal/sim"
	"trafficeditor.app/internal/viewerproto"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "viewer ws url")
		models = flag.String("models", "", "comma-separated model names to follow (default: all)")
		events = flag.Bool("events", true, "print behavior events")
		every  = flag.Uint64("every", 30, "print model states every N ticks (0: never)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := viewerproto.SubscribeMsg{
		Type:            viewerproto.TypeSubscribe,
		ProtocolVersion: viewerproto.Version,
		Models:          splitList(*models),
		WithEvents:      *events,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := viewerproto.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case viewerproto.TypeWelcome:
			var w viewerproto.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s run=%s building=%s tick=%d tick_rate=%d models=%d",
				w.SessionID, w.RunID, w.Building, w.Tick, w.TickRateHz, len(w.Models))

		case viewerproto.TypeTick, viewerproto.TypeReset:
			var t viewerproto.TickMsg
			if err := json.Unmarshal(msg, &t); err != nil {
				continue
			}
			handleTick(logger, &t, *every)
		}
	}
}

func handleTick(logger *log.Logger, t *viewerproto.TickMsg, every uint64) {
	if t.Type == viewerproto.TypeReset {
		logger.Printf("RESET tick=%d digest=%.12s", t.Tick, t.Digest)
	}
	for _, ev := range t.Events {
		switch ev.Kind {
		case sim.EventSignal:
			logger.Printf("tick=%d %s signal %s", t.Tick, ev.Source, ev.Signal)
		default:
			logger.Printf("tick=%d %s %s %s -> [%s] (%.2f, %.2f, %.2f)",
				t.Tick, ev.Source, ev.Kind, ev.Target, ev.Vertex, ev.State.X, ev.State.Y, ev.State.Z)
		}
	}
	if every == 0 || t.Tick%every != 0 {
		return
	}
	for _, m := range t.Models {
		fmt.Printf("%8d  %-20s x=%8.3f y=%8.3f z=%6.2f yaw=%7.2f\n", t.Tick, m.Name, m.State.X, m.State.Y, m.State.Z, m.State.Yaw)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
