package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"chunkhost.ai/internal/protocol"
)

// bot walks a held ticket around the world: every step it re-sends HOLD with
// the same hold id one chunk further, so the server keeps the new
// neighbourhood loaded and lets the old one expire.
func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "client name")
		level  = flag.String("level", "TICKING", "hold level")
		radius = flag.Int("radius", 1, "Ticking radius")
		every  = flag.Duration("every", 2*time.Second, "time between moves")
		steps  = flag.Int("steps", 0, "stop after this many moves (0 = run until interrupted)")
		seed   = flag.Int64("seed", 0, "random walk seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(s))

	go readLoop(conn, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	tick := time.NewTicker(*every)
	defer tick.Stop()

	var pos [3]int64
	for i := 0; *steps == 0 || i <= *steps; i++ {
		hold := protocol.HoldMsg{
			Type:            protocol.TypeHold,
			ProtocolVersion: protocol.Version,
			HoldID:          "walk",
			Coordinate:      pos,
			Level:           *level,
			Radius:          *radius,
		}
		if err := conn.WriteJSON(hold); err != nil {
			logger.Printf("send HOLD: %v", err)
			return
		}
		select {
		case <-stop:
			release(conn, logger)
			return
		case <-tick.C:
		}
		// One chunk along x or z.
		axis := 0
		if r.Intn(2) == 1 {
			axis = 2
		}
		pos[axis] += int64(r.Intn(3) - 1)
	}
	release(conn, logger)
}

func release(conn *websocket.Conn, logger *log.Logger) {
	msg := protocol.ReleaseMsg{Type: protocol.TypeRelease, ProtocolVersion: protocol.Version, HoldID: "walk"}
	if err := conn.WriteJSON(msg); err != nil {
		logger.Printf("send RELEASE: %v", err)
		return
	}
	time.Sleep(200 * time.Millisecond)
}

func readLoop(conn *websocket.Conn, logger *log.Logger) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s seed=%s expiration_ms=%d", w.SessionID, w.World.Seed, w.World.ExpirationMS)
		case protocol.TypeHeld:
			var h protocol.HeldMsg
			if err := json.Unmarshal(msg, &h); err == nil {
				logger.Printf("HELD %s %s chunks=%d", h.HoldID, h.Ticket, h.Chunks)
			}
		case protocol.TypeRealized:
			var rm protocol.RealizedMsg
			if err := json.Unmarshal(msg, &rm); err == nil {
				logger.Printf("REALIZED %s %s loaded=%d reused=%d failed=%d", rm.HoldID, rm.Outcome, rm.Loaded, rm.Reused, rm.Failed)
			}
		case protocol.TypeReleased:
			logger.Printf("RELEASED")
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err == nil {
				logger.Printf("ERROR %s: %s", e.Code, e.Message)
			}
		}
	}
}
