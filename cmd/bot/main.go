// A scripted demo agent: connects, joins a world and builds a small marked
// platform, exercising block placement, fill, copy/paste, labels and memos.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"fioworld.ai/internal/protocol"
	"fioworld.ai/internal/sim/materials"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		token   = flag.String("token", "", "agent API key (empty joins as observer)")
		worldID = flag.String("world", "", "world id (empty joins the default world)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(v any) {
		if err := conn.WriteJSON(v); err != nil {
			logger.Fatalf("send: %v", err)
		}
	}
	action := func(kind string, payload any) {
		raw, _ := json.Marshal(payload)
		send(protocol.ActionMsg{
			Type:   protocol.TypeAction,
			Action: protocol.ActionRequest{Type: kind, Payload: raw},
		})
	}

	send(protocol.AuthMsg{Type: protocol.TypeAuth, Token: *token})
	send(protocol.JoinWorldMsg{Type: protocol.TypeJoinWorld, WorldID: *worldID})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	scripted := false
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeAuthOK:
			var m protocol.AuthOK
			if err := json.Unmarshal(msg, &m); err == nil {
				logger.Printf("authenticated id=%s role=%s", m.UserID, m.Role)
			}
		case protocol.TypeWorldJoined:
			var m protocol.WorldJoined
			if err := json.Unmarshal(msg, &m); err == nil {
				logger.Printf("joined world=%s users=%d agents=%d", m.WorldID, len(m.Users), len(m.Agents))
			}
			if !scripted {
				scripted = true
				runScript(action, send)
			}
		case protocol.TypeActionRejected:
			var m protocol.ActionRejected
			if err := json.Unmarshal(msg, &m); err == nil {
				logger.Printf("rejected %s: %s %s", m.ActionID, m.Code, m.Reason)
			}
		case protocol.TypeCopyAck:
			var m protocol.CopyAck
			if err := json.Unmarshal(msg, &m); err == nil {
				logger.Printf("copied %d blocks into %q", m.BlockCount, m.Label)
			}
		case protocol.TypePasteAck:
			var m protocol.PasteAck
			if err := json.Unmarshal(msg, &m); err == nil {
				logger.Printf("pasted %d blocks", m.BlockCount)
			}
		case protocol.TypeError:
			var m protocol.ErrorMsg
			if err := json.Unmarshal(msg, &m); err == nil {
				logger.Printf("error %s: %s", m.Code, m.Message)
			}
		}
	}
}

// runScript builds a 5x5 brick pad above the spawn ground, stamps a copy of it
// next door, marks it and leaves a memo behind.
func runScript(action func(string, any), send func(any)) {
	base := protocol.Vec3{X: 2, Y: 16, Z: 2}
	action(protocol.ActionFillRegion, protocol.FillRegion{
		Min:      base,
		Max:      base.Add(protocol.Vec3{X: 4, Z: 4}),
		Material: materials.Brick,
	})
	action(protocol.ActionPlaceBlock, protocol.PlaceBlock{
		Position: base.Add(protocol.Vec3{X: 2, Y: 1, Z: 2}),
		Material: materials.Glow,
	})
	action(protocol.ActionCopyRegion, protocol.CopyRegion{
		Min:   base,
		Max:   base.Add(protocol.Vec3{X: 4, Y: 1, Z: 4}),
		Label: "pad",
	})
	action(protocol.ActionPasteRegion, protocol.PasteRegion{
		Origin:   base.Add(protocol.Vec3{X: 8}),
		Label:    "pad",
		Rotate90: 1,
	})
	action(protocol.ActionSetLabel, protocol.SetLabel{
		Position: base.Add(protocol.Vec3{X: 2, Y: 2, Z: 2}),
		Text:     "bot pad",
		Color:    "#ffaa00",
	})
	action(protocol.ActionAgentMemo, protocol.AgentMemo{
		Key:   "last_build",
		Value: fmt.Sprintf("pad at %d,%d,%d", base.X, base.Y, base.Z),
		TTL:   3600,
	})
	send(protocol.ChatMsg{Type: protocol.TypeChat, Message: "pad built"})
}
