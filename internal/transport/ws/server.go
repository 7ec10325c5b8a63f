// Package ws bridges websocket connections to the session hub.
package ws

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fioworld.ai/internal/server"
	"fioworld.ai/internal/sim/ratelimit"
)

const (
	readDeadline  = 120 * time.Second
	writeDeadline = 5 * time.Second
	maxFrameBytes = 1 << 20
)

type Server struct {
	hub     *server.Hub
	limiter *ratelimit.Limiter
	ipLimit int
	log     *log.Logger

	upgrader websocket.Upgrader
}

// NewServer wires the transport. ipLimit is the configured per-minute budget;
// it is charged per inbound frame, scaled by 10, so it throttles floods
// without interfering with the per-actor action budget.
func NewServer(hub *server.Hub, limiter *ratelimit.Limiter, ipLimit int, logger *log.Logger) *Server {
	return &Server{
		hub:     hub,
		limiter: limiter,
		ipLimit: ipLimit,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
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
		conn.SetReadLimit(maxFrameBytes)

		ip := clientIP(r)
		sess := s.hub.Register()
		defer s.hub.Disconnect(sess)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine: sole owner of writes. Exits when the hub closes
		// the session channel or a write fails.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.Out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			// Frame-level flood control, upstream of authentication.
			if !s.limiter.Check("ip:"+ip, s.ipLimit*10) {
				s.log.Printf("[ws] throttling %s", ip)
				continue
			}
			s.hub.HandleMessage(sess, msg)
		}
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
