package api

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/cardhost/pkg/logging"
)

const eventWriteTimeout = 5 * time.Second

// handleEvents streams lifecycle events to a websocket client until either
// side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribing before the handshake completes means events published
	// right after the client connects are not lost.
	events, unsubscribe := s.config.Manager.Subscribe()
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.config.Log.Warn(logging.CategoryAPI, "ws_accept_failed", "event websocket accept failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	conn.SetReadLimit(1 << 10)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing meaningful; reading just detects its close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutdown")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "shutdown")
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			writeCancel()
			if err != nil {
				conn.Close(websocket.StatusPolicyViolation, "write failed")
				return
			}
		}
	}
}
