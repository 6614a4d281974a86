package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/invisible-tech/ips-responder/internal/eventbus"
)

// CheckOrigin is left nil so only same-origin browsers may connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// nextOrIdle waits up to idle for the next line. idle is true when nothing
// arrived in time and the client is still connected.
func nextOrIdle(ctx context.Context, sub *eventbus.Subscription, wait time.Duration) (line string, idle bool, err error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	line, err = sub.Next(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", true, nil
	}
	return line, false, err
}

// handleLogStream streams bus lines as server-sent events until the client
// goes away.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// The stream outlives the server's write timeout.
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.bus.Subscribe()
	defer sub.Close()

	ctx := r.Context()
	for {
		line, idle, err := nextOrIdle(ctx, sub, s.keepAlive)
		if err != nil {
			return
		}
		if idle {
			fmt.Fprint(w, ": keepalive\n\n")
		} else {
			for _, part := range strings.Split(line, "\n") {
				fmt.Fprintf(w, "data: %s\n", part)
			}
			fmt.Fprint(w, "\n")
		}
		flusher.Flush()
	}
}

// handleWebSocket streams bus lines as websocket text frames.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(512)
	// Read pump: only control frames are expected; an error means the peer left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := s.bus.Subscribe()
	defer sub.Close()

	for {
		line, idle, err := nextOrIdle(ctx, sub, s.keepAlive)
		if err != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
		deadline := time.Now().Add(10 * time.Second)
		if idle {
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
			continue
		}
		conn.SetWriteDeadline(deadline)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
}
