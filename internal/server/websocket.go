package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/gobanos/some-platformer/internal/logging"
	"github.com/gobanos/some-platformer/internal/registry"
	"github.com/gobanos/some-platformer/internal/wsstream"
)

// WebSocketHandler upgrades requests and runs a session over binary messages.
// Sessions end when ctx is cancelled.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := registry.PeerID(r.RemoteAddr)
		if !s.acquire() {
			s.metrics.Refused()
			s.log.Warn("websocket refused", logging.String("peer", string(id)), logging.Error(ErrTooManyClients))
			http.Error(w, ErrTooManyClients.Error(), http.StatusServiceUnavailable)
			return
		}
		defer s.release()
		if !s.enterWebSocket() {
			http.Error(w, ErrDraining.Error(), http.StatusServiceUnavailable)
			return
		}
		defer s.wsSessions.Done()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", logging.String("peer", string(id)), logging.Error(err))
			return
		}
		s.run(ctx, id, wsstream.New(conn))
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
