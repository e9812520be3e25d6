package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/wazuhproxy/internal/domain"
)

const errShuttingDown = "Server is shutting down."

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleReadyWatch streams readiness for one connection over a websocket.
// The payload is pushed on connect and on every change, and the stream
// closes once the upstream reports ready.
func (s *Server) handleReadyWatch(w http.ResponseWriter, r *http.Request) {
	apiID := strings.TrimSpace(r.URL.Query().Get("apiId"))
	if apiID == "" {
		writeJSON(w, http.StatusOK, domain.ErrorResponse{Error: "Missing API ID."})
		return
	}
	// Registered before the upgrade so Run never waits on a group that is
	// still growing.
	s.watchers.Add(1)
	defer s.watchers.Done()
	select {
	case <-s.stopping:
		writeJSON(w, http.StatusOK, domain.ErrorResponse{Error: errShuttingDown})
		return
	default:
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("readiness watch upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The reader only exists to observe the client closing.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()

	ctx := r.Context()
	var last *domain.ReadyResponse
	for {
		resp, err := s.svc.Ready(ctx, apiID)
		if err != nil {
			s.writeWS(conn, domain.ErrorResponse{Error: err.Error()})
			return
		}
		if last == nil || *last != resp {
			if !s.writeWS(conn, resp) {
				return
			}
			last = &resp
		}
		if resp.Ready {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, resp.Message),
				time.Now().Add(wsWriteTimeout))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-s.stopping:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.log.Debug("readiness watch write failed", "err", err)
		return false
	}
	return true
}
