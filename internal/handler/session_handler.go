package handler

import (
	"net/http"
	"time"

	"github.com/maspatas/maspatas-bfa-go/internal/domain"
	"github.com/maspatas/maspatas-bfa-go/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ============================================================
// Session
// ============================================================

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func sessionHandler(controller *service.SessionController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, controller.State())
	}
}

// sessionStreamHandler upgrades to a WebSocket and writes the session triple
// as JSON on every change, starting with the current value.
func sessionStreamHandler(controller *service.SessionController, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("session stream upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		states, cancel := controller.Subscribe()
		defer cancel()

		// The reader only drains control frames and notices the peer leaving.
		gone := make(chan struct{})
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(streamPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case st := <-states:
				if err := writeState(conn, st); err != nil {
					logger.Debug("session stream write failed", zap.Error(err))
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-controller.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(streamWriteWait))
				return
			case <-gone:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeState(conn *websocket.Conn, st domain.SessionState) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(st)
}

func visibilityHandler(keepAlive *service.KeepAlive) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.VisibilityRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if keepAlive != nil {
			keepAlive.SetVisible(req.Visible)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
