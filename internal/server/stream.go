package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vanshika/paystream/internal/domain"
)

const writeWait = 10 * time.Second

type streamMessage struct {
	Type string              `json:"type"`
	Data *domain.Transaction `json:"data,omitempty"`
}

// streamTransactions upgrades to a websocket and forwards every processed
// transaction until the client goes away. A slow client loses the oldest
// messages at the hub and never slows the pipeline.
func (h *APIHandlers) streamTransactions(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.service.Subscribe()
	defer h.service.Unsubscribe(sub)
	h.logger.Info("stream client connected", "subscriber", sub.ID(), "remote", r.RemoteAddr)

	// The server's read timeout was armed before the upgrade; pongs extend it.
	readWait := 2 * h.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	// Drain client frames so close and pong control messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	if err := writeMessage(conn, streamMessage{Type: "connected"}); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			h.logger.Info("stream client disconnected", "subscriber", sub.ID(), "dropped", sub.Dropped())
			return
		case tx, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeMessage(conn, streamMessage{Type: "transaction", Data: &tx}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg streamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
