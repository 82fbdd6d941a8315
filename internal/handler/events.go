package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// StreamEvents upgrades to a WebSocket and sends one JSON text frame per
// session event. The socket closes normally after the terminal event.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	logger := h.logger.With("session_id", s.ID())

	sub := h.events.Subscribe(s.ID())
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		logger.Warn("failed to accept websocket", "error", err)
		return
	}
	defer conn.CloseNow()

	// Subscribers only listen; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			_ = conn.Close(websocket.StatusNormalClosure, "session finished")
			return
		}
		if err != nil {
			logger.Debug("subscriber left", "error", err)
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error("failed to encode event", "seq", ev.Seq, "error", err)
			continue
		}
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			logger.Debug("failed to write event", "seq", ev.Seq, "error", err)
			return
		}
	}
}
