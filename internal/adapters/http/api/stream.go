package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/pkg/logger"
)

// StreamDependencies exposes the live record feed.
type StreamDependencies interface {
	Subscribe(ctx context.Context) (<-chan *model.TelemetryRecord, func())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// StreamHandler pushes processed records to websocket clients.
type StreamHandler struct {
	deps      StreamDependencies
	writeWait time.Duration
	log       logger.Logger
}

// HandleStream handles GET /api/stream. Each processed record is sent as one
// JSON text message; records lost to a slow client are not replayed.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer func() { _ = ws.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	records, unsubscribe := h.deps.Subscribe(ctx)
	defer unsubscribe()

	// the client never sends data; reading only detects the close
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.log.Info(ctx, "stream client connected", logger.String("remote", r.RemoteAddr))
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-records:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(h.writeWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := ws.WriteJSON(rec); err != nil {
				h.log.Debug(ctx, "stream client gone", logger.Error(err))
				return
			}
		}
	}
}
