package websocket

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// maxReadSize bounds client-to-server frames. Clients only send control
// frames, so anything larger ends the connection.
const maxReadSize = 4096

// Handler upgrades a request and streams findings to it. The optional
// min_score query parameter filters the stream.
type Handler struct {
	bc           *Broadcaster
	logger       *slog.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewHandler returns a Handler backed by bc. writeTimeout <= 0 defaults to
// 10 seconds.
func NewHandler(bc *Broadcaster, logger *slog.Logger, writeTimeout time.Duration) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Handler{
		bc:           bc,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	minScore := math.MinInt32
	if v := r.URL.Query().Get("min_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "min_score must be an integer", http.StatusBadRequest)
			return
		}
		minScore = n
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket: upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	client := h.bc.Register(id, minScore)
	defer h.bc.Unregister(id)

	h.logger.Info("websocket: client connected",
		slog.String("client_id", id),
		slog.String("remote_addr", r.RemoteAddr))

	// The reader only notices close frames and disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxReadSize)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			h.logger.Info("websocket: client disconnected",
				slog.String("client_id", id),
				slog.Int64("dropped", client.Dropped()))
			return
		case msg, ok := <-client.Send():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Warn("websocket: write failed",
					slog.String("client_id", id), slog.Any("error", err))
				return
			}
		}
	}
}
