package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/service/observer"
	"github.com/sirupsen/logrus"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

type Handler struct {
	streamService *observer.StatusStreamService
	upgrader      websocket.Upgrader
}

func NewOrderStatusWSHandler(streamService *observer.StatusStreamService) *Handler {
	return &Handler{
		streamService: streamService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// status streams are public and read-only
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/orders/{orderId}/stream", h.StreamOrderStatus)
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) send(msg observer.StreamMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.writeMessage(websocket.TextMessage, payload)
}

func (h *Handler) StreamOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")

	loop := false
	if raw := strings.TrimSpace(r.URL.Query().Get("loop")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid loop flag", http.StatusBadRequest)
			return
		}
		loop = parsed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := logrus.WithFields(logrus.Fields{
		"order_id": orderID,
		"loop":     loop,
		"remote":   r.RemoteAddr,
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{conn: conn}
	go readPump(ctx, cancel, conn)
	go pingPump(ctx, c)

	err = h.streamService.Stream(ctx, orderID, observer.StreamOptions{Loop: loop}, c.send)
	switch {
	case err == nil:
	case errors.Is(err, entity.ErrOrderNotFound):
		logger.Info("stream requested for unknown order")
	default:
		logger.WithError(err).Warn("order status stream ended")
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream completed")
	_ = c.writeMessage(websocket.CloseMessage, closeMsg)
}

// readPump drains client frames so control messages are processed, and cancels the
// stream once the client goes away.
func readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func pingPump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
