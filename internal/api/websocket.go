package api

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rawblock/fraudmesh/internal/alert"
	flog "github.com/rawblock/fraudmesh/internal/log"
	"github.com/rawblock/fraudmesh/internal/worker"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient adapts one websocket connection into an alert.Subscriber. A
// slow client is dropped from the current broadcast rather than blocked
// upon: Deliver pushes onto a bounded channel and returns immediately if
// it is full, without treating that as subscriber death.
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	closed  atomic.Bool
	dropped *worker.Counter
}

func (c *wsClient) Deliver(a alert.Alert) error {
	if c.closed.Load() {
		return errClosed
	}
	data, err := json.Marshal(a.Record)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		if c.dropped != nil {
			c.dropped.Inc()
		}
		return nil
	}
}

var errClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "websocket client closed" }

func (c *wsClient) writeLoop() {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.closed.Store(true)
			_ = c.conn.Close()
			return
		}
	}
}

func (c *wsClient) readLoop(onClose func()) {
	defer func() {
		c.closed.Store(true)
		close(c.send)
		_ = c.conn.Close()
		onClose()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// subscribeAlerts upgrades the request and registers a new subscriber on
// the shared broadcaster, following a Hub.Subscribe idiom but
// delivering through the alert.Broadcaster rather than a bare channel.
func (h *Handler) subscribeAlerts(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert broadcaster unavailable"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		flog.For("api").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 256), dropped: h.alertsDropped}
	go client.writeLoop()

	id := h.broadcaster.Subscribe(client)
	flog.For("api").Info().Int("subscribers", h.broadcaster.SubscriberCount()).Msg("websocket client connected")

	client.readLoop(func() {
		h.broadcaster.Unsubscribe(id)
		flog.For("api").Info().Int("subscribers", h.broadcaster.SubscriberCount()).Msg("websocket client disconnected")
	})
}
