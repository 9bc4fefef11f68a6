package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"StemForge/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ProgressSource reads the counters of one pipeline run.
type ProgressSource func(ctx context.Context, runID string) (map[string]int64, error)

// ProgressMessage is pushed to subscribers whenever the counters of a run change.
type ProgressMessage struct {
	Type      string           `json:"type"`
	RunID     string           `json:"runId"`
	Counters  map[string]int64 `json:"counters"`
	Timestamp int64            `json:"timestamp"`
}

type progressClient struct {
	hub   *ProgressHub
	conn  *websocket.Conn
	send  chan []byte
	runID string
}

// ProgressHub 管理订阅运行进度的 WebSocket 客户端
//
// All subscriber state is owned by the Run goroutine.
type ProgressHub struct {
	source   ProgressSource
	interval time.Duration

	runs map[string]map[*progressClient]bool
	last map[string]string // last counters sent per run

	register   chan *progressClient
	unregister chan *progressClient
	done       chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewProgressHub polls source every interval for runs that have subscribers.
func NewProgressHub(source ProgressSource, interval time.Duration) *ProgressHub {
	return &ProgressHub{
		source:     source,
		interval:   interval,
		runs:       make(map[string]map[*progressClient]bool),
		last:       make(map[string]string),
		register:   make(chan *progressClient),
		unregister: make(chan *progressClient),
		done:       make(chan struct{}),
	}
}

// Run serves subscribers until ctx is done, then closes every connection.
func (h *ProgressHub) Run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			if h.runs[c.runID] == nil {
				h.runs[c.runID] = make(map[*progressClient]bool)
			}
			h.runs[c.runID][c] = true
			h.push(ctx, c.runID, c)

		case c := <-h.unregister:
			h.remove(c)

		case <-ticker.C:
			for runID := range h.runs {
				h.push(ctx, runID, nil)
			}

		case <-ctx.Done():
			for _, clients := range h.runs {
				for c := range clients {
					close(c.send)
				}
			}
			h.runs = make(map[string]map[*progressClient]bool)
			return
		}
	}
}

// push sends the counters of runID to its subscribers when they changed, and
// to fresh unconditionally.
func (h *ProgressHub) push(ctx context.Context, runID string, fresh *progressClient) {
	counters, err := h.source(ctx, runID)
	if err != nil {
		logger.Warn("Failed to read run progress", logger.String("runId", runID), logger.ErrorField(err))
		return
	}
	key, _ := json.Marshal(counters)
	changed := h.last[runID] != string(key)
	if !changed && fresh == nil {
		return
	}
	h.last[runID] = string(key)

	data, err := json.Marshal(ProgressMessage{
		Type:      "progress",
		RunID:     runID,
		Counters:  counters,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	for c := range h.runs[runID] {
		if !changed && c != fresh {
			continue
		}
		select {
		case c.send <- data:
		default:
			// 发送缓冲区已满，断开慢客户端
			h.remove(c)
		}
	}
}

func (h *ProgressHub) remove(c *progressClient) {
	clients, ok := h.runs[c.runID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.runs, c.runID)
		delete(h.last, c.runID)
	}
}

// ServeRun upgrades the request and streams the progress of run {id}.
func (h *ProgressHub) ServeRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", logger.ErrorField(err))
		return
	}
	c := &progressClient{hub: h, conn: conn, send: make(chan []byte, 16), runID: runID}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	logger.Debug("Progress subscriber joined", logger.String("runId", runID))

	go c.writePump()
	c.readPump()
}

// readPump discards client frames and notices disconnects.
func (c *progressClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err), logger.String("runId", c.runID))
			}
			return
		}
	}
}

func (c *progressClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
