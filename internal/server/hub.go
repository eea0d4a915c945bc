package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signal-scorer/internal/metrics"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 16
)

// wsClient pairs a connection with its outbound queue. The client's write
// loop is the only goroutine that writes to the connection.
type wsClient struct {
	conn *websocket.Conn
	send chan interface{}
}

// Hub pushes scoring events (predictions, training completions) to connected
// WebSocket clients. A single loop owns the client set and fans events out
// through per-client buffered queues; a client whose queue is full is dropped
// rather than allowed to stall the broadcast.
type Hub struct {
	register   chan *wsClient
	unregister chan *wsClient
	events     chan interface{}
	done       chan struct{}
	closeOnce  sync.Once
	upgrader   websocket.Upgrader
	met        *metrics.Metrics
	log        zerolog.Logger
}

func NewHub(met *metrics.Metrics, log zerolog.Logger) *Hub {
	h := &Hub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan interface{}, 64),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		met: met,
		log: log.With().Str("component", "ws_hub").Logger(),
	}
	go h.run()
	return h
}

// run owns the client set. Register, unregister and fan-out all happen here,
// so no connection is ever handled by two goroutines at once.
func (h *Hub) run() {
	clients := make(map[*wsClient]bool)
	drop := func(c *wsClient) {
		if clients[c] {
			delete(clients, c)
			close(c.send)
			h.met.WSClients.Add(-1)
		}
	}

	for {
		select {
		case c := <-h.register:
			clients[c] = true
			h.met.WSClients.Add(1)
		case c := <-h.unregister:
			drop(c)
		case ev := <-h.events:
			for c := range clients {
				select {
				case c.send <- ev:
				default:
					drop(c)
				}
			}
		case <-h.done:
			for c := range clients {
				drop(c)
			}
			return
		}
	}
}

// HandleWS upgrades the request and registers the client until it
// disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsClient{conn: conn, send: make(chan interface{}, wsSendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("stats client connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop drains the outbound queue until the hub drops the client or a
// write fails.
func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.notifyUnregister(c)
			return
		}
	}
}

// readLoop drains control frames; any read error means the client is gone.
func (h *Hub) readLoop(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.notifyUnregister(c)
			return
		}
	}
}

func (h *Hub) notifyUnregister(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues one JSON event for every connected client.
func (h *Hub) Broadcast(event interface{}) {
	select {
	case h.events <- event:
	case <-h.done:
	}
}

// Close disconnects all clients and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
