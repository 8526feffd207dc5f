package events

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go-wiki-collab/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Hub is the in-process websocket transport: browsers subscribe to a page's
// channel and receive every event published for it. Slow clients are
// dropped rather than allowed to back-pressure the engine.
type Hub struct {
	log logger.Logger

	mu    sync.RWMutex
	pages map[int64]map[*client]struct{}

	upgrader websocket.Upgrader
}

type client struct {
	pageID int64
	conn   *websocket.Conn
	send   chan []byte
}

// NewHub creates a websocket hub.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		log:   log,
		pages: make(map[int64]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The channel is notify-only, but it still leaks editor names
			// and activity, so browser subscribers must come from our own
			// origin. Non-browser clients send no Origin header.
			CheckOrigin: sameOrigin,
		},
	}
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Publish implements Publisher.
func (h *Hub) Publish(pageID int64, eventType string, payload interface{}) {
	data, err := json.Marshal(Event{
		PageID:    pageID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Error(err, "Failed to marshal event")
		return
	}

	h.mu.RLock()
	clients := h.pages[pageID]
	var dropped []*client
	for c := range clients {
		select {
		case c.send <- data:
		default:
			dropped = append(dropped, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dropped {
		h.remove(c)
	}
}

// ServeWS upgrades the request to a websocket subscribed to one page.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, pageID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(err, "Failed to upgrade websocket")
		return
	}

	c := &client{pageID: pageID, conn: conn, send: make(chan []byte, 32)}

	h.mu.Lock()
	if h.pages[pageID] == nil {
		h.pages[pageID] = make(map[*client]struct{})
	}
	h.pages[pageID][c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
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

// readPump discards inbound frames; the channel is notify-only. It exists
// to process pongs and to notice when the peer goes away.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if clients, ok := h.pages[c.pageID]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
			if len(clients) == 0 {
				delete(h.pages, c.pageID)
			}
		}
	}
	h.mu.Unlock()
	c.conn.Close()
}
