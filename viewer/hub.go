package viewer

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/chainreaction/executor/selfplay"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingPeriod   = pongTimeout * 9 / 10
	sendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts completed episodes to websocket clients and keeps the most
// recent ones for late joiners. It implements selfplay.Consumer.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	recent  []EpisodeSummary
	keep    int

	total   atomic.Int64
	dropped atomic.Int64
}

func NewHub(keep int) *Hub {
	if keep <= 0 {
		keep = 50
	}
	return &Hub{clients: make(map[*client]struct{}), keep: keep}
}

// AddEpisode never blocks on slow clients: a client whose buffer is full
// misses the message.
func (h *Hub) AddEpisode(ep *selfplay.Episode) error {
	summary := summarize(ep)
	msg, err := json.Marshal(Event{Type: "episode", Data: summary})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.total.Add(1)
	h.recent = append(h.recent, summary)
	if len(h.recent) > h.keep {
		h.recent = h.recent[len(h.recent)-h.keep:]
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Recent returns the retained summaries, newest last.
func (h *Hub) Recent() []EpisodeSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]EpisodeSummary(nil), h.recent...)
}

// Find returns a retained summary by id.
func (h *Hub) Find(id string) (EpisodeSummary, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.recent {
		if s.ID == id {
			return s, true
		}
	}
	return EpisodeSummary{}, false
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the connection, replays the retained episodes and then
// streams new ones until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	backlog := make([][]byte, 0, len(h.recent))
	for _, s := range h.recent {
		if msg, err := json.Marshal(Event{Type: "episode", Data: s}); err == nil {
			backlog = append(backlog, msg)
		}
	}
	hello, _ := json.Marshal(Event{Type: "hello", Data: map[string]int{"backlog": len(backlog)}})
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop(hello, backlog)
	c.readLoop()

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

// readLoop discards client messages and returns when the connection closes.
func (c *client) readLoop() {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
	}
}

func (c *client) writeLoop(hello []byte, backlog [][]byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	write := func(msg []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return c.conn.WriteMessage(websocket.TextMessage, msg) == nil
	}

	if !write(hello) {
		return
	}
	for _, msg := range backlog {
		if !write(msg) {
			return
		}
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
				return
			}
			if !write(msg) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
