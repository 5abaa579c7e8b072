package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientSendSize = 32
)

var ErrHubStopped = errors.New("realtime hub is stopped")

// Message is the JSON frame written to stream clients.
type Message struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  any    `json:"data"`
}

type client struct {
	topic string
	conn  *websocket.Conn
	send  chan []byte
}

type envelope struct {
	topic   string
	payload []byte
}

// Hub fans messages out to the websocket clients attached to a topic. Clients that
// cannot keep up are dropped.
type Hub struct {
	topics     map[string]map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan envelope
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan envelope, 64),
		done:       make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for topic, clients := range h.topics {
				for c := range clients {
					close(c.send)
				}
				delete(h.topics, topic)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			clients, ok := h.topics[c.topic]
			if !ok {
				clients = make(map[*client]struct{})
				h.topics[c.topic] = clients
			}
			clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()
		case env := <-h.broadcast:
			h.mu.Lock()
			for c := range h.topics[env.topic] {
				select {
				case c.send <- env.payload:
				default:
					h.remove(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(c *client) {
	clients, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.topics, c.topic)
	}
}

// Publish queues a message for every client of topic.
func (h *Hub) Publish(ctx context.Context, topic, msgType string, data any) error {
	payload, err := json.Marshal(Message{Topic: topic, Type: msgType, Data: data})
	if err != nil {
		return err
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.broadcast <- envelope{topic: topic, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers returns how many clients are attached to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Attach streams topic to conn and blocks until the client goes away, ctx is done or
// the hub stops. The connection is closed on return.
func (h *Hub) Attach(ctx context.Context, topic string, conn *websocket.Conn) error {
	c := &client{topic: topic, conn: conn, send: make(chan []byte, clientSendSize)}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return ErrHubStopped
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}

	logger := util.Log(ctx).WithField("topic", topic)
	logger.Debug("stream client attached")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(c)
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readPump(c)
	}()

	select {
	case <-readErr:
	case <-writerDone:
	case <-ctx.Done():
	}

	select {
	case h.unregister <- c:
	case <-h.done:
	}
	<-writerDone
	_ = conn.Close()

	logger.Debug("stream client detached")
	return nil
}

// readPump drains client frames so control messages are processed.
func (h *Hub) readPump(c *client) error {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
