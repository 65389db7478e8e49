package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/baseswap/orchestrator/internal/eventbus"
	"github.com/baseswap/orchestrator/pkg/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod // disconnect after two missed pongs
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient is one connected WebSocket client, grounded on the teacher's
// WSClient (internal/rpc/websocket.go): a bounded outbound queue and a
// readPump/writePump goroutine pair.
type wsClient struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	authenticated bool
	sub           *eventbus.Subscriber
	hub           *wsHub
	log           *logging.Logger
}

type wsHub struct {
	deps       Deps
	register   chan *wsClient
	unregister chan *wsClient
	clients    map[*wsClient]bool
	mu         sync.Mutex
	log        *logging.Logger
}

func newWSHub(deps Deps) *wsHub {
	return &wsHub{
		deps:       deps,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		clients:    make(map[*wsClient]bool),
		log:        logging.GetDefault().Component("api.ws"),
	}
}

func (h *wsHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

func (h *wsHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		log:  h.log,
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

type wsInbound struct {
	Type      string `json:"type"`
	APIKey    string `json:"api_key"`
	Channel   string `json:"channel"`
	SessionID string `json:"session_id"`
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		if c.sub != nil {
			c.hub.deps.Bus.Remove(c.sub.ID)
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendFrame(map[string]interface{}{"type": "error", "code": "invalid_input", "message": "malformed frame"})
			continue
		}

		switch msg.Type {
		case "auth":
			c.handleAuth(msg)
		case "subscribe":
			c.handleSubscribe(msg)
		case "unsubscribe":
			c.handleUnsubscribe(msg)
		default:
			c.sendFrame(map[string]interface{}{"type": "error", "code": "invalid_input", "message": "unknown frame type"})
		}
	}
}

func (c *wsClient) handleAuth(msg wsInbound) {
	ok := msg.APIKey != "" && c.hub.deps.APIKeys[msg.APIKey]
	c.authenticated = ok
	c.sendFrame(map[string]interface{}{
		"type":      "authenticated",
		"success":   ok,
		"client_id": c.id,
	})
}

func (c *wsClient) handleSubscribe(msg wsInbound) {
	if !c.authenticated {
		c.sendFrame(map[string]interface{}{"type": "error", "code": "unauthorized", "message": "authenticate before subscribing"})
		return
	}
	if c.sub == nil {
		c.sub = c.hub.deps.Bus.NewSubscriber(c.id)
		go c.pumpFromBus()
	}

	topic := eventbus.GlobalTopic
	if msg.Channel == "session" && msg.SessionID != "" {
		topic = eventbus.SessionTopic(msg.SessionID)
	}
	c.sub.Subscribe(topic)
}

func (c *wsClient) handleUnsubscribe(msg wsInbound) {
	if c.sub == nil {
		return
	}
	topic := eventbus.GlobalTopic
	if msg.Channel == "session" && msg.SessionID != "" {
		topic = eventbus.SessionTopic(msg.SessionID)
	}
	c.sub.Unsubscribe(topic)
}

// pumpFromBus forwards EventBus messages to this client's send queue,
// translating them into the server-push frames in spec §6.2.
func (c *wsClient) pumpFromBus() {
	for msg := range c.sub.C() {
		frame := framesFor(msg)
		if frame != nil {
			c.sendFrame(frame)
		}
	}
}

func framesFor(msg eventbus.Message) map[string]interface{} {
	data, ok := msg.Data.(map[string]interface{})
	sessionID := ""
	if ok {
		sessionID, _ = data["session_id"].(string)
	}

	switch msg.Type {
	case "session_update":
		return map[string]interface{}{
			"type":       "session_update",
			"session_id": sessionID,
			"status":     data["status"],
			"data":       data,
		}
	case "execution_step":
		return map[string]interface{}{
			"type":       "execution_step",
			"session_id": sessionID,
			"step":       data["step"],
		}
	case "blockchain_event":
		return map[string]interface{}{
			"type":       "blockchain_event",
			"session_id": sessionID,
			"event":      data,
		}
	case "chain_unavailable":
		return map[string]interface{}{
			"type":    "error",
			"code":    "chain_unavailable",
			"message": data["error"],
		}
	default:
		return nil
	}
}

func (c *wsClient) sendFrame(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("failed to encode websocket frame", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("websocket client send buffer full, dropping frame", "client_id", c.id)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
