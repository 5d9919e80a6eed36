package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"walletdash/pkg/realtime"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ChannelSession carries wallet events.
const ChannelSession = "session"

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]bool
}

func (c *wsClient) send(msg realtime.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// hub tracks WebSocket clients and the channels each one subscribed to.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	logger  *zap.Logger
	// onSubscribe returns the data sent right after a subscribe, if any.
	onSubscribe func(channel string) (interface{}, bool)
}

func newHub(logger *zap.Logger, onSubscribe func(string) (interface{}, bool)) *hub {
	return &hub{
		clients:     make(map[*wsClient]struct{}),
		logger:      logger,
		onSubscribe: onSubscribe,
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// serve runs one client until its connection fails.
func (h *hub) serve(conn *websocket.Conn) {
	client := &wsClient{conn: conn, subs: make(map[string]bool)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg realtime.Message
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return
		}

		switch msg.Type {
		case realtime.TypeSubscribe:
			h.mu.Lock()
			client.subs[msg.Channel] = true
			h.mu.Unlock()
			if data, ok := h.onSubscribe(msg.Channel); ok {
				if err := h.deliver(client, msg.Channel, data); err != nil {
					return
				}
			}
		case realtime.TypeUnsubscribe:
			h.mu.Lock()
			delete(client.subs, msg.Channel)
			h.mu.Unlock()
		default:
			h.logger.Debug("Ignoring client message", zap.String("type", msg.Type), zap.String("channel", msg.Channel))
		}
	}
}

func (h *hub) deliver(client *wsClient, channel string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return client.send(realtime.Message{Type: realtime.TypeMessage, Channel: channel, Data: raw})
}

// broadcast sends data to every client subscribed to channel. Clients that
// cannot be written to are dropped.
func (h *hub) broadcast(channel string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.Error(err))
		return
	}
	msg := realtime.Message{Type: realtime.TypeMessage, Channel: channel, Data: raw}

	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subs[channel] {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			h.logger.Debug("Dropping websocket client", zap.Error(err))
			_ = c.conn.Close()
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
		}
	}
}

// closeAll disconnects every client.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
}
