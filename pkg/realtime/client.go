// Package realtime is a reconnecting WebSocket client for channel based
// feeds, such as the session channel served by pkg/server.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"walletdash/pkg/config"
	"walletdash/pkg/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the connection state of a Client.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Message types on the wire.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeMessage     = "message"
)

// Message is the frame exchanged with the server.
type Message struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Handler receives the data of messages published on a channel.
type Handler func(data json.RawMessage)

var (
	ErrNotOpen        = errors.New("realtime connection is not open")
	ErrAlreadyStarted = errors.New("realtime client already started")
)

// Options configures a Client.
type Options struct {
	URL                  string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	Dialer               *websocket.Dialer
	Logger               *zap.Logger
	Metrics              *metrics.Metrics
	// OnStateChange is called from the client goroutine on every transition.
	OnStateChange func(State)
}

// Client keeps a WebSocket connection open, reconnecting with linear backoff
// and re-subscribing to active channels after every reconnect.
type Client struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	handlers map[string]Handler
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 5
	}
	return &Client{
		opts:     opts,
		logger:   opts.Logger.Named("realtime"),
		state:    StateClosed,
		handlers: make(map[string]Handler),
	}
}

// FromConfig builds a client from the realtime section of the config file.
func FromConfig(cfg config.RealtimeConfig, logger *zap.Logger, m *metrics.Metrics) *Client {
	return New(Options{
		URL:                  cfg.URL,
		ReconnectInterval:    time.Duration(cfg.ReconnectIntervalMs) * time.Millisecond,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Logger:               logger,
		Metrics:              m,
	})
}

// Backoff returns the delay before reconnect attempt n (1-based).
func (c *Client) Backoff(attempt int) time.Duration {
	return c.opts.ReconnectInterval * time.Duration(attempt)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. It returns immediately; use State or
// OnStateChange to follow progress. The loop ends on Close, when ctx is done
// or when reconnect attempts run out.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.URL == "" {
		return fmt.Errorf("realtime url is not configured")
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.run(ctx, done)
	return nil
}

// Close stops the client and waits for its goroutine to exit.
func (c *Client) Close() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}
	cancel()
	<-done
}

// Done is closed when the connection loop has exited.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Subscribe registers handler for channel and tells the server, if connected.
// The subscription is repeated after every reconnect.
func (c *Client) Subscribe(channel string, handler Handler) error {
	c.mu.Lock()
	c.handlers[channel] = handler
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open {
		return nil
	}
	return c.Send(Message{Type: TypeSubscribe, Channel: channel})
}

func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	delete(c.handlers, channel)
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open {
		return nil
	}
	return c.Send(Message{Type: TypeUnsubscribe, Channel: channel})
}

// Publish sends data on channel.
func (c *Client) Publish(channel string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.Send(Message{Type: TypeMessage, Channel: channel, Data: raw})
}

// Send writes msg to the server. It fails with ErrNotOpen while disconnected.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		c.setState(StateConnecting)
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err == nil {
			attempt = 0
			stop := make(chan struct{})
			go func() {
				select {
				case <-ctx.Done():
					_ = conn.Close()
				case <-stop:
				}
			}()
			c.open(conn)
			err = c.readLoop(conn)
			close(stop)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			_ = conn.Close()
		}
		c.setState(StateClosed)

		if ctx.Err() != nil {
			return
		}

		attempt++
		if attempt > c.opts.MaxReconnectAttempts {
			c.logger.Warn("Giving up on realtime connection", zap.String("url", c.opts.URL), zap.Int("attempts", attempt-1), zap.Error(err))
			return
		}

		delay := c.Backoff(attempt)
		c.opts.Metrics.IncReconnects()
		c.logger.Info("Realtime connection lost, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) open(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	channels := make([]string, 0, len(c.handlers))
	for ch := range c.handlers {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	c.setState(StateOpen)
	c.logger.Info("Realtime connection open", zap.String("url", c.opts.URL))

	for _, ch := range channels {
		if err := c.Send(Message{Type: TypeSubscribe, Channel: ch}); err != nil {
			c.logger.Warn("Resubscribe failed", zap.String("channel", ch), zap.Error(err))
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.logger.Debug("Ignoring malformed realtime frame", zap.Error(err))
				continue
			}
			return err
		}
		if msg.Type != TypeMessage {
			continue
		}

		c.mu.Lock()
		handler := c.handlers[msg.Channel]
		c.mu.Unlock()
		if handler == nil {
			c.logger.Debug("No handler for channel", zap.String("channel", msg.Channel))
			continue
		}
		handler(msg.Data)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}
