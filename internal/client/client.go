package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/bingoforbots/internal/protocol"
	"github.com/lox/bingoforbots/internal/replication"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is a websocket observer. Every replicated message is applied to a
// local View before handlers run, so handlers always see the updated state.
type Client struct {
	serverURL   string
	participant string
	spectate    bool
	token       string
	conn        *websocket.Conn
	send        chan protocol.Message
	view        *replication.View
	logger      *log.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
	connected   bool
	closeOnce   sync.Once

	// Event handlers
	eventHandlers map[protocol.MessageType][]EventHandler
}

// EventHandler handles one incoming message. Handlers run on the read
// goroutine in arrival order.
type EventHandler func(protocol.Message)

// NewClient creates a client for participant. Spectators pass spectate and
// hold no card.
func NewClient(serverURL, participant string, spectate bool, poolSize int, logger *log.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.WithPrefix("client")

	viewID := participant
	if spectate {
		viewID = ""
	}

	return &Client{
		serverURL:     serverURL,
		participant:   participant,
		spectate:      spectate,
		send:          make(chan protocol.Message, 256),
		view:          replication.NewView(viewID, poolSize, logger),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		eventHandlers: make(map[protocol.MessageType][]EventHandler),
	}
}

// SetToken sets the bearer token presented when connecting.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Connect establishes a WebSocket connection to the server
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("Connecting to server", "url", c.serverURL, "participant", c.participant)

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Convert http/https to ws/wss
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	q := u.Query()
	if c.participant != "" {
		q.Set("participant", c.participant)
	}
	if c.spectate {
		q.Set("spectate", strconv.FormatBool(true))
	}
	u.RawQuery = q.Encode()

	var header http.Header
	if c.token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readPump()
	go c.writePump()

	c.logger.Info("Connected to server")
	return nil
}

// Disconnect closes the WebSocket connection
func (c *Client) Disconnect() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.conn != nil {
			_ = c.conn.Close()
			c.connected = false
		}
		c.logger.Info("Disconnected from server")
	})
	return nil
}

// Done is closed when the client disconnects.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Participant returns the id the client joined as.
func (c *Client) Participant() string {
	return c.participant
}

// View returns the locally replicated round.
func (c *Client) View() *replication.View {
	return c.view
}

// SendMessage sends a message to the server
func (c *Client) SendMessage(msg protocol.Message) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return fmt.Errorf("send buffer full")
	}
}

// ClaimWin asks the authority to verify this client's card.
func (c *Client) ClaimWin() error {
	msg, err := protocol.NewMessage(protocol.TypeClaimWin, c.view.RoundID(), nil, time.Now())
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// MarkCell marks a cell on the server-side mirror of this client's card.
func (c *Client) MarkCell(index int) error {
	msg, err := protocol.NewMessage(protocol.TypeMarkCell, c.view.RoundID(), protocol.MarkCell{Index: index}, time.Now())
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// readPump handles incoming messages from the server
func (c *Client) readPump() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		_ = c.Disconnect()
	}()

	for {
		var msg protocol.Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.logger.Debug("Received message", "type", msg.Type, "seq", msg.Seq)
		if msg.Type.Replicated() {
			c.view.Apply(msg)
		}
		c.handleMessage(msg)
	}
}

// writePump handles outgoing messages to the server
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleMessage dispatches messages to registered handlers
func (c *Client) handleMessage(msg protocol.Message) {
	c.mu.RLock()
	handlers := c.eventHandlers[msg.Type]
	c.mu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("No handler for message type", "type", msg.Type)
		return
	}
	for _, handler := range handlers {
		handler(msg)
	}
}

// AddEventHandler adds an event handler for a specific message type
func (c *Client) AddEventHandler(messageType protocol.MessageType, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eventHandlers[messageType] = append(c.eventHandlers[messageType], handler)
}

// WaitForMessage waits for a specific message type with timeout
func (c *Client) WaitForMessage(messageType protocol.MessageType, timeout time.Duration) (protocol.Message, error) {
	responseChan := make(chan protocol.Message, 1)

	c.AddEventHandler(messageType, func(msg protocol.Message) {
		select {
		case responseChan <- msg:
		default:
		}
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-responseChan:
		return msg, nil
	case <-timer.C:
		return protocol.Message{}, fmt.Errorf("timeout waiting for %s", messageType)
	case <-c.ctx.Done():
		return protocol.Message{}, c.ctx.Err()
	}
}
