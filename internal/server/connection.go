package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/bingoforbots/internal/evaluator"
	"github.com/lox/bingoforbots/internal/protocol"
	"github.com/lox/bingoforbots/internal/session"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	sendBufferSize = 256
)

var (
	ErrConnectionClosed = websocket.ErrCloseSent
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Connection is one websocket client. It is a replication sink: a full send
// buffer is reported back to the channel, which retries later.
type Connection struct {
	conn        *websocket.Conn
	send        chan protocol.Message
	participant string
	spectator   bool
	session     *session.Session
	logger      *log.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	now         func() time.Time
}

// NewConnection wraps conn for participant. Spectators hold no card and may
// not send intents.
func NewConnection(conn *websocket.Conn, participant string, spectator bool, sess *session.Session, now func() time.Time, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		conn:        conn,
		send:        make(chan protocol.Message, sendBufferSize),
		participant: participant,
		spectator:   spectator,
		session:     sess,
		logger:      logger.WithPrefix("conn").With("participant", participant),
		ctx:         ctx,
		cancel:      cancel,
		now:         now,
	}
}

// Participant returns the id this connection joined as.
func (c *Connection) Participant() string {
	return c.participant
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Deliver queues a replicated message for the client.
func (c *Connection) Deliver(ctx context.Context, msg protocol.Message) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// reply sends a direct, unsequenced message. Replies are dropped rather than
// retried when the client is not keeping up.
func (c *Connection) reply(msg protocol.Message) {
	if err := c.Deliver(c.ctx, msg); err != nil {
		c.logger.Warn("Dropping reply", "type", msg.Type, "error", err)
	}
}

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}

		c.handleMessage(msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
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
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleMessage processes incoming intents from the client
func (c *Connection) handleMessage(msg protocol.Message) {
	c.logger.Debug("Received message", "type", msg.Type)

	if c.spectator {
		c.sendError(msg, "spectator", "Spectators cannot send "+msg.Type.String())
		return
	}

	switch msg.Type {
	case protocol.TypeClaimWin:
		c.handleClaimWin(msg)

	case protocol.TypeMarkCell:
		var data protocol.MarkCell
		if err := msg.Decode(&data); err != nil {
			c.sendError(msg, "invalid_message", "Failed to parse mark cell data")
			return
		}
		c.handleMarkCell(msg, data)

	default:
		c.sendError(msg, "unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

// handleClaimWin forwards the claim. The verdict reaches the client through
// the replication channel as win_claimed or claim_rejected.
func (c *Connection) handleClaimWin(msg protocol.Message) {
	res, err := c.session.ClaimWin(c.ctx, c.participant)
	if err != nil {
		c.sendError(msg, "claim_failed", err.Error())
		return
	}
	c.logger.Info("Claim handled", "accepted", res.Accepted, "reason", res.Reason)
}

func (c *Connection) handleMarkCell(msg protocol.Message, data protocol.MarkCell) {
	marks, err := c.session.MarkCell(c.participant, data.Index)
	if err != nil {
		c.sendError(msg, "mark_failed", err.Error())
		return
	}

	resp, err := protocol.NewMessage(protocol.TypeMarks, msg.RoundID, protocol.Marks{
		Marks: marks,
		Bingo: evaluator.Check(marks),
	}, c.now())
	if err != nil {
		c.logger.Error("Failed to create marks message", "error", err)
		return
	}
	resp.RequestID = msg.RequestID
	c.reply(resp)
}

// sendError sends an error message to the client
func (c *Connection) sendError(req protocol.Message, code, message string) {
	errorMsg, err := protocol.NewMessage(protocol.TypeError, req.RoundID, protocol.ErrorData{
		Code:    code,
		Message: message,
	}, c.now())
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}
	errorMsg.RequestID = req.RequestID
	c.reply(errorMsg)
}
