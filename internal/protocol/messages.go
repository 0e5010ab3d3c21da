package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lox/bingoforbots/internal/card"
	"github.com/lox/bingoforbots/internal/evaluator"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Authority -> observers
	TypeNumberAnnounced MessageType = "number_announced"
	TypeCardAssigned    MessageType = "card_assigned"
	TypeWinClaimed      MessageType = "win_claimed"
	TypeRoundReset      MessageType = "round_reset"
	TypeClaimRejected   MessageType = "claim_rejected"
	TypeRoundExhausted  MessageType = "round_exhausted"

	// Observer -> authority
	TypeClaimWin MessageType = "claim_win"
	TypeMarkCell MessageType = "mark_cell"

	// Direct replies
	TypeMarks MessageType = "marks"
	TypeError MessageType = "error"
)

// String returns the string representation of the message type
func (t MessageType) String() string {
	return string(t)
}

// Replicated reports whether messages of this type flow through the
// replication channel and carry a sequence number.
func (t MessageType) Replicated() bool {
	switch t {
	case TypeNumberAnnounced, TypeCardAssigned, TypeWinClaimed,
		TypeRoundReset, TypeClaimRejected, TypeRoundExhausted:
		return true
	}
	return false
}

// Reasons sent with ClaimRejected.
const (
	ReasonNotInProgress = "round not in progress"
	ReasonNoCard        = "no card assigned"
	ReasonNoLine        = "no complete line"
)

var ErrNoData = errors.New("message has no data")

// Message is the envelope for everything sent over the wire. Seq is assigned
// by the replication channel; Recipient is empty for broadcasts.
type Message struct {
	Type      MessageType     `json:"type"`
	Seq       uint64          `json:"seq,omitempty"`
	RoundID   string          `json:"roundId,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a message with data encoded as JSON.
func NewMessage(messageType MessageType, roundID string, data any, now time.Time) (Message, error) {
	msg := Message{
		Type:      messageType,
		RoundID:   roundID,
		Timestamp: now,
	}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", messageType, err)
	}
	msg.Data = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("decode %s: %w", m.Type, ErrNoData)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// IsBroadcast reports whether the message goes to every subscriber.
func (m Message) IsBroadcast() bool {
	return m.Recipient == ""
}

// For reports whether subscriber id should receive the message.
func (m Message) For(id string) bool {
	return m.Recipient == "" || m.Recipient == id
}

// Authority -> observer payloads

type NumberAnnounced struct {
	Number int `json:"number"`
	Count  int `json:"count"`
}

// CardAssigned carries a participant's card. ParticipantID is empty when one
// shared card is dealt to everyone.
type CardAssigned struct {
	ParticipantID string    `json:"participantId,omitempty"`
	Card          card.Card `json:"card"`
}

type WinClaimed struct {
	ParticipantID string         `json:"participantId"`
	Line          evaluator.Line `json:"line"`
	// Lines lists every complete line, Line first.
	Lines []evaluator.Line `json:"lines,omitempty"`
	Draws int              `json:"draws"`
}

type RoundReset struct {
	RoundID string `json:"roundId"`
	Seed    uint64 `json:"seed,string"`
	Number  int    `json:"number"`
}

type ClaimRejected struct {
	ParticipantID string `json:"participantId"`
	Reason        string `json:"reason"`
}

type RoundExhausted struct {
	Draws int `json:"draws"`
}

// Observer -> authority payloads

type MarkCell struct {
	Index int `json:"index"`
}

// Reply payloads

type Marks struct {
	Marks card.Marks `json:"marks"`
	Bingo bool       `json:"bingo"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
