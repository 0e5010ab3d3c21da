package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/lox/bingoforbots/internal/evaluator"
)

// EventType represents a game event type with type safety
type EventType string

// EventType constants for in-process game events. These mirror the
// replicated messages but carry richer data for local consumers such as the
// simulator's statistics.
const (
	EventTypeRoundStart    EventType = "round_start"
	EventTypeNumberDrawn   EventType = "number_drawn"
	EventTypeWin           EventType = "win"
	EventTypeClaimRejected EventType = "claim_rejected"
	EventTypeExhausted     EventType = "exhausted"
)

// String returns the string representation of the event type
func (et EventType) String() string {
	return string(et)
}

// GameEvent represents any event that occurs during a round
type GameEvent interface {
	EventType() EventType
	Timestamp() time.Time
}

// RoundStartEvent is published when a round's first number is drawn
type RoundStartEvent struct {
	RoundID      string
	Number       int
	Seed         uint64
	Participants int
	timestamp    time.Time
}

func (e RoundStartEvent) EventType() EventType { return EventTypeRoundStart }
func (e RoundStartEvent) Timestamp() time.Time { return e.timestamp }

// NewRoundStartEvent creates a new round start event
func NewRoundStartEvent(roundID string, number int, seed uint64, participants int, at time.Time) RoundStartEvent {
	return RoundStartEvent{
		RoundID:      roundID,
		Number:       number,
		Seed:         seed,
		Participants: participants,
		timestamp:    at,
	}
}

// NumberDrawnEvent is published for every announced number
type NumberDrawnEvent struct {
	RoundID   string
	Number    int
	Count     int
	timestamp time.Time
}

func (e NumberDrawnEvent) EventType() EventType { return EventTypeNumberDrawn }
func (e NumberDrawnEvent) Timestamp() time.Time { return e.timestamp }

// NewNumberDrawnEvent creates a new number drawn event
func NewNumberDrawnEvent(roundID string, number, count int, at time.Time) NumberDrawnEvent {
	return NumberDrawnEvent{RoundID: roundID, Number: number, Count: count, timestamp: at}
}

// WinEvent is published when a claim is accepted
type WinEvent struct {
	RoundID       string
	ParticipantID string
	Line          evaluator.Line
	Draws         int
	timestamp     time.Time
}

func (e WinEvent) EventType() EventType { return EventTypeWin }
func (e WinEvent) Timestamp() time.Time { return e.timestamp }

// NewWinEvent creates a new win event
func NewWinEvent(roundID, participantID string, line evaluator.Line, draws int, at time.Time) WinEvent {
	return WinEvent{
		RoundID:       roundID,
		ParticipantID: participantID,
		Line:          line,
		Draws:         draws,
		timestamp:     at,
	}
}

// ClaimRejectedEvent is published when a claim fails re-validation
type ClaimRejectedEvent struct {
	RoundID       string
	ParticipantID string
	Reason        string
	timestamp     time.Time
}

func (e ClaimRejectedEvent) EventType() EventType { return EventTypeClaimRejected }
func (e ClaimRejectedEvent) Timestamp() time.Time { return e.timestamp }

// NewClaimRejectedEvent creates a new claim rejected event
func NewClaimRejectedEvent(roundID, participantID, reason string, at time.Time) ClaimRejectedEvent {
	return ClaimRejectedEvent{RoundID: roundID, ParticipantID: participantID, Reason: reason, timestamp: at}
}

// ExhaustedEvent is published when the pool runs out without a winner
type ExhaustedEvent struct {
	RoundID   string
	Draws     int
	timestamp time.Time
}

func (e ExhaustedEvent) EventType() EventType { return EventTypeExhausted }
func (e ExhaustedEvent) Timestamp() time.Time { return e.timestamp }

// NewExhaustedEvent creates a new exhausted event
func NewExhaustedEvent(roundID string, draws int, at time.Time) ExhaustedEvent {
	return ExhaustedEvent{RoundID: roundID, Draws: draws, timestamp: at}
}

// EventSubscriber can subscribe to game events
type EventSubscriber interface {
	OnEvent(event GameEvent)
}

// EventSubscriberFunc adapts a function to EventSubscriber
type EventSubscriberFunc func(event GameEvent)

func (f EventSubscriberFunc) OnEvent(event GameEvent) { f(event) }

// EventBus manages event publishing and subscription
type EventBus interface {
	Subscribe(subscriber EventSubscriber)
	Publish(event GameEvent)
}

// SimpleEventBus is a basic in-memory event bus implementation. Subscribers
// are called synchronously on the publishing goroutine.
type SimpleEventBus struct {
	mu          sync.RWMutex
	subscribers []EventSubscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *SimpleEventBus {
	return &SimpleEventBus{}
}

// Subscribe adds a subscriber to receive events
func (bus *SimpleEventBus) Subscribe(subscriber EventSubscriber) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subscribers = append(bus.subscribers, subscriber)
}

// Publish sends an event to all subscribers
func (bus *SimpleEventBus) Publish(event GameEvent) {
	bus.mu.RLock()
	subs := bus.subscribers
	bus.mu.RUnlock()

	for _, subscriber := range subs {
		subscriber.OnEvent(event)
	}
}

// FormatEvent renders an event as a single log-friendly line
func FormatEvent(event GameEvent) string {
	switch e := event.(type) {
	case RoundStartEvent:
		return fmt.Sprintf("round %d started (%d participants, seed %d)", e.Number, e.Participants, e.Seed)
	case NumberDrawnEvent:
		return fmt.Sprintf("number %d drawn (%d so far)", e.Number, e.Count)
	case WinEvent:
		return fmt.Sprintf("%s wins on %s after %d draws", e.ParticipantID, e.Line, e.Draws)
	case ClaimRejectedEvent:
		return fmt.Sprintf("claim by %s rejected: %s", e.ParticipantID, e.Reason)
	case ExhaustedEvent:
		return fmt.Sprintf("pool exhausted after %d draws", e.Draws)
	default:
		return string(event.EventType())
	}
}
