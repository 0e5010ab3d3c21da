package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/bingoforbots/internal/card"
	"github.com/lox/bingoforbots/internal/evaluator"
)

var (
	ErrNotAuthority       = errors.New("only the authority may change round state")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrUnknownInput       = errors.New("unknown input")
)

// Role identifies who is driving the engine.
type Role int

const (
	RoleObserver Role = iota
	RoleAuthority
)

func (r Role) String() string {
	switch r {
	case RoleAuthority:
		return "authority"
	case RoleObserver:
		return "observer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Status is the round's position in the state machine.
type Status int

const (
	StatusIdle Status = iota
	StatusDrawing
	StatusExhausted
	StatusWonPendingReset
	StatusResetting
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDrawing:
		return "drawing"
	case StatusExhausted:
		return "exhausted"
	case StatusWonPendingReset:
		return "won_pending_reset"
	case StatusResetting:
		return "resetting"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StatusIdle
	case "drawing":
		*s = StatusDrawing
	case "exhausted":
		*s = StatusExhausted
	case "won_pending_reset":
		*s = StatusWonPendingReset
	case "resetting":
		*s = StatusResetting
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}

// Round is the authoritative state of one round.
type Round struct {
	ID      string `json:"id"`
	Number  int    `json:"number"`
	Seed    uint64 `json:"seed,string"`
	Drawn   []int  `json:"drawn"`
	Current int    `json:"current"`
	Status  Status `json:"status"`
}

// InputKind enumerates the transitions Step accepts.
type InputKind int

const (
	InputStart InputKind = iota
	InputTick
	InputClaim
	InputReset
	InputForceReset
	InputJoin
	InputLeave
	InputHalt
)

func (k InputKind) String() string {
	switch k {
	case InputStart:
		return "start"
	case InputTick:
		return "tick"
	case InputClaim:
		return "claim"
	case InputReset:
		return "reset"
	case InputForceReset:
		return "force_reset"
	case InputJoin:
		return "join"
	case InputLeave:
		return "leave"
	case InputHalt:
		return "halt"
	default:
		return fmt.Sprintf("input(%d)", int(k))
	}
}

// Input is one event for the state machine.
type Input struct {
	Kind        InputKind
	Participant string
}

// Start begins drawing.
func Start() Input { return Input{Kind: InputStart} }

// Tick checks the timers.
func Tick() Input { return Input{Kind: InputTick} }

// Claim asks the engine to verify a win for participant.
func Claim(participant string) Input { return Input{Kind: InputClaim, Participant: participant} }

// Reset prepares a fresh round.
func Reset() Input { return Input{Kind: InputReset} }

// ForceReset stops both timers and rests in idle.
func ForceReset() Input { return Input{Kind: InputForceReset} }

// Join registers participant.
func Join(participant string) Input { return Input{Kind: InputJoin, Participant: participant} }

// Leave drops participant and its card.
func Leave(participant string) Input { return Input{Kind: InputLeave, Participant: participant} }

// Halt stops the timers for shutdown.
func Halt() Input { return Input{Kind: InputHalt} }

// ClaimResult is the outcome of a win claim.
type ClaimResult struct {
	Accepted bool           `json:"accepted"`
	Reason   string         `json:"reason,omitempty"`
	Line     evaluator.Line `json:"line"`
	Draws    int            `json:"draws"`
}

// Result is what Step reports back to the caller.
type Result struct {
	Status Status
	Claim  ClaimResult
	Card   *card.Card
}

// Participant is a snapshot of one registered participant.
type Participant struct {
	ID      string `json:"id"`
	HasCard bool   `json:"hasCard"`
}

// Snapshot is a point-in-time copy of the engine state.
type Snapshot struct {
	Round               Round           `json:"round"`
	Remaining           int             `json:"remaining"`
	Participants        []Participant   `json:"participants"`
	Winner              string          `json:"winner,omitempty"`
	WinLine             *evaluator.Line `json:"winLine,omitempty"`
	AnnounceRunning     bool            `json:"announceRunning"`
	AnnounceDeadline    time.Time       `json:"announceDeadline,omitzero"`
	CelebrationRunning  bool            `json:"celebrationRunning"`
	CelebrationDeadline time.Time       `json:"celebrationDeadline,omitzero"`
}
