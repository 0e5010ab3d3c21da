package replication

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lox/bingoforbots/internal/card"
	"github.com/lox/bingoforbots/internal/evaluator"
	"github.com/lox/bingoforbots/internal/protocol"
)

// View is an observer's copy of the round, rebuilt purely from replicated
// messages. Apply is idempotent: duplicates, stale rounds and malformed
// numbers leave it unchanged.
type View struct {
	participant string
	poolSize    int
	logger      *log.Logger

	mu        sync.RWMutex
	lastSeq   uint64
	roundID   string
	seed      uint64
	drawn     []int
	drawnSet  map[int]bool
	current   int
	card      card.Card
	hasCard   bool
	marks     card.Marks
	winner    string
	winLine   evaluator.Line
	exhausted bool
	rejected  string
}

// ViewState is a point-in-time copy of a View.
type ViewState struct {
	LastSeq   uint64         `json:"lastSeq"`
	RoundID   string         `json:"roundId"`
	Seed      uint64         `json:"seed,string"`
	Drawn     []int          `json:"drawn"`
	Current   int            `json:"current"`
	Card      *card.Card     `json:"card,omitempty"`
	Marks     card.Marks     `json:"marks"`
	Winner    string         `json:"winner,omitempty"`
	WinLine   evaluator.Line `json:"winLine"`
	Exhausted bool           `json:"exhausted"`
	Rejected  string         `json:"rejected,omitempty"`
}

// NewView creates an empty view for participant. Spectators pass "" and only
// accept shared cards.
func NewView(participant string, poolSize int, logger *log.Logger) *View {
	return &View{
		participant: participant,
		poolSize:    poolSize,
		logger:      logger.WithPrefix("view").With("participant", participant),
		drawnSet:    make(map[int]bool),
		marks:       card.NewMarks(),
	}
}

// Deliver lets a View act as a replication Sink directly.
func (v *View) Deliver(_ context.Context, msg protocol.Message) error {
	v.Apply(msg)
	return nil
}

// Apply folds one message into the view. It reports whether anything changed.
func (v *View) Apply(msg protocol.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if msg.Seq != 0 && msg.Seq <= v.lastSeq {
		return false
	}
	if !msg.For(v.participant) {
		return false
	}

	changed := v.apply(msg)
	if msg.Seq != 0 {
		v.lastSeq = msg.Seq
	}
	return changed
}

func (v *View) apply(msg protocol.Message) bool {
	switch msg.Type {
	case protocol.TypeRoundReset:
		var data protocol.RoundReset
		if err := msg.Decode(&data); err != nil {
			v.logger.Warn("Dropping malformed round reset", "error", err)
			return false
		}
		v.roundID = data.RoundID
		v.seed = data.Seed
		v.drawn = nil
		v.drawnSet = make(map[int]bool)
		v.current = 0
		v.card = card.Card{}
		v.hasCard = false
		v.marks = card.NewMarks()
		v.winner = ""
		v.winLine = evaluator.Line{}
		v.exhausted = false
		v.rejected = ""
		return true

	case protocol.TypeCardAssigned:
		var data protocol.CardAssigned
		if err := msg.Decode(&data); err != nil {
			v.logger.Warn("Dropping malformed card", "error", err)
			return false
		}
		if data.ParticipantID != "" && data.ParticipantID != v.participant {
			return false
		}
		if !v.currentRound(msg.RoundID) {
			return false
		}
		if v.hasCard && v.card == data.Card {
			return false
		}
		v.card = data.Card
		v.hasCard = true
		v.marks = card.NewMarks()
		return true

	case protocol.TypeNumberAnnounced:
		var data protocol.NumberAnnounced
		if err := msg.Decode(&data); err != nil {
			v.logger.Warn("Dropping malformed announcement", "error", err)
			return false
		}
		n := data.Number
		if !v.currentRound(msg.RoundID) || n <= 0 || n > v.poolSize || v.drawnSet[n] {
			v.logger.Debug("Ignoring announcement", "number", n, "round", msg.RoundID)
			return false
		}
		v.drawn = append(v.drawn, n)
		v.drawnSet[n] = true
		v.current = n
		return true

	case protocol.TypeWinClaimed:
		var data protocol.WinClaimed
		if err := msg.Decode(&data); err != nil || !v.currentRound(msg.RoundID) {
			return false
		}
		v.winner = data.ParticipantID
		v.winLine = data.Line
		return true

	case protocol.TypeClaimRejected:
		var data protocol.ClaimRejected
		if err := msg.Decode(&data); err != nil {
			return false
		}
		v.rejected = data.Reason
		return true

	case protocol.TypeRoundExhausted:
		if !v.currentRound(msg.RoundID) {
			return false
		}
		v.exhausted = true
		return true
	}
	return false
}

// currentRound accepts messages for the adopted round. Before the first
// reset any round is accepted.
func (v *View) currentRound(roundID string) bool {
	return v.roundID == "" || roundID == "" || roundID == v.roundID
}

// MarkCell marks a cell if its number has been drawn. FREE is always marked.
// It reports whether the cell is marked afterwards.
func (v *View) MarkCell(index int) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n, err := v.card.At(index)
	if err != nil {
		return false, err
	}
	if !v.hasCard {
		return false, nil
	}
	if n == card.Free {
		return true, nil
	}
	if !v.drawnSet[n] {
		return false, nil
	}
	return true, v.marks.Mark(index)
}

// AutoMark marks every drawn number on the card and returns the new count.
func (v *View) AutoMark() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.hasCard {
		v.marks = v.card.MarksFor(func(n int) bool { return v.drawnSet[n] })
	}
	return v.marks.Count()
}

// Bingo runs the same line check the authority does on the local marks.
func (v *View) Bingo() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.hasCard && evaluator.Check(v.marks)
}

// Missing returns how many cells the closest line still needs. Without a
// card it reports a full line.
func (v *View) Missing() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.hasCard {
		return card.Size
	}
	return evaluator.Missing(v.marks)
}

// Marks returns a copy of the marks grid.
func (v *View) Marks() card.Marks {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.marks
}

// Card returns the assigned card, if any.
func (v *View) Card() (card.Card, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.card, v.hasCard
}

// Current returns the most recent number, or 0.
func (v *View) Current() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Drawn returns the drawn numbers in order.
func (v *View) Drawn() []int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]int, len(v.drawn))
	copy(out, v.drawn)
	return out
}

// RoundID returns the adopted round.
func (v *View) RoundID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.roundID
}

// LastSeq returns the highest sequence number applied.
func (v *View) LastSeq() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastSeq
}

// Snapshot copies the whole view.
func (v *View) Snapshot() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()

	state := ViewState{
		LastSeq:   v.lastSeq,
		RoundID:   v.roundID,
		Seed:      v.seed,
		Drawn:     append([]int(nil), v.drawn...),
		Current:   v.current,
		Marks:     v.marks,
		Winner:    v.winner,
		WinLine:   v.winLine,
		Exhausted: v.exhausted,
		Rejected:  v.rejected,
	}
	if v.hasCard {
		c := v.card
		state.Card = &c
	}
	return state
}
