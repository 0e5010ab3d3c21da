package client

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lox/bingoforbots/internal/protocol"
)

// BotOptions controls what a bot does on its own.
type BotOptions struct {
	// AutoMark sends mark_cell for every drawn number on the card.
	AutoMark bool
	// AutoClaim claims as soon as the local view shows a line.
	AutoClaim bool
}

// BotStats counts what a bot has seen.
type BotStats struct {
	Rounds   int `json:"rounds"`
	Draws    int `json:"draws"`
	Claims   int `json:"claims"`
	Wins     int `json:"wins"`
	Rejected int `json:"rejected"`
	Lost     int `json:"lost"`
	// NearMisses counts lost rounds where the card was one cell short.
	NearMisses int `json:"nearMisses"`
}

// Bot plays a card over a Client. It never decides a win itself: it only
// claims, and the authority's win_claimed is what counts.
type Bot struct {
	client *Client
	opts   BotOptions
	logger *log.Logger

	mu           sync.Mutex
	claimedRound string
	oneAwayRound string
	stats        BotStats
}

// NewBot registers the bot's handlers on client.
func NewBot(client *Client, opts BotOptions, logger *log.Logger) *Bot {
	b := &Bot{
		client: client,
		opts:   opts,
		logger: logger.WithPrefix("bot").With("participant", client.Participant()),
	}

	client.AddEventHandler(protocol.TypeRoundReset, b.handleRoundReset)
	client.AddEventHandler(protocol.TypeNumberAnnounced, b.handleNumberAnnounced)
	client.AddEventHandler(protocol.TypeWinClaimed, b.handleWinClaimed)
	client.AddEventHandler(protocol.TypeClaimRejected, b.handleClaimRejected)
	client.AddEventHandler(protocol.TypeRoundExhausted, b.handleRoundExhausted)
	client.AddEventHandler(protocol.TypeError, b.handleError)

	return b
}

// Stats returns a copy of the bot's counters.
func (b *Bot) Stats() BotStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bot) handleRoundReset(msg protocol.Message) {
	var data protocol.RoundReset
	if err := msg.Decode(&data); err != nil {
		b.logger.Error("Failed to parse round reset", "error", err)
		return
	}

	b.mu.Lock()
	b.stats.Rounds++
	b.mu.Unlock()
	b.logger.Info("New round", "round", data.RoundID, "number", data.Number)
}

func (b *Bot) handleNumberAnnounced(msg protocol.Message) {
	var data protocol.NumberAnnounced
	if err := msg.Decode(&data); err != nil {
		b.logger.Error("Failed to parse announcement", "error", err)
		return
	}

	b.mu.Lock()
	b.stats.Draws++
	b.mu.Unlock()

	view := b.client.View()
	c, ok := view.Card()
	if !ok {
		return
	}

	if idx := c.IndexOf(data.Number); idx >= 0 && b.opts.AutoMark {
		if _, err := view.MarkCell(idx); err != nil {
			b.logger.Warn("Failed to mark locally", "index", idx, "error", err)
		}
		if err := b.client.MarkCell(idx); err != nil {
			b.logger.Warn("Failed to send mark", "index", idx, "error", err)
		}
	}

	if b.opts.AutoClaim {
		view.AutoMark()
		if view.Bingo() {
			b.claim(msg.RoundID)
			return
		}
	}

	if view.Missing() == 1 {
		b.mu.Lock()
		first := b.oneAwayRound != msg.RoundID
		b.oneAwayRound = msg.RoundID
		b.mu.Unlock()
		if first {
			b.logger.Info("One cell away", "round", msg.RoundID, "draws", len(view.Drawn()))
		}
	}
}

func (b *Bot) claim(roundID string) {
	b.mu.Lock()
	if b.claimedRound == roundID {
		b.mu.Unlock()
		return
	}
	b.claimedRound = roundID
	b.stats.Claims++
	b.mu.Unlock()

	b.logger.Info("Claiming bingo", "round", roundID)
	if err := b.client.ClaimWin(); err != nil {
		b.logger.Error("Failed to send claim", "error", err)
	}
}

func (b *Bot) handleWinClaimed(msg protocol.Message) {
	var data protocol.WinClaimed
	if err := msg.Decode(&data); err != nil {
		b.logger.Error("Failed to parse win", "error", err)
		return
	}

	_, hasCard := b.client.View().Card()
	nearMiss := hasCard && b.client.View().Missing() == 1

	b.mu.Lock()
	if data.ParticipantID == b.client.Participant() {
		b.stats.Wins++
	} else {
		b.stats.Lost++
		if nearMiss {
			b.stats.NearMisses++
		}
	}
	b.mu.Unlock()
	b.logger.Info("Bingo", "winner", data.ParticipantID, "lines", len(data.Lines), "line", data.Line, "draws", data.Draws)
}

func (b *Bot) handleClaimRejected(msg protocol.Message) {
	var data protocol.ClaimRejected
	if err := msg.Decode(&data); err != nil {
		b.logger.Error("Failed to parse rejection", "error", err)
		return
	}

	b.mu.Lock()
	b.stats.Rejected++
	b.mu.Unlock()
	b.logger.Warn("Claim rejected", "reason", data.Reason)
}

func (b *Bot) handleRoundExhausted(msg protocol.Message) {
	var data protocol.RoundExhausted
	if err := msg.Decode(&data); err != nil {
		b.logger.Error("Failed to parse exhaustion", "error", err)
		return
	}
	b.logger.Info("Pool exhausted with no winner", "draws", data.Draws)
}

func (b *Bot) handleError(msg protocol.Message) {
	var data protocol.ErrorData
	if err := msg.Decode(&data); err != nil {
		b.logger.Error("Failed to parse error", "error", err)
		return
	}
	b.logger.Warn("Server error", "code", data.Code, "message", data.Message)
}
