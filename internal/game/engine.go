package game

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/lox/bingoforbots/internal/card"
	"github.com/lox/bingoforbots/internal/deck"
	"github.com/lox/bingoforbots/internal/evaluator"
	"github.com/lox/bingoforbots/internal/protocol"
	"github.com/lox/bingoforbots/internal/randutil"
)

const (
	DefaultDrawInterval     = 10 * time.Second
	DefaultCelebrationDelay = 5 * time.Second
)

const (
	drawLogEvery    = 10 // log the full drawn list every N draws
	sharedCardLabel = "shared"
)

// Publisher is the replication side of the engine. Publish broadcasts and
// SendTo targets one participant.
type Publisher interface {
	Publish(msg protocol.Message) (protocol.Message, error)
	SendTo(id string, msg protocol.Message) (protocol.Message, error)
}

// Config controls round behaviour.
type Config struct {
	PoolSize         int
	DrawInterval     time.Duration
	CelebrationDelay time.Duration
	// AutoContinue starts drawing straight after a reset instead of waiting
	// in Idle for the next Start.
	AutoContinue bool
	// SharedCard deals one card to every participant instead of one each.
	SharedCard bool
	// Seed fixes the first round's seed. Zero draws one from SeedSource.
	Seed uint64
	// SeedSource produces round seeds. Defaults to randutil.NewSeed.
	SeedSource func() (uint64, error)
}

// DefaultConfig returns the standard 75-ball configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:         deck.DefaultSize,
		DrawInterval:     DefaultDrawInterval,
		CelebrationDelay: DefaultCelebrationDelay,
		AutoContinue:     true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if card.ValidatePoolSize(c.PoolSize) != nil {
		c.PoolSize = d.PoolSize
	}
	if c.DrawInterval <= 0 {
		c.DrawInterval = d.DrawInterval
	}
	if c.CelebrationDelay <= 0 {
		c.CelebrationDelay = d.CelebrationDelay
	}
	if c.SeedSource == nil {
		c.SeedSource = randutil.NewSeed
	}
	return c
}

type participant struct {
	id   string
	card card.Card
	has  bool
}

// Engine is the authoritative round state machine. It is not safe for
// concurrent use; callers serialize Step onto a single goroutine.
type Engine struct {
	cfg     Config
	clock   quartz.Clock
	logger  *log.Logger
	pub     Publisher
	events  EventBus
	pool    *deck.Pool
	factory card.Factory

	round    Round
	drawnSet map[int]bool
	prepared bool
	winner   string
	winLine  evaluator.Line

	participants map[string]*participant
	order        []string
	shared       card.Card

	announceTimer    *Timer
	celebrationTimer *Timer
}

// NewEngine creates an idle engine. No round exists until the first Start.
// An unusable pool size falls back to the default.
func NewEngine(cfg Config, pub Publisher, clock quartz.Clock, logger *log.Logger) *Engine {
	logger = logger.WithPrefix("engine")
	if cfg.PoolSize != 0 {
		if err := card.ValidatePoolSize(cfg.PoolSize); err != nil {
			logger.Warn("Using default pool size", "error", err, "pool", deck.DefaultSize)
		}
	}
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:              cfg,
		clock:            clock,
		logger:           logger,
		pub:              pub,
		events:           NewEventBus(),
		pool:             deck.NewPool(cfg.PoolSize),
		factory:          card.NewFactory(cfg.PoolSize),
		drawnSet:         make(map[int]bool),
		participants:     make(map[string]*participant),
		announceTimer:    NewTimer(clock),
		celebrationTimer: NewTimer(clock),
	}
}

// Events returns the bus local subscribers can listen on.
func (e *Engine) Events() EventBus {
	return e.events
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Status returns the current round status.
func (e *Engine) Status() Status {
	return e.round.Status
}

// Step applies one input. Every state change in the engine goes through here
// and only the authority may make them.
func (e *Engine) Step(role Role, in Input) (Result, error) {
	if role != RoleAuthority {
		return Result{Status: e.round.Status}, fmt.Errorf("%w: %s sent %s", ErrNotAuthority, role, in.Kind)
	}

	var (
		res Result
		err error
	)
	switch in.Kind {
	case InputStart:
		e.start()
	case InputTick:
		e.tick()
	case InputClaim:
		res.Claim = e.claim(in.Participant)
	case InputReset:
		e.reset(e.cfg.AutoContinue)
	case InputForceReset:
		e.reset(false)
	case InputJoin:
		res.Card, err = e.join(in.Participant)
	case InputLeave:
		err = e.leave(in.Participant)
	case InputHalt:
		e.halt()
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownInput, in.Kind)
	}
	res.Status = e.round.Status
	return res, err
}

func (e *Engine) start() {
	if e.round.Status != StatusIdle {
		e.logger.Debug("Start ignored", "status", e.round.Status)
		return
	}
	if !e.prepared {
		e.prepare()
	}
	e.beginDrawing()
}

func (e *Engine) beginDrawing() {
	e.round.Status = StatusDrawing
	e.logger.Info("Round started", "round", e.round.ID, "number", e.round.Number, "participants", len(e.order))
	e.events.Publish(NewRoundStartEvent(e.round.ID, e.round.Number, e.round.Seed, len(e.order), e.clock.Now()))
	e.drawNext()
}

func (e *Engine) tick() {
	switch e.round.Status {
	case StatusDrawing:
		if !e.announceTimer.Running() {
			e.logger.Warn("Announce timer not running while drawing, re-arming", "round", e.round.ID)
			e.announceTimer.Arm(e.cfg.DrawInterval)
			return
		}
		if e.announceTimer.Expired() {
			e.drawNext()
		}
	case StatusWonPendingReset:
		if !e.celebrationTimer.Running() {
			e.logger.Warn("Celebration timer not running after win, re-arming", "round", e.round.ID)
			e.celebrationTimer.Arm(e.cfg.CelebrationDelay)
			return
		}
		if e.celebrationTimer.Expired() {
			e.reset(e.cfg.AutoContinue)
		}
	}
}

// drawNext pops one number, announces it and re-arms the announce timer. An
// empty pool ends the round as exhausted.
func (e *Engine) drawNext() {
	n, ok := e.pool.Draw()
	if !ok {
		e.exhaust()
		return
	}
	e.announce(n)
	e.announceTimer.Arm(e.cfg.DrawInterval)
}

// announce records and broadcasts n. Numbers that are out of range or
// already drawn never reach observers.
func (e *Engine) announce(n int) bool {
	if n <= 0 || n > e.cfg.PoolSize || e.drawnSet[n] {
		e.logger.Warn("Rejected announcement", "number", n, "round", e.round.ID)
		return false
	}

	e.round.Drawn = append(e.round.Drawn, n)
	e.drawnSet[n] = true
	e.round.Current = n
	count := len(e.round.Drawn)

	e.broadcast(protocol.TypeNumberAnnounced, protocol.NumberAnnounced{Number: n, Count: count})
	e.events.Publish(NewNumberDrawnEvent(e.round.ID, n, count, e.clock.Now()))

	if count%drawLogEvery == 0 {
		e.logger.Debug("Drawn so far", "round", e.round.ID, "count", count, "numbers", e.round.Drawn)
	}
	return true
}

func (e *Engine) exhaust() {
	e.announceTimer.Stop()
	e.round.Status = StatusExhausted
	draws := len(e.round.Drawn)

	e.logger.Info("Pool exhausted without a winner", "round", e.round.ID, "draws", draws)
	e.broadcast(protocol.TypeRoundExhausted, protocol.RoundExhausted{Draws: draws})
	e.events.Publish(NewExhaustedEvent(e.round.ID, draws, e.clock.Now()))
}

// claim re-validates a win from the engine's own card record and drawn set.
func (e *Engine) claim(pid string) ClaimResult {
	draws := len(e.round.Drawn)

	if e.round.Status != StatusDrawing {
		return e.reject(pid, protocol.ReasonNotInProgress)
	}
	c, ok := e.cardFor(pid)
	if !ok {
		return e.reject(pid, protocol.ReasonNoCard)
	}

	marks := c.MarksFor(func(n int) bool { return e.drawnSet[n] })
	lines := evaluator.Lines(marks)
	if len(lines) == 0 {
		return e.reject(pid, protocol.ReasonNoLine)
	}
	line := lines[0]

	e.announceTimer.Stop()
	e.round.Status = StatusWonPendingReset
	e.winner = pid
	e.winLine = line

	e.logger.Info("Win accepted", "round", e.round.ID, "participant", pid, "line", line, "draws", draws)
	e.broadcast(protocol.TypeWinClaimed, protocol.WinClaimed{ParticipantID: pid, Line: line, Lines: lines, Draws: draws})
	e.events.Publish(NewWinEvent(e.round.ID, pid, line, draws, e.clock.Now()))

	e.celebrationTimer.Arm(e.cfg.CelebrationDelay)
	return ClaimResult{Accepted: true, Line: line, Draws: draws}
}

func (e *Engine) reject(pid, reason string) ClaimResult {
	e.logger.Info("Claim rejected", "round", e.round.ID, "participant", pid, "reason", reason)
	e.sendTo(pid, protocol.TypeClaimRejected, protocol.ClaimRejected{ParticipantID: pid, Reason: reason})
	e.events.Publish(NewClaimRejectedEvent(e.round.ID, pid, reason, e.clock.Now()))
	return ClaimResult{Reason: reason, Draws: len(e.round.Drawn)}
}

// reset cancels both timers before touching round state, so nothing scheduled
// against the old round can apply to the new one.
func (e *Engine) reset(continueDrawing bool) {
	e.announceTimer.Stop()
	e.celebrationTimer.Stop()
	e.round.Status = StatusResetting

	e.prepare()

	if continueDrawing {
		e.beginDrawing()
		return
	}
	e.round.Status = StatusIdle
}

// halt cancels both timers without publishing anything. A drawing round is
// parked in Idle and the next Start continues from its pool.
func (e *Engine) halt() {
	e.announceTimer.Stop()
	e.celebrationTimer.Stop()
	if e.round.Status == StatusDrawing {
		e.logger.Info("Round halted", "round", e.round.ID, "draws", len(e.round.Drawn))
		e.round.Status = StatusIdle
	}
}

// prepare builds a fresh round: new seed, new pool, new cards.
func (e *Engine) prepare() {
	seed, err := e.nextSeed()
	if err != nil {
		seed = randutil.DeriveSeed(e.round.Seed, e.round.ID)
		e.logger.Error("Seed source failed, deriving from previous round", "error", err, "seed", seed)
	}

	e.pool.Init(seed)
	e.round = Round{
		ID:     newRoundID(),
		Number: e.round.Number + 1,
		Seed:   seed,
		Status: StatusResetting,
	}
	e.drawnSet = make(map[int]bool)
	e.winner = ""
	e.winLine = evaluator.Line{}
	e.prepared = true

	e.logger.Info("Round prepared", "round", e.round.ID, "number", e.round.Number, "seed", seed)
	e.broadcast(protocol.TypeRoundReset, protocol.RoundReset{RoundID: e.round.ID, Seed: seed, Number: e.round.Number})
	e.assignCards()
}

func (e *Engine) nextSeed() (uint64, error) {
	if e.round.Number == 0 && e.cfg.Seed != 0 {
		return e.cfg.Seed, nil
	}
	return randutil.NextSeed(e.cfg.SeedSource, e.round.Seed)
}

func (e *Engine) assignCards() {
	if e.cfg.SharedCard {
		shared, err := e.factory.FromSeed(randutil.DeriveSeed(e.round.Seed, sharedCardLabel))
		if err != nil {
			e.logger.Error("Failed to generate shared card", "round", e.round.ID, "error", err)
			return
		}
		e.shared = shared
		for _, id := range e.order {
			p := e.participants[id]
			p.card, p.has = e.shared, true
		}
		e.broadcast(protocol.TypeCardAssigned, protocol.CardAssigned{Card: e.shared})
		return
	}
	for _, id := range e.order {
		e.dealTo(e.participants[id])
	}
}

func (e *Engine) dealTo(p *participant) {
	c, err := e.factory.FromSeed(randutil.DeriveSeed(e.round.Seed, p.id))
	if err != nil {
		e.logger.Error("Failed to generate card", "participant", p.id, "error", err)
		p.has = false
		return
	}
	p.card, p.has = c, true
	e.sendTo(p.id, protocol.TypeCardAssigned, protocol.CardAssigned{ParticipantID: p.id, Card: p.card})
}

func (e *Engine) cardFor(pid string) (card.Card, bool) {
	p, ok := e.participants[pid]
	if !ok || !p.has {
		return card.Card{}, false
	}
	return p.card, true
}

// join registers a participant. Joining after cards were dealt deals one
// immediately; joining again resends the existing card.
func (e *Engine) join(pid string) (*card.Card, error) {
	if pid == "" {
		return nil, fmt.Errorf("%w: empty id", ErrUnknownParticipant)
	}

	p, ok := e.participants[pid]
	if !ok {
		p = &participant{id: pid}
		e.participants[pid] = p
		e.order = append(e.order, pid)
		e.logger.Info("Participant joined", "participant", pid, "participants", len(e.order))
	}

	if !e.prepared {
		return nil, nil
	}

	switch {
	case e.cfg.SharedCard:
		// The shared card is a broadcast, already in the round log.
		p.card, p.has = e.shared, true
	case p.has:
		e.sendTo(pid, protocol.TypeCardAssigned, protocol.CardAssigned{ParticipantID: pid, Card: p.card})
	default:
		e.dealTo(p)
	}
	c := p.card
	return &c, nil
}

func (e *Engine) leave(pid string) error {
	if _, ok := e.participants[pid]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParticipant, pid)
	}
	delete(e.participants, pid)
	e.order = slices.DeleteFunc(e.order, func(id string) bool { return id == pid })
	e.logger.Info("Participant left", "participant", pid, "participants", len(e.order))
	return nil
}

// HasParticipant reports whether pid is registered.
func (e *Engine) HasParticipant(pid string) bool {
	_, ok := e.participants[pid]
	return ok
}

// CardOf returns the card dealt to pid this round.
func (e *Engine) CardOf(pid string) (card.Card, bool) {
	return e.cardFor(pid)
}

// Drawn reports whether n has been drawn this round.
func (e *Engine) Drawn(n int) bool {
	return e.drawnSet[n]
}

// Snapshot copies the current state.
func (e *Engine) Snapshot() Snapshot {
	round := e.round
	round.Drawn = slices.Clone(e.round.Drawn)
	if round.Drawn == nil {
		round.Drawn = []int{}
	}

	participants := make([]Participant, 0, len(e.order))
	for _, id := range e.order {
		participants = append(participants, Participant{ID: id, HasCard: e.participants[id].has})
	}

	snap := Snapshot{
		Round:               round,
		Remaining:           e.pool.Remaining(),
		Participants:        participants,
		Winner:              e.winner,
		AnnounceRunning:     e.announceTimer.Running(),
		AnnounceDeadline:    e.announceTimer.Deadline(),
		CelebrationRunning:  e.celebrationTimer.Running(),
		CelebrationDeadline: e.celebrationTimer.Deadline(),
	}
	if e.winner != "" {
		line := e.winLine
		snap.WinLine = &line
	}
	return snap
}

func (e *Engine) broadcast(typ protocol.MessageType, data any) {
	msg, err := protocol.NewMessage(typ, e.round.ID, data, e.clock.Now())
	if err != nil {
		e.logger.Error("Failed to build message", "type", typ, "error", err)
		return
	}
	if _, err := e.pub.Publish(msg); err != nil {
		e.logger.Error("Failed to publish message", "type", typ, "error", err)
	}
}

func (e *Engine) sendTo(pid string, typ protocol.MessageType, data any) {
	msg, err := protocol.NewMessage(typ, e.round.ID, data, e.clock.Now())
	if err != nil {
		e.logger.Error("Failed to build message", "type", typ, "error", err)
		return
	}
	if _, err := e.pub.SendTo(pid, msg); err != nil {
		e.logger.Error("Failed to send message", "type", typ, "participant", pid, "error", err)
	}
}

func newRoundID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
