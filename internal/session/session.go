package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/bingoforbots/internal/card"
	"github.com/lox/bingoforbots/internal/game"
	"github.com/lox/bingoforbots/internal/protocol"
	"github.com/lox/bingoforbots/internal/replication"
)

// DefaultTickInterval is how often the control loop polls the engine timers.
const DefaultTickInterval = 100 * time.Millisecond

var (
	ErrClosed         = errors.New("session closed")
	ErrAlreadyRunning = errors.New("session already running")
)

// Config configures a session.
type Config struct {
	Game          game.Config
	TickInterval  time.Duration
	RetryInterval time.Duration
	// Authority marks this node as the one allowed to drive the round.
	Authority bool
}

// DefaultConfig returns an authority session with default game settings.
func DefaultConfig() Config {
	return Config{
		Game:          game.DefaultConfig(),
		TickInterval:  DefaultTickInterval,
		RetryInterval: replication.DefaultRetryInterval,
		Authority:     true,
	}
}

type request struct {
	in       game.Input
	snapshot bool
	reply    chan response
}

type response struct {
	res  game.Result
	snap game.Snapshot
	err  error
}

// Session runs one game: an engine, its replication channel, and the single
// goroutine that serializes every input and tick onto the engine.
type Session struct {
	cfg     Config
	role    game.Role
	clock   quartz.Clock
	logger  *log.Logger
	engine  *game.Engine
	channel *replication.Channel

	requests chan request
	done     chan struct{}
	runOnce  sync.Once

	mu    sync.RWMutex
	views map[string]*replication.View
}

// New creates a session. Nothing happens until Run is called.
func New(cfg Config, clock quartz.Clock, logger *log.Logger) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	role := game.RoleObserver
	if cfg.Authority {
		role = game.RoleAuthority
	}

	logger = logger.WithPrefix("session")
	channel := replication.NewChannel(clock, logger, cfg.RetryInterval)
	engine := game.NewEngine(cfg.Game, channel, clock, logger)

	return &Session{
		cfg:      cfg,
		role:     role,
		clock:    clock,
		logger:   logger,
		engine:   engine,
		channel:  channel,
		requests: make(chan request),
		done:     make(chan struct{}),
		views:    make(map[string]*replication.View),
	}
}

// Events exposes the engine's local event bus. Subscribers run on the
// control goroutine and must not call back into the session.
func (s *Session) Events() game.EventBus {
	return s.engine.Events()
}

// PoolSize returns the effective pool size.
func (s *Session) PoolSize() int {
	return s.engine.Config().PoolSize
}

// Run drives the session until ctx is cancelled. On exit the engine timers
// are cancelled, pending draws discarded and the channel closed.
func (s *Session) Run(ctx context.Context) error {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyRunning
	}

	ticker := s.clock.NewTicker(s.cfg.TickInterval, "session", "tick")
	defer ticker.Stop()
	defer s.teardown()

	s.logger.Info("Session running", "authority", s.cfg.Authority, "tick", s.cfg.TickInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.role == game.RoleAuthority {
				if _, err := s.engine.Step(s.role, game.Tick()); err != nil {
					s.logger.Error("Tick failed", "error", err)
				}
			}
		case req := <-s.requests:
			var resp response
			if req.snapshot {
				resp.snap = s.engine.Snapshot()
			} else {
				resp.res, resp.err = s.engine.Step(s.role, req.in)
			}
			req.reply <- resp
		}
	}
}

func (s *Session) teardown() {
	if _, err := s.engine.Step(s.role, game.Halt()); err != nil && !errors.Is(err, game.ErrNotAuthority) {
		s.logger.Error("Failed to halt engine", "error", err)
	}
	close(s.done)
	s.channel.Close()
	s.logger.Info("Session stopped")
}

func (s *Session) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-s.done:
		return response{}, ErrClosed
	}

	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-s.done:
		return response{}, ErrClosed
	}
}

func (s *Session) step(ctx context.Context, in game.Input) (game.Result, error) {
	resp, err := s.call(ctx, request{in: in})
	return resp.res, err
}

// StartGame starts drawing. It is a no-op while a round is running.
func (s *Session) StartGame(ctx context.Context) error {
	_, err := s.step(ctx, game.Start())
	return err
}

// ClaimWin asks the authority to verify participant's card.
func (s *Session) ClaimWin(ctx context.Context, participant string) (game.ClaimResult, error) {
	res, err := s.step(ctx, game.Claim(participant))
	return res.Claim, err
}

// ResetGame ends the current round and prepares a new one.
func (s *Session) ResetGame(ctx context.Context) error {
	_, err := s.step(ctx, game.Reset())
	return err
}

// ForceReset cancels everything and rests in Idle with a fresh round.
func (s *Session) ForceReset(ctx context.Context) error {
	_, err := s.step(ctx, game.ForceReset())
	return err
}

// Join registers participant, subscribes sink to the replication stream and
// deals a card if a round is prepared.
func (s *Session) Join(ctx context.Context, participant string, sink replication.Sink) (*card.Card, error) {
	if participant == "" {
		return nil, fmt.Errorf("%w: empty id", game.ErrUnknownParticipant)
	}

	view := replication.NewView(participant, s.PoolSize(), s.logger)
	if err := s.channel.Subscribe(participant, mirrorSink{view: view, next: sink}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.views[participant] = view
	s.mu.Unlock()

	res, err := s.step(ctx, game.Join(participant))
	if err != nil {
		s.dropParticipant(participant)
		return nil, err
	}
	return res.Card, nil
}

// Watch subscribes a spectator that holds no card.
func (s *Session) Watch(id string, sink replication.Sink) error {
	return s.channel.Subscribe(id, sink)
}

// Unwatch removes a spectator.
func (s *Session) Unwatch(id string) {
	s.channel.Unsubscribe(id)
}

// Leave removes participant and its card.
func (s *Session) Leave(ctx context.Context, participant string) error {
	s.dropParticipant(participant)
	_, err := s.step(ctx, game.Leave(participant))
	return err
}

func (s *Session) dropParticipant(participant string) {
	s.channel.Unsubscribe(participant)
	s.mu.Lock()
	delete(s.views, participant)
	s.mu.Unlock()
}

// MarkCell marks a cell on participant's mirror of its card. Only numbers
// already drawn can be marked. Round state is never touched.
func (s *Session) MarkCell(participant string, index int) (card.Marks, error) {
	s.mu.RLock()
	view, ok := s.views[participant]
	s.mu.RUnlock()
	if !ok {
		return card.Marks{}, fmt.Errorf("%w: %q", game.ErrUnknownParticipant, participant)
	}

	if _, err := view.MarkCell(index); err != nil {
		return view.Marks(), err
	}
	return view.Marks(), nil
}

// View returns participant's mirror view.
func (s *Session) View(participant string) (*replication.View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[participant]
	return v, ok
}

// Snapshot returns a copy of the authority's state.
func (s *Session) Snapshot(ctx context.Context) (game.Snapshot, error) {
	resp, err := s.call(ctx, request{snapshot: true})
	return resp.snap, err
}

// mirrorSink feeds the authority-side view of a participant before passing
// the message on. Redeliveries after a transport error are ignored by the
// view.
type mirrorSink struct {
	view *replication.View
	next replication.Sink
}

func (m mirrorSink) Deliver(ctx context.Context, msg protocol.Message) error {
	m.view.Apply(msg)
	if m.next == nil {
		return nil
	}
	return m.next.Deliver(ctx, msg)
}
