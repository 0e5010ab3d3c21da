package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/bingoforbots/internal/card"
	"github.com/lox/bingoforbots/internal/deck"
	"github.com/lox/bingoforbots/internal/evaluator"
	"github.com/lox/bingoforbots/internal/game"
	"github.com/lox/bingoforbots/internal/protocol"
	"github.com/lox/bingoforbots/internal/randutil"
	"github.com/lox/bingoforbots/internal/replication"
	"github.com/lox/bingoforbots/internal/statistics"
)

var ErrRoundStuck = errors.New("round did not finish")

// Config holds configuration for running simulations
type Config struct {
	Rounds  int
	Players int
	// Careless players claim after every draw whether or not they have a
	// line, which exercises claim rejection.
	Careless   int
	PoolSize   int
	SharedCard bool
	Seed       uint64
	Timeout    time.Duration
	Logger     *log.Logger
}

// Simulator plays rounds in-process against the real engine. Time is
// stepped rather than waited for, so a run with a fixed seed always
// produces the same statistics.
type Simulator struct {
	config Config
}

// New creates a new simulator with the given configuration
func New(config Config) *Simulator {
	if config.PoolSize <= 0 {
		config.PoolSize = deck.DefaultSize
	}
	if config.Players <= 0 {
		config.Players = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard)
	}
	return &Simulator{config: config}
}

type player struct {
	id       string
	careless bool
	view     *replication.View
}

// Run executes the simulation and returns results
func (s *Simulator) Run(ctx context.Context) (*statistics.Statistics, error) {
	if s.config.Rounds <= 0 {
		return nil, fmt.Errorf("invalid rounds count: %d", s.config.Rounds)
	}
	if err := card.ValidatePoolSize(s.config.PoolSize); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	logger := s.config.Logger.WithPrefix("simulator")
	clock := newSteppedClock()

	players := make([]*player, 0, s.config.Players+s.config.Careless)
	for i := range s.config.Players + s.config.Careless {
		id := fmt.Sprintf("bot%d", i+1)
		players = append(players, &player{
			id:       id,
			careless: i >= s.config.Players,
			view:     replication.NewView(id, s.config.PoolSize, logger),
		})
	}

	pub := &localPublisher{}
	for _, p := range players {
		pub.views = append(pub.views, p.view)
	}

	cfg := game.Config{
		PoolSize:         s.config.PoolSize,
		DrawInterval:     game.DefaultDrawInterval,
		CelebrationDelay: game.DefaultCelebrationDelay,
		AutoContinue:     true,
		SharedCard:       s.config.SharedCard,
		Seed:             s.config.Seed,
	}
	if s.config.Seed != 0 {
		rng := randutil.New(s.config.Seed)
		cfg.SeedSource = func() (uint64, error) { return rng.Uint64(), nil }
	}
	engine := game.NewEngine(cfg, pub, clock, logger)

	collector := newCollector()
	engine.Events().Subscribe(collector)

	step := func(in game.Input) (game.Result, error) {
		return engine.Step(game.RoleAuthority, in)
	}

	for _, p := range players {
		if _, err := step(game.Join(p.id)); err != nil {
			return nil, err
		}
	}
	if _, err := step(game.Start()); err != nil {
		return nil, err
	}

	maxTicks := s.config.PoolSize + 2
	for round := range s.config.Rounds {
		ticks := 0
		for !collector.finished() {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("round %d: %w", round+1, err)
			}
			if ticks++; ticks > maxTicks {
				return nil, fmt.Errorf("round %d after %d ticks: %w", round+1, ticks, ErrRoundStuck)
			}

			for _, p := range players {
				if !p.careless {
					p.view.AutoMark()
					if !p.view.Bingo() {
						continue
					}
				}
				res, err := step(game.Claim(p.id))
				if err != nil {
					return nil, err
				}
				if res.Claim.Accepted {
					break
				}
			}
			if collector.finished() {
				break
			}

			clock.Advance(cfg.DrawInterval)
			if _, err := step(game.Tick()); err != nil {
				return nil, err
			}
		}

		result := collector.take()
		logger.Debug("Round finished", "round", round+1, "draws", result.Draws, "winner", result.Winner, "exhausted", result.Exhausted)

		// The celebration delay elapsing starts the next round. An
		// exhausted round waits for an explicit reset.
		if result.Exhausted {
			_, err := step(game.Reset())
			if err != nil {
				return nil, err
			}
		} else {
			clock.Advance(cfg.CelebrationDelay)
			if _, err := step(game.Tick()); err != nil {
				return nil, err
			}
		}
	}

	if _, err := step(game.Halt()); err != nil {
		return nil, err
	}

	stats := collector.statistics()
	if err := stats.Validate(); err != nil {
		return nil, fmt.Errorf("statistics validation failed: %w", err)
	}
	return stats, nil
}

// collector turns engine events into round results.
type collector struct {
	mu      sync.Mutex
	current statistics.RoundResult
	done    bool
	stats   *statistics.Statistics
}

func newCollector() *collector {
	return &collector{stats: &statistics.Statistics{}}
}

func (c *collector) OnEvent(event game.GameEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := event.(type) {
	case game.RoundStartEvent:
		c.current = statistics.RoundResult{RoundID: e.RoundID, Seed: e.Seed}
		c.done = false
	case game.NumberDrawnEvent:
		c.current.Draws = e.Count
	case game.ClaimRejectedEvent:
		c.current.Rejected++
	case game.WinEvent:
		c.current.Winner = e.ParticipantID
		c.current.Line = e.Line
		c.current.Draws = e.Draws
		c.done = true
	case game.ExhaustedEvent:
		c.current.Exhausted = true
		c.current.Draws = e.Draws
		c.done = true
	}
}

func (c *collector) finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *collector) take() statistics.RoundResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Add(c.current)
	c.done = false
	return c.current
}

func (c *collector) statistics() *statistics.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// localPublisher applies every message to the players' views as it is
// published.
type localPublisher struct {
	seq   uint64
	views []*replication.View
}

func (p *localPublisher) Publish(msg protocol.Message) (protocol.Message, error) {
	p.seq++
	msg.Seq = p.seq
	for _, v := range p.views {
		v.Apply(msg)
	}
	return msg, nil
}

func (p *localPublisher) SendTo(id string, msg protocol.Message) (protocol.Message, error) {
	msg.Recipient = id
	return p.Publish(msg)
}

// steppedClock only moves when told to. Everything but Now is the real
// clock; the engine reads nothing else.
type steppedClock struct {
	quartz.Clock
	mu  sync.Mutex
	now time.Time
}

func newSteppedClock() *steppedClock {
	return &steppedClock{
		Clock: quartz.NewReal(),
		now:   time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (c *steppedClock) Now(...string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppedClock) Since(t time.Time, _ ...string) time.Duration {
	return c.Now().Sub(t)
}

func (c *steppedClock) Until(t time.Time, _ ...string) time.Duration {
	return t.Sub(c.Now())
}

func (c *steppedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Report is the machine-readable form of a run.
type Report struct {
	Rounds     int            `json:"rounds"`
	Players    int            `json:"players"`
	Careless   int            `json:"careless"`
	PoolSize   int            `json:"poolSize"`
	SharedCard bool           `json:"sharedCard"`
	Seed       uint64         `json:"seed,string"`
	Wins       int            `json:"wins"`
	Exhausted  int            `json:"exhausted"`
	Rejected   int            `json:"rejected"`
	MeanDraws  float64        `json:"meanDraws"`
	StdDev     float64        `json:"stdDev"`
	CI95       [2]float64     `json:"ci95"`
	MinDraws   int            `json:"minDraws"`
	MaxDraws   int            `json:"maxDraws"`
	Lines      map[string]int `json:"lines"`
	Winners    map[string]int `json:"winners"`
	ElapsedMS  int64          `json:"elapsedMs"`
}

// NewReport captures stats together with the configuration that produced them.
func NewReport(stats *statistics.Statistics, config Config, elapsed time.Duration) Report {
	low, high := stats.ConfidenceInterval95()
	return Report{
		Rounds:     stats.Rounds,
		Players:    config.Players,
		Careless:   config.Careless,
		PoolSize:   config.PoolSize,
		SharedCard: config.SharedCard,
		Seed:       config.Seed,
		Wins:       stats.Wins,
		Exhausted:  stats.Exhausted,
		Rejected:   stats.Rejected,
		MeanDraws:  stats.Mean(),
		StdDev:     stats.StdDev(),
		CI95:       [2]float64{low, high},
		MinDraws:   stats.MinDraws,
		MaxDraws:   stats.MaxDraws,
		Lines: map[string]int{
			"row":      stats.LineKinds[evaluator.Row],
			"column":   stats.LineKinds[evaluator.Column],
			"diagonal": stats.LineKinds[evaluator.Diagonal],
		},
		Winners:   stats.Winners,
		ElapsedMS: elapsed.Milliseconds(),
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#96CEB4")).
			Width(22)
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Bold(true)
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#626262")).
			Padding(0, 1)
)

// Summary renders simulation results for the terminal
func Summary(stats *statistics.Statistics, config Config) string {
	row := func(label, format string, args ...any) string {
		return lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render(label),
			valueStyle.Render(fmt.Sprintf(format, args...)))
	}

	low, high := stats.ConfidenceInterval95()
	rows := []string{
		row("Rounds", "%d", stats.Rounds),
		row("Players", "%d (+%d careless)", config.Players, config.Careless),
		row("Wins", "%d (%.1f%%)", stats.Wins, stats.WinRate()*100),
		row("Exhausted", "%d", stats.Exhausted),
		row("Rejected claims", "%d", stats.Rejected),
		"",
		row("Mean draws to win", "%.2f", stats.Mean()),
		row("Median", "%.1f", stats.Median()),
		row("Std dev", "%.2f", stats.StdDev()),
		row("95% CI", "[%.2f, %.2f]", low, high),
		row("Range", "%d to %d", stats.MinDraws, stats.MaxDraws),
		row("Percentiles", "P5=%.0f P25=%.0f P75=%.0f P95=%.0f",
			stats.Percentile(0.05), stats.Percentile(0.25), stats.Percentile(0.75), stats.Percentile(0.95)),
		"",
		row("Row wins", "%d", stats.LineKinds[evaluator.Row]),
		row("Column wins", "%d", stats.LineKinds[evaluator.Column]),
		row("Diagonal wins", "%d", stats.LineKinds[evaluator.Diagonal]),
	}

	winners := make([]string, 0, len(stats.Winners))
	for id := range stats.Winners {
		winners = append(winners, id)
	}
	slices.Sort(winners)
	if len(winners) > 0 {
		rows = append(rows, "")
	}
	for _, id := range winners {
		rows = append(rows, row(id, "%d wins", stats.Winners[id]))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Bingo simulation"),
		boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
}
