package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/lox/bingoforbots/cmd/bingoforbots/shared"
	"github.com/lox/bingoforbots/internal/server"
	"github.com/lox/bingoforbots/internal/session"
)

// ServerCmd runs the authority: one game session behind the HTTP and
// websocket API.
type ServerCmd struct {
	Config       string        `short:"c" default:"bingoforbots.hcl" env:"BINGO_CONFIG" help:"Path to HCL configuration file"`
	Address      string        `short:"a" env:"BINGO_ADDRESS" help:"Address to bind to (overrides config)"`
	Port         int           `short:"p" env:"BINGO_PORT" help:"Port to listen on (overrides config)"`
	LogLevel     string        `short:"l" env:"BINGO_LOG_LEVEL" help:"Log level (overrides config)"`
	Debug        bool          `help:"Enable debug logging"`
	DrawInterval time.Duration `env:"BINGO_DRAW_INTERVAL" help:"Time between draws (overrides config)"`
	Seed         *uint64       `env:"BINGO_SEED" help:"Seed for the first round (optional)"`
	SharedCard   bool          `env:"BINGO_SHARED_CARD" help:"Deal one card to every participant"`
	Observer     bool          `help:"Run without authority; control requests are refused"`
	AutoStart    bool          `env:"BINGO_AUTO_START" help:"Start drawing as soon as the server is up"`
	AuthURL      string        `env:"BINGO_AUTH_URL" help:"Token validation endpoint for players (overrides config)"`
	AdminToken   string        `env:"BINGO_ADMIN_TOKEN" help:"Token required by the control endpoints (overrides config)"`
}

func (c *ServerCmd) Run() error {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := shared.SetupLogger(cfg.Server.LogLevel, c.Debug)
	if err != nil {
		return err
	}
	if !c.Debug && cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	clock := quartz.NewReal()
	sess := session.New(sessionCfg, clock, logger)
	srv := server.NewServer(cfg.GetServerAddress(), cfg.Server.AllowedOrigins, sess, clock, logger, cfg.ServerOptions()...)

	logger.Info("Starting bingo server",
		"addr", cfg.GetServerAddress(),
		"authority", sessionCfg.Authority,
		"pool", sessionCfg.Game.PoolSize,
		"draw_interval", sessionCfg.Game.DrawInterval,
		"celebration_delay", sessionCfg.Game.CelebrationDelay,
		"shared_card", sessionCfg.Game.SharedCard,
		"player_auth", cfg.Server.AuthURL != "",
		"admin_auth", cfg.Server.AdminToken != "")

	ctx, cancel := shared.SetupSignalHandler(logger)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start(ctx)
	})
	if c.AutoStart {
		g.Go(func() error {
			startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return sess.StartGame(startCtx)
		})
	}

	return g.Wait()
}

func (c *ServerCmd) applyOverrides(cfg *server.Config) {
	if c.Address != "" {
		cfg.Server.Address = c.Address
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Server.LogLevel = c.LogLevel
	}
	if c.DrawInterval > 0 {
		cfg.Game.DrawInterval = c.DrawInterval.String()
	}
	if c.Seed != nil {
		cfg.Game.Seed = *c.Seed
	}
	if c.SharedCard {
		cfg.Game.SharedCard = true
	}
	if c.AuthURL != "" {
		cfg.Server.AuthURL = c.AuthURL
	}
	if c.AdminToken != "" {
		cfg.Server.AdminToken = c.AdminToken
	}
	if c.Observer {
		authority := false
		cfg.Game.Authority = &authority
	}
}
