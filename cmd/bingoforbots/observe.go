package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/bingoforbots/cmd/bingoforbots/shared"
	"github.com/lox/bingoforbots/internal/client"
	"github.com/lox/bingoforbots/internal/protocol"
)

// ObserveCmd connects one bot to a running server.
type ObserveCmd struct {
	Config      string `short:"c" default:"bingoforbots-client.hcl" env:"BINGO_CLIENT_CONFIG" help:"Path to HCL client configuration file"`
	Server      string `short:"s" env:"BINGO_SERVER" help:"Server URL (overrides config)"`
	Participant string `short:"n" env:"BINGO_PARTICIPANT" help:"Participant id (overrides config, generated when empty)"`
	Token       string `env:"BINGO_TOKEN" help:"Bearer token for servers with player auth (overrides config)"`
	Spectate    bool   `help:"Watch without a card"`
	NoClaim     bool   `help:"Never claim automatically"`
	Debug       bool   `help:"Enable debug logging"`
}

func (c *ObserveCmd) Run() error {
	cfg, err := client.LoadClientConfig(c.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.Server != "" {
		cfg.Server.URL = c.Server
	}
	if c.Participant != "" {
		cfg.Player.Name = c.Participant
	}
	if c.Token != "" {
		cfg.Player.Token = c.Token
	}
	if c.Spectate {
		cfg.Player.Spectate = true
	}
	if c.NoClaim {
		noClaim := false
		cfg.Player.AutoClaim = &noClaim
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := shared.SetupLogger(cfg.Player.LogLevel, c.Debug)
	if err != nil {
		return err
	}

	participant := cfg.Player.Name
	if participant == "" && cfg.Player.Token != "" && !cfg.Player.Spectate {
		return fmt.Errorf("a participant name is required when using a token")
	}
	if participant == "" && !cfg.Player.Spectate {
		participant = "bot-" + uuid.NewString()[:8]
	}

	ctx, cancel := shared.SetupSignalHandler(logger)
	defer cancel()

	cl := client.NewClient(cfg.Server.URL, participant, cfg.Player.Spectate, cfg.Server.PoolSize, logger)
	cl.SetToken(cfg.Player.Token)
	bot := client.NewBot(cl, cfg.BotOptions(), logger)

	cl.AddEventHandler(protocol.TypeCardAssigned, func(protocol.Message) {
		if card, ok := cl.View().Card(); ok {
			logger.Info("Card assigned\n" + card.String())
		}
	})

	dialCtx, dialCancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ConnectTimeout)*time.Second)
	err = cl.Connect(dialCtx)
	dialCancel()
	if err != nil {
		return err
	}
	defer func() { _ = cl.Disconnect() }()

	select {
	case <-ctx.Done():
	case <-cl.Done():
		logger.Warn("Server closed the connection")
	}

	stats := bot.Stats()
	logger.Info("Observer finished",
		"rounds", stats.Rounds,
		"draws", stats.Draws,
		"claims", stats.Claims,
		"wins", stats.Wins,
		"near_misses", stats.NearMisses,
		"rejected", stats.Rejected)
	return nil
}
