package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lox/bingoforbots/cmd/bingoforbots/shared"
	"github.com/lox/bingoforbots/internal/fileutil"
	"github.com/lox/bingoforbots/internal/simulator"
)

// SimulateCmd plays rounds in-process and prints draws-to-win statistics.
type SimulateCmd struct {
	Rounds     int           `short:"r" default:"1000" help:"Number of rounds to play"`
	Players    int           `short:"n" default:"4" help:"Players that claim only real lines"`
	Careless   int           `default:"0" help:"Players that claim after every draw"`
	PoolSize   int           `default:"75" help:"Numbers in the pool (multiple of 5)"`
	SharedCard bool          `help:"Deal one card to every player"`
	Seed       uint64        `default:"0" help:"Seed for reproducible runs (0 for random)"`
	Timeout    time.Duration `default:"1m" help:"Give up after this long"`
	Output     string        `short:"o" type:"path" help:"Also write the results as JSON to this file"`
	Debug      bool          `help:"Enable debug logging"`
}

func (c *SimulateCmd) Run() error {
	logger, err := shared.SetupLogger("warn", c.Debug)
	if err != nil {
		return err
	}

	cfg := simulator.Config{
		Rounds:     c.Rounds,
		Players:    c.Players,
		Careless:   c.Careless,
		PoolSize:   c.PoolSize,
		SharedCard: c.SharedCard,
		Seed:       c.Seed,
		Timeout:    c.Timeout,
		Logger:     logger,
	}

	start := time.Now()
	stats, err := simulator.New(cfg).Run(context.Background())
	if err != nil {
		return err
	}

	elapsed := time.Since(start)

	fmt.Println(simulator.Summary(stats, cfg))
	fmt.Printf("Completed in %s\n", elapsed.Round(time.Millisecond))

	if c.Output != "" {
		if err := fileutil.WriteJSONAtomic(c.Output, simulator.NewReport(stats, cfg, elapsed)); err != nil {
			return err
		}
		logger.Info("Wrote results", "path", c.Output)
	}
	return nil
}
