package main

import (
	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version  kong.VersionFlag `short:"v" help:"Show version"`
	Server   ServerCmd        `cmd:"" help:"Run the authoritative bingo server"`
	Observe  ObserveCmd       `cmd:"" help:"Connect a bot that plays a card"`
	Simulate SimulateCmd      `cmd:"" help:"Play rounds in-process and report draws-to-win"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, reading environment variables")
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bingoforbots"),
		kong.Description("Authoritative bingo draw and win-detection server for bots"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
