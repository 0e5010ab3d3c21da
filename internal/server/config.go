package server

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/bingoforbots/internal/auth"
	"github.com/lox/bingoforbots/internal/card"
	"github.com/lox/bingoforbots/internal/game"
	"github.com/lox/bingoforbots/internal/session"
)

// Config represents the complete server configuration
type Config struct {
	Server ServerSettings `hcl:"server,block"`
	Game   *GameSettings  `hcl:"game,block"`
}

// ServerSettings contains server-level configuration
type ServerSettings struct {
	Address        string   `hcl:"address,optional"`
	Port           int      `hcl:"port,optional"`
	LogLevel       string   `hcl:"log_level,optional"`
	AllowedOrigins []string `hcl:"allowed_origins,optional"`

	// AuthURL enables token validation for players. The endpoint receives
	// {"token": ...} and answers with the participant identity.
	AuthURL    string `hcl:"auth_url,optional"`
	AuthSecret string `hcl:"auth_secret,optional"`
	AdminToken string `hcl:"admin_token,optional"`
}

// GameSettings configures the round engine. Durations are Go duration
// strings such as "10s" or "250ms".
type GameSettings struct {
	Authority        *bool  `hcl:"authority,optional"`
	DrawInterval     string `hcl:"draw_interval,optional"`
	CelebrationDelay string `hcl:"celebration_delay,optional"`
	TickInterval     string `hcl:"tick_interval,optional"`
	RetryInterval    string `hcl:"retry_interval,optional"`
	PoolSize         int    `hcl:"pool_size,optional"`
	AutoContinue     *bool  `hcl:"auto_continue,optional"`
	SharedCard       bool   `hcl:"shared_card,optional"`
	Seed             uint64 `hcl:"seed,optional"`
}

const (
	defaultAddress          = "localhost"
	defaultPort             = 8080
	defaultLogLevel         = "info"
	defaultDrawInterval     = "10s"
	defaultCelebrationDelay = "5s"
	defaultTickInterval     = "100ms"
	defaultRetryInterval    = "500ms"
	defaultPoolSize         = 75
)

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig loads server configuration from an HCL file. A missing file
// yields the defaults.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config Config
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = defaultLogLevel
	}

	if c.Game == nil {
		c.Game = &GameSettings{}
	}
	g := c.Game
	if g.Authority == nil {
		g.Authority = boolPtr(true)
	}
	if g.AutoContinue == nil {
		g.AutoContinue = boolPtr(true)
	}
	if g.DrawInterval == "" {
		g.DrawInterval = defaultDrawInterval
	}
	if g.CelebrationDelay == "" {
		g.CelebrationDelay = defaultCelebrationDelay
	}
	if g.TickInterval == "" {
		g.TickInterval = defaultTickInterval
	}
	if g.RetryInterval == "" {
		g.RetryInterval = defaultRetryInterval
	}
	if g.PoolSize == 0 {
		g.PoolSize = defaultPoolSize
	}
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if _, err := log.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.Server.LogLevel)
	}

	if c.Server.AuthURL != "" {
		u, err := url.Parse(c.Server.AuthURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid auth_url %q", c.Server.AuthURL)
		}
	}

	g := c.Game
	if g == nil {
		return fmt.Errorf("game block missing")
	}
	if err := card.ValidatePoolSize(g.PoolSize); err != nil {
		return fmt.Errorf("pool_size: %w", err)
	}

	for name, value := range map[string]string{
		"draw_interval":     g.DrawInterval,
		"celebration_delay": g.CelebrationDelay,
		"tick_interval":     g.TickInterval,
		"retry_interval":    g.RetryInterval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, value)
		}
	}
	return nil
}

// SessionConfig converts the game block into a session configuration.
func (c *Config) SessionConfig() (session.Config, error) {
	if err := c.Validate(); err != nil {
		return session.Config{}, err
	}
	g := c.Game

	// Validate has already checked every duration parses.
	draw, _ := time.ParseDuration(g.DrawInterval)
	celebration, _ := time.ParseDuration(g.CelebrationDelay)
	tick, _ := time.ParseDuration(g.TickInterval)
	retry, _ := time.ParseDuration(g.RetryInterval)

	return session.Config{
		Game: game.Config{
			PoolSize:         g.PoolSize,
			DrawInterval:     draw,
			CelebrationDelay: celebration,
			AutoContinue:     *g.AutoContinue,
			SharedCard:       g.SharedCard,
			Seed:             g.Seed,
		},
		TickInterval:  tick,
		RetryInterval: retry,
		Authority:     *g.Authority,
	}, nil
}

// ServerOptions returns the auth options configured in the server block.
func (c *Config) ServerOptions() []Option {
	var opts []Option
	if c.Server.AuthURL != "" {
		opts = append(opts, WithParticipantAuth(auth.NewHTTPValidator(c.Server.AuthURL, c.Server.AuthSecret)))
	}
	if c.Server.AdminToken != "" {
		opts = append(opts, WithAdminAuth(auth.NewStaticValidator(c.Server.AdminToken, auth.Identity{ParticipantID: "admin"})))
	}
	return opts
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

func boolPtr(b bool) *bool {
	return &b
}
