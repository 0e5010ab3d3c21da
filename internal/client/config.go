package client

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/bingoforbots/internal/card"
)

// ClientConfig represents the complete client configuration
type ClientConfig struct {
	Server ServerConnection `hcl:"server,block"`
	Player PlayerSettings   `hcl:"player,block"`
}

// ServerConnection contains server connection settings
type ServerConnection struct {
	URL            string `hcl:"url,optional"`
	ConnectTimeout int    `hcl:"connect_timeout,optional"`
	PoolSize       int    `hcl:"pool_size,optional"`
}

// PlayerSettings controls how the bot plays
type PlayerSettings struct {
	Name      string `hcl:"name,optional"`
	Token     string `hcl:"token,optional"`
	Spectate  bool   `hcl:"spectate,optional"`
	AutoMark  *bool  `hcl:"auto_mark,optional"`
	AutoClaim *bool  `hcl:"auto_claim,optional"`
	LogLevel  string `hcl:"log_level,optional"`
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() *ClientConfig {
	c := &ClientConfig{}
	c.applyDefaults()
	return c
}

// LoadClientConfig loads client configuration from HCL file
func LoadClientConfig(filename string) (*ClientConfig, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultClientConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config ClientConfig
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	config.applyDefaults()
	return &config, nil
}

func (c *ClientConfig) applyDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = "http://localhost:8080"
	}
	if c.Server.ConnectTimeout == 0 {
		c.Server.ConnectTimeout = 10
	}
	if c.Server.PoolSize == 0 {
		c.Server.PoolSize = 75
	}
	if c.Player.AutoMark == nil {
		t := true
		c.Player.AutoMark = &t
	}
	if c.Player.AutoClaim == nil {
		t := true
		c.Player.AutoClaim = &t
	}
	if c.Player.LogLevel == "" {
		c.Player.LogLevel = "info"
	}
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.Server.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if err := card.ValidatePoolSize(c.Server.PoolSize); err != nil {
		return fmt.Errorf("pool_size: %w", err)
	}
	if _, err := log.ParseLevel(c.Player.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Player.LogLevel)
	}
	return nil
}

// BotOptions converts the player block into bot options.
func (c *ClientConfig) BotOptions() BotOptions {
	return BotOptions{
		AutoMark:  *c.Player.AutoMark,
		AutoClaim: *c.Player.AutoClaim,
	}
}
