package client

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/bingoforbots/internal/protocol"
	"github.com/lox/bingoforbots/internal/server"
	"github.com/lox/bingoforbots/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func startServer(t *testing.T, drawInterval time.Duration) (*session.Session, string) {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.Game.DrawInterval = drawInterval
	cfg.Game.CelebrationDelay = time.Hour
	cfg.Game.AutoContinue = false
	cfg.TickInterval = time.Millisecond
	cfg.RetryInterval = 5 * time.Millisecond

	logger := log.New(io.Discard)
	clock := quartz.NewReal()
	sess := session.New(cfg, clock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	srv := server.NewServer("", nil, sess, clock, logger)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		hs.Close()
		cancel()
		<-done
	})
	return sess, hs.URL
}

func connect(t *testing.T, url, participant string, spectate bool) *Client {
	t.Helper()
	c := NewClient(url, participant, spectate, 75, log.New(io.Discard))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestBotsPlayToAWin(t *testing.T) {
	sess, url := startServer(t, 5*time.Millisecond)

	alice := connect(t, url, "alice", false)
	aliceBot := NewBot(alice, BotOptions{AutoMark: true, AutoClaim: true}, log.New(io.Discard))
	bob := connect(t, url, "bob", false)
	bobBot := NewBot(bob, BotOptions{AutoMark: true}, log.New(io.Discard))

	require.Eventually(t, func() bool {
		_, a := sess.View("alice")
		_, b := sess.View("bob")
		return a && b
	}, time.Second, time.Millisecond)

	require.NoError(t, sess.StartGame(context.Background()))

	require.Eventually(t, func() bool {
		return aliceBot.Stats().Wins == 1 && bobBot.Stats().Lost == 1
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, "alice", alice.View().Snapshot().Winner)
	assert.Equal(t, "alice", bob.View().Snapshot().Winner)
	assert.Equal(t, 1, aliceBot.Stats().Claims)
	assert.Zero(t, bobBot.Stats().Claims)
	assert.Zero(t, aliceBot.Stats().Rejected)
	assert.Zero(t, aliceBot.Stats().NearMisses)
	// No draws follow the win, so bob's card is as it was when alice won.
	assert.Equal(t, bob.View().Missing() == 1, bobBot.Stats().NearMisses == 1)

	// Sent marks reach the authority-side mirror.
	mirror, ok := sess.View("bob")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return mirror.Marks().Count() == bob.View().Marks().Count()
	}, time.Second, time.Millisecond)
}

func TestSpectatorClientHasNoCard(t *testing.T) {
	sess, url := startServer(t, time.Hour)

	spectator := connect(t, url, "", true)
	announced := make(chan protocol.Message, 1)
	go func() {
		msg, err := spectator.WaitForMessage(protocol.TypeNumberAnnounced, 2*time.Second)
		assert.NoError(t, err)
		announced <- msg
	}()
	require.Eventually(t, func() bool {
		spectator.mu.RLock()
		defer spectator.mu.RUnlock()
		return len(spectator.eventHandlers[protocol.TypeNumberAnnounced]) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, sess.StartGame(context.Background()))
	msg := <-announced
	assert.NotZero(t, msg.Seq)

	_, hasCard := spectator.View().Card()
	assert.False(t, hasCard)
	assert.Len(t, spectator.View().Drawn(), 1)
}

func TestClaimWithoutLineIsRejected(t *testing.T) {
	sess, url := startServer(t, time.Hour)

	carol := connect(t, url, "carol", false)
	bot := NewBot(carol, BotOptions{}, log.New(io.Discard))
	require.Eventually(t, func() bool {
		_, ok := sess.View("carol")
		return ok
	}, time.Second, time.Millisecond)
	require.NoError(t, sess.StartGame(context.Background()))

	require.Eventually(t, func() bool {
		return len(carol.View().Drawn()) == 1
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, carol.ClaimWin())
	require.Eventually(t, func() bool {
		return bot.Stats().Rejected == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, protocol.ReasonNoLine, carol.View().Snapshot().Rejected)
}

func TestLoadClientConfig(t *testing.T) {
	cfg, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.hcl"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BotOptions{AutoMark: true, AutoClaim: true}, cfg.BotOptions())

	path := filepath.Join(t.TempDir(), "client.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
server {
  url = "http://bingo.example:9000"
}

player {
  name       = "dave"
  auto_claim = false
  log_level  = "debug"
}
`), 0o600))

	cfg, err = LoadClientConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://bingo.example:9000", cfg.Server.URL)
	assert.Equal(t, "dave", cfg.Player.Name)
	assert.Equal(t, BotOptions{AutoMark: true}, cfg.BotOptions())

	cfg.Player.LogLevel = "loud"
	assert.Error(t, cfg.Validate())
}
