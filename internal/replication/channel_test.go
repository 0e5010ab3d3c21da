package replication

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/bingoforbots/internal/protocol"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []protocol.Message
	failures int
	attempts int
	block    chan struct{}
}

func (s *recordingSink) Deliver(ctx context.Context, msg protocol.Message) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return errors.New("collaborator unavailable")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) received() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.messages...)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func newTestChannel(t *testing.T, retry time.Duration) *Channel {
	t.Helper()
	c := NewChannel(quartz.NewReal(), log.New(io.Discard), retry)
	t.Cleanup(c.Close)
	return c
}

func mustMessage(t *testing.T, typ protocol.MessageType, roundID string, data any) protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(typ, roundID, data, time.Now())
	require.NoError(t, err)
	return msg
}

func announce(t *testing.T, roundID string, n int) protocol.Message {
	return mustMessage(t, protocol.TypeNumberAnnounced, roundID, protocol.NumberAnnounced{Number: n})
}

func numbersOf(t *testing.T, msgs []protocol.Message) []int {
	t.Helper()
	var out []int
	for _, m := range msgs {
		if m.Type != protocol.TypeNumberAnnounced {
			continue
		}
		var data protocol.NumberAnnounced
		require.NoError(t, m.Decode(&data))
		out = append(out, data.Number)
	}
	return out
}

func TestChannelDeliversInPublishOrder(t *testing.T) {
	c := newTestChannel(t, 0)
	sink := &recordingSink{}
	require.NoError(t, c.Subscribe("alice", sink))

	var want []int
	for n := 1; n <= 50; n++ {
		_, err := c.Publish(announce(t, "r1", n))
		require.NoError(t, err)
		want = append(want, n)
	}

	require.Eventually(t, func() bool { return sink.count() == 50 }, time.Second, 5*time.Millisecond)

	got := sink.received()
	assert.Equal(t, want, numbersOf(t, got))
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
	assert.Equal(t, uint64(50), c.Seq())
}

func TestChannelReplaysRoundLogOnSubscribe(t *testing.T) {
	c := newTestChannel(t, 0)

	_, err := c.Publish(mustMessage(t, protocol.TypeRoundReset, "r1", protocol.RoundReset{RoundID: "r1", Seed: 9}))
	require.NoError(t, err)
	_, err = c.SendTo("alice", mustMessage(t, protocol.TypeCardAssigned, "r1", protocol.CardAssigned{ParticipantID: "alice"}))
	require.NoError(t, err)
	_, err = c.Publish(announce(t, "r1", 11))
	require.NoError(t, err)

	alice := &recordingSink{}
	bob := &recordingSink{}
	require.NoError(t, c.Subscribe("alice", alice))
	require.NoError(t, c.Subscribe("bob", bob))

	require.Eventually(t, func() bool { return alice.count() == 3 && bob.count() == 2 }, time.Second, 5*time.Millisecond)

	var types []protocol.MessageType
	for _, m := range bob.received() {
		types = append(types, m.Type)
	}
	assert.Equal(t, []protocol.MessageType{protocol.TypeRoundReset, protocol.TypeNumberAnnounced}, types)
	assert.Equal(t, protocol.TypeCardAssigned, alice.received()[1].Type)
}

func TestChannelResubscribeReplaysAgain(t *testing.T) {
	c := newTestChannel(t, 0)
	_, err := c.Publish(announce(t, "r1", 3))
	require.NoError(t, err)

	first := &recordingSink{}
	require.NoError(t, c.Subscribe("alice", first))
	require.Eventually(t, func() bool { return first.count() == 1 }, time.Second, 5*time.Millisecond)

	second := &recordingSink{}
	require.NoError(t, c.Subscribe("alice", second))
	require.Eventually(t, func() bool { return second.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Subscribers())
	assert.Equal(t, first.received()[0].Seq, second.received()[0].Seq)
}

func TestChannelRoundResetTruncatesLog(t *testing.T) {
	c := newTestChannel(t, 0)
	for n := 1; n <= 5; n++ {
		_, err := c.Publish(announce(t, "r1", n))
		require.NoError(t, err)
	}
	_, err := c.Publish(mustMessage(t, protocol.TypeRoundReset, "r2", protocol.RoundReset{RoundID: "r2"}))
	require.NoError(t, err)
	_, err = c.Publish(announce(t, "r2", 40))
	require.NoError(t, err)

	roundLog := c.RoundLog()
	require.Len(t, roundLog, 2)
	assert.Equal(t, protocol.TypeRoundReset, roundLog[0].Type)
	assert.Equal(t, uint64(6), roundLog[0].Seq)
}

func TestChannelRetriesUnavailableSink(t *testing.T) {
	c := newTestChannel(t, 10*time.Millisecond)
	sink := &recordingSink{failures: 3}
	require.NoError(t, c.Subscribe("alice", sink))

	for n := 1; n <= 3; n++ {
		_, err := c.Publish(announce(t, "r1", n))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return sink.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, numbersOf(t, sink.received()))

	sink.mu.Lock()
	assert.Equal(t, 6, sink.attempts)
	sink.mu.Unlock()
}

func TestChannelPublishDoesNotBlockOnSlowSink(t *testing.T) {
	c := newTestChannel(t, 0)
	sink := &recordingSink{block: make(chan struct{})}
	require.NoError(t, c.Subscribe("slow", sink))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := 1; n <= 75; n++ {
			_, err := c.Publish(announce(t, "r1", n))
			assert.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	close(sink.block)
	require.Eventually(t, func() bool { return sink.count() == 75 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Pending("slow"))
}

func TestChannelUnsubscribeAndClose(t *testing.T) {
	c := NewChannel(quartz.NewReal(), log.New(io.Discard), 0)

	sink := &recordingSink{}
	require.NoError(t, c.Subscribe("alice", sink))
	c.Unsubscribe("alice")
	assert.Zero(t, c.Subscribers())

	_, err := c.Publish(announce(t, "r1", 1))
	require.NoError(t, err)

	c.Close()
	c.Close()

	_, err = c.Publish(announce(t, "r1", 2))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Subscribe("bob", sink), ErrClosed)
	assert.Zero(t, sink.count())
}

func TestChannelRoundResetDropsStaleQueue(t *testing.T) {
	c := newTestChannel(t, 0)
	sink := &recordingSink{block: make(chan struct{})}
	require.NoError(t, c.Subscribe("stuck", sink))

	for n := 1; n <= 30; n++ {
		_, err := c.Publish(announce(t, "r1", n))
		require.NoError(t, err)
	}
	reset, err := c.Publish(mustMessage(t, protocol.TypeRoundReset, "r2", protocol.RoundReset{RoundID: "r2"}))
	require.NoError(t, err)
	_, err = c.Publish(announce(t, "r2", 40))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Pending("stuck"))

	close(sink.block)
	require.Eventually(t, func() bool { return c.Pending("stuck") == 0 }, time.Second, 5*time.Millisecond)

	// At most the announcement already in flight survives from round one.
	got := sink.received()
	require.GreaterOrEqual(t, len(got), 2)
	require.LessOrEqual(t, len(got), 3)
	assert.Equal(t, reset.Seq, got[len(got)-2].Seq)
	assert.Equal(t, []int{40}, numbersOf(t, got[len(got)-1:]))
}

func TestChannelConcurrentResubscribe(t *testing.T) {
	c := newTestChannel(t, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 1; n <= 75; n++ {
			_, err := c.Publish(announce(t, "r1", n))
			assert.NoError(t, err)
		}
	}()

	var last *recordingSink
	for range 20 {
		last = &recordingSink{}
		require.NoError(t, c.Subscribe("alice", last))
	}
	wg.Wait()

	// The final sink replays the whole round, whatever it saw live.
	require.Eventually(t, func() bool { return last.count() == 75 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Subscribers())
}
