package replication

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/bingoforbots/internal/protocol"
)

// DefaultRetryInterval is how long a subscriber waits before redelivering a
// message its sink refused.
const DefaultRetryInterval = 500 * time.Millisecond

var ErrClosed = errors.New("replication channel closed")

// Sink receives messages for one subscriber. Returning an error leaves the
// message at the head of the queue to be retried.
type Sink interface {
	Deliver(ctx context.Context, msg protocol.Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg protocol.Message) error

func (f SinkFunc) Deliver(ctx context.Context, msg protocol.Message) error {
	return f(ctx, msg)
}

// Channel fans authority messages out to subscribers in publish order.
// Every message is stamped with the next sequence number and kept in the
// round log until the next round_reset, so late subscribers can catch up.
// Publishing never blocks on a subscriber.
type Channel struct {
	clock  quartz.Clock
	logger *log.Logger
	retry  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	seq      uint64
	roundLog []protocol.Message
	subs     map[string]*subscriber
	closed   bool
}

// NewChannel creates a channel. A non-positive retry uses DefaultRetryInterval.
func NewChannel(clock quartz.Clock, logger *log.Logger, retry time.Duration) *Channel {
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		clock:  clock,
		logger: logger.WithPrefix("replication"),
		retry:  retry,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*subscriber),
	}
}

// Publish broadcasts msg to every subscriber and returns it as stamped.
func (c *Channel) Publish(msg protocol.Message) (protocol.Message, error) {
	msg.Recipient = ""
	return c.append(msg)
}

// SendTo delivers msg to a single subscriber. It is still logged so the
// recipient sees it again on replay.
func (c *Channel) SendTo(id string, msg protocol.Message) (protocol.Message, error) {
	msg.Recipient = id
	return c.append(msg)
}

func (c *Channel) append(msg protocol.Message) (protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return msg, ErrClosed
	}

	c.seq++
	msg.Seq = c.seq

	if msg.Type == protocol.TypeRoundReset {
		c.roundLog = nil
	}
	c.roundLog = append(c.roundLog, msg)

	if msg.IsBroadcast() {
		for _, s := range c.subs {
			s.enqueue(msg)
		}
	} else if s, ok := c.subs[msg.Recipient]; ok {
		s.enqueue(msg)
	}
	return msg, nil
}

// Subscribe registers sink under id, replays the current round log to it and
// then streams new messages. Subscribing an id again replaces its sink and
// replays from the start of the round.
func (c *Channel) Subscribe(id string, sink Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if old, ok := c.subs[id]; ok {
		old.stop()
	}

	s := newSubscriber(id, sink)
	for _, msg := range c.roundLog {
		if msg.For(id) {
			s.queue = append(s.queue, msg)
		}
	}
	c.subs[id] = s
	replay := len(s.queue)

	c.wg.Add(1)
	go c.deliver(s)

	c.logger.Debug("Subscriber added", "id", id, "replay", replay)
	return nil
}

// Unsubscribe stops delivery to id. Undelivered messages are dropped.
func (c *Channel) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.subs[id]; ok {
		s.stop()
		delete(c.subs, id)
		c.logger.Debug("Subscriber removed", "id", id)
	}
}

// Close stops every subscriber and waits for their delivery loops to exit.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, s := range c.subs {
		s.stop()
		delete(c.subs, id)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// Seq returns the last sequence number assigned.
func (c *Channel) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// RoundLog returns a copy of the messages published since the last reset.
func (c *Channel) RoundLog() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.roundLog))
	copy(out, c.roundLog)
	return out
}

// Subscribers returns the number of active subscribers.
func (c *Channel) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Pending returns how many messages are queued for id.
func (c *Channel) Pending(id string) int {
	c.mu.Lock()
	s, ok := c.subs[id]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return s.pending()
}

func (c *Channel) deliver(s *subscriber) {
	defer c.wg.Done()

	for {
		msg, ok := s.peek()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			case <-c.ctx.Done():
				return
			}
		}

		if err := s.sink.Deliver(c.ctx, msg); err != nil {
			c.logger.Warn("Delivery failed, will retry",
				"subscriber", s.id, "seq", msg.Seq, "type", msg.Type, "error", err, "retry", c.retry)

			timer := c.clock.NewTimer(c.retry, "replication", "retry")
			select {
			case <-timer.C:
				continue
			case <-s.done:
				timer.Stop()
				return
			case <-c.ctx.Done():
				timer.Stop()
				return
			}
		}

		s.pop(msg.Seq)
	}
}

type subscriber struct {
	id     string
	sink   Sink
	notify chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	queue    []protocol.Message
	stopOnce sync.Once
}

func newSubscriber(id string, sink Sink) *subscriber {
	return &subscriber{
		id:     id,
		sink:   sink,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// enqueue appends msg. A round_reset supersedes everything still queued,
// since views discard messages from earlier rounds.
func (s *subscriber) enqueue(msg protocol.Message) {
	s.mu.Lock()
	if msg.Type == protocol.TypeRoundReset {
		clear(s.queue)
		s.queue = s.queue[:0]
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) peek() (protocol.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return protocol.Message{}, false
	}
	return s.queue[0], true
}

// pop removes the head if it is still the message with seq. A reset may have
// replaced the queue while that message was being delivered.
func (s *subscriber) pop(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 && s.queue[0].Seq == seq {
		s.queue[0] = protocol.Message{}
		s.queue = s.queue[1:]
	}
}

func (s *subscriber) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
