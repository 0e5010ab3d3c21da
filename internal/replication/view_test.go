package replication

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/bingoforbots/internal/card"
	"github.com/lox/bingoforbots/internal/protocol"
)

type seqMessages struct {
	t   *testing.T
	seq uint64
}

func (s *seqMessages) next(typ protocol.MessageType, roundID string, data any) protocol.Message {
	s.seq++
	msg := mustMessage(s.t, typ, roundID, data)
	msg.Seq = s.seq
	return msg
}

func newTestView(participant string) *View {
	return NewView(participant, 75, log.New(io.Discard))
}

func startRound(t *testing.T, v *View, s *seqMessages, roundID string, c card.Card) {
	t.Helper()
	require.True(t, v.Apply(s.next(protocol.TypeRoundReset, roundID, protocol.RoundReset{RoundID: roundID, Seed: 1})))
	require.True(t, v.Apply(s.next(protocol.TypeCardAssigned, roundID, protocol.CardAssigned{ParticipantID: "alice", Card: c})))
}

func TestViewDuplicateAnnouncementIsNoop(t *testing.T) {
	v := newTestView("alice")
	s := &seqMessages{t: t}
	startRound(t, v, s, "r1", testCard(t, 1))

	msg := s.next(protocol.TypeNumberAnnounced, "r1", protocol.NumberAnnounced{Number: 7})
	assert.True(t, v.Apply(msg))
	before := v.Snapshot()

	assert.False(t, v.Apply(msg), "redelivery with the same seq")
	assert.Equal(t, before, v.Snapshot())

	again := s.next(protocol.TypeNumberAnnounced, "r1", protocol.NumberAnnounced{Number: 7})
	assert.False(t, v.Apply(again), "same number under a new seq")
	assert.Equal(t, []int{7}, v.Drawn())
	assert.Equal(t, 7, v.Current())
	assert.Equal(t, again.Seq, v.LastSeq())
}

func TestViewDropsMalformedAnnouncements(t *testing.T) {
	v := newTestView("alice")
	s := &seqMessages{t: t}
	startRound(t, v, s, "r1", testCard(t, 2))

	for _, n := range []int{0, -4, 76} {
		assert.False(t, v.Apply(s.next(protocol.TypeNumberAnnounced, "r1", protocol.NumberAnnounced{Number: n})), "number %d", n)
	}
	assert.False(t, v.Apply(s.next(protocol.TypeNumberAnnounced, "stale", protocol.NumberAnnounced{Number: 5})))

	bad := s.next(protocol.TypeNumberAnnounced, "r1", nil)
	assert.False(t, v.Apply(bad))

	assert.Empty(t, v.Drawn())
	assert.Zero(t, v.Current())
}

func TestViewIgnoresOtherParticipantsCards(t *testing.T) {
	v := newTestView("alice")
	s := &seqMessages{t: t}
	mine := testCard(t, 3)
	startRound(t, v, s, "r1", mine)

	theirs := testCard(t, 4)
	assert.False(t, v.Apply(s.next(protocol.TypeCardAssigned, "r1", protocol.CardAssigned{ParticipantID: "bob", Card: theirs})))

	directed := s.next(protocol.TypeCardAssigned, "r1", protocol.CardAssigned{ParticipantID: "bob", Card: theirs})
	directed.Recipient = "bob"
	assert.False(t, v.Apply(directed))

	got, ok := v.Card()
	require.True(t, ok)
	assert.Equal(t, mine, got)
}

func TestViewAcceptsSharedCard(t *testing.T) {
	v := newTestView("")
	s := &seqMessages{t: t}
	shared := testCard(t, 5)

	v.Apply(s.next(protocol.TypeRoundReset, "r1", protocol.RoundReset{RoundID: "r1"}))
	assert.True(t, v.Apply(s.next(protocol.TypeCardAssigned, "r1", protocol.CardAssigned{Card: shared})))

	got, ok := v.Card()
	require.True(t, ok)
	assert.Equal(t, shared, got)
}

func TestViewResetClearsRound(t *testing.T) {
	v := newTestView("alice")
	s := &seqMessages{t: t}
	c := testCard(t, 6)
	startRound(t, v, s, "r1", c)

	first := c.Cells[0][0]
	v.Apply(s.next(protocol.TypeNumberAnnounced, "r1", protocol.NumberAnnounced{Number: first}))
	marked, err := v.MarkCell(0)
	require.NoError(t, err)
	require.True(t, marked)
	v.Apply(s.next(protocol.TypeRoundExhausted, "r1", protocol.RoundExhausted{Draws: 75}))

	require.True(t, v.Apply(s.next(protocol.TypeRoundReset, "r2", protocol.RoundReset{RoundID: "r2", Seed: 2})))

	state := v.Snapshot()
	assert.Equal(t, "r2", state.RoundID)
	assert.Empty(t, state.Drawn)
	assert.Zero(t, state.Current)
	assert.Nil(t, state.Card)
	assert.False(t, state.Exhausted)
	assert.Equal(t, card.NewMarks(), state.Marks, "only FREE stays marked")

	assert.False(t, v.Apply(s.next(protocol.TypeNumberAnnounced, "r1", protocol.NumberAnnounced{Number: 9})), "old round")
}

func TestViewMarkCellRequiresDrawnNumber(t *testing.T) {
	v := newTestView("alice")
	s := &seqMessages{t: t}
	c := testCard(t, 7)
	startRound(t, v, s, "r1", c)

	marked, err := v.MarkCell(1)
	require.NoError(t, err)
	assert.False(t, marked, "number not called yet")

	v.Apply(s.next(protocol.TypeNumberAnnounced, "r1", protocol.NumberAnnounced{Number: c.Cells[0][1]}))
	marked, err = v.MarkCell(1)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = v.MarkCell(card.CentreIndex)
	require.NoError(t, err)
	assert.True(t, marked)

	_, err = v.MarkCell(30)
	assert.ErrorIs(t, err, card.ErrCellIndex)
}

func TestViewBingoAfterLine(t *testing.T) {
	v := newTestView("alice")
	s := &seqMessages{t: t}
	c := testCard(t, 8)
	startRound(t, v, s, "r1", c)

	// Column 0 is five numbers from 1..15.
	for row := range card.Size {
		v.Apply(s.next(protocol.TypeNumberAnnounced, "r1", protocol.NumberAnnounced{Number: c.Cells[row][0]}))
	}
	assert.False(t, v.Bingo(), "nothing marked yet")
	assert.Equal(t, 4, v.Missing(), "only FREE helps before marking")

	assert.Equal(t, 6, v.AutoMark())
	assert.True(t, v.Bingo())
	assert.Zero(t, v.Missing())
}

func TestViewWithoutCardNeverBingos(t *testing.T) {
	v := newTestView("spectator")
	assert.False(t, v.Bingo())
	assert.Equal(t, card.Size, v.Missing())
	marked, err := v.MarkCell(0)
	require.NoError(t, err)
	assert.False(t, marked)
}

func testCard(t *testing.T, seed uint64) card.Card {
	t.Helper()
	c, err := card.NewFactory(75).FromSeed(seed)
	require.NoError(t, err)
	return c
}
