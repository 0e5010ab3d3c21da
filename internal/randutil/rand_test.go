package randutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsDeterministic(t *testing.T) {
	a := New(42)
	b := New(42)
	for range 100 {
		require.Equal(t, a.Uint64(), b.Uint64())
	}

	c := New(43)
	assert.NotEqual(t, New(42).Uint64(), c.Uint64())
}

func TestNewSeedNonZero(t *testing.T) {
	for range 10 {
		seed, err := NewSeed()
		require.NoError(t, err)
		assert.NotZero(t, seed)
	}
}

func TestNextSeedSkipsPreviousAndZero(t *testing.T) {
	values := []uint64{7, 0, 7, 9}
	source := func() (uint64, error) {
		v := values[0]
		values = values[1:]
		return v, nil
	}

	seed, err := NextSeed(source, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), seed)
}

func TestNextSeedPropagatesError(t *testing.T) {
	boom := errors.New("entropy unavailable")
	_, err := NextSeed(func() (uint64, error) { return 0, boom }, 1)
	assert.ErrorIs(t, err, boom)
}

func TestDeriveSeed(t *testing.T) {
	assert.Equal(t, DeriveSeed(42, "alice"), DeriveSeed(42, "alice"))
	assert.NotEqual(t, DeriveSeed(42, "alice"), DeriveSeed(42, "bob"))
	assert.NotEqual(t, DeriveSeed(42, "alice"), DeriveSeed(43, "alice"))
	assert.NotZero(t, DeriveSeed(0, ""))
}
