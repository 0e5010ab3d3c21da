package randutil

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	rand "math/rand/v2"
)

const (
	goldenRatio64 = 0x9e3779b97f4a7c15
)

// New returns a *rand.Rand seeded deterministically from the provided seed.
// Every shuffle and card in a round is derived through here so that a round
// can be replayed from its seed alone.
func New(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(mix(seed), mix(seed+goldenRatio64)))
}

// NewSeed reads a fresh non-zero seed from crypto/rand.
func NewSeed() (uint64, error) {
	var b [8]byte
	for {
		if _, err := crand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("read random seed: %w", err)
		}
		if seed := binary.LittleEndian.Uint64(b[:]); seed != 0 {
			return seed, nil
		}
	}
}

// NextSeed returns a seed from source that differs from prev. Zero is never
// returned since it marks "no seed yet".
func NextSeed(source func() (uint64, error), prev uint64) (uint64, error) {
	for {
		seed, err := source()
		if err != nil {
			return 0, err
		}
		if seed != 0 && seed != prev {
			return seed, nil
		}
	}
}

// DeriveSeed mixes a round seed with a label (usually a participant ID) into
// an independent stream seed.
func DeriveSeed(seed uint64, label string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(label))
	derived := mix(seed ^ mix(h.Sum64()))
	if derived == 0 {
		derived = goldenRatio64
	}
	return derived
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
