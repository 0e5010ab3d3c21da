package deck

import (
	"github.com/lox/bingoforbots/internal/randutil"
)

// DefaultSize is the standard 75-ball game.
const DefaultSize = 75

// Pool holds the undrawn numbers for one round. Numbers are shuffled once at
// Init and then popped from the tail, so a number can never come out twice
// without any membership check.
type Pool struct {
	size      int
	seed      uint64
	remaining []int
}

// NewPool creates an empty pool for numbers 1..size. Call Init before drawing.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		size:      size,
		remaining: make([]int, 0, size),
	}
}

// Init refills the pool with 1..size and shuffles it with Fisher-Yates driven
// by seed. Any previous contents are discarded.
func (p *Pool) Init(seed uint64) {
	rng := randutil.New(seed)

	p.seed = seed
	p.remaining = p.remaining[:0]
	for n := 1; n <= p.size; n++ {
		p.remaining = append(p.remaining, n)
	}

	for i := len(p.remaining) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		p.remaining[i], p.remaining[j] = p.remaining[j], p.remaining[i]
	}
}

// Draw pops the next number. ok is false once the pool is exhausted.
func (p *Pool) Draw() (number int, ok bool) {
	last := len(p.remaining) - 1
	if last < 0 {
		return 0, false
	}
	number = p.remaining[last]
	p.remaining = p.remaining[:last]
	return number, true
}

// Remaining returns the number of undrawn numbers.
func (p *Pool) Remaining() int {
	return len(p.remaining)
}

// Drawn returns how many numbers have left the pool since Init.
func (p *Pool) Drawn() int {
	return p.size - len(p.remaining)
}

// Size returns the highest number in the pool.
func (p *Pool) Size() int {
	return p.size
}

// Seed returns the seed the pool was last initialised with.
func (p *Pool) Seed() uint64 {
	return p.seed
}

