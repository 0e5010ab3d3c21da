package card

import (
	"errors"
	"fmt"
	rand "math/rand/v2"
	"strings"

	"github.com/lox/bingoforbots/internal/randutil"
)

const (
	// Size is the width and height of a card.
	Size = 5
	// Cells is the number of cells on a card.
	Cells = Size * Size
	// Free is the sentinel stored in the centre cell.
	Free = 0
	// Centre is the row and column of the FREE cell.
	Centre = Size / 2
	// CentreIndex is the row-major index of the FREE cell.
	CentreIndex = Centre*Size + Centre
)

var (
	ErrCellIndex = errors.New("cell index out of range")
	ErrInvalid   = errors.New("invalid card")
	ErrPoolSize  = errors.New("invalid pool size")
)

// Card is a 5x5 grid in row-major order. Column c only holds numbers from
// that column's range; the centre is Free.
type Card struct {
	Cells [Size][Size]int `json:"cells"`
	Seed  uint64          `json:"seed,string"`
}

// At returns the number at a row-major cell index (0..24).
func (c Card) At(index int) (int, error) {
	if index < 0 || index >= Cells {
		return 0, fmt.Errorf("%w: %d", ErrCellIndex, index)
	}
	return c.Cells[index/Size][index%Size], nil
}

// IndexOf returns the cell index holding n, or -1.
func (c Card) IndexOf(n int) int {
	if n == Free {
		return -1
	}
	for row := range Size {
		for col := range Size {
			if c.Cells[row][col] == n {
				return row*Size + col
			}
		}
	}
	return -1
}

// IsZero reports whether the card has never been assigned.
func (c Card) IsZero() bool {
	return c == Card{}
}

// MarksFor builds the marks grid from a drawn-number predicate. This is how
// the authority recomputes a claimant's card instead of trusting its marks.
func (c Card) MarksFor(drawn func(n int) bool) Marks {
	m := NewMarks()
	for row := range Size {
		for col := range Size {
			if n := c.Cells[row][col]; n != Free && drawn(n) {
				m[row][col] = true
			}
		}
	}
	return m
}

// Validate checks column ranges, uniqueness and the FREE centre against a
// pool of the given size.
func (c Card) Validate(poolSize int) error {
	width := ColumnWidth(poolSize)
	if width < Size {
		return fmt.Errorf("%w: pool size %d too small", ErrInvalid, poolSize)
	}
	if c.Cells[Centre][Centre] != Free {
		return fmt.Errorf("%w: centre cell is %d, want FREE", ErrInvalid, c.Cells[Centre][Centre])
	}

	seen := make(map[int]bool, Cells)
	for row := range Size {
		for col := range Size {
			if row == Centre && col == Centre {
				continue
			}
			n := c.Cells[row][col]
			lo, hi := ColumnRange(col, poolSize)
			if n < lo || n > hi {
				return fmt.Errorf("%w: cell (%d,%d)=%d outside column range [%d,%d]", ErrInvalid, row, col, n, lo, hi)
			}
			if seen[n] {
				return fmt.Errorf("%w: duplicate number %d", ErrInvalid, n)
			}
			seen[n] = true
		}
	}
	return nil
}

// String renders the card as five lines of numbers, FREE shown as "**".
func (c Card) String() string {
	var b strings.Builder
	for row := range Size {
		for col := range Size {
			if col > 0 {
				b.WriteByte(' ')
			}
			if n := c.Cells[row][col]; n == Free {
				b.WriteString("**")
			} else {
				fmt.Fprintf(&b, "%2d", n)
			}
		}
		if row < Size-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ColumnWidth is how many numbers each column can draw from.
func ColumnWidth(poolSize int) int {
	return poolSize / Size
}

// ColumnRange returns the inclusive number range for column col.
func ColumnRange(col, poolSize int) (lo, hi int) {
	w := ColumnWidth(poolSize)
	return w*col + 1, w*col + w
}

// ValidatePoolSize checks that poolSize splits into five columns of at least
// five numbers each.
func ValidatePoolSize(poolSize int) error {
	if poolSize < Cells || poolSize%Size != 0 {
		return fmt.Errorf("%w: %d is not a multiple of %d of at least %d", ErrPoolSize, poolSize, Size, Cells)
	}
	return nil
}

// Factory generates cards for a pool size.
type Factory struct {
	poolSize int
}

// NewFactory returns a factory for numbers 1..poolSize.
func NewFactory(poolSize int) Factory {
	return Factory{poolSize: poolSize}
}

// Generate fills each column with distinct values from its range. Columns
// narrower than Size cannot hold five distinct values, so those pool sizes
// are refused before sampling.
func (f Factory) Generate(rng *rand.Rand) (Card, error) {
	var c Card
	if err := ValidatePoolSize(f.poolSize); err != nil {
		return c, err
	}
	width := ColumnWidth(f.poolSize)

	for col := range Size {
		lo, _ := ColumnRange(col, f.poolSize)
		used := make(map[int]bool, Size)
		for row := range Size {
			if row == Centre && col == Centre {
				c.Cells[row][col] = Free
				continue
			}
			n := lo + rng.IntN(width)
			for used[n] {
				n = lo + rng.IntN(width)
			}
			used[n] = true
			c.Cells[row][col] = n
		}
	}
	return c, nil
}

// FromSeed generates the card for seed and records the seed on it.
func (f Factory) FromSeed(seed uint64) (Card, error) {
	c, err := f.Generate(randutil.New(seed))
	if err != nil {
		return Card{}, err
	}
	c.Seed = seed
	return c, nil
}
