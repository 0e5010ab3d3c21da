package card

// Marks records which cells are daubed. The centre is always marked.
type Marks [Size][Size]bool

// NewMarks returns a grid with only FREE marked.
func NewMarks() Marks {
	var m Marks
	m[Centre][Centre] = true
	return m
}

// Mark sets a cell by row-major index.
func (m *Marks) Mark(index int) error {
	if index < 0 || index >= Cells {
		return ErrCellIndex
	}
	m[index/Size][index%Size] = true
	return nil
}

// Marked reports whether a cell is marked.
func (m Marks) Marked(index int) bool {
	if index < 0 || index >= Cells {
		return false
	}
	return m[index/Size][index%Size]
}

// Count returns the number of marked cells, FREE included.
func (m Marks) Count() int {
	n := 0
	for row := range Size {
		for col := range Size {
			if m[row][col] {
				n++
			}
		}
	}
	return n
}

// Bits packs the grid into a 25-bit row-major mask.
func (m Marks) Bits() uint32 {
	var bits uint32
	for row := range Size {
		for col := range Size {
			if m[row][col] {
				bits |= 1 << (row*Size + col)
			}
		}
	}
	return bits
}
