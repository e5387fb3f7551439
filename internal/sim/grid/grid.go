package grid

import "math"

// Vec2 is a continuous position in grid-cell units.
type Vec2 struct {
	X float64
	Y float64
}

// Rect is a building footprint in integer grid cells.
type Rect struct {
	X int
	Y int
	W int
	H int
}

func (r Rect) Contains(x, y float64) bool {
	return x >= float64(r.X) && x < float64(r.X+r.W) &&
		y >= float64(r.Y) && y < float64(r.Y+r.H)
}

// Index is the walkability matrix of one scene. It is immutable once built;
// a changed building list means a new Index.
type Index struct {
	cols      int
	rows      int
	blocked   []bool
	buildings []Rect
}

// New marks every in-range cell covered by a building as blocked. Cells
// outside [0,cols) x [0,rows) are clipped.
func New(cols, rows int, buildings []Rect) *Index {
	if cols < 0 {
		cols = 0
	}
	if rows < 0 {
		rows = 0
	}
	idx := &Index{
		cols:      cols,
		rows:      rows,
		blocked:   make([]bool, cols*rows),
		buildings: append([]Rect(nil), buildings...),
	}
	for _, b := range buildings {
		x0, y0 := max(0, b.X), max(0, b.Y)
		x1, y1 := min(cols, b.X+b.W), min(rows, b.Y+b.H)
		for cy := y0; cy < y1; cy++ {
			for cx := x0; cx < x1; cx++ {
				idx.blocked[cy*cols+cx] = true
			}
		}
	}
	return idx
}

func (idx *Index) Cols() int { return idx.cols }
func (idx *Index) Rows() int { return idx.rows }

// Blocked reports whether cell (cx, cy) is covered. Out-of-range cells count as blocked.
func (idx *Index) Blocked(cx, cy int) bool {
	if cx < 0 || cy < 0 || cx >= idx.cols || cy >= idx.rows {
		return true
	}
	return idx.blocked[cy*idx.cols+cx]
}

// IsBlocked tests a continuous point against the building rectangles directly.
// The point is not rounded to a cell.
func (idx *Index) IsBlocked(x, y float64) bool {
	for _, b := range idx.buildings {
		if b.Contains(x, y) {
			return true
		}
	}
	return false
}

func (idx *Index) InBounds(p Vec2) bool {
	return p.X >= 0 && p.X < float64(idx.cols) && p.Y >= 0 && p.Y < float64(idx.rows)
}

// Clamp pulls p into [0,cols) x [0,rows). The upper edge is exclusive, so
// values are clamped to the largest float below it.
func (idx *Index) Clamp(p Vec2) Vec2 {
	return Vec2{
		X: clampAxis(p.X, idx.cols),
		Y: clampAxis(p.Y, idx.rows),
	}
}

func clampAxis(v float64, n int) float64 {
	if n <= 0 || v < 0 || math.IsNaN(v) {
		return 0
	}
	hi := math.Nextafter(float64(n), 0)
	if v > hi {
		return hi
	}
	return v
}

// Matrix returns a row-major copy of the walkability matrix (true = blocked).
func (idx *Index) Matrix() [][]bool {
	out := make([][]bool, idx.rows)
	for y := 0; y < idx.rows; y++ {
		out[y] = append([]bool(nil), idx.blocked[y*idx.cols:(y+1)*idx.cols]...)
	}
	return out
}
