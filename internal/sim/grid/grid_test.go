package grid

import (
	"math"
	"testing"
)

func TestNew_MarksCoveredCells(t *testing.T) {
	idx := New(10, 10, []Rect{{X: 4, Y: 4, W: 2, H: 2}})
	for _, c := range [][2]int{{4, 4}, {5, 4}, {4, 5}, {5, 5}} {
		if !idx.Blocked(c[0], c[1]) {
			t.Fatalf("cell %v should be blocked", c)
		}
	}
	for _, c := range [][2]int{{3, 4}, {6, 4}, {4, 3}, {4, 6}, {0, 0}} {
		if idx.Blocked(c[0], c[1]) {
			t.Fatalf("cell %v should be free", c)
		}
	}
}

func TestNew_ClipsOutOfRange(t *testing.T) {
	idx := New(4, 4, []Rect{{X: -2, Y: 2, W: 4, H: 10}})
	m := idx.Matrix()
	if len(m) != 4 || len(m[0]) != 4 {
		t.Fatalf("matrix shape %dx%d", len(m), len(m[0]))
	}
	if !m[3][1] || !m[2][0] {
		t.Fatalf("clipped cells missing: %v", m)
	}
	if m[2][2] || m[1][0] {
		t.Fatalf("unexpected blocked cell: %v", m)
	}
}

func TestBlocked_OutOfRange(t *testing.T) {
	idx := New(3, 3, nil)
	if !idx.Blocked(-1, 0) || !idx.Blocked(0, 3) {
		t.Fatalf("out of range cells must count as blocked")
	}
}

func TestIsBlocked_ContinuousContainment(t *testing.T) {
	idx := New(10, 10, []Rect{{X: 4, Y: 4, W: 2, H: 2}})
	cases := []struct {
		x, y float64
		want bool
	}{
		{4, 4, true},
		{5.999, 5.999, true},
		{6, 5, false},
		{3.999, 4.5, false},
		{4.5, 6, false},
	}
	for _, c := range cases {
		if got := idx.IsBlocked(c.x, c.y); got != c.want {
			t.Fatalf("IsBlocked(%v,%v)=%v want %v", c.x, c.y, got, c.want)
		}
	}
}

func TestClamp(t *testing.T) {
	idx := New(5, 3, nil)
	p := idx.Clamp(Vec2{X: 9, Y: -1})
	if p.Y != 0 {
		t.Fatalf("y=%v", p.Y)
	}
	if p.X >= 5 || p.X < 4.999999 {
		t.Fatalf("x=%v want just below 5", p.X)
	}
	if !idx.InBounds(p) {
		t.Fatalf("clamped point out of bounds: %+v", p)
	}
	if got := idx.Clamp(Vec2{X: math.NaN(), Y: 1}); got.X != 0 {
		t.Fatalf("NaN should clamp to 0, got %v", got.X)
	}
	in := Vec2{X: 2.5, Y: 1.25}
	if idx.Clamp(in) != in {
		t.Fatalf("in-range point changed")
	}
}
