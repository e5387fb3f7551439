package pathing

import (
	"container/heap"
	"math"

	"outpost.ai/internal/sim/grid"
)

type cell struct {
	X int
	Y int
}

// Fixed neighbour order for determinism.
var dirs = [4]cell{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}}

type node struct {
	c     cell
	g     int
	h     int
	seq   int
	index int
}

type openSet []*node

func (o openSet) Len() int { return len(o) }

func (o openSet) Less(i, j int) bool {
	fi, fj := o[i].g+o[i].h, o[j].g+o[j].h
	if fi != fj {
		return fi < fj
	}
	if o[i].h != o[j].h {
		return o[i].h < o[j].h
	}
	return o[i].seq < o[j].seq
}

func (o openSet) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}

func (o *openSet) Push(x any) {
	n := x.(*node)
	n.index = len(*o)
	*o = append(*o, n)
}

func (o *openSet) Pop() any {
	old := *o
	n := old[len(old)-1]
	old[len(old)-1] = nil
	n.index = -1
	*o = old[:len(old)-1]
	return n
}

func manhattan(a, b cell) int {
	dx := a.X - b.X
	if dx < 0 {
		dx = -dx
	}
	dy := a.Y - b.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// Plan returns the cell-centre waypoints of a 4-directional shortest route
// from the cell containing from to the cell nearest to, excluding the start
// cell. It returns nil when the target is blocked, unreachable, or is the
// start cell; callers must not queue a path in any of those cases.
func Plan(idx *grid.Index, from, to grid.Vec2) []grid.Vec2 {
	if idx == nil || idx.Cols() <= 0 || idx.Rows() <= 0 {
		return nil
	}
	start := cell{
		X: clampCell(int(math.Floor(from.X)), idx.Cols()),
		Y: clampCell(int(math.Floor(from.Y)), idx.Rows()),
	}
	goal := cell{
		X: clampCell(int(math.Round(to.X)), idx.Cols()),
		Y: clampCell(int(math.Round(to.Y)), idx.Rows()),
	}
	if idx.Blocked(goal.X, goal.Y) {
		return nil
	}
	if start == goal {
		return nil
	}

	cols := idx.Cols()
	key := func(c cell) int { return c.Y*cols + c.X }

	gScore := map[int]int{key(start): 0}
	cameFrom := map[int]cell{}
	closed := map[int]bool{}

	seq := 0
	open := &openSet{}
	heap.Push(open, &node{c: start, g: 0, h: manhattan(start, goal), seq: seq})

	// Budget mirrors the 2*cells guard used by the server-side A*.
	budget := 2 * cols * idx.Rows()
	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)
		ck := key(cur.c)
		if closed[ck] {
			continue
		}
		if budget--; budget < 0 {
			return nil
		}
		closed[ck] = true
		if cur.c == goal {
			return reconstruct(cameFrom, start, goal, key)
		}
		for _, d := range dirs {
			nc := cell{X: cur.c.X + d.X, Y: cur.c.Y + d.Y}
			if idx.Blocked(nc.X, nc.Y) {
				continue
			}
			nk := key(nc)
			if closed[nk] {
				continue
			}
			g := cur.g + 1
			if prev, ok := gScore[nk]; ok && g >= prev {
				continue
			}
			gScore[nk] = g
			cameFrom[nk] = cur.c
			seq++
			heap.Push(open, &node{c: nc, g: g, h: manhattan(nc, goal), seq: seq})
		}
	}
	return nil
}

func reconstruct(cameFrom map[int]cell, start, goal cell, key func(cell) int) []grid.Vec2 {
	var cells []cell
	for c := goal; c != start; c = cameFrom[key(c)] {
		cells = append(cells, c)
	}
	out := make([]grid.Vec2, len(cells))
	for i, c := range cells {
		out[len(cells)-1-i] = grid.Vec2{X: float64(c.X) + 0.5, Y: float64(c.Y) + 0.5}
	}
	return out
}

func clampCell(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n-1 {
		return n - 1
	}
	return v
}
