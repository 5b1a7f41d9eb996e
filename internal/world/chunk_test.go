package world

import "testing"

// stubField is a finite, hand-placed mine field for tests.
type stubField struct {
	mines map[Coord]struct{}
}

func newStubField(mines ...Coord) stubField {
	f := stubField{mines: make(map[Coord]struct{}, len(mines))}
	for _, m := range mines {
		f.mines[m] = struct{}{}
	}
	return f
}

func (f stubField) IsMine(x, y int) bool {
	_, ok := f.mines[Coord{X: x, Y: y}]
	return ok
}

func (f stubField) AdjacentCount(x, y int) int {
	count := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if f.IsMine(x+dx, y+dy) {
				count++
			}
		}
	}
	return count
}

// ring returns mines forming the border of the rectangle, leaving the
// interior clear so floods stay contained.
func ring(minX, minY, maxX, maxY int) []Coord {
	var out []Coord
	for x := minX; x <= maxX; x++ {
		out = append(out, Coord{X: x, Y: minY}, Coord{X: x, Y: maxY})
	}
	for y := minY + 1; y < maxY; y++ {
		out = append(out, Coord{X: minX, Y: y}, Coord{X: maxX, Y: y})
	}
	return out
}

func TestChunkAtNegativeCoords(t *testing.T) {
	cases := []struct {
		coord Coord
		id    ChunkID
		local Local
	}{
		{Coord{0, 0}, ChunkID{0, 0}, Local{0, 0}},
		{Coord{15, 15}, ChunkID{0, 0}, Local{15, 15}},
		{Coord{16, 5}, ChunkID{1, 0}, Local{0, 5}},
		{Coord{-1, -1}, ChunkID{-1, -1}, Local{15, 15}},
		{Coord{-16, 3}, ChunkID{-1, 0}, Local{0, 3}},
		{Coord{-17, -33}, ChunkID{-2, -3}, Local{15, 15}},
	}
	for _, tc := range cases {
		id, local := ChunkAt(tc.coord, 16)
		if id != tc.id || local != tc.local {
			t.Fatalf("ChunkAt(%v): got %v %v, want %v %v", tc.coord, id, local, tc.id, tc.local)
		}
	}
}

func TestOverlayCanonicalForm(t *testing.T) {
	ch := NewChunk(ChunkID{0, 0}, 16)
	ch.Set(Local{3, 3}, Overlay{Flagged: true})
	if _, ok := ch.Get(Local{3, 3}); !ok {
		t.Fatalf("flagged overlay missing")
	}
	ch.Set(Local{3, 3}, Overlay{})
	if _, ok := ch.Get(Local{3, 3}); ok {
		t.Fatalf("empty overlay not removed")
	}
	if ch.Len() != 0 {
		t.Fatalf("expected empty overlay map, got %d entries", ch.Len())
	}

	// Out-of-range writes are dropped.
	ch.Set(Local{-1, 0}, Overlay{Revealed: true})
	ch.Set(Local{16, 0}, Overlay{Revealed: true})
	if ch.Len() != 0 {
		t.Fatalf("out-of-range overlay stored")
	}
}

func TestFloodFillContained(t *testing.T) {
	// Mines ring a 4x4 clear interior entirely inside one chunk.
	field := newStubField(ring(2, 2, 7, 7)...)
	ch := NewChunk(ChunkID{0, 0}, 16)

	visited := make(map[Coord]struct{})
	revealed, crossings := ch.FloodFill(Local{4, 4}, visited, field)

	if len(crossings) != 0 {
		t.Fatalf("contained flood produced crossings: %v", crossings)
	}
	// The 4x4 interior: a 2x2 core of zeros plus the twelve cells along
	// the ring carrying counts.
	if len(revealed) != 16 {
		t.Fatalf("expected 16 revealed cells, got %d", len(revealed))
	}
	for _, cell := range revealed {
		o, ok := ch.Get(Local{cell.X, cell.Y})
		if !ok || !o.Revealed {
			t.Fatalf("revealed cell %d,%d missing from overlay", cell.X, cell.Y)
		}
		if field.IsMine(cell.X, cell.Y) {
			t.Fatalf("mine revealed at %d,%d", cell.X, cell.Y)
		}
	}
}

func TestFloodFillSkipsFlaggedAndMine(t *testing.T) {
	field := newStubField(Coord{X: 1, Y: 1})
	ch := NewChunk(ChunkID{0, 0}, 16)
	ch.Set(Local{0, 0}, Overlay{Flagged: true})

	visited := make(map[Coord]struct{})
	revealed, _ := ch.FloodFill(Local{0, 0}, visited, field)
	if len(revealed) != 0 {
		t.Fatalf("flagged seed revealed %d cells", len(revealed))
	}

	visited = make(map[Coord]struct{})
	revealed, _ = ch.FloodFill(Local{1, 1}, visited, field)
	if len(revealed) != 0 {
		t.Fatalf("mine seed revealed %d cells", len(revealed))
	}
}

func TestFloodFillNumberCellStops(t *testing.T) {
	field := newStubField(Coord{X: 6, Y: 5})
	ch := NewChunk(ChunkID{0, 0}, 16)

	visited := make(map[Coord]struct{})
	revealed, crossings := ch.FloodFill(Local{5, 5}, visited, field)
	if len(revealed) != 1 {
		t.Fatalf("number seed should reveal exactly itself, got %d", len(revealed))
	}
	if revealed[0].Adjacent != 1 {
		t.Fatalf("expected adjacency 1, got %d", revealed[0].Adjacent)
	}
	if len(crossings) != 0 {
		t.Fatalf("number seed must not cross chunks")
	}
}

func TestFloodFillIdempotentUnderSharedVisited(t *testing.T) {
	field := newStubField(ring(2, 2, 7, 7)...)
	ch := NewChunk(ChunkID{0, 0}, 16)

	visited := make(map[Coord]struct{})
	first, _ := ch.FloodFill(Local{4, 4}, visited, field)
	second, _ := ch.FloodFill(Local{4, 4}, visited, field)
	if len(first) == 0 {
		t.Fatalf("first pass revealed nothing")
	}
	if len(second) != 0 {
		t.Fatalf("second pass with shared visited revealed %d cells", len(second))
	}
}

func TestFloodFillEmitsCrossings(t *testing.T) {
	// Clear corridor crossing the (0,0)/(1,0) boundary at y=5.
	field := newStubField(ring(12, 3, 19, 7)...)
	ch := NewChunk(ChunkID{0, 0}, 16)

	visited := make(map[Coord]struct{})
	revealed, crossings := ch.FloodFill(Local{14, 5}, visited, field)
	if len(revealed) == 0 {
		t.Fatalf("corridor flood revealed nothing")
	}
	seeds, ok := crossings[ChunkID{1, 0}]
	if !ok || len(seeds) == 0 {
		t.Fatalf("expected crossings into chunk(1,0), got %v", crossings)
	}
	for _, seed := range seeds {
		if seed.X != 0 {
			t.Fatalf("crossing seed should sit on the western edge, got %v", seed)
		}
	}
}

func TestRestoreDropsNonCanonicalEntries(t *testing.T) {
	ch := NewChunk(ChunkID{0, 0}, 16)
	ch.Restore([]OverlayEntry{
		{Local: Local{1, 1}, Overlay: Overlay{Revealed: true}},
		{Local: Local{2, 2}, Overlay: Overlay{}},
		{Local: Local{99, 0}, Overlay: Overlay{Flagged: true}},
	})
	if ch.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", ch.Len())
	}
	if ch.Dirty() {
		t.Fatalf("restore must not mark the chunk dirty")
	}
}
