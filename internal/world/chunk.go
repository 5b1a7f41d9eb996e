package world

// Generator supplies the immutable, procedurally derived side of every
// cell. Implementations must be deterministic for a fixed game.
type Generator interface {
	IsMine(x, y int) bool
	AdjacentCount(x, y int) int
}

// Overlay is the mutable per-cell state. The zero value means the cell
// has never been touched and is not stored.
type Overlay struct {
	Revealed bool `json:"revealed"`
	Flagged  bool `json:"flagged"`
}

// Empty reports whether the overlay is the canonical absent state.
func (o Overlay) Empty() bool { return !o.Revealed && !o.Flagged }

// Cell is the composed view of a board position: generator output plus
// overlay.
type Cell struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Mine     bool `json:"isMine,omitempty"`
	Adjacent int  `json:"adjacentMines"`
	Revealed bool `json:"revealed"`
	Flagged  bool `json:"flagged"`
}

// OverlayEntry pairs a local position with its overlay, the unit of
// chunk persistence.
type OverlayEntry struct {
	Local   Local   `json:"local"`
	Overlay Overlay `json:"overlay"`
}

// Chunk stores the sparse overlay for one board region. All mutation
// happens under the owning manager's lock.
type Chunk struct {
	id      ChunkID
	size    int
	overlay map[Local]Overlay
	dirty   bool
}

func NewChunk(id ChunkID, size int) *Chunk {
	return &Chunk{
		id:      id,
		size:    size,
		overlay: make(map[Local]Overlay),
	}
}

func (c *Chunk) ID() ChunkID { return c.id }

// Get returns the overlay at the local position; the second result is
// false for untouched cells.
func (c *Chunk) Get(l Local) (Overlay, bool) {
	o, ok := c.overlay[l]
	return o, ok
}

// Set writes an overlay, keeping the map canonical: an empty overlay
// removes the entry.
func (c *Chunk) Set(l Local, o Overlay) {
	if l.X < 0 || l.Y < 0 || l.X >= c.size || l.Y >= c.size {
		return
	}
	if o.Empty() {
		if _, ok := c.overlay[l]; !ok {
			return
		}
		delete(c.overlay, l)
	} else {
		c.overlay[l] = o
	}
	c.dirty = true
}

// Len reports how many cells carry overlay state.
func (c *Chunk) Len() int { return len(c.overlay) }

// Dirty reports whether the chunk changed since the last ClearDirty.
func (c *Chunk) Dirty() bool { return c.dirty }

func (c *Chunk) ClearDirty() { c.dirty = false }

// Entries snapshots the overlay for persistence.
func (c *Chunk) Entries() []OverlayEntry {
	out := make([]OverlayEntry, 0, len(c.overlay))
	for l, o := range c.overlay {
		out = append(out, OverlayEntry{Local: l, Overlay: o})
	}
	return out
}

// Restore replaces the overlay with persisted entries, dropping any
// non-canonical or out-of-range ones.
func (c *Chunk) Restore(entries []OverlayEntry) {
	c.overlay = make(map[Local]Overlay, len(entries))
	for _, e := range entries {
		if e.Overlay.Empty() {
			continue
		}
		if e.Local.X < 0 || e.Local.Y < 0 || e.Local.X >= c.size || e.Local.Y >= c.size {
			continue
		}
		c.overlay[e.Local] = e.Overlay
	}
	c.dirty = false
}

// global converts a local position to board space.
func (c *Chunk) global(l Local) Coord {
	o := c.id.Origin(c.size)
	return Coord{X: o.X + l.X, Y: o.Y + l.Y}
}

// FloodFill runs the standard minesweeper cascade from the seed inside
// this chunk. The visited set is shared across every chunk touched by
// one reveal intent, which makes the method idempotent: a second run
// with the same set reveals nothing.
//
// Returns the cells revealed here and, per neighbouring chunk, the seed
// positions where the cascade crossed the boundary.
func (c *Chunk) FloodFill(seed Local, visited map[Coord]struct{}, gen Generator) ([]Cell, map[ChunkID][]Local) {
	var revealed []Cell
	crossings := make(map[ChunkID][]Local)

	queue := make([]Local, 0, 16)
	start := c.global(seed)
	if _, seen := visited[start]; !seen {
		visited[start] = struct{}{}
		queue = append(queue, seed)
	}

	for len(queue) > 0 {
		l := queue[0]
		queue = queue[1:]

		if o, ok := c.overlay[l]; ok && (o.Revealed || o.Flagged) {
			continue
		}
		g := c.global(l)
		if gen.IsMine(g.X, g.Y) {
			continue
		}

		adjacent := gen.AdjacentCount(g.X, g.Y)
		c.Set(l, Overlay{Revealed: true})
		revealed = append(revealed, Cell{
			X:        g.X,
			Y:        g.Y,
			Adjacent: adjacent,
			Revealed: true,
		})

		if adjacent != 0 {
			continue
		}
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				ng := Coord{X: g.X + dx, Y: g.Y + dy}
				if _, seen := visited[ng]; seen {
					continue
				}
				nl := Local{X: l.X + dx, Y: l.Y + dy}
				if nl.X >= 0 && nl.Y >= 0 && nl.X < c.size && nl.Y < c.size {
					visited[ng] = struct{}{}
					queue = append(queue, nl)
					continue
				}
				target, targetLocal := ChunkAt(ng, c.size)
				crossings[target] = append(crossings[target], targetLocal)
			}
		}
	}

	return revealed, crossings
}
