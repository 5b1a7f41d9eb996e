package world

import "sync"

// Manager keeps the authoritative chunk state for one game. It owns
// every chunk, routes flood fills across chunk boundaries, and tracks
// which connection watches which chunk.
//
// Cross-chunk propagation is realised lazily: a cascade entering a
// chunk nobody watches parks its seeds in a pending queue which drains
// on that chunk's first subscription.
type Manager struct {
	size   int
	gen    Generator
	loader func(ChunkID) []OverlayEntry

	mu         sync.RWMutex
	chunks     map[ChunkID]*Chunk
	pending    map[ChunkID][]Local
	pendingSet map[ChunkID]map[Local]struct{}

	subs      map[string]map[ChunkID]struct{}
	chunkSubs map[ChunkID]map[string]struct{}
	views     map[string]ChunkRect
	hasView   map[string]bool
}

func NewManager(gen Generator, chunkSize int) *Manager {
	return &Manager{
		size:       chunkSize,
		gen:        gen,
		chunks:     make(map[ChunkID]*Chunk),
		pending:    make(map[ChunkID][]Local),
		pendingSet: make(map[ChunkID]map[Local]struct{}),
		subs:       make(map[string]map[ChunkID]struct{}),
		chunkSubs:  make(map[ChunkID]map[string]struct{}),
		views:      make(map[string]ChunkRect),
		hasView:    make(map[string]bool),
	}
}

func (m *Manager) ChunkSize() int { return m.size }

// SetLoader installs a hook that supplies a persisted overlay when a
// chunk is first materialised. Best effort; a nil or empty result
// leaves the chunk blank.
func (m *Manager) SetLoader(loader func(ChunkID) []OverlayEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loader = loader
}

// GetOrCreate returns the chunk, materialising it on first touch.
func (m *Manager) GetOrCreate(id ChunkID) *Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(id)
}

func (m *Manager) getOrCreateLocked(id ChunkID) *Chunk {
	if ch, ok := m.chunks[id]; ok {
		return ch
	}
	ch := NewChunk(id, m.size)
	if m.loader != nil {
		if entries := m.loader(id); len(entries) > 0 {
			ch.Restore(entries)
		}
	}
	m.chunks[id] = ch
	return ch
}

// CellAt composes generator output with overlay into the logical cell.
// Materialises the chunk so persisted overlays are visible on first
// touch.
func (m *Manager) CellAt(c Coord) Cell {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cellAtLocked(c)
}

func (m *Manager) cellAtLocked(c Coord) Cell {
	id, l := ChunkAt(c, m.size)
	o, _ := m.getOrCreateLocked(id).Get(l)
	return Cell{
		X:        c.X,
		Y:        c.Y,
		Mine:     m.gen.IsMine(c.X, c.Y),
		Adjacent: m.gen.AdjacentCount(c.X, c.Y),
		Revealed: o.Revealed,
		Flagged:  o.Flagged,
	}
}

// SetOverlay writes the overlay for a single cell, creating the chunk
// if needed.
func (m *Manager) SetOverlay(c Coord, o Overlay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, l := ChunkAt(c, m.size)
	m.getOrCreateLocked(id).Set(l, o)
}

// RevealAndPropagate starts a flood fill at the global coordinate. The
// first return value is the cells revealed in the originating chunk,
// which the caller scores; the map carries every chunk's reveals
// (including the origin) for fan-out. Chunks without subscribers keep
// their seeds pending.
func (m *Manager) RevealAndPropagate(c Coord) ([]Cell, map[ChunkID][]Cell) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, l := ChunkAt(c, m.size)
	ch := m.getOrCreateLocked(id)

	visited := make(map[Coord]struct{})
	origin, crossings := ch.FloodFill(l, visited, m.gen)
	m.addPendingLocked(crossings)

	byChunk := make(map[ChunkID][]Cell)
	if len(origin) > 0 {
		byChunk[id] = origin
	}
	m.drainPendingLocked(visited, byChunk)
	return origin, byChunk
}

// ProcessPending drains the chunk's parked seeds with the supplied
// visited set, following the cascade into any further subscribed
// chunks. Reveals are accumulated per chunk.
func (m *Manager) ProcessPending(id ChunkID, visited map[Coord]struct{}) map[ChunkID][]Cell {
	m.mu.Lock()
	defer m.mu.Unlock()

	byChunk := make(map[ChunkID][]Cell)
	m.drainChunkLocked(id, visited, byChunk)
	m.drainPendingLocked(visited, byChunk)
	return byChunk
}

func (m *Manager) addPendingLocked(crossings map[ChunkID][]Local) {
	for id, seeds := range crossings {
		set := m.pendingSet[id]
		if set == nil {
			set = make(map[Local]struct{})
			m.pendingSet[id] = set
		}
		for _, seed := range seeds {
			if _, dup := set[seed]; dup {
				continue
			}
			set[seed] = struct{}{}
			m.pending[id] = append(m.pending[id], seed)
		}
	}
}

// drainPendingLocked runs pending seeds of subscribed chunks to
// fixpoint. Unsubscribed chunks keep theirs.
func (m *Manager) drainPendingLocked(visited map[Coord]struct{}, byChunk map[ChunkID][]Cell) {
	for {
		var target *ChunkID
		for id := range m.pending {
			if len(m.pending[id]) == 0 {
				continue
			}
			if len(m.chunkSubs[id]) == 0 {
				continue
			}
			t := id
			target = &t
			break
		}
		if target == nil {
			return
		}
		m.drainChunkLocked(*target, visited, byChunk)
	}
}

func (m *Manager) drainChunkLocked(id ChunkID, visited map[Coord]struct{}, byChunk map[ChunkID][]Cell) {
	seeds := m.pending[id]
	if len(seeds) == 0 {
		return
	}
	delete(m.pending, id)
	delete(m.pendingSet, id)

	ch := m.getOrCreateLocked(id)
	for _, seed := range seeds {
		revealed, crossings := ch.FloodFill(seed, visited, m.gen)
		if len(revealed) > 0 {
			byChunk[id] = append(byChunk[id], revealed...)
		}
		m.addPendingLocked(crossings)
	}
}

// PendingCount reports how many seeds are parked for the chunk.
func (m *Manager) PendingCount(id ChunkID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending[id])
}

// Subscribe registers the connection on the chunk and drains any parked
// seeds to fixpoint before the caller sends the initial snapshot. The
// returned map holds every reveal the drain produced.
func (m *Manager) Subscribe(conn string, id ChunkID) map[ChunkID][]Cell {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribeLocked(conn, id)
}

func (m *Manager) subscribeLocked(conn string, id ChunkID) map[ChunkID][]Cell {
	byConn := m.subs[conn]
	if byConn == nil {
		byConn = make(map[ChunkID]struct{})
		m.subs[conn] = byConn
	}
	if _, ok := byConn[id]; ok {
		return nil
	}
	byConn[id] = struct{}{}

	byChunk := m.chunkSubs[id]
	if byChunk == nil {
		byChunk = make(map[string]struct{})
		m.chunkSubs[id] = byChunk
	}
	byChunk[conn] = struct{}{}

	m.getOrCreateLocked(id)

	revealed := make(map[ChunkID][]Cell)
	visited := make(map[Coord]struct{})
	m.drainChunkLocked(id, visited, revealed)
	m.drainPendingLocked(visited, revealed)
	return revealed
}

// Unsubscribe removes the connection from the chunk. The chunk keeps
// accepting pending fills afterwards.
func (m *Manager) Unsubscribe(conn string, id ChunkID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribeLocked(conn, id)
}

func (m *Manager) unsubscribeLocked(conn string, id ChunkID) {
	if byConn, ok := m.subs[conn]; ok {
		delete(byConn, id)
		if len(byConn) == 0 {
			delete(m.subs, conn)
		}
	}
	if byChunk, ok := m.chunkSubs[id]; ok {
		delete(byChunk, conn)
		if len(byChunk) == 0 {
			delete(m.chunkSubs, id)
		}
	}
}

// UnsubscribeAll drops every subscription held by the connection,
// typically on disconnect.
func (m *Manager) UnsubscribeAll(conn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.subs[conn] {
		m.unsubscribeLocked(conn, id)
	}
	delete(m.views, conn)
	delete(m.hasView, conn)
}

func (m *Manager) HasSubscribers(id ChunkID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunkSubs[id]) > 0
}

// Subscribers lists the connections watching the chunk.
func (m *Manager) Subscribers(id ChunkID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.chunkSubs[id]))
	for conn := range m.chunkSubs[id] {
		out = append(out, conn)
	}
	return out
}

// SetViewport resolves a viewport change into subscribe/unsubscribe
// sets by intersecting the new chunk cover with the previous one.
func (m *Manager) SetViewport(conn string, r ChunkRect) (added, removed []ChunkID, revealed map[ChunkID][]Cell) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, hadPrev := m.views[conn], m.hasView[conn]
	m.views[conn] = r
	m.hasView[conn] = true

	revealed = make(map[ChunkID][]Cell)
	for _, id := range r.Chunks() {
		if hadPrev && prev.Contains(id) {
			continue
		}
		drained := m.subscribeLocked(conn, id)
		if drained == nil {
			continue
		}
		for cid, cells := range drained {
			revealed[cid] = append(revealed[cid], cells...)
		}
		added = append(added, id)
	}
	if hadPrev {
		for _, id := range prev.Chunks() {
			if r.Contains(id) {
				continue
			}
			m.unsubscribeLocked(conn, id)
			removed = append(removed, id)
		}
	}
	return added, removed, revealed
}

// ChunkSnapshot returns the composed state of every touched cell in the
// chunk, the payload of a chunkData response. The result is a copy.
func (m *Manager) ChunkSnapshot(id ChunkID) []Cell {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.chunks[id]
	if !ok {
		return nil
	}
	origin := id.Origin(m.size)
	out := make([]Cell, 0, ch.Len())
	for _, e := range ch.Entries() {
		g := Coord{X: origin.X + e.Local.X, Y: origin.Y + e.Local.Y}
		cell := Cell{
			X:        g.X,
			Y:        g.Y,
			Revealed: e.Overlay.Revealed,
			Flagged:  e.Overlay.Flagged,
		}
		if e.Overlay.Revealed {
			cell.Mine = m.gen.IsMine(g.X, g.Y)
			cell.Adjacent = m.gen.AdjacentCount(g.X, g.Y)
		}
		out = append(out, cell)
	}
	return out
}

// DirtySnapshots collects the overlay of every chunk touched since the
// last call and clears the dirty marks. Used by the snapshot loop.
func (m *Manager) DirtySnapshots() map[ChunkID][]OverlayEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[ChunkID][]OverlayEntry)
	for id, ch := range m.chunks {
		if !ch.Dirty() {
			continue
		}
		out[id] = ch.Entries()
		ch.ClearDirty()
	}
	return out
}

// RestoreChunk installs a persisted overlay.
func (m *Manager) RestoreChunk(id ChunkID, entries []OverlayEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(id).Restore(entries)
}
