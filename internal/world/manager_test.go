package world

import "testing"

func TestRevealAndPropagateAcrossBoundary(t *testing.T) {
	// Clear corridor crossing from chunk (0,0) into (1,0) with a mine
	// at (18,5), mirroring a two-chunk cascade.
	mines := ring(12, 3, 21, 7)
	mines = append(mines, Coord{X: 18, Y: 5})
	m := NewManager(newStubField(mines...), 16)

	m.Subscribe("conn-1", ChunkID{0, 0})
	m.Subscribe("conn-1", ChunkID{1, 0})

	origin, byChunk := m.RevealAndPropagate(Coord{X: 15, Y: 5})
	if len(origin) == 0 {
		t.Fatalf("origin chunk revealed nothing")
	}
	for _, cell := range origin {
		if cell.X > 15 {
			t.Fatalf("origin slice leaked cell %d,%d from the neighbour chunk", cell.X, cell.Y)
		}
	}
	if len(byChunk[ChunkID{1, 0}]) == 0 {
		t.Fatalf("subscribed neighbour chunk revealed nothing")
	}

	var sentinel *Cell
	for _, cell := range byChunk[ChunkID{1, 0}] {
		if cell.X == 17 && cell.Y == 5 {
			c := cell
			sentinel = &c
		}
		if cell.X == 18 && cell.Y == 5 {
			t.Fatalf("mine at (18,5) was revealed by the flood")
		}
	}
	if sentinel == nil {
		t.Fatalf("(17,5) not revealed in neighbour chunk")
	}
	if sentinel.Adjacent != 1 {
		t.Fatalf("(17,5) adjacency: expected 1, got %d", sentinel.Adjacent)
	}
}

func TestPendingKeptWithoutSubscribers(t *testing.T) {
	mines := ring(12, 3, 21, 7)
	m := NewManager(newStubField(mines...), 16)

	m.Subscribe("conn-1", ChunkID{0, 0})

	_, byChunk := m.RevealAndPropagate(Coord{X: 15, Y: 5})
	if len(byChunk[ChunkID{1, 0}]) != 0 {
		t.Fatalf("unsubscribed chunk was revealed eagerly")
	}
	if m.PendingCount(ChunkID{1, 0}) == 0 {
		t.Fatalf("crossing seeds not parked for the unsubscribed chunk")
	}

	// First subscription drains the parked seeds.
	drained := m.Subscribe("conn-2", ChunkID{1, 0})
	if len(drained[ChunkID{1, 0}]) == 0 {
		t.Fatalf("subscription did not drain pending fills")
	}
	if m.PendingCount(ChunkID{1, 0}) != 0 {
		t.Fatalf("pending seeds survived the drain")
	}

	found := false
	for _, cell := range drained[ChunkID{1, 0}] {
		if cell.X == 17 && cell.Y == 5 {
			found = true
		}
	}
	if !found {
		t.Fatalf("(17,5) missing from drained reveals")
	}
}

func TestRepeatRevealIsNoOp(t *testing.T) {
	m := NewManager(newStubField(ring(2, 2, 7, 7)...), 16)
	m.Subscribe("conn-1", ChunkID{0, 0})

	first, _ := m.RevealAndPropagate(Coord{X: 4, Y: 4})
	if len(first) == 0 {
		t.Fatalf("first reveal produced nothing")
	}
	second, byChunk := m.RevealAndPropagate(Coord{X: 4, Y: 4})
	if len(second) != 0 {
		t.Fatalf("second identical reveal produced %d cells", len(second))
	}
	if len(byChunk) != 0 {
		t.Fatalf("second identical reveal broadcast %d chunks", len(byChunk))
	}
}

func TestSetViewportDiffsCover(t *testing.T) {
	m := NewManager(newStubField(), 16)

	added, removed, _ := m.SetViewport("conn-1", ChunkRect{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1})
	if len(added) != 4 || len(removed) != 0 {
		t.Fatalf("initial viewport: added %d removed %d", len(added), len(removed))
	}

	added, removed, _ = m.SetViewport("conn-1", ChunkRect{MinX: 1, MinY: 0, MaxX: 2, MaxY: 1})
	if len(added) != 2 {
		t.Fatalf("expected 2 newly covered chunks, got %d", len(added))
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 dropped chunks, got %d", len(removed))
	}
	if m.HasSubscribers(ChunkID{0, 0}) {
		t.Fatalf("chunk(0,0) still subscribed after viewport moved away")
	}
	if !m.HasSubscribers(ChunkID{2, 0}) {
		t.Fatalf("chunk(2,0) not subscribed after viewport covered it")
	}
}

func TestChunkSnapshotRoundTrip(t *testing.T) {
	m := NewManager(newStubField(Coord{X: 4, Y: 4}), 16)
	m.SetOverlay(Coord{X: 4, Y: 4}, Overlay{Flagged: true})
	m.SetOverlay(Coord{X: 5, Y: 5}, Overlay{Revealed: true})

	id := ChunkID{0, 0}
	snap := m.ChunkSnapshot(id)
	if len(snap) != 2 {
		t.Fatalf("expected 2 snapshot cells, got %d", len(snap))
	}
	for _, cell := range snap {
		if cell.Flagged && cell.Mine {
			t.Fatalf("snapshot leaked mine identity of a merely flagged cell")
		}
		if cell.X == 5 && cell.Adjacent != 1 {
			t.Fatalf("revealed cell adjacency: expected 1, got %d", cell.Adjacent)
		}
	}

	// Unsubscribe/resubscribe yields the same payload.
	m.Subscribe("conn-1", id)
	before := m.ChunkSnapshot(id)
	m.Unsubscribe("conn-1", id)
	m.Subscribe("conn-1", id)
	after := m.ChunkSnapshot(id)
	if len(before) != len(after) {
		t.Fatalf("snapshot changed across resubscribe: %d vs %d", len(before), len(after))
	}
}

func TestDirtySnapshotsClearMarks(t *testing.T) {
	m := NewManager(newStubField(), 16)
	m.SetOverlay(Coord{X: 1, Y: 1}, Overlay{Flagged: true})

	dirty := m.DirtySnapshots()
	if len(dirty) != 1 {
		t.Fatalf("expected 1 dirty chunk, got %d", len(dirty))
	}
	if entries := dirty[ChunkID{0, 0}]; len(entries) != 1 {
		t.Fatalf("expected 1 overlay entry, got %d", len(entries))
	}
	if again := m.DirtySnapshots(); len(again) != 0 {
		t.Fatalf("dirty marks not cleared")
	}
}

func TestRestoreChunkReplacesOverlay(t *testing.T) {
	m := NewManager(newStubField(), 16)
	m.RestoreChunk(ChunkID{0, 0}, []OverlayEntry{
		{Local: Local{2, 2}, Overlay: Overlay{Revealed: true}},
	})
	cell := m.CellAt(Coord{X: 2, Y: 2})
	if !cell.Revealed {
		t.Fatalf("restored overlay not visible through CellAt")
	}
}
