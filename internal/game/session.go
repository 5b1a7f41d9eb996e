package game

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvb0005/sweeptogether/internal/config"
	"github.com/mvb0005/sweeptogether/internal/events"
	"github.com/mvb0005/sweeptogether/internal/persist"
	"github.com/mvb0005/sweeptogether/internal/world"
)

// Session is one running game: its players, chunk state, scoring and
// the delayed mine-reveal machinery. Every mutating path serialises on
// the session mutex; events are published while it is held so their
// order matches the mutation order.
type Session struct {
	id      string
	log     *slog.Logger
	bus     *events.Bus
	board   config.BoardConfig
	scoring config.ScoringConfig
	timers  *TimerWheel
	now     func() time.Time

	mu       sync.Mutex
	players  map[string]*Player
	chunks   *world.Manager
	reveals  map[world.Coord]*MineReveal
	pending  map[world.Coord]struct{}
	gameOver bool
	winner   string
	dirty    bool

	// conns is guarded by its own lock so the transport can resolve
	// recipients from event handlers that run while mu is held. Writers
	// always hold mu as well.
	connsMu sync.RWMutex
	conns   map[string]string

	proc *ActionProcessor
}

// JoinResult is returned to a joining connection.
type JoinResult struct {
	GameID   string
	PlayerID string
	Player   events.PlayerSummary
	Players  []events.PlayerSummary
}

// StateSnapshot is the view handed to a reconnecting player.
type StateSnapshot struct {
	GameID   string
	PlayerID string
	Players  []events.PlayerSummary
	GameOver bool
	Winner   *events.PlayerSummary
}

func NewSession(id string, gen world.Generator, board config.BoardConfig, scoring config.ScoringConfig, bus *events.Bus, log *slog.Logger, timerTick time.Duration) *Session {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Session{
		id:      id,
		log:     log.With("game", id),
		bus:     bus,
		board:   board,
		scoring: scoring,
		timers:  NewTimerWheel(timerTick),
		now:     time.Now,
		players: make(map[string]*Player),
		conns:   make(map[string]string),
		chunks:  world.NewManager(gen, board.ChunkSize),
		reveals: make(map[world.Coord]*MineReveal),
		pending: make(map[world.Coord]struct{}),
	}
	s.proc = &ActionProcessor{s: s}
	return s
}

func (s *Session) ID() string { return s.id }

// Timers exposes the session scheduler so the process can drive it.
func (s *Session) Timers() *TimerWheel { return s.timers }

// Scoring reports the effective scoring configuration.
func (s *Session) Scoring() config.ScoringConfig { return s.scoring }

// Join adds a player bound to the connection. Joining a finished game
// fails with ErrGameOver. A connection that already joined gets its
// existing identity back.
func (s *Session) Join(connID, username string) (*JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gameOver {
		return nil, ErrGameOver
	}
	if playerID, ok := s.conns[connID]; ok {
		p := s.players[playerID]
		return &JoinResult{GameID: s.id, PlayerID: p.ID, Player: p.summary(), Players: s.playersLocked()}, nil
	}

	id := uuid.NewString()
	if username == "" {
		username = "sweeper-" + id[:4]
	}
	p := &Player{
		ID:       id,
		Username: username,
		Status:   StatusActive,
		Conn:     connID,
	}
	s.players[id] = p
	s.bindConnLocked(connID, id)
	s.dirty = true

	s.bus.Publish(events.PlayerJoined{GameID: s.id, Player: p.summary()})
	s.log.Info("player joined", "player", id, "username", username)
	return &JoinResult{GameID: s.id, PlayerID: id, Player: p.summary(), Players: s.playersLocked()}, nil
}

// Reconnect rebinds an existing player identity to a new connection and
// returns the current session state.
func (s *Session) Reconnect(connID, playerID string) (*StateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return nil, ErrNotInGame
	}
	if p.Conn != "" {
		s.unbindConnLocked(p.Conn)
	}
	p.Conn = connID
	s.bindConnLocked(connID, playerID)
	if p.Status == StatusLockedOut && !p.lockedAt(s.now()) {
		p.Status = StatusActive
		p.LockedUntil = time.Time{}
	}
	s.emitStatusLocked(p)

	return s.stateLocked(playerID), nil
}

// Leave removes the player behind the connection entirely.
func (s *Session) Leave(connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	playerID, ok := s.conns[connID]
	if !ok {
		return ErrNotInGame
	}
	s.unbindConnLocked(connID)
	delete(s.players, playerID)
	s.chunks.UnsubscribeAll(connID)
	s.dirty = true

	s.bus.Publish(events.PlayerLeft{GameID: s.id, PlayerID: playerID})
	s.log.Info("player left", "player", playerID)
	return nil
}

// Disconnect keeps the player's identity and score but locks them out
// and drops their subscriptions. Takes effect only after any action in
// flight completes, since both serialise on the session mutex.
func (s *Session) Disconnect(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	playerID, ok := s.conns[connID]
	if !ok {
		s.chunks.UnsubscribeAll(connID)
		return
	}
	s.unbindConnLocked(connID)
	s.chunks.UnsubscribeAll(connID)

	p := s.players[playerID]
	p.Conn = ""
	p.Status = StatusLockedOut
	s.dirty = true
	s.emitStatusLocked(p)
	s.log.Info("player disconnected", "player", playerID)
}

// Reveal processes a reveal intent at the global coordinate.
func (s *Session) Reveal(connID string, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.proc.validate(connID)
	if err != nil {
		return err
	}
	s.proc.reveal(p, world.Coord{X: x, Y: y})
	return nil
}

// Flag processes a flag-toggle intent.
func (s *Session) Flag(connID string, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.proc.validate(connID)
	if err != nil {
		return err
	}
	s.proc.flag(p, world.Coord{X: x, Y: y})
	return nil
}

// Chord processes a chord click on a revealed number cell.
func (s *Session) Chord(connID string, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.proc.validate(connID)
	if err != nil {
		return err
	}
	s.proc.chord(p, world.Coord{X: x, Y: y})
	return nil
}

// SubscribeChunk registers the connection on a chunk, drains any
// pending fills, and answers with the chunk snapshot.
func (s *Session) SubscribeChunk(connID string, cx, cy int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := world.ChunkID{X: cx, Y: cy}
	drained := s.chunks.Subscribe(connID, id)
	s.emitTilesLocked(drained)
	s.bus.Publish(events.ChunkData{
		GameID: s.id,
		Conn:   connID,
		Chunk:  id,
		Cells:  s.chunks.ChunkSnapshot(id),
	})
}

// UnsubscribeChunk drops the connection's subscription; the chunk keeps
// accepting pending fills.
func (s *Session) UnsubscribeChunk(connID string, cx, cy int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks.Unsubscribe(connID, world.ChunkID{X: cx, Y: cy})
}

// SetViewport diffs the viewport's chunk cover against the previous one
// and adjusts subscriptions, answering with snapshots for newly covered
// chunks.
func (s *Session) SetViewport(connID string, r world.ChunkRect) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added, _, drained := s.chunks.SetViewport(connID, r)
	s.emitTilesLocked(drained)
	for _, id := range added {
		s.bus.Publish(events.ChunkData{
			GameID: s.id,
			Conn:   connID,
			Chunk:  id,
			Cells:  s.chunks.ChunkSnapshot(id),
		})
	}
}

// Subscribers lists the connections watching a chunk; the transport
// fans chunk-scoped events out with it.
func (s *Session) Subscribers(id world.ChunkID) []string {
	return s.chunks.Subscribers(id)
}

// Conns lists every bound connection, the session-scope recipient set.
// It deliberately avoids the session mutex: the transport calls it from
// event handlers that run while an action still holds it.
func (s *Session) Conns() []string {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]string, 0, len(s.conns))
	for conn := range s.conns {
		out = append(out, conn)
	}
	return out
}

func (s *Session) bindConnLocked(connID, playerID string) {
	s.connsMu.Lock()
	s.conns[connID] = playerID
	s.connsMu.Unlock()
}

func (s *Session) unbindConnLocked(connID string) {
	s.connsMu.Lock()
	delete(s.conns, connID)
	s.connsMu.Unlock()
}

// Empty reports whether no players remain.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players) == 0
}

// End finishes the game: the score leader wins, timers stop, and no
// further intents are accepted.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gameOver {
		return
	}
	s.gameOver = true
	s.timers.Stop()
	s.dirty = true

	var winner *events.PlayerSummary
	if leader := s.leaderLocked(); leader != nil {
		s.winner = leader.ID
		sum := leader.summary()
		winner = &sum
	}
	s.bus.Publish(events.GameOver{GameID: s.id, Winner: winner})
	s.log.Info("game over", "winner", s.winner)
}

// revealMine is the timer path: flip the mine-reveal terminal state and
// publish the reveal. Re-entrant; a second fire finds Revealed set.
func (s *Session) revealMine(c world.Coord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reveals[c]
	if !ok || r.Revealed || s.gameOver {
		return
	}
	r.Revealed = true
	s.chunks.SetOverlay(c, world.Overlay{Revealed: true})
	delete(s.pending, c)
	s.dirty = true

	id, _ := world.ChunkAt(c, s.board.ChunkSize)
	s.bus.Publish(events.MineRevealed{
		GameID:       s.id,
		Chunk:        id,
		X:            c.X,
		Y:            c.Y,
		Contributors: r.contributors(),
	})
	s.bus.Publish(events.TileUpdate{
		GameID: s.id,
		Chunk:  id,
		Cell:   s.chunks.CellAt(c),
	})
	s.log.Debug("mine revealed", "x", c.X, "y", c.Y, "contributors", len(r.Contributors))
}

func (s *Session) scheduleMineReveal(r *MineReveal) {
	c := r.Coord
	s.timers.Schedule(fmt.Sprintf("mine:%d:%d", c.X, c.Y), r.RevealAt, func() {
		s.revealMine(c)
	})
}

func (s *Session) leaderLocked() *Player {
	var leader *Player
	for _, p := range s.players {
		if leader == nil || p.Score > leader.Score ||
			(p.Score == leader.Score && p.ID < leader.ID) {
			leader = p
		}
	}
	return leader
}

func (s *Session) playersLocked() []events.PlayerSummary {
	out := make([]events.PlayerSummary, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Session) stateLocked(playerID string) *StateSnapshot {
	snap := &StateSnapshot{
		GameID:   s.id,
		PlayerID: playerID,
		Players:  s.playersLocked(),
		GameOver: s.gameOver,
	}
	if s.winner != "" {
		if w, ok := s.players[s.winner]; ok {
			sum := w.summary()
			snap.Winner = &sum
		}
	}
	return snap
}

func (s *Session) emitStatusLocked(p *Player) {
	ev := events.PlayerStatusUpdate{
		GameID:   s.id,
		PlayerID: p.ID,
		Status:   string(p.Status),
	}
	if p.Status == StatusLockedOut && !p.LockedUntil.IsZero() {
		until := p.LockedUntil
		ev.LockedUntil = &until
	}
	s.bus.Publish(ev)
}

func (s *Session) emitScoreLocked(p *Player, delta int, reason string) {
	s.bus.Publish(events.ScoreUpdate{
		GameID:   s.id,
		PlayerID: p.ID,
		NewScore: p.Score,
		Delta:    delta,
		Reason:   reason,
	})
}

// emitTilesLocked publishes one tilesUpdate per chunk in deterministic
// chunk order.
func (s *Session) emitTilesLocked(byChunk map[world.ChunkID][]world.Cell) {
	if len(byChunk) == 0 {
		return
	}
	ids := make([]world.ChunkID, 0, len(byChunk))
	for id := range byChunk {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Y != ids[j].Y {
			return ids[i].Y < ids[j].Y
		}
		return ids[i].X < ids[j].X
	})
	for _, id := range ids {
		if len(byChunk[id]) == 0 {
			continue
		}
		s.bus.Publish(events.TilesUpdate{GameID: s.id, Chunk: id, Cells: byChunk[id]})
	}
}

// Snapshot renders the session to its durable document plus the overlay
// of every chunk touched since the last snapshot. With force unset,
// a clean session returns a nil document.
func (s *Session) Snapshot(force bool) (*persist.SessionDoc, map[world.ChunkID][]persist.TileDoc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunkDocs := make(map[world.ChunkID][]persist.TileDoc)
	for id, entries := range s.chunks.DirtySnapshots() {
		chunkDocs[id] = persist.TilesFromEntries(entries)
	}

	if !s.dirty && !force && len(chunkDocs) == 0 {
		return nil, nil
	}
	if !s.dirty && !force {
		return nil, chunkDocs
	}
	s.dirty = false

	doc := &persist.SessionDoc{
		GameID:    s.id,
		Board:     s.board,
		Scoring:   s.scoring,
		GameOver:  s.gameOver,
		Winner:    s.winner,
		UpdatedAt: s.now(),
	}
	for _, p := range s.players {
		pd := persist.PlayerDoc{
			ID:       p.ID,
			Username: p.Username,
			Score:    p.Score,
			Status:   string(p.Status),
		}
		if !p.LockedUntil.IsZero() {
			until := p.LockedUntil
			pd.LockedUntil = &until
		}
		doc.Players = append(doc.Players, pd)
	}
	sort.Slice(doc.Players, func(i, j int) bool { return doc.Players[i].ID < doc.Players[j].ID })

	for c, r := range s.reveals {
		rd := persist.MineRevealDoc{X: c.X, Y: c.Y, Revealed: r.Revealed}
		if !r.RevealAt.IsZero() {
			at := r.RevealAt
			rd.RevealAt = &at
		}
		for _, contrib := range r.Contributors {
			rd.Contributors = append(rd.Contributors, persist.ContributorDoc{
				PlayerID: contrib.PlayerID,
				Position: contrib.Position,
				Points:   contrib.Points,
				At:       contrib.At,
			})
		}
		doc.MineReveals = append(doc.MineReveals, rd)
	}
	sort.Slice(doc.MineReveals, func(i, j int) bool {
		if doc.MineReveals[i].Y != doc.MineReveals[j].Y {
			return doc.MineReveals[i].Y < doc.MineReveals[j].Y
		}
		return doc.MineReveals[i].X < doc.MineReveals[j].X
	})

	for c := range s.pending {
		doc.Pending = append(doc.Pending, c)
	}
	sort.Slice(doc.Pending, func(i, j int) bool {
		if doc.Pending[i].Y != doc.Pending[j].Y {
			return doc.Pending[i].Y < doc.Pending[j].Y
		}
		return doc.Pending[i].X < doc.Pending[j].X
	})

	return doc, chunkDocs
}

// Restore rebuilds session state from a durable document. Players come
// back disconnected; unrevealed mine deadlines are rescheduled, firing
// immediately when already past.
func (s *Session) Restore(doc *persist.SessionDoc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scoring = doc.Scoring
	s.gameOver = doc.GameOver
	s.winner = doc.Winner

	s.players = make(map[string]*Player, len(doc.Players))
	s.connsMu.Lock()
	s.conns = make(map[string]string)
	s.connsMu.Unlock()
	for _, pd := range doc.Players {
		p := &Player{
			ID:       pd.ID,
			Username: pd.Username,
			Score:    pd.Score,
			Status:   StatusLockedOut,
		}
		if pd.LockedUntil != nil {
			p.LockedUntil = *pd.LockedUntil
		}
		s.players[p.ID] = p
	}

	s.reveals = make(map[world.Coord]*MineReveal, len(doc.MineReveals))
	s.pending = make(map[world.Coord]struct{})
	for _, rd := range doc.MineReveals {
		c := world.Coord{X: rd.X, Y: rd.Y}
		r := &MineReveal{Coord: c, Revealed: rd.Revealed}
		if rd.RevealAt != nil {
			r.RevealAt = *rd.RevealAt
		}
		for _, cd := range rd.Contributors {
			r.Contributors = append(r.Contributors, Contribution{
				PlayerID: cd.PlayerID,
				Position: cd.Position,
				Points:   cd.Points,
				At:       cd.At,
			})
		}
		s.reveals[c] = r
		if !r.Revealed {
			s.pending[c] = struct{}{}
			if !s.gameOver {
				s.scheduleMineReveal(r)
			}
		}
	}
	for _, c := range doc.Pending {
		if r, ok := s.reveals[c]; ok && r.Revealed {
			continue
		}
		s.pending[c] = struct{}{}
	}
}

// SetChunkLoader wires lazy overlay loading: chunks materialised for
// the first time pull their persisted overlay through fn.
func (s *Session) SetChunkLoader(fn func(world.ChunkID) []persist.TileDoc) {
	s.chunks.SetLoader(func(id world.ChunkID) []world.OverlayEntry {
		return persist.EntriesFromTiles(fn(id))
	})
}

// RestoreChunk installs a persisted chunk overlay.
func (s *Session) RestoreChunk(id world.ChunkID, tiles []persist.TileDoc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks.RestoreChunk(id, persist.EntriesFromTiles(tiles))
}
