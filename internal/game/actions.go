package game

import (
	"time"

	"github.com/mvb0005/sweeptogether/internal/events"
	"github.com/mvb0005/sweeptogether/internal/world"
)

// Score update reasons surfaced to clients.
const (
	ReasonReveal     = "Reveal"
	ReasonMineHit    = "MineHit"
	ReasonMineFlag   = "MineFlag"
	ReasonFlagPlace  = "FlagPlace"
	ReasonFlagRemove = "FlagRemove"
)

// ActionProcessor validates and executes reveal, flag and chord intents
// and computes their score deltas. Every method runs with the session
// mutex held.
type ActionProcessor struct {
	s *Session
}

// validate runs the shared preconditions: the game is live, the
// connection maps to a player, and the player is not locked out. An
// expired lockout flips back to active here.
func (a *ActionProcessor) validate(connID string) (*Player, error) {
	s := a.s
	if s.gameOver {
		return nil, ErrGameOver
	}
	playerID, ok := s.conns[connID]
	if !ok {
		return nil, ErrNotInGame
	}
	p := s.players[playerID]
	now := s.now()
	if p.Status == StatusLockedOut {
		if p.LockedUntil.After(now) {
			return nil, ErrLockedOut
		}
		p.Status = StatusActive
		p.LockedUntil = time.Time{}
		s.emitStatusLocked(p)
	}
	return p, nil
}

func (a *ActionProcessor) reveal(p *Player, c world.Coord) {
	s := a.s
	cell := s.chunks.CellAt(c)
	if cell.Revealed || cell.Flagged {
		return
	}
	if cell.Mine {
		a.hitMine(p, c)
		return
	}

	origin, byChunk := s.chunks.RevealAndPropagate(c)
	points := 0
	for _, revealed := range origin {
		if revealed.Adjacent > 0 {
			points += s.scoring.NumberRevealPoints
		}
	}
	if points > 0 {
		p.Score += points
		s.dirty = true
		s.emitScoreLocked(p, points, ReasonReveal)
	}
	s.emitTilesLocked(byChunk)
}

// hitMine applies the penalty and lockout for stepping on a mine. Not
// an error path: the hit is scored, broadcast, and ends there. No
// flood propagates from a mine.
func (a *ActionProcessor) hitMine(p *Player, c world.Coord) {
	s := a.s
	s.chunks.SetOverlay(c, world.Overlay{Revealed: true})

	delta := -p.Score
	if s.scoring.MineHitPenalty < p.Score {
		delta = -s.scoring.MineHitPenalty
	}
	p.Score += delta
	p.Status = StatusLockedOut
	p.LockedUntil = s.now().Add(s.scoring.LockoutDuration.Std())
	s.dirty = true

	s.emitScoreLocked(p, delta, ReasonMineHit)
	s.emitStatusLocked(p)

	id, _ := world.ChunkAt(c, s.board.ChunkSize)
	s.bus.Publish(events.TileUpdate{
		GameID: s.id,
		Chunk:  id,
		Cell:   s.chunks.CellAt(c),
	})
	s.log.Debug("mine hit", "player", p.ID, "x", c.X, "y", c.Y)
}

func (a *ActionProcessor) flag(p *Player, c world.Coord) {
	s := a.s
	cell := s.chunks.CellAt(c)
	if cell.Revealed {
		return
	}

	if !cell.Flagged {
		s.chunks.SetOverlay(c, world.Overlay{Flagged: true})
		s.dirty = true
		if cell.Mine {
			a.flagMine(p, c)
		} else if s.scoring.FlagPlacePoints > 0 {
			p.Score += s.scoring.FlagPlacePoints
			s.emitScoreLocked(p, s.scoring.FlagPlacePoints, ReasonFlagPlace)
		}
		a.emitTile(c)
		return
	}

	// The cell is already flagged. A new player confirming a correctly
	// flagged mine joins the contributor list instead of toggling the
	// flag away; anyone else, including a contributor, removes it. The
	// contributor record itself never rolls back.
	if cell.Mine {
		if r, ok := s.reveals[c]; !ok || !r.hasContributor(p.ID) {
			a.flagMine(p, c)
			return
		}
	}
	s.chunks.SetOverlay(c, world.Overlay{})
	s.dirty = true
	if s.scoring.FlagRemovePoints > 0 {
		p.Score += s.scoring.FlagRemovePoints
		s.emitScoreLocked(p, s.scoring.FlagRemovePoints, ReasonFlagRemove)
	}
	a.emitTile(c)
}

func (a *ActionProcessor) emitTile(c world.Coord) {
	s := a.s
	id, _ := world.ChunkAt(c, s.board.ChunkSize)
	s.bus.Publish(events.TileUpdate{
		GameID: s.id,
		Chunk:  id,
		Cell:   s.chunks.CellAt(c),
	})
}

// flagMine drives the delayed-reveal state machine for a correct flag.
// The first flag creates the entry and schedules the reveal deadline;
// later flags by other players append contributors. Repeat flags by the
// same player change nothing.
func (a *ActionProcessor) flagMine(p *Player, c world.Coord) {
	s := a.s
	r, ok := s.reveals[c]
	if !ok {
		r = &MineReveal{
			Coord:    c,
			RevealAt: s.now().Add(s.scoring.MineRevealDelay.Std()),
		}
		s.reveals[c] = r
		s.pending[c] = struct{}{}
		s.scheduleMineReveal(r)
	}
	contrib, added := r.contribute(p.ID, s.now(), s.scoring)
	if !added {
		return
	}
	if contrib.Points > 0 {
		p.Score += contrib.Points
		s.emitScoreLocked(p, contrib.Points, ReasonMineFlag)
	}
}

var chordOrder = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// chord reveals every hidden, unflagged neighbour of a satisfied number
// cell. The flagged neighbours plus the already revealed mines around it
// must match the cell's adjacency exactly; a
// misflag that leaves a live mine unflagged makes the chord hit it and
// abort the remaining neighbours.
func (a *ActionProcessor) chord(p *Player, c world.Coord) {
	s := a.s
	cell := s.chunks.CellAt(c)
	if !cell.Revealed || cell.Mine || cell.Adjacent == 0 {
		return
	}

	satisfied := 0
	for _, d := range chordOrder {
		n := s.chunks.CellAt(world.Coord{X: c.X + d[0], Y: c.Y + d[1]})
		if n.Flagged {
			satisfied++
			continue
		}
		if n.Revealed && n.Mine {
			satisfied++
		}
	}
	if satisfied != cell.Adjacent {
		return
	}

	points := 0
	merged := make(map[world.ChunkID][]world.Cell)
	for _, d := range chordOrder {
		nc := world.Coord{X: c.X + d[0], Y: c.Y + d[1]}
		n := s.chunks.CellAt(nc)
		if n.Revealed || n.Flagged {
			continue
		}
		if n.Mine {
			if points > 0 {
				p.Score += points
				s.dirty = true
				s.emitScoreLocked(p, points, ReasonReveal)
				points = 0
			}
			s.emitTilesLocked(merged)
			a.hitMine(p, nc)
			return
		}
		origin, byChunk := s.chunks.RevealAndPropagate(nc)
		for _, revealed := range origin {
			if revealed.Adjacent > 0 {
				points += s.scoring.NumberRevealPoints
			}
		}
		for id, cells := range byChunk {
			merged[id] = append(merged[id], cells...)
		}
	}

	if points > 0 {
		p.Score += points
		s.dirty = true
		s.emitScoreLocked(p, points, ReasonReveal)
	}
	s.emitTilesLocked(merged)
}
