package game

import (
	"time"

	"github.com/mvb0005/sweeptogether/internal/config"
	"github.com/mvb0005/sweeptogether/internal/events"
	"github.com/mvb0005/sweeptogether/internal/world"
)

// Contribution records one correct flag on a mine. Position is the
// 1-based rank by flag time; points follow the scoring config, zero
// from fourth place on.
type Contribution struct {
	PlayerID string
	Position int
	Points   int
	At       time.Time
}

// MineReveal tracks the delayed reveal of one mine. It moves from
// flagged (one to N contributors, reveal scheduled) to revealed when
// the deadline fires; the reveal is terminal. Unflagging never rolls a
// contribution back.
type MineReveal struct {
	Coord        world.Coord
	Contributors []Contribution
	Revealed     bool
	RevealAt     time.Time
}

// contribute appends the player if absent and returns the awarded
// points. The second result is false when the player already
// contributed or the mine is revealed.
func (r *MineReveal) contribute(playerID string, at time.Time, scoring config.ScoringConfig) (Contribution, bool) {
	if r.Revealed {
		return Contribution{}, false
	}
	for _, c := range r.Contributors {
		if c.PlayerID == playerID {
			return Contribution{}, false
		}
	}
	c := Contribution{
		PlayerID: playerID,
		Position: len(r.Contributors) + 1,
		At:       at,
	}
	c.Points = scoring.PlacePoints(c.Position)
	r.Contributors = append(r.Contributors, c)
	return c, true
}

func (r *MineReveal) hasContributor(playerID string) bool {
	for _, c := range r.Contributors {
		if c.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (r *MineReveal) contributors() []events.Contributor {
	out := make([]events.Contributor, 0, len(r.Contributors))
	for _, c := range r.Contributors {
		out = append(out, events.Contributor{
			PlayerID: c.PlayerID,
			Position: c.Position,
			Points:   c.Points,
			At:       c.At,
		})
	}
	return out
}
