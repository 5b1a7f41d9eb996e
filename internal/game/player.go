package game

import (
	"time"

	"github.com/mvb0005/sweeptogether/internal/events"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusLockedOut Status = "LOCKED_OUT"
)

// Player is one participant in a session. Identity survives
// disconnects; an explicit leave removes it.
type Player struct {
	ID          string
	Username    string
	Score       int
	Status      Status
	LockedUntil time.Time

	// Conn is the bound connection id, empty while disconnected.
	Conn string
}

// lockedAt reports whether the player is still serving a lockout.
func (p *Player) lockedAt(now time.Time) bool {
	return p.Status == StatusLockedOut && p.LockedUntil.After(now)
}

func (p *Player) summary() events.PlayerSummary {
	return events.PlayerSummary{
		ID:       p.ID,
		Username: p.Username,
		Score:    p.Score,
		Status:   string(p.Status),
	}
}
