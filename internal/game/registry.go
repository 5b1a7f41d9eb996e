package game

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mvb0005/sweeptogether/internal/config"
	"github.com/mvb0005/sweeptogether/internal/events"
	"github.com/mvb0005/sweeptogether/internal/persist"
	"github.com/mvb0005/sweeptogether/internal/world"
	"github.com/mvb0005/sweeptogether/internal/worldgen"
)

// Registry maps game ids to live sessions. Lookups are concurrent-safe;
// each session serialises its own mutations. The registry also owns the
// per-game world generators, created alongside the session.
type Registry struct {
	log   *slog.Logger
	bus   *events.Bus
	store persist.Gateway
	board config.BoardConfig
	tick  time.Duration

	sessions *xsync.Map[string, *Session]
}

func NewRegistry(board config.BoardConfig, bus *events.Bus, store persist.Gateway, log *slog.Logger, timerTick time.Duration) *Registry {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		log:      log,
		bus:      bus,
		store:    store,
		board:    board,
		tick:     timerTick,
		sessions: xsync.NewMap[string, *Session](),
	}
}

func (r *Registry) newSession(gameID string, scoring config.ScoringConfig) *Session {
	gen := worldgen.New(gameID, worldgen.Options{
		Threshold:     r.board.MineThreshold,
		MineCacheCap:  r.board.MineCacheCap,
		CountCacheCap: r.board.CountCacheCap,
	})
	s := NewSession(gameID, gen, r.board, scoring, r.bus, r.log, r.tick)
	s.SetChunkLoader(func(id world.ChunkID) []persist.TileDoc {
		tiles, err := r.store.LoadChunk(gameID, id)
		if err != nil {
			if !errors.Is(err, persist.ErrNotFound) {
				r.log.Warn("load chunk overlay", "game", gameID, "chunk", id, "err", err)
			}
			return nil
		}
		return tiles
	})
	return s
}

// Create starts a session under the given id, generating one when
// empty. Creating an id that already exists is an error unless
// joinOrCreate is set, in which case the existing session is returned.
func (r *Registry) Create(gameID string, scoring config.ScoringConfig, joinOrCreate bool) (*Session, error) {
	if gameID == "" {
		gameID = uuid.NewString()
	}
	if err := scoring.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s := r.newSession(gameID, scoring)
	existing, loaded := r.sessions.LoadOrStore(gameID, s)
	if loaded {
		if joinOrCreate {
			return existing, nil
		}
		return nil, fmt.Errorf("game %s: %w", gameID, ErrAlreadyExists)
	}
	r.log.Info("session created", "game", gameID)
	return s, nil
}

// Get returns the live session, falling back to the persisted snapshot
// when the process restarted underneath the game.
func (r *Registry) Get(gameID string) (*Session, error) {
	if s, ok := r.sessions.Load(gameID); ok {
		return s, nil
	}
	doc, err := r.store.LoadSession(gameID)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, fmt.Errorf("game %s: %w", gameID, ErrNotFound)
		}
		return nil, err
	}

	s := r.newSession(gameID, doc.Scoring)
	s.Restore(doc)
	existing, loaded := r.sessions.LoadOrStore(gameID, s)
	if loaded {
		return existing, nil
	}
	r.log.Info("session restored", "game", gameID)
	return s, nil
}

// Remove retires a session: timers stop, the final snapshot persists,
// and the entry disappears. Safe to call for unknown ids.
func (r *Registry) Remove(gameID string) {
	s, ok := r.sessions.LoadAndDelete(gameID)
	if !ok {
		return
	}
	s.Timers().Stop()
	doc, chunks := s.Snapshot(true)
	if doc != nil {
		if err := r.store.SaveSession(*doc); err != nil {
			r.log.Warn("final session snapshot failed", "game", gameID, "err", err)
		}
	}
	for id, tiles := range chunks {
		if err := r.store.SaveChunk(gameID, id, tiles); err != nil {
			r.log.Warn("final chunk snapshot failed", "game", gameID, "chunk", id, "err", err)
		}
	}
	r.log.Info("session retired", "game", gameID)
}

// Range visits every live session.
func (r *Registry) Range(fn func(*Session) bool) {
	r.sessions.Range(func(_ string, s *Session) bool {
		return fn(s)
	})
}

// Len reports the number of live sessions.
func (r *Registry) Len() int { return r.sessions.Size() }
