// Package server composes the session core, persistence, update bus and
// transport into one long-running process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mvb0005/sweeptogether/internal/config"
	"github.com/mvb0005/sweeptogether/internal/events"
	"github.com/mvb0005/sweeptogether/internal/game"
	"github.com/mvb0005/sweeptogether/internal/network"
	"github.com/mvb0005/sweeptogether/internal/persist"
	"github.com/mvb0005/sweeptogether/internal/world"
)

type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	bus      *events.Bus
	store    persist.Gateway
	registry *game.Registry
	net      *network.Server
	httpSrv  *http.Server
	start    time.Time

	// Snapshots that failed to persist are merged into the next pass.
	retryMu       sync.Mutex
	retrySessions map[string]persist.SessionDoc
	retryChunks   map[string]map[world.ChunkID][]persist.TileDoc
}

func New(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if log == nil {
		log = slog.Default()
	}

	var store persist.Gateway
	if cfg.Persist.Path != "" {
		db, err := persist.OpenLevelDB(cfg.Persist.Path)
		if err != nil {
			return nil, fmt.Errorf("open persistence: %w", err)
		}
		store = db
	} else {
		log.Warn("no persistence path configured, state is in-memory only")
		store = persist.NewMemory()
	}

	bus := events.NewBus(log)
	registry := game.NewRegistry(cfg.Board, bus, store, log, cfg.Server.TimerTick.Std())
	netSrv := network.NewServer(cfg.Network, cfg.Board, cfg.Scoring, registry, bus, nil, log)

	srv := &Server{
		cfg:           cfg,
		log:           log,
		bus:           bus,
		store:         store,
		registry:      registry,
		net:           netSrv,
		start:         time.Now(),
		retrySessions: make(map[string]persist.SessionDoc),
		retryChunks:   make(map[string]map[world.ChunkID][]persist.TileDoc),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/ws", netSrv.HandleWS)
	srv.httpSrv = &http.Server{
		Addr:    cfg.Server.ListenHTTP,
		Handler: mux,
	}
	return srv, nil
}

// Bus exposes the update bus so external collaborators (the leaderboard
// aggregator) can subscribe to score and game-over events.
func (s *Server) Bus() *events.Bus { return s.bus }

// Registry exposes session management for operator tooling.
func (s *Server) Registry() *game.Registry { return s.registry }

// Run serves until the context ends, then drains and persists.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.cfg.Server.ListenHTTP)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	timerTicker := time.NewTicker(s.cfg.Server.TimerTick.Std())
	defer timerTicker.Stop()
	snapshotTicker := time.NewTicker(s.cfg.Server.SnapshotInterval.Std())
	defer snapshotTicker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			s.shutdown()
			return nil
		case now := <-timerTicker.C:
			s.fireTimers(now)
		case <-snapshotTicker.C:
			s.snapshotAll(false)
		}
	}
}

// fireTimers advances every session's scheduler on the shared tick.
func (s *Server) fireTimers(now time.Time) {
	s.registry.Range(func(sess *game.Session) bool {
		sess.Timers().FireDue(now)
		return true
	})
}

// snapshotAll persists dirty sessions and chunk overlays. Documents are
// rendered under each session's lock but written outside it; failures
// are kept for the next pass.
func (s *Server) snapshotAll(force bool) {
	type pendingWrite struct {
		doc    *persist.SessionDoc
		chunks map[world.ChunkID][]persist.TileDoc
		gameID string
	}
	var writes []pendingWrite
	s.registry.Range(func(sess *game.Session) bool {
		doc, chunks := sess.Snapshot(force)
		if doc != nil || len(chunks) > 0 {
			writes = append(writes, pendingWrite{doc: doc, chunks: chunks, gameID: sess.ID()})
		}
		return true
	})

	// Fresh documents supersede queued retries for the same game or chunk.
	fresh := make(map[string]int, len(writes))
	for i, w := range writes {
		fresh[w.gameID] = i
	}
	s.retryMu.Lock()
	for gameID, doc := range s.retrySessions {
		delete(s.retrySessions, gameID)
		if i, ok := fresh[gameID]; ok && writes[i].doc != nil {
			continue
		}
		d := doc
		writes = append(writes, pendingWrite{doc: &d, gameID: gameID})
	}
	for gameID, chunks := range s.retryChunks {
		delete(s.retryChunks, gameID)
		if i, ok := fresh[gameID]; ok {
			for id := range writes[i].chunks {
				delete(chunks, id)
			}
		}
		writes = append(writes, pendingWrite{chunks: chunks, gameID: gameID})
	}
	s.retryMu.Unlock()

	for _, w := range writes {
		if w.doc != nil {
			if err := s.store.SaveSession(*w.doc); err != nil {
				s.log.Warn("session snapshot failed", "game", w.gameID, "err", err)
				s.retryMu.Lock()
				s.retrySessions[w.gameID] = *w.doc
				s.retryMu.Unlock()
			}
		}
		for id, tiles := range w.chunks {
			if err := s.store.SaveChunk(w.gameID, id, tiles); err != nil {
				s.log.Warn("chunk snapshot failed", "game", w.gameID, "chunk", id, "err", err)
				s.retryMu.Lock()
				byChunk := s.retryChunks[w.gameID]
				if byChunk == nil {
					byChunk = make(map[world.ChunkID][]persist.TileDoc)
					s.retryChunks[w.gameID] = byChunk
				}
				byChunk[id] = tiles
				s.retryMu.Unlock()
			}
		}
	}
}

// shutdown drains outbound messages, persists dirty sessions, then
// releases the listeners.
func (s *Server) shutdown() {
	s.log.Info("shutting down")
	grace, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownGrace.Std())
	defer cancel()

	s.net.Shutdown(grace)
	s.snapshotAll(true)
	if err := s.store.Close(); err != nil {
		s.log.Warn("close persistence", "err", err)
	}
	if err := s.httpSrv.Shutdown(grace); err != nil {
		s.log.Warn("close http listener", "err", err)
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.start).Round(time.Second).String(),
		Sessions:    s.registry.Len(),
		Connections: s.net.ClientCount(),
	})
}
