package network

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mvb0005/sweeptogether/internal/config"
	"github.com/mvb0005/sweeptogether/internal/events"
	"github.com/mvb0005/sweeptogether/internal/game"
	"github.com/mvb0005/sweeptogether/internal/world"
)

// LeaderboardFunc answers leaderboard requests; ranking itself lives in
// an external collaborator fed by score and game-over events.
type LeaderboardFunc func(category, metric string, limit int) any

// Server is the websocket transport adapter: it decodes client intents
// into session operations and fans domain events back out to the
// connections each event's scope names.
type Server struct {
	log         *slog.Logger
	cfg         config.NetworkConfig
	chunkSize   int
	defaults    config.ScoringConfig
	registry    *game.Registry
	leaderboard LeaderboardFunc
	upgrader    websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter
	done    chan struct{}

	mu     sync.Mutex
	send   chan []byte
	closed bool
	games  map[string]struct{}
}

func NewServer(cfg config.NetworkConfig, board config.BoardConfig, defaults config.ScoringConfig, registry *game.Registry, bus *events.Bus, leaderboard LeaderboardFunc, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		log:         log,
		cfg:         cfg,
		chunkSize:   board.ChunkSize,
		defaults:    defaults,
		registry:    registry,
		leaderboard: leaderboard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
	bus.SubscribeAll(s.route)
	return s
}

// HandleWS upgrades the HTTP request and serves the connection until it
// drops. Blocking; one goroutine per connection plus a write pump.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.IntentsPerSecond), s.cfg.IntentBurst),
		done:    make(chan struct{}),
		send:    make(chan []byte, s.cfg.WriteQueueSize),
		games:   make(map[string]struct{}),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.log.Info("client connected", "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.dropClient(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			s.sendError(c, "", "RateLimited", "too many intents, slow down")
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(c, "", "InvalidInput", "malformed envelope")
			continue
		}
		s.handle(c, env)
	}
}

// dropClient runs disconnect semantics: the player identity stays in
// its sessions (locked out) for later reconnection.
func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()

	c.mu.Lock()
	games := make([]string, 0, len(c.games))
	for id := range c.games {
		games = append(games, id)
	}
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	for _, gameID := range games {
		if sess, err := s.registry.Get(gameID); err == nil {
			sess.Disconnect(c.id)
		}
	}
	s.log.Info("client disconnected", "conn", c.id)
}

func (c *client) writePump() {
	defer close(c.done)
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (s *Server) handle(c *client, env Envelope) {
	switch env.Type {
	case MessageCreateGame:
		s.onCreateGame(c, env.Payload)
	case MessageJoinGame:
		s.onJoinGame(c, env.Payload)
	case MessageReconnect:
		s.onReconnect(c, env.Payload)
	case MessageLeaveGame:
		s.onLeaveGame(c, env.Payload)
	case MessageRevealTile, MessageFlagTile, MessageChordClick:
		s.onTileIntent(c, env.Type, env.Payload)
	case MessageSubscribeToChunk, MessageUnsubscribeFromChunk:
		s.onChunkIntent(c, env.Type, env.Payload)
	case MessageUpdateViewport:
		s.onUpdateViewport(c, env.Payload)
	case MessageRequestLeaderboard:
		s.onRequestLeaderboard(c, env.Payload)
	default:
		s.sendError(c, "", "InvalidInput", "unknown message type "+string(env.Type))
	}
}

func (s *Server) onCreateGame(c *client, payload json.RawMessage) {
	// Overrides decode on top of the defaults; absent fields keep them.
	scoring := s.defaults
	req := CreateGame{Scoring: &scoring}
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(c, "", "InvalidInput", "malformed createGame payload")
		return
	}
	sess, err := s.registry.Create(req.GameID, scoring, req.JoinOK)
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	res, err := sess.Join(c.id, req.Username)
	if err != nil {
		s.sendError(c, sess.ID(), game.CodeFor(err), err.Error())
		return
	}
	c.trackGame(sess.ID())
	s.reply(c, MessageGameCreated, GameCreated{GameID: res.GameID, PlayerID: res.PlayerID})
}

func (s *Server) onJoinGame(c *client, payload json.RawMessage) {
	var req JoinGame
	if err := json.Unmarshal(payload, &req); err != nil || req.GameID == "" {
		s.sendError(c, "", "InvalidInput", "malformed joinGame payload")
		return
	}
	sess, err := s.registry.Get(req.GameID)
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	res, err := sess.Join(c.id, req.Username)
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	c.trackGame(req.GameID)
	s.reply(c, MessageGameJoined, GameJoined{GameID: res.GameID, PlayerID: res.PlayerID, Players: res.Players})
}

func (s *Server) onReconnect(c *client, payload json.RawMessage) {
	var req Reconnect
	if err := json.Unmarshal(payload, &req); err != nil || req.GameID == "" || req.PlayerID == "" {
		s.sendError(c, "", "InvalidInput", "malformed reconnect payload")
		return
	}
	sess, err := s.registry.Get(req.GameID)
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	snap, err := sess.Reconnect(c.id, req.PlayerID)
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	c.trackGame(req.GameID)
	s.reply(c, MessageGameState, GameState{
		GameID:   snap.GameID,
		PlayerID: snap.PlayerID,
		Players:  snap.Players,
		GameOver: snap.GameOver,
		Winner:   snap.Winner,
	})
}

func (s *Server) onLeaveGame(c *client, payload json.RawMessage) {
	var req LeaveGame
	if err := json.Unmarshal(payload, &req); err != nil || req.GameID == "" {
		s.sendError(c, "", "InvalidInput", "malformed leaveGame payload")
		return
	}
	sess, err := s.registry.Get(req.GameID)
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	if err := sess.Leave(c.id); err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	c.mu.Lock()
	delete(c.games, req.GameID)
	c.mu.Unlock()
}

func (s *Server) onTileIntent(c *client, t MessageType, payload json.RawMessage) {
	var req TileIntent
	if err := json.Unmarshal(payload, &req); err != nil || req.GameID == "" || req.X == nil || req.Y == nil {
		s.sendError(c, req.GameID, "InvalidInput", "tile intent requires gameId and integer x, y")
		return
	}
	sess, err := s.registry.Get(req.GameID)
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	switch t {
	case MessageRevealTile:
		err = sess.Reveal(c.id, *req.X, *req.Y)
	case MessageFlagTile:
		err = sess.Flag(c.id, *req.X, *req.Y)
	case MessageChordClick:
		err = sess.Chord(c.id, *req.X, *req.Y)
	}
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
	}
}

func (s *Server) onChunkIntent(c *client, t MessageType, payload json.RawMessage) {
	var req ChunkIntent
	if err := json.Unmarshal(payload, &req); err != nil || req.GameID == "" || req.CX == nil || req.CY == nil {
		s.sendError(c, req.GameID, "InvalidInput", "chunk intent requires gameId and integer cx, cy")
		return
	}
	sess, err := s.registry.Get(req.GameID)
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	if t == MessageSubscribeToChunk {
		sess.SubscribeChunk(c.id, *req.CX, *req.CY)
	} else {
		sess.UnsubscribeChunk(c.id, *req.CX, *req.CY)
	}
}

func (s *Server) onUpdateViewport(c *client, payload json.RawMessage) {
	var req UpdateViewport
	if err := json.Unmarshal(payload, &req); err != nil || req.GameID == "" {
		s.sendError(c, req.GameID, "InvalidInput", "malformed updateViewport payload")
		return
	}
	sess, err := s.registry.Get(req.GameID)
	if err != nil {
		s.sendError(c, req.GameID, game.CodeFor(err), err.Error())
		return
	}
	rect := world.CoverOf(req.View.MinX, req.View.MinY, req.View.MaxX, req.View.MaxY, s.chunkSize)
	sess.SetViewport(c.id, rect)
}

func (s *Server) onRequestLeaderboard(c *client, payload json.RawMessage) {
	var req RequestLeaderboard
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(c, "", "InvalidInput", "malformed requestLeaderboard payload")
		return
	}
	var body any
	if s.leaderboard != nil {
		body = s.leaderboard(req.Category, req.Metric, req.Limit)
	}
	s.reply(c, MessageLeaderboard, body)
}

// route fans one domain event out to the connections its scope names.
func (s *Server) route(e events.Event) {
	data, err := Encode(MessageType(e.Kind()), e)
	if err != nil {
		s.log.Error("encode event", "kind", e.Kind(), "err", err)
		return
	}

	scope := e.Scope()
	switch scope.Kind {
	case events.ScopeConn:
		s.sendTo(scope.Conn, data, e.Kind())
	case events.ScopeSession:
		if sess, err := s.registry.Get(e.Game()); err == nil {
			for _, conn := range sess.Conns() {
				s.sendTo(conn, data, e.Kind())
			}
		}
	case events.ScopeChunk:
		if sess, err := s.registry.Get(e.Game()); err == nil {
			for _, conn := range sess.Subscribers(scope.Chunk) {
				s.sendTo(conn, data, e.Kind())
			}
		}
	}
}

func (s *Server) sendTo(connID string, data []byte, kind events.Kind) {
	s.mu.RLock()
	c, ok := s.clients[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if !c.enqueue(data) {
		s.log.Warn("dropping event for slow client", "conn", connID, "kind", kind)
	}
}

func (s *Server) reply(c *client, t MessageType, payload any) {
	data, err := Encode(t, payload)
	if err != nil {
		s.log.Error("encode reply", "type", t, "err", err)
		return
	}
	c.enqueue(data)
}

func (s *Server) sendError(c *client, gameID, code, message string) {
	data, err := Encode(MessageType(events.KindError), events.Error{
		GameID:  gameID,
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// ClientCount reports the number of live connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown closes every connection, letting queued events drain first.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
			close(c.send)
		}
		c.mu.Unlock()
	}

	// Wait for the write pumps to flush or the grace period to lapse.
	for _, c := range clients {
		select {
		case <-c.done:
		case <-ctx.Done():
			_ = c.conn.Close()
		}
	}
}

func (c *client) trackGame(gameID string) {
	c.mu.Lock()
	c.games[gameID] = struct{}{}
	c.mu.Unlock()
}
