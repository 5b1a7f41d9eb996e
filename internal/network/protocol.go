package network

import (
	"encoding/json"

	"github.com/mvb0005/sweeptogether/internal/config"
	"github.com/mvb0005/sweeptogether/internal/events"
)

type MessageType string

// Inbound intents.
const (
	MessageCreateGame           MessageType = "createGame"
	MessageJoinGame             MessageType = "joinGame"
	MessageReconnect            MessageType = "reconnect"
	MessageLeaveGame            MessageType = "leaveGame"
	MessageRevealTile           MessageType = "revealTile"
	MessageFlagTile             MessageType = "flagTile"
	MessageChordClick           MessageType = "chordClick"
	MessageSubscribeToChunk     MessageType = "subscribeToChunk"
	MessageUnsubscribeFromChunk MessageType = "unsubscribeFromChunk"
	MessageUpdateViewport       MessageType = "updateViewport"
	MessageRequestLeaderboard   MessageType = "requestLeaderboard"
)

// Outbound responses; domain events reuse their events.Kind as type.
const (
	MessageGameCreated MessageType = "gameCreated"
	MessageGameJoined  MessageType = "gameJoined"
	MessageGameState   MessageType = "gameState"
	MessageLeaderboard MessageType = "leaderboard"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type CreateGame struct {
	GameID   string                `json:"gameId,omitempty"`
	Username string                `json:"username,omitempty"`
	Scoring  *config.ScoringConfig `json:"scoringConfigOverrides,omitempty"`
	JoinOK   bool                  `json:"joinOrCreate,omitempty"`
}

type JoinGame struct {
	GameID   string `json:"gameId"`
	Username string `json:"username,omitempty"`
}

type Reconnect struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

type LeaveGame struct {
	GameID string `json:"gameId"`
}

// TileIntent addresses one cell. Pointer coordinates distinguish a
// missing field from a zero.
type TileIntent struct {
	GameID string `json:"gameId"`
	X      *int   `json:"x"`
	Y      *int   `json:"y"`
}

type ChunkIntent struct {
	GameID string `json:"gameId"`
	CX     *int   `json:"cx"`
	CY     *int   `json:"cy"`
}

type UpdateViewport struct {
	GameID string       `json:"gameId"`
	View   ViewportRect `json:"viewport"`
}

// ViewportRect is an inclusive cell-space rectangle.
type ViewportRect struct {
	MinX int `json:"minX"`
	MinY int `json:"minY"`
	MaxX int `json:"maxX"`
	MaxY int `json:"maxY"`
}

type RequestLeaderboard struct {
	Category string `json:"category"`
	Metric   string `json:"metric"`
	Limit    int    `json:"limit,omitempty"`
}

type GameCreated struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

type GameJoined struct {
	GameID   string                 `json:"gameId"`
	PlayerID string                 `json:"playerId"`
	Players  []events.PlayerSummary `json:"players"`
}

type GameState struct {
	GameID   string                 `json:"gameId"`
	PlayerID string                 `json:"playerId"`
	Players  []events.PlayerSummary `json:"players"`
	GameOver bool                   `json:"gameOver"`
	Winner   *events.PlayerSummary  `json:"winner,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode frames a payload under the message type.
func Encode(t MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}
