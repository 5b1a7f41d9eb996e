package network

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mvb0005/sweeptogether/internal/config"
	"github.com/mvb0005/sweeptogether/internal/events"
	"github.com/mvb0005/sweeptogether/internal/game"
	"github.com/mvb0005/sweeptogether/internal/persist"
)

func startTestServer(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()
	cfg := config.Default()
	bus := events.NewBus(nil)
	registry := game.NewRegistry(cfg.Board, bus, persist.NewMemory(), nil, time.Second)
	srv := NewServer(cfg.Network, cfg.Board, cfg.Scoring, registry, bus, nil, nil)

	httpSrv := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func send(t *testing.T, conn *websocket.Conn, msgType MessageType, payload any) {
	t.Helper()
	data, err := Encode(msgType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// waitFor reads frames until one matches the wanted type.
func waitFor(t *testing.T, conn *websocket.Conn, want MessageType) Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if env.Type == want {
			return env
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestCreateGameFlagAndFanOut(t *testing.T) {
	_, conn := startTestServer(t)

	send(t, conn, MessageCreateGame, CreateGame{Username: "alice"})
	env := waitFor(t, conn, MessageGameCreated)
	var created GameCreated
	if err := json.Unmarshal(env.Payload, &created); err != nil {
		t.Fatalf("decode gameCreated: %v", err)
	}
	if created.GameID == "" || created.PlayerID == "" {
		t.Fatalf("gameCreated missing ids: %+v", created)
	}

	cx, cy := 0, 0
	send(t, conn, MessageSubscribeToChunk, ChunkIntent{GameID: created.GameID, CX: &cx, CY: &cy})
	waitFor(t, conn, MessageType(events.KindChunkData))

	x, y := 3, 3
	send(t, conn, MessageFlagTile, TileIntent{GameID: created.GameID, X: &x, Y: &y})
	tileEnv := waitFor(t, conn, MessageType(events.KindTileUpdate))
	var tile events.TileUpdate
	if err := json.Unmarshal(tileEnv.Payload, &tile); err != nil {
		t.Fatalf("decode tileUpdate: %v", err)
	}
	if tile.Cell.X != 3 || tile.Cell.Y != 3 || !tile.Cell.Flagged {
		t.Fatalf("unexpected tileUpdate: %+v", tile.Cell)
	}
}

func TestUnknownGameSurfacesError(t *testing.T) {
	_, conn := startTestServer(t)

	x, y := 0, 0
	send(t, conn, MessageRevealTile, TileIntent{GameID: "nope", X: &x, Y: &y})
	env := waitFor(t, conn, MessageType(events.KindError))
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != "NotFound" {
		t.Fatalf("expected NotFound, got %q", payload.Code)
	}
}

func TestMissingCoordinatesRejected(t *testing.T) {
	_, conn := startTestServer(t)

	send(t, conn, MessageCreateGame, CreateGame{})
	env := waitFor(t, conn, MessageGameCreated)
	var created GameCreated
	if err := json.Unmarshal(env.Payload, &created); err != nil {
		t.Fatalf("decode gameCreated: %v", err)
	}

	x := 1
	send(t, conn, MessageRevealTile, TileIntent{GameID: created.GameID, X: &x})
	errEnv := waitFor(t, conn, MessageType(events.KindError))
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(errEnv.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Code != "InvalidInput" {
		t.Fatalf("expected InvalidInput, got %q", payload.Code)
	}
}
