package persist

import (
	"fmt"
	"sync"

	"github.com/mvb0005/sweeptogether/internal/world"
)

// Memory is a process-local gateway used in tests and when no
// persistence path is configured.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]SessionDoc
	chunks   map[string][]TileDoc
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]SessionDoc),
		chunks:   make(map[string][]TileDoc),
	}
}

func (m *Memory) SaveSession(doc SessionDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[doc.GameID] = doc
	return nil
}

func (m *Memory) LoadSession(gameID string) (*SessionDoc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.sessions[gameID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", gameID, ErrNotFound)
	}
	copied := doc
	return &copied, nil
}

func (m *Memory) SaveChunk(gameID string, id world.ChunkID, tiles []TileDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[chunkKey(gameID, id)] = append([]TileDoc(nil), tiles...)
	return nil
}

func (m *Memory) LoadChunk(gameID string, id world.ChunkID) ([]TileDoc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tiles, ok := m.chunks[chunkKey(gameID, id)]
	if !ok {
		return nil, fmt.Errorf("chunk %s/%v: %w", gameID, id, ErrNotFound)
	}
	return append([]TileDoc(nil), tiles...), nil
}

func (m *Memory) Close() error { return nil }

func chunkKey(gameID string, id world.ChunkID) string {
	return fmt.Sprintf("chunk/%s/%d/%d", gameID, id.X, id.Y)
}
