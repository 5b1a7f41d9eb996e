package persist

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/df-mc/goleveldb/leveldb"

	"github.com/mvb0005/sweeptogether/internal/world"
)

// LevelDB stores documents as JSON values in a local LevelDB directory,
// keyed session/<gameId> and chunk/<gameId>/<cx>/<cy>.
type LevelDB struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (s *LevelDB) SaveSession(doc SessionDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", doc.GameID, err)
	}
	if err := s.db.Put(sessionKey(doc.GameID), data, nil); err != nil {
		return fmt.Errorf("write session %s: %w: %v", doc.GameID, ErrTransientIO, err)
	}
	return nil
}

func (s *LevelDB) LoadSession(gameID string) (*SessionDoc, error) {
	data, err := s.db.Get(sessionKey(gameID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", gameID, ErrNotFound)
		}
		return nil, fmt.Errorf("read session %s: %w: %v", gameID, ErrTransientIO, err)
	}
	var doc SessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", gameID, err)
	}
	return &doc, nil
}

func (s *LevelDB) SaveChunk(gameID string, id world.ChunkID, tiles []TileDoc) error {
	data, err := json.Marshal(tiles)
	if err != nil {
		return fmt.Errorf("encode chunk %s/%v: %w", gameID, id, err)
	}
	if err := s.db.Put([]byte(chunkKey(gameID, id)), data, nil); err != nil {
		return fmt.Errorf("write chunk %s/%v: %w: %v", gameID, id, ErrTransientIO, err)
	}
	return nil
}

func (s *LevelDB) LoadChunk(gameID string, id world.ChunkID) ([]TileDoc, error) {
	data, err := s.db.Get([]byte(chunkKey(gameID, id)), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("chunk %s/%v: %w", gameID, id, ErrNotFound)
		}
		return nil, fmt.Errorf("read chunk %s/%v: %w: %v", gameID, id, ErrTransientIO, err)
	}
	var tiles []TileDoc
	if err := json.Unmarshal(data, &tiles); err != nil {
		return nil, fmt.Errorf("decode chunk %s/%v: %w", gameID, id, err)
	}
	return tiles, nil
}

func (s *LevelDB) Close() error { return s.db.Close() }

func sessionKey(gameID string) []byte {
	return []byte("session/" + gameID)
}
