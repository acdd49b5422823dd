// Package artifact defines the narrow save/load contract the predictor and
// scorer use to persist trained state, plus the envelope format those blobs
// are written in.
//
// Backends live next to their drivers (internal/storage/sqlite,
// internal/cache/redis); this package only provides the in-memory store and
// the Resilient wrapper that adds retries and a circuit breaker around any
// backend.
package artifact

import (
	"context"
	"errors"
	"sync"
)

// Names of the artifacts written by this service.
const (
	ModelName      = "productivity_model"
	ScalerName     = "productivity_scaler"
	ScoreTableName = "task_scores"
)

var (
	// ErrNotFound means no artifact has been saved under the name yet. It is
	// the normal first-run outcome, not a failure.
	ErrNotFound = errors.New("artifact not found")
	// ErrCorrupt means a blob exists but does not decode or fails its checksum.
	ErrCorrupt = errors.New("artifact corrupt")
)

// Store persists named binary blobs. Save overwrites any previous blob with
// the same name. Load returns ErrNotFound when nothing has been saved.
type Store interface {
	Save(ctx context.Context, name string, blob []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Save(ctx context.Context, name string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)

	m.mu.Lock()
	m.blobs[name] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	blob, ok := m.blobs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}
