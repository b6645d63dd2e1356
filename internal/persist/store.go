// Package persist is the session snapshot store. It is a best-effort
// audit channel: the server saves after every accepted mutation, swallows
// failures, and never blocks the action pipeline on a write.
package persist

import (
	"context"
	"sync"

	"github.com/boardgo/server/internal/session"
)

// Store is the persistence port. Load returns (nil, nil) for an unknown
// session id.
type Store interface {
	Open(ctx context.Context) error
	Close() error
	Save(ctx context.Context, s session.State) error
	Load(ctx context.Context, sessionID string) (*session.State, error)
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore keeps serialized snapshots in a map. Used in tests and as
// a stand-in when no database is configured but saves should still be
// observable.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string][]byte)}
}

func (m *MemoryStore) Open(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func (m *MemoryStore) Save(_ context.Context, s session.State) error {
	data, err := s.ToJSON()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.SessionID] = data
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*session.State, error) {
	m.mu.Lock()
	data, ok := m.rows[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	s, err := session.FromJSON(data)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, sessionID)
	return nil
}
