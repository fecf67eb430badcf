package engine

import (
	"sync"
	"time"

	"github.com/roleplaylabs/drill-core/core/fault"
)

type TurnRole string

const (
	TurnRoleUser TurnRole = "user"
	TurnRoleNPC  TurnRole = "npc"
)

// SessionTurn is one atomic, ordered message in a session's history. Turn
// numbers are engine-assigned, strictly increasing by one with no gaps;
// turns are never rewritten once recorded.
type SessionTurn struct {
	SessionID  string
	TurnNumber int
	Role       TurnRole
	Content    string
	CreatedAt  time.Time
}

// TurnStore is the durable append/read collaborator for turn logs. The
// engine only appends and lists; it never updates or deletes.
type TurnStore interface {
	Append(turn SessionTurn) error
	List(sessionID string) ([]SessionTurn, error)
}

type memoryTurnStore struct {
	mu    sync.Mutex
	turns map[string][]SessionTurn
}

// NewMemoryTurnStore returns an in-memory TurnStore, the default when no
// durable store is configured.
func NewMemoryTurnStore() TurnStore {
	return &memoryTurnStore{turns: map[string][]SessionTurn{}}
}

func (s *memoryTurnStore) Append(turn SessionTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.turns[turn.SessionID] {
		if existing.TurnNumber == turn.TurnNumber {
			return fault.Validation("turn number %d already recorded for session %s", turn.TurnNumber, turn.SessionID)
		}
	}
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return nil
}

func (s *memoryTurnStore) List(sessionID string) ([]SessionTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]SessionTurn, len(s.turns[sessionID]))
	copy(turns, s.turns[sessionID])
	return turns, nil
}
