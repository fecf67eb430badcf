// Package engine drives role-play training sessions: it owns the session
// lifecycle, the append-only turn log, and the two-phase evaluation pipeline,
// and serializes all mutation of a session through a single per-session
// runtime goroutine.
package engine

import (
	"sync"
	"time"

	"github.com/roleplaylabs/drill-core/core/evaluation"
	"github.com/roleplaylabs/drill-core/core/fault"
	"github.com/roleplaylabs/drill-core/core/llms"
	"github.com/roleplaylabs/drill-core/core/personas"
	"golang.org/x/sync/errgroup"
)

// Mode selects the session's conversational regime.
type Mode string

const (
	// ModeTrain gives naturally varied persona behavior plus coaching hints.
	ModeTrain Mode = "train"
	// ModeExam is seeded and reproducible; pausing and hints are disabled.
	ModeExam Mode = "exam"
	// ModeReplay re-runs a conversation without evaluation or a report.
	ModeReplay Mode = "replay"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Scenario describes the training situation a session runs against.
type Scenario struct {
	ID         string
	Track      string
	Persona    personas.Persona
	Difficulty int
}

// Session is one live training conversation. All turn-log mutation goes
// through the session's runtime goroutine; the exported operations are safe
// for concurrent use and are applied in submission order, never interleaved.
type Session struct {
	ID        string
	UserID    string
	Scenario  Scenario
	Mode      Mode
	Seed      *int64
	CreatedAt time.Time

	mu           sync.Mutex
	status       Status
	startedAt    *time.Time
	endedAt      *time.Time
	turnCounter  int
	turns        []SessionTurn
	history      []llms.Message
	lastActivity time.Time

	responder *personas.Responder
	evaluator *evaluation.Evaluator
	chat      personas.Client
	store     TurnStore
	runtime   *sessionRuntime

	// evalGroup is the phase-1 barrier: End waits on it before phase 2.
	evalGroup  errgroup.Group
	partialsMu sync.Mutex
	partials   []evaluation.PartialScore
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TurnCount returns the number of turns recorded so far.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Pause suspends an active session. Exam sessions cannot be paused.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Mode == ModeExam {
		return fault.State("pause is not available in exam mode")
	}
	if s.status != StatusActive {
		return fault.State("pause invalid in status %s", s.status)
	}
	s.status = StatusPaused
	s.lastActivity = time.Now()
	return nil
}

// Resume reactivates a paused session.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPaused {
		return fault.State("resume invalid in status %s", s.status)
	}
	s.status = StatusActive
	s.lastActivity = time.Now()
	return nil
}

// Abort forces the session into the aborted state from any non-terminal
// status, bypassing completion. Used on hard transport failures and TTL
// expiry; no report is produced.
func (s *Session) Abort() error {
	s.mu.Lock()
	if s.status.terminal() {
		status := s.status
		s.mu.Unlock()
		return fault.State("abort invalid in status %s", status)
	}
	s.status = StatusAborted
	now := time.Now()
	s.endedAt = &now
	s.mu.Unlock()

	s.runtime.end()
	return nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// transcript snapshots the turn log in evaluator form.
func (s *Session) transcript() []evaluation.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]evaluation.TranscriptEntry, 0, len(s.turns))
	for _, turn := range s.turns {
		entries = append(entries, evaluation.TranscriptEntry{
			TurnNumber: turn.TurnNumber,
			Role:       string(turn.Role),
			Content:    turn.Content,
		})
	}
	return entries
}

func (s *Session) recordPartial(partial evaluation.PartialScore) {
	s.partialsMu.Lock()
	s.partials = append(s.partials, partial)
	s.partialsMu.Unlock()
}

func (s *Session) partialScores() []evaluation.PartialScore {
	s.partialsMu.Lock()
	defer s.partialsMu.Unlock()

	partials := make([]evaluation.PartialScore, len(s.partials))
	copy(partials, s.partials)
	return partials
}
