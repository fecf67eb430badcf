package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roleplaylabs/drill-core/core/evaluation"
	"github.com/roleplaylabs/drill-core/core/fault"
	"github.com/roleplaylabs/drill-core/core/llms"
	"github.com/roleplaylabs/drill-core/core/personas"
	"github.com/roleplaylabs/drill-core/core/reports"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// historyWindow bounds how many recent messages the persona prompt carries.
const historyWindow = 20

const coachTipInstructions = "You are a conversation coach watching a role-play training session. " +
	"Give the trainee exactly one short, actionable tip (one sentence) about their latest message. " +
	"Address the trainee directly."

// Engine is the session facade. It owns the id-keyed session registry and
// the collaborators sessions are built from.
type Engine struct {
	chat       personas.Client
	structured llms.StructuredPrompter
	store      TurnStore
	rubric     evaluation.Rubric
	sessionTTL time.Duration

	registry *sessionRegistry
}

func New(opts ...Option) *Engine {
	e := &Engine{
		store:      NewMemoryTurnStore(),
		rubric:     evaluation.DefaultRubric(),
		sessionTTL: defaultSessionTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registry = newSessionRegistry(e.sessionTTL)
	return e
}

// Close stops the registry sweeper. Live sessions are left untouched.
func (e *Engine) Close() {
	e.registry.stop()
}

// CreateSession validates the requested mode and returns a new pending
// session registered under a fresh id. Exam mode requires a seed so persona
// sampling is reproducible.
func (e *Engine) CreateSession(userID string, scenario Scenario, mode Mode, seed *int64) (*Session, error) {
	if e.chat == nil {
		return nil, fault.Validation("a chat client is required")
	}
	if mode != ModeReplay && e.structured == nil {
		return nil, fault.Validation("a structured client is required for evaluated sessions")
	}
	if mode == ModeExam && seed == nil {
		return nil, fault.Validation("exam mode requires a seed")
	}

	responderOpts := []personas.ResponderOption{}
	if mode == ModeExam {
		responderOpts = append(responderOpts, personas.WithDeterministicSeed(*seed))
	}

	session := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Scenario:     scenario,
		Mode:         mode,
		Seed:         seed,
		CreatedAt:    time.Now(),
		status:       StatusPending,
		lastActivity: time.Now(),
		responder:    personas.NewResponder(e.chat, scenario.Persona, responderOpts...),
		chat:         e.chat,
		store:        e.store,
		runtime:      newSessionRuntime(),
	}
	if mode != ModeReplay {
		session.evaluator = evaluation.New(e.structured, evaluation.WithRubric(e.rubric))
	}

	e.registry.add(session)
	return session, nil
}

// Session looks up a registered session by id.
func (e *Engine) Session(id string) (*Session, error) {
	session, ok := e.registry.get(id)
	if !ok {
		return nil, fault.State("unknown session %s", id)
	}
	return session, nil
}

// Start transitions the session from pending to active and generates the
// persona's opening line as npc turn 0, relayed through the call's delta
// callback.
func (s *Session) Start(ctx context.Context, opts ...TurnOption) error {
	ctx, span := tracer.Start(ctx, "start session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	s.mu.Lock()
	if s.status != StatusPending {
		status := s.status
		s.mu.Unlock()
		return fault.State("start invalid in status %s", status)
	}
	s.status = StatusActive
	now := time.Now()
	s.startedAt = &now
	s.lastActivity = now
	s.mu.Unlock()

	s.runtime.start()

	options := applyTurnOptions(opts)
	errCh := make(chan error, 1)
	if !s.runtime.submit(ctx, func(ctx context.Context) {
		errCh <- s.generateReply(ctx, true, options)
	}) {
		return fault.State("session runtime is closed")
	}

	if err := s.awaitJob(errCh); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// SendMessage records the trainee's message as a user turn, generates the
// persona reply, and records it as an npc turn once the full content is
// available. Per-turn evaluation is scheduled concurrently and never blocks
// the reply. Concurrent calls against the same session queue; they are never
// interleaved.
//
// A generation failure leaves the session active and the user turn
// recorded; the caller may simply send again.
func (s *Session) SendMessage(ctx context.Context, content string, opts ...TurnOption) error {
	ctx, span := tracer.Start(ctx, "send message")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	if status := s.Status(); status != StatusActive {
		return fault.State("send invalid in status %s", status)
	}
	s.touch()

	options := applyTurnOptions(opts)
	errCh := make(chan error, 1)
	if !s.runtime.submit(ctx, func(ctx context.Context) {
		errCh <- s.processUserMessage(ctx, content, options)
	}) {
		return fault.State("session runtime is closed")
	}

	if err := s.awaitJob(errCh); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// End transitions the session to completed, waits for all outstanding
// phase-1 evaluation, runs phase 2 and returns the final report. Replay
// sessions complete without a report.
func (s *Session) End(ctx context.Context) (*reports.FinalReport, error) {
	ctx, span := tracer.Start(ctx, "end session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	s.mu.Lock()
	if s.status != StatusActive && s.status != StatusPaused {
		status := s.status
		s.mu.Unlock()
		return nil, fault.State("end invalid in status %s", status)
	}
	s.status = StatusCompleted
	now := time.Now()
	s.endedAt = &now
	s.mu.Unlock()

	s.runtime.end()
	s.runtime.waitUntilEnded()

	// Phase-1 barrier: every scheduled scoring task completes or falls
	// back before phase 2 sees the turn log.
	_ = s.evalGroup.Wait()

	if s.Mode == ModeReplay {
		return nil, nil
	}

	transcript := s.transcript()
	partials := s.partialScores()

	extraction := s.evaluator.Extract(ctx, transcript, partials)
	prescription := s.evaluator.Prescribe(partials)
	report := reports.Aggregate(s.ID, s.evaluator.Rubric(), transcript, partials, extraction, prescription)
	span.SetAttributes(attribute.Float64("session.total_score", report.TotalScore))
	return report, nil
}

// awaitJob waits for a submitted job's result. A job still queued when the
// runtime shuts down never runs; the runtime's done channel breaks the wait,
// with a final drain for a job that finished in the same instant.
func (s *Session) awaitJob(errCh chan error) error {
	select {
	case err := <-errCh:
		return err
	case <-s.runtime.done:
		select {
		case err := <-errCh:
			return err
		default:
			return fault.State("session runtime is closed")
		}
	}
}

func applyTurnOptions(opts []TurnOption) turnOptions {
	options := turnOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// processUserMessage runs on the session runtime goroutine.
func (s *Session) processUserMessage(ctx context.Context, content string, options turnOptions) error {
	s.mu.Lock()
	if s.status != StatusActive {
		status := s.status
		s.mu.Unlock()
		return fault.State("send invalid in status %s", status)
	}
	s.mu.Unlock()

	turn, err := s.appendTurn(TurnRoleUser, content)
	if err != nil {
		return err
	}
	s.scheduleEvaluation(turn.TurnNumber)

	if err := s.generateReply(ctx, false, options); err != nil {
		return err
	}

	if s.Mode == ModeTrain && options.onCoachTip != nil {
		s.coachTip(ctx, options.onCoachTip)
	}
	return nil
}

// generateReply produces the persona's next line and records it as an npc
// turn only once the full content is available, so a reconnecting client
// never observes a truncated turn. Deltas are relayed through a buffer so a
// slow consumer cannot stall the upstream stream.
func (s *Session) generateReply(ctx context.Context, opening bool, options turnOptions) error {
	buffer := newTextBuffer()
	var relay sync.WaitGroup
	if options.onDelta != nil {
		relay.Add(1)
		go func() {
			defer relay.Done()
			buffer.Chunks(func(chunk string) bool {
				options.onDelta(chunk)
				return true
			})
		}()
	}

	respondOpts := []personas.RespondOption{}
	if options.override != nil {
		respondOpts = append(respondOpts, personas.WithOverride(*options.override))
	}

	var response *llms.Response
	var err error
	if opening {
		response, err = s.responder.OpeningLine(ctx, buffer.AddChunk, respondOpts...)
	} else {
		s.mu.Lock()
		turnNumber := s.turnCounter
		s.mu.Unlock()
		response, err = s.responder.RespondStream(ctx, s.promptHistory(), turnNumber, buffer.AddChunk, respondOpts...)
	}

	if err != nil {
		buffer.Clear()
		relay.Wait()
		return fault.Generation(err, "persona reply failed")
	}

	buffer.TextComplete()
	relay.Wait()

	if _, err := s.appendTurn(TurnRoleNPC, response.Content); err != nil {
		return err
	}
	if options.onFinish != nil {
		options.onFinish(response.FinishReason)
	}
	return nil
}

// appendTurn assigns the next turn number, records the turn durably, then
// mirrors it into the in-memory log and prompt history. Only the runtime
// goroutine calls it, which is what keeps numbering gap-free.
func (s *Session) appendTurn(role TurnRole, content string) (SessionTurn, error) {
	s.mu.Lock()
	turn := SessionTurn{
		SessionID:  s.ID,
		TurnNumber: s.turnCounter,
		Role:       role,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	s.mu.Unlock()

	if err := s.store.Append(turn); err != nil {
		return SessionTurn{}, err
	}

	messageRole := llms.MessageRoleUser
	if role == TurnRoleNPC {
		messageRole = llms.MessageRoleAssistant
	}

	s.mu.Lock()
	s.turnCounter++
	s.turns = append(s.turns, turn)
	s.history = append(s.history, llms.Message{Role: messageRole, Content: content})
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return turn, nil
}

func (s *Session) promptHistory() []llms.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.history
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	snapshot := make([]llms.Message, len(history))
	copy(snapshot, history)
	return snapshot
}

// scheduleEvaluation fires the phase-1 scoring task for one user turn. It
// runs detached from the request context; scoring carries its own timeout
// and never fails, so the barrier in End always drains.
func (s *Session) scheduleEvaluation(turnNumber int) {
	if s.evaluator == nil {
		return
	}

	transcript := s.transcript()
	s.evalGroup.Go(func() error {
		partial := s.evaluator.ScoreTurn(context.Background(), turnNumber, transcript)
		s.recordPartial(partial)
		return nil
	})
}

// coachTip computes the train-mode coaching hint with a secondary
// non-streamed call. Failures are logged and swallowed; the hint is an
// extra, not part of the reply.
func (s *Session) coachTip(ctx context.Context, onCoachTip func(string)) {
	response, err := s.chat.Prompt(ctx, s.promptHistory(),
		llms.WithInstructions(coachTipInstructions),
		llms.WithTemperature(0.3),
	)
	if err != nil {
		logger.WarnContext(ctx, "failed to generate coach tip", "session_id", s.ID, "error", err)
		return
	}
	onCoachTip(response.Content)
}
