package engine

import (
	"context"
	"time"

	"github.com/roleplaylabs/drill-core/core/fault"
	"github.com/roleplaylabs/drill-core/core/realtime"
	"github.com/roleplaylabs/drill-core/core/reports"
)

// VoiceBridge runs a session over the realtime voice channel instead of the
// text path. Completed transcripts from both sides of the conversation are
// recorded through the session runtime, so voice sessions share the text
// path's turn ordering and evaluation guarantees.
type VoiceBridge struct {
	session *Session
	client  *realtime.Client
}

func NewVoiceBridge(session *Session, client *realtime.Client) *VoiceBridge {
	return &VoiceBridge{session: session, client: client}
}

// Connect activates the session and opens the voice connection with the
// persona's instructions in the session configuration. The caller's
// callbacks still receive every event; the bridge taps transcripts and
// disconnects on the way through.
func (b *VoiceBridge) Connect(ctx context.Context, config realtime.SessionConfig, forward realtime.Callbacks) error {
	s := b.session

	s.mu.Lock()
	if s.status != StatusPending {
		status := s.status
		s.mu.Unlock()
		return fault.State("voice connect invalid in status %s", status)
	}
	s.status = StatusActive
	now := time.Now()
	s.startedAt = &now
	s.lastActivity = now
	s.mu.Unlock()

	s.runtime.start()

	if config.Instructions == "" {
		config.Instructions = s.responder.Instructions(0)
	}

	callbacks := realtime.Callbacks{
		OnConfigured:        forward.OnConfigured,
		OnSpeechStarted:     forward.OnSpeechStarted,
		OnSpeechStopped:     forward.OnSpeechStopped,
		OnAudioDelta:        forward.OnAudioDelta,
		OnResponseTextDelta: forward.OnResponseTextDelta,
		OnResponseCancelled: forward.OnResponseCancelled,
		OnError:             forward.OnError,
		OnUserTranscript: func(transcript string) {
			b.recordTurn(TurnRoleUser, transcript)
			if forward.OnUserTranscript != nil {
				forward.OnUserTranscript(transcript)
			}
		},
		OnResponseDone: func(responseID string, transcript string) {
			b.recordTurn(TurnRoleNPC, transcript)
			if forward.OnResponseDone != nil {
				forward.OnResponseDone(responseID, transcript)
			}
		},
		OnDisconnected: func(err error) {
			if err != nil {
				if abortErr := s.Abort(); abortErr != nil {
					logger.Warn("failed to abort session on voice disconnect",
						"session_id", s.ID, "error", abortErr)
				}
			}
			if forward.OnDisconnected != nil {
				forward.OnDisconnected(err)
			}
		},
	}

	return b.client.Connect(ctx, config, callbacks)
}

// SendAudio forwards one chunk of trainee audio.
func (b *VoiceBridge) SendAudio(pcm []byte) error {
	b.session.touch()
	return b.client.SendAudio(pcm)
}

// End closes the voice connection and completes the session, producing the
// final report.
func (b *VoiceBridge) End(ctx context.Context) (*reports.FinalReport, error) {
	if err := b.client.Close(); err != nil {
		logger.Warn("failed to close voice connection", "session_id", b.session.ID, "error", err)
	}
	return b.session.End(ctx)
}

// recordTurn appends one completed transcript through the session runtime.
// User turns additionally schedule phase-1 evaluation. NPC turns advance the
// persona's behavioral guidance via a mid-connection config update.
func (b *VoiceBridge) recordTurn(role TurnRole, content string) {
	if content == "" {
		return
	}

	s := b.session
	submitted := s.runtime.submit(context.Background(), func(ctx context.Context) {
		turn, err := s.appendTurn(role, content)
		if err != nil {
			logger.Warn("failed to record voice turn", "session_id", s.ID, "error", err)
			return
		}

		if role == TurnRoleUser {
			s.scheduleEvaluation(turn.TurnNumber)
			return
		}

		instructions := s.responder.Instructions(turn.TurnNumber + 1)
		if err := b.client.UpdateConfig(realtime.SessionConfig{Instructions: instructions}); err != nil {
			logger.Warn("failed to update voice instructions", "session_id", s.ID, "error", err)
		}
	})
	if !submitted {
		logger.Warn("dropping voice turn, session runtime closed", "session_id", s.ID)
	}
}
