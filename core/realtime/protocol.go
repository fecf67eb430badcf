package realtime

// Vendor realtime speech protocol: JSON text frames over a websocket. Every
// client frame carries a generated event_id and a type; server frames carry
// a type plus a payload (base64 audio deltas, transcripts, or an error).

const (
	// client -> server
	eventTypeSessionUpdate    = "session.update"
	eventTypeInputAudioAppend = "input_audio_buffer.append"
	eventTypeInputAudioCommit = "input_audio_buffer.commit"
	eventTypeResponseCreate   = "response.create"
	eventTypeResponseCancel   = "response.cancel"

	// server -> client
	eventTypeSessionCreated          = "session.created"
	eventTypeSessionUpdated          = "session.updated"
	eventTypeSpeechStarted           = "input_audio_buffer.speech_started"
	eventTypeSpeechStopped           = "input_audio_buffer.speech_stopped"
	eventTypeInputTranscriptComplete = "conversation.item.input_audio_transcription.completed"
	eventTypeResponseCreated         = "response.created"
	eventTypeResponseAudioDelta      = "response.audio.delta"
	eventTypeResponseTextDelta       = "response.audio_transcript.delta"
	eventTypeResponseTextDone        = "response.audio_transcript.done"
	eventTypeResponseDone            = "response.done"
	eventTypeError                   = "error"
)

type clientEvent struct {
	EventID    string         `json:"event_id"`
	Type       string         `json:"type"`
	Session    *SessionConfig `json:"session,omitempty"`
	Audio      string         `json:"audio,omitempty"`
	ResponseID string         `json:"response_id,omitempty"`
}

type serverEvent struct {
	Type       string         `json:"type"`
	EventID    string         `json:"event_id,omitempty"`
	ResponseID string         `json:"response_id,omitempty"`
	Delta      string         `json:"delta,omitempty"`
	Transcript string         `json:"transcript,omitempty"`
	Session    *SessionConfig `json:"session,omitempty"`
	Response   *responseRef   `json:"response,omitempty"`
	Error      *serverError   `json:"error,omitempty"`
}

type responseRef struct {
	ID string `json:"id"`
}

type serverError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// SessionConfig is the mutable per-connection voice session configuration.
// It is created at connect time, may be updated mid-connection, and is
// destroyed on disconnect; it is not resumable across reconnects.
type SessionConfig struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	TurnDetection     *TurnDetection `json:"turn_detection,omitempty"`
}

// TurnDetection configures the server-side VAD that delimits user turns.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	// CreateResponse controls whether the server autonomously begins a
	// response after speech stops. Nil means the vendor default (true).
	CreateResponse *bool `json:"create_response,omitempty"`
}

// DefaultSessionConfig returns the baseline voice configuration: PCM16 16kHz
// mono in, PCM24 out, server VAD turn detection.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:        []string{"audio", "text"},
		Voice:             "alloy",
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm24",
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			SilenceDurationMs: 500,
		},
	}
}
