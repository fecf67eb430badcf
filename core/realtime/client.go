// Package realtime implements the websocket client side of the vendor
// full-duplex voice protocol: the session-configuration handshake, base64
// PCM16 input framing, server-VAD turn boundaries, and barge-in
// cancellation of in-flight responses.
package realtime

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jinzhu/copier"
	"github.com/roleplaylabs/drill-core/core/fault"
	"github.com/roleplaylabs/drill-core/internal/utils"
)

// State is the connection state. Audio is only accepted once the
// configuration handshake has completed.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateConfigured   State = "configured"
	StateListening    State = "listening"
	StateSpeaking     State = "speaking"
)

const defaultPingInterval = 20 * time.Second

// Callbacks are invoked from the connection's single receive loop, strictly
// in frame arrival order. They must not block; blocking a callback blocks
// the whole connection.
type Callbacks struct {
	// OnConfigured fires when the session-configuration handshake (or a
	// later config update) is acknowledged.
	OnConfigured func(config SessionConfig)
	// OnSpeechStarted fires when the server VAD detects user speech.
	OnSpeechStarted func()
	// OnSpeechStopped fires when the server VAD detects the end of a user
	// turn.
	OnSpeechStopped func()
	// OnUserTranscript fires with the completed transcript of a user turn.
	OnUserTranscript func(transcript string)
	// OnAudioDelta fires for each outbound persona audio frame (PCM24),
	// already filtered of cancelled responses.
	OnAudioDelta func(responseID string, audio []byte)
	// OnResponseTextDelta fires for each transcript delta of an in-flight
	// response.
	OnResponseTextDelta func(responseID string, delta string)
	// OnResponseDone fires with the full transcript once a response
	// completes uncancelled.
	OnResponseDone func(responseID string, transcript string)
	// OnResponseCancelled fires when barge-in cancels an in-flight response.
	OnResponseCancelled func(responseID string)
	// OnError fires for protocol-level error frames. The connection stays
	// up.
	OnError func(err error)
	// OnDisconnected fires exactly once when the receive loop exits. A nil
	// error means an orderly close.
	OnDisconnected func(err error)
}

// Client is a websocket client of the vendor realtime speech protocol. One
// client serves one connection at a time; Connect may be called again after
// a disconnect, which invalidates all previously known response ids and
// performs a fresh configuration handshake.
type Client struct {
	url    string
	dialer *websocket.Dialer
	header http.Header

	// manualTurns disables autonomous response creation after speech stops;
	// the caller commits the buffer and creates responses explicitly.
	manualTurns  bool
	pingInterval time.Duration

	mu               sync.Mutex
	conn             *websocket.Conn
	state            State
	config           SessionConfig
	callbacks        Callbacks
	activeResponseID string
	// transcripts accumulates audio-transcript deltas per in-flight
	// response id.
	transcripts map[string]string
	// cancelled holds response ids whose remaining frames must be
	// discarded.
	cancelled map[string]struct{}
	closeCh   chan struct{}
	closeOnce *sync.Once
}

type ClientOption func(*Client)

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = dialer }
}

func WithHeader(header http.Header) ClientOption {
	return func(c *Client) { c.header = header }
}

// WithManualTurns switches the client to explicit commit + create-response
// turn control instead of server-initiated responses.
func WithManualTurns() ClientOption {
	return func(c *Client) { c.manualTurns = true }
}

func WithPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) { c.pingInterval = interval }
}

func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:          url,
		dialer:       websocket.DefaultDialer,
		state:        StateDisconnected,
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the vendor endpoint and immediately issues the
// session-configuration handshake. The connection only accepts audio once
// the handshake is acknowledged (see Callbacks.OnConfigured).
func (c *Client) Connect(ctx context.Context, config SessionConfig, callbacks Callbacks) error {
	ctx, span := tracer.Start(ctx, "connect realtime session")
	defer span.End()

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fault.State("connect invalid in state %s", c.state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		err = fault.Transport(err, "failed to dial realtime endpoint")
		span.RecordError(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.config = config
	c.callbacks = callbacks
	c.activeResponseID = ""
	c.transcripts = map[string]string{}
	c.cancelled = map[string]struct{}{}
	c.closeCh = make(chan struct{})
	c.closeOnce = &sync.Once{}

	if c.manualTurns && c.config.TurnDetection != nil {
		c.config.TurnDetection.CreateResponse = utils.Ptr(false)
	}

	err = c.writeEventLocked(clientEvent{Type: eventTypeSessionUpdate, Session: &c.config})
	closeCh := c.closeCh
	c.mu.Unlock()

	if err != nil {
		c.teardown(err)
		span.RecordError(err)
		return err
	}

	go c.readLoop(conn)
	go c.pingLoop(conn, closeCh)
	return nil
}

// SendAudio appends one chunk of input audio (PCM16, 16kHz mono) to the
// server-side buffer. It fails with a state error until the configuration
// handshake has completed.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConfigured, StateListening, StateSpeaking:
	default:
		return fault.State("audio rejected before session configuration completes (state %s)", c.state)
	}

	return c.writeEventLocked(clientEvent{
		Type:  eventTypeInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Commit closes the current input audio segment in manual turn mode.
func (c *Client) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.manualTurns {
		return fault.State("commit is only valid in manual turn mode")
	}
	return c.writeEventLocked(clientEvent{Type: eventTypeInputAudioCommit})
}

// CreateResponse requests a persona response in manual turn mode.
func (c *Client) CreateResponse() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.manualTurns {
		return fault.State("create-response is only valid in manual turn mode")
	}
	return c.writeEventLocked(clientEvent{Type: eventTypeResponseCreate})
}

// CancelResponse cancels the in-flight response, if any. Remaining audio
// frames for it are discarded.
func (c *Client) CancelResponse() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelActiveResponseLocked()
}

func (c *Client) cancelActiveResponseLocked() error {
	if c.activeResponseID == "" {
		return nil
	}
	if _, done := c.cancelled[c.activeResponseID]; done {
		return nil
	}

	c.cancelled[c.activeResponseID] = struct{}{}
	return c.writeEventLocked(clientEvent{
		Type:       eventTypeResponseCancel,
		ResponseID: c.activeResponseID,
	})
}

// UpdateConfig merges the non-zero fields of updates into the current
// session configuration and pushes it to the server without tearing down
// the socket.
func (c *Client) UpdateConfig(updates SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConfigured, StateListening, StateSpeaking:
	default:
		return fault.State("config update invalid in state %s", c.state)
	}

	merged := SessionConfig{}
	if err := copier.CopyWithOption(&merged, &c.config, copier.Option{DeepCopy: true}); err != nil {
		return fault.Transport(err, "failed to snapshot session config")
	}
	if err := copier.CopyWithOption(&merged, &updates, copier.Option{IgnoreEmpty: true, DeepCopy: true}); err != nil {
		return fault.Transport(err, "failed to merge session config update")
	}

	c.config = merged
	return c.writeEventLocked(clientEvent{Type: eventTypeSessionUpdate, Session: &merged})
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close performs an orderly shutdown of the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.teardown(nil)
	return nil
}

func (c *Client) writeEventLocked(event clientEvent) error {
	if c.conn == nil {
		return fault.State("not connected")
	}
	event.EventID = uuid.NewString()
	if err := c.conn.WriteJSON(event); err != nil {
		return fault.Transport(err, "failed to write %s frame", event.Type)
	}
	return nil
}

// teardown closes the connection once and reports the disconnect reason.
// State held for the connection (config, response ids) is destroyed; a
// subsequent Connect starts from scratch.
func (c *Client) teardown(err error) {
	c.mu.Lock()
	closeOnce := c.closeOnce
	c.mu.Unlock()
	if closeOnce == nil {
		return
	}

	closeOnce.Do(func() {
		c.mu.Lock()
		if c.closeCh != nil {
			close(c.closeCh)
		}
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.state = StateDisconnected
		c.config = SessionConfig{}
		c.activeResponseID = ""
		onDisconnected := c.callbacks.OnDisconnected
		c.mu.Unlock()

		if onDisconnected != nil {
			onDisconnected(err)
		}
	})
}

func (c *Client) pingLoop(conn *websocket.Conn, closeCh chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closeCh:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				logger.Warn("failed to ping realtime endpoint", "error", err)
				return
			}
		}
	}
}
