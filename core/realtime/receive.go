package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/roleplaylabs/drill-core/core/fault"
)

// readLoop is the connection's single perpetual receive task. Every inbound
// frame is processed inline, strictly in arrival order; barge-in depends on
// this: the cancel frame for an interrupted response is written before any
// later frame is looked at.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.teardown(nil)
				return
			}
			c.teardown(fault.Transport(err, "realtime connection lost"))
			return
		}

		c.processFrame(msg)
	}
}

func (c *Client) processFrame(msg []byte) {
	var event serverEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		c.mu.Lock()
		onError := c.callbacks.OnError
		c.mu.Unlock()
		if onError != nil {
			onError(fault.Transport(err, "malformed server frame"))
		}
		return
	}

	// Mutate connection state under the lock, then run the collected
	// callbacks outside it so they may call back into the client.
	var fire []func()

	c.mu.Lock()
	callbacks := c.callbacks
	switch event.Type {
	case eventTypeSessionCreated:
		// The handshake is only complete once session.updated acknowledges
		// our configuration.

	case eventTypeSessionUpdated:
		if c.state == StateConnected {
			c.state = StateConfigured
		}
		if event.Session != nil {
			c.config = *event.Session
		}
		if callbacks.OnConfigured != nil {
			config := c.config
			fire = append(fire, func() { callbacks.OnConfigured(config) })
		}

	case eventTypeSpeechStarted:
		// Barge-in: cancel the in-flight response before anything else and
		// discard every later frame tagged with its id.
		responseID := c.activeResponseID
		_, alreadyCancelled := c.cancelled[responseID]
		if err := c.cancelActiveResponseLocked(); err != nil && callbacks.OnError != nil {
			fire = append(fire, func() { callbacks.OnError(err) })
		} else if responseID != "" && !alreadyCancelled && callbacks.OnResponseCancelled != nil {
			fire = append(fire, func() { callbacks.OnResponseCancelled(responseID) })
		}
		c.state = StateListening
		if callbacks.OnSpeechStarted != nil {
			fire = append(fire, callbacks.OnSpeechStarted)
		}

	case eventTypeSpeechStopped:
		if callbacks.OnSpeechStopped != nil {
			fire = append(fire, callbacks.OnSpeechStopped)
		}

	case eventTypeInputTranscriptComplete:
		if callbacks.OnUserTranscript != nil {
			transcript := event.Transcript
			fire = append(fire, func() { callbacks.OnUserTranscript(transcript) })
		}

	case eventTypeResponseCreated:
		if event.Response != nil {
			c.activeResponseID = event.Response.ID
			c.transcripts[event.Response.ID] = ""
			c.state = StateSpeaking
		}

	case eventTypeResponseAudioDelta:
		responseID := event.ResponseID
		if _, dropped := c.cancelled[responseID]; dropped {
			break
		}
		audio, err := base64.StdEncoding.DecodeString(event.Delta)
		if err != nil {
			if callbacks.OnError != nil {
				decodeErr := fault.Transport(err, "malformed audio delta")
				fire = append(fire, func() { callbacks.OnError(decodeErr) })
			}
			break
		}
		if callbacks.OnAudioDelta != nil {
			fire = append(fire, func() { callbacks.OnAudioDelta(responseID, audio) })
		}

	case eventTypeResponseTextDelta:
		responseID := event.ResponseID
		if _, dropped := c.cancelled[responseID]; dropped {
			break
		}
		c.transcripts[responseID] += event.Delta
		if callbacks.OnResponseTextDelta != nil {
			delta := event.Delta
			fire = append(fire, func() { callbacks.OnResponseTextDelta(responseID, delta) })
		}

	case eventTypeResponseTextDone:
		responseID := event.ResponseID
		if _, dropped := c.cancelled[responseID]; dropped {
			break
		}
		if event.Transcript != "" {
			c.transcripts[responseID] = event.Transcript
		}

	case eventTypeResponseDone:
		responseID := event.ResponseID
		if responseID == "" && event.Response != nil {
			responseID = event.Response.ID
		}
		transcript := c.transcripts[responseID]
		delete(c.transcripts, responseID)
		_, wasCancelled := c.cancelled[responseID]
		if responseID == c.activeResponseID {
			c.activeResponseID = ""
			c.state = StateListening
		}
		if !wasCancelled && callbacks.OnResponseDone != nil {
			fire = append(fire, func() { callbacks.OnResponseDone(responseID, transcript) })
		}

	case eventTypeError:
		if callbacks.OnError != nil && event.Error != nil {
			message := event.Error.Message
			fire = append(fire, func() { callbacks.OnError(errors.New(message)) })
		}

	default:
		logger.Debug("ignoring unknown server frame", "type", event.Type)
	}
	c.mu.Unlock()

	for _, callback := range fire {
		callback()
	}
}
