// Package sse maps persona token deltas onto the server-sent-events frame
// sequence used by text-mode sessions.
//
// Wire format: each frame is `data: <json>\n\n` where the JSON carries a
// `type` discriminator (npc_response, coach_tip, finish, error, done) and a
// content payload. One channel instance serves exactly one in-flight
// message: after the terminal done frame every further write is rejected.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

type FrameType string

const (
	FrameNPCResponse FrameType = "npc_response"
	FrameCoachTip    FrameType = "coach_tip"
	FrameFinish      FrameType = "finish"
	FrameError       FrameType = "error"
	FrameDone        FrameType = "done"
)

// Frame is the JSON payload of one SSE event.
type Frame struct {
	Type    FrameType `json:"type"`
	Delta   string    `json:"delta,omitempty"`
	Content string    `json:"content,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Channel writes the frame sequence for one in-flight message. Writes are
// serialized; the channel never panics or returns transport errors to the
// generation path - a failed write cancels the channel context instead so
// the upstream generation can be aborted.
type Channel struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	done    bool

	cancel context.CancelFunc
}

func NewChannel(w io.Writer) *Channel {
	c := &Channel{w: w}
	if flusher, ok := w.(http.Flusher); ok {
		c.flusher = flusher
	}
	return c
}

// Context derives a context that is cancelled as soon as a frame write
// fails, wiring client disconnect into upstream generation cancellation.
func (c *Channel) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	return ctx
}

// SendDelta relays one token chunk of the persona reply.
func (c *Channel) SendDelta(delta string) {
	c.write(Frame{Type: FrameNPCResponse, Delta: delta})
}

// SendCoachTip relays the train-mode coaching hint.
func (c *Channel) SendCoachTip(tip string) {
	c.write(Frame{Type: FrameCoachTip, Content: tip})
}

// SendFinish relays the generation finish reason.
func (c *Channel) SendFinish(reason string) {
	c.write(Frame{Type: FrameFinish, Reason: reason})
}

// SendError emits a single error frame followed by the terminal done frame.
// The channel accepts no further writes afterwards.
func (c *Channel) SendError(err error) {
	c.write(Frame{Type: FrameError, Message: err.Error()})
	c.SendDone()
}

// SendDone emits the terminal frame and seals the channel.
func (c *Channel) SendDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.writeLocked(Frame{Type: FrameDone})
	c.done = true
}

func (c *Channel) write(frame Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.writeLocked(frame)
}

func (c *Channel) writeLocked(frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}

	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", payload); err != nil {
		// The client is gone; abort the in-flight generation.
		c.done = true
		if c.cancel != nil {
			c.cancel()
		}
		return
	}
	if c.flusher != nil {
		c.flusher.Flush()
	}
}
