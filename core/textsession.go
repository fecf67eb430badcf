package engine

import (
	"context"

	"github.com/roleplaylabs/drill-core/core/sse"
)

// StreamStart runs Start with the opening line relayed over an SSE channel.
// The channel is sealed with a done frame on success, or an error frame
// followed by done on failure.
func (s *Session) StreamStart(ctx context.Context, channel *sse.Channel) error {
	ctx = channel.Context(ctx)

	err := s.Start(ctx,
		WithDeltaCallback(channel.SendDelta),
		WithFinishCallback(channel.SendFinish),
	)
	if err != nil {
		channel.SendError(err)
		return err
	}
	channel.SendDone()
	return nil
}

// StreamMessage runs SendMessage with its callbacks wired to an SSE channel.
// A client disconnect cancels the upstream generation through the channel's
// context; any failure becomes a single error frame followed by done, never
// a panic or a half-open stream.
func (s *Session) StreamMessage(ctx context.Context, channel *sse.Channel, content string) error {
	ctx = channel.Context(ctx)

	err := s.SendMessage(ctx, content,
		WithDeltaCallback(channel.SendDelta),
		WithFinishCallback(channel.SendFinish),
		WithCoachTipCallback(channel.SendCoachTip),
	)
	if err != nil {
		channel.SendError(err)
		return err
	}
	channel.SendDone()
	return nil
}
