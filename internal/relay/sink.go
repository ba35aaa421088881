package relay

import (
	"context"

	"github.com/danmuck/tendyrelay/internal/protocol/wire"
)

// FrameSink delivers one frame to the remote executor. Send returns only after
// the frame is accepted or refused; frames are never pipelined.
type FrameSink interface {
	Send(ctx context.Context, f wire.Frame) error
}

// SinkFunc adapts a function to FrameSink.
type SinkFunc func(ctx context.Context, f wire.Frame) error

func (fn SinkFunc) Send(ctx context.Context, f wire.Frame) error {
	return fn(ctx, f)
}
