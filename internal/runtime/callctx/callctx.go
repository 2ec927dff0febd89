// Package callctx carries the ambient remote context through nested calls.
//
// Frames live in a context.Context, so a frame is visible exactly to the code
// that received the derived context and disappears with it on every exit path.
// Goroutines started without the derived context see no frame.
package callctx

import (
	"context"
	"time"

	"github.com/drblury/messageless/internal/runtime/wire"
)

type frameKey struct{}

type frame struct {
	rc     wire.RemoteContext
	parent *frame
	depth  int
}

// Option customises the frame pushed by Execute.
type Option func(*wire.RemoteContext)

// WithRemoteContext pushes a copy of rc.
func WithRemoteContext(rc wire.RemoteContext) Option {
	return func(c *wire.RemoteContext) {
		*c = rc
	}
}

// WithTimeout sets the callback timeout of the pushed frame.
func WithTimeout(d time.Duration) Option {
	return func(c *wire.RemoteContext) {
		c.Timeout = d
	}
}

// Execute runs action with a new frame on top of the stack carried by ctx.
func Execute(ctx context.Context, action func(context.Context) error, opts ...Option) error {
	if action == nil {
		return nil
	}
	return action(Push(ctx, opts...))
}

// Push returns a context carrying a new frame.
func Push(ctx context.Context, opts ...Option) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	var rc wire.RemoteContext
	for _, opt := range opts {
		if opt != nil {
			opt(&rc)
		}
	}
	parent := top(ctx)
	depth := 1
	if parent != nil {
		depth = parent.depth + 1
	}
	return context.WithValue(ctx, frameKey{}, &frame{rc: rc, parent: parent, depth: depth})
}

// Current returns a copy of the top frame, or nil when nothing was pushed.
func Current(ctx context.Context) *wire.RemoteContext {
	f := top(ctx)
	if f == nil {
		return nil
	}
	rc := f.rc
	return &rc
}

// Timeout returns the timeout of the top frame, zero when there is none.
func Timeout(ctx context.Context) time.Duration {
	if f := top(ctx); f != nil {
		return f.rc.Timeout
	}
	return 0
}

// Depth reports how many frames are stacked in ctx.
func Depth(ctx context.Context) int {
	if f := top(ctx); f != nil {
		return f.depth
	}
	return 0
}

func top(ctx context.Context) *frame {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(frameKey{}).(*frame)
	return f
}
