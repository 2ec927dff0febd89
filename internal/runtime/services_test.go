package runtime

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"sync"

	"github.com/drblury/messageless/internal/runtime/callctx"
	"github.com/drblury/messageless/internal/runtime/wire"
)

// Greeter answers through its reply callback.
type Greeter interface {
	Greet(ctx context.Context, name string, reply func(ctx context.Context, greeting string)) error
}

var (
	replyCallbackType = reflect.TypeFor[func(context.Context, string)]()
	errorCallbackType = reflect.TypeFor[func(context.Context, string) error]()
)

type greeterStub struct{ proxy *Proxy }

func (s greeterStub) Greet(ctx context.Context, name string, reply func(ctx context.Context, greeting string)) error {
	return s.proxy.Invoke(ctx, "Greet", name, reply)
}

type greeterMode int

const (
	replyOnce greeterMode = iota
	replyTwice
	holdReply
)

type greeterService struct {
	mode greeterMode

	mu      sync.Mutex
	calls   []string
	remotes []wire.RemoteContext
	nilCbs  int
	held    []func(ctx context.Context, greeting string)
}

func (g *greeterService) Greet(ctx context.Context, name string, reply func(ctx context.Context, greeting string)) error {
	g.mu.Lock()
	g.calls = append(g.calls, name)
	if rc := callctx.Current(ctx); rc != nil {
		g.remotes = append(g.remotes, *rc)
	}
	if reply == nil {
		g.nilCbs++
		g.mu.Unlock()
		return nil
	}
	if g.mode == holdReply {
		g.held = append(g.held, reply)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	switch name {
	case "panic":
		panic("greeter exploded")
	case "fail":
		return errors.New("greeter failed")
	}

	reply(ctx, "hello "+name)
	if g.mode == replyTwice {
		reply(ctx, "hello again "+name)
	}
	return nil
}

func (g *greeterService) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *greeterService) Remotes() []wire.RemoteContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]wire.RemoteContext(nil), g.remotes...)
}

func (g *greeterService) NilCallbacks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nilCbs
}

func (g *greeterService) Held() []func(ctx context.Context, greeting string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.held)
}

// reply records every callback invocation together with its ambient context.
type replyRecorder struct {
	mu      sync.Mutex
	replies []recordedReply
}

type recordedReply struct {
	greeting string
	timedOut bool
}

func (r *replyRecorder) Func() func(ctx context.Context, greeting string) {
	return func(ctx context.Context, greeting string) {
		rec := recordedReply{greeting: greeting}
		if rc := callctx.Current(ctx); rc != nil {
			rec.timedOut = rc.TimedOut
		}
		r.mu.Lock()
		r.replies = append(r.replies, rec)
		r.mu.Unlock()
	}
}

func (r *replyRecorder) Replies() []recordedReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedReply(nil), r.replies...)
}

func (r *replyRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies)
}

// Relay passes a chain of callbacks back and forth between two nodes.
type Relay interface {
	Start(ctx context.Context, step func(ctx context.Context, n int, next func(ctx context.Context, n int, last func(ctx context.Context, n int))))
}

type relayStub struct{ proxy *Proxy }

func (s relayStub) Start(ctx context.Context, step func(ctx context.Context, n int, next func(ctx context.Context, n int, last func(ctx context.Context, n int)))) error {
	return s.proxy.Invoke(ctx, "Start", step)
}

type relayService struct {
	mu   sync.Mutex
	seen []int
}

func (r *relayService) Start(ctx context.Context, step func(ctx context.Context, n int, next func(ctx context.Context, n int, last func(ctx context.Context, n int)))) {
	step(ctx, 1, func(ctx context.Context, n int, last func(ctx context.Context, n int)) {
		r.mu.Lock()
		r.seen = append(r.seen, n)
		r.mu.Unlock()
		last(ctx, n+1)
	})
}

func (r *relayService) Seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.seen...)
}

// Counter is not remotable: Count has a result.
type Counter interface {
	Count() int
	Watch(done func(total int) bool)
	Feed(items chan<- int)
	Tag(value any)
	Total(values []int64, done func(sum int64))
	Add(delta int64)
}

type counterStub struct{ proxy *Proxy }

func (s counterStub) Watch(done func(total int) bool) error {
	return s.proxy.Invoke(context.Background(), "Watch", done)
}

type counterService struct {
	mu     sync.Mutex
	totals []int64
	added  int64
}

func (c *counterService) Count() int                { return 0 }
func (c *counterService) Watch(func(total int) bool) {}
func (c *counterService) Feed(chan<- int)            {}
func (c *counterService) Tag(any)                    {}

func (c *counterService) Total(values []int64, done func(sum int64)) {
	var sum int64
	for _, v := range values {
		sum += v
	}
	c.mu.Lock()
	c.totals = append(c.totals, sum)
	c.mu.Unlock()
	if done != nil {
		done(sum)
	}
}

func (c *counterService) Add(delta int64) {
	c.mu.Lock()
	c.added += delta
	c.mu.Unlock()
}

func (c *counterService) Added() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.added
}
