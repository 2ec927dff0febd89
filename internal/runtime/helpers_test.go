package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/messageless/internal/runtime/config"
	loggingpkg "github.com/drblury/messageless/internal/runtime/logging"
	transportpkg "github.com/drblury/messageless/internal/runtime/transport"
	"github.com/drblury/messageless/transport"
	"github.com/drblury/messageless/transport/channel"
)

const eventually = 5 * time.Second

func newTestLogger() loggingpkg.Logger {
	return loggingpkg.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func newTestHub(t *testing.T) *channel.Hub {
	t.Helper()
	hub := channel.NewHub(watermill.NopLogger{})
	t.Cleanup(func() { _ = hub.Close() })
	return hub
}

type nodeOption func(conf *configpkg.Config, deps *NodeDependencies)

func withPoisonQueue(topic string) nodeOption {
	return func(conf *configpkg.Config, _ *NodeDependencies) { conf.PoisonQueue = topic }
}

func withSerializer(name string) nodeOption {
	return func(conf *configpkg.Config, _ *NodeDependencies) { conf.Serializer = name }
}

func withMetrics() nodeOption {
	return func(conf *configpkg.Config, _ *NodeDependencies) { conf.MetricsEnabled = true }
}

func withHooks(hooks DispatchHooks) nodeOption {
	return func(_ *configpkg.Config, deps *NodeDependencies) { deps.Hooks = deps.Hooks.Merge(hooks) }
}

func withMiddleware(reg MiddlewareRegistration) nodeOption {
	return func(_ *configpkg.Config, deps *NodeDependencies) { deps.Middlewares = append(deps.Middlewares, reg) }
}

func withTransport(tr transport.Transport, caps transport.Capabilities) nodeOption {
	return func(_ *configpkg.Config, deps *NodeDependencies) {
		deps.TransportFactory = transportpkg.BuilderFactory(func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
			return tr, nil
		}, caps)
	}
}

// newTestNode builds a node on hub without starting it.
func newTestNode(t *testing.T, hub *channel.Hub, path string, opts ...nodeOption) *Node {
	t.Helper()
	conf := &configpkg.Config{LocalPath: path, PubSubSystem: channel.TransportName}
	deps := NodeDependencies{MetricsRegisterer: prometheus.NewRegistry()}
	if hub != nil {
		deps.TransportFactory = transportpkg.BuilderFactory(hub.Builder(), transport.ChannelCapabilities)
	}
	for _, opt := range opts {
		opt(conf, &deps)
	}

	n, err := TryNewNode(conf, newTestLogger(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func startNode(t *testing.T, n *Node) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = n.Start(ctx) }()
	select {
	case <-n.Running():
	case <-time.After(eventually):
		t.Fatalf("node %s did not start", n.LocalPath())
	}
}

func startedNode(t *testing.T, hub *channel.Hub, path string, opts ...nodeOption) *Node {
	t.Helper()
	n := newTestNode(t, hub, path, opts...)
	startNode(t, n)
	return n
}

type testPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for range messages {
		p.published = append(p.published, topic)
	}
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]string, len(p.published))
	copy(clone, p.published)
	return clone
}

type testSubscriber struct{}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

// newOfflineNode builds a node whose envelopes are recorded instead of delivered.
func newOfflineNode(t *testing.T, pub *testPublisher, opts ...nodeOption) *Node {
	t.Helper()
	opts = append([]nodeOption{withTransport(transport.Transport{Publisher: pub, Subscriber: &testSubscriber{}}, transport.ChannelCapabilities)}, opts...)
	return newTestNode(t, nil, "offline", opts...)
}

type loggedEntry struct {
	level  string
	msg    string
	fields loggingpkg.LogFields
	err    error
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []loggedEntry
}

func (r *recordingLogger) record(e loggedEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingLogger) With(loggingpkg.LogFields) loggingpkg.Logger { return r }

func (r *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	r.record(loggedEntry{level: "debug", msg: msg, fields: fields})
}

func (r *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	r.record(loggedEntry{level: "info", msg: msg, fields: fields})
}

func (r *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.record(loggedEntry{level: "error", msg: msg, fields: fields, err: err})
}

func (r *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	r.record(loggedEntry{level: "trace", msg: msg, fields: fields})
}

func (r *recordingLogger) Entries() []loggedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]loggedEntry(nil), r.entries...)
}
