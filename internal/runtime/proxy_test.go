package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/messageless/internal/runtime/callctx"
	errspkg "github.com/drblury/messageless/internal/runtime/errors"
)

func TestInvokeRejectsUnsupportedMembers(t *testing.T) {
	pub := &testPublisher{}
	n := newOfflineNode(t, pub)
	proxy, err := ProxyFor[Counter](n, "node-b", "counter")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		args   []any
		want   error
	}{
		{name: "result value", method: "Count", want: errspkg.ErrUnsupportedOperation},
		{name: "callback with result", method: "Watch", args: []any{func(int) bool { return true }}, want: errspkg.ErrUnsupportedOperation},
		{name: "out parameter", method: "Feed", args: []any{make(chan int)}, want: errspkg.ErrUnsupportedOperation},
		{name: "callback behind any", method: "Tag", args: []any{func() {}}, want: errspkg.ErrUnsupportedOperation},
		{name: "unknown method", method: "Reset", want: errspkg.ErrMethodNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := proxy.Invoke(context.Background(), tt.method, tt.args...)
			require.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, pub.Topics())
	assert.Zero(t, n.PendingCallbacks())
	assert.Zero(t, n.Metrics().Snapshot().InvocationsSent)
}

func TestUnsupportedOperationNamesTheMember(t *testing.T) {
	n := newOfflineNode(t, &testPublisher{})
	proxy, err := ProxyFor[Counter](n, "node-b", "counter")
	require.NoError(t, err)

	err = counterStub{proxy: proxy}.Watch(func(int) bool { return false })

	var unsupported *errspkg.UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
	assert.Contains(t, unsupported.Member, "Counter.Watch")
}

func TestInvokeChecksArguments(t *testing.T) {
	pub := &testPublisher{}
	n := newOfflineNode(t, pub)
	proxy, err := ProxyFor[Greeter](n, "node-b", "greeter")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []any
		want error
	}{
		{name: "missing callback", args: []any{"ada"}, want: errspkg.ErrArgumentCount},
		{name: "too many", args: []any{"ada", nil, "extra"}, want: errspkg.ErrArgumentCount},
		{name: "wrong type", args: []any{42, nil}, want: errspkg.ErrArgumentType},
		{name: "nil string", args: []any{nil, nil}, want: errspkg.ErrArgumentType},
		{name: "wrong callback type", args: []any{"ada", func(string) {}}, want: errspkg.ErrArgumentType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, proxy.Invoke(context.Background(), "Greet", tt.args...), tt.want)
		})
	}

	assert.Empty(t, pub.Topics())
	assert.Zero(t, n.PendingCallbacks())
}

func TestInvokeConvertsNumericArguments(t *testing.T) {
	pub := &testPublisher{}
	n := newOfflineNode(t, pub)
	proxy, err := ProxyFor[Counter](n, "node-b", "counter")
	require.NoError(t, err)

	require.NoError(t, proxy.Invoke(context.Background(), "Add", 5))
	assert.Equal(t, []string{"node-b"}, pub.Topics())
}

func TestInvokeStoresCallbackAndPublishes(t *testing.T) {
	pub := &testPublisher{}
	n := newOfflineNode(t, pub)
	proxy, err := ProxyFor[Greeter](n, "node-b", "greeter")
	require.NoError(t, err)

	require.NoError(t, greeterStub{proxy: proxy}.Greet(context.Background(), "ada", (&replyRecorder{}).Func()))

	assert.Equal(t, []string{"node-b"}, pub.Topics())
	assert.Equal(t, 1, n.PendingCallbacks())
	assert.Zero(t, n.PendingTimeouts(), "no frame, no timeout")
	assert.Equal(t, uint64(1), n.Metrics().Snapshot().InvocationsSent)
}

func TestInvokeArmsTimeoutFromAmbientFrame(t *testing.T) {
	n := newOfflineNode(t, &testPublisher{})
	proxy, err := ProxyFor[Greeter](n, "node-b", "greeter")
	require.NoError(t, err)

	ctx := callctx.Push(context.Background(), callctx.WithTimeout(time.Minute))
	require.NoError(t, greeterStub{proxy: proxy}.Greet(ctx, "ada", (&replyRecorder{}).Func()))
	require.NoError(t, greeterStub{proxy: proxy}.Greet(ctx, "bob", nil))

	assert.Equal(t, 1, n.PendingCallbacks())
	assert.Equal(t, 1, n.PendingTimeouts())
}

func TestInvokeRollsBackOnSendFailure(t *testing.T) {
	pub := &testPublisher{err: errors.New("broker down")}
	n := newOfflineNode(t, pub)
	proxy, err := ProxyFor[Greeter](n, "node-b", "greeter")
	require.NoError(t, err)

	ctx := callctx.Push(context.Background(), callctx.WithTimeout(time.Minute))
	err = greeterStub{proxy: proxy}.Greet(ctx, "ada", (&replyRecorder{}).Func())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	assert.Zero(t, n.PendingCallbacks())
	assert.Zero(t, n.PendingTimeouts())
	assert.Zero(t, n.Metrics().Snapshot().InvocationsSent)
}

func TestInvokeRequiresRecipientPath(t *testing.T) {
	n := newOfflineNode(t, &testPublisher{})
	proxy, err := ProxyFor[Greeter](n, "node-b", "greeter")
	require.NoError(t, err)

	err = greeterStub{proxy: proxy.At("")}.Greet(context.Background(), "ada", nil)
	require.ErrorIs(t, err, errspkg.ErrRecipientPathRequired)
}

func TestProxyAtKeepsOriginal(t *testing.T) {
	n := newOfflineNode(t, &testPublisher{})
	proxy, err := ProxyFor[Greeter](n, "node-b", "greeter")
	require.NoError(t, err)

	moved := proxy.At("node-c")

	assert.Equal(t, "node-b", proxy.RecipientPath())
	assert.Equal(t, "node-c", moved.RecipientPath())
	assert.Equal(t, "greeter", moved.RecipientKey())
	assert.Equal(t, proxy.Interface(), moved.Interface())
}

func TestInvokeAfterCloseFails(t *testing.T) {
	pub := &testPublisher{}
	n := newOfflineNode(t, pub)
	proxy, err := ProxyFor[Greeter](n, "node-b", "greeter")
	require.NoError(t, err)
	require.NoError(t, n.Close())

	err = greeterStub{proxy: proxy}.Greet(context.Background(), "ada", (&replyRecorder{}).Func())
	require.ErrorIs(t, err, errspkg.ErrNodeClosed)
	assert.Zero(t, n.PendingCallbacks())
	assert.Empty(t, pub.Topics())
}

func TestCallbackStubReportsSendFailure(t *testing.T) {
	pub := &testPublisher{}
	n := newOfflineNode(t, pub)

	stub := n.newCallbackStub(errorCallbackType, "node-a", "token-1").Interface().(func(context.Context, string) error)
	require.NoError(t, stub(context.Background(), "first"))
	assert.Equal(t, []string{"node-a"}, pub.Topics())
	assert.Equal(t, uint64(1), n.Metrics().Snapshot().CallbacksSent)

	require.NoError(t, n.Close())
	require.ErrorIs(t, stub(context.Background(), "second"), errspkg.ErrNodeClosed)
}

func TestCallbackStubWithoutErrorResultLogsFailure(t *testing.T) {
	logger := &recordingLogger{}
	pub := &testPublisher{err: errors.New("broker down")}
	n := newOfflineNode(t, pub)
	n.Logger = logger

	stub := n.newCallbackStub(replyCallbackType, "node-a", "token-1").Interface().(func(context.Context, string))
	stub(context.Background(), "lost")

	var logged bool
	for _, e := range logger.Entries() {
		if e.level == "error" && e.msg == "Failed to send callback" {
			logged = true
			assert.Equal(t, "token-1", e.fields["token"])
		}
	}
	assert.True(t, logged)
}
