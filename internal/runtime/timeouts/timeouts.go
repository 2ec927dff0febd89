// Package timeouts races pending callbacks against a deadline.
package timeouts

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/drblury/messageless/internal/runtime/callctx"
	"github.com/drblury/messageless/internal/runtime/logging"
	"github.com/drblury/messageless/internal/runtime/methods"
	"github.com/drblury/messageless/internal/runtime/wire"
)

// Sender is the local send path the synthetic timeout messages go through.
type Sender interface {
	LocalPath() string
	Send(ctx context.Context, env wire.Envelope) error
}

// Option customises a Manager.
type Option func(*Manager)

// WithFiredHook registers fn to run after a timeout message was sent.
func WithFiredHook(fn func(token string)) Option {
	return func(m *Manager) {
		m.onFired = fn
	}
}

// Manager schedules one self-addressed timeout message per callback token.
// The pending record is removed by whoever gets to it first: Dismiss, or the
// timer itself. The timer only sends when it removed the record.
type Manager struct {
	sender     Sender
	serializer wire.Serializer
	logger     logging.Logger
	onFired    func(token string)

	mu      sync.Mutex
	pending map[string]*record
	closed  bool
}

// record is one armed timeout. A timer only acts on the record it was
// created for, so a rescheduled token is never fired by its old timer.
type record struct {
	timer *time.Timer
}

// NewManager creates a Manager that sends through sender.
func NewManager(sender Sender, serializer wire.Serializer, logger logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	m := &Manager{
		sender:     sender,
		serializer: serializer,
		logger:     logger,
		pending:    make(map[string]*record),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Schedule starts the timeout for token when the ambient frame in ctx carries
// a non-zero timeout. It reports whether a timer was started.
func (m *Manager) Schedule(ctx context.Context, token string, callbackType reflect.Type) bool {
	timeout := callctx.Timeout(ctx)
	if timeout <= 0 {
		return false
	}
	arity := methods.WireArity(callbackType)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if previous, ok := m.pending[token]; ok {
		previous.timer.Stop()
	}
	// The timer body takes m.mu, so it cannot observe the map before the
	// record below is in place.
	rec := &record{}
	rec.timer = time.AfterFunc(timeout, func() {
		m.fire(token, rec, timeout, arity)
	})
	m.pending[token] = rec
	return true
}

// Dismiss cancels the timeout for token. It is idempotent and reports whether
// a pending timeout was removed.
func (m *Manager) Dismiss(token string) bool {
	m.mu.Lock()
	rec, ok := m.pending[token]
	delete(m.pending, token)
	m.mu.Unlock()

	if ok {
		rec.timer.Stop()
	}
	return ok
}

// Pending reports how many timeouts are armed.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close stops every armed timer. Later Schedule calls are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for token, rec := range m.pending {
		rec.timer.Stop()
		delete(m.pending, token)
	}
}

func (m *Manager) fire(token string, rec *record, timeout time.Duration, arity int) {
	m.mu.Lock()
	if m.pending[token] != rec {
		m.mu.Unlock()
		return
	}
	delete(m.pending, token)
	m.mu.Unlock()

	local := m.sender.LocalPath()
	fields := logging.LogFields{"token": token, "timeout": timeout.String()}

	payload, err := m.serializer.Serialize(&wire.CallbackMessage{
		Context: wire.RemoteContext{
			RecipientPath: local,
			RecipientKey:  token,
			SenderPath:    local,
			Timeout:       timeout,
			TimedOut:      true,
		},
		Arguments: wire.NullArguments(arity),
	})
	if err != nil {
		m.logger.Error("Failed to serialize timeout message", err, fields)
		return
	}

	if err := m.sender.Send(context.Background(), wire.Envelope{
		Payload:       payload,
		RecipientPath: local,
		SenderPath:    local,
	}); err != nil {
		m.logger.Error("Failed to send timeout message", err, fields)
		return
	}

	m.logger.Debug("Callback timed out", fields)
	if m.onFired != nil {
		m.onFired(token)
	}
}
