package runtime

import (
	"time"

	loggingpkg "github.com/drblury/messageless/internal/runtime/logging"
	"github.com/drblury/messageless/internal/runtime/wire"
)

// DispatchInfo describes one inbound envelope to hooks.
type DispatchInfo struct {
	// Kind is empty when the payload could not be deserialized.
	Kind wire.Kind
	// RecipientKey is the service key of an invocation or the token of a callback.
	RecipientKey string
	// SenderPath is the node the envelope came from.
	SenderPath string
	// MessageID is the transport message id.
	MessageID string
	// TimedOut is set on synthetic timeout callbacks.
	TimedOut bool
	// StartedAt is when dispatch began.
	StartedAt time.Time
	// Duration is only set in OnDispatchDone and OnDispatchError.
	Duration time.Duration
}

func (i DispatchInfo) kindLabel() string {
	return kindLabel(i.Kind)
}

// DispatchHooks defines callbacks for the dispatch lifecycle.
// All hooks are optional - nil hooks are simply not called.
type DispatchHooks struct {
	// OnDispatchStart is called once the envelope was deserialized.
	OnDispatchStart func(info DispatchInfo)

	// OnDispatchDone is called when the envelope was handled, including
	// callbacks whose token was already consumed.
	OnDispatchDone func(info DispatchInfo)

	// OnDispatchError is called when dispatch failed or panicked.
	OnDispatchError func(info DispatchInfo, err error)
}

// Merge combines two DispatchHooks, creating a new DispatchHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: chainInfoHooks(h.OnDispatchStart, other.OnDispatchStart),
		OnDispatchDone:  chainInfoHooks(h.OnDispatchDone, other.OnDispatchDone),
		OnDispatchError: chainErrorHooks(h.OnDispatchError, other.OnDispatchError),
	}
}

func chainInfoHooks(a, b func(DispatchInfo)) func(DispatchInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo) {
		a(info)
		b(info)
	}
}

func chainErrorHooks(a, b func(DispatchInfo, error)) func(DispatchInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

// LoggingHooks returns pre-built hooks that log dispatch lifecycle events.
func LoggingHooks(logger loggingpkg.Logger) DispatchHooks {
	return DispatchHooks{
		OnDispatchStart: func(info DispatchInfo) {
			logger.Debug("Dispatch started", infoFields(info))
		},
		OnDispatchDone: func(info DispatchInfo) {
			fields := infoFields(info)
			fields["duration_ms"] = info.Duration.Milliseconds()
			logger.Info("Dispatch completed", fields)
		},
		OnDispatchError: func(info DispatchInfo, err error) {
			fields := infoFields(info)
			fields["duration_ms"] = info.Duration.Milliseconds()
			logger.Error("Dispatch failed", err, fields)
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on dispatch errors.
func AlertingHooks(alertFunc func(info DispatchInfo, err error)) DispatchHooks {
	return DispatchHooks{
		OnDispatchError: alertFunc,
	}
}

func infoFields(info DispatchInfo) loggingpkg.LogFields {
	return loggingpkg.LogFields{
		"kind":          info.kindLabel(),
		"recipient_key": info.RecipientKey,
		"sender_path":   info.SenderPath,
		"message_uuid":  info.MessageID,
		"timed_out":     info.TimedOut,
	}
}
