package runtime

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/drblury/messageless/internal/runtime/callctx"
	errspkg "github.com/drblury/messageless/internal/runtime/errors"
	loggingpkg "github.com/drblury/messageless/internal/runtime/logging"
	"github.com/drblury/messageless/internal/runtime/methods"
	"github.com/drblury/messageless/internal/runtime/wire"
)

// Dispatcher routes inbound envelopes to registered services and pending
// callbacks.
type Dispatcher struct {
	node *Node
}

func newDispatcher(n *Node) *Dispatcher {
	return &Dispatcher{node: n}
}

// Dispatch handles one envelope. Failures and panics come back as a
// *errors.DispatchError; a callback whose token is unknown is not a failure.
func (d *Dispatcher) Dispatch(ctx context.Context, env wire.Envelope) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	info := DispatchInfo{
		MessageID:  env.ID,
		SenderPath: env.SenderPath,
		StartedAt:  time.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.DispatchError{Kind: info.kindLabel(), Key: info.RecipientKey, Err: fmt.Errorf("panic: %v", r)}
		}
		info.Duration = time.Since(info.StartedAt)
		if err != nil {
			d.node.metrics.DispatchFailed(info.Kind, info.Duration)
			if d.node.hooks.OnDispatchError != nil {
				d.node.hooks.OnDispatchError(info, err)
			}
			return
		}
		d.node.metrics.Dispatched(info.Kind, info.Duration)
		if d.node.hooks.OnDispatchDone != nil {
			d.node.hooks.OnDispatchDone(info)
		}
	}()

	msg, err := d.node.serializer.Deserialize(env.Payload)
	if err != nil {
		return &errspkg.DispatchError{Kind: info.kindLabel(), Err: err}
	}

	rc := msg.Remote()
	rc.SenderPath = env.SenderPath
	info.Kind = msg.Kind()
	info.RecipientKey = rc.RecipientKey
	info.TimedOut = rc.TimedOut

	if d.node.hooks.OnDispatchStart != nil {
		d.node.hooks.OnDispatchStart(info)
	}

	switch m := msg.(type) {
	case *wire.InvocationMessage:
		err = d.dispatchInvocation(ctx, m)
	case *wire.CallbackMessage:
		err = d.dispatchCallback(ctx, m)
	default:
		err = fmt.Errorf("%w: %T", errspkg.ErrUnknownMessage, msg)
	}
	if err != nil {
		return &errspkg.DispatchError{Kind: info.kindLabel(), Key: info.RecipientKey, Err: err}
	}
	return nil
}

func (d *Dispatcher) dispatchInvocation(ctx context.Context, msg *wire.InvocationMessage) error {
	iface, method, err := d.node.table.Lookup(msg.Method)
	if err != nil {
		return err
	}
	member := msg.Method.String()
	if err := methods.Validate(member, method.Type); err != nil {
		return err
	}

	instance, err := d.node.resolver.Resolve(msg.Context.RecipientKey, iface)
	if err != nil {
		return err
	}
	target := reflect.ValueOf(instance).MethodByName(method.Name)
	if !target.IsValid() {
		return fmt.Errorf("%w: %s on %T", errspkg.ErrMethodNotFound, member, instance)
	}

	callCtx := callctx.Push(ctx, callctx.WithRemoteContext(msg.Context))
	args, err := d.node.decodeArguments(callCtx, member, method.Type, msg.Arguments, msg.Context.SenderPath)
	if err != nil {
		return err
	}

	d.node.Logger.Debug("Invoking service", loggingpkg.LogFields{
		"method":      member,
		"key":         msg.Context.RecipientKey,
		"sender_path": msg.Context.SenderPath,
	})
	return callError(target.Call(args))
}

func (d *Dispatcher) dispatchCallback(ctx context.Context, msg *wire.CallbackMessage) error {
	token := msg.Context.RecipientKey
	fields := loggingpkg.LogFields{
		"token":       token,
		"timed_out":   msg.Context.TimedOut,
		"sender_path": msg.Context.SenderPath,
	}

	d.node.timeouts.Dismiss(token)
	callback, ok := d.node.tokens.TryRemove(token)
	if !ok {
		d.node.metrics.StaleCallback()
		d.node.Logger.Debug("Ignoring callback for unknown token", fields)
		return nil
	}
	d.node.Logger.Debug("Resolved and removed callback", fields)

	fn := callback.Type()
	member := fmt.Sprintf("callback %s", fn)
	return callctx.Execute(ctx, func(callCtx context.Context) error {
		args, err := d.node.decodeArguments(callCtx, member, fn, msg.Arguments, msg.Context.SenderPath)
		if err != nil {
			return err
		}
		return callError(callback.Call(args))
	}, callctx.WithRemoteContext(msg.Context))
}
