package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/messageless/internal/runtime/errors"
	"github.com/drblury/messageless/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/messageless/internal/runtime/logging"
	"github.com/drblury/messageless/internal/runtime/methods"
)

// argumentSet is the wire form of one call's arguments together with the
// tokens minted for its callbacks.
type argumentSet struct {
	node   *Node
	args   []json.RawMessage
	tokens []string
}

// rollback forgets the callbacks of a call that was never sent.
func (s *argumentSet) rollback() {
	for _, token := range s.tokens {
		s.node.timeouts.Dismiss(token)
		s.node.tokens.TryRemove(token)
	}
}

// argumentValues checks args against the wire parameters of fn.
func argumentValues(member string, fn reflect.Type, args []any) ([]reflect.Value, error) {
	params := methods.WireParams(fn)
	if len(args) != len(params) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", errspkg.ErrArgumentCount, member, len(params), len(args))
	}

	values := make([]reflect.Value, len(args))
	for i, idx := range params {
		pt := fn.In(idx)
		if args[i] == nil {
			if !nillable(pt.Kind()) {
				return nil, fmt.Errorf("%w: %s parameter %d: nil is not a %s", errspkg.ErrArgumentType, member, idx, pt)
			}
			values[i] = reflect.Zero(pt)
			continue
		}

		v := reflect.ValueOf(args[i])
		switch {
		case pt.Kind() == reflect.Interface && v.Kind() == reflect.Func:
			return nil, errspkg.Unsupported(member, fmt.Sprintf("parameter %d passes a callback as %s", idx, pt))
		case v.Type().AssignableTo(pt):
			values[i] = v
		case numeric(v.Kind()) && numeric(pt.Kind()):
			values[i] = v.Convert(pt)
		default:
			return nil, fmt.Errorf("%w: %s parameter %d: %s is not assignable to %s", errspkg.ErrArgumentType, member, idx, v.Type(), pt)
		}
	}
	return values, nil
}

// encodeArguments encodes values, which line up with the wire parameters of
// fn. Every non-nil callback is stored under a new token and its timeout is
// scheduled under ctx.
func (n *Node) encodeArguments(ctx context.Context, member string, fn reflect.Type, values []reflect.Value) (*argumentSet, error) {
	set := &argumentSet{node: n, args: make([]json.RawMessage, 0, len(values))}

	for i, idx := range methods.WireParams(fn) {
		pt := fn.In(idx)
		v := values[i]

		if methods.IsCallback(pt) {
			if !v.IsValid() || v.IsNil() {
				set.args = append(set.args, json.RawMessage(jsoncodec.Null))
				continue
			}
			token := n.tokens.Store(v)
			set.tokens = append(set.tokens, token)
			armed := n.timeouts.Schedule(ctx, token, pt)
			n.Logger.Debug("Registered callback", loggingpkg.LogFields{
				"member":        member,
				"token":         token,
				"timeout_armed": armed,
			})

			raw, err := jsoncodec.Marshal(token)
			if err != nil {
				set.rollback()
				return nil, err
			}
			set.args = append(set.args, raw)
			continue
		}

		var payload any
		if v.IsValid() {
			payload = v.Interface()
		}
		raw, err := jsoncodec.Marshal(payload)
		if err != nil {
			set.rollback()
			return nil, fmt.Errorf("messageless: encode %s parameter %d: %w", member, idx, err)
		}
		set.args = append(set.args, raw)
	}
	return set, nil
}

// decodeArguments rebuilds the full parameter list of fn. Context parameters
// receive ctx and callback tokens become stand-ins that send back to
// senderPath.
func (n *Node) decodeArguments(ctx context.Context, member string, fn reflect.Type, raw []json.RawMessage, senderPath string) ([]reflect.Value, error) {
	if want := methods.WireArity(fn); len(raw) != want {
		return nil, fmt.Errorf("%w: %s takes %d arguments, message carries %d", errspkg.ErrArgumentCount, member, want, len(raw))
	}

	in := make([]reflect.Value, fn.NumIn())
	next := 0
	for i := range in {
		pt := fn.In(i)
		if methods.IsContext(pt) {
			in[i] = reflect.ValueOf(&ctx).Elem()
			continue
		}

		data := raw[next]
		next++

		if methods.IsCallback(pt) {
			if jsoncodec.IsNull(data) {
				in[i] = reflect.Zero(pt)
				continue
			}
			var token string
			if err := jsoncodec.Unmarshal(data, &token); err != nil {
				return nil, fmt.Errorf("%w: %s parameter %d: callback token: %v", errspkg.ErrArgumentType, member, i, err)
			}
			in[i] = n.newCallbackStub(pt, senderPath, token)
			continue
		}

		ptr := reflect.New(pt)
		if !jsoncodec.IsNull(data) {
			if err := jsoncodec.Unmarshal(data, ptr.Interface()); err != nil {
				return nil, fmt.Errorf("%w: %s parameter %d: %v", errspkg.ErrArgumentType, member, i, err)
			}
		}
		in[i] = ptr.Elem()
	}
	return in, nil
}

// callError extracts the error result of a reflective call.
func callError(results []reflect.Value) error {
	if len(results) != 1 || results[0].IsNil() {
		return nil
	}
	err, _ := results[0].Interface().(error)
	return err
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return true
	}
	return false
}

func numeric(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
}
