package runtime

import (
	"context"
	"fmt"
	"reflect"

	loggingpkg "github.com/drblury/messageless/internal/runtime/logging"
	"github.com/drblury/messageless/internal/runtime/methods"
	"github.com/drblury/messageless/internal/runtime/wire"
)

var errorType = reflect.TypeFor[error]()

// newCallbackStub builds a function of type fn that, when called, sends a
// callback message for token to the node at senderPath. The function takes
// its context from its first context.Context parameter, if any.
//
// A stub whose type returns error reports local send failures to its caller;
// other stubs log them.
func (n *Node) newCallbackStub(fn reflect.Type, senderPath, token string) reflect.Value {
	member := fmt.Sprintf("callback %s", fn)
	returnsError := methods.ReturnsError(fn)

	return reflect.MakeFunc(fn, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		for i, v := range in {
			if methods.IsContext(fn.In(i)) && !v.IsNil() {
				ctx = v.Interface().(context.Context)
				break
			}
		}

		err := n.sendCallback(ctx, member, fn, senderPath, token, in)
		if returnsError {
			if err == nil {
				return []reflect.Value{reflect.Zero(errorType)}
			}
			return []reflect.Value{reflect.ValueOf(&err).Elem()}
		}
		if err != nil {
			n.Logger.Error("Failed to send callback", err, loggingpkg.LogFields{
				"token":          token,
				"recipient_path": senderPath,
			})
		}
		return nil
	})
}

func (n *Node) sendCallback(ctx context.Context, member string, fn reflect.Type, path, token string, in []reflect.Value) error {
	params := methods.WireParams(fn)
	values := make([]reflect.Value, len(params))
	for i, idx := range params {
		values[i] = in[idx]
	}

	encoded, err := n.encodeArguments(ctx, member, fn, values)
	if err != nil {
		return err
	}

	msg := &wire.CallbackMessage{
		Context: wire.RemoteContext{
			RecipientPath: path,
			RecipientKey:  token,
		},
		Arguments: encoded.args,
	}
	if err := n.sendMessage(ctx, path, msg); err != nil {
		encoded.rollback()
		return fmt.Errorf("messageless: send callback %s: %w", token, err)
	}

	n.metrics.CallbackSent()
	n.Logger.Debug("Sent callback", loggingpkg.LogFields{
		"token":          token,
		"recipient_path": path,
		"callbacks":      len(encoded.tokens),
	})
	return nil
}
