package runtime

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/messageless/internal/runtime/errors"
	loggingpkg "github.com/drblury/messageless/internal/runtime/logging"
	"github.com/drblury/messageless/internal/runtime/methods"
	"github.com/drblury/messageless/internal/runtime/wire"
)

// Proxy turns calls on an interface into invocation messages. A typed stub
// forwards each interface method to Invoke:
//
//	func (s calculatorStub) Add(ctx context.Context, a, b int, done func(int)) error {
//		return s.proxy.Invoke(ctx, "Add", a, b, done)
//	}
//
// Invoke never waits for the remote side. Results flow back only through
// callback arguments.
type Proxy struct {
	node  *Node
	iface reflect.Type
	path  string
	key   string
}

// At returns a copy of the proxy addressed to another node.
func (p *Proxy) At(recipientPath string) *Proxy {
	cp := *p
	cp.path = recipientPath
	return &cp
}

// Interface returns the proxied interface type.
func (p *Proxy) Interface() reflect.Type { return p.iface }

// RecipientPath returns the address of the target node.
func (p *Proxy) RecipientPath() string { return p.path }

// RecipientKey returns the service key on the target node.
func (p *Proxy) RecipientKey() string { return p.key }

// Invoke sends a call of method with args, which are the method's
// parameters without its context.Context ones. Callback arguments are kept
// on this node under fresh tokens and, when ctx carries a callback timeout,
// raced against it.
//
// Methods and callbacks with results other than a single error are rejected
// before anything is sent.
func (p *Proxy) Invoke(ctx context.Context, method string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m, ok := p.iface.MethodByName(method)
	if !ok {
		return fmt.Errorf("%w: %s.%s", errspkg.ErrMethodNotFound, methods.TypeName(p.iface), method)
	}
	member := methods.TypeName(p.iface) + "." + method
	if err := methods.Validate(member, m.Type); err != nil {
		return err
	}
	if p.path == "" {
		return errspkg.ErrRecipientPathRequired
	}

	values, err := argumentValues(member, m.Type, args)
	if err != nil {
		return err
	}
	encoded, err := p.node.encodeArguments(ctx, member, m.Type, values)
	if err != nil {
		return err
	}

	msg := &wire.InvocationMessage{
		Context: wire.RemoteContext{
			RecipientPath: p.path,
			RecipientKey:  p.key,
		},
		Method:    methods.Describe(p.iface, m),
		Arguments: encoded.args,
	}
	if err := p.node.sendMessage(ctx, p.path, msg); err != nil {
		encoded.rollback()
		return fmt.Errorf("messageless: send %s: %w", member, err)
	}

	p.node.metrics.InvocationSent()
	p.node.Logger.Debug("Sent invocation", loggingpkg.LogFields{
		"method":         msg.Method.String(),
		"recipient_path": p.path,
		"recipient_key":  p.key,
		"callbacks":      len(encoded.tokens),
	})
	return nil
}
