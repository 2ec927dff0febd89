// Package methods validates remote-callable signatures and maps method
// identities to the interfaces registered on a node.
package methods

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	errspkg "github.com/drblury/messageless/internal/runtime/errors"
	"github.com/drblury/messageless/internal/runtime/wire"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// IsContext reports whether t is context.Context. Such parameters are never
// serialized; the receiving side supplies its own context.
func IsContext(t reflect.Type) bool {
	return t == contextType
}

// IsCallback reports whether t is a callback parameter.
func IsCallback(t reflect.Type) bool {
	return t != nil && t.Kind() == reflect.Func
}

// ReturnsError reports whether fn has the single error result.
func ReturnsError(fn reflect.Type) bool {
	return fn.NumOut() == 1 && fn.Out(0) == errorType
}

// TypeName returns the fully qualified name of t.
func TypeName(t reflect.Type) string {
	if t.PkgPath() == "" || t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// Validate checks that fn may cross the node boundary: no results other than a
// single error, no out (send-only channel) or other channel parameters, not
// variadic. Callback parameters are checked recursively.
func Validate(member string, fn reflect.Type) error {
	return validate(member, fn, map[reflect.Type]bool{})
}

func validate(member string, fn reflect.Type, seen map[reflect.Type]bool) error {
	if fn == nil || fn.Kind() != reflect.Func {
		return errspkg.Unsupported(member, "not a function")
	}
	if seen[fn] {
		return nil
	}
	seen[fn] = true

	switch {
	case fn.NumOut() > 1:
		return errspkg.Unsupported(member, "return values are not supported")
	case fn.NumOut() == 1 && fn.Out(0) != errorType:
		return errspkg.Unsupported(member, "return values are not supported")
	case fn.IsVariadic():
		return errspkg.Unsupported(member, "variadic parameters are not supported")
	}

	for i := 0; i < fn.NumIn(); i++ {
		p := fn.In(i)
		switch {
		case p.Kind() == reflect.Chan && p.ChanDir() == reflect.SendDir:
			return errspkg.Unsupported(member, fmt.Sprintf("parameter %d is an out parameter", i))
		case p.Kind() == reflect.Chan:
			return errspkg.Unsupported(member, fmt.Sprintf("parameter %d is a channel", i))
		case IsCallback(p):
			if err := validate(fmt.Sprintf("%s callback parameter %d", member, i), p, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// WireParams returns the indexes of parameters carried on the wire.
func WireParams(fn reflect.Type) []int {
	idx := make([]int, 0, fn.NumIn())
	for i := 0; i < fn.NumIn(); i++ {
		if !IsContext(fn.In(i)) {
			idx = append(idx, i)
		}
	}
	return idx
}

// WireArity returns the number of parameters carried on the wire.
func WireArity(fn reflect.Type) int {
	return len(WireParams(fn))
}

// Describe builds the identity of method m declared on iface.
func Describe(iface reflect.Type, m reflect.Method) wire.MethodIdentity {
	params := make([]string, 0, m.Type.NumIn())
	for i := 0; i < m.Type.NumIn(); i++ {
		params = append(params, m.Type.In(i).String())
	}
	return wire.MethodIdentity{
		Type:   TypeName(iface),
		Name:   m.Name,
		Params: params,
	}
}

// Table maps declaring type names to registered interfaces.
type Table struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewTable creates an empty method table.
func NewTable() *Table {
	return &Table{types: make(map[string]reflect.Type)}
}

// Register adds iface to the table.
func (t *Table) Register(iface reflect.Type) error {
	if iface == nil || iface.Kind() != reflect.Interface {
		return errspkg.ErrInterfaceRequired
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.types[TypeName(iface)] = iface
	return nil
}

// Lookup resolves id to its declaring interface and method.
func (t *Table) Lookup(id wire.MethodIdentity) (reflect.Type, reflect.Method, error) {
	t.mu.RLock()
	iface, ok := t.types[id.Type]
	t.mu.RUnlock()
	if !ok {
		return nil, reflect.Method{}, fmt.Errorf("%w: %s", errspkg.ErrTypeNotFound, id.Type)
	}

	m, ok := iface.MethodByName(id.Name)
	if !ok {
		return nil, reflect.Method{}, fmt.Errorf("%w: %s", errspkg.ErrMethodNotFound, id)
	}
	if got := Describe(iface, m); !slices.Equal(got.Params, id.Params) {
		return nil, reflect.Method{}, fmt.Errorf("%w: %s (local signature %s)", errspkg.ErrMethodNotFound, id, got)
	}
	return iface, m, nil
}

// Types lists the registered type names.
func (t *Table) Types() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.types))
	for name := range t.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
