// Package registry resolves service keys to local implementations.
package registry

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	errspkg "github.com/drblury/messageless/internal/runtime/errors"
	"github.com/drblury/messageless/internal/runtime/methods"
)

// Resolver returns the instance registered under key for the declared
// interface.
type Resolver interface {
	Resolve(key string, declared reflect.Type) (any, error)
}

// Registrar accepts service registrations.
type Registrar interface {
	Register(key string, iface reflect.Type, instance any) error
}

// CancelFunc stops a watch.
type CancelFunc func()

type binding struct {
	key   string
	iface reflect.Type
}

// Memory is an in-process resolver. Each node owns one, so keys are scoped
// to the node that registered them.
type Memory struct {
	mu       sync.RWMutex
	services map[binding]any
	watchers map[int64]func(key string, iface reflect.Type)
	nextID   int64
}

// NewMemory creates an empty resolver.
func NewMemory() *Memory {
	return &Memory{
		services: map[binding]any{},
		watchers: map[int64]func(string, reflect.Type){},
	}
}

// Register binds instance to key for iface. A later registration for the same
// key and interface replaces the earlier one.
func (m *Memory) Register(key string, iface reflect.Type, instance any) error {
	switch {
	case key == "":
		return errspkg.ErrRecipientKeyRequired
	case iface == nil || iface.Kind() != reflect.Interface:
		return errspkg.ErrInterfaceRequired
	case instance == nil:
		return errspkg.ErrImplementationRequired
	case !reflect.TypeOf(instance).Implements(iface):
		return fmt.Errorf("%w: %T does not implement %s", errspkg.ErrImplementationRequired, instance, methods.TypeName(iface))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[binding{key: key, iface: iface}] = instance
	for _, w := range m.watchers {
		go w(key, iface)
	}
	return nil
}

// Unregister removes the binding and reports whether it existed.
func (m *Memory) Unregister(key string, iface reflect.Type) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := binding{key: key, iface: iface}
	if _, ok := m.services[b]; !ok {
		return false
	}
	delete(m.services, b)
	return true
}

// Resolve implements Resolver.
func (m *Memory) Resolve(key string, declared reflect.Type) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, ok := m.services[binding{key: key, iface: declared}]
	if !ok {
		name := "<nil>"
		if declared != nil {
			name = methods.TypeName(declared)
		}
		return nil, fmt.Errorf("%w: %q as %s", errspkg.ErrServiceNotFound, key, name)
	}
	return instance, nil
}

// Keys lists the registered keys.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.services))
	for b := range m.services {
		if !slices.Contains(keys, b.key) {
			keys = append(keys, b.key)
		}
	}
	slices.Sort(keys)
	return keys
}

// WatchRegistered calls fn asynchronously for every later registration until
// the returned CancelFunc is called.
func (m *Memory) WatchRegistered(fn func(key string, iface reflect.Type)) CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.watchers, id)
		})
	}
}
