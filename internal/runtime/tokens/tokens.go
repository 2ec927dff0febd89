// Package tokens stores callbacks that were sent to another node by reference.
package tokens

import (
	"reflect"
	"sync"
	"time"

	"github.com/drblury/messageless/internal/runtime/ids"
)

// Entry is a stored callback awaiting its single consumption.
type Entry struct {
	Token    string
	Callback reflect.Value
	StoredAt time.Time
}

// Registry maps opaque tokens to callbacks. Every token resolves at most once.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry

	newToken func() string
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[string]Entry),
		newToken: ids.NewToken,
		now:      time.Now,
	}
}

// Store keeps callback and returns the token that now stands for it.
func (r *Registry) Store(callback reflect.Value) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := r.newToken()
	for {
		if _, taken := r.entries[token]; !taken {
			break
		}
		token = r.newToken()
	}
	r.entries[token] = Entry{Token: token, Callback: callback, StoredAt: r.now()}
	return token
}

// TryRemove removes and returns the callback stored under token. A missing
// token is a normal outcome: it was consumed already or never existed here.
func (r *Registry) TryRemove(token string) (reflect.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[token]
	if !ok {
		return reflect.Value{}, false
	}
	delete(r.entries, token)
	return entry.Callback, true
}

// Len reports how many callbacks are pending.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns a snapshot of pending entries.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
