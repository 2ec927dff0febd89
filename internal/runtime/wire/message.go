// Package wire holds the messages exchanged between nodes and the serializers
// that turn them into transport payloads.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the two message shapes.
type Kind string

const (
	KindInvocation Kind = "invocation"
	KindCallback   Kind = "callback"
)

// RemoteContext travels with every message. RecipientKey names a service for
// invocations and a callback token for callbacks. SenderPath is overwritten by
// the sending node and again by the receiving dispatcher from the envelope.
type RemoteContext struct {
	RecipientPath string        `json:"recipient_path"`
	RecipientKey  string        `json:"recipient_key"`
	SenderPath    string        `json:"sender_path,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	TimedOut      bool          `json:"timed_out,omitempty"`
}

// MethodIdentity addresses a method on the receiving node: the declaring
// interface, the method name and the ordered parameter type names.
type MethodIdentity struct {
	Type   string   `json:"type"`
	Name   string   `json:"name"`
	Params []string `json:"params,omitempty"`
}

func (m MethodIdentity) String() string {
	return fmt.Sprintf("%s.%s(%s)", m.Type, m.Name, strings.Join(m.Params, ", "))
}

// Message is implemented by InvocationMessage and CallbackMessage.
type Message interface {
	Kind() Kind
	Remote() *RemoteContext
}

// InvocationMessage carries a captured method call. Callback arguments are
// encoded as token strings, absent callbacks as null.
type InvocationMessage struct {
	Context   RemoteContext     `json:"context"`
	Method    MethodIdentity    `json:"method"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

func (m *InvocationMessage) Kind() Kind             { return KindInvocation }
func (m *InvocationMessage) Remote() *RemoteContext { return &m.Context }

// CallbackMessage carries a callback call addressed by token.
type CallbackMessage struct {
	Context   RemoteContext     `json:"context"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

func (m *CallbackMessage) Kind() Kind             { return KindCallback }
func (m *CallbackMessage) Remote() *RemoteContext { return &m.Context }

// Envelope is the unit handed to and received from a transport.
type Envelope struct {
	ID            string
	Payload       []byte
	RecipientPath string
	SenderPath    string
}

// NullArguments returns n JSON null arguments.
func NullArguments(n int) []json.RawMessage {
	if n <= 0 {
		return nil
	}
	args := make([]json.RawMessage, n)
	for i := range args {
		args[i] = json.RawMessage("null")
	}
	return args
}
