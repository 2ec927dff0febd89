package wire

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/messageless/internal/runtime/errors"
	"github.com/drblury/messageless/internal/runtime/jsoncodec"
)

// Serializer converts messages to bytes and back. Both shapes must survive a
// round trip unchanged.
type Serializer interface {
	Serialize(msg Message) ([]byte, error)
	Deserialize(data []byte) (Message, error)
	ContentType() string
}

// SerializerFor returns the serializer registered under name. An empty name
// selects JSON.
func SerializerFor(name string) (Serializer, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONSerializer{}, nil
	case "protobuf", "proto":
		return ProtobufSerializer{}, nil
	default:
		return nil, fmt.Errorf("messageless: unknown serializer %q", name)
	}
}

// JSONSerializer encodes messages as a kind-tagged JSON document.
type JSONSerializer struct{}

type jsonFrame struct {
	Kind       Kind               `json:"kind"`
	Invocation *InvocationMessage `json:"invocation,omitempty"`
	Callback   *CallbackMessage   `json:"callback,omitempty"`
}

func (JSONSerializer) ContentType() string { return "application/json" }

func (JSONSerializer) Serialize(msg Message) ([]byte, error) {
	frame := jsonFrame{}
	switch m := msg.(type) {
	case *InvocationMessage:
		frame.Kind = KindInvocation
		frame.Invocation = m
	case *CallbackMessage:
		frame.Kind = KindCallback
		frame.Callback = m
	default:
		return nil, fmt.Errorf("%w: %T", errspkg.ErrUnknownMessage, msg)
	}
	return jsoncodec.Marshal(frame)
}

func (JSONSerializer) Deserialize(data []byte) (Message, error) {
	var frame jsonFrame
	if err := jsoncodec.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	switch {
	case frame.Kind == KindInvocation && frame.Invocation != nil:
		return frame.Invocation, nil
	case frame.Kind == KindCallback && frame.Callback != nil:
		return frame.Callback, nil
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownMessage, frame.Kind)
	}
}
