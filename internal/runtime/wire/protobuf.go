package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/messageless/internal/runtime/errors"
)

// ProtobufSerializer encodes messages as a binary google.protobuf.Struct.
// Arguments become google.protobuf.Value, so numbers are carried as doubles:
// integers beyond 2^53 lose precision.
type ProtobufSerializer struct{}

func (ProtobufSerializer) ContentType() string { return "application/x-protobuf" }

func (ProtobufSerializer) Serialize(msg Message) ([]byte, error) {
	fields := map[string]*structpb.Value{}

	var args []json.RawMessage
	switch m := msg.(type) {
	case *InvocationMessage:
		fields["method"] = methodValue(m.Method)
		args = m.Arguments
	case *CallbackMessage:
		args = m.Arguments
	default:
		return nil, fmt.Errorf("%w: %T", errspkg.ErrUnknownMessage, msg)
	}

	list, err := argumentList(args)
	if err != nil {
		return nil, err
	}
	fields["kind"] = structpb.NewStringValue(string(msg.Kind()))
	fields["context"] = contextValue(*msg.Remote())
	fields["arguments"] = structpb.NewListValue(list)

	return proto.MarshalOptions{Deterministic: true}.Marshal(&structpb.Struct{Fields: fields})
}

func (ProtobufSerializer) Deserialize(data []byte) (Message, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	rc, err := parseContext(st.GetFields()["context"].GetStructValue())
	if err != nil {
		return nil, err
	}
	args, err := parseArguments(st.GetFields()["arguments"].GetListValue())
	if err != nil {
		return nil, err
	}

	switch kind := Kind(st.GetFields()["kind"].GetStringValue()); kind {
	case KindInvocation:
		return &InvocationMessage{
			Context:   rc,
			Method:    parseMethod(st.GetFields()["method"].GetStructValue()),
			Arguments: args,
		}, nil
	case KindCallback:
		return &CallbackMessage{Context: rc, Arguments: args}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownMessage, kind)
	}
}

func contextValue(rc RemoteContext) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"recipient_path": structpb.NewStringValue(rc.RecipientPath),
		"recipient_key":  structpb.NewStringValue(rc.RecipientKey),
		"sender_path":    structpb.NewStringValue(rc.SenderPath),
		"timeout":        structpb.NewStringValue(rc.Timeout.String()),
		"timed_out":      structpb.NewBoolValue(rc.TimedOut),
	}})
}

func parseContext(st *structpb.Struct) (RemoteContext, error) {
	fields := st.GetFields()
	rc := RemoteContext{
		RecipientPath: fields["recipient_path"].GetStringValue(),
		RecipientKey:  fields["recipient_key"].GetStringValue(),
		SenderPath:    fields["sender_path"].GetStringValue(),
		TimedOut:      fields["timed_out"].GetBoolValue(),
	}
	if raw := fields["timeout"].GetStringValue(); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return RemoteContext{}, fmt.Errorf("decode timeout: %w", err)
		}
		rc.Timeout = timeout
	}
	return rc, nil
}

func methodValue(m MethodIdentity) *structpb.Value {
	params := make([]*structpb.Value, 0, len(m.Params))
	for _, p := range m.Params {
		params = append(params, structpb.NewStringValue(p))
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"type":   structpb.NewStringValue(m.Type),
		"name":   structpb.NewStringValue(m.Name),
		"params": structpb.NewListValue(&structpb.ListValue{Values: params}),
	}})
}

func parseMethod(st *structpb.Struct) MethodIdentity {
	fields := st.GetFields()
	m := MethodIdentity{
		Type: fields["type"].GetStringValue(),
		Name: fields["name"].GetStringValue(),
	}
	for _, p := range fields["params"].GetListValue().GetValues() {
		m.Params = append(m.Params, p.GetStringValue())
	}
	return m
}

func argumentList(args []json.RawMessage) (*structpb.ListValue, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(args))}
	for i, raw := range args {
		if len(raw) == 0 {
			list.Values = append(list.Values, structpb.NewNullValue())
			continue
		}
		value := &structpb.Value{}
		if err := protojson.Unmarshal(raw, value); err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		list.Values = append(list.Values, value)
	}
	return list, nil
}

func parseArguments(list *structpb.ListValue) ([]json.RawMessage, error) {
	values := list.GetValues()
	if len(values) == 0 {
		return nil, nil
	}
	args := make([]json.RawMessage, 0, len(values))
	for i, value := range values {
		raw, err := protojson.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("decode argument %d: %w", i, err)
		}
		// protojson output spacing is unstable; compact it so payloads compare equal.
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, fmt.Errorf("decode argument %d: %w", i, err)
		}
		args = append(args, json.RawMessage(buf.Bytes()))
	}
	return args, nil
}
