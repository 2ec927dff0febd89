package metadata

import (
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/messageless/internal/runtime/wire"
)

// Header keys stamped on every transport message.
const (
	KeySenderPath    = "sender_path"
	KeyRecipientPath = "recipient_path"
	KeyContentType   = "content_type"
	KeyKind          = "message_kind"
)

// EnvelopeMetadata returns the headers describing env.
func EnvelopeMetadata(env wire.Envelope, contentType string) Metadata {
	md := New(
		KeySenderPath, env.SenderPath,
		KeyRecipientPath, env.RecipientPath,
	)
	if contentType != "" {
		md[KeyContentType] = contentType
	}
	return md
}

// ToMessage converts an envelope into a Watermill message. Extra headers are
// merged on top of the envelope headers.
func ToMessage(env wire.Envelope, contentType string, extra Metadata) *message.Message {
	msg := message.NewMessage(env.ID, env.Payload)
	msg.Metadata = ToWatermill(EnvelopeMetadata(env, contentType).WithAll(extra))
	return msg
}

// FromMessage rebuilds the envelope carried by msg.
func FromMessage(msg *message.Message) wire.Envelope {
	if msg == nil {
		return wire.Envelope{}
	}
	return wire.Envelope{
		ID:            msg.UUID,
		Payload:       msg.Payload,
		RecipientPath: msg.Metadata.Get(KeyRecipientPath),
		SenderPath:    msg.Metadata.Get(KeySenderPath),
	}
}
