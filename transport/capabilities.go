package transport

// Capabilities describes the delivery guarantees of a transport backend.
type Capabilities struct {
	// Durable indicates envelopes published while the recipient is offline
	// are kept until it subscribes.
	Durable bool

	// SupportsOrdering indicates envelopes to one path arrive in publish order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport carries metadata headers natively.
	SupportsTracing bool

	// SupportsAck indicates the transport supports explicit acknowledgment.
	SupportsAck bool

	// SupportsNack indicates a nacked envelope is redelivered.
	SupportsNack bool

	// Networked indicates peers may live in other processes.
	Networked bool

	// MaxMessageSize is the maximum envelope size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// SupportsReliableDelivery returns true if the transport supports
// at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-process hub.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		Durable:          true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		Durable:          true,
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		Networked:        true,
		MaxMessageSize:   1048576, // broker default
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		Durable:          true,
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		Networked:        true,
	}

	// NATSCapabilities for NATS Core. Envelopes sent to an offline node are lost.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		Networked:       true,
		MaxMessageSize:  1048576,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		Durable:          true,
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		SupportsNack:     true,
		Networked:        true,
		MaxMessageSize:   1048576,
	}

	AWSCapabilities = Capabilities{
		Name:            "aws",
		Durable:         true,
		SupportsTracing: true,
		SupportsAck:     true,
		SupportsNack:    true,
		Networked:       true,
		MaxMessageSize:  262144, // 256KB
	}

	// HTTPCapabilities for push delivery over HTTP. The recipient must be listening.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
		Networked:       true,
	}

	// SQLiteCapabilities for a queue table in a local database file. Rows of
	// one path are delivered in insertion order.
	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		Durable:          true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	PostgresCapabilities = Capabilities{
		Name:         "postgres",
		Durable:      true,
		SupportsAck:  true,
		SupportsNack: true,
		Networked:    true,
	}
)

// GetCapabilities returns the capabilities for a transport by name from the
// default registry. Unknown transports report a zero value carrying the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
