package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_ReliableDelivery(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{"channel", ChannelCapabilities, true},
		{"rabbitmq", RabbitMQCapabilities, true},
		{"jetstream", NATSJetStreamCapabilities, true},
		{"aws", AWSCapabilities, true},
		{"kafka acks without nack", KafkaCapabilities, false},
		{"nats core", NATSCapabilities, false},
		{"http", HTTPCapabilities, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestCapabilities_Fits(t *testing.T) {
	assert.True(t, ChannelCapabilities.Fits(10<<20), "unlimited size")
	assert.True(t, AWSCapabilities.Fits(1024))
	assert.True(t, AWSCapabilities.Fits(262144))
	assert.False(t, AWSCapabilities.Fits(262145))
}

func TestCapabilities_DurabilityOfBuiltins(t *testing.T) {
	assert.True(t, ChannelCapabilities.Durable)
	assert.True(t, RabbitMQCapabilities.Durable)
	assert.False(t, NATSCapabilities.Durable)
	assert.False(t, HTTPCapabilities.Durable)
	assert.False(t, ChannelCapabilities.Networked)
	assert.True(t, KafkaCapabilities.Networked)
	assert.True(t, SQLiteCapabilities.SupportsReliableDelivery())
	assert.False(t, SQLiteCapabilities.Networked)
	assert.True(t, PostgresCapabilities.SupportsReliableDelivery())
	assert.True(t, PostgresCapabilities.Networked)
}

func TestGetCapabilities_Unknown(t *testing.T) {
	caps := GetCapabilities("definitely-not-registered")
	assert.Equal(t, "definitely-not-registered", caps.Name)
	assert.False(t, caps.Durable)
}
