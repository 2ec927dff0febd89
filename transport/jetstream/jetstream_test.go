package jetstream

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/messageless/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.Durable)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.True(t, caps.SupportsTracing)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.NATSJetStreamCapabilities, caps)
	assert.Equal(t, "nats-jetstream", caps.Name)
	var _ transport.CapabilitiesProvider = (*Transport)(nil)
}

func TestConfig_withDefaults(t *testing.T) {
	t.Run("empty config gets defaults", func(t *testing.T) {
		result := Config{}.withDefaults()

		assert.Equal(t, DefaultStreamName, result.StreamName)
		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, 1, result.Replicas)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		cfg := Config{
			URL:             "nats://localhost:4222",
			StreamName:      "CALLS",
			MaxDeliver:      5,
			AckWait:         60,
			Replicas:        3,
			RetentionPolicy: "limits",
		}
		result := cfg.withDefaults()

		assert.Equal(t, "nats://localhost:4222", result.URL)
		assert.Equal(t, "CALLS", result.StreamName)
		assert.Equal(t, 5, result.MaxDeliver)
		assert.Equal(t, cfg.AckWait, result.AckWait)
		assert.Equal(t, 3, result.Replicas)
		assert.Equal(t, "limits", result.RetentionPolicy)
	})

	t.Run("negative values get defaults", func(t *testing.T) {
		result := Config{MaxDeliver: -1, AckWait: -1, Replicas: -1}.withDefaults()

		assert.Equal(t, DefaultMaxDeliver, result.MaxDeliver)
		assert.Equal(t, DefaultAckWait, result.AckWait)
		assert.Equal(t, 1, result.Replicas)
	})
}

func TestStreamConfigRetention(t *testing.T) {
	tests := []struct {
		policy string
		want   nats.RetentionPolicy
	}{
		{"", nats.WorkQueuePolicy},
		{"workqueue", nats.WorkQueuePolicy},
		{"limits", nats.LimitsPolicy},
		{"interest", nats.InterestPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			cfg := streamConfig(Config{RetentionPolicy: tt.policy}.withDefaults())
			assert.Equal(t, tt.want, cfg.Retention)
			assert.Equal(t, []string{DefaultStreamName + ".>"}, cfg.Subjects)
		})
	}
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "CALLS.node-b", SubjectFor("CALLS", "node-b"))
	assert.Equal(t, "node_billing_v2", ConsumerFor("billing.v2"))
}

func TestMessageConversionKeepsIDAndHeaders(t *testing.T) {
	msg := message.NewMessage("01HZX", []byte("payload"))
	msg.Metadata.Set("sender_path", "node-a")

	natsMsg := watermillToNats("CALLS.node-b", msg)
	assert.Equal(t, "CALLS.node-b", natsMsg.Subject)
	assert.Equal(t, "01HZX", natsMsg.Header.Get(nats.MsgIdHdr))

	back := natsToWatermill(natsMsg)
	assert.Equal(t, "01HZX", back.UUID)
	assert.Equal(t, "payload", string(back.Payload))
	assert.Equal(t, "node-a", back.Metadata.Get("sender_path"))
	assert.Empty(t, back.Metadata.Get(nats.MsgIdHdr))
}

func TestNatsToWatermillGeneratesMissingID(t *testing.T) {
	back := natsToWatermill(&nats.Msg{Data: []byte("x"), Header: nats.Header{}})
	assert.NotEmpty(t, back.UUID)
}

func TestBuild(t *testing.T) {
	t.Run("requires a URL", func(t *testing.T) {
		_, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "URL is required")
	})

	t.Run("returns connection errors", func(t *testing.T) {
		original := Connect
		defer func() { Connect = original }()
		Connect = func(url string) (*nats.Conn, error) {
			assert.Equal(t, "nats://localhost:4222", url)
			return nil, errors.New("connection refused")
		}

		_, err := Build(context.Background(), &mockConfig{natsURL: "nats://localhost:4222"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

type mockConfig struct {
	natsURL string
}

func (m *mockConfig) GetLocalPath() string          { return "node-a" }
func (m *mockConfig) GetPubSubSystem() string       { return TransportName }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaClientID() string      { return "" }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return m.natsURL }
func (m *mockConfig) GetNATSStreamName() string     { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetAWSRegion() string          { return "" }
func (m *mockConfig) GetAWSAccountID() string       { return "" }
func (m *mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m *mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m *mockConfig) GetAWSEndpoint() string        { return "" }
func (m *mockConfig) GetSQLiteFile() string         { return "" }
func (m *mockConfig) GetPostgresURL() string        { return "" }
