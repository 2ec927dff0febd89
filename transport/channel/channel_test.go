package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
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
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.Durable)
	assert.True(t, caps.SupportsAck)
	assert.True(t, caps.SupportsNack)
	assert.False(t, caps.Networked)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("uses the default hub", func(t *testing.T) {
		defer func() { _ = ResetDefaultHub() }()

		tr, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.NotNil(t, tr.Publisher)
		assert.NotNil(t, tr.Subscriber)
		assert.Same(t, DefaultHub(), DefaultHub())
	})

	t.Run("uses custom factory", func(t *testing.T) {
		originalFactory := Factory
		defer func() { Factory = originalFactory }()

		mockPub := &mockPublisher{}
		mockSub := &mockSubscriber{}
		Factory = func(logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
			return mockPub, mockSub
		}

		tr, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Equal(t, mockPub, tr.Publisher)
		assert.Equal(t, mockSub, tr.Subscriber)
	})
}

func TestHubReplaysEnvelopesPublishedBeforeSubscribe(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	pub := hub.Publisher()
	require.NoError(t, pub.Publish("node-b", message.NewMessage("1", []byte("early"))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := hub.Subscriber().Subscribe(ctx, "node-b")
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, "early", string(msg.Payload))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("expected stored envelope to be replayed")
	}
}

func TestHubWithoutReplayDropsEarlyEnvelopes(t *testing.T) {
	hub := NewHub(nil, WithoutReplay())
	defer hub.Close()

	pub := hub.Publisher()
	require.NoError(t, pub.Publish("node-b", message.NewMessage("1", []byte("early"))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := hub.Subscriber().Subscribe(ctx, "node-b")
	require.NoError(t, err)

	require.NoError(t, pub.Publish("node-b", message.NewMessage("2", []byte("late"))))

	select {
	case msg := <-messages:
		assert.Equal(t, "late", string(msg.Payload))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("expected envelope published after subscribe")
	}

	select {
	case msg := <-messages:
		t.Fatalf("unexpected extra envelope %q", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetDefaultHub(t *testing.T) {
	t.Cleanup(func() { _ = ResetDefaultHub() })

	hub := NewHub(nil, WithoutReplay())
	prev := SetDefaultHub(hub)
	if prev != nil {
		defer prev.Close()
	}

	assert.Same(t, hub, DefaultHub())
}

func TestHubWrappersDoNotCloseTheHub(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	tr := hub.Transport()
	require.NoError(t, tr.Publisher.Close())
	require.NoError(t, tr.Subscriber.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := hub.Subscriber().Subscribe(ctx, "node-a")
	require.NoError(t, err)
	require.NoError(t, hub.Publisher().Publish("node-a", message.NewMessage("2", []byte("still open"))))

	select {
	case msg := <-messages:
		assert.Equal(t, "2", msg.UUID)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("hub stopped delivering after wrapper close")
	}
}

func TestHubBuilderReturnsHubTransport(t *testing.T) {
	hub := NewHub(watermill.NopLogger{})
	defer hub.Close()

	tr, err := hub.Builder()(context.Background(), &mockConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, hubPublisher{}, tr.Publisher)
	assert.IsType(t, hubSubscriber{}, tr.Subscriber)
}

func TestResetDefaultHub(t *testing.T) {
	first := DefaultHub()
	require.NoError(t, ResetDefaultHub())
	second := DefaultHub()
	assert.NotSame(t, first, second)
	require.NoError(t, ResetDefaultHub())
	require.NoError(t, ResetDefaultHub())
}

type mockConfig struct{}

func (m *mockConfig) GetLocalPath() string          { return "node-a" }
func (m *mockConfig) GetPubSubSystem() string       { return "channel" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaClientID() string      { return "" }
func (m *mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
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

type mockPublisher struct{}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
