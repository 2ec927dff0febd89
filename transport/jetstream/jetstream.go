// Package jetstream provides a NATS JetStream transport. All paths share one
// stream; each node reads its own subject through a durable pull consumer
// named after its local path, so envelopes survive a node restart.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/messageless/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when no stream name is configured.
	DefaultStreamName = "MESSAGELESS"

	// DefaultMaxDeliver is the default max delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultAckWait is the default ack wait timeout.
	DefaultAckWait = 30 * time.Second

	fetchBatch = 10
)

// Connect allows overriding the NATS connection for testing.
var Connect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url)
}

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	if cfg.GetNATSURL() == "" {
		return transport.Transport{}, errors.New("nats: URL is required")
	}
	config := Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetNATSStreamName(),
	}

	t, err := New(config, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream holding every path's subject.
	StreamName string

	// MaxDeliver is the maximum number of delivery attempts.
	MaxDeliver int

	// AckWait is the duration to wait for acknowledgment.
	AckWait time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy: "workqueue" (default), "limits" or "interest".
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

// Transport implements Publisher and Subscriber for NATS JetStream.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subscriptions map[string]*nats.Subscription
	subMu         sync.RWMutex

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
}

// New creates a new NATS JetStream transport.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &Transport{
		nc:            nc,
		js:            js,
		config:        cfg,
		logger:        logger,
		subscriptions: make(map[string]*nats.Subscription),
		closedChan:    make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return t, nil
}

func streamConfig(cfg Config) *nats.StreamConfig {
	streamCfg := &nats.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.StreamName + ".>"},
		MaxAge:   24 * time.Hour * 7,
		Replicas: cfg.Replicas,
	}

	switch cfg.RetentionPolicy {
	case "interest":
		streamCfg.Retention = nats.InterestPolicy
	case "limits":
		streamCfg.Retention = nats.LimitsPolicy
	default:
		streamCfg.Retention = nats.WorkQueuePolicy
	}
	return streamCfg
}

func (t *Transport) ensureStream() error {
	streamCfg := streamConfig(t.config)

	if _, err := t.js.AddStream(streamCfg); err != nil {
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			t.logger.Info("JetStream stream exists", watermill.LogFields{
				"stream": t.config.StreamName,
				"reason": err.Error(),
			})
		}
	}

	return nil
}

// Publish publishes messages to the subject of the recipient path.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	subject := SubjectFor(t.config.StreamName, topic)

	for _, msg := range messages {
		if _, err := t.js.PublishMsg(watermillToNats(subject, msg)); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}

	return nil
}

// Subscribe consumes the subject of a path through its durable consumer.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return nil, fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	subject := SubjectFor(t.config.StreamName, topic)
	consumerName := ConsumerFor(topic)
	output := make(chan *message.Message)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, consumerName, nats.Bind(t.config.StreamName, consumerName))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.subMu.Lock()
	t.subscriptions[topic] = sub
	t.subMu.Unlock()

	go t.fetchMessages(ctx, sub, output, topic)

	return output, nil
}

func (t *Transport) fetchMessages(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		default:
		}

		msgs, err := sub.Fetch(fetchBatch, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			t.logger.Error("Failed to fetch messages", err, watermill.LogFields{
				"topic": topic,
			})
			continue
		}

		for _, natsMsg := range msgs {
			wmMsg := natsToWatermill(natsMsg)
			wmMsg.SetContext(ctx)

			select {
			case output <- wmMsg:
			case <-ctx.Done():
				return
			}

			select {
			case <-wmMsg.Acked():
				if err := natsMsg.Ack(); err != nil {
					t.logger.Error("Failed to ack", err, nil)
				}
			case <-wmMsg.Nacked():
				if err := natsMsg.Nak(); err != nil {
					t.logger.Error("Failed to nak", err, nil)
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// watermillToNats carries the message UUID in the JetStream dedup header.
func watermillToNats(subject string, msg *message.Message) *nats.Msg {
	headers := nats.Header{}
	for k, v := range msg.Metadata {
		headers.Set(k, v)
	}
	headers.Set(nats.MsgIdHdr, msg.UUID)

	return &nats.Msg{
		Subject: subject,
		Data:    msg.Payload,
		Header:  headers,
	}
}

func natsToWatermill(natsMsg *nats.Msg) *message.Message {
	msgID := natsMsg.Header.Get(nats.MsgIdHdr)
	if msgID == "" {
		msgID = watermill.NewULID()
	}

	wmMsg := message.NewMessage(msgID, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == nats.MsgIdHdr || len(v) == 0 {
			continue
		}
		wmMsg.Metadata.Set(k, v[0])
	}

	return wmMsg
}

// SubjectFor returns the stream subject a path is published on.
func SubjectFor(stream, path string) string {
	return stream + "." + path
}

// ConsumerFor returns the durable consumer name of a path. Durable names
// cannot contain dots.
func ConsumerFor(path string) string {
	return "node_" + strings.ReplaceAll(path, ".", "_")
}

// Close closes the JetStream transport.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		_ = sub.Unsubscribe()
	}
	t.subscriptions = make(map[string]*nats.Subscription)
	t.subMu.Unlock()

	t.nc.Close()

	return nil
}

// Capabilities returns the JetStream transport capabilities.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
