// Package channel provides the in-process transport. Every node built on the
// same Hub reaches the others by local path without leaving the process.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/messageless/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Hub is an in-memory message bus shared by the nodes of one process.
//
// By default the hub is persistent: envelopes published to a path before its
// node subscribes are replayed once the node starts. A persistent hub keeps
// every envelope it ever carried until it is closed, and a node that
// subscribes to the same path again receives invocations it already handled.
// Long-running processes should build their hub with WithoutReplay.
type Hub struct {
	pubSub *gochannel.GoChannel
}

type hubOptions struct {
	persistent bool
	buffer     int64
}

// HubOption configures a Hub.
type HubOption func(*hubOptions)

// WithoutReplay makes the hub drop envelopes published to a path nobody
// subscribes to yet. Memory then stays bounded by in-flight envelopes.
func WithoutReplay() HubOption {
	return func(o *hubOptions) { o.persistent = false }
}

// WithOutputBuffer sets the per-subscription channel buffer.
func WithOutputBuffer(size int64) HubOption {
	return func(o *hubOptions) { o.buffer = size }
}

// NewHub creates an isolated hub.
func NewHub(logger watermill.LoggerAdapter, opts ...HubOption) *Hub {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	o := hubOptions{persistent: true, buffer: 64}
	for _, opt := range opts {
		opt(&o)
	}
	return &Hub{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			Persistent:          o.persistent,
			OutputChannelBuffer: o.buffer,
		}, logger),
	}
}

// Publisher returns a publisher whose Close leaves the hub open.
func (h *Hub) Publisher() message.Publisher { return hubPublisher{h.pubSub} }

// Subscriber returns a subscriber whose Close leaves the hub open. A
// subscription ends when the context passed to Subscribe is canceled.
func (h *Hub) Subscriber() message.Subscriber { return hubSubscriber{h.pubSub} }

// Transport returns a publisher and subscriber pair bound to the hub.
func (h *Hub) Transport() transport.Transport {
	return transport.Transport{Publisher: h.Publisher(), Subscriber: h.Subscriber()}
}

// Builder returns a transport builder that always uses this hub.
func (h *Hub) Builder() transport.Builder {
	return func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return h.Transport(), nil
	}
}

// Close shuts down the hub and every subscription on it.
func (h *Hub) Close() error {
	return h.pubSub.Close()
}

type hubPublisher struct{ pubSub *gochannel.GoChannel }

func (p hubPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.pubSub.Publish(topic, messages...)
}

func (hubPublisher) Close() error { return nil }

type hubSubscriber struct{ pubSub *gochannel.GoChannel }

func (s hubSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.pubSub.Subscribe(ctx, topic)
}

func (hubSubscriber) Close() error { return nil }

var (
	defaultHubMu sync.Mutex
	defaultHub   *Hub
)

// DefaultHub returns the process-wide hub used by the registered builder.
func DefaultHub() *Hub {
	defaultHubMu.Lock()
	defer defaultHubMu.Unlock()
	if defaultHub == nil {
		defaultHub = NewHub(nil)
	}
	return defaultHub
}

// SetDefaultHub installs hub as the process-wide hub and returns the previous
// one, which is left open. Call it before building nodes from configuration.
func SetDefaultHub(hub *Hub) *Hub {
	defaultHubMu.Lock()
	defer defaultHubMu.Unlock()
	prev := defaultHub
	defaultHub = hub
	return prev
}

// ResetDefaultHub closes the process-wide hub. The next DefaultHub call
// creates a fresh one.
func ResetDefaultHub() error {
	defaultHubMu.Lock()
	hub := defaultHub
	defaultHub = nil
	defaultHubMu.Unlock()
	if hub == nil {
		return nil
	}
	return hub.Close()
}

// Factory allows overriding the hub lookup for testing.
var Factory = func(logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	hub := DefaultHub()
	return hub.Publisher(), hub.Subscriber()
}

func init() {
	Register()
}

// Register adds the channel transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns a transport on the process-wide hub.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
