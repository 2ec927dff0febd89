package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/messageless/internal/runtime/config"
	newtransport "github.com/drblury/messageless/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/messageless/transport/transports"
)

// Transport combines a publisher and subscriber pair produced by a factory
// with the delivery guarantees of the backend.
type Transport struct {
	Publisher    message.Publisher
	Subscriber   message.Subscriber
	Capabilities newtransport.Capabilities
}

// Factory abstracts how a node initialises its transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory returns the factory backed by the transport registry.
func DefaultFactory() Factory {
	return registryFactory{registry: newtransport.DefaultRegistry}
}

// RegistryFactory returns a factory backed by reg.
func RegistryFactory(reg *newtransport.Registry) Factory {
	return registryFactory{registry: reg}
}

type registryFactory struct {
	registry *newtransport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	t, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:    t.Publisher,
		Subscriber:   t.Subscriber,
		Capabilities: capabilitiesOf(f.registry, conf.PubSubSystem, t),
	}, nil
}

// BuilderFactory adapts a single transport builder, such as a channel hub's,
// into a Factory.
func BuilderFactory(builder newtransport.Builder, caps newtransport.Capabilities) Factory {
	return builderFactory{builder: builder, caps: caps}
}

type builderFactory struct {
	builder newtransport.Builder
	caps    newtransport.Capabilities
}

func (f builderFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}
	if f.builder == nil {
		return Transport{}, fmt.Errorf("transport builder is required")
	}

	t, err := f.builder(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}
	return Transport{Publisher: t.Publisher, Subscriber: t.Subscriber, Capabilities: f.caps}, nil
}

func capabilitiesOf(reg *newtransport.Registry, name string, t newtransport.Transport) newtransport.Capabilities {
	if provider, ok := t.Publisher.(newtransport.CapabilitiesProvider); ok {
		return provider.Capabilities()
	}
	return reg.GetCapabilities(name)
}
