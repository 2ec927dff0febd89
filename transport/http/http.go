// Package http provides a push transport over HTTP. A node serves POST
// /<local path> on its server address; peers push envelopes to the
// publisher URL with the recipient path appended.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/messageless/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register registers the HTTP transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()
	if serverAddr == "" || publisherURL == "" {
		return transport.Transport{}, errors.New("http: server address and publisher URL are required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(PublishURL(publisherURL, topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &routedSubscriber{Subscriber: subscriber, logger: logger},
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// PublishURL joins the publisher base URL and a recipient path.
func PublishURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + RoutePath(path)
}

// RoutePath returns the HTTP route a path is served on.
func RoutePath(path string) string {
	return "/" + strings.TrimPrefix(path, "/")
}

type httpServer interface {
	StartHTTPServer() error
}

// routedSubscriber maps paths onto routes and starts the HTTP server once
// the first route is registered.
type routedSubscriber struct {
	message.Subscriber
	logger watermill.LoggerAdapter
	once   sync.Once
}

func (s *routedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	messages, err := s.Subscriber.Subscribe(ctx, RoutePath(topic))
	if err != nil {
		return nil, err
	}
	s.once.Do(func() {
		server, ok := s.Subscriber.(httpServer)
		if !ok {
			return
		}
		go func() {
			if err := server.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				s.logger.Error("Failed to start HTTP subscriber server", err, nil)
			}
		}()
	})
	return messages, nil
}
