package runtime

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/messageless/internal/runtime/errors"
	idspkg "github.com/drblury/messageless/internal/runtime/ids"
	loggingpkg "github.com/drblury/messageless/internal/runtime/logging"
	metadatapkg "github.com/drblury/messageless/internal/runtime/metadata"
)

// CorrelationIDKey is the metadata key of the correlation identifier.
const CorrelationIDKey = "correlation_id"

// MiddlewareBuilder constructs a handler middleware using the provided node.
type MiddlewareBuilder func(*Node) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a node router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = isUnresolved
	}
	return cfg
}

// isUnresolved matches invocations that arrived before their service was registered.
func isUnresolved(err error) bool {
	return errors.Is(err, errspkg.ErrServiceNotFound) || errors.Is(err, errspkg.ErrTypeNotFound)
}

// DefaultMiddlewares returns the standard middleware chain used by the node
// constructor. The dispatch boundary is always registered in front of it.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		PoisonQueueMiddleware(nil),
		RecovererMiddleware(),
	}
}

// DispatchBoundaryMiddleware logs dispatch failures and acknowledges the
// envelope anyway, so one bad envelope never blocks or loops the node.
func DispatchBoundaryMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "dispatch_boundary",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			return n.dispatchBoundaryMiddleware(), nil
		},
	}
}

// MetricsMiddleware adds Prometheus router metrics and serves them when a
// metrics port is configured.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			if !n.Conf.MetricsEnabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				n.metricsRegisterer,
				"messageless",
				metricsSubsystem(n.Conf.PubSubSystem),
			)

			publisher, err := metricsBuilder.DecoratePublisher(n.publisher)
			if err != nil {
				return nil, err
			}
			n.publisher = publisher
			n.router.AddSubscriberDecorators(metricsBuilder.DecorateSubscriber)

			if n.Conf.MetricsPort > 0 {
				n.RegisterHTTPHandler(n.Conf.MetricsPort, "/metrics", metricsHandler(n.metricsRegisterer))
			}

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			return n.correlationIDMiddleware(), nil
		},
	}
}

// LogMessagesMiddleware logs the metadata of handled envelopes.
func LogMessagesMiddleware(logger loggingpkg.Logger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = n.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return n.logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps dispatch in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			return n.tracerMiddleware(), nil
		},
	}
}

// RetryMiddleware retries dispatch using the provided configuration (defaults
// applied to zero values). It is not part of the default chain: retrying an
// invocation runs the service again. By default only envelopes whose service
// is not registered yet are retried.
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	normalized := cfg.withDefaults()
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			return n.retryMiddlewareWithConfig(normalized), nil
		},
	}
}

// PoisonQueueMiddleware publishes envelopes whose dispatch failed to the
// configured poison queue. It is skipped when Config.PoisonQueue is empty.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(n *Node) (message.HandlerMiddleware, error) {
			if n.Conf == nil || n.Conf.PoisonQueue == "" {
				return nil, nil
			}
			f := filter
			if f == nil {
				f = func(err error) bool {
					return errors.Is(err, errspkg.ErrDispatchFailure)
				}
			}
			return n.poisonMiddlewareWithFilter(f)
		},
	}
}

// RecovererMiddleware converts panics into handler errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (n *Node) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if n.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(n)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	n.router.AddMiddleware(mw)
	return nil
}

func (n *Node) dispatchBoundaryMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err != nil {
				n.Logger.Error("Dispatch failed", err, loggingpkg.LogFields{
					"message_uuid":   msg.UUID,
					"sender_path":    msg.Metadata.Get(metadatapkg.KeySenderPath),
					"correlation_id": msg.Metadata.Get(CorrelationIDKey),
				})
			}
			return msgs, nil
		}
	}
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func (n *Node) correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if _, ok := msg.Metadata[CorrelationIDKey]; !ok {
				msg.Metadata[CorrelationIDKey] = idspkg.NewMessageID()
			}
			return h(msg)
		}
	}
}

// poisonMiddlewareWithFilter publishes poison messages based on the provided filter.
func (n *Node) poisonMiddlewareWithFilter(filter func(err error) bool) (message.HandlerMiddleware, error) {
	if n.publisher == nil {
		return nil, errors.New("publisher is required for poison queue middleware")
	}

	return middleware.PoisonQueueWithFilter(
		n.publisher,
		n.Conf.PoisonQueue,
		filter,
	)
}

// logMessagesMiddleware logs all processed envelopes with their metadata.
func (n *Node) logMessagesMiddleware(logger loggingpkg.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing envelope", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload_size": len(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

func (n *Node) retryMiddlewareWithConfig(cfg RetryMiddlewareConfig) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		Multiplier:      2,
		ShouldRetry: func(params middleware.RetryParams) bool {
			return normalized.RetryIf(params.Err)
		},
		Logger: loggingpkg.NewWatermillAdapter(n.Logger),
	}.Middleware
}

// tracerMiddleware wraps envelope dispatch with an OpenTelemetry span.
func (n *Node) tracerMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer("messageless")
			ctx, span := tracer.Start(
				msg.Context(),
				"DispatchEnvelope",
				trace.WithSpanKind(trace.SpanKindConsumer),
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("messageless.local_path", n.Conf.LocalPath),
				attribute.String("messageless.sender_path", msg.Metadata.Get(metadatapkg.KeySenderPath)),
				attribute.String("messageless.kind", msg.Metadata.Get(metadatapkg.KeyKind)),
				attribute.String("message.metadata", fmt.Sprintf("%v", msg.Metadata)),
			)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

func metricsSubsystem(pubSubSystem string) string {
	if pubSubSystem == "" {
		return "custom"
	}
	return strings.NewReplacer("-", "_", ".", "_").Replace(pubSubSystem)
}

func metricsHandler(registerer prometheus.Registerer) http.Handler {
	if gatherer, ok := registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
