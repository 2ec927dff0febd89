package messageless

import (
	runtimepkg "github.com/drblury/messageless/internal/runtime"
	"github.com/drblury/messageless/internal/runtime/callctx"
	configpkg "github.com/drblury/messageless/internal/runtime/config"
	errspkg "github.com/drblury/messageless/internal/runtime/errors"
	idspkg "github.com/drblury/messageless/internal/runtime/ids"
	jsoncodec "github.com/drblury/messageless/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/messageless/internal/runtime/logging"
	"github.com/drblury/messageless/internal/runtime/registry"
	transportpkg "github.com/drblury/messageless/internal/runtime/transport"
	"github.com/drblury/messageless/internal/runtime/wire"
	newtransport "github.com/drblury/messageless/transport"
)

type (
	Config           = configpkg.Config
	Node             = runtimepkg.Node
	NodeDependencies = runtimepkg.NodeDependencies
	Proxy            = runtimepkg.Proxy
	NodeStatus       = runtimepkg.NodeStatus
	Transport        = transportpkg.Transport
	TransportFactory = transportpkg.Factory

	RemoteContext  = wire.RemoteContext
	Envelope       = wire.Envelope
	MethodIdentity = wire.MethodIdentity
	Serializer     = wire.Serializer

	// Service resolution
	Resolver       = registry.Resolver
	Registrar      = registry.Registrar
	MemoryResolver = registry.Memory

	// Ambient context
	ContextOption = callctx.Option

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	// Dispatch lifecycle hooks
	DispatchInfo  = runtimepkg.DispatchInfo
	DispatchHooks = runtimepkg.DispatchHooks

	NodeMetrics     = runtimepkg.NodeMetrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot

	LogFields = loggingpkg.LogFields
	Logger    = loggingpkg.Logger

	ConfigValidationError     = errspkg.ConfigValidationError
	DispatchError             = errspkg.DispatchError
	UnsupportedOperationError = errspkg.UnsupportedOperationError

	// Modular transport types
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewNode        = runtimepkg.NewNode
	TryNewNode     = runtimepkg.TryNewNode
	ValidateConfig = configpkg.ValidateConfig

	NewMemoryResolver = registry.NewMemory
	SerializerFor     = wire.SerializerFor

	// Ambient context
	Execute           = callctx.Execute
	Push              = callctx.Push
	CurrentContext    = callctx.Current
	WithTimeout       = callctx.WithTimeout
	WithRemoteContext = callctx.WithRemoteContext

	DefaultMiddlewares         = runtimepkg.DefaultMiddlewares
	DispatchBoundaryMiddleware = runtimepkg.DispatchBoundaryMiddleware
	CorrelationIDMiddleware    = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware      = runtimepkg.LogMessagesMiddleware
	TracerMiddleware           = runtimepkg.TracerMiddleware
	MetricsMiddleware          = runtimepkg.MetricsMiddleware
	RetryMiddleware            = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware      = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware        = runtimepkg.RecovererMiddleware

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewNodeMetrics = runtimepkg.NewNodeMetrics

	// Transport factories
	DefaultTransportFactory  = transportpkg.DefaultFactory
	RegistryTransportFactory = transportpkg.RegistryFactory
	BuilderTransportFactory  = transportpkg.BuilderFactory

	// Modular transport registry.
	// Import individual transports via: _ "github.com/drblury/messageless/transport/kafka"
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrLoggerRequired         = errspkg.ErrLoggerRequired
	ErrLocalPathRequired      = errspkg.ErrLocalPathRequired
	ErrRecipientPathRequired  = errspkg.ErrRecipientPathRequired
	ErrRecipientKeyRequired   = errspkg.ErrRecipientKeyRequired
	ErrInterfaceRequired      = errspkg.ErrInterfaceRequired
	ErrImplementationRequired = errspkg.ErrImplementationRequired
	ErrResolverNotWritable    = errspkg.ErrResolverNotWritable
	ErrNodeClosed             = errspkg.ErrNodeClosed
	ErrUnsupportedOperation   = errspkg.ErrUnsupportedOperation
	ErrArgumentCount          = errspkg.ErrArgumentCount
	ErrArgumentType           = errspkg.ErrArgumentType
	ErrServiceNotFound        = errspkg.ErrServiceNotFound
	ErrTypeNotFound           = errspkg.ErrTypeNotFound
	ErrMethodNotFound         = errspkg.ErrMethodNotFound
	ErrUnknownMessage         = errspkg.ErrUnknownMessage
	ErrDispatchFailure        = errspkg.ErrDispatchFailure

	NewSlogLogger      = loggingpkg.NewSlogLogger
	NewWatermillLogger = loggingpkg.NewWatermillLogger
	NewNopLogger       = loggingpkg.NewNopLogger

	NewMessageID = idspkg.NewMessageID
)

const (
	// CorrelationIDKey is the envelope metadata key of the correlation id.
	CorrelationIDKey = runtimepkg.CorrelationIDKey
	// StatusPath serves NodeStatus next to /metrics.
	StatusPath = runtimepkg.StatusPath
)

// RegisterService makes impl reachable under key for proxies of T.
func RegisterService[T any](n *Node, key string, impl T) error {
	return runtimepkg.RegisterService(n, key, impl)
}

// ProxyFor returns a proxy that invokes T on the service registered under
// recipientKey at recipientPath.
func ProxyFor[T any](n *Node, recipientPath, recipientKey string) (*Proxy, error) {
	return runtimepkg.ProxyFor[T](n, recipientPath, recipientKey)
}
