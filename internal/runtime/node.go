package runtime

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/messageless/internal/runtime/config"
	errspkg "github.com/drblury/messageless/internal/runtime/errors"
	idspkg "github.com/drblury/messageless/internal/runtime/ids"
	loggingpkg "github.com/drblury/messageless/internal/runtime/logging"
	metadatapkg "github.com/drblury/messageless/internal/runtime/metadata"
	"github.com/drblury/messageless/internal/runtime/methods"
	"github.com/drblury/messageless/internal/runtime/registry"
	"github.com/drblury/messageless/internal/runtime/timeouts"
	"github.com/drblury/messageless/internal/runtime/tokens"
	transportpkg "github.com/drblury/messageless/internal/runtime/transport"
	"github.com/drblury/messageless/internal/runtime/wire"
	"github.com/drblury/messageless/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// NodeDependencies holds the optional collaborators of a Node. Leave fields
// nil to get the defaults derived from the configuration.
type NodeDependencies struct {
	TransportFactory          transportpkg.Factory
	Serializer                wire.Serializer   // Overrides Config.Serializer.
	Resolver                  registry.Resolver // Defaults to a resolver owned by the node.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
	Hooks                     DispatchHooks
	MetricsRegisterer         prometheus.Registerer // Defaults to prometheus.DefaultRegisterer.
}

// Node is one addressable endpoint. It consumes envelopes sent to its local
// path, dispatches them to registered services and pending callbacks, and
// sends invocations and callbacks to other nodes.
type Node struct {
	Conf   *configpkg.Config
	Logger loggingpkg.Logger

	publisher    message.Publisher
	subscriber   message.Subscriber
	router       *message.Router
	capabilities transport.Capabilities
	serializer   wire.Serializer

	tokens     *tokens.Registry
	timeouts   *timeouts.Manager
	table      *methods.Table
	resolver   registry.Resolver
	dispatcher *Dispatcher
	hooks      DispatchHooks

	metrics           *NodeMetrics
	metricsRegisterer prometheus.Registerer

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	lifecycleMu sync.Mutex
	started     bool
	closed      atomic.Bool
	closeOnce   sync.Once
	closeErr    error
}

// NewNode constructs a Node and panics when the configuration or transport
// is unusable. Register services on the returned Node before calling Start.
func NewNode(conf *configpkg.Config, log loggingpkg.Logger, ctx context.Context, deps NodeDependencies) *Node {
	n, err := TryNewNode(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return n
}

// TryNewNode constructs a Node, returning an error instead of panicking.
func TryNewNode(conf *configpkg.Config, log loggingpkg.Logger, ctx context.Context, deps NodeDependencies) (*Node, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	serializer := deps.Serializer
	if serializer == nil {
		var err error
		if serializer, err = wire.SerializerFor(conf.Serializer); err != nil {
			return nil, err
		}
	}

	log = log.With(loggingpkg.LogFields{"local_path": conf.LocalPath})
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating node", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"serializer":    serializer.ContentType(),
		"config":        conf,
	})

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("messageless: build transport: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: conf.CloseTimeout}, wmLogger)
	if err != nil {
		return nil, err
	}
	router.AddPlugin(plugin.SignalsHandler)

	n := &Node{
		Conf:              conf,
		Logger:            log,
		publisher:         tr.Publisher,
		subscriber:        tr.Subscriber,
		router:            router,
		capabilities:      tr.Capabilities,
		serializer:        serializer,
		tokens:            tokens.NewRegistry(),
		table:             methods.NewTable(),
		resolver:          deps.Resolver,
		hooks:             deps.Hooks,
		metricsRegisterer: deps.MetricsRegisterer,
	}
	if n.resolver == nil {
		n.resolver = registry.NewMemory()
	}
	if n.metricsRegisterer == nil {
		n.metricsRegisterer = prometheus.DefaultRegisterer
	}

	n.metrics = NewNodeMetrics(conf.LocalPath, n.tokens.Len)
	if conf.MetricsEnabled {
		if err := n.metrics.Register(n.metricsRegisterer); err != nil {
			return nil, fmt.Errorf("messageless: register metrics: %w", err)
		}
	}

	n.timeouts = timeouts.NewManager(n, serializer, log, timeouts.WithFiredHook(func(string) {
		n.metrics.TimeoutFired()
	}))
	n.dispatcher = newDispatcher(n)

	if err := n.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	router.AddConsumerHandler("messageless_"+conf.LocalPath, conf.LocalPath, n.subscriber, n.handleMessage)

	return n, nil
}

func (n *Node) registerConfiguredMiddlewares(deps NodeDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares)+1)
	registrations = append(registrations, DispatchBoundaryMiddleware())
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := n.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("messageless: register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (n *Node) handleMessage(msg *message.Message) error {
	return n.dispatcher.Dispatch(msg.Context(), metadatapkg.FromMessage(msg))
}

// Start runs the router until ctx is cancelled or Close is called.
func (n *Node) Start(ctx context.Context) error {
	n.lifecycleMu.Lock()
	if n.closed.Load() {
		n.lifecycleMu.Unlock()
		return errspkg.ErrNodeClosed
	}
	n.started = true
	n.lifecycleMu.Unlock()

	n.registerStatusHandler()
	n.startHTTPServers()
	return routerRun(n.router, ctx)
}

// Running is closed once the node consumes its local path.
func (n *Node) Running() chan struct{} {
	return n.router.Running()
}

// Close stops the router, disarms pending timeouts and closes the transport.
// Pending callbacks are dropped.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.lifecycleMu.Lock()
		n.closed.Store(true)
		started := n.started
		n.lifecycleMu.Unlock()

		n.timeouts.Close()

		// A router that never ran waits for its full close timeout.
		if started {
			n.closeErr = n.router.Close()
		} else if err := n.subscriber.Close(); err != nil {
			n.closeErr = err
		}
		if err := n.publisher.Close(); err != nil && n.closeErr == nil {
			n.closeErr = err
		}
		n.Logger.Info("Node closed", loggingpkg.LogFields{"dropped_callbacks": n.tokens.Len()})
	})
	return n.closeErr
}

// LocalPath is the address other nodes use to reach this node.
func (n *Node) LocalPath() string {
	return n.Conf.LocalPath
}

// Capabilities describes the transport the node sends through.
func (n *Node) Capabilities() transport.Capabilities {
	return n.capabilities
}

// Metrics returns the node's counters.
func (n *Node) Metrics() *NodeMetrics {
	return n.metrics
}

// Send publishes env to its recipient path. It is the only outbound path of
// the node: it stamps the sender path and a fresh message id.
func (n *Node) Send(ctx context.Context, env wire.Envelope) error {
	return n.send(ctx, env, nil)
}

func (n *Node) send(ctx context.Context, env wire.Envelope, extra metadatapkg.Metadata) error {
	if n.closed.Load() {
		return errspkg.ErrNodeClosed
	}
	if env.RecipientPath == "" {
		return errspkg.ErrRecipientPathRequired
	}
	if !n.capabilities.Fits(len(env.Payload)) {
		return fmt.Errorf("messageless: payload of %d bytes exceeds the %d byte limit of %s",
			len(env.Payload), n.capabilities.MaxMessageSize, n.capabilities.Name)
	}

	env.SenderPath = n.Conf.LocalPath
	env.ID = idspkg.NewMessageID()

	msg := metadatapkg.ToMessage(env, n.serializer.ContentType(), extra)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return n.publisher.Publish(env.RecipientPath, msg)
}

// sendMessage serializes msg and sends it to path.
func (n *Node) sendMessage(ctx context.Context, path string, msg wire.Message) error {
	payload, err := n.serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("messageless: serialize %s: %w", msg.Kind(), err)
	}
	return n.send(ctx, wire.Envelope{Payload: payload, RecipientPath: path},
		metadatapkg.New(metadatapkg.KeyKind, string(msg.Kind())))
}

// Register makes impl reachable under key for callers holding a proxy of
// iface. The resolver must accept registrations.
func (n *Node) Register(key string, iface reflect.Type, impl any) error {
	registrar, ok := n.resolver.(registry.Registrar)
	if !ok {
		return errspkg.ErrResolverNotWritable
	}
	if err := registrar.Register(key, iface, impl); err != nil {
		return err
	}
	if err := n.table.Register(iface); err != nil {
		return err
	}
	n.Logger.Debug("Registered service", loggingpkg.LogFields{
		"key":       key,
		"interface": methods.TypeName(iface),
	})
	return nil
}

// Expose adds iface to the method table without registering an instance.
// Nodes backed by an external resolver use it to declare what they serve.
func (n *Node) Expose(iface reflect.Type) error {
	return n.table.Register(iface)
}

// RegisterService registers impl under key for the interface T.
func RegisterService[T any](n *Node, key string, impl T) error {
	return n.Register(key, reflect.TypeFor[T](), impl)
}

// NewProxy returns a proxy that sends invocations of iface methods to the
// service registered under recipientKey on the node at recipientPath.
func (n *Node) NewProxy(iface reflect.Type, recipientPath, recipientKey string) (*Proxy, error) {
	switch {
	case iface == nil || iface.Kind() != reflect.Interface:
		return nil, errspkg.ErrInterfaceRequired
	case recipientPath == "":
		return nil, errspkg.ErrRecipientPathRequired
	case recipientKey == "":
		return nil, errspkg.ErrRecipientKeyRequired
	}
	return &Proxy{node: n, iface: iface, path: recipientPath, key: recipientKey}, nil
}

// ProxyFor returns a proxy for the interface T.
func ProxyFor[T any](n *Node, recipientPath, recipientKey string) (*Proxy, error) {
	return n.NewProxy(reflect.TypeFor[T](), recipientPath, recipientKey)
}

// PendingCallbacks reports how many callbacks await their single invocation.
func (n *Node) PendingCallbacks() int {
	return n.tokens.Len()
}

// PendingTimeouts reports how many callback timeouts are armed.
func (n *Node) PendingTimeouts() int {
	return n.timeouts.Pending()
}

// RegisterHTTPHandler serves handler under pattern on port when the node starts.
func (n *Node) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	n.httpServersMu.Lock()
	defer n.httpServersMu.Unlock()

	if n.httpServers == nil {
		n.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := n.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		n.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (n *Node) startHTTPServers() {
	n.httpServersMu.Lock()
	defer n.httpServersMu.Unlock()

	for port, mux := range n.httpServers {
		addr := fmt.Sprintf(":%d", port)
		n.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				n.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}
