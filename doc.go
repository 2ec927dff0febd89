// Package messageless is one-way remote invocation on top of Watermill.
//
// A Node consumes envelopes addressed to its local path and sends envelopes to
// other paths. Calling a method on a Proxy never waits: the call is captured
// as an invocation message and published. Results travel back only through
// callback arguments. Each callback stays on the calling node under a fresh
// token, and the remote side receives a stand-in function that sends a
// callback message for that token when called. A token is consumed by the
// first callback message that reaches it, so every callback runs at most once.
//
// Methods and callbacks that cross the node boundary must return nothing or a
// single error. The error only reports local failures such as validation or a
// failed send. Variadic functions, channel parameters and callbacks passed
// through interface-typed parameters are rejected before anything is sent.
//
// # Ambient context
//
// Execute and Push stack a RemoteContext frame on a context.Context. A service
// method reads the frame of the invocation it is serving with CurrentContext.
// A frame carrying a timeout races every callback registered under it: if no
// callback message arrives in time, the node sends itself one with
// RemoteContext.TimedOut set and zero arguments.
//
//	ctx := messageless.Push(ctx, messageless.WithTimeout(5*time.Second))
//	_ = calculator.Add(ctx, 1, 2, func(ctx context.Context, sum int) {
//		if rc := messageless.CurrentContext(ctx); rc != nil && rc.TimedOut {
//			return
//		}
//		fmt.Println(sum)
//	})
//
// # Transports
//
// The transport is read from Config.PubSubSystem:
//   - channel: in-process hub, the default for tests
//   - kafka: consumer group per node
//   - rabbitmq: durable AMQP queues
//   - aws: SNS/SQS with LocalStack support
//   - nats: NATS Core
//   - nats-jetstream: durable NATS streams
//   - http: one POST endpoint per node
//   - sqlite: queue table in a local file, rows locked until acked
//   - postgres: queue table claimed with FOR UPDATE SKIP LOCKED
//
// # Middleware
//
// The router always runs a dispatch boundary that logs failed envelopes and
// acknowledges them. The default chain adds correlation ids, message logging,
// OpenTelemetry tracing, Prometheus metrics, poison queue forwarding and panic
// recovery. Extra middleware goes into NodeDependencies.Middlewares.
package messageless
