/*
Package runtime provides one-way remote invocation between nodes.

# Architecture Overview

A Node owns a transport (a Watermill publisher and subscriber pair) and a
Watermill router consuming the node's local path. Calls made through a Proxy
become invocation messages; callback arguments stay on the calling node under
opaque tokens and come back as callback messages when the remote side invokes
them. Nothing waits for a reply.

# Package Structure

## Node (node.go)

The Node wires together:
  - Message router (Watermill) subscribed to the local path
  - Publisher used by every outbound envelope (Node.Send)
  - Middleware chain
  - Token registry, timeout manager, method table and resolver
  - HTTP server for metrics

## Proxy and callbacks (proxy.go, callback.go, arguments.go)

Proxy.Invoke checks a call against the interface method, stores callback
arguments under tokens, arms their timeouts and sends the invocation.
Callback stand-ins built during dispatch do the same for callback calls.

## Dispatcher (dispatcher.go)

Routes inbound envelopes: invocations to the service resolved by key and
declaring interface, callbacks to the stored function consumed by token.

## Middleware (middleware.go)

  - DispatchBoundary: logs failures and acknowledges the envelope
  - CorrelationID: Ensures message traceability
  - LogMessages: Debug logging of envelope metadata
  - Tracer: OpenTelemetry distributed tracing
  - Metrics: Prometheus router metrics
  - PoisonQueue: Forwards envelopes whose dispatch failed
  - Recoverer: Panic recovery
  - Retry: opt-in, for invocations that arrive before their service

# Sub-packages

  - callctx/: ambient remote context carried by context.Context
  - config/: Node configuration with validation
  - errors/: Sentinel errors and error types
  - ids/: ULID message ids and UUID callback tokens
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Envelope metadata utilities
  - methods/: signature rules and the method table
  - registry/: service resolvers
  - timeouts/: callback timeout manager
  - tokens/: callback token registry
  - transport/: transport factory over the transport registry
  - wire/: messages and serializers
*/
package runtime
