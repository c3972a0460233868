// Package kit holds the transport-agnostic endpoint plumbing shared by the
// HTTP and MCP surfaces: a uniform Endpoint signature, middleware chaining,
// and request-scoped context accessors.
package kit

import "context"

// Endpoint is one service operation, independent of transport.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first argument becomes the outermost one.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
