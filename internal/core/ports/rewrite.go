// Package ports defines the core interfaces of the rewrite engine.
// This file contains the transaction views handed to rules and participants.
package ports

import (
	"context"
	"net/http"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
)

// Rewrite is the view of one transaction shared by inbound and outbound
// rewrites. It is owned by a single goroutine for its whole lifetime.
type Rewrite interface {
	// ID returns the opaque transaction identity.
	ID() string
	// Context returns the context of the current request.
	Context() context.Context
	// Direction reports whether this is an inbound or outbound rewrite.
	Direction() domain.Direction
	// Request returns the current (possibly wrapped) request.
	Request() *http.Request
	// Flow returns the flow status of the current pass.
	Flow() domain.Flow
	// SetFlow changes the flow status. Moving from a terminal flow back to a
	// non-terminal one returns domain.ErrFlowRegression.
	SetFlow(f domain.Flow) error
	// Bindings returns the binding store of the transaction.
	Bindings() *domain.Bindings
}

// InboundRewrite is the transaction context of an inbound request.
type InboundRewrite interface {
	Rewrite
	// Response returns the current (possibly wrapped) response writer.
	Response() http.ResponseWriter
	// SetRequest replaces the request handle.
	SetRequest(r *http.Request)
	// SetResponse replaces the response handle.
	SetResponse(w http.ResponseWriter)
	// ForwardTo marks the flow as FORWARD; once evaluation ends the engine
	// re-enters itself with the given path instead of dispatching downstream.
	ForwardTo(path string) error
	// Include serves path through the engine immediately, writing into the
	// current response, and marks the flow as INCLUDE.
	Include(path string) error
	// Err returns the evaluation error that aborted the pipeline, if any.
	Err() error
}

// OutboundRewrite is the transaction context of a URL being encoded by the
// application on its way to the client.
type OutboundRewrite interface {
	Rewrite
	// URL returns the current outbound address.
	URL() string
	// SetURL replaces the outbound address.
	SetURL(url string)
}
