package ports

import (
	"context"
	"net/http"
)

// Weighted is implemented by every participant. Lower priorities run first.
type Weighted interface {
	Priority() int
}

// Named is an optional participant capability used in logs.
type Named interface {
	Name() string
}

// LifecycleListener observes the whole transaction (Before/AfterInboundLifecycle)
// and the rule evaluation phase (Before/AfterInboundRewrite).
type LifecycleListener interface {
	Weighted
	Handles(rw Rewrite) bool
	BeforeInboundLifecycle(rw InboundRewrite)
	BeforeInboundRewrite(rw InboundRewrite)
	AfterInboundRewrite(rw InboundRewrite)
	AfterInboundLifecycle(rw InboundRewrite)
}

// RequestCycleWrapper replaces the request and response handles before rules
// are evaluated. Wrappers compose in priority order.
type RequestCycleWrapper interface {
	Weighted
	Handles(rw Rewrite) bool
	WrapRequest(r *http.Request, w http.ResponseWriter) (*http.Request, error)
	WrapResponse(r *http.Request, w http.ResponseWriter) (http.ResponseWriter, error)
}

// RuleProvider contributes an ordered rule set.
type RuleProvider interface {
	Weighted
	Handles(rw Rewrite) bool
	// Configuration returns the provider's rules. A nil configuration is
	// treated as an empty rule set.
	Configuration(ctx context.Context, env Environment) (*Configuration, error)
}

// ReloadingProvider is implemented by rule providers whose configuration can
// change after boot. The engine asks them for their configuration on every
// pass instead of caching the first result.
type ReloadingProvider interface {
	Reloads() bool
}

// ResultHandler runs after downstream dispatch, whether or not it happened.
type ResultHandler interface {
	Weighted
	Handles(rw Rewrite) bool
	HandleResult(rw InboundRewrite)
}

// InboundProducer turns a raw request/response pair into a transaction
// context. Returning nil means "no event": the engine stays out of the way.
type InboundProducer interface {
	Weighted
	Produce(w http.ResponseWriter, r *http.Request) InboundRewrite
}

// OutboundProducer turns an application generated URL into an outbound
// rewrite. Returning nil means "no event".
type OutboundProducer interface {
	Weighted
	Produce(r *http.Request, url string) OutboundRewrite
}

// Finisher is implemented by wrapped responses that hold output until the
// transaction ends.
type Finisher interface {
	Finish() error
}

// Discarder is implemented by wrapped responses that can drop held output,
// used when a transaction fails.
type Discarder interface {
	Discard()
}

// AbortFinisher is implemented by wrapped responses that can send what was
// written so far without their pending transformations, used when a
// transaction is aborted.
type AbortFinisher interface {
	FinishAborted() error
}
