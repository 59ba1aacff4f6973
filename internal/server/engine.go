package server

import (
	"net/http"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/rewrite"
)

// RewriteMiddleware runs every request through the engine before the
// application handler.
func RewriteMiddleware(eng *rewrite.Engine) func(http.Handler) http.Handler {
	return eng.Handler
}

// AccessLogListener copies the transaction id, final flow and any evaluation
// error of each transaction into the access log line.
type AccessLogListener struct{}

var _ ports.LifecycleListener = AccessLogListener{}

func (AccessLogListener) Name() string { return "access-log" }
func (AccessLogListener) Priority() int { return 100 }
func (AccessLogListener) Handles(rw ports.Rewrite) bool { return true }
func (AccessLogListener) BeforeInboundLifecycle(ports.InboundRewrite) {}
func (AccessLogListener) BeforeInboundRewrite(ports.InboundRewrite) {}
func (AccessLogListener) AfterInboundRewrite(ports.InboundRewrite) {}

func (AccessLogListener) AfterInboundLifecycle(rw ports.InboundRewrite) {
	if d, ok := rw.(interface{ Depth() int }); ok && d.Depth() > 0 {
		return
	}
	ctx := rw.Context()
	AddLogField(ctx, "transaction_id", rw.ID())
	AddLogField(ctx, "flow", rw.Flow().String())
	AddError(ctx, rw.Err())
}
