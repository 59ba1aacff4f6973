package response

import (
	"net/http"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// Wrapper installs a Writer on every inbound transaction. A response that
// already carries a Writer, as in forwarded passes, is left alone.
type Wrapper struct {
	priority int
}

var _ ports.RequestCycleWrapper = (*Wrapper)(nil)

// NewWrapper returns the buffering wrapper.
func NewWrapper(priority int) *Wrapper {
	return &Wrapper{priority: priority}
}

func (*Wrapper) Name() string { return "response-buffer" }
func (w *Wrapper) Priority() int { return w.priority }

func (*Wrapper) Handles(rw ports.Rewrite) bool {
	return rw.Direction() == domain.Inbound
}

func (*Wrapper) WrapRequest(r *http.Request, _ http.ResponseWriter) (*http.Request, error) {
	return r, nil
}

func (*Wrapper) WrapResponse(_ *http.Request, w http.ResponseWriter) (http.ResponseWriter, error) {
	if _, ok := Find(w); ok {
		return w, nil
	}
	return NewWriter(w), nil
}

// Find walks the Unwrap chain of w looking for a Writer.
func Find(w http.ResponseWriter) (*Writer, bool) {
	for w != nil {
		if bw, ok := w.(*Writer); ok {
			return bw, true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return nil, false
		}
		w = u.Unwrap()
	}
	return nil, false
}

// Current returns the Writer of an inbound transaction.
func Current(rw ports.InboundRewrite) (*Writer, error) {
	if bw, ok := Find(rw.Response()); ok {
		return bw, nil
	}
	return nil, domain.NewIllegalState("response", "no buffering wrapper is active for this transaction")
}
