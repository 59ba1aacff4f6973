package rewrite

import (
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// HTTPInboundProducer produces an Event for every request except those
// under one of the skipped path prefixes.
type HTTPInboundProducer struct {
	skip []string
}

var _ ports.InboundProducer = (*HTTPInboundProducer)(nil)

// NewHTTPInboundProducer returns the default inbound producer.
func NewHTTPInboundProducer(skipPrefixes ...string) *HTTPInboundProducer {
	return &HTTPInboundProducer{skip: skipPrefixes}
}

func (p *HTTPInboundProducer) Name() string { return "http" }
func (p *HTTPInboundProducer) Priority() int { return 0 }

func (p *HTTPInboundProducer) Produce(w http.ResponseWriter, r *http.Request) ports.InboundRewrite {
	if r == nil || w == nil {
		return nil
	}
	for _, prefix := range p.skip {
		if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
			return nil
		}
	}
	return NewEvent(w, r)
}

// HTTPOutboundProducer produces an OutboundEvent for every non-empty URL.
type HTTPOutboundProducer struct{}

var _ ports.OutboundProducer = HTTPOutboundProducer{}

func (HTTPOutboundProducer) Name() string { return "http" }
func (HTTPOutboundProducer) Priority() int { return 0 }

func (HTTPOutboundProducer) Produce(r *http.Request, url string) ports.OutboundRewrite {
	if url == "" {
		return nil
	}
	return NewOutboundEvent(r, url)
}
