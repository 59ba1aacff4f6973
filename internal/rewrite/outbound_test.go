package rewrite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/registry"
)

// outboundRule prefixes outbound URLs with the binding "prefix", or /out.
func outboundRule() ports.Rule {
	return ports.Rule{
		Name: "prefix",
		Condition: ports.ConditionFunc(func(_ context.Context, rw ports.Rewrite) (bool, error) {
			return rw.Direction() == domain.Outbound, nil
		}),
		Operation: ports.OperationFunc(func(_ context.Context, rw ports.Rewrite) error {
			out := rw.(ports.OutboundRewrite)
			prefix, ok := rw.Bindings().Get("prefix").(string)
			if !ok {
				prefix = "/out"
			}
			out.SetURL(prefix + out.URL())
			return rw.SetFlow(domain.FlowHandled)
		}),
	}
}

func TestEncodeURL(t *testing.T) {
	eng := newTestEngine(t, registry.Participants{
		Providers: []ports.RuleProvider{&mockProvider{name: "p", rules: []ports.Rule{
			{
				Name: "bind",
				Condition: ports.ConditionFunc(func(_ context.Context, rw ports.Rewrite) (bool, error) {
					return rw.Direction() == domain.Inbound, nil
				}),
				Operation: ports.OperationFunc(func(_ context.Context, rw ports.Rewrite) error {
					rw.Bindings().Put("prefix", "/v2")
					return nil
				}),
			},
			outboundRule(),
		}}},
	})

	var encoded string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoded = EncodeURL(r, "/store/product/1")
	})
	serve(eng, next, "/")

	if encoded != "/v2/store/product/1" {
		t.Errorf("EncodeURL() = %q, want /v2/store/product/1", encoded)
	}
}

func TestEncodeURL_OutsideTransaction(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := EncodeURL(r, "/a"); got != "/a" {
		t.Errorf("EncodeURL() = %q, want unchanged", got)
	}
}

func TestRewriteOutbound(t *testing.T) {
	tests := []struct {
		name     string
		outbound []ports.OutboundProducer
		url      string
		want     string
	}{
		{
			name: "rewritten",
			url:  "/a",
			want: "/out/a",
		},
		{
			name:     "no producer",
			outbound: []ports.OutboundProducer{},
			url:      "/a",
			want:     "/a",
		},
		{
			name: "empty url produces no event",
			url:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, registry.Participants{
				Outbound:  tt.outbound,
				Providers: []ports.RuleProvider{&mockProvider{name: "p", rules: []ports.Rule{outboundRule()}}},
			})

			got, err := eng.RewriteOutbound(httptest.NewRequest(http.MethodGet, "/", nil), tt.url)
			if err != nil {
				t.Fatalf("RewriteOutbound() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("RewriteOutbound() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRewriteOutbound_Error(t *testing.T) {
	eng := newTestEngine(t, registry.Participants{
		Providers: []ports.RuleProvider{&mockProvider{name: "p", rules: []ports.Rule{
			rule("fails", func(ports.Rewrite) error { return domain.NewIllegalState("encode", "nope") }),
		}}},
	})

	got, err := eng.RewriteOutbound(httptest.NewRequest(http.MethodGet, "/", nil), "/a")
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("RewriteOutbound() error = %v", err)
	}
	if got != "/a" {
		t.Errorf("RewriteOutbound() = %q, want the original url on error", got)
	}
}

func TestNewOutboundEvent_SharesTransaction(t *testing.T) {
	ev := NewEvent(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	ev.SetRequest(ev.Request())
	ev.Bindings().Put("k", "v")

	out := NewOutboundEvent(ev.Request(), "/x")
	if out.ID() != ev.ID() {
		t.Errorf("ID() = %s, want %s", out.ID(), ev.ID())
	}
	if out.Bindings().Get("k") != "v" {
		t.Error("outbound event should share the transaction bindings")
	}
	if out.Direction() != domain.Outbound {
		t.Errorf("Direction() = %s", out.Direction())
	}
}
