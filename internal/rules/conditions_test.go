package rules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/rewrite"
)

func newEvent(method, target string) *rewrite.Event {
	return rewrite.NewEvent(httptest.NewRecorder(), httptest.NewRequest(method, target, nil))
}

func eval(t *testing.T, c ports.Condition, rw ports.Rewrite) bool {
	t.Helper()
	ok, err := c.Evaluate(context.Background(), rw)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	return ok
}

func TestPath(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		target   string
		want     bool
		bindings map[string]string
	}{
		{"literal", "/store/products", "/store/products", true, nil},
		{"param", "/store/product/{pid}", "/store/product/42", true, map[string]string{"pid": "42"}},
		{"regexp param", "/store/product/{pid:[0-9]+}", "/store/product/abc", false, nil},
		{"two params", "/u/{user}/p/{page}", "/u/ann/p/7?x=1", true, map[string]string{"user": "ann", "page": "7"}},
		{"wildcard", "/static/*", "/static/css/site.css", true, map[string]string{"wildcard": "css/site.css"}},
		{"no match", "/store/products", "/other", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := newEvent(http.MethodGet, tt.target)
			if got := eval(t, Path(tt.pattern), ev); got != tt.want {
				t.Errorf("Path(%q) on %s = %v, want %v", tt.pattern, tt.target, got, tt.want)
			}
			for k, v := range tt.bindings {
				if got := ev.Bindings().String(k); got != v {
					t.Errorf("binding %s = %q, want %q", k, got, v)
				}
			}
		})
	}
}

func TestNewPath_Invalid(t *testing.T) {
	for _, pattern := range []string{"no-slash", "/{unclosed"} {
		if _, err := NewPath(pattern); err == nil {
			t.Errorf("NewPath(%q) should fail", pattern)
		}
	}
}

func TestPath_Outbound(t *testing.T) {
	out := rewrite.NewOutboundEvent(nil, "/store/product/9?format=xml")
	if !eval(t, Path("/store/product/{pid}"), out) {
		t.Fatal("outbound URL should match")
	}
	if got := out.Bindings().String("pid"); got != "9" {
		t.Errorf("pid = %q, want 9", got)
	}
}

func TestPathRegexp(t *testing.T) {
	ev := newEvent(http.MethodGet, "/archive/2024/05")
	c := PathRegexp(`^/archive/(?P<year>\d{4})/(?P<month>\d{2})$`)

	if !eval(t, c, ev) {
		t.Fatal("PathRegexp should match")
	}
	if got := ev.Bindings().String("year"); got != "2024" {
		t.Errorf("year = %q, want 2024", got)
	}
	if got := ev.Bindings().String("month"); got != "05" {
		t.Errorf("month = %q, want 05", got)
	}

	if _, err := NewPathRegexp("("); err == nil {
		t.Error("NewPathRegexp with an invalid pattern should fail")
	}
}

func TestMethodHeaderQuery(t *testing.T) {
	ev := newEvent(http.MethodPost, "/search?q=shoes")
	ev.Request().Header.Set("Accept", "application/xml")

	if !eval(t, Method("get", "post"), ev) {
		t.Error("Method should match case-insensitively")
	}
	if eval(t, Method(http.MethodDelete), ev) {
		t.Error("Method(DELETE) matched a POST")
	}

	accept, err := Header("Accept", "xml$")
	if err != nil {
		t.Fatalf("Header() error = %v", err)
	}
	if !eval(t, accept, ev) {
		t.Error("Accept header should match")
	}

	present, err := Header("X-Missing", "")
	if err != nil {
		t.Fatalf("Header() error = %v", err)
	}
	if eval(t, present, ev) {
		t.Error("missing header matched")
	}

	if _, err := Header("Accept", "["); err == nil {
		t.Error("Header with an invalid pattern should fail")
	}

	if !eval(t, Query("q"), ev) {
		t.Error("Query(q) should match")
	}
	if got := ev.Bindings().String("q"); got != "shoes" {
		t.Errorf("q = %q, want shoes", got)
	}
	if eval(t, Query("page"), ev) {
		t.Error("Query(page) matched without the parameter")
	}
}

func TestLogic(t *testing.T) {
	ev := newEvent(http.MethodGet, "/")
	boom := ports.ConditionFunc(func(context.Context, ports.Rewrite) (bool, error) {
		t.Fatal("condition should not be evaluated")
		return false, nil
	})

	tests := []struct {
		name string
		c    ports.Condition
		want bool
	}{
		{"and", And(Always(), Always()), true},
		{"and short circuit", And(Never(), boom), false},
		{"or short circuit", Or(Always(), boom), true},
		{"or", Or(Never(), Never()), false},
		{"not", Not(Never()), true},
		{"inbound", Direction(domain.Inbound), true},
		{"outbound", Direction(domain.Outbound), false},
	}
	for _, tt := range tests {
		if got := eval(t, tt.c, ev); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCEL(t *testing.T) {
	ev := newEvent(http.MethodGet, "/store/products?page=2")
	ev.Request().Header.Set("X-Debug", "1")
	ev.Bindings().Put("tenant", "acme")

	tests := []struct {
		expr string
		want bool
	}{
		{`request.method == "GET"`, true},
		{`request.path.startsWith("/store/")`, true},
		{`"X-Debug" in request.headers`, true},
		{`request.query["page"][0] == "2"`, true},
		{`bindings["tenant"] == "acme"`, true},
		{`direction == "outbound"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := NewCEL(tt.expr)
			if err != nil {
				t.Fatalf("NewCEL() error = %v", err)
			}
			if got := eval(t, c, ev); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewCEL_Errors(t *testing.T) {
	if _, err := NewCEL(`request.method ==`); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := NewCEL(`request.path`); err == nil {
		t.Error("expected error for non-bool result")
	}
}

func TestExpr(t *testing.T) {
	ev := newEvent(http.MethodPost, "/store/products")
	ev.Bindings().Put("role", "admin")

	tests := []struct {
		expr string
		want bool
	}{
		{`method == "POST" && path startsWith "/store/"`, true},
		{`bindings.role == "admin"`, true},
		{`direction == "inbound"`, true},
		{`len(query) > 0`, false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := NewExpr(tt.expr)
			if err != nil {
				t.Fatalf("NewExpr() error = %v", err)
			}
			if got := eval(t, c, ev); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := NewExpr(`method +`); err == nil {
		t.Error("expected syntax error")
	}
	if _, err := NewExpr(`path`); err == nil {
		t.Error("expected error for non-bool result")
	}
}
