// Package rules is the vocabulary used to write rewrite rules: conditions,
// operations, a fluent configuration builder and an in-code rule provider.
//
//	cfg := rules.Begin().
//		Define("product").
//		When(rules.And(rules.Method(http.MethodGet), rules.Path("/store/product/{pid}"))).
//		Perform(rules.Forward("/products?id={pid}")).
//		Build()
//
// Conditions bind what they capture (path parameters, regexp groups, query
// values) into the transaction bindings, and operation arguments can refer
// to bindings with {name}.
package rules

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// PathCondition matches the request path, or the path of an outbound URL,
// against a chi route pattern.
type PathCondition struct {
	pattern string
	mux     *chi.Mux
}

// NewPath compiles a chi route pattern such as /store/product/{pid} or
// /files/{id:[0-9]+}/*.
func NewPath(pattern string) (c *PathCondition, err error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("path pattern %q must begin with '/'", pattern)
	}

	defer func() {
		// chi reports invalid patterns by panicking.
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("invalid path pattern %q: %v", pattern, r)
		}
	}()

	mux := chi.NewRouter()
	mux.Handle(pattern, http.NotFoundHandler())
	return &PathCondition{pattern: pattern, mux: mux}, nil
}

// Path is NewPath for patterns known to be valid; it panics otherwise.
func Path(pattern string) *PathCondition {
	c, err := NewPath(pattern)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *PathCondition) String() string { return "path " + c.pattern }

func (c *PathCondition) Evaluate(_ context.Context, rw ports.Rewrite) (bool, error) {
	path, ok := targetPath(rw)
	if !ok {
		return false, nil
	}

	rctx := chi.NewRouteContext()
	if !c.mux.Match(rctx, requestMethod(rw), path) {
		return false, nil
	}
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			key = "wildcard"
		}
		rw.Bindings().Put(key, rctx.URLParams.Values[i])
	}
	return true, nil
}

// RegexpCondition matches the path with a regular expression. Named groups
// are bound.
type RegexpCondition struct {
	re *regexp.Regexp
}

// NewPathRegexp compiles expr.
func NewPathRegexp(expr string) (*RegexpCondition, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid path regexp: %w", err)
	}
	return &RegexpCondition{re: re}, nil
}

// PathRegexp is NewPathRegexp that panics on an invalid expression.
func PathRegexp(expr string) *RegexpCondition {
	c, err := NewPathRegexp(expr)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *RegexpCondition) Evaluate(_ context.Context, rw ports.Rewrite) (bool, error) {
	path, ok := targetPath(rw)
	if !ok {
		return false, nil
	}
	m := c.re.FindStringSubmatch(path)
	if m == nil {
		return false, nil
	}
	for i, name := range c.re.SubexpNames() {
		if name != "" {
			rw.Bindings().Put(name, m[i])
		}
	}
	return true, nil
}

// Method matches any of the given request methods.
func Method(methods ...string) ports.Condition {
	return ports.ConditionFunc(func(_ context.Context, rw ports.Rewrite) (bool, error) {
		m := requestMethod(rw)
		for _, want := range methods {
			if strings.EqualFold(m, want) {
				return true, nil
			}
		}
		return false, nil
	})
}

// Header matches when any value of the request header matches pattern. An
// empty pattern only requires the header to be present.
func Header(name, pattern string) (ports.Condition, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid pattern for header %s: %w", name, err)
		}
	}

	return ports.ConditionFunc(func(_ context.Context, rw ports.Rewrite) (bool, error) {
		r := rw.Request()
		if r == nil {
			return false, nil
		}
		values := r.Header.Values(name)
		if re == nil {
			return len(values) > 0, nil
		}
		for _, v := range values {
			if re.MatchString(v) {
				return true, nil
			}
		}
		return false, nil
	}), nil
}

// Query matches when the query parameter is present and binds its first
// value under the same name.
func Query(name string) ports.Condition {
	return ports.ConditionFunc(func(_ context.Context, rw ports.Rewrite) (bool, error) {
		q, ok := targetQuery(rw)
		if !ok || !q.Has(name) {
			return false, nil
		}
		rw.Bindings().Put(name, q.Get(name))
		return true, nil
	})
}

// Direction matches rewrites going the given way.
func Direction(d domain.Direction) ports.Condition {
	return ports.ConditionFunc(func(_ context.Context, rw ports.Rewrite) (bool, error) {
		return rw.Direction() == d, nil
	})
}

// Always matches every rewrite.
func Always() ports.Condition {
	return ports.ConditionFunc(func(context.Context, ports.Rewrite) (bool, error) { return true, nil })
}

// Never matches nothing.
func Never() ports.Condition {
	return ports.ConditionFunc(func(context.Context, ports.Rewrite) (bool, error) { return false, nil })
}

// And matches when every condition matches, evaluated left to right. It
// stops at the first one that does not.
func And(conds ...ports.Condition) ports.Condition {
	return ports.ConditionFunc(func(ctx context.Context, rw ports.Rewrite) (bool, error) {
		for _, c := range conds {
			ok, err := c.Evaluate(ctx, rw)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// Or matches when any condition matches.
func Or(conds ...ports.Condition) ports.Condition {
	return ports.ConditionFunc(func(ctx context.Context, rw ports.Rewrite) (bool, error) {
		for _, c := range conds {
			ok, err := c.Evaluate(ctx, rw)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})
}

// Not inverts c. Errors are not inverted.
func Not(c ports.Condition) ports.Condition {
	return ports.ConditionFunc(func(ctx context.Context, rw ports.Rewrite) (bool, error) {
		ok, err := c.Evaluate(ctx, rw)
		if err != nil {
			return false, err
		}
		return !ok, nil
	})
}

func requestMethod(rw ports.Rewrite) string {
	if r := rw.Request(); r != nil {
		return r.Method
	}
	return http.MethodGet
}

// targetURL is the URL a condition looks at: the outbound address for
// outbound rewrites, the request URL otherwise.
func targetURL(rw ports.Rewrite) (*url.URL, bool) {
	if out, ok := rw.(ports.OutboundRewrite); ok {
		u, err := url.Parse(out.URL())
		if err != nil {
			return nil, false
		}
		return u, true
	}
	if r := rw.Request(); r != nil && r.URL != nil {
		return r.URL, true
	}
	return nil, false
}

func targetPath(rw ports.Rewrite) (string, bool) {
	u, ok := targetURL(rw)
	if !ok {
		return "", false
	}
	if u.Path == "" {
		return "/", true
	}
	return u.Path, true
}

func targetQuery(rw ports.Rewrite) (url.Values, bool) {
	u, ok := targetURL(rw)
	if !ok {
		return nil, false
	}
	return u.Query(), true
}
