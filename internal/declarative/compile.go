// Package declarative compiles rule sets written in the configuration file
// into rewrite rules, and serves them through a reloadable rule provider.
//
//	rulesets:
//	  - name: store
//	    priority: 10
//	    path_prefix: /store
//	    rules:
//	      - name: legacy-product
//	        when:
//	          path: /store/item/{pid}
//	          methods: [GET]
//	        perform:
//	          - type: redirect
//	            args: {target: "/store/product/{pid}", code: 301}
package declarative

import (
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/tjfontaine/polyglot-rewrite/internal/config"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/rules"
)

// Compile turns rule sets into one configuration. Sets are ordered by
// priority, rules inside a set by their own priority, and ties keep the
// order of the file.
func Compile(sets []config.RuleSetConfig, logger *slog.Logger) (*ports.Configuration, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ordered := make([]config.RuleSetConfig, len(sets))
	copy(ordered, sets)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var out []ports.Rule
	for _, set := range ordered {
		compiled, err := compileSet(set, logger)
		if err != nil {
			return nil, fmt.Errorf("ruleset %s: %w", set.Name, err)
		}
		out = append(out, compiled...)
	}

	// The engine sorts rules by priority; positions keep the order above.
	for i := range out {
		out[i].Priority = i
	}
	return &ports.Configuration{Rules: out}, nil
}

func compileSet(set config.RuleSetConfig, logger *slog.Logger) ([]ports.Rule, error) {
	scope := []ports.Condition{rules.Direction(domain.Inbound)}
	if set.Outbound {
		scope[0] = rules.Direction(domain.Outbound)
	}
	if set.PathPrefix != "" {
		scope = append(scope, pathPrefix(set.PathPrefix))
	}

	ordered := make([]config.RuleConfig, len(set.Rules))
	copy(ordered, set.Rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	out := make([]ports.Rule, 0, len(ordered))
	for i, rc := range ordered {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}

		cond, err := compileCondition(rc.When)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}

		ops := make([]ports.Operation, 0, len(rc.Perform))
		for j, oc := range rc.Perform {
			o, err := compileOperation(oc, logger)
			if err != nil {
				return nil, fmt.Errorf("rule %s: perform[%d]: %w", name, j, err)
			}
			ops = append(ops, o)
		}

		out = append(out, ports.Rule{
			Name:      set.Name + "/" + name,
			Condition: rules.And(append(scope[:len(scope):len(scope)], cond)...),
			Operation: rules.Chain(ops...),
		})
	}
	return out, nil
}

// compileCondition combines every populated field of c with And.
func compileCondition(c config.ConditionConfig) (ports.Condition, error) {
	var conds []ports.Condition

	if c.Path != "" {
		p, err := rules.NewPath(c.Path)
		if err != nil {
			return nil, err
		}
		conds = append(conds, p)
	}
	if c.PathRegexp != "" {
		p, err := rules.NewPathRegexp(c.PathRegexp)
		if err != nil {
			return nil, err
		}
		conds = append(conds, p)
	}
	if len(c.Methods) > 0 {
		conds = append(conds, rules.Method(c.Methods...))
	}

	headers := make([]string, 0, len(c.Headers))
	for name := range c.Headers {
		headers = append(headers, name)
	}
	sort.Strings(headers)
	for _, name := range headers {
		h, err := rules.Header(name, c.Headers[name])
		if err != nil {
			return nil, err
		}
		conds = append(conds, h)
	}

	for _, q := range c.Query {
		conds = append(conds, rules.Query(q))
	}
	if c.CEL != "" {
		e, err := rules.NewCEL(c.CEL)
		if err != nil {
			return nil, err
		}
		conds = append(conds, e)
	}
	if c.Expr != "" {
		e, err := rules.NewExpr(c.Expr)
		if err != nil {
			return nil, err
		}
		conds = append(conds, e)
	}

	var cond ports.Condition
	switch len(conds) {
	case 0:
		cond = rules.Always()
	case 1:
		cond = conds[0]
	default:
		cond = rules.And(conds...)
	}
	if c.Negate {
		cond = rules.Not(cond)
	}
	return cond, nil
}

func pathPrefix(prefix string) ports.Condition {
	return rules.PathRegexp("^" + regexp.QuoteMeta(strings.TrimSuffix(prefix, "/")) + "(/|$)")
}

// Operation arguments, decoded from the args map of each perform entry.
type (
	statusArgs struct {
		Code int `mapstructure:"code"`
	}
	headerArgs struct {
		Name  string `mapstructure:"name"`
		Value string `mapstructure:"value"`
	}
	cookieArgs struct {
		Name     string `mapstructure:"name"`
		Value    string `mapstructure:"value"`
		Path     string `mapstructure:"path"`
		MaxAge   int    `mapstructure:"max_age"`
		HTTPOnly bool   `mapstructure:"http_only"`
		Secure   bool   `mapstructure:"secure"`
	}
	writeArgs struct {
		Value string `mapstructure:"value"`
	}
	targetArgs struct {
		Target string `mapstructure:"target"`
		Code   int    `mapstructure:"code"`
	}
	bindArgs struct {
		Key   string `mapstructure:"key"`
		Value string `mapstructure:"value"`
	}
	logArgs struct {
		Level   string `mapstructure:"level"`
		Message string `mapstructure:"message"`
	}
	replaceArgs struct {
		Pattern     string `mapstructure:"pattern"`
		Replacement string `mapstructure:"replacement"`
	}
	gzipArgs struct {
		Level int `mapstructure:"level"`
	}
)

// OperationTypes lists the operation types accepted in perform entries.
var OperationTypes = []string{
	"handled", "abort", "status", "add-header", "set-header", "add-cookie",
	"write", "redirect", "forward", "include", "rewrite-url", "bind", "log",
	"replace-body", "gzip",
}

func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func compileOperation(oc config.OperationConfig, logger *slog.Logger) (ports.Operation, error) {
	switch oc.Type {
	case "handled":
		return rules.Handled(), nil

	case "abort":
		return rules.Abort(), nil

	case "status":
		var a statusArgs
		if err := decodeArgs(oc.Args, &a); err != nil {
			return nil, err
		}
		if a.Code < 100 || a.Code > 599 {
			return nil, fmt.Errorf("invalid status code %d", a.Code)
		}
		return rules.SetStatus(a.Code), nil

	case "add-header", "set-header":
		var a headerArgs
		if err := decodeArgs(oc.Args, &a); err != nil {
			return nil, err
		}
		if err := required("name", a.Name); err != nil {
			return nil, err
		}
		if oc.Type == "add-header" {
			return rules.AddHeader(a.Name, a.Value), nil
		}
		return rules.SetHeader(a.Name, a.Value), nil

	case "add-cookie":
		var a cookieArgs
		if err := decodeArgs(oc.Args, &a); err != nil {
			return nil, err
		}
		if err := required("name", a.Name); err != nil {
			return nil, err
		}
		return rules.AddCookie(&http.Cookie{
			Name:     a.Name,
			Value:    a.Value,
			Path:     a.Path,
			MaxAge:   a.MaxAge,
			HttpOnly: a.HTTPOnly,
			Secure:   a.Secure,
		}), nil

	case "write":
		var a writeArgs
		if err := decodeArgs(oc.Args, &a); err != nil {
			return nil, err
		}
		return rules.Write(a.Value), nil

	case "redirect", "forward", "include", "rewrite-url":
		var a targetArgs
		if err := decodeArgs(oc.Args, &a); err != nil {
			return nil, err
		}
		if err := required("target", a.Target); err != nil {
			return nil, err
		}
		switch oc.Type {
		case "redirect":
			switch a.Code {
			case 0:
				a.Code = http.StatusFound
			case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
				http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			default:
				return nil, fmt.Errorf("invalid redirect code %d", a.Code)
			}
			return rules.Redirect(a.Target, a.Code), nil
		case "forward":
			return rules.Forward(a.Target), nil
		case "include":
			return rules.Include(a.Target), nil
		default:
			return rules.RewriteURL(a.Target), nil
		}

	case "bind":
		var a bindArgs
		if err := decodeArgs(oc.Args, &a); err != nil {
			return nil, err
		}
		if err := required("key", a.Key); err != nil {
			return nil, err
		}
		return rules.Bind(a.Key, a.Value), nil

	case "log":
		var a logArgs
		if err := decodeArgs(oc.Args, &a); err != nil {
			return nil, err
		}
		var level slog.Level
		if a.Level != "" {
			if err := level.UnmarshalText([]byte(a.Level)); err != nil {
				return nil, fmt.Errorf("invalid log level %q", a.Level)
			}
		}
		return rules.Log(logger, level, a.Message), nil

	case "replace-body":
		var a replaceArgs
		if err := decodeArgs(oc.Args, &a); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		return rules.InterceptOutput(func(body []byte) ([]byte, error) {
			return re.ReplaceAll(body, []byte(a.Replacement)), nil
		}), nil

	case "gzip":
		var a gzipArgs
		if err := decodeArgs(oc.Args, &a); err != nil {
			return nil, err
		}
		if a.Level == 0 {
			a.Level = gzip.DefaultCompression
		}
		if _, err := gzip.NewWriterLevel(io.Discard, a.Level); err != nil {
			return nil, err
		}
		return rules.Chain(
			rules.SetHeader("Content-Encoding", "gzip"),
			rules.AddHeader("Vary", "Accept-Encoding"),
			rules.WrapOutputStream(func(w io.Writer) io.WriteCloser {
				gz, _ := gzip.NewWriterLevel(w, a.Level)
				return gz
			}),
		), nil

	case "":
		return nil, fmt.Errorf("operation type is required")
	}

	return nil, fmt.Errorf("unknown operation type %q (supported: %s)", oc.Type, strings.Join(OperationTypes, ", "))
}
