package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/cel-go/cel"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// celEnv declares the variables visible to CEL conditions.
var (
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("request.method", cel.StringType),
			cel.Variable("request.path", cel.StringType),
			cel.Variable("request.host", cel.StringType),
			cel.Variable("request.headers", cel.MapType(cel.StringType, cel.ListType(cel.StringType))),
			cel.Variable("request.query", cel.MapType(cel.StringType, cel.ListType(cel.StringType))),
			cel.Variable("bindings", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("direction", cel.StringType),
			cel.Variable("url", cel.StringType),
		)
	})
	return celEnv, celEnvErr
}

// CELCondition evaluates a compiled CEL expression returning a bool.
type CELCondition struct {
	source  string
	program cel.Program
}

// NewCEL compiles a CEL expression such as
//
//	request.method == "GET" && "X-Debug" in request.headers
func NewCEL(source string) (*CELCondition, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, iss := env.Compile(source)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile CEL expression %q: %w", source, iss.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL expression %q must return bool, got %s", source, t)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build CEL program: %w", err)
	}
	return &CELCondition{source: source, program: program}, nil
}

func (c *CELCondition) String() string { return "cel " + c.source }

func (c *CELCondition) Evaluate(ctx context.Context, rw ports.Rewrite) (bool, error) {
	v := variables(rw)
	out, _, err := c.program.ContextEval(ctx, map[string]any{
		"request.method":  v.Method,
		"request.path":    v.Path,
		"request.host":    v.Host,
		"request.headers": v.Headers,
		"request.query":   v.Query,
		"bindings":        v.Bindings,
		"direction":       v.Direction,
		"url":             v.URL,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation failed: %w", err)
	}

	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("CEL expression must return bool, got %T", out.Value())
	}
	return ok, nil
}

// ExprCondition evaluates a compiled expr-lang expression returning a bool.
type ExprCondition struct {
	source  string
	program *vm.Program
}

// exprEnv is the shape of the environment handed to expr programs.
type exprEnv struct {
	Method    string              `expr:"method"`
	Path      string              `expr:"path"`
	Host      string              `expr:"host"`
	Headers   map[string][]string `expr:"headers"`
	Query     map[string][]string `expr:"query"`
	Bindings  map[string]any      `expr:"bindings"`
	Direction string              `expr:"direction"`
	URL       string              `expr:"url"`
}

// NewExpr compiles an expr-lang expression such as
//
//	method == "POST" && path startsWith "/store/"
func NewExpr(source string) (*ExprCondition, error) {
	program, err := expr.Compile(source, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", source, err)
	}
	return &ExprCondition{source: source, program: program}, nil
}

func (c *ExprCondition) String() string { return "expr " + c.source }

func (c *ExprCondition) Evaluate(_ context.Context, rw ports.Rewrite) (bool, error) {
	out, err := expr.Run(c.program, variables(rw))
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// variables snapshots the rewrite for expression evaluation.
func variables(rw ports.Rewrite) exprEnv {
	env := exprEnv{
		Method:    requestMethod(rw),
		Headers:   map[string][]string{},
		Query:     map[string][]string{},
		Bindings:  rw.Bindings().Map(),
		Direction: string(rw.Direction()),
	}
	if r := rw.Request(); r != nil {
		env.Host = r.Host
		for k, v := range r.Header {
			env.Headers[k] = v
		}
	}
	if u, ok := targetURL(rw); ok {
		env.Path = u.Path
		env.URL = u.String()
		for k, v := range u.Query() {
			env.Query[k] = v
		}
	}
	return env
}
