package ports

import (
	"context"
	"log/slog"
)

// Condition decides whether a rule applies to a transaction. A condition may
// populate bindings that the rule's operation and later rules can read.
type Condition interface {
	Evaluate(ctx context.Context, rw Rewrite) (bool, error)
}

// ConditionFunc adapts a function to the Condition interface.
type ConditionFunc func(ctx context.Context, rw Rewrite) (bool, error)

func (f ConditionFunc) Evaluate(ctx context.Context, rw Rewrite) (bool, error) {
	return f(ctx, rw)
}

// Operation is performed when a rule's condition holds. It may mutate the
// request or response, change the flow, or fail.
type Operation interface {
	Perform(ctx context.Context, rw Rewrite) error
}

// OperationFunc adapts a function to the Operation interface.
type OperationFunc func(ctx context.Context, rw Rewrite) error

func (f OperationFunc) Perform(ctx context.Context, rw Rewrite) error {
	return f(ctx, rw)
}

// Rule pairs a condition with an operation. Rules are immutable once built.
type Rule struct {
	// Name is optional and only used for logs and errors.
	Name string
	// Priority orders rules inside one configuration; lower runs first and
	// ties keep declaration order.
	Priority  int
	Condition Condition
	Operation Operation
}

// Configuration is the ordered rule set produced by a RuleProvider.
type Configuration struct {
	Rules []Rule
}

// Environment is handed to rule providers when their configuration is built.
type Environment struct {
	Logger *slog.Logger
	// Settings carries provider specific settings from the configuration file.
	Settings map[string]any
}
