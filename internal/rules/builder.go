package rules

import (
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// Builder assembles a configuration rule by rule.
//
// Define starts a named rule. When starts a new rule unless the current one
// has no operation yet, in which case the condition is combined with And.
// Perform on a rule that already has an operation chains the operations.
type Builder struct {
	rules []ports.Rule
	open  bool
}

// Begin starts an empty configuration.
func Begin() *Builder {
	return &Builder{}
}

func (b *Builder) current() *ports.Rule {
	if !b.open {
		b.rules = append(b.rules, ports.Rule{})
		b.open = true
	}
	return &b.rules[len(b.rules)-1]
}

// Define starts a new rule with the given name.
func (b *Builder) Define(name string) *Builder {
	b.open = false
	b.current().Name = name
	return b
}

// AddRule starts a new unnamed rule.
func (b *Builder) AddRule() *Builder {
	b.open = false
	b.current()
	return b
}

// When sets the condition of the current rule.
func (b *Builder) When(c ports.Condition) *Builder {
	if b.open && b.rules[len(b.rules)-1].Operation != nil {
		b.open = false
	}
	r := b.current()
	if r.Condition == nil {
		r.Condition = c
	} else {
		r.Condition = And(r.Condition, c)
	}
	return b
}

// Perform sets the operation of the current rule.
func (b *Builder) Perform(o ports.Operation) *Builder {
	r := b.current()
	if r.Operation == nil {
		r.Operation = o
	} else {
		r.Operation = Chain(r.Operation, o)
	}
	return b
}

// Priority orders the current rule within the configuration.
func (b *Builder) Priority(n int) *Builder {
	b.current().Priority = n
	return b
}

// Build returns the configuration. The builder can keep adding rules; the
// returned configuration is not affected.
func (b *Builder) Build() *ports.Configuration {
	rules := make([]ports.Rule, len(b.rules))
	copy(rules, b.rules)
	return &ports.Configuration{Rules: rules}
}
