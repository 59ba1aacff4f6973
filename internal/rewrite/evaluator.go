package rewrite

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/domain"
	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
)

// Evaluator applies the rules of every handling provider, in order, until
// the flow becomes terminal or a rule fails.
type Evaluator struct {
	sources []source
	env     ports.Environment
	logger  *slog.Logger
}

// Evaluate runs one evaluation pass over rw. The first condition or
// operation error stops the pass and is returned as a *domain.EvaluationError.
func (v *Evaluator) Evaluate(ctx context.Context, rw ports.Rewrite) error {
	for i := range v.sources {
		s := &v.sources[i]
		if !s.provider.Handles(rw) {
			continue
		}

		rules, err := s.rules(ctx, v.env)
		if err != nil {
			return err
		}
		if err := v.apply(ctx, s.name, rules, rw); err != nil {
			return err
		}

		if rw.Flow().Terminal() {
			v.logger.Debug("flow is terminal, skipping remaining providers",
				slog.String("transaction_id", rw.ID()),
				slog.String("provider", s.name),
				slog.String("flow", rw.Flow().String()))
			break
		}
	}
	return nil
}

func (v *Evaluator) apply(ctx context.Context, provider string, rules []ports.Rule, rw ports.Rewrite) error {
	for _, rule := range rules {
		if rule.Condition != nil {
			ok, err := rule.Condition.Evaluate(ctx, rw)
			if err != nil {
				return &domain.EvaluationError{Provider: provider, Rule: rule.Name, Phase: domain.PhaseCondition, Err: err}
			}
			if !ok {
				continue
			}
		}

		if rule.Operation != nil {
			if err := rule.Operation.Perform(ctx, rw); err != nil {
				return &domain.EvaluationError{Provider: provider, Rule: rule.Name, Phase: domain.PhaseOperation, Err: err}
			}
		}

		if rw.Flow().Terminal() {
			return nil
		}
	}
	return nil
}
