// Package policy decides whether a vote may be cast, for reasons outside of
// the vote state machine: abuse prevention and community rules.
package policy

import (
	"context"
	"fmt"

	votes "github.com/jhchabran/tabloid-votes"
	"github.com/rs/zerolog"
)

// A Rule inspects a vote and denies it or lets the next rule decide.
type Rule interface {
	Name() string
	Check(ctx context.Context, pc votes.PolicyContext) (votes.PolicyDecision, error)
}

// Engine evaluates rules in order, the first denial wins.
type Engine struct {
	rules  []Rule
	logger zerolog.Logger
}

var _ votes.PolicyGate = (*Engine)(nil)

func NewEngine(logger zerolog.Logger, rules ...Rule) *Engine {
	return &Engine{
		rules:  rules,
		logger: logger.With().Str("component", "policy").Logger(),
	}
}

func (e *Engine) Evaluate(ctx context.Context, pc votes.PolicyContext) (votes.PolicyDecision, error) {
	for _, r := range e.rules {
		if err := ctx.Err(); err != nil {
			return votes.PolicyDecision{}, err
		}

		d, err := r.Check(ctx, pc)
		if err != nil {
			return votes.PolicyDecision{}, fmt.Errorf("rule %s: %w", r.Name(), err)
		}
		if !d.Allowed {
			e.logger.Info().
				Str("rule", r.Name()).
				Str("user", pc.UserID).
				Str("key", pc.ItemType.Key(pc.ItemID)).
				Msg(d.Message)
			return d, nil
		}
	}

	return votes.Allow(), nil
}
