// Package screen provides CEL-based screening rules evaluated alongside the
// classifier. Screening attaches review reasons to a prediction; it never
// alters the model's verdict or probability.
package screen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

// Screener evaluates compiled screening rules against transaction fields.
// Rules are compiled once at construction; evaluation is read-only and safe
// for concurrent use.
type Screener struct {
	env   *cel.Env
	rules []*compiledRule
}

type compiledRule struct {
	id      string
	reason  string
	program cel.Program
}

// NewScreener compiles the enabled rules. An invalid expression is a
// configuration error and fails construction.
func NewScreener(rules []domain.ScreeningRule) (*Screener, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("card_present", cel.BoolType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("is_night", cel.BoolType),
		cel.Variable("location_risk", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	s := &Screener{env: env}
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := s.compile(rule)
		if err != nil {
			return nil, err
		}
		s.rules = append(s.rules, compiled)
	}
	return s, nil
}

func (s *Screener) compile(rule domain.ScreeningRule) (*compiledRule, error) {
	ast, issues := s.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile screening rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("screening rule %s: expression must return bool, got %s",
			rule.ID, ast.OutputType())
	}

	program, err := s.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for screening rule %s: %w", rule.ID, err)
	}

	reason := rule.Reason
	if reason == "" {
		reason = "matched screening rule " + rule.ID
	}

	return &compiledRule{
		id:      rule.ID,
		reason:  reason,
		program: program,
	}, nil
}

// RuleCount returns the number of compiled rules.
func (s *Screener) RuleCount() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Screen evaluates all rules and returns the reasons of those that matched.
// A rule that errors at evaluation time is skipped; screening is advisory
// and must not fail the scoring pipeline.
func (s *Screener) Screen(ctx context.Context, tx *domain.Transaction, fs *feature.FeatureSet) []string {
	if s == nil || len(s.rules) == 0 {
		return nil
	}

	activation := map[string]any{
		"amount":        tx.Amount,
		"tx_type":       tx.Type,
		"location":      tx.Location,
		"merchant_id":   tx.MerchantID,
		"device_id":     tx.DeviceID,
		"card_present":  tx.CardPresent,
		"hour":          int64(fs.Hour),
		"is_night":      fs.IsNight == 1,
		"location_risk": fs.LocationRisk,
	}

	var reasons []string
	for _, rule := range s.rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			slog.Warn("screening rule evaluation failed",
				"rule_id", rule.id,
				"error", err,
			)
			continue
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			reasons = append(reasons, rule.reason)
		}
	}
	return reasons
}
