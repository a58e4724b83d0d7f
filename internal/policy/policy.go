// Package policy decides which completed assessments raise an alert.
// Alert conditions are CEL expressions over the assessment signals.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultExpression alerts on high fraud percentages.
const DefaultExpression = "fraud_percentage >= 0.7"

// Policy is a compiled alert expression.
type Policy struct {
	mu         sync.RWMutex
	env        *cel.Env
	expression string
	program    cel.Program
}

// New compiles expr. An empty expression selects DefaultExpression.
func New(expr string) (*Policy, error) {
	env, err := cel.NewEnv(
		cel.Variable("fraud_percentage", cel.DoubleType),
		cel.Variable("model_avg", cel.DoubleType),
		cel.Variable("combined_spike", cel.DoubleType),
		cel.Variable("time_spike", cel.DoubleType),
		cel.Variable("amount_spike", cel.DoubleType),
		cel.Variable("ai_location_score", cel.DoubleType),
		cel.Variable("scores", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("mode", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &Policy{env: env}
	if err := p.Reload(expr); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload swaps in a new expression. The previous one stays active on error.
func (p *Policy) Reload(expr string) error {
	if expr == "" {
		expr = DefaultExpression
	}
	program, err := p.compile(expr)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.expression = expr
	p.program = program
	p.mu.Unlock()
	return nil
}

// Expression returns the active expression.
func (p *Policy) Expression() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.expression
}

// Evaluate reports whether the assessment should raise an alert.
func (p *Policy) Evaluate(a *domain.FraudAssessment) (bool, error) {
	if a == nil {
		return false, fmt.Errorf("assessment is required")
	}

	p.mu.RLock()
	program := p.program
	p.mu.RUnlock()

	scores := make(map[string]float64, len(a.ModelScores))
	for name, s := range a.ModelScores {
		scores[name] = s
	}

	out, _, err := program.Eval(map[string]any{
		"fraud_percentage":  a.FraudPercentage,
		"model_avg":         a.ModelScores.Mean(),
		"combined_spike":    a.SpikeScore.CombinedSpike,
		"time_spike":        a.SpikeScore.TimeSpike,
		"amount_spike":      a.SpikeScore.AmountSpike,
		"ai_location_score": a.AILocationScore,
		"scores":            scores,
		"mode":              string(a.Mode),
	})
	if err != nil {
		return false, fmt.Errorf("evaluation error: %w", err)
	}
	return toScore(out) > 0, nil
}

func (p *Policy) compile(expr string) (cel.Program, error) {
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile alert policy: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("alert policy must return bool, int, or double, got %s", outputType)
	}

	program, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for alert policy: %w", err)
	}
	return program, nil
}

// toScore converts a CEL value to a number; true is 1.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
