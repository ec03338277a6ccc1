// Package suggestion scans template metrics and content for improvement
// opportunities and records them as reviewable suggestions.
package suggestion

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/hrygo/querylab/store"
)

// Categories of generated suggestions.
const (
	CategoryLowSuccessRate = "low_success_rate"
	CategoryLowConfidence  = "low_confidence"
	CategorySlowProcessing = "slow_processing"
	CategoryLowRating      = "low_rating"
	CategoryContentQuality = "content_quality"
)

// Rule is one metric heuristic. Condition is a CEL expression over the
// variables declared by NewRuleEngine and must evaluate to a bool.
type Rule struct {
	Category  string
	Title     string
	Condition string
	// ExpectedImprovement is a fixed estimate in percent.
	ExpectedImprovement float64
	Confidence          float64
	Description         string
	// Guidance is appended to the template content to form the proposed revision.
	Guidance string
}

// DefaultRules returns the built-in metric heuristics.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category:            CategoryLowSuccessRate,
			Title:               "Improve generated SQL correctness",
			Condition:           "total_usages >= 50 && success_rate < 0.7",
			ExpectedImprovement: 15,
			Confidence:          0.8,
			Description:         "Fewer than 70% of the queries generated from this template succeed.",
			Guidance: "## Constraints\n" +
				"- Use only tables and columns present in the provided schema.\n" +
				"- Qualify every column with its table alias.\n" +
				"- Prefer explicit JOIN conditions over implicit joins.\n",
		},
		{
			Category:            CategoryLowConfidence,
			Title:               "Clarify the intent description",
			Condition:           "total_usages >= 30 && avg_confidence < 0.6",
			ExpectedImprovement: 10,
			Confidence:          0.7,
			Description:         "The model reports low confidence in the queries produced from this template.",
			Guidance: "## Intent\n" +
				"- Restate the user question in one sentence before writing SQL.\n" +
				"- Ask for the missing filter instead of guessing it.\n",
		},
		{
			Category:            CategorySlowProcessing,
			Title:               "Shorten the prompt",
			Condition:           "total_usages >= 20 && avg_processing_time_ms > 5000.0",
			ExpectedImprovement: 8,
			Confidence:          0.6,
			Description:         "Queries generated from this template take more than five seconds on average.",
			Guidance: "## Output\n" +
				"- Return only the SQL statement, without explanation.\n",
		},
		{
			Category:            CategoryLowRating,
			Title:               "Address user feedback",
			Condition:           "rating_count > 0 && total_usages >= 25 && avg_user_rating < 3.5",
			ExpectedImprovement: 12,
			Confidence:          0.65,
			Description:         "Users rate the answers produced from this template below 3.5 out of 5.",
			Guidance: "## Presentation\n" +
				"- Alias computed columns with readable names.\n" +
				"- Order results by the measure the user asked about.\n",
		},
	}
}

type compiledRule struct {
	Rule
	program cel.Program
}

// RuleEngine evaluates compiled rules against template metrics.
type RuleEngine struct {
	rules []compiledRule
}

// NewRuleEngine compiles the rules. A rule that does not compile or does not
// yield a bool is an error.
func NewRuleEngine(rules []Rule) (*RuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("total_usages", cel.IntType),
		cel.Variable("successful_usages", cel.IntType),
		cel.Variable("success_rate", cel.DoubleType),
		cel.Variable("avg_confidence", cel.DoubleType),
		cel.Variable("avg_processing_time_ms", cel.DoubleType),
		cel.Variable("avg_user_rating", cel.DoubleType),
		cel.Variable("rating_count", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create rule environment")
	}

	engine := &RuleEngine{rules: make([]compiledRule, 0, len(rules))}
	for _, rule := range rules {
		ast, issues := env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, errors.Wrapf(issues.Err(), "failed to compile rule %s", rule.Category)
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, errors.Errorf("rule %s must evaluate to bool, got %v", rule.Category, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to plan rule %s", rule.Category)
		}
		engine.rules = append(engine.rules, compiledRule{Rule: rule, program: program})
	}
	return engine, nil
}

// Evaluate returns every rule whose condition holds for perf, in rule order.
func (e *RuleEngine) Evaluate(perf *store.TemplatePerformance) ([]Rule, error) {
	vars := map[string]any{
		"total_usages":           perf.TotalUsages,
		"successful_usages":      perf.SuccessfulUsages,
		"success_rate":           perf.SuccessRate,
		"avg_confidence":         perf.AvgConfidence,
		"avg_processing_time_ms": perf.AvgProcessingTimeMs,
		"avg_user_rating":        perf.AvgUserRating,
		"rating_count":           perf.RatingCount,
	}

	var triggered []Rule
	for _, rule := range e.rules {
		out, _, err := rule.program.Eval(vars)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to evaluate rule %s", rule.Category)
		}
		if hit, ok := out.Value().(bool); ok && hit {
			triggered = append(triggered, rule.Rule)
		}
	}
	return triggered, nil
}
