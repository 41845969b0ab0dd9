package internal

import (
	"log"

	"github.com/Knetic/govaluate"
)

// Rule decides whether a webhook event becomes a synchronization trigger.
// When is a govaluate expression over the flattened event payload; Emit is
// the bus topic the trigger is published on.
type Rule struct {
	When string `yaml:"when"`
	Emit string `yaml:"emit"`
}

type compiledRule struct {
	emit string
	expr *govaluate.EvaluableExpression
}

// RuleEngine evaluates trigger rules against incoming events.
type RuleEngine struct {
	rules  []compiledRule
	logger *log.Logger
}

// DefaultRules fire a single-repository sync on push events from any of the
// supported providers. Operators may replace them entirely via config. The
// expressions see the flattened payload plus the meta keys "provider" and
// "event" (the provider's event name).
func DefaultRules() []Rule {
	return []Rule{
		{When: `eventType == "git.push"`, Emit: TopicSyncRepository},
		{When: `object_kind == "push"`, Emit: TopicSyncRepository},
		{When: `event == "repo:push"`, Emit: TopicSyncRepository},
	}
}

func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{emit: rule.Emit, expr: expr})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RuleEngine{rules: compiled, logger: logger}, nil
}

// Evaluate returns the topics the event should be published on. Expression
// errors (usually missing fields for an unrelated event shape) skip the rule.
func (r *RuleEngine) Evaluate(event Event) []string {
	if len(r.rules) == 0 {
		return nil
	}

	parameters := make(map[string]interface{}, len(event.Data)+2)
	for key, value := range event.Data {
		parameters[key] = value
	}
	parameters["provider"] = event.Provider
	parameters["event"] = event.Name

	matches := make([]string, 0, 1)
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(parameters)
		if err != nil {
			continue
		}
		ok, _ := result.(bool)
		if ok {
			matches = append(matches, rule.emit)
		}
	}
	return matches
}
