package internal

import "testing"

// TestRuleEngineEvaluate tests that the rule engine correctly evaluates a simple rule.
func TestRuleEngineEvaluate(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{When: `eventType == "git.push"`, Emit: TopicSyncRepository},
			{When: `eventType == "git.push" && merged == true`, Emit: "never"},
		},
	}

	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	event := Event{
		Provider: "azure_devops",
		Name:     "git.push",
		Data:     map[string]interface{}{"eventType": "git.push", "merged": false},
	}

	matches := engine.Evaluate(event)
	if len(matches) != 1 {
		t.Fatalf("expected 1 topic, got %d", len(matches))
	}
	if matches[0] != TopicSyncRepository {
		t.Fatalf("expected topic %s, got %q", TopicSyncRepository, matches[0])
	}
}

// TestRuleEngineEvaluateMissingField tests that the rule engine does not match a rule with a missing field.
func TestRuleEngineEvaluateMissingField(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{When: "missing == true", Emit: "never"},
		},
	}

	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	event := Event{
		Provider: "gitlab",
		Name:     "Push Hook",
		Data:     map[string]interface{}{},
	}

	matches := engine.Evaluate(event)
	if len(matches) != 0 {
		t.Fatalf("expected no topics, got %d", len(matches))
	}
}

// TestRuleEngineMetaKeys tests that rules can match on the provider and event
// name injected next to the payload fields.
func TestRuleEngineMetaKeys(t *testing.T) {
	cfg := RulesConfig{
		Rules: []Rule{
			{When: `provider == "bitbucket" && event == "repo:push"`, Emit: TopicSyncRepository},
		},
	}

	engine, err := NewRuleEngine(cfg)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	matches := engine.Evaluate(Event{Provider: "bitbucket", Name: "repo:push", Data: map[string]interface{}{}})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	matches = engine.Evaluate(Event{Provider: "bitbucket", Name: "repo:fork", Data: map[string]interface{}{}})
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

// TestRuleEngineDefaultRules tests that each supported provider's push event
// triggers a single-repository sync out of the box.
func TestRuleEngineDefaultRules(t *testing.T) {
	engine, err := NewRuleEngine(RulesConfig{})
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	events := []Event{
		{Provider: "azure_devops", Name: "git.push", Data: map[string]interface{}{"eventType": "git.push"}},
		{Provider: "gitlab", Name: "Push Hook", Data: map[string]interface{}{"object_kind": "push"}},
		{Provider: "bitbucket", Name: "repo:push", Data: map[string]interface{}{}},
	}
	for _, event := range events {
		matches := engine.Evaluate(event)
		if len(matches) != 1 || matches[0] != TopicSyncRepository {
			t.Fatalf("provider %s: expected sync.repository, got %v", event.Provider, matches)
		}
	}

	if matches := engine.Evaluate(Event{Provider: "gitlab", Name: "Issue Hook", Data: map[string]interface{}{"object_kind": "issue"}}); len(matches) != 0 {
		t.Fatalf("expected no matches for issue event, got %v", matches)
	}
}
