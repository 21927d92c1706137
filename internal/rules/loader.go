package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

// ParseRuleSet decodes a YAML rule set and checks that every rule has an ID
// and an expression and that IDs are unique.
func ParseRuleSet(data []byte) (*domain.RuleSet, error) {
	var set domain.RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}

	seen := make(map[string]bool, len(set.Rules))
	for i, r := range set.Rules {
		if r == nil {
			return nil, fmt.Errorf("rule %d: empty entry", i)
		}
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if r.Expression == "" {
			return nil, fmt.Errorf("rule %s: expression is required", r.ID)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
	}

	return &set, nil
}

// LoadRuleSetFile reads and parses a YAML rule set from disk.
func LoadRuleSetFile(path string) (*domain.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set %s: %w", path, err)
	}
	return ParseRuleSet(data)
}

// MarshalRuleSet encodes a rule set as YAML.
func MarshalRuleSet(set *domain.RuleSet) ([]byte, error) {
	return yaml.Marshal(set)
}

// NewEngineFromConfig creates an engine loaded with the rule set named by
// cfg.RulesFile, or with BuiltinRules when no file is configured.
func NewEngineFromConfig(cfg domain.ScoringConfig, maxWorkers int) (*Engine, error) {
	engine, err := NewEngine(maxWorkers)
	if err != nil {
		return nil, err
	}

	configs := BuiltinRules(cfg)
	if cfg.RulesFile != "" {
		set, err := LoadRuleSetFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		configs = set.Rules
	}

	if err := engine.LoadRules(configs); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return engine, nil
}
