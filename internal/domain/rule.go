package domain

// RuleConfig defines one weighted CEL scoring rule.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	TenantID    string `json:"tenantId,omitempty" yaml:"-"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version,omitempty"`

	// Expression must return bool, int or double. true counts as 1.0.
	Expression string `json:"expression" yaml:"expression"`

	// Weight scales the expression value before it is added to the score.
	Weight float64 `json:"weight" yaml:"weight"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RuleSet is a named collection of rules, typically loaded from YAML.
type RuleSet struct {
	Name  string        `json:"name" yaml:"name"`
	Rules []*RuleConfig `json:"rules" yaml:"rules"`
}

// RuleContribution shows how a single rule contributed to a score.
type RuleContribution struct {
	RuleID       string  `json:"ruleId"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Error        string  `json:"error,omitempty"`
}
