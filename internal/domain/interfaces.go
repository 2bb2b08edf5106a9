package domain

// Calculator scores one patient/indicator event sequence against a guideline
// rule over an evaluation period.
type Calculator interface {
	Compute(rule GuidelineRule, period EvaluationPeriod, events []ActivityEvent, opts ComputeOptions) (*ConcordanceResult, error)
}

// RuleSource resolves guideline rules by indicator. Lookup is
// case-insensitive on the indicator ID.
type RuleSource interface {
	Rule(indicatorID string) (GuidelineRule, error)
	Indicators() []string
}

// ConfigManager provides access to validated application configuration.
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetRulesConfig() *RulesConfig
	GetLimitsConfig() *LimitsConfig
}

// ComputeOptions carries the optional knobs of a computation. The result
// always contains the full day-level classification; callers that only need
// the ratio can drop it.
type ComputeOptions struct {
	// Policy for days before the first observed event. Zero value means
	// PriorStrict.
	Policy PriorPolicy `json:"prior_policy,omitempty"`
}

// EffectivePolicy resolves the zero value to the default policy.
func (o ComputeOptions) EffectivePolicy() PriorPolicy {
	if o.Policy == "" {
		return PriorStrict
	}
	return o.Policy
}
