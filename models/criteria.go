package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "72h" or "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Criteria are the acceptance rules a normalized listing is checked
// against. Zero values mean "not configured". The value is immutable for
// the duration of a run.
type Criteria struct {
	MinPrice          int         `yaml:"min_price"`
	MaxPrice          int         `yaml:"max_price"`
	MinBedrooms       int         `yaml:"min_bedrooms"`
	AllowedConditions []Condition `yaml:"allowed_conditions"`
	// AllowUnknownCondition lets listings whose description matched no
	// condition keyword through the condition check.
	AllowUnknownCondition bool     `yaml:"allow_unknown_condition"`
	MaxListingAge         Duration `yaml:"max_listing_age"`
}

// ConditionAllowed reports whether c's allowed set admits the given
// condition. A nil condition means the description matched no keyword.
func (c *Criteria) ConditionAllowed(cond *Condition) bool {
	if len(c.AllowedConditions) == 0 {
		return true
	}
	if cond == nil {
		return c.AllowUnknownCondition
	}
	for _, allowed := range c.AllowedConditions {
		if allowed == *cond {
			return true
		}
	}
	return false
}
