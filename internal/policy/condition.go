// Package policy evaluates ABAC rules against request attributes.
package policy

import (
	"fmt"

	"github.com/Harshith2412/zta-finance/pkg/models"
)

// conditionEval is the dispatch table over the closed condition set.
// Unknown kinds are rejected at snapshot load time, never at
// evaluation time.
var conditionEval = map[models.ConditionKind]func(models.Condition, map[string]any) bool{
	models.ConditionEquals:     evalEquals,
	models.ConditionMembership: evalMembership,
	models.ConditionThreshold:  evalThreshold,
}

func evalEquals(c models.Condition, attrs map[string]any) bool {
	got, ok := attrs[c.Attribute]
	if !ok {
		return false
	}
	if gf, gok := toFloat(got); gok {
		if wf, wok := toFloat(c.Value); wok {
			return gf == wf
		}
	}
	return fmt.Sprint(got) == fmt.Sprint(c.Value)
}

// evalMembership holds when the attribute value (or, for list-valued
// attributes such as roles, any element of it) is one of the allowed
// values.
func evalMembership(c models.Condition, attrs map[string]any) bool {
	got, ok := attrs[c.Attribute]
	if !ok {
		return false
	}
	candidates := attributeValues(got)
	for _, allowed := range c.Values {
		for _, candidate := range candidates {
			if fmt.Sprint(candidate) == fmt.Sprint(allowed) {
				return true
			}
		}
	}
	return false
}

func evalThreshold(c models.Condition, attrs map[string]any) bool {
	got, ok := attrs[c.Attribute]
	if !ok {
		return false
	}
	value, ok := toFloat(got)
	if !ok {
		return false
	}
	switch c.Op {
	case models.OpLessThan:
		return value < c.Threshold
	case models.OpLessOrEqual:
		return value <= c.Threshold
	case models.OpGreaterThan:
		return value > c.Threshold
	case models.OpGreaterOrEqual:
		return value >= c.Threshold
	default:
		return false
	}
}

func attributeValues(v any) []any {
	switch vv := v.(type) {
	case []any:
		return vv
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
