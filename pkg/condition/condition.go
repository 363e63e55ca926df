// Package condition evaluates boolean logic trees against instance context.
//
// An expression is either a leaf comparison
//
//	{"field": "request.amount", "op": "greater_than", "value": 1000}
//
// or a composite
//
//	{"operator": "and", "conditions": [ ... ]}
//
// with operators and/or/not. Field paths are dot-separated lookups into
// the context document. Evaluation is a pure function with no state.
package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/loopkit/loom/pkg/models"
)

// Comparison operators supported by leaf expressions.
const (
	OpEquals             = "equals"
	OpNotEquals          = "not_equals"
	OpGreaterThan        = "greater_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThan           = "less_than"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpContains           = "contains"
	OpExists             = "exists"
	OpIn                 = "in"
)

var errNotComparable = errors.New("values are not comparable")

// Evaluate runs the expression tree against the context document. A nil
// expression evaluates to true, matching an unconditional edge.
func Evaluate(expression map[string]any, ctx models.Context) (bool, error) {
	if len(expression) == 0 {
		return true, nil
	}

	if operator, ok := expression["operator"].(string); ok {
		return evaluateComposite(operator, expression, ctx)
	}

	return evaluateLeaf(expression, ctx)
}

func evaluateComposite(operator string, expression map[string]any, ctx models.Context) (bool, error) {
	rawConditions, ok := expression["conditions"].([]any)
	if !ok {
		return false, fmt.Errorf("operator %q requires a 'conditions' array", operator)
	}

	conditions := make([]map[string]any, 0, len(rawConditions))

	for i, raw := range rawConditions {
		cond, ok := raw.(map[string]any)
		if !ok {
			return false, fmt.Errorf("condition %d must be an object", i)
		}

		conditions = append(conditions, cond)
	}

	switch operator {
	case "and":
		for _, cond := range conditions {
			result, err := Evaluate(cond, ctx)
			if err != nil {
				return false, err
			}

			if !result {
				return false, nil
			}
		}

		return true, nil
	case "or":
		for _, cond := range conditions {
			result, err := Evaluate(cond, ctx)
			if err != nil {
				return false, err
			}

			if result {
				return true, nil
			}
		}

		return false, nil
	case "not":
		if len(conditions) != 1 {
			return false, errors.New("operator \"not\" requires exactly one condition")
		}

		result, err := Evaluate(conditions[0], ctx)
		if err != nil {
			return false, err
		}

		return !result, nil
	default:
		return false, fmt.Errorf("unknown logical operator: %q", operator)
	}
}

func evaluateLeaf(expression map[string]any, ctx models.Context) (bool, error) {
	field, ok := expression["field"].(string)
	if !ok {
		return false, errors.New("leaf condition requires a 'field'")
	}

	op, ok := expression["op"].(string)
	if !ok {
		return false, errors.New("leaf condition requires an 'op'")
	}

	actual, found := Lookup(ctx, field)

	if op == OpExists {
		return found, nil
	}

	expected := expression["value"]

	switch op {
	case OpEquals:
		return found && looseEquals(actual, expected), nil
	case OpNotEquals:
		return !found || !looseEquals(actual, expected), nil
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		if !found {
			return false, nil
		}

		cmp, err := compareNumbers(actual, expected)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", field, err)
		}

		switch op {
		case OpGreaterThan:
			return cmp > 0, nil
		case OpGreaterThanOrEqual:
			return cmp >= 0, nil
		case OpLessThan:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpContains:
		return found && contains(actual, expected), nil
	case OpIn:
		options, ok := expected.([]any)
		if !ok {
			return false, fmt.Errorf("field %q: 'in' requires an array value", field)
		}

		if !found {
			return false, nil
		}

		for _, option := range options {
			if looseEquals(actual, option) {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("unknown comparison operator: %q", op)
	}
}

// Lookup resolves a dot-separated path inside the context document.
func Lookup(ctx models.Context, path string) (any, bool) {
	var current any = map[string]any(ctx)

	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Truthy converts an arbitrary JSON value to a boolean: non-zero numbers,
// non-empty strings/arrays/objects and true are truthy.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case nil:
		return false
	default:
		return false
	}
}

func looseEquals(a, b any) bool {
	if na, errA := toFloat(a); errA == nil {
		if nb, errB := toFloat(b); errB == nil {
			return na == nb
		}
	}

	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareNumbers(a, b any) (int, error) {
	na, err := toFloat(a)
	if err != nil {
		return 0, err
	}

	nb, err := toFloat(b)
	if err != nil {
		return 0, err
	}

	switch {
	case na > nb:
		return 1, nil
	case na < nb:
		return -1, nil
	default:
		return 0, nil
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, errNotComparable
		}

		return parsed, nil
	default:
		return 0, errNotComparable
	}
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if looseEquals(item, needle) {
				return true
			}
		}

		return false
	default:
		return false
	}
}
