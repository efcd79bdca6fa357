package visual

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/mellow-sync/mellow/internal/database/types"
)

// ErrUnresolvedOperand is returned when a condition references a variable
// that is not bound.
var ErrUnresolvedOperand = errors.New("unresolved condition operand")

// evaluateConditions folds a condition chain left to right. A block without
// conditions always matches.
func evaluateConditions(conditions []types.StatementCondition, vars *Variables) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}

	var (
		result   bool
		firstErr error
	)

	for i, condition := range conditions {
		met, err := evaluateCondition(condition, vars)
		if err != nil && firstErr == nil {
			firstErr = err
		}

		switch {
		case i == 0 || condition.Combinator == types.CombinatorInitial:
			result = met
		case condition.Combinator == types.CombinatorOr:
			result = result || met
		default:
			result = result && met
		}
	}

	return result, firstErr
}

// evaluateCondition compares the operands of one condition. Unresolved
// operands make the condition false.
func evaluateCondition(condition types.StatementCondition, vars *Variables) (bool, error) {
	a, err := resolveOperand(&condition.InputA, vars)
	if err != nil {
		return false, err
	}

	switch condition.Condition {
	case types.ConditionHasAnyValue:
		return !isEmpty(a), nil
	case types.ConditionDoesNotHaveAnyValue:
		return isEmpty(a), nil
	}

	b, err := resolveOperand(condition.InputB, vars)
	if err != nil {
		return false, err
	}

	switch condition.Condition {
	case types.ConditionIs:
		return reflect.DeepEqual(a, b), nil
	case types.ConditionIsNot:
		return !reflect.DeepEqual(a, b), nil
	case types.ConditionContains:
		return contains(a, b), nil
	case types.ConditionDoesNotContain:
		return !contains(a, b), nil
	case types.ConditionContainsOnly:
		values := asList(a)
		allowed := asList(b)

		return !slices.ContainsFunc(values, func(v any) bool {
			return !containsValue(allowed, v)
		}), nil
	case types.ConditionContainsOneOf:
		return intersects(asList(a), asList(b)), nil
	case types.ConditionDoesNotContainOneOf:
		return !intersects(asList(a), asList(b)), nil
	case types.ConditionBeginsWith:
		return endpointMatches(a, b, true), nil
	case types.ConditionEndsWith:
		return endpointMatches(a, b, false), nil
	default:
		return false, fmt.Errorf("unknown condition %q", condition.Condition)
	}
}

func resolveOperand(operand *types.Operand, vars *Variables) (any, error) {
	if operand == nil {
		return nil, fmt.Errorf("%w: missing input", ErrUnresolvedOperand)
	}

	if operand.Variable != "" {
		value, ok := vars.Get(operand.Variable)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedOperand, operand.Variable)
		}

		return normalize(value), nil
	}

	return normalize(operand.Value), nil
}

// normalize converts values to the shapes documents compare with. Numbers
// become strings so identifiers match regardless of how they were written.
func normalize(value any) any {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case []string:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = item
		}

		return list
	case []any:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = normalize(item)
		}

		return list
	case map[string]any:
		normalized := make(map[string]any, len(v))
		for key, item := range v {
			normalized[key] = normalize(item)
		}

		return normalized
	default:
		return v
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func asList(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}

func containsValue(list []any, value any) bool {
	return slices.ContainsFunc(list, func(item any) bool {
		return reflect.DeepEqual(item, value)
	})
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		return containsValue(h, needle)
	case map[string]any:
		for _, value := range h {
			if reflect.DeepEqual(value, needle) {
				return true
			}
		}

		return false
	default:
		return false
	}
}

func intersects(a, b []any) bool {
	return slices.ContainsFunc(a, func(v any) bool {
		return containsValue(b, v)
	})
}

func endpointMatches(value, edge any, first bool) bool {
	switch v := value.(type) {
	case string:
		e, ok := edge.(string)
		if !ok {
			return false
		}

		if first {
			return strings.HasPrefix(v, e)
		}

		return strings.HasSuffix(v, e)
	case []any:
		if len(v) == 0 {
			return false
		}

		if first {
			return reflect.DeepEqual(v[0], edge)
		}

		return reflect.DeepEqual(v[len(v)-1], edge)
	default:
		return false
	}
}
