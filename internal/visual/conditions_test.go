package visual

import (
	"testing"

	"github.com/mellow-sync/mellow/internal/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVariables() *Variables {
	return NewVariables(map[string]any{
		"member": map[string]any{
			"id":           "5",
			"roles":        []any{"10", "20"},
			"display_name": "kai",
		},
		"message": map[string]any{"content": "hello world"},
		"empty":   "",
		"none":    []any{},
		"labels":  map[string]any{"a": "x", "b": "y"},
	})
}

func variable(path string) types.Operand {
	return types.Operand{Variable: path}
}

func value(v any) *types.Operand {
	return &types.Operand{Value: v}
}

func TestEvaluateCondition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		condition types.ConditionKind
		a         types.Operand
		b         *types.Operand
		want      bool
	}{
		{name: "is", condition: types.ConditionIs, a: variable("member.id"), b: value("5"), want: true},
		{name: "is numeric literal", condition: types.ConditionIs, a: variable("member.id"), b: value(float64(5)), want: true},
		{name: "is not", condition: types.ConditionIsNot, a: variable("member.id"), b: value("6"), want: true},
		{name: "has any value", condition: types.ConditionHasAnyValue, a: variable("member.display_name"), want: true},
		{name: "empty has no value", condition: types.ConditionDoesNotHaveAnyValue, a: variable("empty"), want: true},
		{name: "substring", condition: types.ConditionContains, a: variable("message.content"), b: value("lo wo"), want: true},
		{name: "list element", condition: types.ConditionContains, a: variable("member.roles"), b: value("20"), want: true},
		{name: "map value", condition: types.ConditionContains, a: variable("labels"), b: value("y"), want: true},
		{name: "does not contain", condition: types.ConditionDoesNotContain, a: variable("member.roles"), b: value("30"), want: true},
		{
			name:      "contains only",
			condition: types.ConditionContainsOnly,
			a:         variable("member.roles"),
			b:         value([]any{"10", "20", "30"}),
			want:      true,
		},
		{name: "contains only empty list", condition: types.ConditionContainsOnly, a: variable("none"), b: value([]any{"10"}), want: true},
		{name: "contains only extra", condition: types.ConditionContainsOnly, a: variable("member.roles"), b: value([]any{"10"})},
		{name: "contains one of", condition: types.ConditionContainsOneOf, a: variable("member.roles"), b: value([]any{"30", "20"}), want: true},
		{name: "contains none of", condition: types.ConditionDoesNotContainOneOf, a: variable("member.roles"), b: value([]any{"30"}), want: true},
		{name: "begins with", condition: types.ConditionBeginsWith, a: variable("message.content"), b: value("hello"), want: true},
		{name: "ends with", condition: types.ConditionEndsWith, a: variable("message.content"), b: value("world"), want: true},
		{name: "first element", condition: types.ConditionBeginsWith, a: variable("member.roles"), b: value("10"), want: true},
		{name: "last element", condition: types.ConditionEndsWith, a: variable("member.roles"), b: value("10")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			met, err := evaluateCondition(types.StatementCondition{
				Condition: tt.condition,
				InputA:    tt.a,
				InputB:    tt.b,
			}, testVariables())
			require.NoError(t, err)
			assert.Equal(t, tt.want, met)
		})
	}
}

func TestUnresolvedOperandIsFalse(t *testing.T) {
	t.Parallel()

	for _, condition := range []types.ConditionKind{types.ConditionIs, types.ConditionIsNot, types.ConditionDoesNotHaveAnyValue} {
		met, err := evaluateCondition(types.StatementCondition{
			Condition: condition,
			InputA:    variable("member.nickname"),
			InputB:    value("x"),
		}, testVariables())

		require.ErrorIs(t, err, ErrUnresolvedOperand)
		assert.False(t, met, condition)
	}
}

func TestEvaluateConditionsCombinators(t *testing.T) {
	t.Parallel()

	isFive := types.StatementCondition{Combinator: types.CombinatorInitial, Condition: types.ConditionIs, InputA: variable("member.id"), InputB: value("5")}
	isSix := types.StatementCondition{Condition: types.ConditionIs, InputA: variable("member.id"), InputB: value("6")}

	and := isSix
	and.Combinator = types.CombinatorAnd

	or := isSix
	or.Combinator = types.CombinatorOr

	orFive := isFive
	orFive.Combinator = types.CombinatorOr

	tests := []struct {
		name       string
		conditions []types.StatementCondition
		want       bool
	}{
		{name: "no conditions", want: true},
		{name: "and", conditions: []types.StatementCondition{isFive, and}},
		{name: "or", conditions: []types.StatementCondition{isFive, or}, want: true},
		{name: "left to right", conditions: []types.StatementCondition{isFive, and, orFive}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			met, err := evaluateConditions(tt.conditions, testVariables())
			require.NoError(t, err)
			assert.Equal(t, tt.want, met)
		})
	}
}

func TestVariablesGet(t *testing.T) {
	t.Parallel()

	vars := testVariables()

	role, ok := vars.Get("member.roles.1")
	require.True(t, ok)
	assert.Equal(t, "20", role)

	_, ok = vars.Get("member.roles.9")
	assert.False(t, ok)

	_, ok = vars.Get("member.id.deeper")
	assert.False(t, ok)

	id, ok := vars.ID("member.id")
	require.True(t, ok)
	assert.Equal(t, uint64(5), id)

	vars.Set("greeting", "hi")
	assert.Equal(t, "hi kai!", vars.Render(types.Text{
		{Variable: "greeting"}, {Value: " "}, {Variable: "member.display_name"}, {Value: "!"}, {Variable: "missing"},
	}))
}
