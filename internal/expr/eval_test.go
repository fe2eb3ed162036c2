package expr

import (
	"testing"

	"github.com/dreamware/keystore/internal/avalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxWith(item map[string]avalue.Value, values map[string]avalue.Value) *EvaluationContext {
	return &EvaluationContext{Item: item, Values: values}
}

func TestEvalAttributeExistsOnNullItem(t *testing.T) {
	node, err := ParseCondition("attribute_exists(id)")
	require.NoError(t, err)
	ok, err := Eval(node, ctxWith(nil, nil))
	require.NoError(t, err)
	assert.False(t, ok)

	node, err = ParseCondition("attribute_not_exists(id)")
	require.NoError(t, err)
	ok, err = Eval(node, ctxWith(nil, nil))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalComparisonNumericVsString(t *testing.T) {
	item := map[string]avalue.Value{"n": avalue.N("5")}
	values := map[string]avalue.Value{":v": avalue.N("10")}
	node, err := ParseCondition("n < :v")
	require.NoError(t, err)
	ok, err := Eval(node, ctxWith(item, values))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalLeGeMatchNumericallyAcrossTextForms(t *testing.T) {
	item := map[string]avalue.Value{"n": avalue.N("2e2")}
	values := map[string]avalue.Value{":v": avalue.N("200")}

	for _, expr := range []string{"n <= :v", "n >= :v"} {
		node, err := ParseCondition(expr)
		require.NoError(t, err)
		ok, err := Eval(node, ctxWith(item, values))
		require.NoError(t, err)
		assert.True(t, ok, "%s should hold for numerically-equal operands with different text", expr)
	}
}

func TestEvalBetweenInclusiveBoundsAcrossTextForms(t *testing.T) {
	item := map[string]avalue.Value{"n": avalue.N("2e2")}
	values := map[string]avalue.Value{":lo": avalue.N("200"), ":hi": avalue.N("400")}

	node, err := ParseCondition("n BETWEEN :lo AND :hi")
	require.NoError(t, err)
	ok, err := Eval(node, ctxWith(item, values))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalUnresolvedValuePlaceholderIsFalse(t *testing.T) {
	item := map[string]avalue.Value{"n": avalue.N("5")}
	node, err := ParseCondition("n = :missing")
	require.NoError(t, err)
	ok, err := Eval(node, ctxWith(item, nil))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalBeginsWithAndContains(t *testing.T) {
	item := map[string]avalue.Value{"s": avalue.S("hello world"), "l": avalue.L([]avalue.Value{avalue.S("a"), avalue.S("b")})}
	values := map[string]avalue.Value{":p": avalue.S("hello"), ":e": avalue.S("b")}

	node, err := ParseCondition("begins_with(s, :p)")
	require.NoError(t, err)
	ok, err := Eval(node, ctxWith(item, values))
	require.NoError(t, err)
	assert.True(t, ok)

	node, err = ParseCondition("contains(l, :e)")
	require.NoError(t, err)
	ok, err = Eval(node, ctxWith(item, values))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalDeterministic(t *testing.T) {
	item := map[string]avalue.Value{"status": avalue.S("active")}
	values := map[string]avalue.Value{":s": avalue.S("active")}
	node, err := ParseCondition("status = :s")
	require.NoError(t, err)

	ctx := ctxWith(item, values)
	a, err := Eval(node, ctx)
	require.NoError(t, err)
	b, err := Eval(node, ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestApplyUpdateClauseOrdering(t *testing.T) {
	item := map[string]avalue.Value{"v": avalue.N("1"), "gone": avalue.S("x")}
	values := map[string]avalue.Value{":one": avalue.N("2")}
	u, err := ParseUpdate("ADD v :one REMOVE gone")
	require.NoError(t, err)

	out, err := ApplyUpdate(u, ctxWith(item, values))
	require.NoError(t, err)
	assert.Equal(t, "3", out["v"].Num)
	_, exists := out["gone"]
	assert.False(t, exists)
}

func TestApplyUpdateSetReadsOriginalSnapshot(t *testing.T) {
	item := map[string]avalue.Value{"a": avalue.N("1")}
	u, err := ParseUpdate("SET b = a, a = :two")
	require.NoError(t, err)
	values := map[string]avalue.Value{":two": avalue.N("2")}

	out, err := ApplyUpdate(u, ctxWith(item, values))
	require.NoError(t, err)
	assert.Equal(t, "1", out["b"].Num, "b must see the original value of a, not the new one")
	assert.Equal(t, "2", out["a"].Num)
}

func TestApplyUpdateArithmeticDropsOnMissingOperand(t *testing.T) {
	item := map[string]avalue.Value{}
	u, err := ParseUpdate("SET v = v + :one")
	require.NoError(t, err)
	values := map[string]avalue.Value{":one": avalue.N("1")}

	out, err := ApplyUpdate(u, ctxWith(item, values))
	require.NoError(t, err)
	_, exists := out["v"]
	assert.False(t, exists, "action should be dropped, not set a default")
}

func TestApplyUpdateAddOnMissingNumericInitializesToZero(t *testing.T) {
	item := map[string]avalue.Value{}
	u, err := ParseUpdate("ADD v :n")
	require.NoError(t, err)
	values := map[string]avalue.Value{":n": avalue.N("5")}

	out, err := ApplyUpdate(u, ctxWith(item, values))
	require.NoError(t, err)
	assert.Equal(t, "5", out["v"].Num)
}

func TestApplyUpdateAddSetUnion(t *testing.T) {
	item := map[string]avalue.Value{"tags": avalue.SSet([]string{"a", "b"})}
	u, err := ParseUpdate("ADD tags :more")
	require.NoError(t, err)
	values := map[string]avalue.Value{":more": avalue.SSet([]string{"b", "c"})}

	out, err := ApplyUpdate(u, ctxWith(item, values))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, out["tags"].StrSet)
}

func TestApplyUpdateDeleteFromSet(t *testing.T) {
	item := map[string]avalue.Value{"tags": avalue.SSet([]string{"a", "b", "c"})}
	u, err := ParseUpdate("DELETE tags :rm")
	require.NoError(t, err)
	values := map[string]avalue.Value{":rm": avalue.SSet([]string{"b"})}

	out, err := ApplyUpdate(u, ctxWith(item, values))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, out["tags"].StrSet)
}

func TestApplyUpdateListAppend(t *testing.T) {
	item := map[string]avalue.Value{"l": avalue.L([]avalue.Value{avalue.S("a")})}
	u, err := ParseUpdate("SET l = list_append(l, :more)")
	require.NoError(t, err)
	values := map[string]avalue.Value{":more": avalue.L([]avalue.Value{avalue.S("b")})}

	out, err := ApplyUpdate(u, ctxWith(item, values))
	require.NoError(t, err)
	require.Len(t, out["l"].List, 2)
	assert.Equal(t, "b", out["l"].List[1].Str)
}

func TestApplyUpdateIfNotExists(t *testing.T) {
	item := map[string]avalue.Value{}
	u, err := ParseUpdate("SET v = if_not_exists(v, :def)")
	require.NoError(t, err)
	values := map[string]avalue.Value{":def": avalue.N("0")}

	out, err := ApplyUpdate(u, ctxWith(item, values))
	require.NoError(t, err)
	assert.Equal(t, "0", out["v"].Num)
}
