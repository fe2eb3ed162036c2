package expr

import (
	"testing"

	"github.com/dreamware/keystore/internal/avalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyConditionSortRange(t *testing.T) {
	kc, err := ParseKeyCondition("userId = :u AND ts BETWEEN :lo AND :hi")
	require.NoError(t, err)

	ctx := &EvaluationContext{Values: map[string]avalue.Value{
		":u": avalue.S("alice"), ":lo": avalue.N("200"), ":hi": avalue.N("400"),
	}}

	assert.True(t, avalue.Equal(kc.ResolvePartitionValue(ctx), avalue.S("alice")))
	assert.True(t, kc.SortCondition.SortMatch(avalue.N("300"), ctx))
	assert.False(t, kc.SortCondition.SortMatch(avalue.N("500"), ctx))

	// The BETWEEN bounds are inclusive, and a sort key that round-tripped
	// through SortDecode carries scientific-notation text ("2e2") rather
	// than the operand's plain-decimal text ("200"); the two must still
	// compare equal by numeric magnitude.
	assert.True(t, kc.SortCondition.SortMatch(avalue.N("2e2"), ctx))
	assert.True(t, kc.SortCondition.SortMatch(avalue.N("4e2"), ctx))
}

func TestKeyConditionSortEqMatchesAcrossNumericTextForms(t *testing.T) {
	kc, err := ParseKeyCondition("userId = :u AND ts = :v")
	require.NoError(t, err)
	ctx := &EvaluationContext{Values: map[string]avalue.Value{":u": avalue.S("alice"), ":v": avalue.N("200")}}

	assert.True(t, kc.SortCondition.SortMatch(avalue.N("2e2"), ctx))
	assert.False(t, kc.SortCondition.SortMatch(avalue.N("201"), ctx))
}

func TestKeyConditionSortGeLeMatchAcrossNumericTextForms(t *testing.T) {
	geKC, err := ParseKeyCondition("userId = :u AND ts >= :v")
	require.NoError(t, err)
	ctx := &EvaluationContext{Values: map[string]avalue.Value{":u": avalue.S("alice"), ":v": avalue.N("200")}}
	assert.True(t, geKC.SortCondition.SortMatch(avalue.N("2e2"), ctx))

	leKC, err := ParseKeyCondition("userId = :u AND ts <= :v")
	require.NoError(t, err)
	assert.True(t, leKC.SortCondition.SortMatch(avalue.N("2e2"), ctx))
}

func TestProjectionAppliesSubset(t *testing.T) {
	proj, err := ParseProjection("a, c")
	require.NoError(t, err)
	item := map[string]avalue.Value{"a": avalue.S("1"), "b": avalue.S("2")}

	out := ApplyProjection(proj, item, &EvaluationContext{})
	assert.Contains(t, out, "a")
	assert.NotContains(t, out, "b")
	assert.NotContains(t, out, "c")
}
