package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConditionPrecedence(t *testing.T) {
	// a = :a OR b = :b AND c = :c  parses as  a = :a OR (b = :b AND c = :c)
	node, err := ParseCondition("a = :a OR b = :b AND c = :c")
	require.NoError(t, err)
	or, ok := node.(OrExpr)
	require.True(t, ok)
	_, ok = or.Right.(AndExpr)
	assert.True(t, ok, "AND should bind tighter than OR")
}

func TestParseConditionParentheses(t *testing.T) {
	node, err := ParseCondition("(a = :a OR b = :b) AND c = :c")
	require.NoError(t, err)
	and, ok := node.(AndExpr)
	require.True(t, ok)
	_, ok = and.Left.(OrExpr)
	assert.True(t, ok)
}

func TestParseBetween(t *testing.T) {
	node, err := ParseCondition("ts BETWEEN :lo AND :hi")
	require.NoError(t, err)
	between, ok := node.(BetweenExpr)
	require.True(t, ok)
	assert.Equal(t, "lo", between.Lo.ValueName)
}

func TestParseFunctionCallArity(t *testing.T) {
	_, err := ParseCondition("attribute_exists(id, :x)")
	require.Error(t, err)

	_, err = ParseCondition("attribute_exists(id)")
	require.NoError(t, err)
}

func TestParseUpdateClauseOrderIndependentOfSource(t *testing.T) {
	u, err := ParseUpdate("REMOVE a SET b = :v ADD c :n DELETE d :s")
	require.NoError(t, err)
	assert.Len(t, u.Set, 1)
	assert.Len(t, u.Remove, 1)
	assert.Len(t, u.Add, 1)
	assert.Len(t, u.Delete, 1)
}

func TestParseUpdateArithmetic(t *testing.T) {
	u, err := ParseUpdate("SET v = v + :one")
	require.NoError(t, err)
	require.Len(t, u.Set, 1)
	require.NotNil(t, u.Set[0].Value.Arithmetic)
	assert.Equal(t, TokPlus, u.Set[0].Value.Arithmetic.Op)
}

func TestParseUpdateIfNotExistsAndListAppend(t *testing.T) {
	u, err := ParseUpdate("SET a = if_not_exists(a, :default), b = list_append(b, :more)")
	require.NoError(t, err)
	require.Len(t, u.Set, 2)
	assert.NotNil(t, u.Set[0].Value.IfNotExists)
	assert.NotNil(t, u.Set[1].Value.ListAppend)
}

func TestParseKeyConditionRequiresEquality(t *testing.T) {
	_, err := ParseKeyCondition("pk > :v")
	require.Error(t, err)
}

func TestParseKeyConditionWithSortRange(t *testing.T) {
	kc, err := ParseKeyCondition("userId = :u AND ts BETWEEN :lo AND :hi")
	require.NoError(t, err)
	require.NotNil(t, kc.SortCondition)
	assert.Equal(t, SortBetween, kc.SortCondition.Op)
}

func TestParseKeyConditionBeginsWith(t *testing.T) {
	kc, err := ParseKeyCondition("pk = :p AND begins_with(sk, :prefix)")
	require.NoError(t, err)
	require.NotNil(t, kc.SortCondition)
	assert.Equal(t, SortBeginsWith, kc.SortCondition.Op)
}

func TestParseProjection(t *testing.T) {
	proj, err := ParseProjection("a, b.c, #n")
	require.NoError(t, err)
	assert.Len(t, proj.Paths, 3)
}

func TestParseErrorReportsPosition(t *testing.T) {
	_, err := ParseCondition("a = ")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Greater(t, pe.Pos, 0)
}
