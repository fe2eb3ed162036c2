package coordinator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keystore/internal/avalue"
	"github.com/dreamware/keystore/internal/protocol"
	"github.com/dreamware/keystore/internal/shard"
)

func newTestCoordinator(t *testing.T, shardCount int) (*Coordinator, func(int) *shard.Shard) {
	t.Helper()
	dir := t.TempDir()

	shards := make([]*shard.Shard, shardCount)
	for i := 0; i < shardCount; i++ {
		sh, err := shard.Open(i, filepath.Join(dir, "shard_"+string(rune('0'+i))), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = sh.Close() })
		shards[i] = sh
	}
	lookup := func(index int) *shard.Shard { return shards[index] }

	ledger, err := OpenLedger(filepath.Join(dir, "coordinator"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	return New(shardCount, lookup, ledger, nil), lookup
}

func putItem(table, pk string, item map[string]avalue.Value) protocol.TransactItem {
	return protocol.TransactItem{
		Op:   protocol.OpPut,
		Key:  protocol.Key{Table: table, PK: avalue.S(pk)},
		Item: item,
	}
}

func TestTransactWriteCommitsAllItems(t *testing.T) {
	c, shards := newTestCoordinator(t, 1)

	err := c.TransactWrite(context.Background(), []protocol.TransactItem{
		putItem("accounts", "a", map[string]avalue.Value{"id": avalue.S("a"), "balance": avalue.N("100")}),
		putItem("accounts", "b", map[string]avalue.Value{"id": avalue.S("b"), "balance": avalue.N("100")}),
	}, "")
	require.NoError(t, err)

	a, ok, err := shards(0).GetItem("accounts", avalue.S("a"), avalue.Value{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, avalue.Equal(a["balance"], avalue.N("100")))

	b, ok, err := shards(0).GetItem("accounts", avalue.S("b"), avalue.Value{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, avalue.Equal(b["balance"], avalue.N("100")))
}

func TestTransactWriteValidatesItemCount(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)

	err := c.TransactWrite(context.Background(), nil, "")
	assert.Error(t, err)
	assert.Equal(t, protocol.KindValidation, protocol.KindOf(err))

	items := make([]protocol.TransactItem, 101)
	for i := range items {
		items[i] = putItem("t", "k", map[string]avalue.Value{"id": avalue.S("k")})
	}
	err = c.TransactWrite(context.Background(), items, "")
	assert.Error(t, err)
	assert.Equal(t, protocol.KindValidation, protocol.KindOf(err))
}

func TestTransactWriteConditionFailureCancelsWholeTransaction(t *testing.T) {
	c, shards := newTestCoordinator(t, 1)
	require.NoError(t, shards(0).PutItem("accounts", avalue.S("a"), avalue.Value{}, map[string]avalue.Value{"id": avalue.S("a"), "balance": avalue.N("50")}))

	items := []protocol.TransactItem{
		putItem("accounts", "a", map[string]avalue.Value{"id": avalue.S("a"), "balance": avalue.N("150")}),
		{
			Op:        protocol.OpConditionCheck,
			Key:       protocol.Key{Table: "accounts", PK: avalue.S("a")},
			Condition: "balance = :expected",
			Values:    map[string]avalue.Value{":expected": avalue.N("999")},
		},
	}

	err := c.TransactWrite(context.Background(), items, "")
	require.Error(t, err)
	assert.Equal(t, protocol.KindTransactionCancelled, protocol.KindOf(err))

	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Cancellation, 2)
	assert.Equal(t, string(protocol.KindConditionalCheckFailed), pe.Cancellation[1].Code)
	assert.Equal(t, "None", pe.Cancellation[0].Code)

	a, ok, err := shards(0).GetItem("accounts", avalue.S("a"), avalue.Value{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, avalue.Equal(a["balance"], avalue.N("50")), "no side effects after cancellation")
}

func TestTransactWriteConditionFailurePopulatesOldItemForAllOld(t *testing.T) {
	c, shards := newTestCoordinator(t, 1)
	require.NoError(t, shards(0).PutItem("accounts", avalue.S("a"), avalue.Value{}, map[string]avalue.Value{"id": avalue.S("a"), "balance": avalue.N("50")}))

	items := []protocol.TransactItem{
		{
			Op:        protocol.OpConditionCheck,
			Key:       protocol.Key{Table: "accounts", PK: avalue.S("a")},
			Condition: "balance = :expected",
			Values:    map[string]avalue.Value{":expected": avalue.N("999")},
			ReturnValuesOnConditionCheckFailure: protocol.ReturnValuesAllOld,
		},
	}

	err := c.TransactWrite(context.Background(), items, "")
	require.Error(t, err)

	var pe *protocol.Error
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Cancellation, 1)
	assert.Equal(t, string(protocol.KindConditionalCheckFailed), pe.Cancellation[0].Code)
	oldItem, ok := pe.Cancellation[0].Item.(map[string]avalue.Value)
	require.True(t, ok, "Item must carry the shard's pre-image map")
	assert.True(t, avalue.Equal(oldItem["balance"], avalue.N("50")))
}

func TestTransactWriteIsIdempotentByClientRequestToken(t *testing.T) {
	c, shards := newTestCoordinator(t, 1)

	item := putItem("accounts", "a", map[string]avalue.Value{"id": avalue.S("a"), "balance": avalue.N("10")})
	require.NoError(t, c.TransactWrite(context.Background(), []protocol.TransactItem{item}, "req-1"))
	require.NoError(t, c.TransactWrite(context.Background(), []protocol.TransactItem{item}, "req-1"))

	count, err := shards(0).ItemCount("accounts")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTransactGetReturnsFoundAndMissingInOrder(t *testing.T) {
	c, shards := newTestCoordinator(t, 1)
	require.NoError(t, shards(0).PutItem("accounts", avalue.S("a"), avalue.Value{}, map[string]avalue.Value{"id": avalue.S("a"), "balance": avalue.N("10")}))

	results, err := c.TransactGet([]protocol.TransactGetItem{
		{Key: protocol.Key{Table: "accounts", PK: avalue.S("a")}},
		{Key: protocol.Key{Table: "accounts", PK: avalue.S("missing")}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Found)
	assert.False(t, results[1].Found)
}

func TestTransactGetAppliesProjection(t *testing.T) {
	c, shards := newTestCoordinator(t, 1)
	require.NoError(t, shards(0).PutItem("accounts", avalue.S("a"), avalue.Value{}, map[string]avalue.Value{
		"id": avalue.S("a"), "balance": avalue.N("10"), "secret": avalue.S("hidden"),
	}))

	results, err := c.TransactGet([]protocol.TransactGetItem{
		{Key: protocol.Key{Table: "accounts", PK: avalue.S("a")}, Projection: "id, balance"},
	})
	require.NoError(t, err)
	require.True(t, results[0].Found)
	_, hasSecret := results[0].Item["secret"]
	assert.False(t, hasSecret)
	assert.True(t, avalue.Equal(results[0].Item["balance"], avalue.N("10")))
}
