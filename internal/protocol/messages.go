package protocol

import "github.com/dreamware/keystore/internal/avalue"

// Op identifies the kind of write carried by a transactional operation.
type Op string

const (
	OpPut            Op = "Put"
	OpUpdate         Op = "Update"
	OpDelete         Op = "Delete"
	OpConditionCheck Op = "ConditionCheck"
)

// ReturnValues controls what a failed conditional write reports back.
type ReturnValues string

const (
	ReturnValuesNone   ReturnValues = ""
	ReturnValuesAllOld ReturnValues = "ALL_OLD"
)

// Key identifies a single item by its partition/sort key values.
type Key struct {
	Table string
	PK    avalue.Value
	SK    avalue.Value // zero Value when the table has no sort key
}

// TransactItem is one element of a TransactWriteItems
// request, as assembled by the router before it reaches the coordinator.
type TransactItem struct {
	Op    Op
	Key   Key
	Item  map[string]avalue.Value // full item body, for Put
	Condition string               // raw condition expression source, may be empty
	Update    string               // raw update expression source, for Update
	Names  map[string]string
	Values map[string]avalue.Value
	ReturnValuesOnConditionCheckFailure ReturnValues
}

// PrepareRequest is phase 1 of 2PC, sent from the coordinator to the shard
// owning Key.
type PrepareRequest struct {
	TransactionID string
	Timestamp     uint64
	Item          TransactItem
}

// PrepareResponse is the shard's phase-1 answer.
type PrepareResponse struct {
	Accepted bool
	LSN      uint64
	Reason   CancellationReason     // populated when Accepted is false
	OldItem  map[string]avalue.Value // populated on ConditionalCheckFailed + ALL_OLD
}

// CommitRequest is phase 2 of 2PC.
type CommitRequest struct {
	TransactionID string
	Timestamp     uint64
	Item          TransactItem
}

// ReleaseRequest tells a shard to drop the lock (and any placeholder row)
// held by TransactionID for each key, best-effort.
type ReleaseRequest struct {
	TransactionID string
	Keys          []Key
}

// TransactGetItem is one element of a TransactGetItems request: a key plus
// an optional projection expression applied to the fetched item.
type TransactGetItem struct {
	Key        Key
	Projection string // raw projection expression source, may be empty
	Names      map[string]string
}
