package coordinator

import (
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/dreamware/keystore/internal/protocol"
	"github.com/dreamware/keystore/internal/storage"
)

// LedgerState is the lifecycle state of a transaction ledger entry (spec
// §3). A row is created in PREPARING and transitions only forward.
type LedgerState string

const (
	LedgerPreparing       LedgerState = "PREPARING"
	LedgerCommitting      LedgerState = "COMMITTING"
	LedgerCommitted       LedgerState = "COMMITTED"
	LedgerCancelled       LedgerState = "CANCELLED"
	LedgerCommittingFailed LedgerState = "COMMITTING_FAILED"
)

// LedgerEntry is one transaction's durable record. It is the coordinator's
// exclusive state; no shard or router ever reads it.
type LedgerEntry struct {
	TransactionID     string
	State             LedgerState
	Timestamp         uint64
	ClientRequestToken string `json:"ClientRequestToken,omitempty"`
	Items             []protocol.TransactItem
	CreatedAt         time.Time
	CompletedAt       time.Time `json:"CompletedAt,omitempty"`
	Cancellation      []protocol.CancellationReason `json:"Cancellation,omitempty"`
}

// Ledger is the durable bbolt-backed store of transaction ledger entries,
// one durable file per spec §6's "one coordinator durable file".
type Ledger struct {
	engine *storage.Engine
}

func OpenLedger(path string) (*Ledger, error) {
	engine, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	return &Ledger{engine: engine}, nil
}

func (l *Ledger) Close() error { return l.engine.Close() }

func (l *Ledger) Put(entry LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "marshal ledger entry")
	}
	if err := l.engine.Put(entry.TransactionID, data); err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "persist ledger entry")
	}
	return nil
}

func (l *Ledger) Get(transactionID string) (LedgerEntry, bool, error) {
	raw, err := l.engine.Get(transactionID)
	if err != nil {
		if stderrors.Is(err, storage.ErrKeyNotFound) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, protocol.Wrap(protocol.KindInternal, err, "load ledger entry")
	}
	var entry LedgerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return LedgerEntry{}, false, protocol.Wrap(protocol.KindInternal, err, "unmarshal ledger entry")
	}
	return entry, true, nil
}

// Delete drops a ledger row, used by the cleanup sweep.
func (l *Ledger) Delete(transactionID string) error {
	return l.engine.Delete(transactionID)
}

// Sweep removes every completed entry whose CompletedAt is older than
// olderThan, and reports how many rows it dropped.
func (l *Ledger) Sweep(olderThan time.Time) (int, error) {
	var stale []string
	err := l.engine.ForEach(func(key string, value []byte) error {
		var entry LedgerEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return err
		}
		if !entry.CompletedAt.IsZero() && entry.CompletedAt.Before(olderThan) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, protocol.Wrap(protocol.KindInternal, err, "scan ledger")
	}
	for _, key := range stale {
		if err := l.engine.Delete(key); err != nil {
			return 0, protocol.Wrap(protocol.KindInternal, err, "delete stale ledger entry")
		}
	}
	return len(stale), nil
}
