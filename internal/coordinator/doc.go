// Package coordinator owns the transaction ledger and drives two-phase
// commit for transactional writes, plus parallel single-shard reads for
// transactional gets (spec §4.4). The ledger is the coordinator's
// exclusive state; no shard or router ever reads it.
//
// Idempotency window: the in-memory client-request-token cache is scoped
// to a single process lifetime and is not rebuilt from the ledger on
// restart. At-most-one-commit is therefore only guaranteed while a cache
// entry lives (at most 10 minutes); a coordinator restart during that
// window can allow a retried transact_write to re-run. A future recovery
// agent that replays PREPARING/COMMITTING ledger rows on startup would
// close this gap; it is out of scope here.
package coordinator
