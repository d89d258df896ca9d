// Package storage provides the bbolt-backed durable stores used by the
// worker execution engine: the oplog store, the worker metadata store, the
// KV service, and the promise store. Each store owns its own top-level
// bucket layout within a shared *bolt.DB, following the per-entity bucket
// scheme of a CRUD-over-bbolt store, generalized here to per-worker and
// per-namespace buckets.
package storage

import (
	"github.com/cuemby/wexec/pkg/types"
)

// OplogStore is the durable, append-only journal of a worker's host calls
// and invocation boundaries.
type OplogStore interface {
	// Append writes entry as the next sequential index for workerId and
	// returns the entry with Index populated. It commits durably before
	// returning.
	Append(workerId types.WorkerId, entry types.OplogEntry) (types.OplogEntry, error)
	// Read returns entries [from, to] inclusive, 1-indexed.
	Read(workerId types.WorkerId, from, to int64) ([]types.OplogEntry, error)
	// Length returns the number of entries recorded for workerId.
	Length(workerId types.WorkerId) (int64, error)
	// TruncateHead deletes entries with index <= upTo, used by compaction.
	TruncateHead(workerId types.WorkerId, upTo int64) error
	Close() error
}

// MetadataStore is the durable record of worker identity and lifecycle
// status, independent of the oplog itself.
type MetadataStore interface {
	CreateWorker(meta types.WorkerMetadata) error
	GetWorker(id types.WorkerId) (*types.WorkerMetadata, error)
	UpdateWorker(meta types.WorkerMetadata) error
	DeleteWorker(id types.WorkerId) error
	ListWorkers() ([]types.WorkerMetadata, error)
}

// KVStore is the durable backing of the keyvalue::eventual host capability,
// namespaced per account and worker.
type KVStore interface {
	Get(accountId string, workerId types.WorkerId, key string) ([]byte, bool, error)
	Set(accountId string, workerId types.WorkerId, key string, value []byte) error
	Delete(accountId string, workerId types.WorkerId, key string) error
	Exists(accountId string, workerId types.WorkerId, key string) (bool, error)
}

// PromiseStore is the durable backing of promise creation, polling and
// compare-and-swap completion.
type PromiseStore interface {
	Create(id types.PromiseId) error
	Poll(id types.PromiseId) (done bool, value []byte, err error)
	// Complete performs a compare-and-swap: it returns completed=false
	// without error if the promise was already completed.
	Complete(id types.PromiseId, value []byte) (completed bool, err error)
}

// Store aggregates the four durable stores plus CA material used to
// bootstrap node-to-node mTLS, all backed by one bbolt database file.
type Store interface {
	OplogStore
	MetadataStore
	KVStore
	PromiseStore

	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	Close() error
}
