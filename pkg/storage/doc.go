/*
Package storage provides bbolt-backed durable persistence for the worker
execution engine: the oplog, worker metadata, the KV service, the promise
store, and cluster CA material.

# Bucket Layout

	oplog            nested: one sub-bucket per worker id, keys = big-endian uint64 index
	workers          key: worker id, value: JSON WorkerMetadata
	kv               key: "{account}/{worker}/{key}", value: raw bytes
	promises         key: promise id, value: JSON {State, Value}
	ca               fixed key "ca"

# Transaction Model

Every write commits inside a single bolt.Tx, so "durable before return"
holds for oplog appends and "at most one Completed transition" holds for
promise completion (Complete is a compare-and-swap within one transaction).
Reads use db.View for MVCC snapshot isolation.

# Usage

	store, err := storage.NewBoltStore("/var/lib/wexec/node-1")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	entry, err := store.Append(workerId, types.OplogEntry{
		Kind:                types.OplogKindHostCall,
		WrappedFunctionKind: types.WriteRemote,
		FunctionName:        "http::request",
		Payload:             payload,
		RecordedAt:          time.Now(),
	})

# Integration Points

  - pkg/durability: appends and reads the oplog during record/replay
  - pkg/promise: creates, polls and completes promises
  - pkg/hostfns: reads/writes KV values for keyvalue::eventual
  - pkg/cluster: stores and retrieves CA material for mTLS bootstrap
*/
package storage
