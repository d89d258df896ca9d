package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/wexec/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketOplog    = []byte("oplog")    // nested: one sub-bucket per worker id
	bucketWorkers  = []byte("workers")  // key: worker id, value: JSON WorkerMetadata
	bucketKV       = []byte("kv")       // key: account/worker/key, value: raw bytes
	bucketPromises = []byte("promises") // key: promise id, value: JSON promiseRecord
	bucketCA       = []byte("ca")       // fixed key "ca"
)

type promiseRecord struct {
	State types.PromiseState
	Value []byte
}

// BoltStore implements Store over a single bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the engine's bbolt database
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "wexec.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketOplog, bucketWorkers, bucketKV, bucketPromises, bucketCA} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func indexKey(index int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(index))
	return key
}

// Append writes entry as the next sequential index for workerId.
func (s *BoltStore) Append(workerId types.WorkerId, entry types.OplogEntry) (types.OplogEntry, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		oplog := tx.Bucket(bucketOplog)
		wb, err := oplog.CreateBucketIfNotExists([]byte(workerId.String()))
		if err != nil {
			return err
		}

		next := int64(wb.Sequence()) + 1
		entry.Index = next

		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := wb.Put(indexKey(next), data); err != nil {
			return err
		}
		return wb.SetSequence(uint64(next))
	})
	return entry, err
}

// Read returns entries [from, to] inclusive, 1-indexed.
func (s *BoltStore) Read(workerId types.WorkerId, from, to int64) ([]types.OplogEntry, error) {
	var entries []types.OplogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		oplog := tx.Bucket(bucketOplog)
		wb := oplog.Bucket([]byte(workerId.String()))
		if wb == nil {
			return nil
		}
		c := wb.Cursor()
		for k, v := c.Seek(indexKey(from)); k != nil; k, v = c.Next() {
			idx := int64(binary.BigEndian.Uint64(k))
			if idx > to {
				break
			}
			var entry types.OplogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// Length returns the number of entries recorded for workerId.
func (s *BoltStore) Length(workerId types.WorkerId) (int64, error) {
	var length int64
	err := s.db.View(func(tx *bolt.Tx) error {
		oplog := tx.Bucket(bucketOplog)
		wb := oplog.Bucket([]byte(workerId.String()))
		if wb == nil {
			return nil
		}
		length = int64(wb.Sequence())
		return nil
	})
	return length, err
}

// TruncateHead deletes entries with index <= upTo.
func (s *BoltStore) TruncateHead(workerId types.WorkerId, upTo int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		oplog := tx.Bucket(bucketOplog)
		wb := oplog.Bucket([]byte(workerId.String()))
		if wb == nil {
			return nil
		}
		c := wb.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			idx := int64(binary.BigEndian.Uint64(k))
			if idx > upTo {
				break
			}
			if err := wb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateWorker inserts a new worker metadata record.
func (s *BoltStore) CreateWorker(meta types.WorkerMetadata) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put([]byte(meta.WorkerId.String()), data)
	})
}

// GetWorker returns the metadata record for id.
func (s *BoltStore) GetWorker(id types.WorkerId) (*types.WorkerMetadata, error) {
	var meta types.WorkerMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("worker not found: %s", id)
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// UpdateWorker upserts a worker metadata record.
func (s *BoltStore) UpdateWorker(meta types.WorkerMetadata) error {
	return s.CreateWorker(meta)
}

// DeleteWorker removes a worker's metadata record. It does not touch the
// worker's oplog bucket; callers compact or drop that separately.
func (s *BoltStore) DeleteWorker(id types.WorkerId) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.Delete([]byte(id.String()))
	})
}

// ListWorkers returns every worker metadata record.
func (s *BoltStore) ListWorkers() ([]types.WorkerMetadata, error) {
	var workers []types.WorkerMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			var meta types.WorkerMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			workers = append(workers, meta)
			return nil
		})
	})
	return workers, err
}

func kvKey(accountId string, workerId types.WorkerId, key string) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s", accountId, workerId, key))
}

// Get reads a KV value, namespaced by account and worker.
func (s *BoltStore) Get(accountId string, workerId types.WorkerId, key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		data := b.Get(kvKey(accountId, workerId, key))
		if data == nil {
			return nil
		}
		found = true
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})
	return value, found, err
}

// Set writes a KV value, namespaced by account and worker.
func (s *BoltStore) Set(accountId string, workerId types.WorkerId, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		return b.Put(kvKey(accountId, workerId, key), value)
	})
}

// Delete removes a KV value, namespaced by account and worker.
func (s *BoltStore) Delete(accountId string, workerId types.WorkerId, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		return b.Delete(kvKey(accountId, workerId, key))
	})
}

// Exists reports whether a KV value is present.
func (s *BoltStore) Exists(accountId string, workerId types.WorkerId, key string) (bool, error) {
	_, found, err := s.Get(accountId, workerId, key)
	return found, err
}

// Create records a new pending promise. It is a no-op error if id already
// exists, since promise ids are derived from a unique (workerId, oplogIndex)
// pair and creation is expected to be idempotent across worker recovery.
func (s *BoltStore) Create(id types.PromiseId) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPromises)
		key := []byte(id.String())
		if b.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(promiseRecord{State: types.PromisePending})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// Poll reports whether the promise has been completed and, if so, its value.
func (s *BoltStore) Poll(id types.PromiseId) (bool, []byte, error) {
	var rec promiseRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPromises)
		data := b.Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("promise not found: %s", id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return false, nil, err
	}
	return rec.State == types.PromiseCompleted, rec.Value, nil
}

// Complete performs a compare-and-swap completion inside a single
// transaction, so that concurrent completers race safely and at most one
// observes completed=true.
func (s *BoltStore) Complete(id types.PromiseId, value []byte) (bool, error) {
	completed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPromises)
		key := []byte(id.String())
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("promise not found: %s", id)
		}
		var rec promiseRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.State == types.PromiseCompleted {
			return nil
		}
		rec.State = types.PromiseCompleted
		rec.Value = value
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put(key, updated); err != nil {
			return err
		}
		completed = true
		return nil
	})
	return completed, err
}

// SaveCA stores the cluster's CA cert and key material.
func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		return b.Put([]byte("ca"), data)
	})
}

// GetCA returns the cluster's CA cert and key material.
func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		stored := b.Get([]byte("ca"))
		if stored == nil {
			return fmt.Errorf("CA not found")
		}
		data = make([]byte, len(stored))
		copy(data, stored)
		return nil
	})
	return data, err
}
