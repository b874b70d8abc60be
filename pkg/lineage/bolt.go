package lineage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/fluxmesh/fluxmesh/pkg/types"
)

// boltBuffer persists entries across restarts, one bucket per query,
// keyed by big-endian sequence number so a bucket cursor walks entries
// in arrival order. Adapted from the teacher's BoltStore (pkg/storage):
// same db.Update/View-with-bucket idiom, repurposed from cluster-state
// CRUD to an append-mostly replay log.
type boltBuffer struct {
	db *bolt.DB
}

func newBoltBuffer(dataDir string) (*boltBuffer, error) {
	path := filepath.Join(dataDir, "lineage.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("lineage: open %s: %w", path, err)
	}
	return &boltBuffer{db: db}, nil
}

func bucketName(queryID types.QueryId) []byte {
	return []byte("query-" + strconv.FormatUint(uint64(queryID), 10))
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func (b *boltBuffer) Record(entry Entry) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(entry.QueryID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(entry.SequenceNumber), data)
	})
}

func (b *boltBuffer) Trim(queryID types.QueryId, barrierTSMillis uint64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(queryID))
		if bucket == nil {
			return nil
		}
		var stale [][]byte
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("lineage: decode entry: %w", err)
			}
			if entry.CreationTSMillis <= barrierTSMillis {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltBuffer) Close() error {
	return b.db.Close()
}

// Len returns the number of retained entries for queryID, for tests.
func (b *boltBuffer) Len(queryID types.QueryId) (int, error) {
	n := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(queryID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}
