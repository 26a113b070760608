package boltdb

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fastygo/realty-mesh/repository"
)

const defaultBucket = "ledger"

type ledgerRepository struct {
	db     *bolt.DB
	bucket []byte
}

// OpenLedger initializes the BoltDB file and ensures the bucket exists.
// The file is owned by a single process; use the Redis ledger for replicas.
func OpenLedger(path string) (repository.EventLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(defaultBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &ledgerRepository{
		db:     db,
		bucket: []byte(defaultBucket),
	}, nil
}

func (r *ledgerRepository) Advance(_ context.Context, id string, ts int64) (bool, error) {
	applied := false
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket)
		if current := b.Get([]byte(id)); len(current) == 8 {
			if int64(binary.BigEndian.Uint64(current)) > ts {
				return nil
			}
		}
		applied = true
		return b.Put([]byte(id), encodeTimestamp(ts))
	})
	return applied, err
}

func (r *ledgerRepository) Last(_ context.Context, id string) (int64, error) {
	var ts int64
	err := r.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(r.bucket).Get([]byte(id)); len(v) == 8 {
			ts = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return ts, err
}

func (r *ledgerRepository) Close() error {
	return r.db.Close()
}

func encodeTimestamp(ts int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	return buf
}
