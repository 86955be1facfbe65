// Package audit keeps an append-only BoltDB journal of raw gateway status
// payloads, one nested bucket per transaction.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/ariefcatur/go-checkout-orders/internal/orders"
)

const rootBucket = "settlements"

type Entry struct {
	Seq        uint64            `json:"seq"`
	At         time.Time         `json:"at"`
	OrderID    string            `json:"order_id,omitempty"`
	Settlement orders.Settlement `json:"settlement"`
}

// Journal is safe for concurrent use. A nil *Journal discards appends.
type Journal struct {
	db *bolt.DB
}

func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit journal: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}

// Append records one status payload observed for txID.
func (j *Journal) Append(txID, orderID string, s orders.Settlement, at time.Time) error {
	if j == nil {
		return nil
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket([]byte(rootBucket)).CreateBucketIfNotExists([]byte(txID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(Entry{Seq: seq, At: at.UTC(), OrderID: orderID, Settlement: s})
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// Entries returns everything journaled for txID in append order.
func (j *Journal) Entries(txID string) ([]Entry, error) {
	out := []Entry{}
	if j == nil {
		return out, nil
	}
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rootBucket)).Bucket([]byte(txID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read audit journal: %w", err)
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
