package index

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/reedbase/reedbase/pkg/reederr"
)

// Operation is the kind of filter a WHERE condition applies, used to
// pick a backend when auto-creating an index (equals -> Hash,
// range/prefix-like -> BTree; contains/suffix-like gets no index).
type Operation int

const (
	OpEquals Operation = iota
	OpRange
	OpPrefixLike
	OpOther
)

// BackendFor returns the backend an auto-created index should use for
// op, or ok=false if no index helps this operation shape.
func BackendFor(op Operation) (Backend, bool) {
	switch op {
	case OpEquals:
		return Hash, true
	case OpRange, OpPrefixLike:
		return BTree, true
	default:
		return 0, false
	}
}

// Advisor persists per (table, column, operation) usage counters in a
// badger.DB and recommends creating an index once a column crosses
// Threshold hits.
type Advisor struct {
	db        *badger.DB
	threshold int64

	mu      sync.Mutex
	created map[string]bool
}

// DefaultThreshold is the configurable usage threshold (default 10)
// for auto-index creation.
const DefaultThreshold = 10

// OpenAdvisor opens (creating if absent) the badger store at dir backing
// the advisor's usage counters.
func OpenAdvisor(dir string, threshold int64) (*Advisor, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, reederr.Wrap(reederr.KindIO, "opening index advisor store", err).WithPath(dir)
	}
	return &Advisor{db: db, threshold: threshold, created: make(map[string]bool)}, nil
}

func counterKey(table, column string, op Operation) []byte {
	return []byte(fmt.Sprintf("count|%s|%s|%d", table, column, op))
}

// RecordUse increments the usage counter for (table, column, op) and
// reports whether this call just crossed the auto-index threshold for
// the first time.
func (a *Advisor) RecordUse(table, column string, op Operation) (crossedThreshold bool, err error) {
	key := counterKey(table, column, op)
	var count int64
	err = a.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			_ = item.Value(func(val []byte) error {
				count = int64(binary.BigEndian.Uint64(val))
				return nil
			})
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		count++
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(count))
		return txn.Set(key, buf[:])
	})
	if err != nil {
		return false, reederr.Wrap(reederr.KindIO, "recording index advisor usage", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	idKey := fmt.Sprintf("%s|%s|%d", table, column, op)
	if count >= a.threshold && !a.created[idKey] {
		a.created[idKey] = true
		return true, nil
	}
	return false, nil
}

// Count returns the current usage counter for (table, column, op).
func (a *Advisor) Count(table, column string, op Operation) (int64, error) {
	var count int64
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(counterKey(table, column, op))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			count = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return 0, reederr.Wrap(reederr.KindIO, "reading index advisor usage", err)
	}
	return count, nil
}

// Close releases the advisor's badger handle.
func (a *Advisor) Close() error {
	return a.db.Close()
}
