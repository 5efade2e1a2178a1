package activity

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// key: ev:<8-byte big-endian sequence> so iteration order is append order.
var evPrefix = []byte("ev:")

func evKey(seq uint64) []byte {
	key := make([]byte, len(evPrefix)+8)
	copy(key, evPrefix)
	binary.BigEndian.PutUint64(key[len(evPrefix):], seq)
	return key
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// Store is the durable event journal. Each event gets the next sequence
// number; sequence state survives restarts by reading the last key on open.
type Store struct {
	db      *pebble.DB
	mu      sync.Mutex
	nextSeq uint64
}

func OpenStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open activity store: %w", err)
	}
	s := &Store{db: db}
	if err := s.recoverSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) recoverSeq() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: evPrefix,
		UpperBound: keyUpperBound(evPrefix),
	})
	if err != nil {
		return fmt.Errorf("activity seq recovery: %w", err)
	}
	defer iter.Close()

	if iter.Last() {
		key := iter.Key()
		s.nextSeq = binary.BigEndian.Uint64(key[len(evPrefix):]) + 1
	}
	return iter.Error()
}

func (s *Store) Append(e Event) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	s.mu.Unlock()

	if err := s.db.Set(evKey(seq), val, pebble.Sync); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Recent reads up to n of the latest events from the journal, oldest first.
func (s *Store) Recent(n int) ([]Event, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: evPrefix,
		UpperBound: keyUpperBound(evPrefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Event
	for ok := iter.Last(); ok && (n <= 0 || len(out) < n); ok = iter.Prev() {
		var e Event
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
