// Package activity records engine events: orders placed, orders cancelled,
// trades executed. Events land in a bounded in-memory ring for the API and,
// when a store is attached, in Pebble for durability across restarts.
package activity

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	TypeOrderPlaced    = "order_placed"
	TypeOrderCancelled = "order_cancelled"
	TypeTradeExecuted  = "trade_executed"
)

type Event struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	OrderID   uint64          `json:"order_id,omitempty"`
	Account   string          `json:"account,omitempty"`
	Side      string          `json:"side,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp int64           `json:"timestamp"`

	// Settlement transaction hashes, set on trade_executed only.
	TxHashSource      string `json:"tx_hash_source,omitempty"`
	TxHashDestination string `json:"tx_hash_destination,omitempty"`
}

// Log fans events into the ring and the optional durable store. A store
// write failure is logged and dropped; the engine does not stall on the
// activity path.
type Log struct {
	mu    sync.Mutex
	ring  []Event
	max   int
	store *Store
	log   *zap.Logger
}

func NewLog(store *Store, max int, logger *zap.Logger) *Log {
	if max <= 0 {
		max = 1000
	}
	return &Log{max: max, store: store, log: logger}
}

func (l *Log) Record(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	l.mu.Lock()
	l.ring = append(l.ring, e)
	if len(l.ring) > l.max {
		l.ring = l.ring[len(l.ring)-l.max:]
	}
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Append(e); err != nil {
			l.log.Warn("activity store write failed",
				zap.String("type", e.Type),
				zap.Error(err))
		}
	}
}

// Recent returns up to n of the latest events, oldest first. n <= 0 returns
// everything in the ring.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.ring
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}
