package book

import (
	"container/heap"
	"container/list"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook holds the resting orders for one symbol: a bid side and an ask
// side, each a heap-tracked set of price levels with FIFO queues, plus an
// order-id index for O(1) cancellation. All mutation happens under mu, so
// price-time priority and the index can never disagree.
type OrderBook struct {
	symbol string

	mu     sync.Mutex
	bids   *bookSide
	asks   *bookSide
	orders map[uint64]*orderRef
	nextID uint64

	tape    []Trade
	tapeMax int
}

func NewOrderBook(symbol string, tapeMax int) *OrderBook {
	if tapeMax <= 0 {
		tapeMax = 1000
	}
	return &OrderBook{
		symbol:  symbol,
		bids:    newBookSide(true),
		asks:    newBookSide(false),
		orders:  make(map[uint64]*orderRef),
		nextID:  1,
		tapeMax: tapeMax,
	}
}

func (ob *OrderBook) Symbol() string { return ob.symbol }

// Result of processing one incoming order.
type Result struct {
	Trades []Trade
	// Resting is a snapshot of the incoming order's remainder left on the
	// book, nil when fully filled (or a market-order remainder, which is
	// discarded).
	Resting *Order
	// NextBest is a snapshot of the head order at the best opposing price
	// after matching, for book-depth consumers. Nil when the opposite side
	// is empty.
	NextBest *Order
}

// Process matches an incoming order against the book. It fails only on
// structurally invalid input; "no match" and "fully resting" are success
// outcomes. The order is assigned a monotonic id and an acceptance timestamp.
// Trades are NOT appended to the tape here: the caller records them once
// settlement has confirmed (RecordTrades).
func (ob *OrderBook) Process(incoming *Order) (*Result, error) {
	if err := incoming.validate(); err != nil {
		return nil, err
	}
	if incoming.ID != 0 {
		return nil, ErrAlreadyProcessed
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	opposite := ob.asks
	if incoming.Side == Ask {
		opposite = ob.bids
	}
	if incoming.Type == Market && opposite.heap.Len() == 0 {
		return nil, ErrEmptyBook
	}

	incoming.ID = ob.nextID
	ob.nextID++
	if incoming.Timestamp.IsZero() {
		incoming.Timestamp = time.Now().UTC()
	}

	res := &Result{}
	for incoming.Quantity.GreaterThan(decimal.Zero) {
		best := opposite.best()
		if best == nil {
			break
		}
		if incoming.Type == Limit && !crosses(incoming.Side, incoming.Price, best.price) {
			break
		}

		makerElem := best.queue.Front()
		maker := makerElem.Value.(*Order)

		matched := decimal.Min(incoming.Quantity, maker.Quantity)
		maker.Quantity = maker.Quantity.Sub(matched)
		incoming.Quantity = incoming.Quantity.Sub(matched)

		// Execution at the resting order's price: the maker keeps their
		// quoted price.
		res.Trades = append(res.Trades, Trade{
			Price:      best.price,
			Quantity:   matched,
			BaseAsset:  incoming.BaseAsset,
			QuoteAsset: incoming.QuoteAsset,
			Timestamp:  incoming.Timestamp.Unix(),
			Party1:     partyOf(maker),
			Party2:     partyOf(incoming),
		})

		if maker.Quantity.IsZero() {
			ob.removeLocked(maker.ID)
		}
	}

	if incoming.Quantity.GreaterThan(decimal.Zero) && incoming.Type == Limit {
		ob.insertLocked(incoming)
		resting := *incoming
		res.Resting = &resting
	}

	if best := opposite.best(); best != nil {
		next := *(best.queue.Front().Value.(*Order))
		res.NextBest = &next
	}
	return res, nil
}

// Cancel removes a resting order. An unknown id, or an id resting on the
// other side, is an error rather than a silent no-op: rollback callers depend
// on knowing whether anything was actually removed.
func (ob *OrderBook) Cancel(side Side, orderID uint64) (*Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ref, ok := ob.orders[orderID]
	if !ok || ref.order.Side != side {
		return nil, ErrOrderNotFound
	}
	cancelled := *ref.order
	ob.removeLocked(orderID)
	return &cancelled, nil
}

// Lookup returns a snapshot of a resting order by id.
func (ob *OrderBook) Lookup(orderID uint64) (*Order, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ref, ok := ob.orders[orderID]
	if !ok {
		return nil, false
	}
	o := *ref.order
	return &o, true
}

// Level is one aggregated price level of the depth snapshot.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

// Snapshot is the aggregated, best-first view of both sides. Read-only
// projection; the book is untouched.
type Snapshot struct {
	Symbol string
	Bids   []Level
	Asks   []Level
}

func (ob *OrderBook) Depth() Snapshot {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	return Snapshot{
		Symbol: ob.symbol,
		Bids:   ob.bids.levelsBestFirst(),
		Asks:   ob.asks.levelsBestFirst(),
	}
}

// RecordTrades appends settled trades to the tape, trimming to the retention
// bound. Called by the registry only after settlement success.
func (ob *OrderBook) RecordTrades(trades []Trade) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.tape = append(ob.tape, trades...)
	if excess := len(ob.tape) - ob.tapeMax; excess > 0 {
		ob.tape = append([]Trade(nil), ob.tape[excess:]...)
	}
}

// Tape returns up to limit most recent trades, oldest first.
func (ob *OrderBook) Tape(limit int) []Trade {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	n := len(ob.tape)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Trade, limit)
	copy(out, ob.tape[n-limit:])
	return out
}

func crosses(side Side, limit, makerPrice decimal.Decimal) bool {
	if side == Bid {
		return makerPrice.LessThanOrEqual(limit)
	}
	return makerPrice.GreaterThanOrEqual(limit)
}

func (ob *OrderBook) insertLocked(o *Order) {
	side := ob.asks
	if o.Side == Bid {
		side = ob.bids
	}
	ob.orders[o.ID] = side.add(o)
}

func (ob *OrderBook) removeLocked(orderID uint64) {
	ref, ok := ob.orders[orderID]
	if !ok {
		return
	}
	ref.home.remove(ref)
	delete(ob.orders, orderID)
}

// orderRef ties a resting order to its position in the level queue so both
// structures are updated together on removal.
type orderRef struct {
	order *Order
	elem  *list.Element
	level *priceLevel
	home  *bookSide
}

type priceLevel struct {
	price decimal.Decimal
	key   string
	queue *list.List // FIFO of *Order, strict arrival order
	index int        // heap index
}

type bookSide struct {
	levels map[string]*priceLevel
	heap   levelHeap
}

func newBookSide(isBid bool) *bookSide {
	s := &bookSide{
		levels: make(map[string]*priceLevel),
		heap:   levelHeap{max: isBid},
	}
	heap.Init(&s.heap)
	return s
}

func (s *bookSide) add(o *Order) *orderRef {
	key := o.Price.String()
	level := s.levels[key]
	if level == nil {
		level = &priceLevel{price: o.Price, key: key, queue: list.New()}
		heap.Push(&s.heap, level)
		s.levels[key] = level
	}
	elem := level.queue.PushBack(o)
	return &orderRef{order: o, elem: elem, level: level, home: s}
}

func (s *bookSide) remove(ref *orderRef) {
	ref.level.queue.Remove(ref.elem)
	if ref.level.queue.Len() == 0 {
		heap.Remove(&s.heap, ref.level.index)
		delete(s.levels, ref.level.key)
	}
}

func (s *bookSide) best() *priceLevel {
	if s.heap.Len() == 0 {
		return nil
	}
	return s.heap.levels[0]
}

func (s *bookSide) levelsBestFirst() []Level {
	sorted := make([]*priceLevel, len(s.heap.levels))
	copy(sorted, s.heap.levels)
	// Heap order is partial; sort explicitly for the projection.
	cmp := func(a, b *priceLevel) bool { return a.price.LessThan(b.price) }
	if s.heap.max {
		cmp = func(a, b *priceLevel) bool { return a.price.GreaterThan(b.price) }
	}
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && cmp(sorted[j], sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	out := make([]Level, 0, len(sorted))
	for _, level := range sorted {
		total := decimal.Zero
		for e := level.queue.Front(); e != nil; e = e.Next() {
			total = total.Add(e.Value.(*Order).Quantity)
		}
		out = append(out, Level{Price: level.price, Quantity: total, Orders: level.queue.Len()})
	}
	return out
}

type levelHeap struct {
	levels []*priceLevel
	max    bool
}

func (h levelHeap) Len() int { return len(h.levels) }

func (h levelHeap) Less(i, j int) bool {
	if h.max {
		return h.levels[i].price.GreaterThan(h.levels[j].price)
	}
	return h.levels[i].price.LessThan(h.levels[j].price)
}

func (h levelHeap) Swap(i, j int) {
	h.levels[i], h.levels[j] = h.levels[j], h.levels[i]
	h.levels[i].index = i
	h.levels[j].index = j
}

func (h *levelHeap) Push(x any) {
	level := x.(*priceLevel)
	level.index = len(h.levels)
	h.levels = append(h.levels, level)
}

func (h *levelHeap) Pop() any {
	old := h.levels
	n := len(old)
	item := old[n-1]
	item.index = -1
	h.levels = old[:n-1]
	return item
}
