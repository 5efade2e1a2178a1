package book

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

// Conservation invariant: across any order sequence, total traded quantity
// equals total quantity removed from resting orders, and nothing rests with
// a non-positive quantity.
func TestProperty_QuantityConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := NewOrderBook("HBAR_USDT", 10000)

		n := rapid.IntRange(1, 60).Draw(t, "numOrders")
		submitted := decimal.Zero
		traded := decimal.Zero

		for i := 0; i < n; i++ {
			side := Ask
			if rapid.Bool().Draw(t, fmt.Sprintf("isBid-%d", i)) {
				side = Bid
			}
			// A narrow price band encourages crossing and level collisions.
			price := decimal.NewFromInt(rapid.Int64Range(8, 12).Draw(t, fmt.Sprintf("price-%d", i)))
			qty := decimal.NewFromInt(rapid.Int64Range(1, 9).Draw(t, fmt.Sprintf("qty-%d", i)))

			o := &Order{
				Account:     "0x2222222222222222222222222222222222222222",
				Side:        side,
				Type:        Limit,
				Price:       price,
				Quantity:    qty,
				BaseAsset:   "HBAR",
				QuoteAsset:  "USDT",
				FromNetwork: "hedera",
				ToNetwork:   "hedera",
			}
			res, err := ob.Process(o)
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			submitted = submitted.Add(qty)
			for _, tr := range res.Trades {
				if tr.Quantity.LessThanOrEqual(decimal.Zero) {
					t.Fatalf("non-positive trade quantity %s", tr.Quantity)
				}
				traded = traded.Add(tr.Quantity)
			}
			if res.Resting != nil && res.Resting.Quantity.LessThanOrEqual(decimal.Zero) {
				t.Fatalf("resting order with quantity %s", res.Resting.Quantity)
			}
		}

		resting := decimal.Zero
		snap := ob.Depth()
		for _, lv := range append(snap.Bids, snap.Asks...) {
			if lv.Quantity.LessThanOrEqual(decimal.Zero) {
				t.Fatalf("level %s with non-positive quantity %s", lv.Price, lv.Quantity)
			}
			resting = resting.Add(lv.Quantity)
		}

		// Every submitted unit is either resting or was traded away exactly
		// once on each side (each trade consumes one unit from both sides).
		if !submitted.Equal(resting.Add(traded.Mul(decimal.NewFromInt(2)))) {
			t.Fatalf("conservation violated: submitted=%s resting=%s traded=%s",
				submitted, resting, traded)
		}
	})
}

// The best bid never crosses the best ask once processing has finished.
func TestProperty_NoRestingCross(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := NewOrderBook("HBAR_USDT", 10000)
		n := rapid.IntRange(1, 40).Draw(t, "numOrders")

		for i := 0; i < n; i++ {
			side := Ask
			if rapid.Bool().Draw(t, fmt.Sprintf("isBid-%d", i)) {
				side = Bid
			}
			o := &Order{
				Account:     "0x3333333333333333333333333333333333333333",
				Side:        side,
				Type:        Limit,
				Price:       decimal.NewFromInt(rapid.Int64Range(1, 20).Draw(t, fmt.Sprintf("price-%d", i))),
				Quantity:    decimal.NewFromInt(rapid.Int64Range(1, 5).Draw(t, fmt.Sprintf("qty-%d", i))),
				BaseAsset:   "HBAR",
				QuoteAsset:  "USDT",
				FromNetwork: "hedera",
				ToNetwork:   "hedera",
			}
			if _, err := ob.Process(o); err != nil {
				t.Fatalf("process: %v", err)
			}

			snap := ob.Depth()
			if len(snap.Bids) > 0 && len(snap.Asks) > 0 {
				if snap.Bids[0].Price.GreaterThanOrEqual(snap.Asks[0].Price) {
					t.Fatalf("book crossed: bid %s >= ask %s", snap.Bids[0].Price, snap.Asks[0].Price)
				}
			}
		}
	})
}
