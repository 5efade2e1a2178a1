package chain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestUnitsRoundTrip(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int32
		units    string
	}{
		{"1", 18, "1000000000000000000"},
		{"3.5", 6, "3500000"},
		{"0.000001", 6, "1"},
		{"0", 18, "0"},
		// Sub-unit dust truncates.
		{"0.0000001", 6, "0"},
	}

	for _, tc := range cases {
		d := decimal.RequireFromString(tc.amount)
		units := ToUnits(d, tc.decimals)
		if units.String() != tc.units {
			t.Errorf("ToUnits(%s, %d) = %s, want %s", tc.amount, tc.decimals, units, tc.units)
		}
	}
}

func TestFromUnits(t *testing.T) {
	units := ToUnits(decimal.RequireFromString("42.25"), 18)
	back := FromUnits(units, 18)
	if !back.Equal(decimal.RequireFromString("42.25")) {
		t.Errorf("round trip = %s", back)
	}
}

func TestSettlementABIMethods(t *testing.T) {
	for _, name := range []string{
		"checkEscrowBalance",
		"getUserNonce",
		"owner",
		"settledCrossChainOrders",
		"settleSameChainTrade",
		"settleCrossChainTrade",
	} {
		if _, ok := settlementABI.Methods[name]; !ok {
			t.Errorf("settlement ABI missing %s", name)
		}
	}
	if _, ok := erc20ABI.Methods["decimals"]; !ok {
		t.Error("erc20 ABI missing decimals")
	}

	// The trade tuple must pack a TradeData by field name.
	method := settlementABI.Methods["settleSameChainTrade"]
	if len(method.Inputs) != 1 {
		t.Fatalf("settleSameChainTrade inputs = %d", len(method.Inputs))
	}
	if got := len(method.Inputs[0].Type.TupleElems); got != 16 {
		t.Errorf("trade tuple components = %d, want 16", got)
	}
}
