package settle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SettlementID derives the deterministic on-chain order id for one trade of
// a base order. The contract's replay guard keys on this, so the same trade
// always hashes to the same id: retrying a settlement can never double-move
// funds, it just hits the guard.
func SettlementID(baseOrderID uint64, timestamp int64, tradeIndex int) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%d:%d:%d", baseOrderID, timestamp, tradeIndex)))
}
