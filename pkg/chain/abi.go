package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI surface of the trade settlement contract: escrow/nonce views,
// the two settlement entrypoints, owner, and the cross-chain replay guard.
const settlementABIJSON = `[
  {"type":"function","name":"checkEscrowBalance","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
   "outputs":[{"name":"total","type":"uint256"},{"name":"available","type":"uint256"},{"name":"locked","type":"uint256"}]},
  {"type":"function","name":"getUserNonce","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"owner","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"settledCrossChainOrders","stateMutability":"view",
   "inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"settleSameChainTrade","stateMutability":"nonpayable",
   "inputs":[{"name":"trade","type":"tuple","components":[
     {"name":"orderId","type":"bytes32"},
     {"name":"party1","type":"address"},
     {"name":"party2","type":"address"},
     {"name":"party1ReceiveWallet","type":"address"},
     {"name":"party2ReceiveWallet","type":"address"},
     {"name":"baseAsset","type":"address"},
     {"name":"quoteAsset","type":"address"},
     {"name":"price","type":"uint256"},
     {"name":"quantity","type":"uint256"},
     {"name":"party1Side","type":"string"},
     {"name":"party2Side","type":"string"},
     {"name":"sourceChainId","type":"uint256"},
     {"name":"destinationChainId","type":"uint256"},
     {"name":"timestamp","type":"uint256"},
     {"name":"nonce1","type":"uint256"},
     {"name":"nonce2","type":"uint256"}]}],
   "outputs":[]},
  {"type":"function","name":"settleCrossChainTrade","stateMutability":"nonpayable",
   "inputs":[{"name":"trade","type":"tuple","components":[
     {"name":"orderId","type":"bytes32"},
     {"name":"party1","type":"address"},
     {"name":"party2","type":"address"},
     {"name":"party1ReceiveWallet","type":"address"},
     {"name":"party2ReceiveWallet","type":"address"},
     {"name":"baseAsset","type":"address"},
     {"name":"quoteAsset","type":"address"},
     {"name":"price","type":"uint256"},
     {"name":"quantity","type":"uint256"},
     {"name":"party1Side","type":"string"},
     {"name":"party2Side","type":"string"},
     {"name":"sourceChainId","type":"uint256"},
     {"name":"destinationChainId","type":"uint256"},
     {"name":"timestamp","type":"uint256"},
     {"name":"nonce1","type":"uint256"},
     {"name":"nonce2","type":"uint256"}]},
    {"name":"isSourceChain","type":"bool"}],
   "outputs":[]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	settlementABI = mustParseABI(settlementABIJSON)
	erc20ABI      = mustParseABI(erc20ABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
