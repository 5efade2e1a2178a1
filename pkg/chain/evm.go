package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/chainmatch/chainbook/params"
)

// EVMClient implements Adapter against an EVM settlement contract over JSON-RPC.
type EVMClient struct {
	network  params.Network
	client   *ethclient.Client
	chainID  *big.Int
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	signer   common.Address
	log      *zap.Logger
}

// DialEVM connects to the network's RPC endpoint and binds the settlement
// contract. privateKeyHex may be empty for a read-only client; settlement
// submission then fails locally instead of building an unsignable tx.
func DialEVM(ctx context.Context, network params.Network, privateKeyHex string, logger *zap.Logger) (*EVMClient, error) {
	client, err := ethclient.DialContext(ctx, network.RPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", network.Name, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id %s: %w", network.Name, err)
	}
	if network.ChainID != 0 && chainID.Int64() != network.ChainID {
		client.Close()
		return nil, fmt.Errorf("network %s: configured chain id %d but node reports %d",
			network.Name, network.ChainID, chainID.Int64())
	}

	if !common.IsHexAddress(network.ContractAddress) {
		client.Close()
		return nil, fmt.Errorf("network %s: invalid settlement contract address %q",
			network.Name, network.ContractAddress)
	}
	contractAddr := common.HexToAddress(network.ContractAddress)

	e := &EVMClient{
		network:  network,
		client:   client,
		chainID:  chainID,
		contract: bind.NewBoundContract(contractAddr, settlementABI, client, client, client),
		log:      logger.With(zap.String("network", network.Name), zap.Int64("chain_id", chainID.Int64())),
	}

	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("parse engine key: %w", err)
		}
		e.key = key
		e.signer = crypto.PubkeyToAddress(key.PublicKey)
	}

	e.log.Info("settlement client connected", zap.String("contract", contractAddr.Hex()))
	return e, nil
}

func (e *EVMClient) Close() { e.client.Close() }

func (e *EVMClient) ChainID() int64 { return e.chainID.Int64() }

func (e *EVMClient) SignerAddress() common.Address { return e.signer }

func (e *EVMClient) CheckEscrowBalance(ctx context.Context, user, token common.Address) (EscrowBalance, error) {
	var out []interface{}
	err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "checkEscrowBalance", user, token)
	if err != nil {
		return EscrowBalance{}, fmt.Errorf("checkEscrowBalance: %w", err)
	}
	return EscrowBalance{
		Total:     *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Available: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Locked:    *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
	}, nil
}

func (e *EVMClient) TokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	erc20 := bind.NewBoundContract(token, erc20ABI, e.client, e.client, e.client)
	var out []interface{}
	if err := erc20.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	return int32(*abi.ConvertType(out[0], new(uint8)).(*uint8)), nil
}

func (e *EVMClient) UserNonce(ctx context.Context, user, token common.Address) (*big.Int, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getUserNonce", user, token); err != nil {
		return nil, fmt.Errorf("getUserNonce: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (e *EVMClient) ContractOwner(ctx context.Context) (common.Address, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "owner"); err != nil {
		return common.Address{}, fmt.Errorf("owner: %w", err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (e *EVMClient) SettleSameChainTrade(ctx context.Context, trade TradeData) (*SubmitResult, error) {
	return e.submit(ctx, "settleSameChainTrade", trade)
}

func (e *EVMClient) SettleCrossChainTrade(ctx context.Context, trade TradeData, isSourceChain bool) (*SubmitResult, error) {
	return e.submit(ctx, "settleCrossChainTrade", trade, isSourceChain)
}

// submit sends one settlement transaction and waits for it to mine. No local
// retry: a second send of the same trade is only safe through the contract's
// replay guard, never through blind resubmission.
func (e *EVMClient) submit(ctx context.Context, method string, args ...interface{}) (*SubmitResult, error) {
	if e.key == nil {
		return nil, errors.New("no signing key configured")
	}

	opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := e.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	e.log.Info("settlement submitted",
		zap.String("method", method),
		zap.String("tx", tx.Hash().Hex()))

	receipt, err := bind.WaitMined(ctx, e.client, tx)
	if err != nil {
		return nil, fmt.Errorf("%s wait mined %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s reverted: tx %s", method, tx.Hash().Hex())
	}

	return &SubmitResult{
		TxHash:      receipt.TxHash,
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

var _ Adapter = (*EVMClient)(nil)

// EVMProvider dials and caches one EVMClient per network.
type EVMProvider struct {
	mu      sync.Mutex
	clients map[string]*EVMClient
	keyHex  string
	log     *zap.Logger
}

func NewEVMProvider(privateKeyHex string, logger *zap.Logger) *EVMProvider {
	return &EVMProvider{
		clients: make(map[string]*EVMClient),
		keyHex:  privateKeyHex,
		log:     logger,
	}
}

func (p *EVMProvider) Adapter(ctx context.Context, network params.Network) (Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[network.Name]; ok {
		return c, nil
	}
	c, err := DialEVM(ctx, network, p.keyHex, p.log)
	if err != nil {
		return nil, err
	}
	p.clients[network.Name] = c
	return c, nil
}

func (p *EVMProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.Close()
	}
	p.clients = make(map[string]*EVMClient)
}

var _ Provider = (*EVMProvider)(nil)
