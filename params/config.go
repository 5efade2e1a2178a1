package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Network describes one supported settlement chain: where to reach it, which
// settlement contract to talk to, and the token registry for that chain.
type Network struct {
	Name            string
	RPC             string
	ChainID         int64
	ContractAddress string
	Tokens          map[string]string // asset symbol -> token address
}

// Token resolves an asset symbol to its token address on this network.
func (n Network) Token(symbol string) (string, bool) {
	addr, ok := n.Tokens[strings.ToUpper(symbol)]
	return addr, ok
}

type Settlement struct {
	// SyncTimeout bounds the end-to-end synchronous settlement of one order.
	// Hitting it is a settlement failure and rolls the match back.
	SyncTimeout time.Duration

	// Retry policy for idempotent chain reads (nonce, escrow, decimals).
	// Submissions are never retried locally.
	RetryAttempts int
	RetryBackoff  time.Duration

	// Fallback token decimals per asset symbol, used when the on-chain
	// decimals() lookup keeps failing.
	DefaultDecimals map[string]int32
}

type Server struct {
	ListenAddr     string
	AllowedOrigins []string
}

type Config struct {
	// PrivateKey is the matching engine's signing key (hex). The settlement
	// contracts are owner-gated, so this must be the contract owner's key.
	PrivateKey string

	Networks   map[string]Network
	Settlement Settlement
	Server     Server

	ActivityPath string // pebble directory for the durable activity log
	LogFile      string // empty disables the file sink
	LogLevel     string
	TapeSize     int // max trades retained per symbol tape
}

func Default() Config {
	return Config{
		Networks: map[string]Network{
			"hedera": {
				Name:            "hedera",
				RPC:             "https://testnet.hashio.io/api",
				ChainID:         296,
				ContractAddress: "0x237458E2cF7593084Ae397a50166A275A3928bA7",
				Tokens: map[string]string{
					"HBAR": "0x66B8244b08be8F4Cec1A23C5c57A1d7b8A27189D",
					"USDT": "0x62bcF51859E23cc47ddc6C3144B045619476Be92",
				},
			},
			"ethereum": {
				Name:            "ethereum",
				RPC:             "https://ethereum-sepolia-rpc.publicnode.com",
				ChainID:         11155111,
				ContractAddress: "0x10F0F2cb456BEd15655afB22ddd7d0EEE11FdBc9",
				Tokens: map[string]string{
					"USDT": "0x7169D38820dfd117C3FA1f22a697dBA58d90BA06",
					"HBAR": "0xb458260166d1456A5ffB46eBbC4270738A515286",
				},
			},
		},
		Settlement: Settlement{
			SyncTimeout:   20 * time.Second,
			RetryAttempts: 3,
			RetryBackoff:  500 * time.Millisecond,
			DefaultDecimals: map[string]int32{
				"USDT": 6,
				"HBAR": 18,
			},
		},
		Server: Server{
			ListenAddr:     ":8000",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		ActivityPath: "data/activity",
		LogFile:      "data/engine.log",
		LogLevel:     "info",
		TapeSize:     1000,
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.PrivateKey = getEnv("PRIVATE_KEY", cfg.PrivateKey)
	cfg.ActivityPath = getEnv("ACTIVITY_LOG_PATH", cfg.ActivityPath)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Server.ListenAddr = getEnv("LISTEN_ADDR", cfg.Server.ListenAddr)

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SETTLEMENT_SYNC_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Settlement.SyncTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("SETTLEMENT_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Settlement.RetryAttempts = n
		}
	}
	if v := os.Getenv("TAPE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TapeSize = n
		}
	}

	for name, net := range cfg.Networks {
		upper := strings.ToUpper(name)
		net.RPC = getEnv("WEB3_PROVIDER_"+upper, net.RPC)
		net.ContractAddress = getEnv("TRADE_SETTLE_CONTRACT_ADDRESS_"+upper, net.ContractAddress)
		if v := os.Getenv("WEB3_CHAIN_ID_" + upper); v != "" {
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				net.ChainID = id
			}
		}
		for sym := range net.Tokens {
			net.Tokens[sym] = getEnv(fmt.Sprintf("%s_%s_TOKEN_ADDRESS", upper, sym), net.Tokens[sym])
		}
		cfg.Networks[name] = net
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
