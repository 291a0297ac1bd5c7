package registry

import (
	"fmt"
	"strings"
)

// Canonical default EVM RPC endpoints by chain ID.
// These values are used whenever rpc_url is not configured.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	56:    "https://bsc-dataseed.binance.org",
	97:    "https://data-seed-prebsc-1-s1.binance.org:8545",
	204:   "https://opbnb-mainnet-rpc.bnbchain.org",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; set rpc_url", chainID)
}
