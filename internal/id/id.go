package id

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/shopspring/decimal"
)

// Token is a static reference to an ERC20 on the configured chain.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

// FeeTier is a pool fee in hundredths of a basis point (3000 = 0.3%).
type FeeTier uint32

// MaxFeeTier is 100% expressed in fee units.
const MaxFeeTier FeeTier = 1_000_000

func ParseFeeTier(v int64) (FeeTier, error) {
	if v <= 0 || v > int64(MaxFeeTier) {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("fee tier must be between 1 and %d, got %d", MaxFeeTier, v))
	}
	return FeeTier(v), nil
}

func (f FeeTier) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(f))
}

// Percentage renders the fee as a percentage string, e.g. 2500 -> "0.25%".
func (f FeeTier) Percentage() string {
	return decimal.New(int64(f), -4).String() + "%"
}

// ParseAddress validates a hex EVM address.
func ParseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, clierr.New(clierr.CodeUsage, field+" is required").With("field", field)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a 0x-prefixed 20-byte hex address", field)).With("field", field)
	}
	return common.HexToAddress(raw), nil
}

// SortPair orders two addresses the way pool factories key their pools.
func SortPair(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}
