package id

import (
	"fmt"
	"math/big"
	"strings"

	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/shopspring/decimal"
)

// ToBaseUnits scales a human amount to the token's smallest unit.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, clierr.New(clierr.CodeUsage, "amount must be non-negative")
	}
	shifted := amount.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits is the inverse of ToBaseUnits.
func FromBaseUnits(baseUnits *big.Int, decimals uint8) decimal.Decimal {
	if baseUnits == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(baseUnits, -int32(decimals))
}

// FormatDecimal renders base units as a trimmed decimal string.
func FormatDecimal(baseUnits *big.Int, decimals uint8) string {
	return FromBaseUnits(baseUnits, decimals).String()
}

// FormatThousands renders d with comma-grouped integer digits, e.g. 1,234.5.
func FormatThousands(d decimal.Decimal) string {
	s := d.String()
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign = "-"
		s = s[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := sign + b.String()
	if hasFrac {
		out += "." + fracPart
	}
	return out
}

// ParseAmount parses a decimal amount given on the command line or in a request.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, clierr.New(clierr.CodeUsage, "amount is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeUsage, "amount must be in decimal form like 1.23", err)
	}
	return d, nil
}
