package quote

import (
	"fmt"

	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/id"
)

// NoLiquidityError is returned when every candidate fee tier failed.
type NoLiquidityError struct {
	Attempts []Attempt
}

func (e *NoLiquidityError) Error() string {
	return fmt.Sprintf("no liquidity available in any fee tier (tried %s)", feeList(e.Tiers()))
}

func (e *NoLiquidityError) ErrorCode() clierr.Code { return clierr.CodeNoLiquidity }

// Tiers lists the attempted fee tiers in the order they were tried.
func (e *NoLiquidityError) Tiers() []id.FeeTier {
	return tiers(e.Attempts)
}

// Reasons maps each attempted tier to its failure message.
func (e *NoLiquidityError) Reasons() map[string]string {
	out := make(map[string]string, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			out[feeLabel(a.Fee)] = a.Err.Error()
		}
	}
	return out
}
