package model

import (
	"fmt"

	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/quote"
	"github.com/ggonzalez94/amm-swap/internal/swap"
)

const (
	NoLiquidityMessage    = "No liquidity available in any fee tier for this token pair"
	NoLiquiditySuggestion = "Try a smaller amount or check if the token has liquidity on other DEXes"
)

func NewTokenInfoResponse(info swap.TokenInfo) TokenInfoResponse {
	return TokenInfoResponse{
		Address:              info.Address.Hex(),
		Name:                 info.Name,
		Symbol:               info.Symbol,
		Decimals:             info.Decimals,
		TotalSupply:          info.TotalSupply,
		TotalSupplyFormatted: info.TotalSupplyFormatted,
	}
}

func NewPoolInfoResponse(pools []swap.Pool, pair, dex string) PoolInfoResponse {
	out := PoolInfoResponse{Pools: make([]PoolResponse, 0, len(pools)), DEX: dex}
	for _, p := range pools {
		out.Pools = append(out.Pools, PoolResponse{
			Address:       p.Address.Hex(),
			Fee:           uint32(p.Fee),
			FeePercentage: p.Fee.Percentage(),
			Pair:          pair,
			DEX:           dex,
		})
	}
	out.PoolsFound = len(out.Pools)
	return out
}

func NewQuoteResponse(res quote.Result, tokenIn, tokenOut id.Token, dex string) QuoteResponse {
	resp := QuoteResponse{
		AmountIn:           res.AmountIn.String(),
		AmountInWei:        res.AmountInWei,
		AmountOut:          res.AmountOut,
		AmountOutFormatted: res.AmountOutDecimal.StringFixed(6) + " " + tokenOut.String(),
		Fee:                uint32(res.FeeTierUsed),
		RequestedFee:       uint32(res.PreferredFee),
		FeePercentage:      res.FeeTierUsed.Percentage(),
		GasEstimate:        res.GasEstimate,
		PriceImpact:        fmt.Sprintf("1 %s = %s %s", tokenIn, res.PriceRatio.StringFixed(8), tokenOut),
		DEX:                dex,
	}
	if res.FallbackUsed {
		note := fmt.Sprintf("Using %s fee tier (has liquidity)", res.FeeTierUsed.Percentage())
		resp.Note = &note
		for _, a := range res.Attempts {
			resp.AttemptedTiers = append(resp.AttemptedTiers, uint32(a.Fee))
		}
	}
	return resp
}

func NewApproveResponse(res swap.ApproveResult, dex string) ApproveResponse {
	return ApproveResponse{
		Success:           true,
		TransactionHash:   res.TxHash.Hex(),
		Nonce:             res.Nonce,
		AmountApproved:    res.Amount.String(),
		AmountApprovedWei: res.AmountWei,
		Spender:           res.Spender.Hex(),
		DEX:               dex,
	}
}

func NewSwapResponse(res swap.SwapResult, dex string) SwapResponse {
	resp := SwapResponse{
		Success:             true,
		TransactionHash:     res.TxHash.Hex(),
		Nonce:               res.Nonce,
		AmountIn:            res.AmountIn.String(),
		AmountInWei:         res.AmountInWei,
		AmountOutMinimum:    res.AmountOutMinimum.String(),
		AmountOutMinimumWei: res.AmountOutMinimumWei,
		Fee:                 uint32(res.Fee),
		FeePercentage:       res.Fee.Percentage(),
		RouterVariant:       string(res.Variant),
		DEX:                 dex,
	}
	if res.ApprovalTxHash != nil {
		hash := res.ApprovalTxHash.Hex()
		resp.ApprovalTransactionHash = &hash
	}
	return resp
}

// NoLiquidityDetails renders the per-tier failure trail.
func NoLiquidityDetails(err *quote.NoLiquidityError, pair string) (map[string]any, []uint32) {
	tiers := make([]uint32, 0, len(err.Attempts))
	for _, fee := range err.Tiers() {
		tiers = append(tiers, uint32(fee))
	}
	return map[string]any{
		"pair":    pair,
		"reason":  pair + " pools may not have sufficient liquidity for this trade size",
		"reasons": err.Reasons(),
	}, tiers
}
