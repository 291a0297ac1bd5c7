package model

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/amm-swap/internal/execution/planner"
	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/quote"
	"github.com/ggonzalez94/amm-swap/internal/swap"
	"github.com/shopspring/decimal"
)

var (
	asp  = id.Token{Address: common.HexToAddress("0xad8c787992428cD158E451aAb109f724B6bc36de"), Symbol: "ASP", Decimals: 18}
	wbnb = id.Token{Address: common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"), Symbol: "WBNB", Decimals: 18}
)

func TestNewQuoteResponseDirectHit(t *testing.T) {
	res := quote.Result{
		FeeTierUsed:      2500,
		PreferredFee:     2500,
		AmountIn:         decimal.RequireFromString("2"),
		AmountInWei:      big.NewInt(2e18),
		AmountOut:        big.NewInt(123456789),
		AmountOutDecimal: decimal.RequireFromString("0.000000000123456789"),
		GasEstimate:      big.NewInt(80000),
		PriceRatio:       decimal.RequireFromString("0.0000000000617283945"),
		Attempts:         []quote.Attempt{{Fee: 2500}},
	}
	resp := NewQuoteResponse(res, asp, wbnb, "PancakeSwap V3")
	if resp.Note != nil || resp.AttemptedTiers != nil {
		t.Fatalf("direct hit must not carry a fallback note: %+v", resp)
	}
	if resp.FeePercentage != "0.25%" || resp.Fee != 2500 || resp.RequestedFee != 2500 {
		t.Fatalf("unexpected fee fields: %+v", resp)
	}
	if resp.AmountOutFormatted != "0.000000 WBNB" {
		t.Fatalf("unexpected formatted amount %q", resp.AmountOutFormatted)
	}
	if resp.PriceImpact != "1 ASP = 0.00000000 WBNB" {
		t.Fatalf("unexpected price line %q", resp.PriceImpact)
	}
}

func TestNewPoolInfoResponse(t *testing.T) {
	pools := []swap.Pool{
		{Address: common.HexToAddress("0x01"), Fee: 500},
		{Address: common.HexToAddress("0x02"), Fee: 10000},
	}
	resp := NewPoolInfoResponse(pools, "ASP-WBNB", "PancakeSwap V3")
	if resp.PoolsFound != 2 || resp.Pools[0].FeePercentage != "0.05%" || resp.Pools[1].FeePercentage != "1%" {
		t.Fatalf("unexpected pools: %+v", resp)
	}
	empty := NewPoolInfoResponse(nil, "ASP-WBNB", "PancakeSwap V3")
	if empty.Pools == nil || empty.PoolsFound != 0 {
		t.Fatalf("empty pool list must render as []: %+v", empty)
	}
}

func TestNewSwapResponseWithoutApproval(t *testing.T) {
	resp := NewSwapResponse(swap.SwapResult{
		TxHash:              common.HexToHash("0x02"),
		AmountIn:            decimal.RequireFromString("0.5"),
		AmountInWei:         big.NewInt(5e17),
		AmountOutMinimum:    decimal.Zero,
		AmountOutMinimumWei: big.NewInt(0),
		Fee:                 100,
		Variant:             planner.VariantDirect,
	}, "PancakeSwap V3")
	if resp.ApprovalTransactionHash != nil {
		t.Fatalf("expected null approval hash, got %v", *resp.ApprovalTransactionHash)
	}
	if !resp.Success || resp.FeePercentage != "0.01%" || resp.RouterVariant != "direct" {
		t.Fatalf("unexpected swap response: %+v", resp)
	}
}

func TestNoLiquidityDetails(t *testing.T) {
	err := &quote.NoLiquidityError{Attempts: []quote.Attempt{
		{Fee: 10000, Err: errors.New("execution reverted")},
		{Fee: 500, Err: errors.New("execution reverted")},
	}}
	details, tiers := NoLiquidityDetails(err, "ASP-WBNB")
	if len(tiers) != 2 || tiers[0] != 10000 || tiers[1] != 500 {
		t.Fatalf("unexpected tiers %v", tiers)
	}
	if details["pair"] != "ASP-WBNB" {
		t.Fatalf("unexpected details %#v", details)
	}
	reasons := details["reasons"].(map[string]string)
	if len(reasons) != 2 {
		t.Fatalf("unexpected reasons %#v", reasons)
	}
}
