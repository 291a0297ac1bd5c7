package model

import (
	"math/big"
	"time"
)

const EnvelopeVersion = "v1"

// Envelope wraps every CLI result.
type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int            `json:"code"`
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	ChainID   int64     `json:"chain_id,omitempty"`
	DEX       string    `json:"dex,omitempty"`
}

type TokenInfoResponse struct {
	Address              string   `json:"address"`
	Name                 string   `json:"name"`
	Symbol               string   `json:"symbol"`
	Decimals             uint8    `json:"decimals"`
	TotalSupply          *big.Int `json:"total_supply"`
	TotalSupplyFormatted string   `json:"total_supply_formatted"`
}

type PoolResponse struct {
	Address       string `json:"address"`
	Fee           uint32 `json:"fee"`
	FeePercentage string `json:"fee_percentage"`
	Pair          string `json:"pair"`
	DEX           string `json:"dex"`
}

type PoolInfoResponse struct {
	PoolsFound int            `json:"pools_found"`
	Pools      []PoolResponse `json:"pools"`
	DEX        string         `json:"dex"`
}

type QuoteResponse struct {
	AmountIn           string   `json:"amount_in"`
	AmountInWei        *big.Int `json:"amount_in_wei"`
	AmountOut          *big.Int `json:"amount_out"`
	AmountOutFormatted string   `json:"amount_out_formatted"`
	Fee                uint32   `json:"fee"`
	RequestedFee       uint32   `json:"requested_fee"`
	FeePercentage      string   `json:"fee_percentage"`
	GasEstimate        *big.Int `json:"gas_estimate"`
	PriceImpact        string   `json:"price_impact"`
	DEX                string   `json:"dex"`
	Note               *string  `json:"note"`
	AttemptedTiers     []uint32 `json:"attempted_tiers,omitempty"`
}

type ApproveResponse struct {
	Success           bool     `json:"success"`
	TransactionHash   string   `json:"transaction_hash"`
	Nonce             uint64   `json:"nonce"`
	AmountApproved    string   `json:"amount_approved"`
	AmountApprovedWei *big.Int `json:"amount_approved_wei"`
	Spender           string   `json:"spender"`
	DEX               string   `json:"dex"`
}

type SwapResponse struct {
	Success                 bool     `json:"success"`
	TransactionHash         string   `json:"transaction_hash"`
	Nonce                   uint64   `json:"nonce"`
	ApprovalTransactionHash *string  `json:"approval_transaction_hash"`
	AmountIn                string   `json:"amount_in"`
	AmountInWei             *big.Int `json:"amount_in_wei"`
	AmountOutMinimum        string   `json:"amount_out_minimum"`
	AmountOutMinimumWei     *big.Int `json:"amount_out_minimum_wei"`
	Fee                     uint32   `json:"fee"`
	FeePercentage           string   `json:"fee_percentage"`
	RouterVariant           string   `json:"router_variant"`
	DEX                     string   `json:"dex"`
}

// ErrorResponse is the HTTP error body.
type ErrorResponse struct {
	Error          string         `json:"error"`
	Type           string         `json:"type"`
	Details        map[string]any `json:"details,omitempty"`
	Suggestion     string         `json:"suggestion,omitempty"`
	AttemptedTiers []uint32       `json:"attempted_tiers,omitempty"`
}

type VersionInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}
