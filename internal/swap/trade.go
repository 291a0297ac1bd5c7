package swap

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/amm-swap/internal/config"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/execution"
	"github.com/ggonzalez94/amm-swap/internal/execution/planner"
	"github.com/ggonzalez94/amm-swap/internal/execution/signer"
	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/quote"
	"github.com/shopspring/decimal"
)

type QuoteInput struct {
	AmountIn decimal.Decimal
	// Fee is the preferred tier; zero selects the configured default.
	Fee id.FeeTier
}

func (s *Service) Quote(ctx context.Context, in QuoteInput) (quote.Result, error) {
	fee := in.Fee
	if fee == 0 {
		fee = s.cfg.DefaultQuoteFee
	}
	return s.quoter.Resolve(ctx, quote.Request{AmountIn: in.AmountIn, PreferredFee: fee})
}

type ApproveInput struct {
	Signer signer.Signer
	// Account is required and must match the signer address.
	Account string
	Amount  decimal.Decimal
}

type ApproveResult struct {
	TxHash    common.Hash
	Nonce     uint64
	Amount    decimal.Decimal
	AmountWei *big.Int
	Spender   common.Address
}

// Approve grants the router an allowance of Amount input tokens.
func (s *Service) Approve(ctx context.Context, in ApproveInput) (ApproveResult, error) {
	account, err := resolveAccount(in.Signer, in.Account)
	if err != nil {
		return ApproveResult{}, err
	}
	if !in.Amount.IsPositive() {
		return ApproveResult{}, clierr.New(clierr.CodeUsage, "amount must be greater than zero").With("field", "amount")
	}
	amountWei, err := toWei(in.Amount, s.cfg.TokenIn.Decimals, "amount")
	if err != nil {
		return ApproveResult{}, err
	}
	call, err := s.planner.PlanApproval(amountWei)
	if err != nil {
		return ApproveResult{}, err
	}
	out, err := s.pipeline.Submit(ctx, execution.TxRequest{Signer: in.Signer, From: account, Call: call, GasLimit: s.cfg.ApproveGasLimit})
	if err != nil {
		return ApproveResult{}, err
	}
	return ApproveResult{
		TxHash:    out.TxHash,
		Nonce:     out.Nonce,
		Amount:    in.Amount,
		AmountWei: amountWei,
		Spender:   s.planner.Spender(),
	}, nil
}

type SwapInput struct {
	Signer           signer.Signer
	Account          string
	AmountIn         decimal.Decimal
	AmountOutMinimum decimal.Decimal
	// Fee zero selects the configured default swap tier.
	Fee     id.FeeTier
	Variant planner.RouterVariant
}

type SwapResult struct {
	TxHash              common.Hash
	Nonce               uint64
	ApprovalTxHash      *common.Hash
	AmountIn            decimal.Decimal
	AmountInWei         *big.Int
	AmountOutMinimum    decimal.Decimal
	AmountOutMinimumWei *big.Int
	Fee                 id.FeeTier
	Variant             planner.RouterVariant
}

// ExecuteSwap swaps AmountIn of the input token, approving the router
// first when the current allowance is short. The swap is planned before
// anything is signed, and its pipeline starts only after the approval
// reached a terminal outcome under the configured approval policy.
func (s *Service) ExecuteSwap(ctx context.Context, in SwapInput) (SwapResult, error) {
	account, err := resolveAccount(in.Signer, in.Account)
	if err != nil {
		return SwapResult{}, err
	}
	if !in.AmountIn.IsPositive() {
		return SwapResult{}, clierr.New(clierr.CodeUsage, "amount_in must be greater than zero").With("field", "amount_in")
	}
	if in.AmountOutMinimum.IsNegative() {
		return SwapResult{}, clierr.New(clierr.CodeUsage, "amount_out_minimum must not be negative").With("field", "amount_out_minimum")
	}
	amountInWei, err := toWei(in.AmountIn, s.cfg.TokenIn.Decimals, "amount_in")
	if err != nil {
		return SwapResult{}, err
	}
	minOutWei, err := toWei(in.AmountOutMinimum, s.cfg.TokenOut.Decimals, "amount_out_minimum")
	if err != nil {
		return SwapResult{}, err
	}
	fee := in.Fee
	if fee == 0 {
		fee = s.cfg.DefaultSwapFee
	}
	intent := planner.SwapIntent{
		Signer:           account,
		AmountIn:         amountInWei,
		AmountOutMinimum: minOutWei,
		Fee:              fee,
		Variant:          in.Variant,
	}
	swapCall, err := s.planner.PlanSwap(intent)
	if err != nil {
		return SwapResult{}, err
	}

	result := SwapResult{
		AmountIn:            in.AmountIn,
		AmountInWei:         amountInWei,
		AmountOutMinimum:    in.AmountOutMinimum,
		AmountOutMinimumWei: minOutWei,
		Fee:                 fee,
		Variant:             swapCall.Variant,
	}

	approvalHash, err := s.ensureAllowance(ctx, in.Signer, account, amountInWei)
	if err != nil {
		return SwapResult{}, err
	}
	if approvalHash != nil {
		result.ApprovalTxHash = approvalHash
		// Refresh the deadline after the approval round-trip.
		if swapCall, err = s.planner.PlanSwap(intent); err != nil {
			return SwapResult{}, err
		}
	}

	out, err := s.pipeline.Submit(ctx, execution.TxRequest{Signer: in.Signer, From: account, Call: swapCall, GasLimit: s.cfg.SwapGasLimit})
	if err != nil {
		return SwapResult{}, err
	}
	result.TxHash = out.TxHash
	result.Nonce = out.Nonce
	return result, nil
}

// ensureAllowance submits an approval when the router allowance is below
// amount and returns its hash once the approval is terminal.
func (s *Service) ensureAllowance(ctx context.Context, txSigner signer.Signer, account common.Address, amount *big.Int) (*common.Hash, error) {
	values, err := s.reader.ReadCall(ctx, s.cfg.TokenIn.Address, erc20ABI, "allowance", account, s.planner.Spender())
	if err != nil {
		return nil, err
	}
	allowance := bigOrZero(values[0])
	if allowance.Cmp(amount) >= 0 {
		return nil, nil
	}
	s.log.Info().Str("account", account.Hex()).Str("allowance", allowance.String()).Str("required", amount.String()).Msg("allowance too low, approving router")

	call, err := s.planner.PlanApproval(amount)
	if err != nil {
		return nil, err
	}
	out, err := s.pipeline.Submit(ctx, execution.TxRequest{Signer: txSigner, From: account, Call: call, GasLimit: s.cfg.ApproveGasLimit})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeOf(err), "approval failed, swap not submitted", err)
	}
	if s.cfg.ApprovalPolicy == config.ApprovalPolicyReceipt {
		if _, err := s.pipeline.WaitReceipt(ctx, out.TxHash, s.cfg.PollInterval, s.cfg.ConfirmTimeout); err != nil {
			return nil, clierr.Wrap(clierr.CodeOf(err), "approval not confirmed, swap not submitted", err).With("approval_tx_hash", out.TxHash.Hex())
		}
	}
	return &out.TxHash, nil
}

// KeySigner builds a signer from a request-supplied private key.
func KeySigner(raw string) (signer.Signer, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, clierr.New(clierr.CodeUsage, "private_key is required").With("field", "private_key")
	}
	s, err := signer.NewLocalSignerFromHex(raw)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "private_key is invalid", err).With("field", "private_key")
	}
	return s, nil
}

func resolveAccount(txSigner signer.Signer, raw string) (common.Address, error) {
	if txSigner == nil {
		return common.Address{}, clierr.New(clierr.CodeUsage, "a signing key is required").With("field", "private_key")
	}
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, clierr.New(clierr.CodeUsage, "account_address is required").With("field", "account_address")
	}
	account, err := id.ParseAddress("account_address", raw)
	if err != nil {
		return common.Address{}, err
	}
	if account != txSigner.Address() {
		return common.Address{}, clierr.New(clierr.CodeUsage, "account_address does not match the signing key").With("field", "account_address")
	}
	return account, nil
}

func toWei(amount decimal.Decimal, decimals uint8, field string) (*big.Int, error) {
	wei, err := id.ToBaseUnits(amount, decimals)
	if err != nil {
		if typed, ok := clierr.As(err); ok {
			typed.With("field", field)
		}
		return nil, err
	}
	return wei, nil
}
