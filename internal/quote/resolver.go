// Package quote resolves swap quotes across pool fee tiers.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/metrics"
	"github.com/ggonzalez94/amm-swap/internal/registry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var quoterABI = mustABI(registry.V3QuoterV2ABI)

// DefaultFallback is the fee tier priority used when none is configured.
var DefaultFallback = []id.FeeTier{10000, 500, 100, 2500}

// Reader performs a single read-only contract call.
type Reader interface {
	ReadCall(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error)
}

type Config struct {
	Quoter   common.Address
	TokenIn  id.Token
	TokenOut id.Token
	Fallback []id.FeeTier
}

// Resolver tries fee tiers one at a time and returns the first quote that
// succeeds.
type Resolver struct {
	reader   Reader
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
	fallback []id.FeeTier
}

func NewResolver(reader Reader, cfg Config, log zerolog.Logger) (*Resolver, error) {
	if reader == nil {
		return nil, clierr.New(clierr.CodeInternal, "quote resolver requires a chain reader")
	}
	if cfg.Quoter == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUsage, "quoter address is required")
	}
	if cfg.TokenIn.Address == cfg.TokenOut.Address {
		return nil, clierr.New(clierr.CodeUsage, "token_in and token_out must differ")
	}
	fallback := cfg.Fallback
	if len(fallback) == 0 {
		fallback = DefaultFallback
	}
	return &Resolver{
		reader:   reader,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		fallback: append([]id.FeeTier(nil), fallback...),
	}, nil
}

type Request struct {
	AmountIn     decimal.Decimal
	PreferredFee id.FeeTier
}

// Attempt records why a single fee tier did not produce a quote.
type Attempt struct {
	Fee id.FeeTier
	Err error
}

type Result struct {
	FeeTierUsed      id.FeeTier
	PreferredFee     id.FeeTier
	FallbackUsed     bool
	AmountIn         decimal.Decimal
	AmountInWei      *big.Int
	AmountOut        *big.Int
	AmountOutDecimal decimal.Decimal
	GasEstimate      *big.Int
	// PriceRatio is units of token out per unit of token in.
	PriceRatio decimal.Decimal
	Attempts   []Attempt
}

// Candidates returns the preferred tier followed by the fallback list with
// the preferred tier and duplicates removed.
func (r *Resolver) Candidates(preferred id.FeeTier) []id.FeeTier {
	return Candidates(preferred, r.fallback)
}

func Candidates(preferred id.FeeTier, fallback []id.FeeTier) []id.FeeTier {
	out := make([]id.FeeTier, 0, len(fallback)+1)
	seen := make(map[id.FeeTier]struct{}, len(fallback)+1)
	add := func(fee id.FeeTier) {
		if fee == 0 {
			return
		}
		if _, ok := seen[fee]; ok {
			return
		}
		seen[fee] = struct{}{}
		out = append(out, fee)
	}
	add(preferred)
	for _, fee := range fallback {
		add(fee)
	}
	return out
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	AmountIn          *big.Int       `abi:"amountIn"`
	Fee               *big.Int       `abi:"fee"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	if !req.AmountIn.IsPositive() {
		return Result{}, clierr.New(clierr.CodeUsage, "amount_in must be greater than zero").With("field", "amount_in")
	}
	if req.PreferredFee == 0 {
		return Result{}, clierr.New(clierr.CodeUsage, "fee tier is required").With("field", "fee")
	}
	amountInWei, err := id.ToBaseUnits(req.AmountIn, r.cfg.TokenIn.Decimals)
	if err != nil {
		if typed, ok := clierr.As(err); ok {
			typed.With("field", "amount_in")
		}
		return Result{}, err
	}
	if amountInWei.Sign() <= 0 {
		return Result{}, clierr.New(clierr.CodeUsage, "amount_in rounds to zero base units").With("field", "amount_in")
	}

	start := r.now()
	defer func() { metrics.QuoteLatency.Observe(time.Since(start).Seconds()) }()

	var attempts []Attempt
	for _, fee := range r.Candidates(req.PreferredFee) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, clierr.Wrap(clierr.CodeUnavailable, "quote aborted", ctxErr).With("attempted_tiers", tiers(attempts))
		}
		amountOut, gasEstimate, err := r.quoteTier(ctx, fee, amountInWei)
		if err != nil {
			metrics.QuoteAttempts.WithLabelValues(feeLabel(fee), "failed").Inc()
			r.log.Debug().Uint32("fee", uint32(fee)).Err(err).Msg("fee tier quote failed")
			attempts = append(attempts, Attempt{Fee: fee, Err: err})
			continue
		}
		metrics.QuoteAttempts.WithLabelValues(feeLabel(fee), "ok").Inc()

		outDecimal := id.FromBaseUnits(amountOut, r.cfg.TokenOut.Decimals)
		result := Result{
			FeeTierUsed:      fee,
			PreferredFee:     req.PreferredFee,
			FallbackUsed:     fee != req.PreferredFee,
			AmountIn:         req.AmountIn,
			AmountInWei:      amountInWei,
			AmountOut:        amountOut,
			AmountOutDecimal: outDecimal,
			GasEstimate:      gasEstimate,
			PriceRatio:       outDecimal.DivRound(req.AmountIn, 18),
			Attempts:         attempts,
		}
		if result.FallbackUsed {
			metrics.QuoteFallbacks.Inc()
			r.log.Info().Uint32("requested_fee", uint32(req.PreferredFee)).Uint32("fee", uint32(fee)).Msg("quote served from fallback fee tier")
		}
		return result, nil
	}

	if unreachable(attempts) {
		last := attempts[len(attempts)-1]
		r.log.Warn().Str("tiers", feeList(tiers(attempts))).Err(last.Err).Msg("quoter unreachable for every fee tier")
		return Result{}, clierr.Wrap(clierr.CodeUnavailable, "quoter unreachable for every fee tier", last.Err).With("attempted_tiers", tiers(attempts))
	}

	metrics.NoLiquidity.Inc()
	r.log.Warn().Str("token_in", r.cfg.TokenIn.Address.Hex()).Str("token_out", r.cfg.TokenOut.Address.Hex()).Str("tiers", feeList(tiers(attempts))).Msg("no liquidity in any fee tier")
	return Result{}, &NoLiquidityError{Attempts: attempts}
}

func (r *Resolver) quoteTier(ctx context.Context, fee id.FeeTier, amountIn *big.Int) (*big.Int, *big.Int, error) {
	values, err := r.reader.ReadCall(ctx, r.cfg.Quoter, quoterABI, "quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           r.cfg.TokenIn.Address,
		TokenOut:          r.cfg.TokenOut.Address,
		AmountIn:          amountIn,
		Fee:               fee.BigInt(),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, nil, err
	}
	if len(values) < 4 {
		return nil, nil, fmt.Errorf("quoter returned %d values", len(values))
	}
	amountOut, ok := values[0].(*big.Int)
	if !ok || amountOut == nil || amountOut.Sign() <= 0 {
		return nil, nil, errZeroOutput
	}
	gasEstimate, ok := values[3].(*big.Int)
	if !ok || gasEstimate == nil {
		gasEstimate = big.NewInt(0)
	}
	return amountOut, gasEstimate, nil
}

var errZeroOutput = errors.New("quoter returned zero output")

// unreachable reports whether every attempt failed at the transport layer,
// leaving no revert or zero-output evidence about pool liquidity.
func unreachable(attempts []Attempt) bool {
	if len(attempts) == 0 {
		return false
	}
	for _, a := range attempts {
		if clierr.CodeOf(a.Err) != clierr.CodeUnavailable {
			return false
		}
	}
	return true
}

func tiers(attempts []Attempt) []id.FeeTier {
	out := make([]id.FeeTier, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Fee)
	}
	return out
}

func feeLabel(fee id.FeeTier) string {
	return strconv.FormatUint(uint64(fee), 10)
}

func feeList(fees []id.FeeTier) string {
	parts := make([]string, 0, len(fees))
	for _, fee := range fees {
		parts = append(parts, feeLabel(fee))
	}
	return strings.Join(parts, ",")
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
