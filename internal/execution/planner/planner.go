// Package planner builds approval and swap calldata for the configured pool
// router and checks planned calls before they are signed.
package planner

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/registry"
)

// RouterVariant is the calling convention of a swap router.
type RouterVariant string

const (
	// VariantDirect routers expose exactInputSingle.
	VariantDirect RouterVariant = registry.RouterKindDirect
	// VariantCommand routers expose execute(commands, inputs, deadline).
	VariantCommand RouterVariant = registry.RouterKindCommand
)

const DefaultDeadline = 5 * time.Minute

func ParseRouterVariant(raw string) (RouterVariant, error) {
	switch RouterVariant(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case VariantDirect:
		return VariantDirect, nil
	case VariantCommand:
		return VariantCommand, nil
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported router variant %q (expected direct or command)", raw)).With("field", "router_variant")
	}
}

type Router struct {
	Address common.Address
	Variant RouterVariant
}

type CallKind string

const (
	CallApproval CallKind = "approval"
	CallSwap     CallKind = "swap"
)

// Call is an unsigned contract call produced by the planner.
type Call struct {
	Kind     CallKind
	Target   common.Address
	Data     []byte
	Value    *big.Int
	Variant  RouterVariant
	Deadline time.Time
}

// SwapIntent is a request to swap an exact input amount of the configured
// input token. Amounts are in base units.
type SwapIntent struct {
	Signer           common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	Fee              id.FeeTier
	// Variant is optional; when set it must match the configured router.
	Variant RouterVariant
}

type Config struct {
	ChainID  int64
	TokenIn  id.Token
	TokenOut id.Token
	Router   Router
	Deadline time.Duration
}

type Planner struct {
	cfg     Config
	encoder swapEncoder
	now     func() time.Time
}

func New(cfg Config) (*Planner, error) {
	if cfg.Router.Address == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUsage, "router address is required")
	}
	if cfg.TokenIn.Address == (common.Address{}) || cfg.TokenOut.Address == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUsage, "token_in and token_out addresses are required")
	}
	encoder, err := encoderFor(cfg.Router.Variant)
	if err != nil {
		return nil, err
	}
	if kind, ok := registry.RouterKind(cfg.ChainID, cfg.Router.Address.Hex()); ok && RouterVariant(kind) != cfg.Router.Variant {
		return nil, mismatch(cfg.Router, RouterVariant(kind), "configured router is a known "+kind+" router")
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	return &Planner{cfg: cfg, encoder: encoder, now: time.Now}, nil
}

// Spender is the address approvals are granted to.
func (p *Planner) Spender() common.Address { return p.cfg.Router.Address }

func (p *Planner) Router() Router { return p.cfg.Router }

func (p *Planner) TokenIn() id.Token { return p.cfg.TokenIn }

func (p *Planner) TokenOut() id.Token { return p.cfg.TokenOut }

// PlanSwap encodes intent for the configured router.
func (p *Planner) PlanSwap(intent SwapIntent) (Call, error) {
	if intent.Variant != "" && intent.Variant != p.cfg.Router.Variant {
		return Call{}, mismatch(p.cfg.Router, intent.Variant, "requested router variant does not match configured router")
	}
	if intent.Signer == (common.Address{}) {
		return Call{}, clierr.New(clierr.CodeUsage, "swap requires a recipient address").With("field", "account_address")
	}
	if intent.AmountIn == nil || intent.AmountIn.Sign() <= 0 {
		return Call{}, clierr.New(clierr.CodeUsage, "amount_in must be greater than zero").With("field", "amount_in")
	}
	minOut := intent.AmountOutMinimum
	if minOut == nil {
		minOut = big.NewInt(0)
	}
	if minOut.Sign() < 0 {
		return Call{}, clierr.New(clierr.CodeUsage, "amount_out_minimum must not be negative").With("field", "amount_out_minimum")
	}
	if intent.Fee == 0 || intent.Fee > id.MaxFeeTier {
		return Call{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid fee tier %d", intent.Fee)).With("field", "fee")
	}

	deadline := p.now().Add(p.cfg.Deadline).UTC().Truncate(time.Second)
	data, err := p.encoder.Encode(swapParams{
		TokenIn:      p.cfg.TokenIn.Address,
		TokenOut:     p.cfg.TokenOut.Address,
		Fee:          intent.Fee,
		Recipient:    intent.Signer,
		AmountIn:     intent.AmountIn,
		AmountOutMin: minOut,
		Deadline:     deadline,
	})
	if err != nil {
		return Call{}, clierr.Wrap(clierr.CodeInternal, "pack swap calldata", err)
	}
	call := Call{
		Kind:    CallSwap,
		Target:  p.cfg.Router.Address,
		Data:    data,
		Value:   big.NewInt(0),
		Variant: p.cfg.Router.Variant,
	}
	if p.cfg.Router.Variant == VariantCommand {
		call.Deadline = deadline
	}
	return call, nil
}

func mismatch(router Router, requested RouterVariant, message string) *clierr.Error {
	return clierr.New(clierr.CodeRouterMismatch, message).
		With("router", router.Address.Hex()).
		With("configured_variant", string(router.Variant)).
		With("requested_variant", string(requested))
}
