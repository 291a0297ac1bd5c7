package planner

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
)

// Verify checks a planned call against the configured router and tokens.
// It is the last gate before a call is signed.
func (p *Planner) Verify(call Call) error {
	if len(call.Data) < 4 {
		return clierr.New(clierr.CodeInternal, "call data is missing a method selector")
	}
	if call.Value != nil && call.Value.Sign() != 0 {
		return clierr.New(clierr.CodeInternal, "planned calls must not transfer native value")
	}
	switch call.Kind {
	case CallApproval:
		return p.verifyApproval(call)
	case CallSwap:
		return p.verifySwap(call)
	default:
		return clierr.New(clierr.CodeInternal, "unknown call kind "+string(call.Kind))
	}
}

func (p *Planner) verifyApproval(call Call) error {
	if !bytes.Equal(call.Data[:4], approveSelector) {
		return clierr.New(clierr.CodeInternal, "approval must use ERC20 approve(spender,amount)")
	}
	if call.Target != p.cfg.TokenIn.Address {
		return clierr.New(clierr.CodeInternal, "approval target is not the configured input token").With("target", call.Target.Hex())
	}
	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(call.Data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeInternal, "approval calldata is invalid")
	}
	spender, ok := toAddress(args[0])
	if !ok || spender != p.Spender() {
		return clierr.New(clierr.CodeInternal, "approval spender is not the configured router")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeInternal, "approval has invalid amount")
	}
	return nil
}

func (p *Planner) verifySwap(call Call) error {
	if call.Target != p.cfg.Router.Address {
		return clierr.New(clierr.CodeInternal, "swap target does not match configured router").With("target", call.Target.Hex())
	}
	selector := call.Data[:4]
	if bytes.Equal(selector, p.encoder.Selector()) {
		return nil
	}
	other := VariantCommand
	if p.cfg.Router.Variant == VariantCommand {
		other = VariantDirect
	}
	otherEncoder, _ := encoderFor(other)
	if bytes.Equal(selector, otherEncoder.Selector()) {
		return mismatch(p.cfg.Router, other, "swap calldata uses the "+string(other)+" router encoding")
	}
	return clierr.New(clierr.CodeInternal, "swap calldata has unknown method selector")
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	default:
		return nil, false
	}
}
