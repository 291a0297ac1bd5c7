package planner

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
)

// PlanApproval builds an ERC20 approve(spender, amount) call on token.
func PlanApproval(token, spender common.Address, amount *big.Int) (Call, error) {
	if token == (common.Address{}) {
		return Call{}, clierr.New(clierr.CodeUsage, "approval requires ERC20 token address")
	}
	if spender == (common.Address{}) {
		return Call{}, clierr.New(clierr.CodeUsage, "approval requires spender address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return Call{}, clierr.New(clierr.CodeUsage, "approval amount must be greater than zero").With("field", "amount")
	}
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return Call{}, clierr.Wrap(clierr.CodeInternal, "pack approval calldata", err)
	}
	return Call{
		Kind:   CallApproval,
		Target: token,
		Data:   data,
		Value:  big.NewInt(0),
	}, nil
}

// PlanApproval approves the configured input token for the router.
func (p *Planner) PlanApproval(amount *big.Int) (Call, error) {
	return PlanApproval(p.cfg.TokenIn.Address, p.Spender(), amount)
}
