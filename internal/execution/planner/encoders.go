package planner

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/registry"
)

var (
	erc20ABI           = mustPlannerABI(registry.ERC20ABI)
	swapRouterABI      = mustPlannerABI(registry.V3SwapRouterABI)
	universalRouterABI = mustPlannerABI(registry.UniversalRouterABI)

	approveSelector          = erc20ABI.Methods["approve"].ID
	exactInputSingleSelector = swapRouterABI.Methods["exactInputSingle"].ID
	executeSelector          = universalRouterABI.Methods["execute"].ID

	// commandSwapExactIn is the single command byte for an exact-input swap.
	commandSwapExactIn = []byte{0x00}

	commandSwapInput = abi.Arguments{
		{Name: "tokenIn", Type: mustType("address")},
		{Name: "tokenOut", Type: mustType("address")},
		{Name: "amountIn", Type: mustType("uint256")},
		{Name: "amountOutMinimum", Type: mustType("uint256")},
		{Name: "fee", Type: mustType("uint24")},
		{Name: "recipient", Type: mustType("address")},
		{Name: "sqrtPriceLimitX96", Type: mustType("uint160")},
	}
)

type swapParams struct {
	TokenIn      common.Address
	TokenOut     common.Address
	Fee          id.FeeTier
	Recipient    common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Deadline     time.Time
}

type swapEncoder interface {
	Variant() RouterVariant
	Selector() []byte
	Encode(p swapParams) ([]byte, error)
}

func encoderFor(variant RouterVariant) (swapEncoder, error) {
	switch variant {
	case VariantDirect:
		return directEncoder{}, nil
	case VariantCommand:
		return commandEncoder{}, nil
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported router variant %q", variant)).With("field", "router_variant")
	}
}

type exactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

type directEncoder struct{}

func (directEncoder) Variant() RouterVariant { return VariantDirect }

func (directEncoder) Selector() []byte { return exactInputSingleSelector }

func (directEncoder) Encode(p swapParams) ([]byte, error) {
	return swapRouterABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           p.TokenIn,
		TokenOut:          p.TokenOut,
		Fee:               p.Fee.BigInt(),
		Recipient:         p.Recipient,
		AmountIn:          p.AmountIn,
		AmountOutMinimum:  p.AmountOutMin,
		SqrtPriceLimitX96: big.NewInt(0),
	})
}

type commandEncoder struct{}

func (commandEncoder) Variant() RouterVariant { return VariantCommand }

func (commandEncoder) Selector() []byte { return executeSelector }

func (commandEncoder) Encode(p swapParams) ([]byte, error) {
	input, err := commandSwapInput.Pack(
		p.TokenIn,
		p.TokenOut,
		p.AmountIn,
		p.AmountOutMin,
		p.Fee.BigInt(),
		p.Recipient,
		big.NewInt(0),
	)
	if err != nil {
		return nil, fmt.Errorf("pack swap command input: %w", err)
	}
	return universalRouterABI.Pack("execute", commandSwapExactIn, [][]byte{input}, big.NewInt(p.Deadline.Unix()))
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func mustPlannerABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
