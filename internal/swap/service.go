// Package swap coordinates token lookups, quoting and the approve-then-swap
// flow for the configured token pair.
package swap

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/amm-swap/internal/cache"
	"github.com/ggonzalez94/amm-swap/internal/chain"
	"github.com/ggonzalez94/amm-swap/internal/config"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/execution"
	"github.com/ggonzalez94/amm-swap/internal/execution/planner"
	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/quote"
	"github.com/ggonzalez94/amm-swap/internal/registry"
	"github.com/rs/zerolog"
)

var (
	erc20ABI   = mustABI(registry.ERC20ABI)
	factoryABI = mustABI(registry.V3PoolFactoryABI)
)

// Reader is the read side of the chain gateway.
type Reader interface {
	ReadCall(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error)
	ReadBatch(ctx context.Context, reqs []chain.ReadRequest) ([]chain.ReadResult, error)
}

type Quoter interface {
	Resolve(ctx context.Context, req quote.Request) (quote.Result, error)
}

// Submitter is the transaction pipeline.
type Submitter interface {
	Submit(ctx context.Context, req execution.TxRequest) (execution.Outcome, error)
	WaitReceipt(ctx context.Context, hash common.Hash, poll, timeout time.Duration) (*types.Receipt, error)
}

type Config struct {
	ChainID         int64
	DEX             string
	Factory         common.Address
	TokenIn         id.Token
	TokenOut        id.Token
	KnownFeeTiers   []id.FeeTier
	DefaultQuoteFee id.FeeTier
	DefaultSwapFee  id.FeeTier
	ApproveGasLimit uint64
	SwapGasLimit    uint64
	ApprovalPolicy  string
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
}

type Deps struct {
	Reader   Reader
	Quoter   Quoter
	Planner  *planner.Planner
	Pipeline Submitter
	// Cache is optional.
	Cache *cache.Store
}

type Service struct {
	cfg      Config
	reader   Reader
	quoter   Quoter
	planner  *planner.Planner
	pipeline Submitter
	cache    *cache.Store
	log      zerolog.Logger
}

func New(cfg Config, deps Deps, log zerolog.Logger) (*Service, error) {
	if deps.Reader == nil || deps.Quoter == nil || deps.Planner == nil || deps.Pipeline == nil {
		return nil, clierr.New(clierr.CodeInternal, "swap service is missing a dependency")
	}
	if cfg.Factory == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUsage, "factory address is required")
	}
	if cfg.ApprovalPolicy == "" {
		cfg.ApprovalPolicy = config.ApprovalPolicySubmitted
	}
	if cfg.ApprovalPolicy != config.ApprovalPolicySubmitted && cfg.ApprovalPolicy != config.ApprovalPolicyReceipt {
		return nil, clierr.New(clierr.CodeUsage, "unsupported approval policy "+cfg.ApprovalPolicy)
	}
	if cfg.ApproveGasLimit == 0 {
		cfg.ApproveGasLimit = 200_000
	}
	if cfg.SwapGasLimit == 0 {
		cfg.SwapGasLimit = 1_000_000
	}
	return &Service{
		cfg:      cfg,
		reader:   deps.Reader,
		quoter:   deps.Quoter,
		planner:  deps.Planner,
		pipeline: deps.Pipeline,
		cache:    deps.Cache,
		log:      log,
	}, nil
}

func NewConfig(settings config.Settings) Config {
	return Config{
		ChainID:         settings.ChainID,
		DEX:             settings.DEX,
		Factory:         common.HexToAddress(settings.Factory),
		TokenIn:         TokenFromSettings(settings.TokenIn),
		TokenOut:        TokenFromSettings(settings.TokenOut),
		KnownFeeTiers:   FeeTiers(settings.KnownFeeTiers),
		DefaultQuoteFee: id.FeeTier(settings.DefaultQuoteFee),
		DefaultSwapFee:  id.FeeTier(settings.DefaultSwapFee),
		ApproveGasLimit: settings.ApproveGasLimit,
		SwapGasLimit:    settings.SwapGasLimit,
		ApprovalPolicy:  settings.ApprovalPolicy,
		ConfirmTimeout:  settings.ConfirmTimeout,
		PollInterval:    settings.PollInterval,
	}
}

func TokenFromSettings(t config.TokenSettings) id.Token {
	return id.Token{Address: common.HexToAddress(t.Address), Symbol: t.Symbol, Decimals: t.Decimals}
}

func FeeTiers(raw []uint32) []id.FeeTier {
	out := make([]id.FeeTier, 0, len(raw))
	for _, fee := range raw {
		out = append(out, id.FeeTier(fee))
	}
	return out
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) Router() planner.Router { return s.planner.Router() }

// Pair renders the configured pair as SYMIN-SYMOUT.
func (s *Service) Pair() string {
	return s.cfg.TokenIn.String() + "-" + s.cfg.TokenOut.String()
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func bigOrZero(v any) *big.Int {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b
	}
	return big.NewInt(0)
}
