package app

import (
	"strings"

	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/execution/planner"
	"github.com/ggonzalez94/amm-swap/internal/execution/signer"
	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/model"
	"github.com/ggonzalez94/amm-swap/internal/schema"
	"github.com/ggonzalez94/amm-swap/internal/swap"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func (s *runtimeState) newTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show input token metadata and total supply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := s.service(cmd.Context())
			if err != nil {
				return err
			}
			info, err := svc.TokenInfo(cmd.Context())
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.NewTokenInfoResponse(info))
		},
	}
}

func (s *runtimeState) newPoolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "List pools for the configured pair across known fee tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := s.service(cmd.Context())
			if err != nil {
				return err
			}
			pools, err := svc.PoolInfo(cmd.Context())
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.NewPoolInfoResponse(pools, svc.Pair(), svc.Config().DEX))
		},
	}
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var amountArg string
	var fee int64
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote an exact-input swap, falling back across fee tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parsePositiveAmount(amountArg, "amount")
			if err != nil {
				return err
			}
			tier, err := optionalFee(cmd, fee)
			if err != nil {
				return err
			}
			svc, err := s.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Quote(cmd.Context(), swap.QuoteInput{AmountIn: amount, Fee: tier})
			if err != nil {
				return err
			}
			cfg := svc.Config()
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.NewQuoteResponse(res, cfg.TokenIn, cfg.TokenOut, cfg.DEX))
		},
	}
	cmd.Flags().StringVar(&amountArg, "amount", "", "Input amount in decimal units")
	cmd.Flags().Int64Var(&fee, "fee", 0, "Preferred fee tier (default from config)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

type signerFlags struct {
	privateKey string
	keySource  string
	account    string
}

func (f *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.privateKey, "private-key", "", "Hex private key (prefer "+signer.EnvPrivateKey+" or a key file)")
	cmd.Flags().StringVar(&f.keySource, "key-source", signer.KeySourceAuto, "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&f.account, "account", "", "Expected sender address (defaults to the key's address)")
	_ = schema.MarkSensitive(cmd.Flags(), "private-key")
}

func (f *signerFlags) load() (signer.Signer, error) {
	local, err := signer.NewLocalSignerFromInputs(f.keySource, f.privateKey)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "load signing key", err).With("field", "private-key")
	}
	return local, nil
}

// accountFor returns --account, or the key's own address when it is unset.
func (f *signerFlags) accountFor(txSigner signer.Signer) string {
	if strings.TrimSpace(f.account) != "" {
		return f.account
	}
	return txSigner.Address().Hex()
}

func (s *runtimeState) newApproveCommand() *cobra.Command {
	var keys signerFlags
	var amountArg string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the router to spend the input token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parsePositiveAmount(amountArg, "amount")
			if err != nil {
				return err
			}
			txSigner, err := keys.load()
			if err != nil {
				return err
			}
			svc, err := s.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Approve(cmd.Context(), swap.ApproveInput{Signer: txSigner, Account: keys.accountFor(txSigner), Amount: amount})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.NewApproveResponse(res, svc.Config().DEX))
		},
	}
	cmd.Flags().StringVar(&amountArg, "amount", "", "Allowance in decimal units")
	keys.register(cmd)
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var keys signerFlags
	var amountInArg, minOutArg, variantArg string
	var fee int64
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap an exact input amount, approving the router first when needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			amountIn, err := parsePositiveAmount(amountInArg, "amount-in")
			if err != nil {
				return err
			}
			minOut, err := id.ParseAmount(minOutArg)
			if err != nil {
				return withField(err, "amount-out-min")
			}
			tier, err := optionalFee(cmd, fee)
			if err != nil {
				return err
			}
			variant, err := planner.ParseRouterVariant(variantArg)
			if err != nil {
				return err
			}
			txSigner, err := keys.load()
			if err != nil {
				return err
			}
			svc, err := s.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.ExecuteSwap(cmd.Context(), swap.SwapInput{
				Signer:           txSigner,
				Account:          keys.accountFor(txSigner),
				AmountIn:         amountIn,
				AmountOutMinimum: minOut,
				Fee:              tier,
				Variant:          variant,
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), model.NewSwapResponse(res, svc.Config().DEX))
		},
	}
	cmd.Flags().StringVar(&amountInArg, "amount-in", "", "Input amount in decimal units")
	cmd.Flags().StringVar(&minOutArg, "amount-out-min", "", "Minimum output amount in decimal units")
	cmd.Flags().Int64Var(&fee, "fee", 0, "Pool fee tier (default from config)")
	cmd.Flags().StringVar(&variantArg, "variant", "", "Expected router variant; rejected when it differs from the configured router")
	keys.register(cmd)
	_ = cmd.MarkFlagRequired("amount-in")
	_ = cmd.MarkFlagRequired("amount-out-min")
	return cmd
}

func parsePositiveAmount(raw, field string) (decimal.Decimal, error) {
	amount, err := id.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, withField(err, field)
	}
	if !amount.IsPositive() {
		return decimal.Zero, clierr.New(clierr.CodeUsage, field+" must be greater than zero").With("field", field)
	}
	return amount, nil
}

// optionalFee returns zero when --fee was not given so the service default applies.
func optionalFee(cmd *cobra.Command, fee int64) (id.FeeTier, error) {
	if !cmd.Flags().Changed("fee") {
		return 0, nil
	}
	tier, err := id.ParseFeeTier(fee)
	if err != nil {
		return 0, withField(err, "fee")
	}
	return tier, nil
}

func withField(err error, field string) error {
	if typed, ok := clierr.As(err); ok {
		typed.With("field", field)
	}
	return err
}
