package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/amm-swap/internal/cache"
	"github.com/ggonzalez94/amm-swap/internal/chain"
	"github.com/ggonzalez94/amm-swap/internal/config"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/execution"
	"github.com/ggonzalez94/amm-swap/internal/execution/planner"
	"github.com/ggonzalez94/amm-swap/internal/httpx"
	"github.com/ggonzalez94/amm-swap/internal/logging"
	"github.com/ggonzalez94/amm-swap/internal/model"
	"github.com/ggonzalez94/amm-swap/internal/out"
	"github.com/ggonzalez94/amm-swap/internal/quote"
	"github.com/ggonzalez94/amm-swap/internal/schema"
	"github.com/ggonzalez94/amm-swap/internal/swap"
	"github.com/ggonzalez94/amm-swap/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	log         zerolog.Logger
	root        *cobra.Command
	lastCommand string

	gateway *chain.Gateway
	cache   *cache.Store
	svc     *swap.Service
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: zerolog.Nop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	defer state.close()
	if err == nil {
		return 0
	}

	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	s.gateway.Close()
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Concentrated-liquidity token swap service and CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			s.lastCommand = trimRootPath(cmd.CommandPath())
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			log, err := logging.New(settings.LogLevel, settings.LogFormat, s.runner.stderr)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.log = log.With().Str("command", s.lastCommand).Logger()
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.EnvFile, "env-file", "", "Path to a dotenv file (default ./.env when present)")
	cmd.PersistentFlags().Int64Var(&s.flags.ChainID, "chain-id", 0, "EVM chain id")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "JSON-RPC endpoint")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Per-call RPC timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries for read-only RPC requests (0 disables)")
	cmd.PersistentFlags().StringVar(&s.flags.RouterVariant, "router-variant", "", "Configured router variant (direct|command)")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&s.flags.LogFormat, "log-format", "", "Log format (console|json)")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")

	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newTokenCommand())
	cmd.AddCommand(s.newPoolsCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newApproveCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data)
		},
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

// service dials the chain and assembles the swap service on first use.
func (s *runtimeState) service(ctx context.Context) (*swap.Service, error) {
	if s.svc != nil {
		return s.svc, nil
	}
	settings := s.settings

	gateway, err := chain.Dial(ctx, settings.RPCURL,
		chain.WithTimeout(settings.RPCTimeout),
		chain.WithLogger(s.log),
		chain.WithHTTPClient(httpx.New(settings.RPCRetries)),
	)
	if err != nil {
		return nil, err
	}
	s.gateway = gateway

	cfg := swap.NewConfig(settings)
	resolver, err := quote.NewResolver(gateway, quote.Config{
		Quoter:   common.HexToAddress(settings.Quoter),
		TokenIn:  cfg.TokenIn,
		TokenOut: cfg.TokenOut,
		Fallback: swap.FeeTiers(settings.FallbackFeeTiers),
	}, s.log)
	if err != nil {
		return nil, err
	}

	variant, err := planner.ParseRouterVariant(settings.RouterVariant)
	if err != nil {
		return nil, err
	}
	swapPlanner, err := planner.New(planner.Config{
		ChainID:  settings.ChainID,
		TokenIn:  cfg.TokenIn,
		TokenOut: cfg.TokenOut,
		Router:   planner.Router{Address: common.HexToAddress(settings.Router), Variant: variant},
		Deadline: settings.SwapDeadline,
	})
	if err != nil {
		return nil, err
	}
	pipeline := execution.NewPipeline(gateway, swapPlanner, settings.ChainID, s.log)

	if settings.CacheEnabled && s.cache == nil {
		store, err := cache.Open(settings.CachePath, settings.CacheLockPath, settings.CacheTTL)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		if err := store.Prune(ctx); err != nil {
			s.log.Debug().Err(err).Msg("cache prune skipped")
		}
		s.cache = store
	}

	svc, err := swap.New(cfg, swap.Deps{
		Reader:   gateway,
		Quoter:   resolver,
		Planner:  swapPlanner,
		Pipeline: pipeline,
		Cache:    s.cache,
	}, s.log)
	if err != nil {
		return nil, err
	}
	s.svc = svc
	return svc, nil
}

func (s *runtimeState) emitSuccess(commandPath string, data any) error {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Error:   nil,
		Meta:    s.meta(commandPath),
	}
	return out.Render(s.runner.stdout, env, out.OptionsFrom(s.settings))
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.CodeOf(err)
	body := &model.ErrorBody{
		Code:    int(code),
		Type:    clierr.TypeName(code),
		Message: err.Error(),
		Details: errorDetails(err),
	}
	var noLiq *quote.NoLiquidityError
	if errors.As(err, &noLiq) {
		details, tiers := model.NoLiquidityDetails(noLiq, s.settings.TokenIn.Symbol+"-"+s.settings.TokenOut.Symbol)
		if body.Details == nil {
			body.Details = map[string]any{}
		}
		for k, v := range details {
			body.Details[k] = v
		}
		body.Details["attempted_tiers"] = tiers
		body.Details["suggestion"] = model.NoLiquiditySuggestion
	}

	opts := out.OptionsFrom(s.settings)
	if opts.Mode == "" {
		opts.Mode = "json"
	}
	opts.ResultsOnly = false
	opts.Select = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error:   body,
		Meta:    s.meta(commandPath),
	}
	_ = out.Render(s.runner.stderr, env, opts)
}

func (s *runtimeState) meta(commandPath string) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		ChainID:   s.settings.ChainID,
		DEX:       s.settings.DEX,
	}
}

// errorDetails merges details across every typed error in the chain.
func errorDetails(err error) map[string]any {
	var details map[string]any
	for e := err; e != nil; e = errors.Unwrap(e) {
		typed, ok := e.(*clierr.Error)
		if !ok {
			continue
		}
		for k, v := range typed.Details {
			if details == nil {
				details = map[string]any{}
			}
			if _, seen := details[k]; !seen {
				details[k] = v
			}
		}
	}
	return details
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if clierr.CodeOf(err) != clierr.CodeInternal {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
