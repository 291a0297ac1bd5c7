package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/amm-swap/internal/registry"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ApprovalPolicySubmitted = "submitted"
	ApprovalPolicyReceipt   = "receipt"
)

type GlobalFlags struct {
	ConfigPath    string
	EnvFile       string
	JSON          bool
	Plain         bool
	Select        string
	ResultsOnly   bool
	ChainID       int64
	RPCURL        string
	Timeout       string
	Retries       int
	RouterVariant string
	LogLevel      string
	LogFormat     string
	NoCache       bool
}

type TokenSettings struct {
	Address  string
	Symbol   string
	Decimals uint8
}

type ServerSettings struct {
	Listen         string
	AllowedOrigins []string
	RatePerMinute  int
	MaxConcurrent  int
	RequestTimeout time.Duration
	Metrics        bool
}

type Settings struct {
	OutputMode   string
	SelectFields []string
	ResultsOnly  bool

	ChainID    int64
	RPCURL     string
	RPCTimeout time.Duration
	RPCRetries int

	TokenIn  TokenSettings
	TokenOut TokenSettings

	DEX           string
	Factory       string
	Quoter        string
	Router        string
	RouterVariant string

	KnownFeeTiers    []uint32
	FallbackFeeTiers []uint32
	DefaultQuoteFee  uint32
	DefaultSwapFee   uint32

	ApproveGasLimit uint64
	SwapGasLimit    uint64
	SwapDeadline    time.Duration

	ApprovalPolicy string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration

	Server ServerSettings

	LogLevel  string
	LogFormat string

	CacheEnabled  bool
	CachePath     string
	CacheLockPath string
	CacheTTL      time.Duration
}

type tokenConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals *uint8 `yaml:"decimals"`
}

type fileConfig struct {
	Output     string      `yaml:"output"`
	ChainID    *int64      `yaml:"chain_id"`
	RPCURL     string      `yaml:"rpc_url"`
	RPCTimeout string      `yaml:"rpc_timeout"`
	RPCRetries *int        `yaml:"rpc_retries"`
	TokenIn    tokenConfig `yaml:"token_in"`
	TokenOut   tokenConfig `yaml:"token_out"`
	Contracts  struct {
		DEX           string `yaml:"dex"`
		Factory       string `yaml:"factory"`
		Quoter        string `yaml:"quoter"`
		Router        string `yaml:"router"`
		RouterVariant string `yaml:"router_variant"`
	} `yaml:"contracts"`
	FeeTiers struct {
		Known        []uint32 `yaml:"known"`
		Fallback     []uint32 `yaml:"fallback"`
		DefaultQuote *uint32  `yaml:"default_quote"`
		DefaultSwap  *uint32  `yaml:"default_swap"`
	} `yaml:"fee_tiers"`
	Gas struct {
		ApproveLimit *uint64 `yaml:"approve_limit"`
		SwapLimit    *uint64 `yaml:"swap_limit"`
	} `yaml:"gas"`
	Swap struct {
		Deadline string `yaml:"deadline"`
	} `yaml:"swap"`
	Approval struct {
		Policy         string `yaml:"policy"`
		ConfirmTimeout string `yaml:"confirm_timeout"`
		PollInterval   string `yaml:"poll_interval"`
	} `yaml:"approval"`
	Server struct {
		Listen         string   `yaml:"listen"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		RatePerMinute  *int     `yaml:"rate_per_minute"`
		MaxConcurrent  *int     `yaml:"max_concurrent"`
		RequestTimeout string   `yaml:"request_timeout"`
		Metrics        *bool    `yaml:"metrics"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		TTL      string `yaml:"ttl"`
	} `yaml:"cache"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	if err := loadEnvFile(flags.EnvFile); err != nil {
		return Settings{}, err
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if err := applyChainDefaults(&settings); err != nil {
		return Settings{}, err
	}

	if err := validate(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:       "json",
		ChainID:          56,
		RPCTimeout:       10 * time.Second,
		RPCRetries:       0,
		RouterVariant:    registry.RouterKindDirect,
		KnownFeeTiers:    []uint32{100, 500, 2500, 10000},
		FallbackFeeTiers: []uint32{10000, 500, 100, 2500},
		DefaultQuoteFee:  10000,
		DefaultSwapFee:   10000,
		ApproveGasLimit:  200_000,
		SwapGasLimit:     1_000_000,
		SwapDeadline:     5 * time.Minute,
		ApprovalPolicy:   ApprovalPolicySubmitted,
		ConfirmTimeout:   2 * time.Minute,
		PollInterval:     2 * time.Second,
		Server: ServerSettings{
			Listen:         ":8080",
			AllowedOrigins: []string{"*"},
			MaxConcurrent:  200,
			RequestTimeout: 60 * time.Second,
			Metrics:        true,
		},
		LogLevel:      "info",
		LogFormat:     "console",
		CacheEnabled:  false,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		CacheTTL:      24 * time.Hour,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "ammswap", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "ammswap")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.ChainID != nil {
		settings.ChainID = *cfg.ChainID
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if err := setDuration(&settings.RPCTimeout, cfg.RPCTimeout, "config rpc_timeout"); err != nil {
		return err
	}
	if cfg.RPCRetries != nil {
		settings.RPCRetries = *cfg.RPCRetries
	}
	applyTokenConfig(&settings.TokenIn, cfg.TokenIn)
	applyTokenConfig(&settings.TokenOut, cfg.TokenOut)

	if cfg.Contracts.DEX != "" {
		settings.DEX = cfg.Contracts.DEX
	}
	if cfg.Contracts.Factory != "" {
		settings.Factory = cfg.Contracts.Factory
	}
	if cfg.Contracts.Quoter != "" {
		settings.Quoter = cfg.Contracts.Quoter
	}
	if cfg.Contracts.Router != "" {
		settings.Router = cfg.Contracts.Router
	}
	if cfg.Contracts.RouterVariant != "" {
		settings.RouterVariant = strings.ToLower(cfg.Contracts.RouterVariant)
	}

	if len(cfg.FeeTiers.Known) > 0 {
		settings.KnownFeeTiers = cfg.FeeTiers.Known
	}
	if len(cfg.FeeTiers.Fallback) > 0 {
		settings.FallbackFeeTiers = cfg.FeeTiers.Fallback
	}
	if cfg.FeeTiers.DefaultQuote != nil {
		settings.DefaultQuoteFee = *cfg.FeeTiers.DefaultQuote
	}
	if cfg.FeeTiers.DefaultSwap != nil {
		settings.DefaultSwapFee = *cfg.FeeTiers.DefaultSwap
	}

	if cfg.Gas.ApproveLimit != nil {
		settings.ApproveGasLimit = *cfg.Gas.ApproveLimit
	}
	if cfg.Gas.SwapLimit != nil {
		settings.SwapGasLimit = *cfg.Gas.SwapLimit
	}
	if err := setDuration(&settings.SwapDeadline, cfg.Swap.Deadline, "config swap.deadline"); err != nil {
		return err
	}

	if cfg.Approval.Policy != "" {
		settings.ApprovalPolicy = strings.ToLower(cfg.Approval.Policy)
	}
	if err := setDuration(&settings.ConfirmTimeout, cfg.Approval.ConfirmTimeout, "config approval.confirm_timeout"); err != nil {
		return err
	}
	if err := setDuration(&settings.PollInterval, cfg.Approval.PollInterval, "config approval.poll_interval"); err != nil {
		return err
	}

	if cfg.Server.Listen != "" {
		settings.Server.Listen = cfg.Server.Listen
	}
	if len(cfg.Server.AllowedOrigins) > 0 {
		settings.Server.AllowedOrigins = cfg.Server.AllowedOrigins
	}
	if cfg.Server.RatePerMinute != nil {
		settings.Server.RatePerMinute = *cfg.Server.RatePerMinute
	}
	if cfg.Server.MaxConcurrent != nil {
		settings.Server.MaxConcurrent = *cfg.Server.MaxConcurrent
	}
	if err := setDuration(&settings.Server.RequestTimeout, cfg.Server.RequestTimeout, "config server.request_timeout"); err != nil {
		return err
	}
	if cfg.Server.Metrics != nil {
		settings.Server.Metrics = *cfg.Server.Metrics
	}

	if cfg.Log.Level != "" {
		settings.LogLevel = strings.ToLower(cfg.Log.Level)
	}
	if cfg.Log.Format != "" {
		settings.LogFormat = strings.ToLower(cfg.Log.Format)
	}

	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if err := setDuration(&settings.CacheTTL, cfg.Cache.TTL, "config cache.ttl"); err != nil {
		return err
	}

	return nil
}

func applyTokenConfig(dst *TokenSettings, cfg tokenConfig) {
	if cfg.Address != "" {
		dst.Address = cfg.Address
	}
	if cfg.Symbol != "" {
		dst.Symbol = cfg.Symbol
	}
	if cfg.Decimals != nil {
		dst.Decimals = *cfg.Decimals
	}
}

func setDuration(dst *time.Duration, raw, label string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	*dst = d
	return nil
}

// loadEnvFile fills unset environment variables from a dotenv file.
func loadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("parse env file: %w", err)
	}
	return nil
}

func applyEnv(settings *Settings) error {
	if v := os.Getenv("AMMSWAP_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("AMMSWAP_CHAIN_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse AMMSWAP_CHAIN_ID: %w", err)
		}
		settings.ChainID = n
	}
	if v := os.Getenv("AMMSWAP_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("AMMSWAP_RPC_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.RPCTimeout = d
		}
	}
	if v := os.Getenv("AMMSWAP_RPC_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse AMMSWAP_RPC_RETRIES: %w", err)
		}
		settings.RPCRetries = n
	}
	if v := os.Getenv("AMMSWAP_TOKEN_IN"); v != "" {
		settings.TokenIn.Address = v
	}
	if v := os.Getenv("AMMSWAP_TOKEN_OUT"); v != "" {
		settings.TokenOut.Address = v
	}
	if v := os.Getenv("AMMSWAP_FACTORY"); v != "" {
		settings.Factory = v
	}
	if v := os.Getenv("AMMSWAP_QUOTER"); v != "" {
		settings.Quoter = v
	}
	if v := os.Getenv("AMMSWAP_ROUTER"); v != "" {
		settings.Router = v
	}
	if v := os.Getenv("AMMSWAP_ROUTER_VARIANT"); v != "" {
		settings.RouterVariant = strings.ToLower(v)
	}
	if v := os.Getenv("AMMSWAP_FEE_FALLBACK"); v != "" {
		tiers, err := parseTierList(v)
		if err != nil {
			return fmt.Errorf("parse AMMSWAP_FEE_FALLBACK: %w", err)
		}
		settings.FallbackFeeTiers = tiers
	}
	if v := os.Getenv("AMMSWAP_APPROVAL_POLICY"); v != "" {
		settings.ApprovalPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("AMMSWAP_LISTEN"); v != "" {
		settings.Server.Listen = v
	}
	if v := os.Getenv("AMMSWAP_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("AMMSWAP_LOG_FORMAT"); v != "" {
		settings.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv("AMMSWAP_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("AMMSWAP_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("AMMSWAP_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.ChainID > 0 {
		settings.ChainID = flags.ChainID
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.RPCTimeout = d
	}
	if flags.Retries >= 0 {
		settings.RPCRetries = flags.Retries
	}
	if flags.RouterVariant != "" {
		settings.RouterVariant = strings.ToLower(strings.TrimSpace(flags.RouterVariant))
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.LogFormat != "" {
		settings.LogFormat = strings.ToLower(flags.LogFormat)
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

// applyChainDefaults fills contracts, tokens and rpc from the registry for
// whatever the configured chain is.
func applyChainDefaults(settings *Settings) error {
	if d, ok := registry.V3Deployment(settings.ChainID); ok {
		if settings.DEX == "" {
			settings.DEX = d.DEX
		}
		if settings.Factory == "" {
			settings.Factory = d.Factory
		}
		if settings.Quoter == "" {
			settings.Quoter = d.QuoterV2
		}
		if settings.Router == "" {
			switch settings.RouterVariant {
			case registry.RouterKindCommand:
				settings.Router = d.UniversalRouter
			default:
				settings.Router = d.SwapRouter
			}
		}
	}
	if in, out, ok := registry.DefaultPair(settings.ChainID); ok {
		fillToken(&settings.TokenIn, in)
		fillToken(&settings.TokenOut, out)
	}
	if settings.DEX == "" {
		settings.DEX = "Uniswap V3"
	}
	rpcURL, err := registry.ResolveRPCURL(settings.RPCURL, settings.ChainID)
	if err != nil {
		return err
	}
	settings.RPCURL = rpcURL
	return nil
}

func fillToken(dst *TokenSettings, def registry.TokenDefault) {
	if dst.Address == "" {
		dst.Address = def.Address
		if dst.Symbol == "" {
			dst.Symbol = def.Symbol
		}
		if dst.Decimals == 0 {
			dst.Decimals = def.Decimals
		}
		return
	}
	if strings.EqualFold(dst.Address, def.Address) {
		if dst.Symbol == "" {
			dst.Symbol = def.Symbol
		}
		if dst.Decimals == 0 {
			dst.Decimals = def.Decimals
		}
	}
}

func validate(settings Settings) error {
	if settings.ChainID <= 0 {
		return fmt.Errorf("chain_id must be positive")
	}
	addresses := map[string]string{
		"token_in.address":  settings.TokenIn.Address,
		"token_out.address": settings.TokenOut.Address,
		"contracts.factory": settings.Factory,
		"contracts.quoter":  settings.Quoter,
		"contracts.router":  settings.Router,
	}
	for field, value := range addresses {
		if !common.IsHexAddress(value) {
			return fmt.Errorf("%s must be a hex address, got %q", field, value)
		}
	}
	if strings.EqualFold(settings.TokenIn.Address, settings.TokenOut.Address) {
		return fmt.Errorf("token_in and token_out must differ")
	}
	switch settings.RouterVariant {
	case registry.RouterKindDirect, registry.RouterKindCommand:
	default:
		return fmt.Errorf("contracts.router_variant must be %s or %s", registry.RouterKindDirect, registry.RouterKindCommand)
	}
	switch settings.ApprovalPolicy {
	case ApprovalPolicySubmitted, ApprovalPolicyReceipt:
	default:
		return fmt.Errorf("approval.policy must be %s or %s", ApprovalPolicySubmitted, ApprovalPolicyReceipt)
	}
	switch settings.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json")
	}
	if len(settings.KnownFeeTiers) == 0 || len(settings.FallbackFeeTiers) == 0 {
		return fmt.Errorf("fee_tiers.known and fee_tiers.fallback must not be empty")
	}
	for _, tier := range append(append([]uint32{settings.DefaultQuoteFee, settings.DefaultSwapFee}, settings.KnownFeeTiers...), settings.FallbackFeeTiers...) {
		if tier == 0 || tier > 1_000_000 {
			return fmt.Errorf("fee tier %d out of range", tier)
		}
	}
	if settings.ApproveGasLimit == 0 || settings.SwapGasLimit == 0 {
		return fmt.Errorf("gas limits must be positive")
	}
	if settings.RPCTimeout <= 0 {
		return fmt.Errorf("rpc_timeout must be positive")
	}
	if settings.RPCRetries < 0 {
		return fmt.Errorf("rpc_retries must not be negative")
	}
	if settings.SwapDeadline <= 0 {
		return fmt.Errorf("swap.deadline must be positive")
	}
	return nil
}

func parseTierList(raw string) ([]uint32, error) {
	parts := strings.Split(raw, ",")
	out := make([]uint32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, err
		}
		out = append(out, uint32(n))
	}
	return out, nil
}
