package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/amm-swap/internal/config"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/execution/planner"
	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/quote"
	"github.com/ggonzalez94/amm-swap/internal/swap"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"
	testAccount    = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

var (
	aspToken  = id.Token{Address: common.HexToAddress("0xad8c787992428cD158E451aAb109f724B6bc36de"), Symbol: "ASP", Decimals: 18}
	wbnbToken = id.Token{Address: common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"), Symbol: "WBNB", Decimals: 18}
	router    = common.HexToAddress("0xB971eF87ede563556b2ED4b1C0b0019111Dd85d2")
)

type fakeService struct {
	tokenInfo func(ctx context.Context) (swap.TokenInfo, error)
	poolInfo  func(ctx context.Context) ([]swap.Pool, error)
	quote     func(ctx context.Context, in swap.QuoteInput) (quote.Result, error)
	approve   func(ctx context.Context, in swap.ApproveInput) (swap.ApproveResult, error)
	swap      func(ctx context.Context, in swap.SwapInput) (swap.SwapResult, error)
	calls     int
}

func (f *fakeService) TokenInfo(ctx context.Context) (swap.TokenInfo, error) {
	f.calls++
	return f.tokenInfo(ctx)
}

func (f *fakeService) PoolInfo(ctx context.Context) ([]swap.Pool, error) {
	f.calls++
	return f.poolInfo(ctx)
}

func (f *fakeService) Quote(ctx context.Context, in swap.QuoteInput) (quote.Result, error) {
	f.calls++
	return f.quote(ctx, in)
}

func (f *fakeService) Approve(ctx context.Context, in swap.ApproveInput) (swap.ApproveResult, error) {
	f.calls++
	return f.approve(ctx, in)
}

func (f *fakeService) ExecuteSwap(ctx context.Context, in swap.SwapInput) (swap.SwapResult, error) {
	f.calls++
	return f.swap(ctx, in)
}

func (f *fakeService) Config() swap.Config {
	return swap.Config{ChainID: 56, DEX: "PancakeSwap V3", TokenIn: aspToken, TokenOut: wbnbToken}
}

func (f *fakeService) Pair() string { return "ASP-WBNB" }

type fakeProbe struct {
	err error
}

func (p fakeProbe) ChainID(context.Context) (*big.Int, error) {
	if p.err != nil {
		return nil, p.err
	}
	return big.NewInt(56), nil
}

func newTestServer(t *testing.T, svc *fakeService, probe ChainProbe) http.Handler {
	t.Helper()
	srv, err := New(config.ServerSettings{
		Listen:         "127.0.0.1:0",
		AllowedOrigins: []string{"*"},
		MaxConcurrent:  10,
		RequestTimeout: 5 * time.Second,
		Metrics:        true,
	}, svc, probe, zerolog.Nop())
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestTokenInfoOnBothPrefixes(t *testing.T) {
	svc := &fakeService{tokenInfo: func(context.Context) (swap.TokenInfo, error) {
		return swap.TokenInfo{
			Address:              aspToken.Address,
			Name:                 "Aspecta",
			Symbol:               "ASP",
			Decimals:             18,
			TotalSupply:          big.NewInt(1_000_000),
			TotalSupplyFormatted: "0.000000000001 ASP",
		}, nil
	}}
	h := newTestServer(t, svc, nil)

	for _, path := range []string{"/api/v1/token-info", "/api/uniswap/token-info"} {
		rec, body := do(t, h, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.Equal(t, aspToken.Address.Hex(), body["address"])
		assert.Equal(t, "ASP", body["symbol"])
		assert.EqualValues(t, 18, body["decimals"])
		assert.EqualValues(t, 1_000_000, body["total_supply"])
	}
	assert.Equal(t, 2, svc.calls)
}

func TestPoolInfo(t *testing.T) {
	svc := &fakeService{poolInfo: func(context.Context) ([]swap.Pool, error) {
		return []swap.Pool{{Address: common.HexToAddress("0x1111111111111111111111111111111111111111"), Fee: 10000}}, nil
	}}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodGet, "/api/v1/pool-info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["pools_found"])
	pools := body["pools"].([]any)
	require.Len(t, pools, 1)
	pool := pools[0].(map[string]any)
	assert.Equal(t, "1%", pool["fee_percentage"])
	assert.Equal(t, "ASP-WBNB", pool["pair"])
	assert.Equal(t, "PancakeSwap V3", pool["dex"])
}

func TestQuoteAcceptsNumericAndStringAmounts(t *testing.T) {
	var got []swap.QuoteInput
	svc := &fakeService{quote: func(_ context.Context, in swap.QuoteInput) (quote.Result, error) {
		got = append(got, in)
		return quote.Result{
			FeeTierUsed:      10000,
			PreferredFee:     3000,
			FallbackUsed:     true,
			AmountIn:         in.AmountIn,
			AmountInWei:      big.NewInt(1e17),
			AmountOut:        big.NewInt(1e15),
			AmountOutDecimal: decimal.RequireFromString("0.001"),
			GasEstimate:      big.NewInt(90000),
			PriceRatio:       decimal.RequireFromString("0.01"),
			Attempts:         []quote.Attempt{{Fee: 3000, Err: errors.New("execution reverted")}, {Fee: 10000}},
		}, nil
	}}
	h := newTestServer(t, svc, nil)

	rec, body := do(t, h, http.MethodPost, "/api/v1/quote", `{"amount_in": 0.1, "fee": 3000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 10000, body["fee"])
	assert.EqualValues(t, 3000, body["requested_fee"])
	assert.Equal(t, "1%", body["fee_percentage"])
	assert.Equal(t, "0.001000 WBNB", body["amount_out_formatted"])
	assert.Equal(t, "1 ASP = 0.01000000 WBNB", body["price_impact"])
	assert.Equal(t, "Using 1% fee tier (has liquidity)", body["note"])
	assert.Equal(t, []any{float64(3000), float64(10000)}, body["attempted_tiers"])

	rec, _ = do(t, h, http.MethodPost, "/api/v1/quote", `{"amount_in": "0.25"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, got, 2)
	assert.True(t, got[0].AmountIn.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, id.FeeTier(3000), got[0].Fee)
	assert.True(t, got[1].AmountIn.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, id.FeeTier(0), got[1].Fee)
}

func TestQuoteValidation(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing amount", `{}`, "amount_in"},
		{"empty body", ``, "amount_in"},
		{"zero amount", `{"amount_in": 0}`, "amount_in"},
		{"negative amount", `{"amount_in": "-1"}`, "amount_in"},
		{"fee out of range", `{"amount_in": 1, "fee": 2000000}`, "fee"},
		{"zero fee", `{"amount_in": 1, "fee": 0}`, "fee"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{}
			rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/v1/quote", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "validation_error", body["type"])
			details, _ := body["details"].(map[string]any)
			assert.Equal(t, tc.field, details["field"])
			assert.Zero(t, svc.calls)
		})
	}

	rec, body := do(t, newTestServer(t, &fakeService{}, nil), http.MethodPost, "/api/v1/quote", `{"amount_in": "abc"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body["type"])
}

func TestQuoteNoLiquidity(t *testing.T) {
	svc := &fakeService{quote: func(context.Context, swap.QuoteInput) (quote.Result, error) {
		return quote.Result{}, &quote.NoLiquidityError{Attempts: []quote.Attempt{
			{Fee: 2500, Err: errors.New("execution reverted")},
			{Fee: 10000, Err: errors.New("execution reverted")},
			{Fee: 500, Err: errors.New("zero output")},
			{Fee: 100, Err: errors.New("execution reverted")},
		}}
	}}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/uniswap/quote", `{"amount_in": 1000000, "fee": 2500}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "No liquidity available in any fee tier for this token pair", body["error"])
	assert.Equal(t, "no_liquidity", body["type"])
	assert.NotEmpty(t, body["suggestion"])
	assert.Equal(t, []any{float64(2500), float64(10000), float64(500), float64(100)}, body["attempted_tiers"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "ASP-WBNB", details["pair"])
	reasons := details["reasons"].(map[string]any)
	assert.Len(t, reasons, 4)
}

func TestQuoteConnectivityFailure(t *testing.T) {
	svc := &fakeService{quote: func(context.Context, swap.QuoteInput) (quote.Result, error) {
		return quote.Result{}, clierr.Wrap(clierr.CodeUnavailable, "eth_call failed", errors.New("connection refused"))
	}}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/v1/quote", `{"amount_in": 1}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "connectivity_error", body["type"])
	assert.Contains(t, body["error"], "connection refused")
}

func TestApprove(t *testing.T) {
	var got swap.ApproveInput
	svc := &fakeService{approve: func(_ context.Context, in swap.ApproveInput) (swap.ApproveResult, error) {
		got = in
		return swap.ApproveResult{
			TxHash:    common.HexToHash("0xabc"),
			Nonce:     3,
			Amount:    in.Amount,
			AmountWei: big.NewInt(5e18),
			Spender:   router,
		}, nil
	}}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/v1/approve",
		`{"private_key": "0x`+testPrivateKey+`", "account_address": "`+testAccount+`", "amount": "5"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, common.HexToHash("0xabc").Hex(), body["transaction_hash"])
	assert.Equal(t, "5", body["amount_approved"])
	assert.EqualValues(t, 5e18, body["amount_approved_wei"])
	assert.Equal(t, router.Hex(), body["spender"])
	require.NotNil(t, got.Signer)
	assert.Equal(t, testAccount, got.Account)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(5)))
}

func TestApproveRequiresAccountAddress(t *testing.T) {
	svc := &fakeService{}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/v1/approve",
		`{"private_key": "`+testPrivateKey+`", "amount": "5"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "validation_error", body["type"])
	details, _ := body["details"].(map[string]any)
	assert.Equal(t, "account_address", details["field"])
	assert.Zero(t, svc.calls)
}

func TestSwapAcceptsAmountOutMinAlias(t *testing.T) {
	var got swap.SwapInput
	approval := common.HexToHash("0x01")
	svc := &fakeService{swap: func(_ context.Context, in swap.SwapInput) (swap.SwapResult, error) {
		got = in
		return swap.SwapResult{
			TxHash:              common.HexToHash("0x02"),
			Nonce:               5,
			ApprovalTxHash:      &approval,
			AmountIn:            in.AmountIn,
			AmountInWei:         big.NewInt(1e17),
			AmountOutMinimum:    in.AmountOutMinimum,
			AmountOutMinimumWei: big.NewInt(0),
			Fee:                 10000,
			Variant:             planner.VariantCommand,
		}, nil
	}}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/v1/swap",
		`{"private_key": "`+testPrivateKey+`", "account_address": "`+testAccount+`", "amount_in": 0.1, "amount_out_min": 0, "fee": 10000, "router_variant": "command"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, approval.Hex(), body["approval_transaction_hash"])
	assert.Equal(t, common.HexToHash("0x02").Hex(), body["transaction_hash"])
	assert.Equal(t, "command", body["router_variant"])
	assert.Equal(t, "1%", body["fee_percentage"])
	assert.True(t, got.AmountOutMinimum.IsZero())
	assert.Equal(t, planner.VariantCommand, got.Variant)
	assert.Equal(t, id.FeeTier(10000), got.Fee)
}

func TestSwapValidation(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing min out", `{"private_key": "` + testPrivateKey + `", "amount_in": 1}`, "amount_out_minimum"},
		{"missing amount", `{"private_key": "` + testPrivateKey + `", "amount_out_minimum": 0}`, "amount_in"},
		{"missing key", `{"account_address": "` + testAccount + `", "amount_in": 1, "amount_out_minimum": 0}`, "private_key"},
		{"missing account", `{"private_key": "` + testPrivateKey + `", "amount_in": 1, "amount_out_minimum": 0}`, "account_address"},
		{"blank account", `{"private_key": "` + testPrivateKey + `", "account_address": " ", "amount_in": 1, "amount_out_minimum": 0}`, "account_address"},
		{"bad variant", `{"private_key": "` + testPrivateKey + `", "amount_in": 1, "amount_out_minimum": 0, "router_variant": "v4"}`, "router_variant"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{}
			rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/v1/swap", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			details, _ := body["details"].(map[string]any)
			assert.Equal(t, tc.field, details["field"])
			assert.Zero(t, svc.calls)
		})
	}
}

func TestMalformedKeyIsNeverEchoed(t *testing.T) {
	const badKey = "0xdeadbeefdeadbeefdeadbeefnothexnothex"
	svc := &fakeService{}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/v1/swap",
		`{"private_key": "`+badKey+`", "account_address": "`+testAccount+`", "amount_in": 1, "amount_out_minimum": 0}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body["type"])
	assert.NotContains(t, rec.Body.String(), "deadbeef")
	assert.Zero(t, svc.calls)
}

func TestSwapApprovalFailureMergesDetails(t *testing.T) {
	svc := &fakeService{swap: func(context.Context, swap.SwapInput) (swap.SwapResult, error) {
		reverted := clierr.New(clierr.CodeReverted, "transaction reverted").With("revert_reason", "STF")
		return swap.SwapResult{}, clierr.Wrap(clierr.CodeReverted, "approval not confirmed, swap not submitted", reverted).
			With("approval_tx_hash", "0x01")
	}}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/v1/swap",
		`{"private_key": "`+testPrivateKey+`", "account_address": "`+testAccount+`", "amount_in": 1, "amount_out_minimum": "0.5"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "transaction_reverted", body["type"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "0x01", details["approval_tx_hash"])
	assert.Equal(t, "STF", details["revert_reason"])
}

func TestRouterMismatchIsServerError(t *testing.T) {
	svc := &fakeService{swap: func(context.Context, swap.SwapInput) (swap.SwapResult, error) {
		return swap.SwapResult{}, clierr.New(clierr.CodeRouterMismatch, "router does not accept command calldata")
	}}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodPost, "/api/v1/swap",
		`{"private_key": "`+testPrivateKey+`", "account_address": "`+testAccount+`", "amount_in": 1, "amount_out_minimum": 0, "router_variant": "command"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "router_variant_mismatch", body["type"])
}

func TestHealthReadyAndMetrics(t *testing.T) {
	h := newTestServer(t, &fakeService{}, fakeProbe{})

	rec, body := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, body = do(t, h, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 56, body["chain_id"])

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	down := newTestServer(t, &fakeService{}, fakeProbe{err: errors.New("dial tcp: connection refused")})
	rec, body = do(t, down, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := newTestServer(t, &fakeService{}, nil)

	rec, body := do(t, h, http.MethodGet, "/api/v1/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["type"])

	rec, _ = do(t, h, http.MethodGet, "/api/v1/quote", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPanicIsRecovered(t *testing.T) {
	svc := &fakeService{tokenInfo: func(context.Context) (swap.TokenInfo, error) {
		panic("boom")
	}}
	rec, body := do(t, newTestServer(t, svc, nil), http.MethodGet, "/api/v1/token-info", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", body["type"])
}
