package app

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ggonzalez94/amm-swap/internal/registry"
	"github.com/ggonzalez94/amm-swap/internal/version"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_CACHE_HOME", dir)
	for _, key := range []string{
		"AMMSWAP_PRIVATE_KEY", "AMMSWAP_PRIVATE_KEY_FILE", "AMMSWAP_KEYSTORE_PATH",
		"AMMSWAP_KEYSTORE_PASSWORD",
		"AMMSWAP_RPC_URL", "AMMSWAP_CHAIN_ID", "AMMSWAP_ROUTER", "AMMSWAP_ROUTER_VARIANT",
	} {
		t.Setenv(key, "")
	}
}

type rpcCall struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newQuoterRPC answers every eth_call with result, or with a revert when result is nil.
func newQuoterRPC(t *testing.T, result []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var call rpcCall
		if err := json.Unmarshal(body, &call); err != nil {
			t.Errorf("unexpected rpc body %s", body)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{"jsonrpc": "2.0", "id": call.ID}
		switch {
		case call.Method != "eth_call":
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		case result == nil:
			resp["error"] = map[string]any{"code": 3, "message": "execution reverted", "data": "0x"}
		default:
			resp["result"] = "0x" + hex.EncodeToString(result)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quoterOutput(t *testing.T, amountOut *big.Int) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(registry.V3QuoterV2ABI))
	if err != nil {
		t.Fatal(err)
	}
	out, err := parsed.Methods["quoteExactInputSingle"].Outputs.Pack(amountOut, big.NewInt(1), uint32(1), big.NewInt(120000))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func run(args ...string) (int, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run(args)
	return code, &stdout, &stderr
}

func decodeEnvelope(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse envelope: %v output=%s", err, buf.String())
	}
	return env
}

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("ammswap quote"); got != "quote" {
		t.Fatalf("unexpected trim result: %s", got)
	}
	if got := trimRootPath("ammswap"); got != "ammswap" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	code, stdout, stderr := run("version")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != version.CLIVersion {
		t.Fatalf("unexpected version output %q", stdout.String())
	}
}

func TestRunnerUnknownCommandIsUsageError(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := run("bridge", "--results-only")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
	env := decodeEnvelope(t, stderr)
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
}

func TestRunnerQuoteValidatesBeforeDialing(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := run("quote", "--amount", "0", "--rpc-url", "http://127.0.0.1:1")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
	env := decodeEnvelope(t, stderr)
	errBody := env["error"].(map[string]any)
	if errBody["type"] != "validation_error" {
		t.Fatalf("unexpected error type %v", errBody["type"])
	}
	details := errBody["details"].(map[string]any)
	if details["field"] != "amount" {
		t.Fatalf("unexpected details %#v", details)
	}
}

func TestRunnerQuoteAgainstRPC(t *testing.T) {
	isolateEnv(t)
	srv := newQuoterRPC(t, quoterOutput(t, big.NewInt(1_000_000_000_000_000)))

	code, stdout, stderr := run("quote", "--amount", "0.1", "--rpc-url", srv.URL, "--results-only", "--log-level", "error")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var data map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &data); err != nil {
		t.Fatalf("parse output: %v output=%s", err, stdout.String())
	}
	if data["amount_out_formatted"] != "0.001000 WBNB" {
		t.Fatalf("unexpected amount_out_formatted %v", data["amount_out_formatted"])
	}
	if data["fee"] != float64(10000) || data["dex"] != "PancakeSwap V3" {
		t.Fatalf("unexpected quote %#v", data)
	}
	if data["note"] != nil {
		t.Fatalf("expected no fallback note, got %v", data["note"])
	}
}

func TestRunnerNoLiquidityEnvelope(t *testing.T) {
	isolateEnv(t)
	srv := newQuoterRPC(t, nil)

	code, _, stderr := run("quote", "--amount", "5", "--fee", "2500", "--rpc-url", srv.URL, "--log-level", "error")
	if code != 20 {
		t.Fatalf("expected exit 20, got %d stderr=%s", code, stderr.String())
	}
	env := decodeEnvelope(t, stderr)
	errBody := env["error"].(map[string]any)
	if errBody["type"] != "no_liquidity" {
		t.Fatalf("unexpected error type %v", errBody["type"])
	}
	details := errBody["details"].(map[string]any)
	tiers, _ := details["attempted_tiers"].([]any)
	want := []float64{2500, 10000, 500, 100}
	if len(tiers) != len(want) {
		t.Fatalf("unexpected attempted tiers %#v", details["attempted_tiers"])
	}
	for i, fee := range want {
		if tiers[i] != fee {
			t.Fatalf("tier %d: expected %v, got %v", i, fee, tiers[i])
		}
	}
	if details["pair"] != "ASP-WBNB" {
		t.Fatalf("unexpected pair %v", details["pair"])
	}
}

func TestRunnerSwapWithoutKey(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := run("swap", "--amount-in", "1", "--amount-out-min", "0", "--rpc-url", "http://127.0.0.1:1")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "load signing key") {
		t.Fatalf("expected signing key error, got %s", stderr.String())
	}
}

func TestRunnerMalformedKeyIsNotEchoed(t *testing.T) {
	isolateEnv(t)
	const badKey = "0xabcdefabcdefabcdefzzzz"
	code, stdout, stderr := run("approve", "--amount", "1", "--private-key", badKey, "--rpc-url", "http://127.0.0.1:1")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
	if strings.Contains(stderr.String(), "abcdefabcdef") || strings.Contains(stdout.String(), "abcdefabcdef") {
		t.Fatalf("private key leaked into output: %s", stderr.String())
	}
}

func TestRunnerSwapRejectsUnknownVariant(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := run("swap", "--amount-in", "1", "--amount-out-min", "0", "--variant", "v4", "--rpc-url", "http://127.0.0.1:1")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d stderr=%s", code, stderr.String())
	}
	env := decodeEnvelope(t, stderr)
	details := env["error"].(map[string]any)["details"].(map[string]any)
	if details["field"] != "router_variant" {
		t.Fatalf("unexpected details %#v", details)
	}
}
