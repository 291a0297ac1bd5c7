package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/registry"
)

var erc20ABI = mustABI(registry.ERC20ABI)

var tokenAddress = common.HexToAddress("0xad8c787992428cD158E451aAb109f724B6bc36de")

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type callArgs struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// newMockRPCServer answers single and batched requests with handle.
func newMockRPCServer(t *testing.T, handle func(req rpcRequest) rpcResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
			var reqs []rpcRequest
			if err := json.Unmarshal(raw, &reqs); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			resps := make([]rpcResponse, 0, len(reqs))
			for _, req := range reqs {
				resps = append(resps, finish(req, handle(req)))
			}
			_ = json.NewEncoder(w).Encode(resps)
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(finish(req, handle(req)))
	}))
}

func finish(req rpcRequest, resp rpcResponse) rpcResponse {
	resp.JSONRPC = "2.0"
	resp.ID = req.ID
	return resp
}

func ok(result any) rpcResponse { return rpcResponse{Result: result} }

func fail(code int, message, data string) rpcResponse {
	return rpcResponse{Error: &rpcError{Code: code, Message: message, Data: data}}
}

func erc20Handler(t *testing.T) func(req rpcRequest) rpcResponse {
	return func(req rpcRequest) rpcResponse {
		if req.Method != "eth_call" {
			return fail(-32601, "method not supported in test: "+req.Method, "")
		}
		var args callArgs
		if err := json.Unmarshal(req.Params[0], &args); err != nil {
			t.Fatalf("decode call args: %v", err)
		}
		input := args.Data
		var (
			out []byte
			err error
		)
		switch {
		case strings.HasPrefix(input, "0x"+hex.EncodeToString(erc20ABI.Methods["name"].ID)):
			out, err = erc20ABI.Methods["name"].Outputs.Pack("ASPECTA")
		case strings.HasPrefix(input, "0x"+hex.EncodeToString(erc20ABI.Methods["symbol"].ID)):
			out, err = erc20ABI.Methods["symbol"].Outputs.Pack("ASP")
		case strings.HasPrefix(input, "0x"+hex.EncodeToString(erc20ABI.Methods["decimals"].ID)):
			out, err = erc20ABI.Methods["decimals"].Outputs.Pack(uint8(18))
		default:
			return fail(3, "execution reverted: not supported", revertPayload("not supported"))
		}
		if err != nil {
			t.Fatalf("pack output: %v", err)
		}
		return ok("0x" + hex.EncodeToString(out))
	}
}

func revertPayload(reason string) string {
	strType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: strType}}.Pack(reason)
	return "0x08c379a0" + hex.EncodeToString(packed)
}

func dialTest(t *testing.T, url string, opts ...Option) *Gateway {
	t.Helper()
	g, err := Dial(context.Background(), url, opts...)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func TestReadCallDecodesOutputs(t *testing.T) {
	server := newMockRPCServer(t, erc20Handler(t))
	defer server.Close()

	g := dialTest(t, server.URL)
	values, err := g.ReadCall(context.Background(), tokenAddress, erc20ABI, "symbol")
	if err != nil {
		t.Fatalf("ReadCall failed: %v", err)
	}
	if len(values) != 1 || values[0].(string) != "ASP" {
		t.Fatalf("unexpected values: %#v", values)
	}
}

func TestReadCallClassifiesRevert(t *testing.T) {
	server := newMockRPCServer(t, erc20Handler(t))
	defer server.Close()

	g := dialTest(t, server.URL)
	_, err := g.ReadCall(context.Background(), tokenAddress, erc20ABI, "totalSupply")
	if err == nil {
		t.Fatal("expected revert error")
	}
	typed, ok := clierr.As(err)
	if !ok || typed.Code != clierr.CodeReverted {
		t.Fatalf("expected reverted code, got %v", err)
	}
	if typed.Details["revert_reason"] != "not supported" {
		t.Fatalf("expected decoded revert reason, got %#v", typed.Details)
	}
	if typed.Details["contract"] != tokenAddress.Hex() {
		t.Fatalf("expected contract detail, got %#v", typed.Details)
	}
}

func TestReadBatchReportsPerItemResults(t *testing.T) {
	var requests atomic.Int32
	handler := erc20Handler(t)
	server := newMockRPCServer(t, func(req rpcRequest) rpcResponse {
		requests.Add(1)
		return handler(req)
	})
	defer server.Close()

	g := dialTest(t, server.URL)
	reqs := []ReadRequest{
		{Contract: tokenAddress, ABI: erc20ABI, Method: "name"},
		{Contract: tokenAddress, ABI: erc20ABI, Method: "symbol"},
		{Contract: tokenAddress, ABI: erc20ABI, Method: "decimals"},
		{Contract: tokenAddress, ABI: erc20ABI, Method: "totalSupply"},
	}
	results, err := g.ReadBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Values[0].(string) != "ASPECTA" {
		t.Fatalf("unexpected name result: %+v", results[0])
	}
	if results[2].Err != nil || results[2].Values[0].(uint8) != 18 {
		t.Fatalf("unexpected decimals result: %+v", results[2])
	}
	if results[3].Err == nil {
		t.Fatal("expected totalSupply failure")
	}
	if requests.Load() != 4 {
		t.Fatalf("expected 4 batched requests, got %d", requests.Load())
	}
}

func TestReadBatchSequentialWithoutBatchCaller(t *testing.T) {
	server := newMockRPCServer(t, erc20Handler(t))
	defer server.Close()

	g := dialTest(t, server.URL)
	g.batch = nil
	results, err := g.ReadBatch(context.Background(), []ReadRequest{
		{Contract: tokenAddress, ABI: erc20ABI, Method: "name"},
		{Contract: tokenAddress, ABI: erc20ABI, Method: "decimals"},
	})
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	if results[0].Err != nil || results[1].Err != nil {
		t.Fatalf("unexpected errors: %+v", results)
	}
}

func TestAccountAndFeeLookups(t *testing.T) {
	server := newMockRPCServer(t, func(req rpcRequest) rpcResponse {
		switch req.Method {
		case "eth_chainId":
			return ok("0x38")
		case "eth_getTransactionCount":
			var tag string
			_ = json.Unmarshal(req.Params[1], &tag)
			if tag != "pending" {
				return fail(-32000, "expected pending tag, got "+tag, "")
			}
			return ok("0x7")
		case "eth_gasPrice":
			return ok("0x3b9aca00")
		case "eth_getTransactionReceipt":
			return rpcResponse{Result: nil}
		}
		return fail(-32601, "unsupported", "")
	})
	defer server.Close()

	g := dialTest(t, server.URL)
	ctx := context.Background()
	chainID, err := g.ChainID(ctx)
	if err != nil || chainID.Int64() != 56 {
		t.Fatalf("unexpected chain id %v err=%v", chainID, err)
	}
	nonce, err := g.NonceOf(ctx, tokenAddress)
	if err != nil || nonce != 7 {
		t.Fatalf("unexpected nonce %d err=%v", nonce, err)
	}
	price, err := g.GasPrice(ctx)
	if err != nil || price.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("unexpected gas price %v err=%v", price, err)
	}
	receipt, err := g.Receipt(ctx, common.HexToHash("0x01"))
	if err != nil || receipt != nil {
		t.Fatalf("expected pending receipt, got %v err=%v", receipt, err)
	}
}

func TestBroadcastClassifiesNodeRejection(t *testing.T) {
	server := newMockRPCServer(t, func(req rpcRequest) rpcResponse {
		return fail(-32000, "insufficient funds for gas * price + value", "")
	})
	defer server.Close()

	g := dialTest(t, server.URL)
	_, err := g.Broadcast(context.Background(), signedTestTx(t))
	if clierr.CodeOf(err) != clierr.CodeBroadcast {
		t.Fatalf("expected broadcast error, got %v", err)
	}
}

func TestBroadcastClassifiesTransportFailure(t *testing.T) {
	server := newMockRPCServer(t, func(req rpcRequest) rpcResponse { return ok("0x") })
	url := server.URL
	server.Close()

	g := dialTest(t, url)
	_, err := g.Broadcast(context.Background(), signedTestTx(t))
	if clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("expected connectivity error, got %v", err)
	}
}

func TestCallsAreBoundedByTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	g := dialTest(t, server.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := g.ChainID(context.Background())
	if clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout message, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout was not applied, took %s", time.Since(start))
	}
}

func TestDecodeRevertData(t *testing.T) {
	reason, ok := DecodeRevertData(revertPayload("Too little received"))
	if !ok || reason != "Too little received" {
		t.Fatalf("unexpected reason %q ok=%v", reason, ok)
	}
	if _, ok := DecodeRevertData("0x"); ok {
		t.Fatal("expected empty payload to be rejected")
	}
	if _, ok := DecodeRevertData("0x1234"); ok {
		t.Fatal("expected short payload to be rejected")
	}
	if reason, ok := DecodeRevertData("0x12345678"); !ok || reason != "custom error 0x12345678" {
		t.Fatalf("expected custom error selector, got %q ok=%v", reason, ok)
	}
}

func signedTestTx(t *testing.T) *types.Transaction {
	t.Helper()
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082798ce3f4fdf2548b6f90")
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	to := common.HexToAddress("0x13f4EA83D0bd40E75C8222255bc855a974568Dd4")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: big.NewInt(0)})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(56)), key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return signed
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}
