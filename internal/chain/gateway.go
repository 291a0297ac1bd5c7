package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/metrics"
	"github.com/rs/zerolog"
)

const DefaultTimeout = 10 * time.Second

// Backend is the subset of ethclient.Client the gateway needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// BatchCaller sends several JSON-RPC requests in one round-trip.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// Gateway is the typed facade over the chain RPC endpoint. It is safe for
// concurrent use and performs no retries.
type Gateway struct {
	backend Backend
	batch   BatchCaller
	timeout time.Duration
	log     zerolog.Logger
	closeFn func()
	// httpClient is only consulted by Dial.
	httpClient *http.Client
}

type Option func(*Gateway)

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithHTTPClient sets the HTTP client Dial uses for http(s) endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

func WithBatchCaller(b BatchCaller) Option {
	return func(g *Gateway) { g.batch = b }
}

func New(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend: backend,
		timeout: DefaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dial connects to rpcURL and returns a gateway using JSON-RPC batching.
func Dial(ctx context.Context, rpcURL string, opts ...Option) (*Gateway, error) {
	probe := New(nil, opts...)
	var dialOpts []rpc.ClientOption
	if probe.httpClient != nil {
		dialOpts = append(dialOpts, rpc.WithHTTPClient(probe.httpClient))
	}
	rpcClient, err := rpc.DialOptions(ctx, rpcURL, dialOpts...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	client := ethclient.NewClient(rpcClient)
	g := New(client, append([]Option{WithBatchCaller(rpcClient)}, opts...)...)
	g.closeFn = client.Close
	return g, nil
}

func (g *Gateway) Close() {
	if g != nil && g.closeFn != nil {
		g.closeFn()
	}
}

// ReadRequest is one read-only contract call.
type ReadRequest struct {
	Contract common.Address
	ABI      abi.ABI
	Method   string
	Args     []any
}

type ReadResult struct {
	Values []any
	Err    error
}

// ReadCall packs method with args, runs eth_call at the latest block and
// unpacks the return values.
func (g *Gateway) ReadCall(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", method), err)
	}
	var out []byte
	err = g.do(ctx, "eth_call", func(ctx context.Context) error {
		var callErr error
		out, callErr = g.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		return callErr
	})
	if err != nil {
		return nil, classifyCallError(err, method, contract)
	}
	return decodeOutput(contractABI, method, contract, out)
}

// ReadBatch runs all requests in one JSON-RPC batch when the backend
// supports it. Per-request failures are reported in the matching result;
// the returned error is set only when the batch itself could not be sent.
func (g *Gateway) ReadBatch(ctx context.Context, reqs []ReadRequest) ([]ReadResult, error) {
	results := make([]ReadResult, len(reqs))
	if g.batch == nil {
		for i, req := range reqs {
			values, err := g.ReadCall(ctx, req.Contract, req.ABI, req.Method, req.Args...)
			results[i] = ReadResult{Values: values, Err: err}
		}
		return results, nil
	}

	elems := make([]rpc.BatchElem, len(reqs))
	outputs := make([]hexutil.Bytes, len(reqs))
	for i, req := range reqs {
		data, err := req.ABI.Pack(req.Method, req.Args...)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", req.Method), err)
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				map[string]any{"to": req.Contract, "data": hexutil.Bytes(data)},
				"latest",
			},
			Result: &outputs[i],
		}
	}
	err := g.do(ctx, "eth_call_batch", func(ctx context.Context) error {
		return g.batch.BatchCallContext(ctx, elems)
	})
	if err != nil {
		if timeoutErr := asTimeout(err, "eth_call_batch"); timeoutErr != nil {
			return nil, timeoutErr
		}
		return nil, clierr.Wrap(clierr.CodeUnavailable, "send read batch", err)
	}
	for i, elem := range elems {
		if elem.Error != nil {
			results[i] = ReadResult{Err: classifyCallError(elem.Error, reqs[i].Method, reqs[i].Contract)}
			continue
		}
		values, err := decodeOutput(reqs[i].ABI, reqs[i].Method, reqs[i].Contract, outputs[i])
		results[i] = ReadResult{Values: values, Err: err}
	}
	return results, nil
}

func (g *Gateway) NonceOf(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := g.do(ctx, "eth_getTransactionCount", func(ctx context.Context) error {
		var callErr error
		nonce, callErr = g.backend.PendingNonceAt(ctx, account)
		return callErr
	})
	if err != nil {
		return 0, connectivity(err, "eth_getTransactionCount", "fetch pending nonce").With("address", account.Hex())
	}
	return nonce, nil
}

func (g *Gateway) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := g.do(ctx, "eth_gasPrice", func(ctx context.Context) error {
		var callErr error
		price, callErr = g.backend.SuggestGasPrice(ctx)
		return callErr
	})
	if err != nil {
		return nil, connectivity(err, "eth_gasPrice", "fetch gas price")
	}
	return price, nil
}

func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	var chainID *big.Int
	err := g.do(ctx, "eth_chainId", func(ctx context.Context) error {
		var callErr error
		chainID, callErr = g.backend.ChainID(ctx)
		return callErr
	})
	if err != nil {
		return nil, connectivity(err, "eth_chainId", "fetch chain id")
	}
	return chainID, nil
}

// Broadcast submits a signed transaction. A node-side rejection is a
// broadcast error; transport failures are connectivity errors.
func (g *Gateway) Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	err := g.do(ctx, "eth_sendRawTransaction", func(ctx context.Context) error {
		return g.backend.SendTransaction(ctx, tx)
	})
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			wrapped := clierr.Wrap(clierr.CodeBroadcast, "node rejected transaction", err).With("nonce", tx.Nonce())
			if reason, ok := RevertReason(err); ok {
				wrapped.With("revert_reason", reason)
			}
			return common.Hash{}, wrapped
		}
		return common.Hash{}, connectivity(err, "eth_sendRawTransaction", "broadcast transaction")
	}
	g.log.Debug().Str("tx_hash", tx.Hash().Hex()).Uint64("nonce", tx.Nonce()).Msg("transaction broadcast")
	return tx.Hash(), nil
}

// Receipt returns nil while the transaction is still pending.
func (g *Gateway) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := g.do(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var callErr error
		receipt, callErr = g.backend.TransactionReceipt(ctx, hash)
		return callErr
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, connectivity(err, "eth_getTransactionReceipt", "fetch receipt").With("tx_hash", hash.Hex())
	}
	return receipt, nil
}

func (g *Gateway) do(ctx context.Context, method string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	metrics.RPCLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		metrics.RPCErrors.WithLabelValues(method).Inc()
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", errTimeout, err)
		}
		g.log.Debug().Str("method", method).Dur("duration", elapsed).Err(err).Msg("rpc call failed")
	}
	return err
}

var errTimeout = errors.New("rpc timeout")

func asTimeout(err error, method string) *clierr.Error {
	if errors.Is(err, errTimeout) {
		return clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("%s timed out", method), err)
	}
	return nil
}

func connectivity(err error, method, message string) *clierr.Error {
	if timeoutErr := asTimeout(err, method); timeoutErr != nil {
		return timeoutErr
	}
	return clierr.Wrap(clierr.CodeUnavailable, message, err)
}

func classifyCallError(err error, method string, contract common.Address) *clierr.Error {
	if timeoutErr := asTimeout(err, "eth_call"); timeoutErr != nil {
		return timeoutErr.With("method", method).With("contract", contract.Hex())
	}
	if reason, ok := RevertReason(err); ok || isRevert(err) {
		wrapped := clierr.Wrap(clierr.CodeReverted, fmt.Sprintf("%s reverted", method), err).With("method", method).With("contract", contract.Hex())
		if reason != "" {
			wrapped.With("revert_reason", reason)
		}
		return wrapped
	}
	return clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("read %s", method), err).With("method", method).With("contract", contract.Hex())
}

func decodeOutput(contractABI abi.ABI, method string, contract common.Address, out []byte) ([]any, error) {
	if len(out) == 0 {
		return nil, clierr.New(clierr.CodeReverted, fmt.Sprintf("%s returned no data", method)).With("method", method).With("contract", contract.Hex())
	}
	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s response", method), err).With("method", method).With("contract", contract.Hex())
	}
	return values, nil
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
