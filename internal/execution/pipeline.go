// Package execution signs and broadcasts planned contract calls.
package execution

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/execution/planner"
	"github.com/ggonzalez94/amm-swap/internal/execution/signer"
	"github.com/ggonzalez94/amm-swap/internal/metrics"
	"github.com/rs/zerolog"
)

// Gateway is the chain access the pipeline needs.
type Gateway interface {
	ChainID(ctx context.Context) (*big.Int, error)
	NonceOf(ctx context.Context, account common.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Guard rejects calls that must not be signed.
type Guard interface {
	Verify(call planner.Call) error
}

type State string

const (
	StatePrepared      State = "prepared"
	StateNonceAcquired State = "nonce_acquired"
	StatePriced        State = "priced"
	StateSigned        State = "signed"
	StateBroadcast     State = "broadcast"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

type TxRequest struct {
	Signer   signer.Signer
	From     common.Address
	Call     planner.Call
	GasLimit uint64
}

// Outcome is the terminal result of one submission. On failure State is
// StateFailed and FailedAt names the last state reached.
type Outcome struct {
	TxHash   common.Hash
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	State    State
	FailedAt State
}

type Pipeline struct {
	gateway Gateway
	guard   Guard
	chainID int64
	log     zerolog.Logger
}

func NewPipeline(gateway Gateway, guard Guard, chainID int64, log zerolog.Logger) *Pipeline {
	return &Pipeline{gateway: gateway, guard: guard, chainID: chainID, log: log}
}

// Submit runs one call through nonce, pricing, signing and broadcast. The
// per-account nonce lock is held from the nonce fetch until the broadcast
// returns.
func (p *Pipeline) Submit(ctx context.Context, req TxRequest) (out Outcome, err error) {
	out.State = StatePrepared
	kind := string(req.Call.Kind)
	defer func() {
		if err != nil {
			out.FailedAt = out.State
			out.State = StateFailed
			p.log.Warn().Str("kind", kind).Str("from", req.From.Hex()).Str("failed_at", string(out.FailedAt)).Err(err).Msg("transaction submission failed")
		}
		metrics.TxSubmissions.WithLabelValues(kind, string(out.State)).Inc()
	}()

	if req.Signer == nil {
		return out, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if req.From == (common.Address{}) {
		return out, clierr.New(clierr.CodeUsage, "sender address is required").With("field", "account_address")
	}
	if req.Signer.Address() != req.From {
		return out, clierr.New(clierr.CodeUsage, "account_address does not match the signing key").With("field", "account_address")
	}
	if req.GasLimit == 0 {
		return out, clierr.New(clierr.CodeInternal, "gas limit must be greater than zero")
	}
	if p.guard != nil {
		if err := p.guard.Verify(req.Call); err != nil {
			return out, err
		}
	}
	chainID, err := p.gateway.ChainID(ctx)
	if err != nil {
		return out, err
	}
	if p.chainID != 0 && chainID.Int64() != p.chainID {
		return out, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("rpc reports chain id %d, expected %d", chainID.Int64(), p.chainID))
	}

	unlock := acquireSignerNonceLock(chainID, req.From)
	defer unlock()

	nonce, err := p.gateway.NonceOf(ctx, req.From)
	if err != nil {
		return out, err
	}
	out.Nonce = nonce
	out.State = StateNonceAcquired

	gasPrice, err := p.gateway.GasPrice(ctx)
	if err != nil {
		return out, err
	}
	out.GasPrice = gasPrice
	out.GasLimit = req.GasLimit
	out.State = StatePriced

	value := req.Call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	target := req.Call.Target
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      req.GasLimit,
		To:       &target,
		Value:    value,
		Data:     req.Call.Data,
	})
	signed, err := req.Signer.SignTx(chainID, tx)
	if err != nil {
		return out, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := checkSigned(chainID, tx, signed, req.From); err != nil {
		return out, err
	}
	out.State = StateSigned

	hash, err := p.gateway.Broadcast(ctx, signed)
	if err != nil {
		return out, err
	}
	out.TxHash = hash
	out.State = StateBroadcast

	p.log.Info().
		Str("kind", kind).
		Str("from", req.From.Hex()).
		Str("to", target.Hex()).
		Uint64("nonce", nonce).
		Str("gas_price", gasPrice.String()).
		Str("tx_hash", hash.Hex()).
		Msg("transaction submitted")
	out.State = StateDone
	return out, nil
}

// checkSigned rejects signer output that is unsigned, signed by another
// account or no longer the transaction that was handed to the signer.
func checkSigned(chainID *big.Int, unsigned, signed *types.Transaction, from common.Address) error {
	if signed == nil {
		return clierr.New(clierr.CodeSigner, "signer returned no transaction")
	}
	_, r, s := signed.RawSignatureValues()
	if r == nil || s == nil || r.Sign() == 0 || s.Sign() == 0 {
		return clierr.New(clierr.CodeSigner, "signer returned a transaction without a signature")
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		return clierr.Wrap(clierr.CodeSigner, "signed transaction has an invalid signature", err)
	}
	if sender != from {
		return clierr.New(clierr.CodeSigner, "signed transaction sender does not match account").With("recovered", sender.Hex())
	}
	if signed.Nonce() != unsigned.Nonce() || signed.Gas() != unsigned.Gas() ||
		signed.GasPrice().Cmp(unsigned.GasPrice()) != 0 || signed.To() == nil || *signed.To() != *unsigned.To() ||
		!bytes.Equal(signed.Data(), unsigned.Data()) || signed.Value().Cmp(unsigned.Value()) != 0 {
		return clierr.New(clierr.CodeSigner, "signer altered the transaction")
	}
	return nil
}

// WaitReceipt polls until hash is mined. A reverted receipt is an error.
// Transient polling failures are retried until timeout.
func (p *Pipeline) WaitReceipt(ctx context.Context, hash common.Hash, poll, timeout time.Duration) (*types.Receipt, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		receipt, err := p.gateway.Receipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return receipt, clierr.New(clierr.CodeReverted, "transaction reverted on-chain").With("tx_hash", hash.Hex())
		}
		if err != nil {
			p.log.Debug().Str("tx_hash", hash.Hex()).Err(err).Msg("receipt poll failed")
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeActionTimeout, "timed out waiting for receipt", waitCtx.Err()).With("tx_hash", hash.Hex())
		case <-ticker.C:
		}
	}
}
