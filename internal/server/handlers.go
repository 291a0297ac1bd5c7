package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/execution/planner"
	"github.com/ggonzalez94/amm-swap/internal/id"
	"github.com/ggonzalez94/amm-swap/internal/model"
	"github.com/ggonzalez94/amm-swap/internal/swap"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 64 << 10

type quoteRequest struct {
	AmountIn *decimal.Decimal `json:"amount_in"`
	Fee      *int64           `json:"fee"`
}

type approveRequest struct {
	PrivateKey     string           `json:"private_key"`
	AccountAddress string           `json:"account_address"`
	Amount         *decimal.Decimal `json:"amount"`
}

type swapRequest struct {
	PrivateKey       string           `json:"private_key"`
	AccountAddress   string           `json:"account_address"`
	AmountIn         *decimal.Decimal `json:"amount_in"`
	AmountOutMinimum *decimal.Decimal `json:"amount_out_minimum"`
	AmountOutMin     *decimal.Decimal `json:"amount_out_min"`
	Fee              *int64           `json:"fee"`
	RouterVariant    string           `json:"router_variant"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "ammswap"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.probe == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	chainID, err := s.probe.ChainID(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("readiness probe failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "chain_id": chainID.Int64()})
}

func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.TokenInfo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewTokenInfoResponse(info))
}

func (s *Server) handlePoolInfo(w http.ResponseWriter, r *http.Request) {
	pools, err := s.svc.PoolInfo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewPoolInfoResponse(pools, s.svc.Pair(), s.svc.Config().DEX))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amountIn, err := requireAmount(req.AmountIn, "amount_in")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fee, err := optionalFee(req.Fee)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Quote(r.Context(), swap.QuoteInput{AmountIn: amountIn, Fee: fee})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg := s.svc.Config()
	writeJSON(w, http.StatusOK, model.NewQuoteResponse(res, cfg.TokenIn, cfg.TokenOut, cfg.DEX))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := requireAmount(req.Amount, "amount")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireAccount(req.AccountAddress); err != nil {
		s.writeError(w, r, err)
		return
	}
	txSigner, err := swap.KeySigner(req.PrivateKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Approve(r.Context(), swap.ApproveInput{
		Signer:  txSigner,
		Account: req.AccountAddress,
		Amount:  amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewApproveResponse(res, s.svc.Config().DEX))
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amountIn, err := requireAmount(req.AmountIn, "amount_in")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	minOut := req.AmountOutMinimum
	if minOut == nil {
		minOut = req.AmountOutMin
	}
	if minOut == nil {
		s.writeError(w, r, clierr.New(clierr.CodeUsage, "amount_out_minimum is required").With("field", "amount_out_minimum"))
		return
	}
	fee, err := optionalFee(req.Fee)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	variant, err := planner.ParseRouterVariant(req.RouterVariant)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := requireAccount(req.AccountAddress); err != nil {
		s.writeError(w, r, err)
		return
	}
	txSigner, err := swap.KeySigner(req.PrivateKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.ExecuteSwap(r.Context(), swap.SwapInput{
		Signer:           txSigner,
		Account:          req.AccountAddress,
		AmountIn:         amountIn,
		AmountOutMinimum: *minOut,
		Fee:              fee,
		Variant:          variant,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewSwapResponse(res, s.svc.Config().DEX))
}

func requireAccount(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return clierr.New(clierr.CodeUsage, "account_address is required").With("field", "account_address")
	}
	return nil
}

// decodeBody reads a JSON object. An empty body decodes as {} so that
// field validation reports what is missing.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return clierr.Wrap(clierr.CodeUsage, "request body must be a JSON object", err)
	}
	return nil
}

func requireAmount(v *decimal.Decimal, field string) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, clierr.New(clierr.CodeUsage, field+" is required").With("field", field)
	}
	if !v.IsPositive() {
		return decimal.Zero, clierr.New(clierr.CodeUsage, field+" must be greater than zero").With("field", field)
	}
	return *v, nil
}

func optionalFee(v *int64) (id.FeeTier, error) {
	if v == nil {
		return 0, nil
	}
	fee, err := id.ParseFeeTier(*v)
	if err != nil {
		if typed, ok := clierr.As(err); ok {
			typed.With("field", "fee")
		}
		return 0, err
	}
	return fee, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(body)
}
