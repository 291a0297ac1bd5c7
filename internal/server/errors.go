package server

import (
	"errors"
	"net/http"

	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/model"
	"github.com/ggonzalez94/amm-swap/internal/quote"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := clierr.HTTPStatus(err)
	code := clierr.CodeOf(err)

	body := model.ErrorResponse{
		Error:   err.Error(),
		Type:    clierr.TypeName(code),
		Details: errorDetails(err),
	}

	var noLiq *quote.NoLiquidityError
	if errors.As(err, &noLiq) {
		details, tiers := model.NoLiquidityDetails(noLiq, s.svc.Pair())
		body.Error = model.NoLiquidityMessage
		body.Suggestion = model.NoLiquiditySuggestion
		body.AttemptedTiers = tiers
		body.Details = mergeDetails(body.Details, details)
	}

	event := s.log.Warn()
	if status >= http.StatusInternalServerError {
		event = s.log.Error()
	}
	event.
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("path", r.URL.Path).
		Str("type", body.Type).
		Err(err).
		Msg("request failed")

	writeJSON(w, status, body)
}

// errorDetails merges the details of every typed error in the chain, the
// outermost value winning on key collisions.
func errorDetails(err error) map[string]any {
	var out map[string]any
	for e := err; e != nil; e = errors.Unwrap(e) {
		typed, ok := e.(*clierr.Error)
		if !ok {
			continue
		}
		for k, v := range typed.Details {
			if out == nil {
				out = map[string]any{}
			}
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out
}

func mergeDetails(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if _, seen := dst[k]; !seen {
			dst[k] = v
		}
	}
	return dst
}
