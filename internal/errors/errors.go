package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error type mapped to process exit codes
// and HTTP statuses.
type Code int

const (
	CodeSuccess        Code = 0
	CodeInternal       Code = 1
	CodeUsage          Code = 2
	CodeUnavailable    Code = 12
	CodeUnsupported    Code = 13
	CodeNoLiquidity    Code = 20
	CodeSigner         Code = 21
	CodeRouterMismatch Code = 22
	CodeBroadcast      Code = 23
	CodeActionTimeout  Code = 24
	CodeReverted       Code = 25
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// With attaches a structured detail and returns the receiver.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

type coder interface {
	ErrorCode() Code
}

// CodeOf returns the code of the first typed error in the chain.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}

// HTTPStatus maps business and validation failures to 400, everything else to 500.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeSuccess:
		return http.StatusOK
	case CodeUsage, CodeNoLiquidity:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "validation_error"
	case CodeUnavailable:
		return "connectivity_error"
	case CodeUnsupported:
		return "unsupported"
	case CodeNoLiquidity:
		return "no_liquidity"
	case CodeSigner:
		return "signing_format_error"
	case CodeRouterMismatch:
		return "router_variant_mismatch"
	case CodeBroadcast:
		return "broadcast_error"
	case CodeActionTimeout:
		return "action_timeout"
	case CodeReverted:
		return "transaction_reverted"
	default:
		return "internal_error"
	}
}
