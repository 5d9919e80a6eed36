package wallet

import (
	"context"
	"errors"
	"fmt"

	"walletdash/pkg/provider"
)

// Code classifies a wallet failure for callers and API clients.
type Code string

const (
	CodeUserRejected      Code = "USER_REJECTED"
	CodeUnsupportedMethod Code = "UNSUPPORTED_METHOD"
	CodeUnrecognizedChain Code = "UNRECOGNIZED_CHAIN"
	CodeTimeout           Code = "TIMEOUT"
	CodeBusy              Code = "BUSY"
	CodeNotConnected      Code = "NOT_CONNECTED"
	CodeNoProvider        Code = "NO_PROVIDER"
	CodeNoAccounts        Code = "NO_ACCOUNTS"
	CodeInvalidChain      Code = "INVALID_CHAIN"
	CodeCanceled          Code = "CANCELED"
	CodeProviderError     Code = "PROVIDER_ERROR"
)

var (
	ErrNotConnected        = errors.New("wallet not connected")
	ErrBusy                = errors.New("another wallet operation is in progress")
	ErrProviderUnavailable = errors.New("no wallet provider available")
	ErrNoAccounts          = errors.New("wallet returned no accounts")
	ErrInvalidChainID      = errors.New("chain id must be positive")
)

// Error is the error type returned by Manager operations.
type Error struct {
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("wallet %s failed [%s]: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the classification of err, or "" when err is not a wallet
// error.
func CodeOf(err error) Code {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Code: classify(err), Err: err}
}

func classify(err error) Code {
	switch {
	case errors.Is(err, ErrBusy):
		return CodeBusy
	case errors.Is(err, ErrNotConnected):
		return CodeNotConnected
	case errors.Is(err, ErrProviderUnavailable):
		return CodeNoProvider
	case errors.Is(err, ErrNoAccounts):
		return CodeNoAccounts
	case errors.Is(err, ErrInvalidChainID):
		return CodeInvalidChain
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	}

	if code, ok := provider.ErrorCode(err); ok {
		switch code {
		case provider.CodeUserRejected:
			return CodeUserRejected
		case provider.CodeUnsupportedMethod, provider.CodeMethodNotFound:
			return CodeUnsupportedMethod
		case provider.CodeUnrecognizedChain:
			return CodeUnrecognizedChain
		}
	}
	return CodeProviderError
}
