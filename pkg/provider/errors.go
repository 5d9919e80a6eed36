package provider

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 and JSON-RPC error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeChainDisconnected = 4901
	CodeUnrecognizedChain = 4902
	CodeMethodNotFound    = -32601
	CodeInvalidParams     = -32602
)

// RequestError is a provider error carrying an RPC error code.
type RequestError struct {
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// ErrorCode implements rpc.Error.
func (e *RequestError) ErrorCode() int { return e.Code }

var _ rpc.Error = (*RequestError)(nil)

// ErrorCode extracts the RPC error code from err, if it carries one.
func ErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// IsMethodUnsupported reports whether err says the method does not exist.
func IsMethodUnsupported(err error) bool {
	code, ok := ErrorCode(err)
	return ok && (code == CodeMethodNotFound || code == CodeUnsupportedMethod)
}
