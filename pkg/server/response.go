package server

import (
	"errors"
	"net/http"
	"time"

	"walletdash/pkg/wallet"

	"github.com/gin-gonic/gin"
)

// SuccessResponse is the envelope of every successful API response.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the envelope of every failed API response.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Codes for failures that do not come from the wallet manager.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeNotFound   = "NOT_FOUND"
	CodeUpstream   = "UPSTREAM_ERROR"
	CodeInternal   = "INTERNAL"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   message,
		RequestID: requestID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// respondWalletError maps a wallet failure to its HTTP status. Errors that are
// not wallet errors become 500.
func respondWalletError(c *gin.Context, err error) {
	var we *wallet.Error
	if !errors.As(err, &we) {
		respondError(c, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	respondError(c, StatusForCode(we.Code), string(we.Code), we.Error())
}

// StatusForCode returns the HTTP status used for a wallet error code.
func StatusForCode(code wallet.Code) int {
	switch code {
	case wallet.CodeNotConnected, wallet.CodeBusy:
		return http.StatusConflict
	case wallet.CodeUserRejected:
		return http.StatusForbidden
	case wallet.CodeUnrecognizedChain, wallet.CodeNoAccounts, wallet.CodeInvalidChain:
		return http.StatusBadRequest
	case wallet.CodeCanceled:
		return http.StatusRequestTimeout
	case wallet.CodeTimeout:
		return http.StatusGatewayTimeout
	case wallet.CodeNoProvider:
		return http.StatusServiceUnavailable
	case wallet.CodeUnsupportedMethod:
		return http.StatusNotImplemented
	case wallet.CodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
