package rpc

import (
	"errors"
	"fmt"
)

// JSON-RPC 2.0 and EIP-1193 provider error codes. The numeric values are a
// wire contract; clients switch on them.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeLimitExceeded  = -32005
	CodeUserRejected   = 4001
	CodeUnauthorized   = 4100
	CodeUnsupported    = 4200
	CodeDisconnected   = 4900
	CodeChainNotAdded  = 4902
	CodeResourceBusy   = -32002
)

// Error is a JSON-RPC error object with a stable code.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func ErrMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("the method %s does not exist/is not available", method)}
}

func ErrInvalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

func ErrInternal(msg string) *Error {
	return &Error{Code: CodeInternalError, Message: msg}
}

func ErrUserRejected() *Error {
	return &Error{Code: CodeUserRejected, Message: "user rejected the request"}
}

func ErrUnauthorized(origin string) *Error {
	return &Error{Code: CodeUnauthorized, Message: fmt.Sprintf("the requested method and/or account has not been authorized for %s", origin)}
}

func ErrUnsupportedMethod(method string) *Error {
	return &Error{Code: CodeUnsupported, Message: fmt.Sprintf("the method %s is not supported", method)}
}

func ErrLimitExceeded(origin string) *Error {
	return &Error{Code: CodeLimitExceeded, Message: fmt.Sprintf("request rate for %s exceeded the limit", origin)}
}

func ErrChainNotAdded(chainID uint64) *Error {
	return &Error{Code: CodeChainNotAdded, Message: fmt.Sprintf("chain %d has not been added to the wallet", chainID), Data: chainID}
}

// CoerceError maps an arbitrary error onto the wire error model. Typed
// errors pass through untouched; anything else becomes an internal error
// so callers never see Go error strings as protocol semantics.
func CoerceError(err error) *Error {
	if err == nil {
		return ErrInternal("missing error")
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}
