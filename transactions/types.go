package transactions

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrInvalidSendTxArgs is returned when the structure of SendTxArgs is ambiguous.
	ErrInvalidSendTxArgs = errors.New("transaction arguments are invalid (are both 'input' and 'data' fields used?)")
	// ErrUnexpectedArgs returned when args are of unexpected length.
	ErrUnexpectedArgs = errors.New("unexpected args")
)

// SendTxArgs represents the arguments to submit a new transaction.
// This struct is based on go-ethereum's type in internal/ethapi/api.go, but
// we have freedom over the exact layout of this struct.
type SendTxArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to"`
	Gas                  *hexutil.Uint64 `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                *hexutil.Uint64 `json:"nonce"`
	// We keep both "input" and "data" for backward compatibility.
	// "input" is a preferred field.
	Input hexutil.Bytes `json:"input,omitempty"`
	Data  hexutil.Bytes `json:"data,omitempty"`
}

// Valid checks whether this structure is filled in correctly.
func (args SendTxArgs) Valid() bool {
	// if at least one of the fields is empty, it is a valid struct
	if isNilOrEmpty(args.Input) || isNilOrEmpty(args.Data) {
		return true
	}

	// we only allow both fields to present if they have the same data
	return bytes.Equal(args.Input, args.Data)
}

// IsDynamicFeeTx checks whether dynamic fee parameters are set.
func (args SendTxArgs) IsDynamicFeeTx() bool {
	return args.MaxFeePerGas != nil && args.MaxPriorityFeePerGas != nil
}

// GetInput returns either Input or Data field's value dependent on what is filled.
func (args SendTxArgs) GetInput() hexutil.Bytes {
	if !isNilOrEmpty(args.Input) {
		return args.Input
	}
	return args.Data
}

func isNilOrEmpty(data hexutil.Bytes) bool {
	return len(data) == 0
}

// RPCCallToSendTxArgs creates SendTxArgs from the params of an
// eth_sendTransaction call.
func RPCCallToSendTxArgs(params json.RawMessage) (SendTxArgs, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(params, &list); err != nil {
		return SendTxArgs{}, err
	}
	if len(list) != 1 {
		return SendTxArgs{}, ErrUnexpectedArgs
	}
	var args SendTxArgs
	if err := json.Unmarshal(list[0], &args); err != nil {
		return SendTxArgs{}, err
	}
	if !args.Valid() {
		return SendTxArgs{}, ErrInvalidSendTxArgs
	}
	return args, nil
}

// NormalizeHexValue coerces a numeric value into a hex-prefixed string.
// The user-operation controller rejects unprefixed quantity fields even
// when the digits are valid hex, so callers passing "123" get "0x123".
func NormalizeHexValue(value string) string {
	if value == "" {
		return value
	}
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return value
	}
	return "0x" + value
}
