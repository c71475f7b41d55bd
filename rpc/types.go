package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

// ID is a JSON-RPC request id. It is kept raw so that string, number and
// null ids round-trip unchanged.
type ID = json.RawMessage

// Request is a single JSON-RPC 2.0 request together with the routing
// metadata the engine attaches before any method middleware runs. The
// attached fields are never populated by the caller; the origin-attach
// stage owns them.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`

	// Routing metadata, attached by the engine.
	Origin          string `json:"-"`
	MainFrameOrigin string `json:"-"`
	TabID           int    `json:"-"`
	NetworkClientID string `json:"-"`
}

// Response is a single JSON-RPC 2.0 response. Exactly one of Result and
// Error is set on a terminal response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a server-initiated message with no id, used for
// subscription payloads and chain/account change events.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// must not receive a response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// UnmarshalParams decodes the request params into out.
func (r *Request) UnmarshalParams(out interface{}) error {
	if len(r.Params) == 0 {
		return ErrInvalidParams("missing params")
	}
	if err := json.Unmarshal(r.Params, out); err != nil {
		return ErrInvalidParams(err.Error())
	}
	return nil
}

// NewResultResponse builds a success response for the given request,
// marshalling result into the envelope.
func NewResultResponse(id ID, result interface{}) *Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, ErrInternal(fmt.Sprintf("marshal result: %v", err)))
	}
	return &Response{JSONRPC: Version, ID: id, Result: data}
}

// NewErrorResponse builds an error response, coercing non-rpc errors into
// an internal error so the wire never carries an untyped failure.
func NewErrorResponse(id ID, err error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: CoerceError(err)}
}

// NewNotification builds a server-initiated notification envelope.
func NewNotification(method string, params interface{}) *Notification {
	return &Notification{JSONRPC: Version, Method: method, Params: params}
}
