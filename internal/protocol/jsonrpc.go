// Package protocol implements the JSON-RPC 2.0 wire surface: request and
// response envelopes, the closed method enum, and the standard error codes.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/agentmesh-ai/meshd/internal/errors"
)

// Version is the only JSON-RPC version accepted on the wire.
const Version = "2.0"

// JSON-RPC 2.0 standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var errorMessages = map[int]string{
	CodeParseError:     "Parse error",
	CodeInvalidRequest: "Invalid Request",
	CodeMethodNotFound: "Method not found",
	CodeInvalidParams:  "Invalid params",
	CodeInternalError:  "Internal error",
}

// Request is an incoming JSON-RPC 2.0 request envelope.
// ID is retained raw so string and numeric ids round-trip unchanged.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outgoing JSON-RPC 2.0 response envelope.
// Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object carried in failed responses.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Notification is a server-to-client push message. It carries no id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a push message for the given canonical method name.
func NewNotification(method string, params any) Notification {
	return Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
}

// NewResponse builds a success response echoing the request id.
func NewResponse(id json.RawMessage, result any) Response {
	return Response{
		JSONRPC: Version,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse builds an error response echoing the request id.
// An empty message falls back to the standard text for the code.
func NewErrorResponse(id json.RawMessage, code int, message string, data any) Response {
	if message == "" {
		message = errorMessages[code]
	}
	if id == nil {
		id = json.RawMessage("null")
	}
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// ParseRequest decodes and validates a single request envelope from r.
//
// An unparsable body returns errors.ErrParse. A body that parses but is
// missing jsonrpc, id or method, or carries the wrong version, returns
// errors.ErrInvalidRequest; per the protocol such failures are answered with
// a null id because the request id cannot be trusted.
func ParseRequest(r io.Reader) (*Request, error) {
	var req Request
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrParse, err)
	}

	if req.JSONRPC != Version {
		return nil, fmt.Errorf("%w: jsonrpc version must be %q", errors.ErrInvalidRequest, Version)
	}
	if err := validateID(req.ID); err != nil {
		return nil, err
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: missing method", errors.ErrInvalidRequest)
	}

	return &req, nil
}

// validateID requires a present id that is a JSON string or number.
func validateID(id json.RawMessage) error {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: missing id", errors.ErrInvalidRequest)
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("%w: malformed id", errors.ErrInvalidRequest)
		}
	case '{', '[', 't', 'f':
		return fmt.Errorf("%w: id must be a string or number", errors.ErrInvalidRequest)
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("%w: id must be a string or number", errors.ErrInvalidRequest)
		}
	}

	return nil
}
