package home

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// JSON-RPC 2.0 error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

var (
	ErrInvalidParams = errors.New("invalid params")
	ErrNotFound      = errors.New("not found")
)

// Request is a JSON-RPC request, ID is absent for notifications
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Params are the positional parameters of a call. Named parameters arrive
// as a single object element.
type Params []json.RawMessage

// Bind decodes the parameters into dst in order. Missing trailing
// parameters leave their destination untouched.
func (p Params) Bind(dst ...any) error {
	if len(p) > len(dst) {
		return fmt.Errorf("%w: expected at most %d, got %d", ErrInvalidParams, len(dst), len(p))
	}
	for i, raw := range p {
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return fmt.Errorf("%w: parameter %d: %v", ErrInvalidParams, i, err)
		}
	}
	return nil
}

// HandlerFunc serves one RPC method
type HandlerFunc func(ctx context.Context, params Params) (any, error)

// Dispatcher routes calls to handlers registered as namespace.method
type Dispatcher struct {
	methods map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{methods: make(map[string]HandlerFunc)}
}

// Register adds the methods of a namespace
func (d *Dispatcher) Register(namespace string, methods map[string]HandlerFunc) {
	for name, h := range methods {
		d.methods[namespace+"."+name] = h
	}
}

// Methods lists the registered method names, sorted
func (d *Dispatcher) Methods() []string {
	return slices.Sorted(maps.Keys(d.methods))
}

// Handle serves a raw message holding a request or a batch. It returns nil
// when nothing has to be sent back (notifications only).
func (d *Dispatcher) Handle(ctx context.Context, data []byte) []byte {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(data, &batch); err != nil {
			return mustMarshal(errorResponse(nil, CodeParseError, "parse error"))
		}
		if len(batch) == 0 {
			return mustMarshal(errorResponse(nil, CodeInvalidRequest, "invalid request"))
		}
		var out []*Response
		for _, item := range batch {
			if resp := d.handleOne(ctx, item); resp != nil {
				out = append(out, resp)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return mustMarshal(out)
	}

	resp := d.handleOne(ctx, data)
	if resp == nil {
		return nil
	}
	return mustMarshal(resp)
}

func (d *Dispatcher) handleOne(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return errorResponse(nil, CodeParseError, "parse error")
		}
		return errorResponse(nil, CodeInvalidRequest, "invalid request")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}

	result, rpcErr := d.call(ctx, req)
	if req.ID == nil {
		return nil
	}
	if rpcErr != nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, CodeServerError, err.Error())
	}
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: raw}
}

func (d *Dispatcher) call(ctx context.Context, req Request) (any, *Error) {
	h, ok := d.methods[req.Method]
	if !ok {
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found", Data: req.Method}
	}

	params, err := decodeParams(req.Params)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	result, err := h(ctx, params)
	switch {
	case errors.Is(err, ErrInvalidParams):
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	case err != nil:
		return nil, &Error{Code: CodeServerError, Message: err.Error()}
	}
	return result, nil
}

func decodeParams(raw json.RawMessage) (Params, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var p Params
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return p, nil
	case '{':
		return Params{raw}, nil
	default:
		return nil, fmt.Errorf("%w: params must be an array or an object", ErrInvalidParams)
	}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(errorResponse(nil, CodeServerError, err.Error()))
	}
	return b
}
