// Package mcptest provides a scriptable fake MCP peer for tests. A Peer answers JSON-RPC
// requests from registered handlers and can be served over a reader and writer pair, as a
// child process would, or over streamable HTTP with plain JSON or Server-Sent Events answers.
//
// The package deliberately works on its own wire type, so it can drive any client,
// including one under test in package mcp.
package mcptest

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Message is a JSON-RPC 2.0 envelope as seen by the fake peer. ID is kept raw so tests can
// inspect exactly what the client sent.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HandlerFunc answers one request. A non-nil error is sent as the JSON-RPC error of the
// response; otherwise result is marshaled as its result. A json.RawMessage result is sent
// verbatim.
type HandlerFunc func(req Message) (result any, err *Error)

// CodeMethodNotFound is the JSON-RPC error code for an unknown method.
const CodeMethodNotFound = -32601

// Peer is a fake MCP server. The zero value is not usable; create peers with NewPeer.
type Peer struct {
	// Banner lines are written to stdio clients before anything else, like the log output
	// real servers print on startup.
	Banner []string

	// Noise, when set, is written to stdio clients as a separate line before every
	// response.
	Noise string

	// StringIDs makes responses carry the request id as a JSON string.
	StringIDs bool

	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	received []Message
}

// NewPeer returns a peer that completes the initialize handshake and answers ping. All other
// requests fail with "method not found" until a handler is registered.
func NewPeer() *Peer {
	p := &Peer{
		logger:   slog.Default(),
		handlers: make(map[string]HandlerFunc),
	}
	p.Handle("initialize", Result(map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": "mcptest", "version": "0.0.1"},
	}))
	p.Handle("ping", Result(map[string]any{}))
	return p
}

// Handle registers h for method, replacing any previous handler.
func (p *Peer) Handle(method string, h HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlers[method] = h
}

// Unhandle removes the handler for method, so that it fails with "method not found".
func (p *Peer) Unhandle(method string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.handlers, method)
}

// Result returns a handler that always answers with v.
func Result(v any) HandlerFunc {
	return func(Message) (any, *Error) {
		return v, nil
	}
}

// Fail returns a handler that always answers with the given JSON-RPC error.
func Fail(code int, message string) HandlerFunc {
	return func(Message) (any, *Error) {
		return nil, &Error{Code: code, Message: message}
	}
}

// Tools returns a handler for tools/list that answers with the given tools wrapped in a
// "tools" object.
func Tools(tools ...map[string]any) HandlerFunc {
	if tools == nil {
		tools = []map[string]any{}
	}
	return Result(map[string]any{"tools": tools})
}

// Text returns a handler for tools/call that answers with the given text blocks.
func Text(texts ...string) HandlerFunc {
	content := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	return Result(map[string]any{"content": content})
}

// Received returns every message the peer received for method, in arrival order. An empty
// method returns all messages.
func (p *Peer) Received(method string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var msgs []Message
	for _, msg := range p.received {
		if method == "" || msg.Method == method {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// Count returns how many messages the peer received for method.
func (p *Peer) Count(method string) int {
	return len(p.Received(method))
}

// Respond records msg and computes the answer to it. It reports false for notifications and
// responses, which are never answered.
func (p *Peer) Respond(msg Message) (Message, bool) {
	p.record(msg)
	return p.answer(msg)
}

func (p *Peer) record(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.received = append(p.received, msg)
}

func (p *Peer) answer(msg Message) (Message, bool) {
	if msg.Method == "" || len(msg.ID) == 0 || string(msg.ID) == "null" {
		return Message{}, false
	}

	p.mu.Lock()
	h, ok := p.handlers[msg.Method]
	p.mu.Unlock()

	res := Message{
		JSONRPC: "2.0",
		ID:      p.responseID(msg.ID),
	}
	if !ok {
		res.Error = &Error{Code: CodeMethodNotFound, Message: "Method not found"}
		return res, true
	}

	result, rpcErr := h(msg)
	if rpcErr != nil {
		res.Error = rpcErr
		return res, true
	}

	switch v := result.(type) {
	case json.RawMessage:
		res.Result = v
	default:
		bs, err := json.Marshal(v)
		if err != nil {
			p.logger.Error("failed to marshal result", "method", msg.Method, "err", err)
			res.Error = &Error{Code: -32603, Message: err.Error()}
			return res, true
		}
		res.Result = bs
	}
	return res, true
}

func (p *Peer) responseID(id json.RawMessage) json.RawMessage {
	if !p.StringIDs || len(id) == 0 || id[0] == '"' {
		return id
	}
	bs, _ := json.Marshal(string(id))
	return bs
}
