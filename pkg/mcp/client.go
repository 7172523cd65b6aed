package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client implements a Model Context Protocol (MCP) client for tool-providing peers. It owns
// one transport, multiplexes any number of concurrent calls over it and correlates the
// responses by id, so callers may share a single Client freely.
//
// The session handshake runs lazily: the first operation starts the transport and performs
// initialize, and concurrent first callers wait for that single handshake. A failed handshake
// leaves the client uninitialized and the next operation tries again.
//
// Every error returned by an operation is a *Error whose cause is ErrTimeout, ErrClosed, a
// *JSONRPCError reported by the peer, or an error wrapping ErrTransport.
//
// The client should be closed using Close when it's no longer needed.
type Client struct {
	transport      ClientTransport
	info           Info
	requestTimeout time.Duration
	logger         *slog.Logger

	pending *pendingCalls

	initMu         sync.Mutex
	initialized    atomic.Bool
	sessionStarted bool
	serverInfo     Info
	serverVersion  string

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var (
	defaultClientInfo = Info{
		Name:    "linux-mcp-chatbot",
		Version: "1.0.0",
	}
	defaultRequestTimeout = 120 * time.Second
)

// WithClientInfo sets the client name and version sent during initialization.
func WithClientInfo(info Info) ClientOption {
	return func(c *Client) {
		c.info = info
	}
}

// WithRequestTimeout sets how long a call waits for its response before failing with
// ErrTimeout.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client over the given transport. Nothing is sent until the first
// operation, or until Connect is called.
func NewClient(transport ClientTransport, options ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		info:      defaultClientInfo,
		logger:    slog.Default(),
		pending:   newPendingCalls(),
		closed:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	c.logger = c.logger.With("conn", uuid.NewString())

	return c
}

// Connect starts the transport and performs the initialization handshake if that has not
// happened yet. Calling it is optional; ListTools and CallTool connect on first use.
func (c *Client) Connect(ctx context.Context) error {
	return c.ensureInitialized(ctx)
}

// ListTools retrieves the tools offered by the peer. Every call issues a fresh request.
//
// Peers that predate tools/list are asked once more with the legacy listTools method. The
// result may be a bare array or an object with a tools array; entries without a name are
// skipped.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	method := MethodToolsList
	res, err := c.call(ctx, method, struct{}{})
	if IsMethodNotFound(err) {
		c.logger.Info("peer does not know method, retrying with legacy name",
			"method", method, "fallback", MethodLegacyListTools)
		method = MethodLegacyListTools
		res, err = c.call(ctx, method, struct{}{})
	}
	if err != nil {
		return nil, &Error{Method: method, Err: err}
	}

	return c.decodeTools(res.Result), nil
}

// CallTool invokes the named tool and returns its textual output: the text content blocks of
// the result joined by newlines. A nil args map is sent as an empty object.
//
// A result the tool itself flagged as an error is still returned as text, because the
// message is meant for whoever asked for the call. Peers that predate tools/call are asked
// once more with the legacy callTool method.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return "", err
	}

	if args == nil {
		args = map[string]any{}
	}

	method := MethodToolsCall
	res, err := c.call(ctx, method, callToolParams{Name: name, Arguments: args})
	if IsMethodNotFound(err) {
		c.logger.Info("peer does not know method, retrying with legacy name",
			"method", method, "fallback", MethodLegacyCallTool)
		method = MethodLegacyCallTool
		res, err = c.call(ctx, method, legacyCallToolParams{Tool: name, Args: args})
	}
	if err != nil {
		return "", &Error{Method: method, Err: err}
	}

	return c.toolResultText(name, res.Result), nil
}

// ServerInfo returns the server's info as reported during initialization. It is empty until
// the handshake has completed.
func (c *Client) ServerInfo() Info {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	return c.serverInfo
}

// ServerProtocolVersion returns the protocol version the server answered with during
// initialization.
func (c *Client) ServerProtocolVersion() string {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	return c.serverVersion
}

// Close fails every pending call with ErrClosed and closes the transport. It is safe to call
// more than once; later calls return the result of the first.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.pending.failAll(ErrClosed)
		if err := c.transport.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close transport: %w", err)
		}
	})
	return c.closeErr
}

// HandleMessage implements the MessageHandler interface. Responses are routed to the waiting
// call by id; requests from the peer are answered; everything else is dropped.
func (c *Client) HandleMessage(msg JSONRPCMessage) {
	switch {
	case msg.IsResponse():
		if !c.pending.deliver(msg) {
			c.logger.Debug("dropping response without waiting call", "id", msg.ID)
		}
	case msg.IsRequest():
		// HTTP transports deliver inside Send, so the reply must not be sent from here.
		go c.handleServerRequest(msg)
	case msg.IsNotification():
		c.logger.Debug("ignoring notification", "method", msg.Method)
	default:
		c.logger.Debug("dropping message without id or method")
	}
}

// HandleError implements the MessageHandler interface. A terminal transport failure fails
// every pending call, and every later call fails fast with the same error.
func (c *Client) HandleError(err error) {
	if !errors.Is(err, ErrTransport) {
		err = transportError("receive", err)
	}
	c.logger.Error("transport failed", "err", err)
	c.pending.failAll(err)
}

func (c *Client) ensureInitialized(ctx context.Context) error {
	if c.initialized.Load() {
		return nil
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.initialized.Load() {
		return nil
	}
	if c.isClosed() {
		return &Error{Method: MethodInitialize, Err: ErrClosed}
	}

	if !c.sessionStarted {
		if err := c.transport.StartSession(ctx, c); err != nil {
			if !errors.Is(err, ErrTransport) {
				err = transportError("start session", err)
			}
			return &Error{Method: MethodInitialize, Err: err}
		}
		c.sessionStarted = true
	}

	res, err := c.call(ctx, MethodInitialize, initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      c.info,
	})
	if err != nil {
		c.logger.Warn("initialization failed", "err", err)
		return &Error{Method: MethodInitialize, Err: err}
	}

	var result initializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		c.logger.Debug("failed to unmarshal initialize result", "err", err)
	}
	if result.ProtocolVersion != "" && result.ProtocolVersion != ProtocolVersion {
		c.logger.Info("server answered with a different protocol version",
			"requested", ProtocolVersion, "server", result.ProtocolVersion)
	}

	if err := c.notify(ctx, MethodNotificationsInitialized); err != nil {
		return &Error{Method: MethodNotificationsInitialized, Err: err}
	}

	c.serverInfo = result.ServerInfo
	c.serverVersion = result.ProtocolVersion
	c.initialized.Store(true)

	c.logger.Info("MCP session initialized",
		"server", result.ServerInfo.Name, "version", result.ServerInfo.Version)

	return nil
}

// call sends one request and waits for its response. An error response is returned as a
// *JSONRPCError cause.
func (c *Client) call(ctx context.Context, method string, params any) (JSONRPCMessage, error) {
	if c.isClosed() {
		return JSONRPCMessage{}, ErrClosed
	}

	paramsBs, err := json.Marshal(params)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to marshal params: %w", err)
	}

	id, results, err := c.pending.register()
	if err != nil {
		return JSONRPCMessage{}, err
	}
	defer c.pending.forget(id)

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      NewRequestID(id),
		Method:  method,
		Params:  paramsBs,
	}

	// The deadline covers the send too, since HTTP transports wait for the reply inside it.
	tCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	c.logger.Debug("sending request", "id", id, "method", method)

	if err := c.transport.Send(tCtx, msg); err != nil {
		// The response may have been delivered before the send reported a failure.
		select {
		case res, ok := <-results:
			if ok {
				return c.resolve(res)
			}
		default:
		}

		if ctx.Err() != nil {
			return JSONRPCMessage{}, ctx.Err()
		}
		if errors.Is(tCtx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("request timed out", "id", id, "method", method)
			return JSONRPCMessage{}, ErrTimeout
		}
		if !errors.Is(err, ErrTransport) && !errors.Is(err, ErrClosed) {
			err = transportError("send", err)
		}
		return JSONRPCMessage{}, err
	}

	select {
	case res, ok := <-results:
		if !ok {
			return JSONRPCMessage{}, c.pending.failure()
		}
		return c.resolve(res)
	case <-tCtx.Done():
		if ctx.Err() != nil {
			return JSONRPCMessage{}, ctx.Err()
		}
		c.logger.Warn("request timed out", "id", id, "method", method)
		return JSONRPCMessage{}, ErrTimeout
	case <-c.closed:
		return JSONRPCMessage{}, ErrClosed
	}
}

func (c *Client) resolve(res JSONRPCMessage) (JSONRPCMessage, error) {
	if res.Error != nil {
		return res, res.Error
	}
	return res, nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	sCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	err := c.transport.Send(sCtx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	})
	if err != nil {
		if !errors.Is(err, ErrTransport) {
			err = transportError("send notification", err)
		}
		return err
	}
	return nil
}

// handleServerRequest answers a request initiated by the peer. Only ping is supported.
func (c *Client) handleServerRequest(msg JSONRPCMessage) {
	reply := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
	}
	if msg.Method == MethodPing {
		reply.Result = json.RawMessage("{}")
	} else {
		c.logger.Debug("rejecting unsupported request from peer", "method", msg.Method, "id", msg.ID)
		reply.Error = &JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: "Method not found",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	if err := c.transport.Send(ctx, reply); err != nil {
		c.logger.Error("failed to answer peer request", "method", msg.Method, "err", err)
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) decodeTools(raw json.RawMessage) []Tool {
	raw = bytes.TrimSpace(raw)
	tools := []Tool{}
	if len(raw) == 0 || string(raw) == "null" {
		return tools
	}

	var entries []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &entries); err != nil {
			c.logger.Warn("failed to unmarshal tool list", "err", err)
			return tools
		}
	case '{':
		var result listToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			c.logger.Warn("failed to unmarshal tool list", "err", err)
			return tools
		}
		entries = result.Tools
	default:
		c.logger.Warn("unexpected tool list shape", "result", truncateForLog(raw))
		return tools
	}

	for _, entry := range entries {
		var tool Tool
		if err := json.Unmarshal(entry, &tool); err != nil {
			c.logger.Debug("skipping malformed tool entry", "entry", truncateForLog(entry), "err", err)
			continue
		}
		if tool.Name == "" {
			c.logger.Debug("skipping tool entry without name", "entry", truncateForLog(entry))
			continue
		}
		tools = append(tools, tool)
	}
	return tools
}

func (c *Client) toolResultText(name string, raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '{':
		var result struct {
			Content json.RawMessage `json:"content"`
			IsError bool            `json:"isError"`
		}
		if err := json.Unmarshal(raw, &result); err != nil || result.Content == nil {
			return compactJSON(raw)
		}
		if result.IsError {
			c.logger.Warn("tool reported an error", "tool", name)
		}
		if text, ok := contentText(result.Content); ok {
			return text
		}
	}
	return compactJSON(raw)
}

// contentText joins the text blocks of a content array. A null content counts as empty; a
// content string is taken as is.
func contentText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '[':
		var blocks []json.RawMessage
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return "", false
		}
		texts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			var block Content
			if err := json.Unmarshal(b, &block); err != nil {
				continue
			}
			if block.Type == ContentTypeText {
				texts = append(texts, block.Text)
			}
		}
		return strings.Join(texts, "\n"), true
	default:
		return "", false
	}
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
