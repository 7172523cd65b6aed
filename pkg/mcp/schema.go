package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID is a JSON-RPC id exactly as it appeared on the wire. The client only issues
// integer ids, but ids of peer-initiated requests are echoed back untouched, which is why
// the raw form is kept instead of a decoded integer.
type RequestID []byte

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication in the MCP protocol.
// It can represent either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs
	ID RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
// It follows the standard error object format defined in the JSON-RPC 2.0 specification.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data any `json:"data,omitempty"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool describes a callable tool as returned by tools/list. InputSchema is the
// JSON-schema-like object describing the arguments accepted by CallTool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Content is one block of a tool result.
type Content struct {
	Type ContentType `json:"type"`

	// For ContentTypeText
	Text string `json:"text,omitempty"`

	// For ContentTypeImage or ContentTypeAudio
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ContentType represents the type of content in tool results.
type ContentType string

// CallToolResult represents the outcome of a tool invocation via tools/call.
// IsError indicates whether the tool failed, with details in Content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ClientCapabilities are advertised during initialization. The client implements none of
// the optional client features, so the object is always sent empty.
type ClientCapabilities struct{}

// ServerCapabilities is the part of the initialize result the client keeps.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability represents tools-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// legacyCallToolParams is the argument shape of the pre-1.0 "callTool" method.
type legacyCallToolParams struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type listToolsResult struct {
	Tools []json.RawMessage `json:"tools"`
}

// ContentType represents the type of content in tool results.
const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeResource ContentType = "resource"
)

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the MCP revision advertised during initialization.
	ProtocolVersion = "2024-11-05"

	// MethodInitialize starts the handshake.
	MethodInitialize = "initialize"
	// MethodNotificationsInitialized completes the handshake.
	MethodNotificationsInitialized = "notifications/initialized"
	// MethodPing is answered by both sides with an empty result.
	MethodPing = "ping"
	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	// MethodLegacyListTools is the tool listing method of older peers.
	MethodLegacyListTools = "listTools"
	// MethodLegacyCallTool is the tool invocation method of older peers.
	MethodLegacyCallTool = "callTool"

	jsonRPCMethodNotFoundCode = -32601
)

// NewRequestID returns the wire form of an integer request id.
func NewRequestID(n int64) RequestID {
	return RequestID(strconv.AppendInt(nil, n, 10))
}

// Int64 decodes the id as an integer. Numeric strings are accepted because some peers
// echo ids back as strings. It reports false for absent, null and non-numeric ids.
func (id RequestID) Int64() (int64, bool) {
	if len(id) == 0 {
		return 0, false
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(id))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}

	switch v := v.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// String returns the raw id text, used in logs.
func (id RequestID) String() string {
	return string(id)
}

// MarshalJSON implements json.Marshaler by writing the raw id verbatim.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return id, nil
}

// UnmarshalJSON implements json.Unmarshaler by keeping a copy of the raw id.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if id == nil {
		return fmt.Errorf("mcp: UnmarshalJSON on nil RequestID")
	}
	*id = append((*id)[0:0], data...)
	return nil
}

// IsResponse reports whether the message is a response: it carries an id and no method.
func (m JSONRPCMessage) IsResponse() bool {
	return m.hasID() && m.Method == ""
}

// IsRequest reports whether the message is a request from the peer.
func (m JSONRPCMessage) IsRequest() bool {
	return m.hasID() && m.Method != ""
}

// IsNotification reports whether the message is a notification from the peer.
func (m JSONRPCMessage) IsNotification() bool {
	return !m.hasID() && m.Method != ""
}

func (m JSONRPCMessage) hasID() bool {
	return len(m.ID) > 0 && string(m.ID) != "null"
}

func (j *JSONRPCError) Error() string {
	if j.Data == nil {
		return fmt.Sprintf("request error, code: %d, message: %s", j.Code, j.Message)
	}
	return fmt.Sprintf("request error, code: %d, message: %s, data: %v", j.Code, j.Message, j.Data)
}

// IsMethodNotFound reports whether the peer rejected the method name itself.
func (j *JSONRPCError) IsMethodNotFound() bool {
	return j != nil && j.Code == jsonRPCMethodNotFoundCode
}
