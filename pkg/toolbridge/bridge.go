// Package toolbridge turns the tools of an MCP peer into plain functions that take an argument
// map and always return text, the shape a chat agent expects from its tools.
package toolbridge

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/mcp"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultMaxOutputChars is the default limit on the characters of tool output returned to
// the agent.
const DefaultMaxOutputChars = 8000

// Caller is the part of *mcp.Client the bridge uses.
type Caller interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Bridge wraps a Caller. Create bridges with New.
type Bridge struct {
	caller         Caller
	maxOutputChars int
	logger         *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// Tool is a peer tool bound to a Bridge.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any

	bridge *Bridge
	schema *gojsonschema.Schema
}

// WithMaxOutputChars sets the output limit. Zero or a negative value disables truncation.
func WithMaxOutputChars(n int) Option {
	return func(b *Bridge) {
		b.maxOutputChars = n
	}
}

// WithLogger sets the logger of the bridge.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// New creates a Bridge over caller.
func New(caller Caller, options ...Option) *Bridge {
	b := &Bridge{
		caller:         caller,
		maxOutputChars: DefaultMaxOutputChars,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Tools discovers the peer's tools. When discovery fails or yields nothing, the built-in
// catalog of Linux diagnostics tools is returned instead, so the agent always has tools.
func (b *Bridge) Tools(ctx context.Context) []*Tool {
	discovered, err := b.caller.ListTools(ctx)
	if err != nil {
		b.logger.Warn("tool discovery failed, using fallback tools", "err", err)
		return b.fallbackTools()
	}
	if len(discovered) == 0 {
		b.logger.Warn("peer reported no tools, using fallback tools")
		return b.fallbackTools()
	}

	tools := make([]*Tool, 0, len(discovered))
	for _, t := range discovered {
		tools = append(tools, b.NewTool(t.Name, t.Description, t.InputSchema))
	}
	b.logger.Info("discovered tools", "count", len(tools))
	return tools
}

// NewTool binds a tool to the bridge. An empty description gets a generic one; a schema
// that does not compile disables argument validation for the tool.
func (b *Bridge) NewTool(name, description string, inputSchema map[string]any) *Tool {
	if description == "" {
		description = "Call Linux MCP tool: " + name
	}

	schema, err := compileSchema(inputSchema)
	if err != nil {
		b.logger.Debug("skipping argument validation", "tool", name, "err", err)
	}

	return &Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
		bridge:      b,
		schema:      schema,
	}
}

func (b *Bridge) fallbackTools() []*Tool {
	tools := make([]*Tool, 0, len(fallbackCatalog))
	for _, f := range fallbackCatalog {
		tools = append(tools, b.NewTool(f.name, f.description, f.schema()))
	}
	return tools
}

// Run calls the tool and renders the outcome as text. Failures are rendered as
// "Error: <cause>" instead of being returned, so the agent can read them.
func (t *Tool) Run(ctx context.Context, args map[string]any) string {
	args = CoerceArgs(t.InputSchema, SanitizeArgs(args))

	if err := validateArgs(t.schema, args); err != nil {
		return fmt.Sprintf("Error: invalid arguments: %v", err)
	}

	out, err := t.bridge.caller.CallTool(ctx, t.Name, args)
	if err != nil {
		t.bridge.logger.Warn("tool call failed", "tool", t.Name, "err", err)
		return fmt.Sprintf("Error: %v", err)
	}
	if out == "" {
		return "(No output)"
	}
	return Truncate(out, t.bridge.maxOutputChars)
}

// Truncate cuts s to limit characters and appends a marker with the number of characters
// removed. A limit of zero or less returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	n := utf8.RuneCountInString(s)
	if n <= limit {
		return s
	}

	runes := []rune(s)
	return fmt.Sprintf("%s\n... (truncated %d chars)", string(runes[:limit]), n-limit)
}
