package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/toolbridge"
)

var errNoToolName = errors.New("tool name is required")

func printTools(w io.Writer, tools []*toolbridge.Tool) {
	for i, tool := range tools {
		fmt.Fprintf(w, "%d. %s: %s\n", i+1, tool.Name, tool.Description)
	}
}

func runCall(ctx context.Context, w io.Writer, bridge *toolbridge.Bridge, tools []*toolbridge.Tool, args []string) error {
	if len(args) == 0 {
		return errNoToolName
	}

	toolArgs, err := parseToolArgs(args[1:])
	if err != nil {
		return err
	}

	fmt.Fprintln(w, findTool(bridge, tools, args[0]).Run(ctx, toolArgs))
	return nil
}

// findTool returns the discovered tool called name. Unknown names are still passed to the
// peer, without argument validation.
func findTool(bridge *toolbridge.Bridge, tools []*toolbridge.Tool, name string) *toolbridge.Tool {
	for _, tool := range tools {
		if tool.Name == name {
			return tool
		}
	}
	return bridge.NewTool(name, "", nil)
}

// parseToolArgs turns key=value pairs into an argument map. Values that look like JSON
// objects or arrays are decoded, everything else stays a string.
func parseToolArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, expected key=value", pair)
		}

		if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
			var v any
			if err := json.Unmarshal([]byte(value), &v); err != nil {
				return nil, fmt.Errorf("invalid JSON value for %s: %w", key, err)
			}
			args[key] = v
			continue
		}
		args[key] = value
	}
	return args, nil
}
