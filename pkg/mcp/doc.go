// Package mcp implements the client side of the Model Context Protocol (MCP) for
// tool-providing peers, following the specification at
// https://spec.modelcontextprotocol.io/specification/.
//
// A Client discovers tools with ListTools and invokes them with CallTool. It talks to the
// peer through a ClientTransport:
//
//   - Subprocess spawns the peer and exchanges newline-delimited JSON over its stdin and
//     stdout. StdIO does the same over any reader and writer pair.
//   - SSEClient posts every message to a streamable-HTTP endpoint and reads the answer as
//     plain JSON or as a Server-Sent Events stream.
//
// A basic session looks like:
//
//	transport := mcp.NewSubprocess(mcp.SubprocessConfig{
//		Command: "linux-mcp-server",
//	})
//	client := mcp.NewClient(transport)
//	defer client.Close()
//
//	tools, err := client.ListTools(ctx)
//	if err != nil {
//		return err
//	}
//	out, err := client.CallTool(ctx, tools[0].Name, map[string]any{"host": "web01"})
//
// Peers that predate the tools/list and tools/call method names are supported through a
// single retry with the legacy listTools and callTool names.
package mcp
