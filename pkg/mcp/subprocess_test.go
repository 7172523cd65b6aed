package mcp_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/mcp"
	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/mcp/mcptest"
)

// TestHelperProcess is not a real test. It is re-executed by the subprocess tests to act as
// an MCP server speaking over stdin and stdout.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("MCP_HELPER_PROCESS") != "1" {
		return
	}

	fmt.Fprintln(os.Stderr, "helper server starting")

	if os.Getenv("MCP_HELPER_MODE") == "orphan" {
		// A grandchild that keeps stdout open after this process exits.
		grandchild := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "--")
		grandchild.Env = append(os.Environ(), "MCP_HELPER_MODE=linger")
		grandchild.Stdout = os.Stdout
		if err := grandchild.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	peer := mcptest.NewPeer()
	peer.Banner = []string{"helper server ready"}
	peer.Handle("tools/list", mcptest.Tools(
		map[string]any{"name": "env"},
		map[string]any{"name": "crash"},
	))
	peer.Handle("tools/call", func(req mcptest.Message) (any, *mcptest.Error) {
		switch {
		case strings.Contains(string(req.Params), `"crash"`):
			os.Exit(3)
		case strings.Contains(string(req.Params), `"env"`):
			return map[string]any{"content": []map[string]any{
				{"type": "text", "text": os.Getenv("LINUX_MCP_USER")},
			}}, nil
		}
		return nil, &mcptest.Error{Code: -32602, Message: "unknown tool"}
	})

	if err := peer.ServeStdIO(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	switch os.Getenv("MCP_HELPER_MODE") {
	case "hang":
		time.Sleep(time.Hour)
	case "linger":
		time.Sleep(5 * time.Second)
	}
	os.Exit(0)
}

func helperSubprocess(env map[string]string, stopTimeout time.Duration) *mcp.Subprocess {
	childEnv := map[string]string{"MCP_HELPER_PROCESS": "1"}
	for k, v := range env {
		childEnv[k] = v
	}
	return mcp.NewSubprocess(mcp.SubprocessConfig{
		Command:     os.Args[0],
		Args:        []string{"-test.run=^TestHelperProcess$", "--"},
		Env:         childEnv,
		StopTimeout: stopTimeout,
	})
}

func TestSubprocessCallTool(t *testing.T) {
	parentUser, parentSet := os.LookupEnv("LINUX_MCP_USER")

	transport := helperSubprocess(map[string]string{"LINUX_MCP_USER": "admin"}, 0)
	client := mcp.NewClient(transport, mcp.WithRequestTimeout(10*time.Second))
	defer client.Close()

	if transport.Alive() {
		t.Error("transport must not be alive before the session starts")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if !transport.Alive() {
		t.Error("expected child to be alive")
	}

	out, err := client.CallTool(ctx, "env", nil)
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if out != "admin" {
		t.Errorf("expected child to see the override, got %q", out)
	}

	// The override only applies to the child.
	if got, set := os.LookupEnv("LINUX_MCP_USER"); got != parentUser || set != parentSet {
		t.Errorf("parent environment changed: %q", got)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("failed to close client: %v", err)
	}
	if transport.Alive() {
		t.Error("expected child to be gone after close")
	}
}

func TestSubprocessExitFailsPendingCalls(t *testing.T) {
	transport := helperSubprocess(nil, 0)
	client := mcp.NewClient(transport, mcp.WithRequestTimeout(30*time.Second))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	_, err := client.CallTool(ctx, "crash", nil)
	if !errors.Is(err, mcp.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("expected exit status in error, got %v", err)
	}
	if transport.Alive() {
		t.Error("expected child to be dead")
	}

	start := time.Now()
	if _, err := client.CallTool(ctx, "env", nil); !errors.Is(err, mcp.ErrTransport) {
		t.Errorf("expected later call to fail with transport error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("later call did not fail fast, took %v", time.Since(start))
	}
}

func TestSubprocessCloseAfterOrphanedStdout(t *testing.T) {
	transport := helperSubprocess(map[string]string{"MCP_HELPER_MODE": "orphan"}, 0)
	client := mcp.NewClient(transport, mcp.WithRequestTimeout(30*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	// The child exits while the grandchild still holds stdout, so the pipe is closed by
	// the exit watcher rather than by Close.
	_, err := client.CallTool(ctx, "crash", nil)
	if !errors.Is(err, mcp.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("expected exit status in error, got %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Errorf("unexpected second close error: %v", err)
	}
}

func TestSubprocessStartFailure(t *testing.T) {
	transport := mcp.NewSubprocess(mcp.SubprocessConfig{Command: "/nonexistent/linux-mcp-server"})
	client := mcp.NewClient(transport)
	defer client.Close()

	err := client.Connect(context.Background())
	if !errors.Is(err, mcp.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	var mcpErr *mcp.Error
	if !errors.As(err, &mcpErr) || mcpErr.Method != "initialize" {
		t.Errorf("expected *mcp.Error for initialize, got %v", err)
	}
	if transport.Alive() {
		t.Error("transport must not be alive")
	}
}

func TestSubprocessCloseKillsStuckChild(t *testing.T) {
	transport := helperSubprocess(map[string]string{"MCP_HELPER_MODE": "hang"}, 200*time.Millisecond)
	client := mcp.NewClient(transport, mcp.WithRequestTimeout(10*time.Second))

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- client.Close()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not kill the child")
	}
	if transport.Alive() {
		t.Error("expected child to be gone after close")
	}
}
