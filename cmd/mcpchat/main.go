// Command mcpchat talks to a Linux MCP server, either started as a child process or reached
// over streamable HTTP, and runs its diagnostics tools.
//
// Usage:
//
//	mcpchat [-config file] [-env-file file] tools
//	mcpchat [-config file] [-env-file file] call <tool> [key=value ...]
//	mcpchat [-config file] [-env-file file] shell
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/internal/config"
	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/mcp"
	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/toolbridge"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	envFile := flag.String("env-file", "", "Path to a .env file (default .env)")
	flag.Usage = usage

	flag.Parse()

	if err := run(*configPath, *envFile, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] <command> [args]\n\n", os.Args[0])
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  tools                        List the tools of the MCP server")
	fmt.Fprintln(out, "  call <tool> [key=value ...]  Call a tool")
	fmt.Fprintln(out, "  shell                        Start an interactive shell (default)")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
}

func run(configPath, envFile string, args []string) error {
	command := "shell"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "tools", "call", "shell":
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := mcp.NewClient(cfg.NewTransport(logger),
		mcp.WithRequestTimeout(cfg.Timeout()),
		mcp.WithClientLogger(logger),
	)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close MCP client", "err", err)
		}
	}()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("cannot reach MCP server %s: %w", peerName(cfg), err)
	}
	info := client.ServerInfo()
	logger.Info("connected to MCP server",
		"peer", peerName(cfg),
		"server", info.Name,
		"version", info.Version,
		"protocol", client.ServerProtocolVersion(),
	)

	bridge := toolbridge.New(client,
		toolbridge.WithMaxOutputChars(cfg.MaxOutputChars),
		toolbridge.WithLogger(logger),
	)
	tools := bridge.Tools(ctx)

	switch command {
	case "tools":
		printTools(os.Stdout, tools)
		return nil
	case "call":
		return runCall(ctx, os.Stdout, bridge, tools, args)
	default:
		return newShell(bridge, tools, logger).run(ctx)
	}
}

func peerName(cfg *config.Config) string {
	if cfg.Command != "" {
		return fmt.Sprintf("%q", cfg.Command)
	}
	return cfg.ServerURL
}
