package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/toolbridge"
	"github.com/chzyer/readline"
)

type shell struct {
	bridge *toolbridge.Bridge
	tools  []*toolbridge.Tool
	logger *slog.Logger
}

func newShell(bridge *toolbridge.Bridge, tools []*toolbridge.Tool, logger *slog.Logger) shell {
	return shell{
		bridge: bridge,
		tools:  tools,
		logger: logger,
	}
}

func (s shell) run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mcp> ",
		HistoryFile:     historyFile(s.logger),
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	out := rl.Stdout()
	fmt.Fprintf(out, "%d tools available. Type help for commands.\n", len(s.tools))

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) && line != "" {
				continue
			}
			return nil
		}

		if s.exec(ctx, out, line) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s shell) exec(ctx context.Context, w io.Writer, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "exit", "quit":
		return true
	case "help":
		s.help(w)
	case "tools":
		printTools(w, s.tools)
	case "desc":
		if len(fields) != 2 {
			fmt.Fprintln(w, "Usage: desc <tool>")
			return false
		}
		tool := findTool(s.bridge, s.tools, fields[1])
		fmt.Fprintf(w, "%s: %s\n", tool.Name, tool.Description)
	case "call":
		if err := runCall(ctx, w, s.bridge, s.tools, fields[1:]); err != nil {
			fmt.Fprintln(w, "Error:", err)
		}
	default:
		fmt.Fprintf(w, "Unknown command: %s\n", fields[0])
	}
	return false
}

func (s shell) help(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "- tools: List the available tools")
	fmt.Fprintln(w, "- desc <tool>: Show the description of a tool")
	fmt.Fprintln(w, "- call <tool> [key=value ...]: Call a tool, eg. call get_service_status service_name=sshd host=web-1")
	fmt.Fprintln(w, "- help: Show this help")
	fmt.Fprintln(w, "- exit: Exit the shell")
}

func (s shell) completer() *readline.PrefixCompleter {
	names := make([]readline.PrefixCompleterInterface, 0, len(s.tools))
	for _, tool := range s.tools {
		names = append(names, readline.PcItem(tool.Name))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("tools"),
		readline.PcItem("desc", names...),
		readline.PcItem("call", names...),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

// historyFile returns the history path in the user cache dir, or "" to keep history in
// memory only.
func historyFile(logger *slog.Logger) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		logger.Debug("no cache dir for shell history", "err", err)
		return ""
	}
	dir = filepath.Join(dir, "mcpchat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Debug("failed to create history dir", "dir", dir, "err", err)
		return ""
	}
	return filepath.Join(dir, "history")
}
