package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// SubprocessConfig configures a transport that runs the MCP peer as a child process and talks
// to it over its stdin and stdout.
type SubprocessConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env holds environment overrides for the child. They are layered on top of the
	// current process environment in the child's own environment table only.
	Env map[string]string

	// Dir is the working directory of the child. Empty means the current directory.
	Dir string

	// StopTimeout is how long Close waits for the child to exit after its stdin is
	// closed before killing it. Defaults to 5 seconds.
	StopTimeout time.Duration

	// Logger is the structured logger for transport diagnostics. The child's stderr is
	// logged here at debug level.
	Logger *slog.Logger
}

// Subprocess is a ClientTransport that owns a child process. The process is spawned by
// StartSession and terminated by Close; its exit fails every pending call with a transport
// error instead of leaving callers to time out.
type Subprocess struct {
	config SubprocessConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdio   *StdIO
	stdout  *pipeReader
	exited  chan struct{}
	exitErr error
	closed  bool
}

var defaultStopTimeout = 5 * time.Second

// NewSubprocess creates a subprocess transport for the given config. The process is not
// started until StartSession.
func NewSubprocess(cfg SubprocessConfig) *Subprocess {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Subprocess{
		config: cfg,
		logger: logger.With("command", cfg.Command),
	}
}

// StartSession implements the ClientTransport interface by spawning the child process and
// starting to read its stdout.
func (p *Subprocess) StartSession(ctx context.Context, handler MessageHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return transportError("start", ErrClosed)
	}
	if p.cmd != nil {
		return errors.New("subprocess already started")
	}

	p.logger.Info("starting MCP subprocess", "args", p.config.Args)

	// The child outlives any single call, so its lifetime is not bound to ctx.
	cmd := exec.Command(p.config.Command, p.config.Args...)
	cmd.Env = p.environ()
	cmd.Dir = p.config.Dir
	cmd.Stderr = &stderrLogger{logger: p.logger}
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return transportError("create stdin pipe", err)
	}

	// A plain pipe rather than cmd.StdoutPipe: Wait must not close stdout before the
	// reader has drained the last responses the child wrote.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return transportError("create stdout pipe", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return transportError(fmt.Sprintf("start subprocess %s", p.config.Command), err)
	}
	// The child holds its own copy of the write end.
	stdoutW.Close()

	p.cmd = cmd
	p.stdout = &pipeReader{File: stdoutR}
	p.exited = make(chan struct{})

	readerFailed := make(chan struct{})
	p.stdio = NewStdIO(p.stdout, stdin, WithStdIOLogger(p.logger))

	go p.wait(cmd, readerFailed)

	p.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)

	return p.stdio.StartSession(ctx, &exitAwareHandler{
		MessageHandler: handler,
		p:              p,
		readerFailed:   readerFailed,
	})
}

// Send implements the ClientTransport interface by writing one line to the child's stdin.
func (p *Subprocess) Send(ctx context.Context, msg JSONRPCMessage) error {
	p.mu.Lock()
	stdio := p.stdio
	p.mu.Unlock()

	if stdio == nil {
		return transportError("send", errors.New("subprocess not started"))
	}
	if !p.Alive() {
		return transportError("send", p.exitError())
	}
	return stdio.Send(ctx, msg)
}

// Alive reports, without blocking, whether the child process is still running.
func (p *Subprocess) Alive() bool {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()

	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// Close implements the ClientTransport interface. It closes the child's stdin, waits up to
// StopTimeout for it to exit and kills it otherwise. It is safe to call more than once.
func (p *Subprocess) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cmd, stdio, exited := p.cmd, p.stdio, p.exited
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}

	p.logger.Info("stopping MCP subprocess", "pid", cmd.Process.Pid)

	// Closing stdin signals the subprocess to exit.
	closeErr := stdio.Close()

	select {
	case <-exited:
	case <-time.After(p.config.StopTimeout):
		p.logger.Warn("MCP subprocess did not exit gracefully, killing", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Error("failed to kill MCP subprocess", "err", err)
		}
		<-exited
	}

	return closeErr
}

func (p *Subprocess) wait(cmd *exec.Cmd, readerFailed <-chan struct{}) {
	err := cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	close(p.exited)
	closed := p.closed
	stdout := p.stdout
	p.mu.Unlock()

	if closed {
		p.logger.Info("MCP subprocess exited", "pid", cmd.Process.Pid)
		return
	}
	p.logger.Warn("MCP subprocess exited unexpectedly", "pid", cmd.Process.Pid, "err", err)

	// Give the reader a moment to drain what the child wrote, then force it to stop in
	// case a grandchild still holds the pipe open.
	select {
	case <-readerFailed:
	case <-time.After(time.Second):
		stdout.Close()
	}
}

func (p *Subprocess) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exitErr != nil {
		return fmt.Errorf("process exited: %w", p.exitErr)
	}
	return errors.New("process exited")
}

// environ layers the configured overrides over the current environment. Keys are sorted so
// the child environment is deterministic; exec keeps the last value of duplicate keys.
func (p *Subprocess) environ() []string {
	env := os.Environ()
	if len(p.config.Env) == 0 {
		return env
	}

	keys := make([]string, 0, len(p.config.Env))
	for k := range p.config.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		env = append(env, k+"="+p.config.Env[k])
	}
	return env
}

// exitAwareHandler enriches the reader's terminal error with the child's exit status.
type exitAwareHandler struct {
	MessageHandler
	p            *Subprocess
	readerFailed chan struct{}
}

func (h *exitAwareHandler) HandleError(err error) {
	close(h.readerFailed)

	h.p.mu.Lock()
	exited := h.p.exited
	h.p.mu.Unlock()

	select {
	case <-exited:
		err = fmt.Errorf("%w (%w)", err, h.p.exitError())
	case <-time.After(time.Second):
	}
	h.MessageHandler.HandleError(err)
}

// pipeReader is the read end of the child's stdout. It is closed by whichever of Close and
// the exit watcher gets there first.
type pipeReader struct {
	*os.File
	once sync.Once
	err  error
}

func (r *pipeReader) Close() error {
	r.once.Do(func() {
		r.err = r.File.Close()
	})
	return r.err
}

// stderrLogger logs each line the child writes to stderr. Stderr is never parsed for protocol
// data.
type stderrLogger struct {
	logger *slog.Logger
	buf    []byte
}

func (s *stderrLogger) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(s.buf[:i]); len(line) > 0 {
			s.logger.Debug("MCP subprocess stderr", "line", string(line))
		}
		s.buf = s.buf[i+1:]
	}
	return len(p), nil
}
