package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// StdIO implements a line-oriented transport for MCP communication using newline-delimited
// JSON-RPC over an io.Reader/io.Writer pair, typically the stdout and stdin pipes of a peer
// process. It is used directly in tests and by Subprocess for spawned peers.
//
// Writes are funneled through a single writer goroutine, so concurrent Send calls never
// interleave on the wire. A dedicated reader goroutine decodes each line and hands it to the
// session's MessageHandler; lines that are not JSON are skipped.
//
// Resources must be released by calling Close when the StdIO instance is no longer needed.
// If reader or writer implements io.Closer, Close closes it.
type StdIO struct {
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	started atomic.Bool

	writeMessages chan stdIOMessage
	done          chan struct{}
	closeOnce     sync.Once
}

// StdIOOption represents the options for the StdIO transport.
type StdIOOption func(*StdIO)

type stdIOMessage struct {
	msg  []byte
	errs chan error
}

// WithStdIOLogger sets the logger for transport diagnostics.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.logger = logger
	}
}

// NewStdIO creates a new StdIO instance configured with the provided reader and writer.
// Nothing is read or written until StartSession is called.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIO {
	s := &StdIO{
		reader:        reader,
		writer:        writer,
		logger:        slog.Default(),
		writeMessages: make(chan stdIOMessage),
		done:          make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// StartSession implements the ClientTransport interface by starting the reader and writer
// goroutines. Every decoded line is passed to handler; when the reader hits end of stream or
// a read error, handler.HandleError is called once.
func (s *StdIO) StartSession(_ context.Context, handler MessageHandler) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("stdio session already started")
	}

	go s.processWriteMessages()
	go s.readMessages(handler)

	return nil
}

// Send implements the ClientTransport interface. It queues the encoded message for the
// writer goroutine and waits until it has been written.
func (s *StdIO) Send(ctx context.Context, msg JSONRPCMessage) error {
	if !s.started.Load() {
		return transportError("send", errors.New("session not started"))
	}

	msgBs, err := encodeLine(msg)
	if err != nil {
		return err
	}

	ioMsg := stdIOMessage{
		msg:  msgBs,
		errs: make(chan error, 1),
	}

	// Queue the message for sending so that only the writer goroutine touches the writer.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return transportError("send", ErrClosed)
	case s.writeMessages <- ioMsg:
	}

	// Wait for the resulting error channel to receive the error.
	select {
	case err := <-ioMsg.errs:
		if err != nil {
			s.logger.Error("failed to write message", "err", err)
			return transportError("write", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return transportError("send", ErrClosed)
	}
}

// Close implements the ClientTransport interface. It stops the writer goroutine and closes the
// underlying reader and writer when they are closers. It is safe to call more than once.
func (s *StdIO) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		close(s.done)
		if c, ok := s.writer.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close writer: %w", err))
			}
		}
		if c, ok := s.reader.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close reader: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}

func (s *StdIO) readMessages(handler MessageHandler) {
	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(s.reader)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if msg, ok := decodeLine(line, s.logger); ok {
				select {
				case <-s.done:
					return
				default:
				}
				handler.HandleMessage(msg)
			}
		}

		if err != nil {
			select {
			case <-s.done:
				// Closed locally, the client already failed its pending calls.
				return
			default:
			}

			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
				s.logger.Warn("peer closed its output stream")
			} else {
				s.logger.Error("failed to read message", "err", err)
			}
			handler.HandleError(transportError("read", err))
			return
		}
	}
}

func (s *StdIO) processWriteMessages() {
	for {
		// Process writing the message queue until the session is closed.
		var msg stdIOMessage
		select {
		case <-s.done:
			return
		case msg = <-s.writeMessages:
		}

		_, err := s.writer.Write(msg.msg)

		msg.errs <- err
	}
}
