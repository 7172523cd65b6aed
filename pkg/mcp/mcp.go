package mcp

import (
	"context"
	"errors"
	"fmt"
)

// ClientTransport provides the client-side communication layer in the MCP protocol. A
// transport carries encoded JSON-RPC messages to one peer and hands every decoded inbound
// message to the MessageHandler registered by StartSession.
//
// Implementations must serialize Send so that concurrent callers never interleave partial
// writes on the wire.
type ClientTransport interface {
	// StartSession opens the channel to the peer and begins delivering inbound messages
	// to handler. The client calls it at most once per successful session; a failed start
	// may be retried.
	StartSession(ctx context.Context, handler MessageHandler) error

	// Send transmits one message to the peer. Transports without a background reader
	// deliver the peer's reply to the handler before Send returns.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Close releases the channel to the peer. It is safe to call more than once.
	Close() error
}

// MessageHandler receives what a transport reads from the peer.
type MessageHandler interface {
	// HandleMessage is called for every inbound message that decoded successfully.
	// Frames that fail to decode are dropped by the transport and never reach the handler.
	HandleMessage(msg JSONRPCMessage)

	// HandleError reports a terminal transport failure, such as the peer process
	// exiting. No messages are delivered after it.
	HandleError(err error)
}

var (
	// ErrTimeout is the cause of a call that got no response within the request timeout.
	ErrTimeout = errors.New("request timeout")

	// ErrTransport is the cause of every connection, process, or write failure.
	ErrTransport = errors.New("transport failure")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("client closed")
)

// Error is the single error kind returned by Client operations. Err is the underlying
// cause: ErrTimeout, a *JSONRPCError reported by the peer, or an error wrapping ErrTransport.
type Error struct {
	Method string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mcp %s: %v", e.Method, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// transportError marks err as a transport failure while keeping it inspectable.
func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// IsMethodNotFound reports whether err carries a JSON-RPC "method not found" error from
// the peer.
func IsMethodNotFound(err error) bool {
	var rpcErr *JSONRPCError
	return errors.As(err, &rpcErr) && rpcErr.IsMethodNotFound()
}
