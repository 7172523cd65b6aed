package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// SessionIDHeader carries the session id a streamable-HTTP peer assigns during
// initialization. The client replays it on every later request.
const SessionIDHeader = "Mcp-Session-Id"

// SSEClient implements the streamable-HTTP transport. Every message is POSTed to a single
// endpoint and the peer answers either with a plain JSON body or with a Server-Sent Events
// stream. Messages found in the answer are handed to the session's MessageHandler before
// Send returns, so there is no background reader.
//
// Instances should be created using NewSSEClient and closed using Close, which ends the
// server-side session.
type SSEClient struct {
	httpClient *http.Client
	endpoint   string
	headers    http.Header
	logger     *slog.Logger

	maxPayloadSize int

	handler MessageHandler
	started atomic.Bool

	// mu guards sessionID.
	mu        sync.Mutex
	sessionID string

	closed    atomic.Bool
	closeOnce sync.Once
}

// SSEClientOption represents the options for the SSEClient.
type SSEClientOption func(*SSEClient)

var (
	sseClientAccept          = "application/json, text/event-stream"
	sseClientErrorBodyLimit  = int64(4 << 10)
	sseClientDeleteTimeout   = 5 * time.Second
	errStreamEndedBeforeResp = errors.New("stream ended before response")
)

// NewSSEClient creates a streamable-HTTP client that posts to the specified endpoint. The
// optional httpClient parameter allows custom HTTP client configuration - if nil, the
// default HTTP client is used. Nothing is sent until the first message.
func NewSSEClient(endpoint string, httpClient *http.Client, options ...SSEClientOption) *SSEClient {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	s := &SSEClient{
		endpoint:       endpoint,
		httpClient:     cli,
		headers:        make(http.Header),
		logger:         slog.Default(),
		maxPayloadSize: defaultMaxPayloadSize,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// WithSSEClientMaxPayloadSize sets the maximum size of a response body or a single event
// that can be received from the server. Larger payloads fail the call with a transport error.
func WithSSEClientMaxPayloadSize(size int) SSEClientOption {
	return func(s *SSEClient) {
		if size > 0 {
			s.maxPayloadSize = size
		}
	}
}

// WithSSEClientHeader adds a header sent with every request, such as an authorization token.
func WithSSEClientHeader(key, value string) SSEClientOption {
	return func(s *SSEClient) {
		s.headers.Add(key, value)
	}
}

// WithSSEClientLogger sets the logger for transport diagnostics.
func WithSSEClientLogger(logger *slog.Logger) SSEClientOption {
	return func(s *SSEClient) {
		s.logger = logger
	}
}

// StartSession implements the ClientTransport interface. It validates the endpoint and
// records the handler; the HTTP session itself is established by the first request.
func (s *SSEClient) StartSession(_ context.Context, handler MessageHandler) error {
	if s.closed.Load() {
		return transportError("start", ErrClosed)
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return transportError("parse endpoint URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return transportError("parse endpoint URL", fmt.Errorf("unsupported scheme %q", u.Scheme))
	}

	if !s.started.CompareAndSwap(false, true) {
		return errors.New("http session already started")
	}
	s.handler = handler

	return nil
}

// Send implements the ClientTransport interface by posting msg and delivering every message
// in the answer to the handler. For requests it reads until the response with the same id was
// delivered, and reports a transport error when the answer ends without it.
func (s *SSEClient) Send(ctx context.Context, msg JSONRPCMessage) error {
	if !s.started.Load() {
		return transportError("send", errors.New("session not started"))
	}
	if s.closed.Load() {
		return transportError("send", ErrClosed)
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	resp, err := s.post(ctx, msgBs)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	awaited, awaiting := int64(0), false
	if msg.IsRequest() {
		awaited, awaiting = msg.ID.Int64()
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return s.readEventStream(resp.Body, awaited, awaiting)
	}
	return s.readBody(resp.Body, awaited, awaiting)
}

// Close implements the ClientTransport interface. An established session is ended with a
// best-effort DELETE, and idle connections are closed. It is safe to call more than once.
func (s *SSEClient) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.mu.Lock()
		sessionID := s.sessionID
		s.sessionID = ""
		s.mu.Unlock()

		if sessionID != "" {
			s.deleteSession(sessionID)
		}
		s.httpClient.CloseIdleConnections()
	})
	return nil
}

// SessionID returns the session id assigned by the peer, or "" before initialization.
func (s *SSEClient) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionID
}

// post issues the request and validates the status. Requests run concurrently; mu is only
// held to read or update the session id.
func (s *SSEClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, transportError("create request", err)
	}
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", sseClientAccept)

	sessionID := s.SessionID()
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, transportError("post", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, sseClientErrorBodyLimit))
		if resp.StatusCode == http.StatusNotFound && sessionID != "" {
			s.mu.Lock()
			if s.sessionID == sessionID {
				s.logger.Warn("peer no longer knows the session", "session", sessionID)
				s.sessionID = ""
			}
			s.mu.Unlock()
		}
		return nil, transportError("post", fmt.Errorf("unexpected status code: %d: %s",
			resp.StatusCode, bytes.TrimSpace(errBody)))
	}

	if id := resp.Header.Get(SessionIDHeader); id != "" && id != sessionID {
		s.mu.Lock()
		if s.sessionID != id {
			s.logger.Debug("peer assigned session", "session", id)
			s.sessionID = id
		}
		s.mu.Unlock()
	}

	return resp, nil
}

func (s *SSEClient) readEventStream(body io.Reader, awaited int64, awaiting bool) error {
	// Keep a copy of the head of the stream in case the peer mislabeled a plain JSON body.
	capture := &captureWriter{limit: s.maxPayloadSize}
	stream := io.TeeReader(body, capture)

	delivered := 0
	for msg, err := range eventStreamMessages(stream, s.maxPayloadSize, s.logger) {
		if err != nil {
			if delivered == 0 && s.deliver(decodeBody(capture.buf.Bytes(), s.logger), awaited, awaiting) {
				return nil
			}
			return transportError("read event stream", err)
		}

		delivered++
		if s.deliver([]JSONRPCMessage{msg}, awaited, awaiting) {
			return nil
		}
	}

	if delivered == 0 && s.deliver(decodeBody(capture.buf.Bytes(), s.logger), awaited, awaiting) {
		return nil
	}
	if awaiting {
		return transportError("read event stream", errStreamEndedBeforeResp)
	}
	return nil
}

func (s *SSEClient) readBody(body io.Reader, awaited int64, awaiting bool) error {
	bs, err := io.ReadAll(io.LimitReader(body, int64(s.maxPayloadSize)+1))
	if err != nil {
		return transportError("read body", err)
	}
	if len(bs) > s.maxPayloadSize {
		return transportError("read body", errPayloadTooLarge)
	}

	if s.deliver(decodeBody(bs, s.logger), awaited, awaiting) || !awaiting {
		return nil
	}
	if len(bytes.TrimSpace(bs)) == 0 {
		return transportError("read body", errors.New("empty response body"))
	}
	return transportError("read body", fmt.Errorf("no response in body: %s", truncateForLog(bs)))
}

// deliver hands msgs to the handler and reports whether the awaited response was among them.
func (s *SSEClient) deliver(msgs []JSONRPCMessage, awaited int64, awaiting bool) bool {
	found := false
	for _, msg := range msgs {
		s.handler.HandleMessage(msg)
		if !awaiting || !msg.IsResponse() {
			continue
		}
		if id, ok := msg.ID.Int64(); ok && id == awaited {
			found = true
		}
	}
	return found
}

func (s *SSEClient) deleteSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), sseClientDeleteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.endpoint, nil)
	if err != nil {
		s.logger.Debug("failed to create session delete request", "err", err)
		return
	}
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(SessionIDHeader, sessionID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug("failed to end session", "session", sessionID, "err", err)
		return
	}
	resp.Body.Close()

	s.logger.Debug("ended session", "session", sessionID, "status", resp.StatusCode)
}
