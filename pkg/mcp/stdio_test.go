package mcp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AlexonOliveiraRH/linux-mcp-server-chatbot/pkg/mcp"
)

type recordingHandler struct {
	msgs chan mcp.JSONRPCMessage
	errs chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		msgs: make(chan mcp.JSONRPCMessage, 100),
		errs: make(chan error, 10),
	}
}

func (h *recordingHandler) HandleMessage(msg mcp.JSONRPCMessage) {
	h.msgs <- msg
}

func (h *recordingHandler) HandleError(err error) {
	h.errs <- err
}

func TestStdIOReadsMessagesAndSkipsNoise(t *testing.T) {
	reader, peerWriter := io.Pipe()
	transport := mcp.NewStdIO(reader, io.Discard)
	defer transport.Close()

	handler := newRecordingHandler()
	if err := transport.StartSession(context.Background(), handler); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	go func() {
		fmt.Fprint(peerWriter, "INFO starting linux-mcp-server\n")
		fmt.Fprint(peerWriter, "\n")
		fmt.Fprint(peerWriter, `{"jsonrpc":"2.0","id":1,"result":{}}`+"\n")
		fmt.Fprint(peerWriter, "{ not json\n")
		fmt.Fprint(peerWriter, `{"jsonrpc":"2.0","method":"notifications/message"}`+"\n")
		peerWriter.Close()
	}()

	var got []mcp.JSONRPCMessage
	for len(got) < 2 {
		select {
		case msg := <-handler.msgs:
			got = append(got, msg)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for messages, got %d", len(got))
		}
	}

	if !got[0].IsResponse() {
		t.Errorf("expected first message to be a response, got %+v", got[0])
	}
	if got[1].Method != "notifications/message" {
		t.Errorf("expected second message to be the notification, got method %q", got[1].Method)
	}

	select {
	case err := <-handler.errs:
		if !errors.Is(err, mcp.ErrTransport) {
			t.Errorf("expected transport error, got %v", err)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("expected unexpected EOF, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for end of stream error")
	}

	select {
	case msg := <-handler.msgs:
		t.Errorf("unexpected extra message: %+v", msg)
	default:
	}
}

func TestStdIOConcurrentSendsDoNotInterleave(t *testing.T) {
	peerReader, writer := io.Pipe()
	transport := mcp.NewStdIO(eofReader{}, writer)
	defer transport.Close()

	if err := transport.StartSession(context.Background(), newRecordingHandler()); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	const senders = 50

	lines := make(chan []byte, senders)
	go func() {
		scanner := bufio.NewScanner(peerReader)
		scanner.Buffer(make([]byte, 1<<20), 1<<20)
		for scanner.Scan() {
			lines <- append([]byte(nil), scanner.Bytes()...)
		}
	}()

	var wg sync.WaitGroup
	for i := 1; i <= senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := transport.Send(context.Background(), mcp.JSONRPCMessage{
				JSONRPC: mcp.JSONRPCVersion,
				ID:      mcp.NewRequestID(int64(i)),
				Method:  "tools/call",
				Params:  json.RawMessage(fmt.Sprintf(`{"name":"tool-%d","arguments":{"payload":%q}}`, i, strings.Repeat("x", 4096))),
			})
			if err != nil {
				t.Errorf("failed to send message %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for len(seen) < senders {
		select {
		case line := <-lines:
			var msg mcp.JSONRPCMessage
			if err := json.Unmarshal(line, &msg); err != nil {
				t.Fatalf("line is not a single JSON message: %v", err)
			}
			id, ok := msg.ID.Int64()
			if !ok {
				t.Fatalf("line without id: %s", line)
			}
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for lines, got %d", len(seen))
		}
	}
}

func TestStdIOSendBeforeStart(t *testing.T) {
	transport := mcp.NewStdIO(eofReader{}, io.Discard)

	err := transport.Send(context.Background(), mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, Method: "ping"})
	if !errors.Is(err, mcp.ErrTransport) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestStdIOClose(t *testing.T) {
	reader, _ := io.Pipe()
	_, writer := io.Pipe()
	transport := mcp.NewStdIO(reader, writer)

	handler := newRecordingHandler()
	if err := transport.StartSession(context.Background(), handler); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	if err := transport.StartSession(context.Background(), handler); err == nil {
		t.Error("expected error when starting the session twice")
	}

	if err := transport.Close(); err != nil {
		t.Fatalf("failed to close transport: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Errorf("second close returned error: %v", err)
	}

	err := transport.Send(context.Background(), mcp.JSONRPCMessage{JSONRPC: mcp.JSONRPCVersion, Method: "ping"})
	if !errors.Is(err, mcp.ErrTransport) {
		t.Errorf("expected transport error after close, got %v", err)
	}

	// A local close is not a peer failure.
	select {
	case err := <-handler.errs:
		t.Errorf("unexpected error after close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

// eofReader is an input stream that is already exhausted.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
