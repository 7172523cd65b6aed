package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/tmaxmax/go-sse"
)

// defaultMaxPayloadSize bounds a single frame read from the peer.
const defaultMaxPayloadSize = 10 << 20

func encodeLine(msg JSONRPCMessage) ([]byte, error) {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	return append(msgBs, '\n'), nil
}

// decodeLine decodes one newline-framed message. Blank lines and lines that are not a
// JSON object report false; peers routinely print banners and debug output on stdout.
func decodeLine(line []byte, logger *slog.Logger) (JSONRPCMessage, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return JSONRPCMessage{}, false
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		logger.Debug("skipping non-protocol line", "line", truncateForLog(line), "err", err)
		return JSONRPCMessage{}, false
	}
	return msg, true
}

// eventStreamMessages yields the JSON-RPC messages carried in the data of an SSE stream.
// Events whose data is not a JSON-RPC message are skipped, as are fields other than data.
// A read failure is yielded once as the final element.
func eventStreamMessages(r io.Reader, maxEventSize int, logger *slog.Logger) iter.Seq2[JSONRPCMessage, error] {
	return func(yield func(JSONRPCMessage, error) bool) {
		config := &sse.ReadConfig{MaxEventSize: maxEventSize}

		for ev, err := range sse.Read(r, config) {
			if err != nil {
				yield(JSONRPCMessage{}, fmt.Errorf("failed to read SSE message: %w", err))
				return
			}

			msgs := decodeDocument([]byte(ev.Data), logger)
			if len(msgs) == 0 {
				logger.Debug("skipping SSE event without protocol data",
					"type", ev.Type, "data", truncateForLog([]byte(ev.Data)))
				continue
			}
			for _, msg := range msgs {
				if !yield(msg, nil) {
					return
				}
			}
		}
	}
}

// decodeDocument decodes a complete JSON-RPC document: a single message or a batch.
// It returns nil when data is empty or does not decode.
func decodeDocument(data []byte, logger *slog.Logger) []JSONRPCMessage {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '{':
		var msg JSONRPCMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("failed to unmarshal message", "err", err)
			return nil
		}
		return []JSONRPCMessage{msg}
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			logger.Debug("failed to unmarshal batch", "err", err)
			return nil
		}
		msgs := make([]JSONRPCMessage, 0, len(raws))
		for _, raw := range raws {
			var msg JSONRPCMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				logger.Debug("skipping malformed batch element", "err", err)
				continue
			}
			msgs = append(msgs, msg)
		}
		return msgs
	default:
		return nil
	}
}

// decodeBody decodes a fully buffered HTTP response body. Plain JSON is tried first; a
// body that is not JSON is scanned as SSE framing, for peers that stream events under a
// JSON content type.
func decodeBody(body []byte, logger *slog.Logger) []JSONRPCMessage {
	if msgs := decodeDocument(body, logger); len(msgs) > 0 {
		return msgs
	}

	// Terminate a trailing event that lacks its blank line so that it is dispatched.
	framed := append(bytes.TrimRight(body, "\r\n"), "\n\n"...)

	var msgs []JSONRPCMessage
	for msg, err := range eventStreamMessages(bytes.NewReader(framed), len(framed)+1, logger) {
		if err != nil {
			logger.Debug("failed to scan body as SSE", "err", err)
			break
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// captureWriter keeps the first limit bytes written to it and silently drops the rest.
type captureWriter struct {
	buf   bytes.Buffer
	limit int
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

var errPayloadTooLarge = errors.New("payload too large")

func truncateForLog(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
