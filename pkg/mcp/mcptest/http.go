package mcptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// HTTPMode selects how an HTTPServer answers requests.
type HTTPMode int

const (
	// ModeJSON answers with an application/json body.
	ModeJSON HTTPMode = iota
	// ModeSSE answers with a text/event-stream carrying one message event.
	ModeSSE
	// ModeMislabeledSSE writes SSE framing under an application/json content type.
	ModeMislabeledSSE
	// ModeMislabeledJSON writes a plain JSON body under a text/event-stream content type.
	ModeMislabeledJSON
)

const sessionIDHeader = "Mcp-Session-Id"

// HTTPServer serves a Peer over streamable HTTP on a single endpoint. The initialize request
// opens a session whose id is returned in the Mcp-Session-Id header; later requests must
// carry it.
type HTTPServer struct {
	peer *Peer
	mode HTTPMode

	// EventPrelude, in the SSE modes, is sent as events before the response event.
	EventPrelude []string

	mu       sync.Mutex
	sessions map[string]bool
	headers  []http.Header
	deleted  []string
}

// NewHTTPServer returns an http.Handler that serves p in the given mode.
func NewHTTPServer(p *Peer, mode HTTPMode) *HTTPServer {
	return &HTTPServer{
		peer:     p,
		mode:     mode,
		sessions: make(map[string]bool),
	}
}

// Headers returns the headers of every POST received, in arrival order.
func (s *HTTPServer) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]http.Header(nil), s.headers...)
}

// Deleted returns the ids of sessions ended by a DELETE request.
func (s *HTTPServer) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.deleted...)
}

// ServeHTTP implements http.Handler.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handlePost(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		nErr := fmt.Errorf("failed to decode message: %w", err)
		s.peer.logger.Warn("failed to decode message", "err", nErr)
		http.Error(w, nErr.Error(), http.StatusBadRequest)
		return
	}

	if msg.Method == "initialize" {
		sessID := uuid.New().String()
		s.mu.Lock()
		s.sessions[sessID] = true
		s.mu.Unlock()
		w.Header().Set(sessionIDHeader, sessID)
	} else {
		sessID := r.Header.Get(sessionIDHeader)
		if sessID == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		known := s.sessions[sessID]
		s.mu.Unlock()
		if !known {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
	}

	res, ok := s.peer.Respond(msg)
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resBs, err := json.Marshal(res)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch s.mode {
	case ModeSSE:
		s.writeEvents(w, r, resBs)
	case ModeMislabeledSSE:
		w.Header().Set("Content-Type", "application/json")
		for _, data := range s.EventPrelude {
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		}
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", resBs)
	case ModeMislabeledJSON:
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write(resBs)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Write(resBs)
	}
}

func (s *HTTPServer) writeEvents(w http.ResponseWriter, r *http.Request, resBs []byte) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		nErr := fmt.Errorf("failed to upgrade session: %w", err)
		s.peer.logger.Error("failed to upgrade session", "err", nErr)
		http.Error(w, nErr.Error(), http.StatusInternalServerError)
		return
	}

	send := func(data []byte) error {
		msg := sse.Message{
			Type: sse.Type("message"),
		}
		msg.AppendData(string(data))
		if err := sess.Send(&msg); err != nil {
			return fmt.Errorf("failed to write SSE message: %w", err)
		}
		if err := sess.Flush(); err != nil {
			return fmt.Errorf("failed to flush SSE: %w", err)
		}
		return nil
	}

	for _, data := range s.EventPrelude {
		if err := send([]byte(data)); err != nil {
			s.peer.logger.Error("failed to write prelude", "err", err)
			return
		}
	}
	if err := send(resBs); err != nil {
		s.peer.logger.Error("failed to write response", "err", err)
	}
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessID := r.Header.Get(sessionIDHeader)

	s.mu.Lock()
	known := s.sessions[sessID]
	delete(s.sessions, sessID)
	if known {
		s.deleted = append(s.deleted, sessID)
	}
	s.mu.Unlock()

	if !known {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}
