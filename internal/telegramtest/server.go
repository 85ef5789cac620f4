// Package telegramtest provides an in-process fake of the Bot API getUpdates
// endpoint.
package telegramtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/tg2fibery/internal/testutil"
)

// Service is the name requests are recorded under.
const Service = "telegram"

// Options configures a Server.
type Options struct {
	// Token is the bot token the server accepts in the path.
	Token string

	// Recorder, if set, records every request.
	Recorder *testutil.Recorder
}

// Server serves a fixed list of update envelopes. Updates are never
// acknowledged, so every call sees the same window.
type Server struct {
	mu        sync.Mutex
	token     string
	envelopes []json.RawMessage
	status    int
	body      string
	srv       *httptest.Server
}

// NewServer starts a fake Bot API server.
func NewServer(opts Options) *Server {
	s := &Server{token: opts.Token}
	var handler http.Handler = http.HandlerFunc(s.serveHTTP)
	if opts.Recorder != nil {
		handler = opts.Recorder.Wrap(Service, handler)
	}
	s.srv = httptest.NewServer(handler)
	return s
}

// URL returns the base URL, e.g. "http://127.0.0.1:41234".
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// AddEnvelope queues a raw update envelope.
func (s *Server) AddEnvelope(raw json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, raw)
}

// AddMessage queues a text message update.
func (s *Server) AddMessage(updateID int64, text string) {
	raw, _ := json.Marshal(map[string]any{
		"update_id": updateID,
		"message":   map[string]any{"message_id": updateID, "text": text},
	})
	s.AddEnvelope(raw)
}

// Fail makes every following call answer with status and body.
// A status of 0 restores normal behavior.
func (s *Server) Fail(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method != http.MethodGet || r.URL.Path != "/bot"+s.token+"/getUpdates" {
		writeJSON(w, http.StatusNotFound, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		return
	}
	if s.status != 0 {
		writeJSON(w, s.status, s.body)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: invalid limit"}`)
			return
		}
		if n >= 1 && n < limit {
			limit = n
		}
	}

	window := s.envelopes
	if len(window) > limit {
		window = window[:limit]
	}
	parts := make([]string, len(window))
	for i, raw := range window {
		parts[i] = string(raw)
	}
	writeJSON(w, http.StatusOK, `{"ok":true,"result":[`+strings.Join(parts, ",")+`]}`)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
