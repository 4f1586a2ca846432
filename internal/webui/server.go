// Package webui exposes the browser chat surface: a small JSON API plus a
// websocket feed of streamed chunks and finished responses. The UI never
// calls the controller directly; chat inputs are queued here and handed to
// the pipe dispatcher, which owns all conversation state.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seliel/aria/internal/memory"
	"github.com/seliel/aria/internal/metrics"
	"github.com/seliel/aria/internal/prompt"
)

// Message is one chat input submitted through the web UI.
type Message struct {
	User string `json:"user"`
	Text string `json:"text"`
}

// Deps are the read-side views and pipe triggers the UI needs.
type Deps struct {
	History    func() []prompt.Exchange
	StoreStats func(context.Context) memory.Stats
	Metrics    *metrics.Collector
	// EnqueueChat and EnqueueNext push the matching pipe process after an
	// input was accepted. Either may be nil (surface disabled).
	EnqueueChat func()
	EnqueueNext func()
}

// Server is the HTTP/websocket surface.
type Server struct {
	addr   string
	deps   Deps
	logger *slog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	inbox   []Message
}

// New creates the server for addr (host:port).
func New(addr string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The UI is served same-origin; ws connects from localhost tools too.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/next", s.handleNext)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // long for LLM responses
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web UI available", "url", fmt.Sprintf("http://%s/", s.addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web UI server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, []prompt.Exchange{})
		return
	}
	type pair struct {
		User string `json:"user"`
		AI   string `json:"ai"`
	}
	history := s.deps.History()
	out := make([]pair, len(history))
	for i, ex := range history {
		out[i] = pair{User: ex.User, AI: ex.AI}
	}
	writeJSON(w, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	payload := struct {
		Store   *memory.Stats     `json:"store,omitempty"`
		Runtime *metrics.Snapshot `json:"runtime,omitempty"`
	}{}
	if s.deps.StoreStats != nil {
		stats := s.deps.StoreStats(r.Context())
		payload.Store = &stats
	}
	if s.deps.Metrics != nil {
		snap := s.deps.Metrics.Snapshot()
		payload.Runtime = &snap
	}
	writeJSON(w, payload)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}
	if msg.User == "" {
		msg.User = "web"
	}

	s.mu.Lock()
	s.inbox = append(s.inbox, msg)
	s.mu.Unlock()

	if s.deps.EnqueueChat != nil {
		s.deps.EnqueueChat()
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.EnqueueNext != nil {
		s.deps.EnqueueNext()
	}
	w.WriteHeader(http.StatusAccepted)
}

// NextInput pops the oldest queued chat input, if any. The shadow-chat pipe
// handler calls this.
func (s *Server) NextInput() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbox) == 0 {
		return Message{}, false
	}
	msg := s.inbox[0]
	s.inbox = s.inbox[1:]
	return msg, true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	// Read loop only detects closure; the UI never sends over the socket.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
}

type event struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BroadcastChunk pushes one streamed chunk to every websocket client.
func (s *Server) BroadcastChunk(chunk string) {
	s.broadcast(event{Type: "chunk", Text: chunk})
}

// BroadcastResponse pushes a finished response to every websocket client.
func (s *Server) BroadcastResponse(response string) {
	s.broadcast(event{Type: "response", Text: response})
}

func (s *Server) broadcast(ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			_ = conn.Close()
			delete(s.clients, conn)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}
