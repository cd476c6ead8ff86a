// Package httpapi exposes a node's Entity Store, Sync Engine, and Tool
// Dispatcher over plain HTTP: POST /sync drives one server-side sync
// cycle, POST /tools/{name} forwards to the dispatcher, GET
// /entities/{id}[/versions/{version}] reads a single entity, and
// /health, /healthz, /readyz mirror the node's liveness the same way a
// direct caller would poll it.
//
// Auth is an optional bearer token checked against the Authorization
// header, the same scheme internal/rpc's HTTP wrapper uses for its
// Connect-RPC-style endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/inbetweenies/graphsync/internal/dispatcher"
	"github.com/inbetweenies/graphsync/internal/storage"
	"github.com/inbetweenies/graphsync/internal/syncengine"
	"github.com/inbetweenies/graphsync/internal/types"
)

// Server wraps an Engine and Dispatcher with an HTTP listener.
type Server struct {
	engine     *syncengine.Engine
	dispatcher *dispatcher.Dispatcher
	store      storage.Storage
	token      string
	startedAt  time.Time

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	addr       string
}

// New builds a Server. token may be empty to disable bearer-token auth
// (e.g. a node reachable only over a private network).
func New(engine *syncengine.Engine, d *dispatcher.Dispatcher, store storage.Storage, addr, token string) *Server {
	return &Server{
		engine: engine, dispatcher: d, store: store,
		addr: addr, token: token, startedAt: time.Now(),
	}
}

// Start binds addr and serves until ctx is cancelled, then shuts down
// gracefully within 5 seconds.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleHealth)
	mux.HandleFunc("/sync", s.auth(s.handleSync))
	mux.HandleFunc("/tools/", s.auth(s.handleTool))
	mux.HandleFunc("/entities/", s.auth(s.handleEntity))

	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var err error
	s.mu.Lock()
	s.listener, err = net.Listen("tcp", s.addr)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("httpapi: listen on %s: %w", s.addr, err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	return s.httpServer.Serve(s.listener)
}

// Addr reports the address actually bound, useful when addr was ":0".
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token != s.token {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	seq, err := s.store.LatestSequence(r.Context())
	status := "healthy"
	if err != nil {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"uptime_seconds":  time.Since(s.startedAt).Seconds(),
		"latest_sequence": seq,
		"sync_state":      s.engine.State().String(),
	})
}

// handleSync handles POST /sync: a client's sync.Request body, answered
// with the server's sync.Response via Engine.HandleRequest.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 32*1024*1024))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req syncengine.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed sync request: "+err.Error())
		return
	}
	resp, err := s.engine.HandleRequest(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleTool handles POST /tools/{name}, forwarding the raw JSON body as
// that tool's arguments.
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/tools/")
	if name == "" {
		s.writeError(w, http.StatusNotFound, "missing tool name")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	res := s.dispatcher.Dispatch(r.Context(), dispatcher.ToolName(name), json.RawMessage(body))
	status := http.StatusOK
	if !res.Success {
		status = statusForKind(res.Error)
	}
	s.writeJSON(w, status, res)
}

// handleEntity handles GET /entities/{id} (current version) and GET
// /entities/{id}/versions/{version} (a specific version).
func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/entities/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "missing entity id")
		return
	}

	var (
		e   *types.Entity
		err error
	)
	switch {
	case len(parts) == 1:
		e, err = s.store.GetCurrent(r.Context(), parts[0])
	case len(parts) == 3 && parts[1] == "versions":
		e, err = s.store.GetVersion(r.Context(), parts[0], parts[2])
	default:
		s.writeError(w, http.StatusNotFound, "invalid entity path")
		return
	}
	if err != nil {
		s.writeError(w, statusForErr(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

func statusForKind(ge *types.GraphError) int {
	if ge == nil {
		return http.StatusInternalServerError
	}
	switch ge.Kind {
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindParentMismatch, types.KindConflict, types.KindDuplicateVersion:
		return http.StatusConflict
	case types.KindSchemaError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func statusForErr(err error) int {
	if ge, ok := err.(*types.GraphError); ok {
		return statusForKind(ge)
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
