// Package httpsse implements the HTTP+SSE transport (spec components C7/C8):
// a long-lived Server-Sent-Events stream per client plus a companion POST
// endpoint for inbound JSON-RPC messages, built on the same rakunlabs/ada
// router and middleware stack the teacher's gateway server uses
// (internal/server/server.go).
package httpsse

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/DidelotK/mcp-hubspot/internal/cache"
	"github.com/DidelotK/mcp-hubspot/internal/config"
	"github.com/DidelotK/mcp-hubspot/internal/crm"
	"github.com/DidelotK/mcp-hubspot/internal/embedx"
	"github.com/DidelotK/mcp-hubspot/internal/mcpcore"
)

// primaryKinds are the three kinds /force-reindex rebuilds (spec §4.7,
// Scenario 6), deliberately excluding engagements.
var primaryKinds = []crm.EntityKind{crm.KindContact, crm.KindCompany, crm.KindDeal}

// outboundQueueCapacity bounds how many undelivered SSE frames a session
// will buffer before the session is dropped as unresponsive.
const outboundQueueCapacity = 64

// Session is one connected SSE client: a session id the client echoes back
// on /messages/{session}, and a bounded outbound frame queue drained by the
// /sse handler's write loop.
type Session struct {
	ID      string
	outbox  chan string
	closeMu sync.Once
	done    chan struct{}
}

func newSession() *Session {
	return &Session{
		ID:     uuid.NewString(),
		outbox: make(chan string, outboundQueueCapacity),
		done:   make(chan struct{}),
	}
}

func (s *Session) close() {
	s.closeMu.Do(func() { close(s.done) })
}

// send enqueues a frame, dropping it if the session's client is too slow to
// keep up rather than blocking the dispatcher.
func (s *Session) send(frame string) bool {
	select {
	case s.outbox <- frame:
		return true
	default:
		return false
	}
}

// Server wires the SSE session registry, the shared dispatcher, and the
// embedding manager (for /faiss-data and /force-reindex) into an ada.Server.
type Server struct {
	cfg        *config.Config
	dispatcher *mcpcore.Dispatcher
	embed      *embedx.Manager
	cache      *cache.Cache
	router     *ada.Server

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds the HTTP+SSE server. embed may be nil when embeddings are
// disabled; /faiss-data then always answers 404.
func New(cfg *config.Config, dispatcher *mcpcore.Dispatcher, embed *embedx.Manager, c *cache.Cache) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		embed:      embed,
		cache:      c,
		router:     ada.New(),
		sessions:   make(map[string]*Session),
	}

	s.router.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ready", s.handleReady)

	protected := s.router.Group("")
	protected.Use(s.authMiddleware())
	protected.GET("/sse", s.handleSSE)
	protected.POST("/messages/{session}", s.handleMessages)
	protected.GET("/faiss-data", s.handleFaissData)
	protected.POST("/force-reindex", s.handleForceReindex)

	return s
}

// Start blocks serving on cfg.Host:cfg.Port until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	return s.router.StartWithContext(ctx, net.JoinHostPort(s.cfg.Host, s.cfg.Port))
}

// ─── auth ───

// authMiddleware enforces the shared-secret header on every route in its
// group, except the conditional exemptions spec §6 grants /faiss-data and
// /force-reindex.
func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.AuthKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.URL.Path == "/faiss-data" && !s.cfg.FaissDataSecure {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/force-reindex" && s.cfg.DataProtectionDisabled {
				next.ServeHTTP(w, r)
				return
			}

			supplied := r.Header.Get(s.cfg.AuthHeader)
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.AuthKey)) != 1 {
				jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ─── health/ready ───

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   config.Version,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"authEnabled": s.cfg.AuthKey != "",
		"authHeader":  s.cfg.AuthHeader,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ─── SSE ───

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	session := newSession()
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, session.ID)
		s.mu.Unlock()
		session.close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: endpoint\ndata: /messages/%s\n\n", session.ID)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-session.done:
			return
		case frame := <-session.outbox:
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}

	var req mcpcore.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON-RPC request"})
		return
	}

	resp := s.dispatcher.Handle(r.Context(), req)
	w.WriteHeader(http.StatusAccepted)

	if req.IsNotification() {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if !session.send(string(raw)) {
		// Outbound queue full: the client is too slow or gone. Drop the
		// frame rather than block the request goroutine.
		session.close()
	}
}

// ─── admin ───

func (s *Server) handleFaissData(w http.ResponseWriter, r *http.Request) {
	if s.embed == nil {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "embeddings disabled"})
		return
	}
	jsonResponse(w, http.StatusOK, s.embed.Stats())
}

func (s *Server) handleForceReindex(w http.ResponseWriter, r *http.Request) {
	if s.embed == nil {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "embeddings disabled"})
		return
	}

	if s.cache != nil {
		s.cache.Clear()
	}

	report, err := s.embed.Rebuild(r.Context(), primaryKinds, 1000)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, report)
}

// ─── helpers ───

func jsonResponse(w http.ResponseWriter, code int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(raw)
}
