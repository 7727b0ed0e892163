// Package server provides the HTTP API for rdfproof.
//
// Endpoints:
//
//	POST   /statements   assert an N-Quads body, then re-materialize
//	DELETE /statements   retract an N-Quads body, then re-materialize
//	POST   /materialize  recompute the implicit graph
//	GET    /explain      explain statements: ?s=&p=&o=&c= or ?q=s+p+o+[c]
//	GET    /rules        the active rule catalog
//	GET    /health       liveness
//	GET    /status       counts, ruleset and server statistics
//	GET    /metrics      Prometheus exposition
//
// Terms in query parameters use N-Triples syntax or prefixed names with the
// standard rdf, rdfs, owl, xsd and pr prefixes. An empty parameter, or one
// starting with "?", leaves the slot open.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orneryd/rdfproof/pkg/config"
	"github.com/orneryd/rdfproof/pkg/explain"
	"github.com/orneryd/rdfproof/pkg/rdf"
	"github.com/orneryd/rdfproof/pkg/rdfproof"
	"github.com/orneryd/rdfproof/pkg/storage"
)

// Errors for HTTP operations.
var (
	ErrServerClosed     = errors.New("server closed")
	ErrBadRequest       = errors.New("bad request")
	ErrNotFound         = errors.New("not found")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrInternalError    = errors.New("internal server error")
	ErrPayloadTooLarge  = errors.New("request body too large")
)

// Config holds HTTP server configuration.
type Config struct {
	// Address to bind to (default: "127.0.0.1")
	Address string
	// Port to listen on (default: 7480, 0 picks a free port)
	Port int
	// ReadTimeout for requests
	ReadTimeout time.Duration
	// WriteTimeout for responses
	WriteTimeout time.Duration
	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration
	// MaxRequestSize in bytes (default: 64MB)
	MaxRequestSize int64
	// EnableCORS for cross-origin requests
	EnableCORS bool
	// CORSOrigins allowed (default: "*")
	CORSOrigins []string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:        "127.0.0.1",
		Port:           7480,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 64 * 1024 * 1024,
		CORSOrigins:    []string{"*"},
	}
}

// ConfigFrom derives the server configuration from the file settings.
func ConfigFrom(cfg config.ServerConfig) *Config {
	c := DefaultConfig()
	c.Address = cfg.Address
	c.Port = cfg.Port
	c.ReadTimeout = cfg.ReadTimeout
	c.WriteTimeout = cfg.WriteTimeout
	c.EnableCORS = cfg.EnableCORS
	return c
}

// Server is the HTTP API server.
type Server struct {
	config *Config
	db     *rdfproof.DB
	log    *zap.Logger

	httpServer *http.Server
	listener   net.Listener
	handler    http.Handler

	closed  atomic.Bool
	started time.Time

	requestCount   atomic.Int64
	errorCount     atomic.Int64
	activeRequests atomic.Int64
}

// New creates a new HTTP server. logger may be nil.
func New(db *rdfproof.DB, config *Config, logger *zap.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:  config,
		db:      db,
		log:     logger.With(zap.String("component", "server")),
		started: time.Now(),
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP connections.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := net.JoinHostPort(s.config.Address, fmt.Sprint(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.started = time.Now()
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server stopped", zap.Error(err))
		}
	}()

	s.log.Info("listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stats returns server statistics.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Uptime:         time.Since(s.started),
		RequestCount:   s.requestCount.Load(),
		ErrorCount:     s.errorCount.Load(),
		ActiveRequests: s.activeRequests.Load(),
	}
}

// ServerStats holds server metrics.
type ServerStats struct {
	Uptime         time.Duration `json:"uptime"`
	RequestCount   int64         `json:"request_count"`
	ErrorCount     int64         `json:"error_count"`
	ActiveRequests int64         `json:"active_requests"`
}

// =============================================================================
// Router Setup
// =============================================================================

var routes = []string{"/", "/statements", "/materialize", "/explain", "/rules", "/health", "/status", "/metrics"}

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleDiscovery)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", s.db.Metrics().Handler())

	mux.HandleFunc("/statements", s.handleStatements)
	mux.HandleFunc("/materialize", s.handleMaterialize)
	mux.HandleFunc("/explain", s.handleExplain)
	mux.HandleFunc("/rules", s.handleRules)

	handler := s.corsMiddleware(mux)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	handler = s.metricsMiddleware(handler)
	handler = s.requestIDMiddleware(handler)

	return handler
}

// =============================================================================
// Middleware
// =============================================================================

type contextKey string

const contextKeyRequestID = contextKey("request_id")

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(contextKeyRequestID).(string)
	return id
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, id)))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.EnableCORS {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}

			allowed := false
			for _, o := range s.config.CORSOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Health checks are too frequent to log.
		if r.URL.Path != "/health" {
			s.logRequest(r, wrapped.status, time.Since(start))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				s.log.Error("panic in handler",
					zap.Any("panic", err),
					zap.String("request_id", requestID(r)),
					zap.ByteString("stack", buf[:n]))
				s.writeError(w, http.StatusInternalServerError, "internal server error", ErrInternalError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.db.Metrics().ObserveHTTP(routeLabel(r.URL.Path), wrapped.status, time.Since(start))
	})
}

// routeLabel keeps metric cardinality bounded by folding unknown paths.
func routeLabel(path string) string {
	for _, r := range routes {
		if r == path {
			return r
		}
	}
	return "other"
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "no such endpoint: "+r.URL.Path, ErrNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      "rdfproof",
		"ruleset":   s.db.Rules().Name,
		"endpoints": routes[1:],
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.Stats()
	dbStats, err := s.db.Stats(r.Context())
	if err != nil {
		s.writeDBError(w, err)
		return
	}

	response := map[string]interface{}{
		"status": "running",
		"server": map[string]interface{}{
			"uptime_seconds": stats.Uptime.Seconds(),
			"requests":       stats.RequestCount,
			"errors":         stats.ErrorCount,
			"active":         stats.ActiveRequests,
			"memory_mb":      getMemoryUsageMB(),
		},
		"database": dbStats,
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatements(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.config.MaxRequestSize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", s.config.MaxRequestSize), ErrPayloadTooLarge)
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	var (
		res rdfproof.WriteResult
		err error
	)
	switch r.Method {
	case http.MethodPost:
		res, err = s.db.LoadNQuads(r.Context(), body)
	case http.MethodDelete:
		res, err = s.db.DeleteNQuads(r.Context(), body)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "POST or DELETE required", ErrMethodNotAllowed)
		return
	}
	if err != nil {
		// A body cut at the cap usually surfaces as a parse error on its last line.
		var maxErr *http.MaxBytesError
		if _, rerr := body.Read(nil); errors.As(rerr, &maxErr) {
			err = rerr
		}
		s.writeDBError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required", ErrMethodNotAllowed)
		return
	}
	stats, err := s.db.Materialize(r.Context())
	if err != nil {
		s.writeDBError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// ExplainResponse is the body of GET /explain.
type ExplainResponse struct {
	Ruleset  string          `json:"ruleset"`
	Solution rdf.Term        `json:"solution"`
	Request  string          `json:"request"`
	Rows     []explain.Tuple `json:"rows"`
	Count    int             `json:"count"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required", ErrMethodNotAllowed)
		return
	}
	req, err := s.explainRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), ErrBadRequest)
		return
	}

	designator, solutions, err := s.db.Solutions(r.Context(), req)
	if err != nil {
		s.writeDBError(w, err)
		return
	}
	rows := make([]explain.Tuple, len(solutions))
	for i, sol := range solutions {
		rows[i] = sol.Tuple
	}
	s.writeJSON(w, http.StatusOK, ExplainResponse{
		Ruleset:  s.db.Rules().Name,
		Solution: designator,
		Request:  req.String(),
		Rows:     rows,
		Count:    len(rows),
	})
}

// explainRequest reads either q or the s, p, o and c parameters.
func (s *Server) explainRequest(r *http.Request) (explain.Request, error) {
	query := r.URL.Query()
	prefixes := s.db.Prefixes()
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		return explain.ParseRequest(q, prefixes)
	}

	var req explain.Request
	slots := []struct {
		name string
		dst  *rdf.Term
	}{
		{"s", &req.Subject}, {"p", &req.Predicate}, {"o", &req.Object}, {"c", &req.Context},
	}
	for _, slot := range slots {
		v := strings.TrimSpace(query.Get(slot.name))
		if v == "" || strings.HasPrefix(v, "?") {
			continue
		}
		term, err := rdf.ParseTerm(v, prefixes)
		if err != nil {
			return req, fmt.Errorf("%w: parameter %s: %v", explain.ErrBadRequest, slot.name, err)
		}
		*slot.dst = term
	}
	return req, nil
}

type ruleJSON struct {
	ID       string   `json:"id"`
	If       []string `json:"if"`
	Then     []string `json:"then"`
	Identity bool     `json:"identity,omitempty"`
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required", ErrMethodNotAllowed)
		return
	}
	cat := s.db.Rules()
	out := make([]ruleJSON, 0, cat.Len())
	for _, rule := range cat.Rules {
		rj := ruleJSON{ID: rule.ID, Identity: rule.Identity}
		for _, p := range rule.Antecedents {
			rj.If = append(rj.If, p.String())
		}
		for _, p := range rule.Consequents {
			rj.Then = append(rj.Then, p.String())
		}
		out = append(out, rj)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        cat.Name,
		"description": cat.Description,
		"fingerprint": cat.Fingerprint(),
		"rules":       out,
	})
}

// =============================================================================
// Helpers
// =============================================================================

func getMemoryUsageMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, err error) {
	s.errorCount.Add(1)

	response := map[string]interface{}{
		"error":   true,
		"message": message,
		"code":    status,
	}
	s.writeJSON(w, status, response)
}

// writeDBError maps database errors to status codes.
func (s *Server) writeDBError(w http.ResponseWriter, err error) {
	var (
		perr   *rdf.ParseError
		maxErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxErr):
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), ErrPayloadTooLarge)
	case errors.As(err, &perr),
		errors.Is(err, rdf.ErrInvalidTerm),
		errors.Is(err, storage.ErrInvalidQuad),
		errors.Is(err, explain.ErrBadRequest):
		s.writeError(w, http.StatusBadRequest, err.Error(), ErrBadRequest)
	case errors.Is(err, rdfproof.ErrClosed),
		errors.Is(err, storage.ErrStorageClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusServiceUnavailable, err.Error(), err)
	default:
		s.log.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error(), ErrInternalError)
	}
}

func (s *Server) logRequest(r *http.Request, status int, duration time.Duration) {
	s.log.Info("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("request_id", requestID(r)))
}
