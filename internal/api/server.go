package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/totalracingleague26/Dave-bot/internal/archive"
	"github.com/totalracingleague26/Dave-bot/internal/logbuf"
	"github.com/totalracingleague26/Dave-bot/internal/ticket"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf.Buffer directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// TicketService is what the API needs from the ticket lifecycle.
type TicketService interface {
	Tickets() *ticket.Registry
	Deadline(id string) (time.Time, bool)
	Close(ctx context.Context, id string, reason protocol.CloseReason, actorID string) (bool, error)
}

// TicketView is an open ticket with its auto-close deadline.
type TicketView struct {
	*protocol.Ticket
	Deadline         *time.Time `json:"deadline,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds,omitempty"`
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithLogs serves GET /api/logs from q.
func WithLogs(q LogQuerier) Option { return func(s *Server) { s.logs = q } }

// WithArchive serves GET /api/archive from store.
func WithArchive(store archive.Store) Option { return func(s *Server) { s.archive = store } }

// WithMetrics serves GET /metrics from h.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithWebhook mounts h at POST /api/webhook/{name}. The webhook handler
// authenticates requests itself.
func WithWebhook(h http.Handler) Option { return func(s *Server) { s.webhook = h } }

// Server is the operator REST API.
type Server struct {
	svc     TicketService
	cfg     Config
	logger  *slog.Logger
	logs    LogQuerier
	archive archive.Store
	metrics http.Handler
	webhook http.Handler
	srv     *http.Server
	now     func() time.Time
}

// NewServer creates a new API server.
func NewServer(svc TicketService, cfg Config, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With("component", "api"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("POST /api/tickets/{id}/close", s.requireAuth(s.handleCloseTicket))
	mux.HandleFunc("GET /api/archive", s.requireAuth(s.handleListArchive))
	mux.HandleFunc("GET /api/archive/{id}", s.requireAuth(s.handleGetArchive))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.webhook != nil {
		mux.Handle("POST /api/webhook/{name}", s.webhook)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"open_tickets": s.svc.Tickets().Len(),
	})
}

func (s *Server) view(t *protocol.Ticket) TicketView {
	v := TicketView{Ticket: t}
	if dl, ok := s.svc.Deadline(t.ID); ok {
		v.Deadline = &dl
		if rem := dl.Sub(s.now()); rem > 0 {
			v.RemainingSeconds = int64(rem / time.Second)
		}
	}
	return v
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var wantType protocol.TicketType
	if tt := q.Get("type"); tt != "" {
		parsed, err := protocol.ParseTicketType(tt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		wantType = parsed
	}
	wantStatus := protocol.TicketStatus(q.Get("status"))

	views := []TicketView{}
	for _, t := range s.svc.Tickets().List() {
		if wantType != "" && t.Type != wantType {
			continue
		}
		if wantStatus != "" && t.Status != wantStatus {
			continue
		}
		views = append(views, s.view(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Tickets().Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.view(t))
}

type closeRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := closeRequest{}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	closed, err := s.svc.Close(r.Context(), id, protocol.CloseManual, req.Actor)
	if !closed {
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not open"})
		return
	}
	resp := map[string]string{"status": "closed", "ticket_id": id}
	if err != nil {
		s.logger.Warn("close cleanup failed", "ticket", id, "error", err)
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusOK, []*archive.Entry{})
		return
	}
	q := r.URL.Query()
	filter := archive.Filter{
		Reason:  protocol.CloseReason(q.Get("reason")),
		OwnerID: q.Get("owner"),
		Query:   q.Get("q"),
		Limit:   50,
	}
	if tt := q.Get("type"); tt != "" {
		parsed, err := protocol.ParseTicketType(tt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		filter.Type = parsed
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	entries, err := s.archive.List(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []*archive.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "archive disabled"})
		return
	}
	e, err := s.archive.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, protocol.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	q := r.URL.Query()
	filter := logbuf.Filter{
		MinLevel:  slog.LevelDebug,
		Ticket:    q.Get("ticket"),
		Component: q.Get("component"),
		Contains:  q.Get("q"),
		Limit:     200,
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if lvl := q.Get("level"); lvl != "" {
		filter.MinLevel = logbuf.ParseLevel(lvl)
	}
	if since := q.Get("since"); since != "" {
		if ms, err := strconv.ParseInt(since, 10, 64); err == nil {
			filter.Since = time.UnixMilli(ms)
		}
	}

	writeJSON(w, http.StatusOK, s.logs.Query(filter))
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
