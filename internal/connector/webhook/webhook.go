package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// Config holds webhook trigger configuration.
type Config struct {
	// Endpoints maps endpoint names to their auth settings,
	// e.g. {"forms": {Secret: "whsec_abc"}, "ops": {BearerToken: "xyz"}}.
	Endpoints map[string]EndpointConfig `json:"endpoints"`
}

// EndpointConfig holds per-endpoint webhook configuration.
type EndpointConfig struct {
	// Secret for HMAC-SHA256 signature verification (X-Hub-Signature-256 header).
	// If empty, Bearer auth is used instead.
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
}

// Payload is the expected JSON body for webhook requests.
type Payload struct {
	Action    string `json:"action"` // create, claim or close
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	Type      string `json:"type,omitempty"`       // create only
	ChannelID string `json:"channel_id,omitempty"` // claim and close
}

// Lifecycle is the subset of the ticket lifecycle the webhook drives.
type Lifecycle interface {
	Create(ctx context.Context, req connector.CreateRequest) (*protocol.Ticket, error)
	Claim(ctx context.Context, id, staffID string) (*protocol.Ticket, error)
	Close(ctx context.Context, id string, reason protocol.CloseReason, actorID string) (bool, error)
}

// Handler provides HTTP handlers for webhook endpoints.
type Handler struct {
	config    Config
	lifecycle Lifecycle
	logger    *slog.Logger
}

// New creates a new webhook handler.
func New(cfg Config, lc Lifecycle, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:    cfg,
		lifecycle: lc,
		logger:    logger.With("component", "webhook"),
	}
}

// ServeHTTP handles webhook requests at /api/webhook/{name}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := extractName(r.URL.Path)
	if name == "" {
		http.Error(w, "missing endpoint name in path", http.StatusBadRequest)
		return
	}

	endpoint, ok := h.config.Endpoints[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown webhook endpoint: %s", name), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.authenticate(r, endpoint, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if p.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	logger := h.logger.With("endpoint", name, "action", p.Action, "user", p.UserID)
	switch p.Action {
	case "create":
		h.createTicket(r.Context(), w, p, logger)
	case "claim", "close":
		if p.ChannelID == "" {
			http.Error(w, "channel_id is required", http.StatusBadRequest)
			return
		}
		if p.Action == "claim" {
			h.claimTicket(r.Context(), w, p, logger)
		} else {
			h.closeTicket(r.Context(), w, p, logger)
		}
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", p.Action), http.StatusBadRequest)
	}
}

func (h *Handler) createTicket(ctx context.Context, w http.ResponseWriter, p Payload, logger *slog.Logger) {
	tt := protocol.TicketGeneral
	if p.Type != "" {
		var err error
		if tt, err = protocol.ParseTicketType(p.Type); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	t, err := h.lifecycle.Create(ctx, connector.CreateRequest{UserID: p.UserID, UserName: p.UserName, Type: tt})
	if err != nil {
		logger.Error("webhook create failed", "error", err)
		writeError(w, err)
		return
	}
	logger.Info("ticket created via webhook", "ticket", t.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"status": "created", "ticket": t})
}

func (h *Handler) claimTicket(ctx context.Context, w http.ResponseWriter, p Payload, logger *slog.Logger) {
	t, err := h.lifecycle.Claim(ctx, p.ChannelID, p.UserID)
	if err != nil {
		logger.Info("webhook claim rejected", "ticket", p.ChannelID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "claimed", "ticket": t})
}

func (h *Handler) closeTicket(ctx context.Context, w http.ResponseWriter, p Payload, logger *slog.Logger) {
	closed, err := h.lifecycle.Close(ctx, p.ChannelID, protocol.CloseManual, p.UserID)
	if !closed {
		if err == nil {
			err = protocol.ErrNotFound
		}
		writeError(w, err)
		return
	}
	resp := map[string]any{"status": "closed", "ticket_id": p.ChannelID}
	if err != nil {
		// The ticket is closed; only channel cleanup failed.
		logger.Warn("webhook close cleanup failed", "ticket", p.ChannelID, "error", err)
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var cerr *protocol.CollaboratorError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, protocol.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, protocol.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, protocol.ErrAlreadyClaimed), errors.Is(err, protocol.ErrDuplicateTicket):
		status = http.StatusConflict
	case errors.As(err, &cerr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) authenticate(r *http.Request, endpoint EndpointConfig, body []byte) bool {
	if endpoint.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Signature-256")
		}
		return verifyHMAC(body, endpoint.Secret, sig)
	}

	if endpoint.BearerToken != "" {
		auth := r.Header.Get("Authorization")
		return hmac.Equal([]byte(auth), []byte("Bearer "+endpoint.BearerToken))
	}

	// No auth configured: allow (for development)
	return true
}

// verifyHMAC checks an HMAC-SHA256 signature of the form "sha256=<hex>".
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	expectedMAC, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expectedMAC)
}

// extractName gets the last path segment from /api/webhook/{name}.
func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// ComputeSignature generates an HMAC-SHA256 signature for testing/external use.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
