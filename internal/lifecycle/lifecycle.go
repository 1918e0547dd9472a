// Package lifecycle drives tickets from creation through claim to closure.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/totalracingleague26/Dave-bot/internal/assistant"
	"github.com/totalracingleague26/Dave-bot/internal/audit"
	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/internal/metrics"
	"github.com/totalracingleague26/Dave-bot/internal/summary"
	"github.com/totalracingleague26/Dave-bot/internal/ticket"
	"github.com/totalracingleague26/Dave-bot/internal/timer"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

const (
	DefaultAutoClose    = 72 * time.Hour
	DefaultHistoryLimit = 100

	timerCloseTimeout = 2 * time.Minute
)

// Replier generates assistant replies.
type Replier interface {
	GenerateReply(ctx context.Context, t protocol.TicketType, userMessage string) assistant.Result
}

// Summarizer condenses a transcript. It never fails; see assistant.Result.Fallback.
type Summarizer interface {
	Run(ctx context.Context, t protocol.TicketType, transcript string) assistant.Result
}

// Config wires a Service to its collaborators.
type Config struct {
	Platform  connector.Platform
	Tickets   *ticket.Registry
	Timers    *timer.Service
	Assistant Replier
	Summary   Summarizer
	Audit     audit.Sink // optional
	Metrics   *metrics.Metrics

	AutoClose    time.Duration
	HistoryLimit int
	BotName      string
}

// Service is the ticket state machine. Every per-ticket decision goes
// through an atomic registry operation; no lock is held across a
// platform or AI call.
type Service struct {
	platform  connector.Platform
	tickets   *ticket.Registry
	timers    *timer.Service
	assistant Replier
	summary   Summarizer
	audit     audit.Sink
	metrics   *metrics.Metrics

	autoClose    time.Duration
	historyLimit int
	botName      string

	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service. Registry and timer service are created when nil.
func New(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "lifecycle")
	s := &Service{
		platform:     cfg.Platform,
		tickets:      cfg.Tickets,
		timers:       cfg.Timers,
		assistant:    cfg.Assistant,
		summary:      cfg.Summary,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		autoClose:    cfg.AutoClose,
		historyLimit: cfg.HistoryLimit,
		botName:      cfg.BotName,
		logger:       logger,
		now:          time.Now,
	}
	if s.tickets == nil {
		s.tickets = ticket.NewRegistry(logger)
	}
	if s.timers == nil {
		s.timers = timer.New(logger)
	}
	if s.autoClose <= 0 {
		s.autoClose = DefaultAutoClose
	}
	if s.historyLimit <= 0 {
		s.historyLimit = DefaultHistoryLimit
	}
	if s.botName == "" {
		s.botName = "Dave"
	}
	return s
}

// Tickets returns the registry backing the service.
func (s *Service) Tickets() *ticket.Registry { return s.tickets }

// Deadline reports when the ticket auto-closes if nothing else happens.
func (s *Service) Deadline(id string) (time.Time, bool) { return s.timers.Deadline(id) }

// Create opens a ticket channel for the user. The record is inserted only
// after the channel exists; if the insert fails the channel is removed.
func (s *Service) Create(ctx context.Context, req connector.CreateRequest) (*protocol.Ticket, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("lifecycle: create: user id is required")
	}
	if _, err := protocol.ParseTicketType(string(req.Type)); err != nil {
		return nil, fmt.Errorf("lifecycle: create: %w", err)
	}
	display := req.UserName
	if display == "" {
		display = req.UserID
	}

	spec := connector.ChannelSpec{
		Name:        protocol.ChannelName(req.Type, display),
		Topic:       fmt.Sprintf("%s-%s", req.UserID, req.Type),
		OwnerUserID: req.UserID,
	}
	ch, err := s.platform.CreateChannel(ctx, spec)
	if err != nil {
		return nil, &protocol.CollaboratorError{Collaborator: "chat", Op: "create channel", Err: err}
	}
	if ch.Name == "" {
		ch.Name = spec.Name
	}

	t := &protocol.Ticket{
		ID:          ch.ID,
		Type:        req.Type,
		Status:      protocol.TicketOpen,
		OwnerUserID: req.UserID,
		OwnerName:   display,
		ChannelName: ch.Name,
		CreatedAt:   s.now(),
	}
	if err := s.tickets.Insert(t); err != nil {
		if derr := s.platform.DeleteChannel(ctx, ch.ID); derr != nil {
			s.logger.Error("orphaned ticket channel", "ticket", ch.ID, "error", derr)
		}
		return nil, fmt.Errorf("lifecycle: create: %w", err)
	}

	log := s.logger.With("ticket", t.ID)
	if err := s.timers.Arm(t.ID, s.autoClose, s.onTimerFire); err != nil {
		log.Warn("timer already armed for new ticket, resetting", "error", err)
		s.timers.Reset(t.ID, s.autoClose, s.onTimerFire)
	}
	s.metrics.TicketCreated(string(t.Type))
	log.Info("ticket created", "type", t.Type, "owner", t.OwnerUserID, "channel", t.ChannelName)
	if _, err := s.tickets.Get(t.ID); err != nil {
		// Closed before the timer was armed; drop the arming.
		s.timers.Cancel(t.ID)
		log.Debug("ticket closed during create", "error", err)
		return t, nil
	}

	msgID, err := s.platform.SendMessage(ctx, t.ID, s.promptMessage(t, s.autoClose))
	if err != nil {
		log.Error("post ticket prompt failed", "error", err)
		return t, nil
	}
	updated, err := s.tickets.Update(t.ID, func(cur *protocol.Ticket) error {
		cur.PromptMessageID = msgID
		return nil
	})
	if err != nil {
		// Closed before the prompt landed.
		log.Debug("ticket gone before prompt recorded", "error", err)
		return t, nil
	}
	return updated, nil
}

// Claim assigns the ticket to a staff member and mutes the assistant.
// A second claim is rejected with ErrAlreadyClaimed; claimedBy is never overwritten.
func (s *Service) Claim(ctx context.Context, id, staffID string) (*protocol.Ticket, error) {
	ok, err := s.platform.IsStaff(ctx, staffID)
	if err != nil {
		return nil, &protocol.CollaboratorError{Collaborator: "chat", Op: "staff lookup", Err: err}
	}
	if !ok {
		s.metrics.Claim("unauthorized")
		return nil, fmt.Errorf("lifecycle: claim %s by %s: %w", id, staffID, protocol.ErrUnauthorized)
	}

	t, err := s.tickets.Update(id, func(cur *protocol.Ticket) error {
		if cur.Status != protocol.TicketOpen {
			return fmt.Errorf("claimed by %s: %w", cur.ClaimedBy, protocol.ErrAlreadyClaimed)
		}
		cur.Status = protocol.TicketClaimed
		cur.ClaimedBy = staffID
		cur.MutedForAssistant = true
		return nil
	})
	if err != nil {
		s.metrics.Claim("rejected")
		return nil, fmt.Errorf("lifecycle: claim %s: %w", id, err)
	}
	s.metrics.Claim("ok")

	log := s.logger.With("ticket", id)
	log.Info("ticket claimed", "staff", staffID)
	s.refreshPrompt(ctx, t)
	return t, nil
}

// OnActivity handles a message posted in a channel. Messages outside ticket
// channels and messages from bots are ignored. Activity always extends the
// deadline; the assistant answers only while the ticket is unclaimed.
func (s *Service) OnActivity(ctx context.Context, msg protocol.Message) {
	if msg.IsBot {
		return
	}
	t, err := s.tickets.Get(msg.ChannelID)
	if err != nil {
		return
	}

	s.timers.Reset(t.ID, s.autoClose, s.onTimerFire)
	if _, err := s.tickets.Get(t.ID); err != nil {
		// Closed concurrently; drop the arming we just made.
		s.timers.Cancel(t.ID)
		return
	}

	log := s.logger.With("ticket", t.ID)
	if t.MutedForAssistant {
		s.metrics.AssistantReply("muted")
		log.Debug("activity on claimed ticket, assistant muted", "author", msg.AuthorID)
		return
	}

	res := s.assistant.GenerateReply(ctx, t.Type, msg.Content)
	if res.Fallback {
		s.metrics.AssistantReply("fallback")
		log.Warn("assistant fallback reply", "error", res.Err)
	} else {
		s.metrics.AssistantReply("ok")
	}
	if _, err := s.platform.SendMessage(ctx, t.ID, connector.OutboundMessage{Content: res.Text}); err != nil {
		log.Error("send assistant reply failed", "error", err)
	}
}

// Close removes the ticket and tears it down: cancel the timer, summarise
// the history, publish the audit record, then delete the channel. Only the
// caller whose Remove succeeds does any of this; everyone else gets
// (false, nil). A non-nil error means the ticket was closed but a cleanup
// step failed.
func (s *Service) Close(ctx context.Context, id string, reason protocol.CloseReason, actorID string) (bool, error) {
	t, err := s.tickets.Remove(id)
	if err != nil {
		if errors.Is(err, protocol.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lifecycle: close %s: %w", id, err)
	}
	s.timers.Cancel(id)

	log := s.logger.With("ticket", id)
	log.Info("closing ticket", "reason", reason, "actor", actorID)

	history, res := s.summarize(ctx, t)
	if res.Fallback {
		s.metrics.Summary("fallback")
	} else {
		s.metrics.Summary("ok")
	}

	if s.audit != nil {
		rec := audit.Record{
			Ticket:          *t,
			Reason:          reason,
			ClosedBy:        actorID,
			Summary:         res.Text,
			SummaryFallback: res.Fallback,
			Transcript:      history,
			ClosedAt:        s.now(),
		}
		if err := s.audit.Record(ctx, rec); err != nil {
			log.Error("audit record failed", "error", err)
		}
	}

	s.metrics.TicketClosed(string(t.Type), string(reason))
	if err := s.platform.DeleteChannel(ctx, id); err != nil {
		log.Error("delete ticket channel failed", "error", err)
		return true, &protocol.CollaboratorError{Collaborator: "chat", Op: "delete channel", Err: err}
	}
	log.Info("ticket closed", "reason", reason)
	return true, nil
}

// summarize reads the channel history and runs the summary pipeline.
// If the history cannot be read the AI is not called.
func (s *Service) summarize(ctx context.Context, t *protocol.Ticket) ([]protocol.Message, assistant.Result) {
	history, err := s.platform.FetchHistory(ctx, t.ID, s.historyLimit)
	if err != nil {
		cerr := &protocol.CollaboratorError{Collaborator: "chat", Op: "fetch history", Err: err}
		s.logger.Warn("history unavailable, using fallback summary", "ticket", t.ID, "error", err)
		return nil, assistant.Fallback(summary.Fallback, cerr)
	}
	return history, s.summary.Run(ctx, t.Type, summary.Transcript(history))
}

func (s *Service) onTimerFire(id string) {
	s.metrics.TimerFired()
	ctx, cancel := context.WithTimeout(context.Background(), timerCloseTimeout)
	defer cancel()

	closed, err := s.Close(ctx, id, protocol.CloseTimeout, "")
	if err != nil {
		s.logger.Error("auto-close failed", "ticket", id, "error", err)
		return
	}
	if !closed {
		s.logger.Debug("auto-close skipped, ticket already closed", "ticket", id)
	}
}

// RefreshCountdowns rewrites the auto-close field of every ticket prompt.
// It returns the number of prompts updated.
func (s *Service) RefreshCountdowns(ctx context.Context) int {
	n := 0
	for _, t := range s.tickets.List() {
		if ctx.Err() != nil {
			break
		}
		if t.PromptMessageID == "" {
			continue
		}
		if s.refreshPrompt(ctx, t) {
			n++
		}
	}
	return n
}

func (s *Service) refreshPrompt(ctx context.Context, t *protocol.Ticket) bool {
	if t.PromptMessageID == "" {
		return false
	}
	deadline, ok := s.timers.Deadline(t.ID)
	if !ok {
		return false
	}
	msg := s.promptMessage(t, deadline.Sub(s.now()))
	if err := s.platform.EditMessage(ctx, t.ID, t.PromptMessageID, msg); err != nil {
		s.logger.Warn("edit ticket prompt failed", "ticket", t.ID, "error", err)
		return false
	}
	return true
}
