package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

const (
	msgCreateFailed  = "Sorry, your ticket could not be created. Please try again later."
	msgNotStaff      = "You are not staff."
	msgNotOpen       = "This ticket is no longer open."
	msgStaffLookup   = "Could not verify your staff role right now. Please try again."
	msgUnknownAction = "Unknown ticket action."
)

var _ connector.Handler = (*Service)(nil)

// HandleCreate serves a ticket-type selection from the platform.
func (s *Service) HandleCreate(ctx context.Context, req connector.CreateRequest) {
	t, err := s.Create(ctx, req)
	if err != nil {
		s.logger.Error("ticket creation failed", "user", req.UserID, "type", req.Type, "error", err)
		req.Respond.Reply(msgCreateFailed)
		return
	}
	req.Respond.Reply(fmt.Sprintf("Your ticket has been created: <#%s>", t.ID))
}

// HandleAction serves the claim and close buttons.
func (s *Service) HandleAction(ctx context.Context, ev connector.ActionEvent) {
	switch ev.Action {
	case connector.ActionClaim:
		_, err := s.Claim(ctx, ev.ChannelID, ev.UserID)
		ev.Respond.Reply(s.claimReply(ev.ChannelID, err))
		if err != nil {
			s.logger.Info("claim rejected", "ticket", ev.ChannelID, "user", ev.UserID, "error", err)
		}
	case connector.ActionClose:
		if _, err := s.tickets.Get(ev.ChannelID); err != nil {
			ev.Respond.Reply(msgNotOpen)
			return
		}
		ev.Respond.Reply(fmt.Sprintf("📋 %s is analysing the ticket...", s.botName))
		if _, err := s.Close(ctx, ev.ChannelID, protocol.CloseManual, ev.UserID); err != nil {
			s.logger.Error("manual close failed", "ticket", ev.ChannelID, "error", err)
		}
	default:
		ev.Respond.Reply(msgUnknownAction)
	}
}

// HandleMessage routes channel messages to OnActivity.
func (s *Service) HandleMessage(ctx context.Context, msg protocol.Message) {
	s.OnActivity(ctx, msg)
}

func (s *Service) claimReply(id string, err error) string {
	var cerr *protocol.CollaboratorError
	switch {
	case err == nil:
		return fmt.Sprintf("Ticket claimed. %s will stay quiet unless asked.", s.botName)
	case errors.Is(err, protocol.ErrUnauthorized):
		return msgNotStaff
	case errors.Is(err, protocol.ErrAlreadyClaimed):
		if t, gerr := s.tickets.Get(id); gerr == nil && t.ClaimedBy != "" {
			return "This ticket is already claimed by " + Mention(t.ClaimedBy) + "."
		}
		return "This ticket is already claimed."
	case errors.Is(err, protocol.ErrNotFound):
		return msgNotOpen
	case errors.As(err, &cerr):
		return msgStaffLookup
	default:
		return msgNotOpen
	}
}
