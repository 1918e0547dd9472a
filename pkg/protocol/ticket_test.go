package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseTicketType(t *testing.T) {
	got, err := ParseTicketType(" incident ")
	if err != nil {
		t.Fatalf("ParseTicketType: %v", err)
	}
	if got != TicketIncident {
		t.Errorf("got %q, want Incident", got)
	}
	if _, err := ParseTicketType("bug"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestChannelName(t *testing.T) {
	if got := ChannelName(TicketFeedback, "Max Power"); got != "feedback-max-power" {
		t.Errorf("ChannelName = %q", got)
	}
}

func TestTicketTypeColor(t *testing.T) {
	if TicketIncident.Color() == TicketGeneral.Color() {
		t.Error("incident and general should differ")
	}
	if TicketType("unknown").Color() != TicketGeneral.Color() {
		t.Error("unknown types fall back to the general color")
	}
}

func TestCollaboratorErrorUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("create: %w", &CollaboratorError{Collaborator: "chat", Op: "create channel", Err: base})
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to reach the wrapped error")
	}
	var ce *CollaboratorError
	if !errors.As(err, &ce) || ce.Collaborator != "chat" {
		t.Errorf("errors.As = %+v", ce)
	}
}

func TestTicketClone(t *testing.T) {
	orig := &Ticket{ID: "c1", Status: TicketOpen}
	c := orig.Clone()
	c.Status = TicketClaimed
	if orig.Status != TicketOpen {
		t.Error("clone shares state with original")
	}
}
