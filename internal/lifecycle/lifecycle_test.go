package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/totalracingleague26/Dave-bot/internal/assistant"
	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/internal/summary"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func createTicket(t *testing.T, h *harness, user string, typ protocol.TicketType) *protocol.Ticket {
	t.Helper()
	tk, err := h.svc.Create(context.Background(), connector.CreateRequest{UserID: user, UserName: user, Type: typ})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(h.svc.timers.Stop)
	return tk
}

func TestCreate(t *testing.T) {
	h := newHarness(DefaultAutoClose)
	tk, err := h.svc.Create(context.Background(), connector.CreateRequest{UserID: "42", UserName: "Max Power", Type: protocol.TicketFeedback})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer h.svc.timers.Stop()

	if tk.Status != protocol.TicketOpen || tk.MutedForAssistant || tk.ClaimedBy != "" {
		t.Errorf("unexpected initial state: %+v", tk)
	}
	if tk.ChannelName != "feedback-max-power" {
		t.Errorf("channel name = %q", tk.ChannelName)
	}
	if spec := h.platform.channels[tk.ID]; spec.Topic != "42-Feedback" || spec.OwnerUserID != "42" {
		t.Errorf("channel spec = %+v", spec)
	}
	if tk.PromptMessageID == "" {
		t.Error("prompt message id not recorded")
	}
	if !h.svc.timers.Armed(tk.ID) {
		t.Error("timer not armed")
	}

	sent := h.platform.sentTo(tk.ID)
	if len(sent) != 1 {
		t.Fatalf("expected one prompt, got %d", len(sent))
	}
	prompt := sent[0]
	if prompt.Content != "<@42>" {
		t.Errorf("prompt content = %q", prompt.Content)
	}
	if prompt.Embed.Title != "Feedback Ticket" || prompt.Embed.Color != 0x2ECC71 {
		t.Errorf("embed = %+v", prompt.Embed)
	}
	if v, _ := prompt.Embed.Field(FieldAutoClose); v != "🕒 Closes in: **3d 0h 0m**" {
		t.Errorf("countdown = %q", v)
	}
	if len(prompt.Buttons) != 2 || prompt.Buttons[0].Action != connector.ActionClaim || !prompt.Buttons[1].Danger {
		t.Errorf("buttons = %+v", prompt.Buttons)
	}
}

func TestCreateChannelFailureLeavesNothing(t *testing.T) {
	h := newHarness(time.Hour)
	h.platform.createErr = errors.New("missing permissions")

	_, err := h.svc.Create(context.Background(), connector.CreateRequest{UserID: "42", Type: protocol.TicketGeneral})
	var cerr *protocol.CollaboratorError
	if !errors.As(err, &cerr) || cerr.Collaborator != "chat" {
		t.Fatalf("expected chat CollaboratorError, got %v", err)
	}
	if h.svc.tickets.Len() != 0 {
		t.Error("registry should be empty")
	}
	if h.svc.timers.Len() != 0 {
		t.Error("no timer should be armed")
	}
}

func TestCreateInsertFailureDeletesChannel(t *testing.T) {
	h := newHarness(time.Hour)
	first := createTicket(t, h, "u1", protocol.TicketGeneral)
	armed := h.svc.timers.Len()

	h.platform.reuseID = first.ID
	_, err := h.svc.Create(context.Background(), connector.CreateRequest{UserID: "u2", Type: protocol.TicketIncident})
	if !errors.Is(err, protocol.ErrDuplicateTicket) {
		t.Fatalf("expected ErrDuplicateTicket, got %v", err)
	}
	if len(h.platform.deleted) != 1 || h.platform.deleted[0] != first.ID {
		t.Errorf("deleted = %v, want the second channel removed", h.platform.deleted)
	}
	if h.svc.timers.Len() != armed {
		t.Errorf("timers = %d, want %d", h.svc.timers.Len(), armed)
	}
	got, err := h.svc.tickets.Get(first.ID)
	if err != nil || got.OwnerUserID != "u1" {
		t.Errorf("existing ticket disturbed: %+v %v", got, err)
	}
}

func TestCloseDuringCreateLeavesNoTimer(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(time.Hour)
		t.Cleanup(h.svc.timers.Stop)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 10000; j++ {
				if closed, _ := h.svc.Close(context.Background(), "chan-1", protocol.CloseManual, "staff"); closed {
					return
				}
			}
		}()
		if _, err := h.svc.Create(context.Background(), connector.CreateRequest{UserID: "u1", Type: protocol.TicketGeneral}); err != nil {
			t.Fatalf("create: %v", err)
		}
		<-done

		if _, err := h.svc.tickets.Get("chan-1"); err == nil {
			continue
		}
		if h.svc.timers.Armed("chan-1") {
			t.Fatalf("round %d: timer armed for a closed ticket", i)
		}
	}
}

func TestCreateRejectsUnknownType(t *testing.T) {
	h := newHarness(time.Hour)
	if _, err := h.svc.Create(context.Background(), connector.CreateRequest{UserID: "42", Type: "Bogus"}); err == nil {
		t.Fatal("expected error")
	}
	if len(h.platform.channels) != 0 {
		t.Error("no channel should be created")
	}
}

func TestTicketScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(time.Hour, "staff:7")
	tk := createTicket(t, h, "user:42", protocol.TicketIncident)

	if h.svc.tickets.Len() != 1 {
		t.Fatalf("registry len = %d", h.svc.tickets.Len())
	}
	d0, _ := h.svc.Deadline(tk.ID)

	time.Sleep(5 * time.Millisecond)
	h.svc.OnActivity(ctx, h.platform.post(tk.ID, "user:42", "I was punted at T1"))
	if got := h.replier.calls.Load(); got != 1 {
		t.Errorf("expected one assistant reply, got %d", got)
	}
	d1, _ := h.svc.Deadline(tk.ID)
	if !d1.After(d0) {
		t.Error("activity should extend the deadline")
	}

	claimed, err := h.svc.Claim(ctx, tk.ID, "staff:7")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != protocol.TicketClaimed || claimed.ClaimedBy != "staff:7" || !claimed.MutedForAssistant {
		t.Errorf("claimed ticket = %+v", claimed)
	}

	time.Sleep(5 * time.Millisecond)
	h.svc.OnActivity(ctx, h.platform.post(tk.ID, "user:42", "Lap 3, 12:04"))
	if got := h.replier.calls.Load(); got != 1 {
		t.Errorf("muted ticket got an assistant reply (calls=%d)", got)
	}
	d2, _ := h.svc.Deadline(tk.ID)
	if !d2.After(d1) {
		t.Error("activity on a claimed ticket should still extend the deadline")
	}

	closed, err := h.svc.Close(ctx, tk.ID, protocol.CloseManual, "staff:7")
	if err != nil || !closed {
		t.Fatalf("close = %v, %v", closed, err)
	}
	want := "user:42: I was punted at T1\nuser:42: Lap 3, 12:04"
	if got := h.summary.lastTranscript(); got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
	if h.platform.channelExists(tk.ID) {
		t.Error("channel should be deleted")
	}
	if _, err := h.svc.tickets.Get(tk.ID); !errors.Is(err, protocol.ErrNotFound) {
		t.Error("registry should no longer contain the ticket")
	}
	if h.svc.timers.Armed(tk.ID) {
		t.Error("timer should be cancelled")
	}

	recs := h.audit.all()
	if len(recs) != 1 {
		t.Fatalf("expected one audit record, got %d", len(recs))
	}
	if recs[0].Summary != "Incident summary" || recs[0].Reason != protocol.CloseManual || recs[0].Ticket.ClaimedBy != "staff:7" {
		t.Errorf("audit record = %+v", recs[0])
	}
}

func TestConcurrentCloseIsIdempotent(t *testing.T) {
	h := newHarness(time.Hour)
	tk := createTicket(t, h, "u1", protocol.TicketGeneral)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			closed, err := h.svc.Close(context.Background(), tk.ID, protocol.CloseManual, "u1")
			if err != nil {
				t.Errorf("close: %v", err)
			}
			if closed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected one winning close, got %d", wins.Load())
	}
	if h.platform.deletes.Load() != 1 {
		t.Errorf("expected one channel deletion, got %d", h.platform.deletes.Load())
	}
	if h.summary.calls.Load() != 1 {
		t.Errorf("expected one summary, got %d", h.summary.calls.Load())
	}
	if h.platform.historyCalls.Load() != 1 {
		t.Errorf("expected one history fetch, got %d", h.platform.historyCalls.Load())
	}
}

func TestCloseUnknownTicketIsNoop(t *testing.T) {
	h := newHarness(time.Hour)
	closed, err := h.svc.Close(context.Background(), "nope", protocol.CloseManual, "")
	if closed || err != nil {
		t.Errorf("close = %v, %v", closed, err)
	}
	if h.platform.deletes.Load() != 0 || h.summary.calls.Load() != 0 {
		t.Error("no side effects expected")
	}
}

func TestMuteGating(t *testing.T) {
	ctx := context.Background()
	h := newHarness(time.Hour, "staff:1")
	tk := createTicket(t, h, "u1", protocol.TicketReport)

	if _, err := h.svc.Claim(ctx, tk.ID, "staff:1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	prev, _ := h.svc.Deadline(tk.ID)
	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Millisecond)
		h.svc.OnActivity(ctx, h.platform.post(tk.ID, "u1", "anyone there?"))
		next, ok := h.svc.Deadline(tk.ID)
		if !ok || !next.After(prev) {
			t.Fatalf("activity %d did not extend the deadline", i)
		}
		prev = next
	}
	if h.replier.calls.Load() != 0 {
		t.Errorf("expected zero replies, got %d", h.replier.calls.Load())
	}
	// Only the prompt was ever posted.
	if n := len(h.platform.sentTo(tk.ID)); n != 1 {
		t.Errorf("expected only the prompt in channel, got %d messages", n)
	}
}

func TestClaimExclusivity(t *testing.T) {
	h := newHarness(time.Hour, "staff:a", "staff:b")
	tk := createTicket(t, h, "u1", protocol.TicketIncident)

	staff := []string{"staff:a", "staff:b"}
	errs := make([]error, len(staff))
	var wg sync.WaitGroup
	for i, s := range staff {
		wg.Add(1)
		go func(i int, s string) {
			defer wg.Done()
			_, errs[i] = h.svc.Claim(context.Background(), tk.ID, s)
		}(i, s)
	}
	wg.Wait()

	var winner string
	successes := 0
	for i, err := range errs {
		if err == nil {
			successes++
			winner = staff[i]
		} else if !errors.Is(err, protocol.ErrAlreadyClaimed) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", successes)
	}
	got, _ := h.svc.tickets.Get(tk.ID)
	if got.ClaimedBy != winner {
		t.Errorf("claimedBy = %q, want %q", got.ClaimedBy, winner)
	}
}

func TestClaimUnauthorized(t *testing.T) {
	h := newHarness(time.Hour, "staff:1")
	tk := createTicket(t, h, "u1", protocol.TicketGeneral)

	_, err := h.svc.Claim(context.Background(), tk.ID, "u1")
	if !errors.Is(err, protocol.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	got, _ := h.svc.tickets.Get(tk.ID)
	if got.Status != protocol.TicketOpen || got.MutedForAssistant {
		t.Errorf("state changed on unauthorized claim: %+v", got)
	}
}

func TestClaimClosedTicket(t *testing.T) {
	h := newHarness(time.Hour, "staff:1")
	_, err := h.svc.Claim(context.Background(), "gone", "staff:1")
	if !errors.Is(err, protocol.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimAddsClaimedByField(t *testing.T) {
	h := newHarness(time.Hour, "staff:7")
	tk := createTicket(t, h, "u1", protocol.TicketIncident)

	if _, err := h.svc.Claim(context.Background(), tk.ID, "staff:7"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	e, ok := h.platform.lastEdit()
	if !ok {
		t.Fatal("expected prompt edit")
	}
	if e.messageID != tk.PromptMessageID {
		t.Errorf("edited %q, want %q", e.messageID, tk.PromptMessageID)
	}
	if v, ok := e.msg.Embed.Field(FieldClaimedBy); !ok || v != "<@staff:7>" {
		t.Errorf("claimed by field = %q", v)
	}
	if _, ok := e.msg.Embed.Field(FieldAutoClose); !ok {
		t.Error("countdown field should be kept")
	}
}

func TestOnActivityIgnoresBotsAndForeignChannels(t *testing.T) {
	ctx := context.Background()
	h := newHarness(time.Hour)
	tk := createTicket(t, h, "u1", protocol.TicketGeneral)
	before, _ := h.svc.Deadline(tk.ID)

	time.Sleep(2 * time.Millisecond)
	h.svc.OnActivity(ctx, protocol.Message{ChannelID: tk.ID, AuthorID: "bot", IsBot: true, Content: "hi"})
	h.svc.OnActivity(ctx, protocol.Message{ChannelID: "general-chat", AuthorID: "u1", Content: "hi"})

	if h.replier.calls.Load() != 0 {
		t.Error("assistant should not be asked")
	}
	after, _ := h.svc.Deadline(tk.ID)
	if !after.Equal(before) {
		t.Error("bot messages must not reset the timer")
	}
	if h.svc.timers.Armed("general-chat") {
		t.Error("foreign channel must not get a timer")
	}
}

func TestAssistantFallbackIsPosted(t *testing.T) {
	h := newHarness(time.Hour)
	h.replier.err = errors.New("quota")
	tk := createTicket(t, h, "u1", protocol.TicketGeneral)

	h.svc.OnActivity(context.Background(), h.platform.post(tk.ID, "u1", "hello"))
	sent := h.platform.sentTo(tk.ID)
	if last := sent[len(sent)-1]; last.Content != assistant.ReplyFallback {
		t.Errorf("last message = %q", last.Content)
	}
}

func TestTimerDrivenClose(t *testing.T) {
	h := newHarness(30 * time.Millisecond)
	tk := createTicket(t, h, "u1", protocol.TicketFeedback)

	waitFor(t, 2*time.Second, func() bool { return h.platform.deletes.Load() == 1 })

	if _, err := h.svc.tickets.Get(tk.ID); err == nil {
		t.Error("ticket should be removed")
	}
	recs := h.audit.all()
	if len(recs) != 1 || recs[0].Reason != protocol.CloseTimeout || recs[0].ClosedBy != "" {
		t.Errorf("audit records = %+v", recs)
	}
}

func TestTimerFireRacingManualClose(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(time.Millisecond)
		tk := createTicket(t, h, "u1", protocol.TicketGeneral)
		h.svc.Close(context.Background(), tk.ID, protocol.CloseManual, "u1")

		time.Sleep(10 * time.Millisecond)
		if n := h.platform.deletes.Load(); n != 1 {
			t.Fatalf("iteration %d: expected one deletion, got %d", i, n)
		}
		if n := h.summary.calls.Load(); n != 1 {
			t.Fatalf("iteration %d: expected one summary, got %d", i, n)
		}
	}
}

func TestCloseHistoryFailureUsesFallback(t *testing.T) {
	h := newHarness(time.Hour)
	tk := createTicket(t, h, "u1", protocol.TicketIncident)
	h.platform.historyErr = errors.New("missing access")

	closed, err := h.svc.Close(context.Background(), tk.ID, protocol.CloseManual, "u1")
	if err != nil || !closed {
		t.Fatalf("close = %v, %v", closed, err)
	}
	if h.summary.calls.Load() != 0 {
		t.Error("summary should not be generated without history")
	}
	recs := h.audit.all()
	if len(recs) != 1 || recs[0].Summary != summary.Fallback || !recs[0].SummaryFallback {
		t.Errorf("audit records = %+v", recs)
	}
	if h.platform.channelExists(tk.ID) {
		t.Error("channel should still be deleted")
	}
}

func TestHandleAction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(time.Hour, "staff:1")
	tk := createTicket(t, h, "u1", protocol.TicketGeneral)
	r := &responses{}

	h.svc.HandleAction(ctx, connector.ActionEvent{Action: connector.ActionClaim, UserID: "u1", ChannelID: tk.ID, Respond: r.respond})
	if r.last() != "You are not staff." {
		t.Errorf("non-staff reply = %q", r.last())
	}

	h.svc.HandleAction(ctx, connector.ActionEvent{Action: connector.ActionClaim, UserID: "staff:1", ChannelID: tk.ID, Respond: r.respond})
	if r.last() != "Ticket claimed. Dave will stay quiet unless asked." {
		t.Errorf("claim reply = %q", r.last())
	}

	h.platform.staff["staff:2"] = true
	h.svc.HandleAction(ctx, connector.ActionEvent{Action: connector.ActionClaim, UserID: "staff:2", ChannelID: tk.ID, Respond: r.respond})
	if r.last() != "This ticket is already claimed by <@staff:1>." {
		t.Errorf("second claim reply = %q", r.last())
	}

	h.svc.HandleAction(ctx, connector.ActionEvent{Action: connector.ActionClose, UserID: "u1", ChannelID: tk.ID, Respond: r.respond})
	if r.last() != "📋 Dave is analysing the ticket..." {
		t.Errorf("close reply = %q", r.last())
	}
	if h.platform.channelExists(tk.ID) {
		t.Error("channel should be deleted")
	}

	h.svc.HandleAction(ctx, connector.ActionEvent{Action: connector.ActionClose, UserID: "u1", ChannelID: tk.ID, Respond: r.respond})
	if r.last() != "This ticket is no longer open." {
		t.Errorf("repeat close reply = %q", r.last())
	}
}

func TestHandleCreate(t *testing.T) {
	h := newHarness(time.Hour)
	defer h.svc.timers.Stop()
	r := &responses{}

	h.svc.HandleCreate(context.Background(), connector.CreateRequest{UserID: "u1", UserName: "Lando", Type: protocol.TicketGeneral, Respond: r.respond})
	if r.last() != "Your ticket has been created: <#chan-1>" {
		t.Errorf("reply = %q", r.last())
	}

	h.platform.createErr = errors.New("rate limited")
	h.svc.HandleCreate(context.Background(), connector.CreateRequest{UserID: "u1", Type: protocol.TicketGeneral, Respond: r.respond})
	if r.last() != msgCreateFailed {
		t.Errorf("failure reply = %q", r.last())
	}
}

func TestHandleActionWithoutResponder(t *testing.T) {
	h := newHarness(time.Hour)
	tk := createTicket(t, h, "u1", protocol.TicketGeneral)
	h.svc.HandleAction(context.Background(), connector.ActionEvent{Action: connector.ActionClose, UserID: "u1", ChannelID: tk.ID})
	if h.platform.channelExists(tk.ID) {
		t.Error("close without responder should still close")
	}
}

func TestRefreshCountdowns(t *testing.T) {
	h := newHarness(time.Hour)
	createTicket(t, h, "u1", protocol.TicketGeneral)
	createTicket(t, h, "u2", protocol.TicketReport)

	if n := h.svc.RefreshCountdowns(context.Background()); n != 2 {
		t.Errorf("refreshed %d prompts, want 2", n)
	}
	e, _ := h.platform.lastEdit()
	if v, _ := e.msg.Embed.Field(FieldAutoClose); v != "🕒 Closes in: **0d 1h 0m**" {
		t.Errorf("countdown = %q", v)
	}
}

func TestCountdown(t *testing.T) {
	cases := map[time.Duration]string{
		72 * time.Hour:                "🕒 Closes in: **3d 0h 0m**",
		25*time.Hour + 30*time.Minute: "🕒 Closes in: **1d 1h 30m**",
		59 * time.Second:              "🕒 Closes in: **0d 0h 1m**",
		-time.Minute:                  "🕒 Closes in: **0d 0h 0m**",
	}
	for d, want := range cases {
		if got := Countdown(d); got != want {
			t.Errorf("Countdown(%v) = %q, want %q", d, got, want)
		}
	}
}
