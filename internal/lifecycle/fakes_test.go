package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/totalracingleague26/Dave-bot/internal/assistant"
	"github.com/totalracingleague26/Dave-bot/internal/audit"
	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

type edit struct {
	channelID string
	messageID string
	msg       connector.OutboundMessage
}

// fakePlatform is an in-memory chat platform.
type fakePlatform struct {
	mu         sync.Mutex
	nextID     int
	channels   map[string]connector.ChannelSpec
	history    map[string][]protocol.Message
	sent       map[string][]connector.OutboundMessage
	edits      []edit
	deleted    []string
	staff      map[string]bool
	createErr  error
	historyErr error
	reuseID    string // when set, CreateChannel hands out this ID

	deletes      atomic.Int32
	historyCalls atomic.Int32
}

func newFakePlatform(staff ...string) *fakePlatform {
	p := &fakePlatform{
		channels: make(map[string]connector.ChannelSpec),
		history:  make(map[string][]protocol.Message),
		sent:     make(map[string][]connector.OutboundMessage),
		staff:    make(map[string]bool),
	}
	for _, s := range staff {
		p.staff[s] = true
	}
	return p
}

func (p *fakePlatform) Name() string { return "fake" }

func (p *fakePlatform) CreateChannel(_ context.Context, spec connector.ChannelSpec) (connector.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return connector.Channel{}, p.createErr
	}
	p.nextID++
	id := fmt.Sprintf("chan-%d", p.nextID)
	if p.reuseID != "" {
		id = p.reuseID
	}
	p.channels[id] = spec
	return connector.Channel{ID: id, Name: spec.Name}, nil
}

func (p *fakePlatform) DeleteChannel(_ context.Context, channelID string) error {
	p.deletes.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[channelID]; !ok {
		return errors.New("unknown channel")
	}
	delete(p.channels, channelID)
	p.deleted = append(p.deleted, channelID)
	return nil
}

func (p *fakePlatform) SendMessage(_ context.Context, channelID string, msg connector.OutboundMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[channelID] = append(p.sent[channelID], msg)
	id := fmt.Sprintf("msg-%d", len(p.sent[channelID]))
	p.history[channelID] = append(p.history[channelID], protocol.Message{
		ID: id, ChannelID: channelID, AuthorID: "bot", AuthorName: "Dave", IsBot: true, Content: msg.Content,
	})
	return id, nil
}

func (p *fakePlatform) EditMessage(_ context.Context, channelID, messageID string, msg connector.OutboundMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edits = append(p.edits, edit{channelID, messageID, msg})
	return nil
}

func (p *fakePlatform) FetchHistory(_ context.Context, channelID string, limit int) ([]protocol.Message, error) {
	p.historyCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.historyErr != nil {
		return nil, p.historyErr
	}
	h := p.history[channelID]
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]protocol.Message(nil), h...), nil
}

func (p *fakePlatform) IsStaff(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staff[userID], nil
}

// post appends a user message to the channel history and returns it.
func (p *fakePlatform) post(channelID, userID, content string) protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := protocol.Message{
		ID:         fmt.Sprintf("u-%d", len(p.history[channelID])),
		ChannelID:  channelID,
		AuthorID:   userID,
		AuthorName: userID,
		Content:    content,
		Timestamp:  time.Now(),
	}
	p.history[channelID] = append(p.history[channelID], m)
	return m
}

func (p *fakePlatform) sentTo(channelID string) []connector.OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]connector.OutboundMessage(nil), p.sent[channelID]...)
}

func (p *fakePlatform) channelExists(channelID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[channelID]
	return ok
}

func (p *fakePlatform) lastEdit() (edit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.edits) == 0 {
		return edit{}, false
	}
	return p.edits[len(p.edits)-1], true
}

type fakeReplier struct {
	calls atomic.Int32
	err   error
}

func (r *fakeReplier) GenerateReply(_ context.Context, t protocol.TicketType, msg string) assistant.Result {
	r.calls.Add(1)
	if r.err != nil {
		return assistant.Fallback(assistant.ReplyFallback, r.err)
	}
	return assistant.Result{Text: fmt.Sprintf("[%s] re: %s", t, msg)}
}

type fakeSummarizer struct {
	mu          sync.Mutex
	calls       atomic.Int32
	transcripts []string
}

func (f *fakeSummarizer) Run(_ context.Context, t protocol.TicketType, transcript string) assistant.Result {
	f.calls.Add(1)
	f.mu.Lock()
	f.transcripts = append(f.transcripts, transcript)
	f.mu.Unlock()
	return assistant.Result{Text: fmt.Sprintf("%s summary", t)}
}

func (f *fakeSummarizer) lastTranscript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transcripts) == 0 {
		return ""
	}
	return f.transcripts[len(f.transcripts)-1]
}

type fakeAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *fakeAudit) Record(_ context.Context, rec audit.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *fakeAudit) all() []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Record(nil), a.records...)
}

type harness struct {
	svc      *Service
	platform *fakePlatform
	replier  *fakeReplier
	summary  *fakeSummarizer
	audit    *fakeAudit
}

func newHarness(autoClose time.Duration, staff ...string) *harness {
	h := &harness{
		platform: newFakePlatform(staff...),
		replier:  &fakeReplier{},
		summary:  &fakeSummarizer{},
		audit:    &fakeAudit{},
	}
	h.svc = New(Config{
		Platform:  h.platform,
		Assistant: h.replier,
		Summary:   h.summary,
		Audit:     h.audit,
		AutoClose: autoClose,
	}, nil)
	return h
}

// responses collects Responder output.
type responses struct {
	mu   sync.Mutex
	msgs []string
}

func (r *responses) respond(text string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
}

func (r *responses) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return ""
	}
	return r.msgs[len(r.msgs)-1]
}
