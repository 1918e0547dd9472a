package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

const (
	ticketCommand  = "/ticket"
	actionsBlockID = "ticket_actions"
	historyPage    = 200
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken     string // xoxb-... Bot User OAuth Token
	AppToken     string // xapp-... App-Level Token (for Socket Mode)
	StaffGroupID string // User group whose members may claim tickets
	APIURL       string // Optional: override the Web API base URL
}

// Connector implements connector.Connector for Slack via Socket Mode.
// Each ticket is a private conversation that is archived on close.
type Connector struct {
	api    *slack.Client
	socket *socketmode.Client
	config Config
	logger *slog.Logger
	botID  string
	names  sync.Map // user ID -> display name

	mu      sync.RWMutex
	handler connector.Handler
	cancel  context.CancelFunc
}

// New creates a new Slack connector and verifies the bot token.
func New(cfg Config, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	api := slack.New(cfg.BotToken, opts...)

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:    api,
		socket: socketmode.New(api),
		config: cfg,
		logger: logger.With("component", "slack"),
		botID:  authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// SetHandler installs the receiver of inbound events.
func (c *Connector) SetHandler(h connector.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Connector) getHandler() connector.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// CreateChannel opens a private conversation and invites the owner and
// every member of the staff user group.
func (c *Connector) CreateChannel(ctx context.Context, spec connector.ChannelSpec) (connector.Channel, error) {
	ch, err := c.api.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: channelName(spec.Name),
		IsPrivate:   true,
	})
	if err != nil {
		return connector.Channel{}, fmt.Errorf("slack: create conversation: %w", err)
	}
	if spec.Topic != "" {
		if _, err := c.api.SetTopicOfConversationContext(ctx, ch.ID, spec.Topic); err != nil {
			c.logger.Warn("set topic failed", "channel", ch.ID, "error", err)
		}
	}

	members, err := c.inviteList(ctx, spec.OwnerUserID)
	if err == nil && len(members) > 0 {
		_, err = c.api.InviteUsersToConversationContext(ctx, ch.ID, members...)
	}
	if err != nil {
		if aerr := c.api.ArchiveConversationContext(ctx, ch.ID); aerr != nil {
			c.logger.Warn("archive after failed invite", "channel", ch.ID, "error", aerr)
		}
		return connector.Channel{}, fmt.Errorf("slack: invite members: %w", err)
	}
	return connector.Channel{ID: ch.ID, Name: ch.Name}, nil
}

func (c *Connector) inviteList(ctx context.Context, ownerID string) ([]string, error) {
	seen := map[string]bool{c.botID: true}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(ownerID)
	if c.config.StaffGroupID != "" {
		staff, err := c.api.GetUserGroupMembersContext(ctx, c.config.StaffGroupID)
		if err != nil {
			return nil, fmt.Errorf("staff group members: %w", err)
		}
		for _, id := range staff {
			add(id)
		}
	}
	return out, nil
}

// DeleteChannel archives the conversation. Slack bots cannot delete channels.
func (c *Connector) DeleteChannel(ctx context.Context, channelID string) error {
	if err := c.api.ArchiveConversationContext(ctx, channelID); err != nil {
		return fmt.Errorf("slack: archive conversation: %w", err)
	}
	return nil
}

// SendMessage posts msg and returns its timestamp, which Slack uses as the message ID.
func (c *Connector) SendMessage(ctx context.Context, channelID string, msg connector.OutboundMessage) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelID, msgOptions(msg)...)
	if err != nil {
		return "", fmt.Errorf("slack: send message: %w", err)
	}
	return ts, nil
}

func (c *Connector) EditMessage(ctx context.Context, channelID, messageID string, msg connector.OutboundMessage) error {
	if _, _, _, err := c.api.UpdateMessageContext(ctx, channelID, messageID, msgOptions(msg)...); err != nil {
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

// FetchHistory pages through conversations.history and returns oldest first.
func (c *Connector) FetchHistory(ctx context.Context, channelID string, limit int) ([]protocol.Message, error) {
	var newestFirst []slack.Message
	cursor := ""
	for {
		n := historyPage
		if limit > 0 && limit-len(newestFirst) < n {
			n = limit - len(newestFirst)
		}
		resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Cursor:    cursor,
			Limit:     n,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: fetch history: %w", err)
		}
		newestFirst = append(newestFirst, resp.Messages...)
		cursor = resp.ResponseMetaData.NextCursor
		if !resp.HasMore || cursor == "" || (limit > 0 && len(newestFirst) >= limit) {
			break
		}
	}
	if limit > 0 && len(newestFirst) > limit {
		newestFirst = newestFirst[:limit]
	}

	out := make([]protocol.Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		if m.SubType != "" && m.SubType != "bot_message" {
			continue
		}
		out = append(out, c.toMessage(ctx, channelID, m.Msg))
	}
	return out, nil
}

// IsStaff reports whether userID belongs to the staff user group.
func (c *Connector) IsStaff(ctx context.Context, userID string) (bool, error) {
	members, err := c.api.GetUserGroupMembersContext(ctx, c.config.StaffGroupID)
	if err != nil {
		return false, fmt.Errorf("slack: staff group members: %w", err)
	}
	for _, id := range members {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (c *Connector) toMessage(ctx context.Context, channelID string, m slack.Msg) protocol.Message {
	msg := protocol.Message{
		ID:        m.Timestamp,
		ChannelID: channelID,
		AuthorID:  m.User,
		IsBot:     m.BotID != "" || (c.botID != "" && m.User == c.botID),
		Content:   m.Text,
		Timestamp: parseTimestamp(m.Timestamp),
	}
	switch {
	case m.User != "":
		msg.AuthorName = c.displayName(ctx, m.User)
	case m.Username != "":
		msg.AuthorName = m.Username
	default:
		msg.AuthorName = m.BotID
	}
	return msg
}

// displayName resolves and caches a user's display name, falling back to the ID.
func (c *Connector) displayName(ctx context.Context, userID string) string {
	if v, ok := c.names.Load(userID); ok {
		return v.(string)
	}
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		c.logger.Debug("user lookup failed", "user", userID, "error", err)
		return userID
	}
	name := userDisplayName(u)
	c.names.Store(userID, name)
	return name
}

func userDisplayName(u *slack.User) string {
	switch {
	case u.Profile.DisplayName != "":
		return u.Profile.DisplayName
	case u.RealName != "":
		return u.RealName
	case u.Name != "":
		return u.Name
	}
	return u.ID
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeInteractive:
				c.handleInteractive(ctx, event)
			case socketmode.EventTypeSlashCommand:
				c.handleSlashCommand(ctx, event)
			}
		}
	}
}

func (c *Connector) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)

	ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Ignore edits, deletes and joins
	if ev.SubType != "" && ev.SubType != "bot_message" {
		return
	}
	h := c.getHandler()
	if h == nil {
		return
	}
	go h.HandleMessage(ctx, c.toMessage(ctx, ev.Channel, slack.Msg{
		User:      ev.User,
		BotID:     ev.BotID,
		Username:  ev.Username,
		Text:      ev.Text,
		Timestamp: ev.TimeStamp,
	}))
}

func (c *Connector) handleInteractive(ctx context.Context, event socketmode.Event) {
	cb, ok := event.Data.(slack.InteractionCallback)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)

	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	h := c.getHandler()
	if h == nil {
		return
	}
	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	for _, act := range cb.ActionCallback.BlockActions {
		action, ok := connector.ParseAction(act.ActionID)
		if !ok {
			continue
		}
		go h.HandleAction(ctx, connector.ActionEvent{
			Action:    action,
			UserID:    cb.User.ID,
			ChannelID: channelID,
			Respond:   c.ephemeral(ctx, channelID, cb.User.ID),
		})
	}
}

func (c *Connector) handleSlashCommand(ctx context.Context, event socketmode.Event) {
	cmd, ok := event.Data.(slack.SlashCommand)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)

	if cmd.Command != ticketCommand {
		return
	}
	respond := c.ephemeral(ctx, cmd.ChannelID, cmd.UserID)
	tt, err := parseCommandType(cmd.Text)
	if err != nil {
		respond.Reply(fmt.Sprintf("Usage: %s [general|incident|report|feedback]", ticketCommand))
		return
	}
	h := c.getHandler()
	if h == nil {
		return
	}
	go h.HandleCreate(ctx, connector.CreateRequest{
		UserID:   cmd.UserID,
		UserName: c.displayName(ctx, cmd.UserID),
		Type:     tt,
		Respond:  respond,
	})
}

func (c *Connector) ephemeral(ctx context.Context, channelID, userID string) connector.Responder {
	return func(text string) {
		_, err := c.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(MarkdownToMrkdwn(text), false))
		if err != nil {
			c.logger.Warn("ephemeral reply failed", "channel", channelID, "user", userID, "error", err)
		}
	}
}

// parseCommandType reads the ticket type from /ticket arguments; no argument means General.
func parseCommandType(text string) (protocol.TicketType, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return protocol.TicketGeneral, nil
	}
	return protocol.ParseTicketType(strings.Fields(text)[0])
}

// msgOptions renders an OutboundMessage as a section block, an action
// block for buttons, and a colored attachment for the embed.
func msgOptions(msg connector.OutboundMessage) []slack.MsgOption {
	text := MarkdownToMrkdwn(msg.Content)
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}

	var blocks []slack.Block
	if len(msg.Buttons) > 0 {
		if text != "" {
			blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
		}
		var elems []slack.BlockElement
		for _, b := range msg.Buttons {
			btn := slack.NewButtonBlockElement(string(b.Action), string(b.Action), slack.NewTextBlockObject(slack.PlainTextType, b.Label, true, false))
			if b.Danger {
				btn.WithStyle(slack.StyleDanger)
			} else {
				btn.WithStyle(slack.StylePrimary)
			}
			elems = append(elems, btn)
		}
		blocks = append(blocks, slack.NewActionBlock(actionsBlockID, elems...))
	}
	opts = append(opts, slack.MsgOptionBlocks(blocks...))

	if msg.Embed != nil {
		opts = append(opts, slack.MsgOptionAttachments(toAttachment(msg.Embed)))
	}
	return opts
}

func toAttachment(e *connector.Embed) slack.Attachment {
	att := slack.Attachment{
		Color:      colorHex(e.Color),
		Fallback:   e.Title,
		Title:      e.Title,
		Text:       MarkdownToMrkdwn(e.Description),
		MarkdownIn: []string{"text", "fields"},
	}
	for _, f := range e.Fields {
		att.Fields = append(att.Fields, slack.AttachmentField{
			Title: f.Name,
			Value: MarkdownToMrkdwn(f.Value),
			Short: f.Inline,
		})
	}
	return att
}

// parseTimestamp converts a Slack "seconds.micros" ts to a time.
func parseTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var us int64
	if frac != "" {
		for len(frac) < 6 {
			frac += "0"
		}
		us, _ = strconv.ParseInt(frac[:6], 10, 64)
	}
	return time.Unix(s, us*int64(time.Microsecond)).UTC()
}
