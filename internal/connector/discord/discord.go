package discordconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

const (
	panelCommand  = "!panel"
	panelSelectID = "ticket_type_select"
	pageSize      = 100
)

// ticketPerms is what the owner, staff and the bot get on a ticket channel.
const ticketPerms = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory

// Config holds Discord connector configuration.
type Config struct {
	Token       string
	GuildID     string
	CategoryID  string // Optional: parent category for ticket channels
	StaffRoleID string

	// PanelChannelID, if set, receives a fresh ticket panel on startup.
	PanelChannelID string
}

// Connector implements connector.Connector for a single Discord guild.
type Connector struct {
	session *discordgo.Session
	config  Config
	logger  *slog.Logger

	mu      sync.RWMutex
	handler connector.Handler
	botID   string
	cancel  context.CancelFunc
}

// New creates a new Discord connector. The gateway is not opened until Start.
func New(cfg Config, logger *slog.Logger) (*Connector, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("discord: guild_id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return &Connector{
		session: session,
		config:  cfg,
		logger:  logger.With("component", "discord"),
	}, nil
}

func (c *Connector) Name() string { return "discord" }

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

func (c *Connector) botUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botID
}

// Start opens the gateway and blocks until ctx is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.mu.Lock()
		c.botID = r.User.ID
		c.mu.Unlock()
		c.logger.Info("discord bot ready", "user", r.User.Username)
	})
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.onMessage(ctx, m.Message)
	})
	c.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		c.onInteraction(ctx, i.Interaction)
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	c.logger.Info("discord connector started", "guild", c.config.GuildID)
	if c.config.PanelChannelID != "" {
		if err := c.PostPanel(ctx, c.config.PanelChannelID); err != nil {
			c.logger.Error("post ticket panel", "channel", c.config.PanelChannelID, "error", err)
		}
	}

	<-ctx.Done()
	if err := c.session.Close(); err != nil {
		c.logger.Warn("discord close", "error", err)
	}
	return nil
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

// CreateChannel creates a private text channel for the owner, staff and bot.
func (c *Connector) CreateChannel(ctx context.Context, spec connector.ChannelSpec) (connector.Channel, error) {
	ch, err := c.session.GuildChannelCreateComplex(c.config.GuildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                spec.Topic,
		ParentID:             c.config.CategoryID,
		PermissionOverwrites: overwrites(c.config.GuildID, c.config.StaffRoleID, spec.OwnerUserID, c.botUserID()),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return connector.Channel{}, fmt.Errorf("discord: create channel: %w", err)
	}
	return connector.Channel{ID: ch.ID, Name: ch.Name}, nil
}

func (c *Connector) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := c.session.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete channel: %w", err)
	}
	return nil
}

func (c *Connector) SendMessage(ctx context.Context, channelID string, msg connector.OutboundMessage) (string, error) {
	sent, err := c.session.ChannelMessageSendComplex(channelID, toMessageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return sent.ID, nil
}

func (c *Connector) EditMessage(ctx context.Context, channelID, messageID string, msg connector.OutboundMessage) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(msg.Content)
	if msg.Embed != nil {
		edit.SetEmbeds([]*discordgo.MessageEmbed{toEmbed(msg.Embed)})
	}
	components := toComponents(msg.Buttons)
	edit.Components = &components
	if _, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// FetchHistory pages forward from the start of the channel and returns
// the oldest limit messages, oldest first.
func (c *Connector) FetchHistory(ctx context.Context, channelID string, limit int) ([]protocol.Message, error) {
	var oldest []*discordgo.Message
	after := "0"
	for limit <= 0 || len(oldest) < limit {
		n := pageSize
		if limit > 0 && limit-len(oldest) < n {
			n = limit - len(oldest)
		}
		page, err := c.session.ChannelMessages(channelID, n, "", after, "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("discord: fetch history: %w", err)
		}
		page = oldestFirst(page)
		oldest = append(oldest, page...)
		if len(page) < n {
			break
		}
		after = page[len(page)-1].ID
	}
	return toHistory(oldest), nil
}

// IsStaff reports whether the guild member holds the staff role.
func (c *Connector) IsStaff(ctx context.Context, userID string) (bool, error) {
	m, err := c.session.GuildMember(c.config.GuildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("discord: get member: %w", err)
	}
	return hasRole(m, c.config.StaffRoleID), nil
}

func (c *Connector) onMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.GuildID != c.config.GuildID {
		return
	}
	if strings.TrimSpace(m.Content) == panelCommand && !m.Author.Bot {
		c.postPanel(ctx, m)
		return
	}
	if h := c.getHandler(); h != nil {
		h.HandleMessage(ctx, toMessage(m))
	}
}

func (c *Connector) postPanel(ctx context.Context, m *discordgo.Message) {
	perms, err := c.session.UserChannelPermissions(m.Author.ID, m.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		c.logger.Warn("panel permission lookup failed", "user", m.Author.ID, "error", err)
		return
	}
	if perms&discordgo.PermissionAdministrator == 0 {
		return
	}
	if err := c.PostPanel(ctx, m.ChannelID); err != nil {
		c.logger.Error("post ticket panel", "channel", m.ChannelID, "error", err)
	}
}

// PostPanel sends the ticket type selector to channelID.
func (c *Connector) PostPanel(ctx context.Context, channelID string) error {
	if _, err := c.session.ChannelMessageSendComplex(channelID, panelMessage(), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: post panel: %w", err)
	}
	return nil
}

func (c *Connector) onInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	h := c.getHandler()
	if h == nil {
		return
	}
	data := i.MessageComponentData()
	user := interactionUser(i)
	if user == nil {
		return
	}

	// Acknowledge within Discord's 3s window; replies go out as ephemeral follow-ups.
	err := c.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		c.logger.Warn("interaction ack failed", "custom_id", data.CustomID, "error", err)
		return
	}
	respond := c.followup(ctx, i)

	if data.CustomID == panelSelectID {
		if len(data.Values) == 0 {
			return
		}
		tt, err := protocol.ParseTicketType(data.Values[0])
		if err != nil {
			respond.Reply("Unknown ticket type.")
			return
		}
		h.HandleCreate(ctx, connector.CreateRequest{
			UserID:   user.ID,
			UserName: displayName(user, i.Member),
			Type:     tt,
			Respond:  respond,
		})
		// Re-render the panel so the selection clears for the next user.
		if i.Message != nil {
			if _, err := c.session.ChannelMessageEditComplex(panelEdit(i.ChannelID, i.Message.ID), discordgo.WithContext(ctx)); err != nil {
				c.logger.Warn("reset ticket panel", "channel", i.ChannelID, "error", err)
			}
		}
		return
	}

	if action, ok := connector.ParseAction(data.CustomID); ok {
		h.HandleAction(ctx, connector.ActionEvent{
			Action:    action,
			UserID:    user.ID,
			ChannelID: i.ChannelID,
			Respond:   respond,
		})
	}
}

func (c *Connector) followup(ctx context.Context, i *discordgo.Interaction) connector.Responder {
	return func(text string) {
		_, err := c.session.FollowupMessageCreate(i, false, &discordgo.WebhookParams{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		}, discordgo.WithContext(ctx))
		if err != nil {
			c.logger.Warn("interaction follow-up failed", "channel", i.ChannelID, "error", err)
		}
	}
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}
