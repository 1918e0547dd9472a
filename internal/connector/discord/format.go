package discordconn

import (
	"sort"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/totalracingleague26/Dave-bot/internal/connector"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

var typeDescriptions = map[protocol.TicketType]string{
	protocol.TicketGeneral:  "Questions about the league",
	protocol.TicketIncident: "Report an on-track incident",
	protocol.TicketReport:   "Report a driver or rule breach",
	protocol.TicketFeedback: "Suggestions and feedback",
}

// overwrites hides the channel from @everyone (whose role ID equals the
// guild ID) and opens it to the owner, the staff role and the bot.
func overwrites(guildID, staffRoleID, ownerID, botID string) []*discordgo.PermissionOverwrite {
	out := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
	}
	if staffRoleID != "" {
		out = append(out, &discordgo.PermissionOverwrite{ID: staffRoleID, Type: discordgo.PermissionOverwriteTypeRole, Allow: ticketPerms})
	}
	for _, id := range []string{ownerID, botID} {
		if id != "" {
			out = append(out, &discordgo.PermissionOverwrite{ID: id, Type: discordgo.PermissionOverwriteTypeMember, Allow: ticketPerms})
		}
	}
	return out
}

func toMessageSend(msg connector.OutboundMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:    msg.Content,
		Components: toComponents(msg.Buttons),
	}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}
	return send
}

func toEmbed(e *connector.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

// toComponents puts all buttons on a single action row.
func toComponents(buttons []connector.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return []discordgo.MessageComponent{}
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		style := discordgo.PrimaryButton
		if b.Danger {
			style = discordgo.DangerButton
		}
		row.Components = append(row.Components, discordgo.Button{
			Label:    b.Label,
			Style:    style,
			CustomID: string(b.Action),
		})
	}
	return []discordgo.MessageComponent{row}
}

// panelMessage is the "Race Control Support" entry point posted by !panel.
func panelMessage() *discordgo.MessageSend {
	menu := discordgo.SelectMenu{
		MenuType:    discordgo.StringSelectMenu,
		CustomID:    panelSelectID,
		Placeholder: "Select a ticket type",
	}
	for _, t := range protocol.TicketTypes {
		menu.Options = append(menu.Options, discordgo.SelectMenuOption{
			Label:       string(t),
			Value:       string(t),
			Description: typeDescriptions[t],
		})
	}
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Race Control Support",
			Description: "Need help from the stewards? Pick a ticket type below and a private channel will be opened for you.",
			Color:       protocol.TicketGeneral.Color(),
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu}},
		},
	}
}

func toMessage(m *discordgo.Message) protocol.Message {
	msg := protocol.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = displayName(m.Author, m.Member)
		msg.IsBot = m.Author.Bot
	}
	return msg
}

// toHistory converts a newest-first page list to oldest-first messages.
func toHistory(msgs []*discordgo.Message) []protocol.Message {
	out := make([]protocol.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessage(m))
	}
	return out
}

// oldestFirst sorts a history page by snowflake. Discord returns pages
// newest first even when paging with after.
func oldestFirst(page []*discordgo.Message) []*discordgo.Message {
	sort.SliceStable(page, func(i, j int) bool {
		return snowflakeLess(page[i].ID, page[j].ID)
	})
	return page
}

func snowflakeLess(a, b string) bool {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return x < y
}

// panelEdit replaces the components of an existing panel message with a fresh selector.
func panelEdit(channelID, messageID string) *discordgo.MessageEdit {
	components := panelMessage().Components
	return &discordgo.MessageEdit{ID: messageID, Channel: channelID, Components: &components}
}

// displayName prefers the guild nickname, then the global name, then the username.
func displayName(u *discordgo.User, m *discordgo.Member) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func hasRole(m *discordgo.Member, roleID string) bool {
	if m == nil || roleID == "" {
		return false
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}
