package audit

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

// TelegramSink mirrors closure summaries to a Telegram chat.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramSink authorizes the bot and targets chatID.
func NewTelegramSink(token, chatID string, logger *slog.Logger) (*TelegramSink, error) {
	return newTelegramSink(token, chatID, tgbotapi.APIEndpoint, logger)
}

func newTelegramSink(token, chatID, endpoint string, logger *slog.Logger) (*TelegramSink, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat_id %q: %w", chatID, err)
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram audit bot authorized", "username", bot.Self.UserName)
	return &TelegramSink{bot: bot, chatID: id, logger: logger}, nil
}

func (s *TelegramSink) Record(_ context.Context, rec Record) error {
	msg := tgbotapi.NewMessage(s.chatID, TelegramHTML(rec))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := s.bot.Send(msg)
	if err != nil {
		// Fallback to plain text if HTML fails
		s.logger.Warn("HTML send failed, falling back to plain text", "chat_id", s.chatID, "error", err)
		msg.Text = TelegramText(rec)
		msg.ParseMode = ""
		_, err = s.bot.Send(msg)
	}
	if err != nil {
		return fmt.Errorf("telegram: send summary: %w", err)
	}
	return nil
}

var (
	reBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reItalic = regexp.MustCompile(`\*(.+?)\*`)
)

// TelegramHTML renders a record in Telegram's HTML subset.
func TelegramHTML(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s Ticket Summary</b>\n", escapeHTML(string(rec.Ticket.Type)))
	fmt.Fprintf(&b, "<i>#%s</i> · %s\n\n", escapeHTML(rec.Ticket.ChannelName), escapeHTML(closeLine(rec)))

	body := escapeHTML(rec.Summary)
	body = reBold.ReplaceAllString(body, "<b>$1</b>")
	body = reItalic.ReplaceAllString(body, "<i>$1</i>")
	b.WriteString(body)
	return b.String()
}

// TelegramText is the plain-text variant of TelegramHTML.
func TelegramText(rec Record) string {
	summary := reBold.ReplaceAllString(rec.Summary, "$1")
	summary = reItalic.ReplaceAllString(summary, "$1")
	return fmt.Sprintf("%s Ticket Summary\n#%s · %s\n\n%s", rec.Ticket.Type, rec.Ticket.ChannelName, closeLine(rec), summary)
}

func closeLine(rec Record) string {
	if rec.Reason == protocol.CloseTimeout {
		return "auto-closed after inactivity"
	}
	if rec.ClosedBy != "" {
		return "closed by " + rec.ClosedBy
	}
	return "closed"
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
