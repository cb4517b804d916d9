package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"

	"shopbot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	slackMaxMsgLen         = 3900
	discordMaxMsgLen       = 1900
)

// Log writes notifications to the structured log. It is the default sink.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Notify(_ context.Context, to domain.Destination, n domain.Notification) error {
	l.logger.Info("notification", "subject", n.Subject, "items", n.Items,
		"conversation_id", to.ConversationID, "user", to.UserRef)
	l.logger.Debug("notification body", "body", n.Body)
	return nil
}

// --- Kapso (WhatsApp) ---

// MessageSender posts a text message into a conversation.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID, text string) error
}

// Kapso replies into the WhatsApp conversation the turn came from.
type Kapso struct {
	client MessageSender
}

func NewKapso(client MessageSender) *Kapso { return &Kapso{client: client} }

func (k *Kapso) Name() string { return "kapso" }

func (k *Kapso) Notify(ctx context.Context, to domain.Destination, n domain.Notification) error {
	if to.ConversationID == "" {
		return errors.New("kapso: no conversation to notify")
	}
	return k.client.SendMessage(ctx, to.ConversationID, "*"+n.Subject+"*\n"+n.Body)
}

// --- Telegram ---

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts notifications to one chat through the Bot API.
type Telegram struct {
	bot       telegramSender
	chatID    int64
	parseMode string
	logger    *slog.Logger
	sleep     func(time.Duration)
}

type TelegramConfig struct {
	Token  string
	ChatID int64
	Logger *slog.Logger
}

// NewTelegram connects to the Bot API to validate the token.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram: token and chatId are required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return newTelegramWithBot(bot, cfg.ChatID, cfg.Logger), nil
}

func newTelegramWithBot(bot telegramSender, chatID int64, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{bot: bot, chatID: chatID, parseMode: tgbotapi.ModeMarkdown, logger: logger, sleep: time.Sleep}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Notify(ctx context.Context, _ domain.Destination, n domain.Notification) error {
	for _, chunk := range splitMessage("*"+n.Subject+"*\n"+n.Body, telegramMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.sendChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk tries Markdown first, falls back to plain text on a parse
// error and backs off on rate limits.
func (t *Telegram) sendChunk(text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(t.chatID, text)
		if attempt == 0 {
			msg.ParseMode = t.parseMode
		}
		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		switch {
		case strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429"):
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			t.sleep(retryAfter)
		case attempt == 0 && strings.Contains(errStr, "can't parse entities"):
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
		case attempt < telegramMaxSendRetries:
			t.sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

// --- Slack ---

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts notifications to one channel with a bot token.
type Slack struct {
	client  slackPoster
	channel string
}

type SlackConfig struct {
	BotToken string
	Channel  string
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if cfg.BotToken == "" || cfg.Channel == "" {
		return nil, errors.New("slack: botToken and channel are required")
	}
	return &Slack{client: slack.New(cfg.BotToken), channel: cfg.Channel}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, _ domain.Destination, n domain.Notification) error {
	for _, chunk := range splitMessage("*"+n.Subject+"*\n"+n.Body, slackMaxMsgLen) {
		if _, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(chunk, false)); err != nil {
			return fmt.Errorf("slack post: %w", err)
		}
	}
	return nil
}

// --- Discord ---

type discordSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notifications to one channel over the REST API. No gateway
// connection is opened.
type Discord struct {
	session   discordSender
	channelID string
}

type DiscordConfig struct {
	Token     string
	ChannelID string
}

func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if cfg.Token == "" || cfg.ChannelID == "" {
		return nil, errors.New("discord: token and channelId are required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: session, channelID: cfg.ChannelID}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Notify(ctx context.Context, _ domain.Destination, n domain.Notification) error {
	for _, chunk := range splitMessage("**"+n.Subject+"**\n"+n.Body, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(d.channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// splitMessage splits a message into chunks that fit within maxLen, trying
// to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
