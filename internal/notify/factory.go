package notify

import (
	"fmt"
	"log/slog"

	"shopbot/internal/config"
	"shopbot/internal/domain"
)

// BuildSinks constructs the sinks named in cfg.Sinks. A sink that cannot be
// built is logged and skipped so one bad credential does not disable the rest.
// kapso may be nil when the Kapso integration is off.
func BuildSinks(cfg config.NotifyConfig, kapso MessageSender, logger *slog.Logger) []domain.Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	var sinks []domain.Notifier
	for _, name := range cfg.Sinks {
		sink, err := buildSink(name, cfg, kapso, logger)
		if err != nil {
			logger.Warn("notification sink disabled", "sink", name, "error", err)
			continue
		}
		sinks = append(sinks, sink)
	}
	return sinks
}

func buildSink(name string, cfg config.NotifyConfig, kapso MessageSender, logger *slog.Logger) (domain.Notifier, error) {
	switch name {
	case "log":
		return NewLog(logger), nil
	case "kapso":
		if kapso == nil {
			return nil, fmt.Errorf("kapso integration is not enabled")
		}
		return NewKapso(kapso), nil
	case "telegram":
		return NewTelegram(TelegramConfig{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID, Logger: logger})
	case "slack":
		return NewSlack(SlackConfig{BotToken: cfg.Slack.BotToken, Channel: cfg.Slack.Channel})
	case "discord":
		return NewDiscord(DiscordConfig{Token: cfg.Discord.Token, ChannelID: cfg.Discord.ChannelID})
	default:
		return nil, fmt.Errorf("unknown sink %q", name)
	}
}
