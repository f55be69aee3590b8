// Package notification delivers reject alerts to operators via the Telegram
// Bot API, with bounded retries. A disabled notifier accepts every alert and
// sends nothing.
package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/service"
	"crypto-rug-graph-detector/internal/infrastructure/config"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// maxListedFindings bounds the finding lines of one alert
const maxListedFindings = 5

// messageSender is the part of the bot API the notifier needs
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends reject alerts to a Telegram chat
type TelegramNotifier struct {
	bot            messageSender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	logger         *logger.Logger
}

// NewTelegramNotifier creates a notifier. When alerts are disabled no bot
// connection is made and NotifyReject is a no-op.
func NewTelegramNotifier(cfg *config.TelegramConfig, logger *logger.Logger) (service.AlertNotifier, error) {
	n := &TelegramNotifier{logger: logger.WithComponent("telegram-notifier")}
	if !cfg.Enabled {
		return n, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegramNotifier(bot, cfg, logger)
}

func newTelegramNotifier(bot messageSender, cfg *config.TelegramConfig, logger *logger.Logger) (*TelegramNotifier, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelayBase := cfg.RetryDelayBase
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &TelegramNotifier{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		logger:         logger.WithComponent("telegram-notifier"),
	}, nil
}

// NotifyReject sends an alert for a rejected token
func (n *TelegramNotifier) NotifyReject(ctx context.Context, record *entity.DecisionRecord) error {
	if n.bot == nil || record == nil || record.Decision == nil {
		return nil
	}

	msg := tgbotapi.NewMessage(n.chatID, FormatRejectAlert(record))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	// Send with linear backoff
	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		_, err := n.bot.Send(msg)
		if err == nil {
			n.logger.Info("Sent reject alert",
				zap.String("mint", record.Decision.TokenMint),
				zap.String("decision_id", record.ID))
			return nil
		}
		lastErr = err
		n.logger.Warn("Failed to send reject alert",
			zap.Int("attempt", i+1),
			zap.Error(err))

		if i == n.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("alert cancelled after %d attempts: %w", i+1, ctx.Err())
		case <-time.After(n.retryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", n.maxRetries, lastErr)
}

// FormatRejectAlert renders a decision as a MarkdownV2 message
func FormatRejectAlert(record *entity.DecisionRecord) string {
	d := record.Decision
	var b strings.Builder

	b.WriteString("🚨 *Rug risk: token rejected*\n\n")
	fmt.Fprintf(&b, "🪙 Mint: `%s`\n", escapeMarkdownV2(d.TokenMint))
	fmt.Fprintf(&b, "📉 Rug probability: *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.1f%%", d.RugProbability*100)))
	fmt.Fprintf(&b, "🛡 Safety: %s \\(temporal %s, heuristic %s\\)\n",
		escapeMarkdownV2(fmt.Sprintf("%.2f", d.FinalSafety)),
		escapeMarkdownV2(fmt.Sprintf("%.2f", d.TemporalSafety)),
		escapeMarkdownV2(fmt.Sprintf("%.2f", d.HeuristicSafety)))

	stage := "post\\-migration"
	if d.PreMigration {
		stage = "pre\\-migration"
	}
	fmt.Fprintf(&b, "⏱ Stage: %s, %d events\n", stage, d.EventCount)
	if !record.AnalyzedAt.IsZero() {
		fmt.Fprintf(&b, "📅 Analyzed: %s\n", escapeMarkdownV2(record.AnalyzedAt.UTC().Format("2006-01-02 15:04:05")))
	}

	if len(d.Findings) > 0 {
		b.WriteString("\n*Findings*\n")
		for i, f := range d.Findings {
			if i == maxListedFindings {
				fmt.Fprintf(&b, "…and %d more\n", len(d.Findings)-maxListedFindings)
				break
			}
			fmt.Fprintf(&b, "%d\\. %s %s: %s\n",
				i+1,
				escapeMarkdownV2(string(f.Type)),
				escapeMarkdownV2(fmt.Sprintf("(%.0f%%)", f.Confidence*100)),
				escapeMarkdownV2(f.Description))
		}
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
