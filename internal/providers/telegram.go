package providers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"resilience-notifier/internal/config"
	"resilience-notifier/internal/models"
)

// telegramLimiter is the global rate limiter for Telegram messages
var telegramLimiter *rate.Limiter

func initTelegramLimiter(ratePerSecond int) {
	telegramLimiter = rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond)
}

// SendTelegram delivers a queue entry via the go-telegram/bot library. The
// recipient address is the numeric chat id.
func SendTelegram(ctx context.Context, e models.QueueEntry, cfg config.Config) error {
	if telegramLimiter == nil {
		initTelegramLimiter(cfg.Telegram.RatePerSecond)
	}
	if err := telegramLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}

	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("missing Telegram configuration: BotToken is empty")
	}
	chatID, err := strconv.ParseInt(e.RecipientAddress, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Telegram chat id %q for recipient %s: %w", e.RecipientAddress, e.RecipientID, err)
	}

	b, err := bot.New(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      fmt.Sprintf("*%s*\n%s", e.Subject, e.Body),
		ParseMode: "Markdown",
	}
	if _, err := b.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", chatID, err)
	}
	return nil
}
