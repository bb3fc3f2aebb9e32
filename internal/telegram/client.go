// Package telegram delivers alert notifications through the Telegram Bot
// API and accepts operator commands (/ack, /ping).
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/aquasentry/aquasentry/internal/models"
	"github.com/aquasentry/aquasentry/internal/sinks"
)

// Acker acknowledges a sensor's active alert on behalf of an operator.
// The pipeline engine satisfies this.
type Acker interface {
	Ack(sensorID, by string) (models.AlertRecord, error)
}

// Client handles Telegram notifications. It is wired into the sink
// dispatcher as an alert sink.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken string, chatID int64, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Name implements the alert sink interface.
func (c *Client) Name() string { return "telegram" }

// WriteAlert notifies the operator chat of an alert lifecycle event.
// Refreshes are routine repeats of an already-notified alert; storage
// keeps them, operators are not pinged again.
func (c *Client) WriteAlert(ctx context.Context, ev sinks.AlertEvent) error {
	if ev.Event == sinks.EventRefreshed {
		return nil
	}
	return c.sendMarkdownV2(ctx, formatAlert(ev))
}

// SendError sends an ingest-source error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, sourceErr error) error {
	text := fmt.Sprintf("⚠️ *Ingest error*\n`%s`", escapeMarkdownV2(sourceErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Ingest recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(ctx, text)
}

// ListenForCommands starts a goroutine that polls for Telegram updates
// and handles bot commands. It returns immediately; the goroutine stops
// when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, acker Acker) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, acker)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, acker Acker) {
	switch msg.Command() {
	case "ping":
		c.reply(msg.Chat.ID, "Pong")
	case "ack":
		user := ""
		if msg.From != nil {
			user = msg.From.UserName
		}
		c.reply(msg.Chat.ID, ackReply(acker, msg.CommandArguments(), user))
	}
}

func (c *Client) reply(chatID int64, text string) {
	m := tgbotapi.NewMessage(chatID, text)
	c.bot.Send(m) //nolint:errcheck
}

func ackReply(acker Acker, args, user string) string {
	sensorID := strings.TrimSpace(args)
	if sensorID == "" {
		return "Usage: /ack <sensor_id>"
	}
	rec, err := acker.Ack(sensorID, "telegram:"+user)
	if err != nil {
		return fmt.Sprintf("Ack failed for %s: %v", sensorID, err)
	}
	return fmt.Sprintf("Alert %s acknowledged for sensor %s", rec.AlertID, sensorID)
}

// sendMarkdownV2 sends a MarkdownV2 message with exponential-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	delay := c.retryDelayBase
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// formatAlert formats one alert lifecycle event as a MarkdownV2 message.
func formatAlert(ev sinks.AlertEvent) string {
	rec := ev.Record
	var b strings.Builder

	switch ev.Event {
	case sinks.EventOpened:
		fmt.Fprintf(&b, "🚨 *%s risk alert*\n\n", escapeMarkdownV2(strings.ToUpper(rec.Severity.String())))
	case sinks.EventEscalated:
		fmt.Fprintf(&b, "⏫ *Unacknowledged alert escalated to level %d*\n\n", rec.EscalationLevel)
	case sinks.EventAcknowledged:
		b.WriteString("👍 *Alert acknowledged*\n\n")
	case sinks.EventClosed:
		b.WriteString("✅ *Alert closed*\n\n")
	default:
		fmt.Fprintf(&b, "*Alert %s*\n\n", escapeMarkdownV2(ev.Event))
	}

	fmt.Fprintf(&b, "🔧 Sensor: `%s`\n", escapeMarkdownV2(rec.SensorID))
	fmt.Fprintf(&b, "📍 Zone: %s\n", escapeMarkdownV2(string(rec.Zone)))
	fmt.Fprintf(&b, "📣 Audience: %s\n", escapeMarkdownV2(rec.Audience))
	fmt.Fprintf(&b, "🕐 First seen: %s\n", escapeMarkdownV2(rec.FirstSeen.Format("2006-01-02 15:04:05")))

	switch ev.Event {
	case sinks.EventAcknowledged:
		fmt.Fprintf(&b, "👤 By: %s\n", escapeMarkdownV2(rec.AcknowledgedBy))
	case sinks.EventClosed:
		fmt.Fprintf(&b, "🧾 Resolution: %s\n", escapeMarkdownV2(rec.Resolution))
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
