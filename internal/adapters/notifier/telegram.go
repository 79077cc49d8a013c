// Package notifier доставляет уведомления о новых версиях в Telegram.
package notifier

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relwatch/internal/domain"
	"relwatch/internal/infra/metrics"
)

// Telegram реализует domain.Notifier поверх Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

var _ domain.Notifier = (*Telegram)(nil)

func NewTelegram(bot *tgbotapi.BotAPI, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

// Notify отправляет одно сообщение о новой версии пакета.
func (t *Telegram) Notify(_ context.Context, job domain.NotifyJob) error {
	msg := tgbotapi.NewMessage(t.chatID, renderMessage(job))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	start := time.Now()
	_, err := t.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(t.chatID, 10), start, err)
	if err != nil {
		return fmt.Errorf("отправка уведомления: %w", err)
	}
	return nil
}

// levelLabel переводит уровень обновления в человекочитаемую форму.
func levelLabel(level string) string {
	switch level {
	case "major":
		return "мажорное обновление"
	case "minor":
		return "минорное обновление"
	case "patch":
		return "патч"
	case "prerelease":
		return "предрелиз"
	default:
		return "обновление"
	}
}

func renderMessage(job domain.NotifyJob) string {
	var b strings.Builder
	if job.Cause == domain.NotifyCauseTest {
		b.WriteString("🧪 Тестовое уведомление\n")
	}
	fmt.Fprintf(&b, "🔔 <b>%s</b>: %s\n", html.EscapeString(job.ItemName), levelLabel(job.Level))
	fmt.Fprintf(&b, "Новая версия: <b>%s</b>\n", html.EscapeString(job.LatestVersion))
	if job.LocalVersion != "" {
		fmt.Fprintf(&b, "Установлена: %s\n", html.EscapeString(job.LocalVersion))
	}
	if job.PublishedAt != nil {
		fmt.Fprintf(&b, "Опубликована: %s\n", job.PublishedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	return strings.TrimRight(b.String(), "\n")
}
