// Package bot обслуживает командный интерфейс трекера в Telegram.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"relwatch/internal/adapters/telegram"
	"relwatch/internal/domain"
	"relwatch/internal/infra/metrics"
	"relwatch/internal/usecase/registry"
	"relwatch/internal/usecase/settings"
)

// Checker запускает проверки версий по запросу из чата.
type Checker interface {
	CheckItem(ctx context.Context, id string, force bool) (domain.CheckResult, error)
	CheckAll(ctx context.Context, cause domain.NotifyCause) ([]domain.CheckResult, []domain.CheckFailure, error)
}

// Handler обслуживает вебхук бота. Бот одноместный: команды принимаются
// только из чата, в который notifier шлёт уведомления.
type Handler struct {
	bot      *tgbotapi.BotAPI
	log      zerolog.Logger
	chatID   int64
	registry *registry.Service
	checker  Checker
	settings *settings.Service
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, chatID int64, reg *registry.Service, checker Checker, settingsUC *settings.Service) *Handler {
	return &Handler{
		bot:      bot,
		log:      log,
		chatID:   chatID,
		registry: reg,
		checker:  checker,
		settings: settingsUC,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		if !h.allowedChat(upd.Message.Chat.ID) {
			return
		}
		h.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		if !h.allowedChat(upd.CallbackQuery.Message.Chat.ID) {
			return
		}
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) allowedChat(chatID int64) bool {
	if chatID == h.chatID {
		return true
	}
	h.log.Debug().Int64("chat", chatID).Msg("bot: сообщение из постороннего чата проигнорировано")
	return false
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		h.reply(msg.Chat.ID, h.buildStartMessage(), h.mainKeyboard())
	case strings.HasPrefix(text, "/help"):
		h.reply(msg.Chat.ID, h.buildHelpMessage(), h.mainKeyboard())
	case strings.HasPrefix(text, "/list"):
		h.handleList(ctx, msg.Chat.ID)
	// /check_all разбирается раньше /check, иначе совпадёт префикс.
	case strings.HasPrefix(text, "/check_all"):
		h.handleCheckAll(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/check"):
		query := strings.TrimSpace(strings.TrimPrefix(text, "/check"))
		h.handleCheck(ctx, msg.Chat.ID, query)
	case strings.HasPrefix(text, "/settings"):
		h.handleSettings(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/auto_on"):
		h.handleAutoRefresh(ctx, msg.Chat.ID, true)
	case strings.HasPrefix(text, "/auto_off"):
		h.handleAutoRefresh(ctx, msg.Chat.ID, false)
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help", nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID
	switch {
	case data == "list":
		h.handleList(ctx, chatID)
	case data == "check_all":
		h.handleCheckAll(ctx, chatID)
	case data == "settings":
		h.handleSettings(ctx, chatID)
	case data == "help_menu":
		h.reply(chatID, h.buildHelpMessage(), h.mainKeyboard())
	case strings.HasPrefix(data, "check:"):
		h.handleCheckByID(ctx, chatID, parseItemID(data))
	case strings.HasPrefix(data, "enable:"):
		h.handleToggle(ctx, chatID, parseItemID(data), true)
	case strings.HasPrefix(data, "disable:"):
		h.handleToggle(ctx, chatID, parseItemID(data), false)
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(cb.From.ID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось ответить на callback")
	}
}

func (h *Handler) handleList(ctx context.Context, chatID int64) {
	items, err := h.registry.List(ctx)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось получить список пакетов: %v", err), nil)
		return
	}
	if len(items) == 0 {
		h.reply(chatID, "Пока не отслеживается ни один пакет. Добавьте пакеты через API.", nil)
		return
	}
	var b strings.Builder
	for i, item := range items {
		b.WriteString(formatItemLine(i+1, item))
		b.WriteString("\n")
	}
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(items))
	for _, item := range items {
		action, label := "disable", "⏸ Пауза"
		if !item.Enabled {
			action, label = "enable", "▶️ Вкл"
		}
		toggle := tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s:%s", action, item.ID))
		check := tgbotapi.NewInlineKeyboardButtonData("🔄 Проверить", fmt.Sprintf("check:%s", item.ID))
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(toggle, check))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(keyboard...)
	h.reply(chatID, b.String(), &markup)
}

func (h *Handler) handleCheck(ctx context.Context, chatID int64, query string) {
	if query == "" {
		h.reply(chatID, "Укажите имя пакета: /check react", nil)
		return
	}
	item, ok := h.findItem(ctx, chatID, query)
	if !ok {
		return
	}
	h.runCheck(ctx, chatID, item)
}

func (h *Handler) handleCheckByID(ctx context.Context, chatID int64, id string) {
	if id == "" {
		h.reply(chatID, "Некорректный идентификатор пакета", nil)
		return
	}
	item, err := h.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.reply(chatID, "Пакет не найден. Обновите список командой /list", nil)
			return
		}
		h.reply(chatID, fmt.Sprintf("Ошибка: %v", err), nil)
		return
	}
	h.runCheck(ctx, chatID, item)
}

func (h *Handler) runCheck(ctx context.Context, chatID int64, item domain.TrackedItem) {
	res, err := h.checker.CheckItem(ctx, item.ID, true)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось проверить %s: %v", item.Name, err), nil)
		return
	}
	h.reply(chatID, renderCheckResult(item.Name, res), nil)
}

func (h *Handler) handleCheckAll(ctx context.Context, chatID int64) {
	items, err := h.registry.List(ctx)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось получить список пакетов: %v", err), nil)
		return
	}
	if len(items) == 0 {
		h.reply(chatID, "Пока не отслеживается ни один пакет. Добавьте пакеты через API.", nil)
		return
	}
	names := make(map[string]string, len(items))
	for _, item := range items {
		names[item.ID] = item.Name
	}

	results, failures, err := h.checker.CheckAll(ctx, domain.NotifyCauseManual)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Проверка не удалась: %v", err), nil)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Проверено пакетов: %d\n", len(results))
	var updates int
	for _, res := range results {
		if !res.HasUpdate {
			continue
		}
		if updates == 0 {
			b.WriteString("Обновления:\n")
		}
		updates++
		name := names[res.ItemID]
		if name == "" {
			name = res.ItemID
		}
		fmt.Fprintf(&b, " • %s: %s (%s)\n", name, res.LatestVersion, levelLabel(res.UpdateLevel))
	}
	if updates == 0 {
		b.WriteString("Обновлений нет.\n")
	}
	if len(failures) > 0 {
		b.WriteString("Ошибки:\n")
		for _, f := range failures {
			fmt.Fprintf(&b, " • %s: %v\n", f.Name, f.Err)
		}
	}
	h.reply(chatID, strings.TrimRight(b.String(), "\n"), nil)
}

func (h *Handler) handleToggle(ctx context.Context, chatID int64, id string, enabled bool) {
	if id == "" {
		h.reply(chatID, "Некорректный идентификатор пакета", nil)
		return
	}
	if err := h.registry.SetEnabled(ctx, id, enabled); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.reply(chatID, "Пакет не найден. Обновите список командой /list", nil)
			return
		}
		h.reply(chatID, fmt.Sprintf("Не удалось обновить статус: %v", err), nil)
		return
	}
	if enabled {
		h.reply(chatID, "Пакет снова участвует в фоновых проверках", nil)
	} else {
		h.reply(chatID, "Пакет поставлен на паузу: фоновые проверки пропускают его", nil)
	}
}

func (h *Handler) handleSettings(ctx context.Context, chatID int64) {
	current, err := h.settings.Get(ctx)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось получить настройки: %v", err), nil)
		return
	}
	h.reply(chatID, renderSettings(current), nil)
}

func (h *Handler) handleAutoRefresh(ctx context.Context, chatID int64, enable bool) {
	current, err := h.settings.Get(ctx)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось получить настройки: %v", err), nil)
		return
	}
	current.Cache.AutoRefreshEnabled = enable
	if enable && current.Cache.AutoRefreshIntervalMinutes < 1 {
		current.Cache.AutoRefreshIntervalMinutes = domain.DefaultSettings().Cache.AutoRefreshIntervalMinutes
	}
	saved, err := h.settings.Save(ctx, current)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось сохранить настройки: %v", err), nil)
		return
	}
	if enable {
		h.reply(chatID, fmt.Sprintf("Фоновые проверки включены: раз в %d мин. Изменение подхватится в течение минуты.", saved.Cache.AutoRefreshIntervalMinutes), nil)
	} else {
		h.reply(chatID, "Фоновые проверки выключены. Ручные проверки по-прежнему доступны.", nil)
	}
}

// findItem находит пакет по имени без учёта регистра; при отсутствии точного
// совпадения принимает уникальный префикс.
func (h *Handler) findItem(ctx context.Context, chatID int64, query string) (domain.TrackedItem, bool) {
	items, err := h.registry.List(ctx)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("Не удалось получить список пакетов: %v", err), nil)
		return domain.TrackedItem{}, false
	}
	lowered := strings.ToLower(query)
	var prefixMatches []domain.TrackedItem
	for _, item := range items {
		name := strings.ToLower(item.Name)
		if name == lowered {
			return item, true
		}
		if strings.HasPrefix(name, lowered) {
			prefixMatches = append(prefixMatches, item)
		}
	}
	switch len(prefixMatches) {
	case 1:
		return prefixMatches[0], true
	case 0:
		h.reply(chatID, fmt.Sprintf("Пакет %q не найден. Список пакетов: /list", query), nil)
	default:
		names := make([]string, 0, len(prefixMatches))
		for _, item := range prefixMatches {
			names = append(names, item.Name)
		}
		h.reply(chatID, fmt.Sprintf("Уточните имя, найдено несколько: %s", strings.Join(names, ", ")), nil)
	}
	return domain.TrackedItem{}, false
}

func parseItemID(data string) string {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func formatItemLine(n int, item domain.TrackedItem) string {
	status := "▶️"
	if !item.Enabled {
		status = "⏸"
	}
	line := fmt.Sprintf("%d. %s %s [%s:%s]", n, status, item.Name, item.Source.Kind, item.Source.Identifier)
	if item.LatestVersion != nil {
		line += fmt.Sprintf(" — последняя %s", *item.LatestVersion)
	} else {
		line += " — ещё не проверялся"
	}
	if item.LocalVersion != nil {
		line += fmt.Sprintf(", локально %s", *item.LocalVersion)
	}
	return line
}

func renderCheckResult(name string, res domain.CheckResult) string {
	if !res.HasUpdate {
		text := fmt.Sprintf("✅ %s: обновлений нет (%s)", name, res.LatestVersion)
		if res.FromCache {
			text += " — по данным кэша"
		}
		return text
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 %s: %s\n", name, levelLabel(res.UpdateLevel))
	fmt.Fprintf(&b, "Новая версия: %s", res.LatestVersion)
	if res.LocalVersion != nil {
		fmt.Fprintf(&b, "\nУстановлена: %s", *res.LocalVersion)
	}
	if res.PublishedAt != nil {
		fmt.Fprintf(&b, "\nОпубликована: %s", res.PublishedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	return b.String()
}

func renderSettings(s domain.Settings) string {
	lines := []string{
		"⚙️ Текущие настройки:",
		fmt.Sprintf("Кэш версий: %d мин", s.Cache.TTLMinutes),
	}
	if s.Cache.AutoRefreshEnabled {
		lines = append(lines, fmt.Sprintf("Фоновые проверки: раз в %d мин (/auto_off — выключить)", s.Cache.AutoRefreshIntervalMinutes))
	} else {
		lines = append(lines, "Фоновые проверки: выключены (/auto_on — включить)")
	}
	if s.Notification.Enabled {
		var levels []string
		if s.Notification.NotifyOnMajor {
			levels = append(levels, "major")
		}
		if s.Notification.NotifyOnMinor {
			levels = append(levels, "minor")
		}
		if s.Notification.NotifyOnPatch {
			levels = append(levels, "patch")
		}
		if s.Notification.NotifyOnPrerelease {
			levels = append(levels, "prerelease")
		}
		if len(levels) == 0 {
			lines = append(lines, "Уведомления: включены, но все уровни отключены")
		} else {
			lines = append(lines, fmt.Sprintf("Уведомления: %s", strings.Join(levels, ", ")))
		}
	} else {
		lines = append(lines, "Уведомления: выключены")
	}
	if s.Notification.SilentStartHour != nil && s.Notification.SilentEndHour != nil {
		lines = append(lines, fmt.Sprintf("Тихие часы: %02d:00–%02d:00", *s.Notification.SilentStartHour, *s.Notification.SilentEndHour))
	}
	if s.Notification.TestMode {
		lines = append(lines, "Тестовый режим: уведомления шлются на каждом совпадении уровня")
	}
	lines = append(lines, "", "Изменить настройки можно через PUT /api/v1/settings.")
	return strings.Join(lines, "\n")
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

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("bot: не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📦 Пакеты", "list"),
			tgbotapi.NewInlineKeyboardButtonData("🔄 Проверить все", "check_all"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Настройки", "settings"),
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Помощь", "help_menu"),
		),
	)
	return &buttons
}

func (h *Handler) buildStartMessage() string {
	lines := []string{
		"👋 Это чат наблюдателя за версиями.",
		"",
		"Сюда приходят уведомления о новых версиях отслеживаемых пакетов.",
		"Отсюда же можно управлять проверками:",
		"• 📦 Пакеты — список с последними известными версиями.",
		"• 🔄 Проверить все — принудительный обход всех источников.",
		"• ⚙️ Настройки — кэш, расписание и уровни уведомлений.",
		"",
		"Полный список команд — /help.",
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) buildHelpMessage() string {
	sections := []string{
		"📖 Команды:",
		"",
		"Пакеты:",
		"• /list — список отслеживаемых пакетов и кнопки действий.",
		"• /check react — принудительно проверить один пакет.",
		"• /check_all — проверить все пакеты, минуя кэш по расписанию TTL.",
		"",
		"Настройки:",
		"• /settings — показать текущие настройки.",
		"• /auto_on — включить фоновые проверки.",
		"• /auto_off — выключить фоновые проверки.",
		"",
		"Добавление и редактирование пакетов выполняется через HTTP API.",
	}
	return strings.Join(sections, "\n")
}
