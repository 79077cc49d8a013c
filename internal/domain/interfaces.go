package domain

import (
	"context"
	"time"
)

// ReleaseFetcher возвращает последнюю опубликованную версию пакета из реестра.
// Реализация подбирается по source.Kind; вызов ограничивается контекстом вызывающего.
type ReleaseFetcher interface {
	FetchLatest(ctx context.Context, source Source) (ReleaseInfo, error)
}

// VersionProbe определяет установленную версию через локальную команду.
// Ошибка пробы не считается фатальной для проверки пакета.
type VersionProbe interface {
	Detect(ctx context.Context, probe LocalProbe) (string, error)
}

// ItemRepo управляет хранением отслеживаемых пакетов.
// List возвращает пакеты в порядке добавления.
type ItemRepo interface {
	CreateItem(ctx context.Context, item TrackedItem) (TrackedItem, error)
	UpdateItem(ctx context.Context, item TrackedItem) (TrackedItem, error)
	DeleteItem(ctx context.Context, id string) error
	GetItem(ctx context.Context, id string) (TrackedItem, error)
	ListItems(ctx context.Context) ([]TrackedItem, error)
	ListEnabledItems(ctx context.Context) ([]TrackedItem, error)
	SetItemEnabled(ctx context.Context, id string, enabled bool) error
	// ApplyCheckResult атомарно обновляет поля версий и lastCheckedAt
	// после завершённой проверки.
	ApplyCheckResult(ctx context.Context, res CheckResult, checkedAt time.Time) error
	// MarkNotified фиксирует версию, о которой пользователь уже уведомлён.
	MarkNotified(ctx context.Context, id string, version string, at time.Time) error
}

// SettingsRepo хранит политики кэша и уведомлений.
// Get возвращает DefaultSettings, если настройки ещё не сохранялись.
type SettingsRepo interface {
	GetSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, settings Settings) error
}

// VersionCache хранит результаты последних успешных проверок по пакетам.
// Отсутствующая запись никогда не свежая; свежесть считается через CacheEntry.Fresh.
type VersionCache interface {
	Entry(itemID string) (CacheEntry, bool, error)
	Put(itemID string, entry CacheEntry) error
	Invalidate(itemID string) error
	Reset() error
}

// Notifier доставляет уведомление пользователю. Ошибки доставки логируются
// вызывающим и не попадают обратно в поток проверки.
type Notifier interface {
	Notify(ctx context.Context, job NotifyJob) error
}
