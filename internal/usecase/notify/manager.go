package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"relwatch/internal/domain"
	"relwatch/internal/infra/metrics"
	"relwatch/internal/version"
)

// Manager превращает найденные обновления в задачи доставки.
// Решение о том, уведомлять ли, принимает Decide; дедупликация
// отсекает повторные уведомления об одной и той же версии.
type Manager struct {
	queue    domain.NotifyQueue
	items    domain.ItemRepo
	settings domain.SettingsRepo
	log      zerolog.Logger

	analytics domain.BusinessMetricRepo
	nowFunc   func() time.Time
}

// Option настраивает менеджер уведомлений.
type Option func(*Manager)

// WithAnalytics подключает запись бизнесовых событий.
func WithAnalytics(repo domain.BusinessMetricRepo) Option {
	return func(m *Manager) { m.analytics = repo }
}

// WithNowFunc подменяет источник времени в тестах.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.nowFunc = now
		}
	}
}

// NewManager создаёт менеджер уведомлений.
func NewManager(queue domain.NotifyQueue, items domain.ItemRepo, settings domain.SettingsRepo,
	log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		queue:    queue,
		items:    items,
		settings: settings,
		log:      log,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleUpdate получает результат проверки с найденным обновлением и при
// положительном решении ставит уведомление в очередь.
func (m *Manager) HandleUpdate(ctx context.Context, item domain.TrackedItem, res domain.CheckResult, cause domain.NotifyCause) error {
	settings, err := m.settings.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("чтение настроек: %w", err)
	}
	policy := settings.Notification

	// В тестовом режиме повторные уведомления об одной версии не отсекаются.
	if cause != domain.NotifyCauseTest && !policy.TestMode &&
		item.LastNotifiedVersion != nil && *item.LastNotifiedVersion == res.LatestVersion {
		metrics.IncNotification("deduplicated")
		return nil
	}

	decision := Decide(policy, version.ParseLevel(res.UpdateLevel), cause, m.nowFunc())
	if !decision.Allowed {
		metrics.IncNotification("suppressed")
		m.log.Debug().Str("item", item.Name).Str("reason", decision.Reason).Msg("notify: уведомление подавлено")
		return nil
	}

	job := domain.NotifyJob{
		ID:            uuid.NewString(),
		ItemID:        item.ID,
		ItemName:      item.Name,
		Level:         res.UpdateLevel,
		LocalVersion:  stringValue(res.LocalVersion),
		LatestVersion: res.LatestVersion,
		PublishedAt:   res.PublishedAt,
		Cause:         cause,
		RequestedAt:   m.nowFunc(),
	}
	if err := m.enqueue(ctx, job); err != nil {
		return err
	}

	if cause != domain.NotifyCauseTest {
		if err := m.items.MarkNotified(ctx, item.ID, res.LatestVersion, m.nowFunc()); err != nil {
			// Не фатально: без отметки следующее такое же обновление
			// приведёт к повторному уведомлению.
			m.log.Error().Err(err).Str("item", item.Name).Msg("notify: не удалось отметить уведомление")
		}
	}
	return nil
}

// SendTest ставит тестовое уведомление в очередь, минуя политику и
// дедупликацию: его назначение — проверить сам канал доставки.
// Пустой itemID даёт синтетическую задачу, не привязанную к пакету.
func (m *Manager) SendTest(ctx context.Context, itemID string) (domain.NotifyJob, error) {
	job := domain.NotifyJob{
		ID:            uuid.NewString(),
		ItemName:      "relwatch",
		Level:         version.LevelUnknown.String(),
		LatestVersion: "0.0.0",
		Cause:         domain.NotifyCauseTest,
		RequestedAt:   m.nowFunc(),
	}
	if itemID != "" {
		item, err := m.items.GetItem(ctx, itemID)
		if err != nil {
			return domain.NotifyJob{}, fmt.Errorf("получение пакета: %w", err)
		}
		job.ItemID = item.ID
		job.ItemName = item.Name
		job.LocalVersion = stringValue(item.LocalVersion)
		if item.LatestVersion != nil {
			job.LatestVersion = *item.LatestVersion
		}
		job.PublishedAt = item.PublishedAt
	}
	if err := m.enqueue(ctx, job); err != nil {
		return domain.NotifyJob{}, err
	}
	return job, nil
}

func (m *Manager) enqueue(ctx context.Context, job domain.NotifyJob) error {
	if err := m.queue.Enqueue(ctx, job); err != nil {
		metrics.IncNotification("enqueue_failed")
		return fmt.Errorf("постановка уведомления в очередь: %w", err)
	}
	metrics.IncNotification("enqueued")
	if m.analytics != nil {
		itemID := job.ItemID
		metric := domain.BusinessMetric{
			Event: domain.BusinessMetricEventNotifyEnqueued,
			Metadata: map[string]any{
				"job_id": job.ID,
				"level":  job.Level,
				"cause":  job.Cause,
			},
		}
		if itemID != "" {
			metric.ItemID = &itemID
		}
		_ = m.analytics.RecordBusinessMetric(ctx, metric)
	}
	return nil
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
