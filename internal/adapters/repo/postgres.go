package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"relwatch/internal/domain"
	"relwatch/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ItemRepo            = (*Postgres)(nil)
	_ domain.SettingsRepo        = (*Postgres)(nil)
	_ domain.NotifyJobStatusRepo = (*Postgres)(nil)
	_ domain.BusinessMetricRepo  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const itemColumns = `id, name, source_kind, source_identifier, probe_command, probe_version_arg,
latest_version, local_version, published_at, last_checked_at,
last_notified_version, last_notified_at, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.TrackedItem, error) {
	var (
		item            domain.TrackedItem
		probeCommand    sql.NullString
		probeVersionArg sql.NullString
		latestVersion   sql.NullString
		localVersion    sql.NullString
		publishedAt     sql.NullTime
		lastCheckedAt   sql.NullTime
		notifiedVersion sql.NullString
		notifiedAt      sql.NullTime
	)
	err := row.Scan(&item.ID, &item.Name, &item.Source.Kind, &item.Source.Identifier,
		&probeCommand, &probeVersionArg,
		&latestVersion, &localVersion, &publishedAt, &lastCheckedAt,
		&notifiedVersion, &notifiedAt, &item.Enabled, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return domain.TrackedItem{}, err
	}
	if probeCommand.Valid {
		item.Probe = &domain.LocalProbe{Command: probeCommand.String, VersionArg: probeVersionArg.String}
	}
	if latestVersion.Valid {
		v := latestVersion.String
		item.LatestVersion = &v
	}
	if localVersion.Valid {
		v := localVersion.String
		item.LocalVersion = &v
	}
	if publishedAt.Valid {
		ts := publishedAt.Time
		item.PublishedAt = &ts
	}
	if lastCheckedAt.Valid {
		ts := lastCheckedAt.Time
		item.LastCheckedAt = &ts
	}
	if notifiedVersion.Valid {
		v := notifiedVersion.String
		item.LastNotifiedVersion = &v
	}
	if notifiedAt.Valid {
		ts := notifiedAt.Time
		item.LastNotifiedAt = &ts
	}
	return item, nil
}

func probeArgs(probe *domain.LocalProbe) (sql.NullString, sql.NullString) {
	if probe == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: probe.Command, Valid: true},
		sql.NullString{String: probe.VersionArg, Valid: true}
}

// CreateItem сохраняет новый пакет и возвращает строку с временными метками БД.
func (p *Postgres) CreateItem(ctx context.Context, item domain.TrackedItem) (domain.TrackedItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	probeCommand, probeVersionArg := probeArgs(item.Probe)

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO tracked_items (id, name, source_kind, source_identifier, probe_command, probe_version_arg,
                           latest_version, local_version, published_at, last_checked_at, enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+itemColumns+`
`, item.ID, item.Name, item.Source.Kind, item.Source.Identifier, probeCommand, probeVersionArg,
		item.LatestVersion, item.LocalVersion, item.PublishedAt, item.LastCheckedAt, item.Enabled)
	created, err := scanItem(row)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_insert", "tracked_items", start, err)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return domain.TrackedItem{}, fmt.Errorf("%w: %s", domain.ErrDuplicateSource, item.Source.Key())
		}
		return domain.TrackedItem{}, err
	}

	itemID := created.ID
	_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventItemAdded,
		ItemID: &itemID,
		Metadata: map[string]any{
			"source_kind":       created.Source.Kind,
			"source_identifier": created.Source.Identifier,
		},
	})
	return created, nil
}

// UpdateItem перезаписывает изменяемые поля пакета.
func (p *Postgres) UpdateItem(ctx context.Context, item domain.TrackedItem) (domain.TrackedItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	probeCommand, probeVersionArg := probeArgs(item.Probe)

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE tracked_items
SET name=$2, source_kind=$3, source_identifier=$4, probe_command=$5, probe_version_arg=$6,
    latest_version=$7, local_version=$8, published_at=$9, last_checked_at=$10,
    last_notified_version=$11, last_notified_at=$12, enabled=$13, updated_at=now()
WHERE id=$1
RETURNING `+itemColumns+`
`, item.ID, item.Name, item.Source.Kind, item.Source.Identifier, probeCommand, probeVersionArg,
		item.LatestVersion, item.LocalVersion, item.PublishedAt, item.LastCheckedAt,
		item.LastNotifiedVersion, item.LastNotifiedAt, item.Enabled)
	updated, err := scanItem(row)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_update", "tracked_items", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TrackedItem{}, domain.ErrNotFound
	}
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return domain.TrackedItem{}, fmt.Errorf("%w: %s", domain.ErrDuplicateSource, item.Source.Key())
		}
		return domain.TrackedItem{}, err
	}
	return updated, nil
}

// DeleteItem удаляет пакет.
func (p *Postgres) DeleteItem(ctx context.Context, id string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM tracked_items WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_delete", "tracked_items", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	itemID := id
	_ = p.saveBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventItemRemoved,
		ItemID: &itemID,
	})
	return nil
}

// GetItem возвращает пакет по идентификатору.
func (p *Postgres) GetItem(ctx context.Context, id string) (domain.TrackedItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE id=$1`, id)
	item, err := scanItem(row)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_get", "tracked_items", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TrackedItem{}, domain.ErrNotFound
	}
	return item, err
}

// ListItems возвращает все пакеты в порядке добавления.
func (p *Postgres) ListItems(ctx context.Context) ([]domain.TrackedItem, error) {
	return p.listItems(ctx, `SELECT `+itemColumns+` FROM tracked_items ORDER BY sort_order`, "tracked_items_list")
}

// ListEnabledItems возвращает только включённые пакеты в порядке добавления.
func (p *Postgres) ListEnabledItems(ctx context.Context) ([]domain.TrackedItem, error) {
	return p.listItems(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE enabled ORDER BY sort_order`, "tracked_items_list_enabled")
}

func (p *Postgres) listItems(ctx context.Context, query, operation string) ([]domain.TrackedItem, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", operation, "tracked_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.TrackedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetItemEnabled включает или выключает пакет.
func (p *Postgres) SetItemEnabled(ctx context.Context, id string, enabled bool) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `UPDATE tracked_items SET enabled=$2, updated_at=now() WHERE id=$1`, id, enabled)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_set_enabled", "tracked_items", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ApplyCheckResult записывает итог успешной проверки: состояние версий
// заменяется целиком, включая отметку времени проверки.
func (p *Postgres) ApplyCheckResult(ctx context.Context, res domain.CheckResult, checkedAt time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE tracked_items
SET latest_version=$2, local_version=$3, published_at=$4, last_checked_at=$5, updated_at=now()
WHERE id=$1
`, res.ItemID, res.LatestVersion, res.LocalVersion, res.PublishedAt, checkedAt)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_apply_check", "tracked_items", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkNotified фиксирует версию, о которой пользователь уже уведомлён.
func (p *Postgres) MarkNotified(ctx context.Context, id string, version string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE tracked_items
SET last_notified_version=$2, last_notified_at=$3, updated_at=now()
WHERE id=$1
`, id, version, at)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_mark_notified", "tracked_items", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetSettings возвращает настройки; при пустой таблице — значения по умолчанию.
func (p *Postgres) GetSettings(ctx context.Context) (domain.Settings, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		s           domain.Settings
		silentStart sql.NullInt64
		silentEnd   sql.NullInt64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT cache_ttl_minutes, auto_refresh_enabled, auto_refresh_interval_minutes,
       notifications_enabled, test_mode, notify_major, notify_minor, notify_patch, notify_prerelease,
       silent_start_hour, silent_end_hour
FROM watch_settings WHERE id=1
`).Scan(&s.Cache.TTLMinutes, &s.Cache.AutoRefreshEnabled, &s.Cache.AutoRefreshIntervalMinutes,
		&s.Notification.Enabled, &s.Notification.TestMode, &s.Notification.NotifyOnMajor,
		&s.Notification.NotifyOnMinor, &s.Notification.NotifyOnPatch, &s.Notification.NotifyOnPrerelease,
		&silentStart, &silentEnd)
	metrics.ObserveNetworkRequest("postgres", "watch_settings_get", "watch_settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, err
	}
	if silentStart.Valid {
		hour := int(silentStart.Int64)
		s.Notification.SilentStartHour = &hour
	}
	if silentEnd.Valid {
		hour := int(silentEnd.Int64)
		s.Notification.SilentEndHour = &hour
	}
	return s, nil
}

// SaveSettings сохраняет настройки целиком в единственную строку таблицы.
func (p *Postgres) SaveSettings(ctx context.Context, settings domain.Settings) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var silentStart, silentEnd sql.NullInt64
	if settings.Notification.SilentStartHour != nil {
		silentStart = sql.NullInt64{Int64: int64(*settings.Notification.SilentStartHour), Valid: true}
	}
	if settings.Notification.SilentEndHour != nil {
		silentEnd = sql.NullInt64{Int64: int64(*settings.Notification.SilentEndHour), Valid: true}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO watch_settings (id, cache_ttl_minutes, auto_refresh_enabled, auto_refresh_interval_minutes,
                            notifications_enabled, test_mode, notify_major, notify_minor, notify_patch,
                            notify_prerelease, silent_start_hour, silent_end_hour, updated_at)
VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (id) DO UPDATE
    SET cache_ttl_minutes = EXCLUDED.cache_ttl_minutes,
        auto_refresh_enabled = EXCLUDED.auto_refresh_enabled,
        auto_refresh_interval_minutes = EXCLUDED.auto_refresh_interval_minutes,
        notifications_enabled = EXCLUDED.notifications_enabled,
        test_mode = EXCLUDED.test_mode,
        notify_major = EXCLUDED.notify_major,
        notify_minor = EXCLUDED.notify_minor,
        notify_patch = EXCLUDED.notify_patch,
        notify_prerelease = EXCLUDED.notify_prerelease,
        silent_start_hour = EXCLUDED.silent_start_hour,
        silent_end_hour = EXCLUDED.silent_end_hour,
        updated_at = now()
`, settings.Cache.TTLMinutes, settings.Cache.AutoRefreshEnabled, settings.Cache.AutoRefreshIntervalMinutes,
		settings.Notification.Enabled, settings.Notification.TestMode, settings.Notification.NotifyOnMajor,
		settings.Notification.NotifyOnMinor, settings.Notification.NotifyOnPatch, settings.Notification.NotifyOnPrerelease,
		silentStart, silentEnd)
	metrics.ObserveNetworkRequest("postgres", "watch_settings_upsert", "watch_settings", start, err)
	return err
}

// EnsureNotifyJob регистрирует попытку доставки уведомления.
func (p *Postgres) EnsureNotifyJob(jobID string) (bool, int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var (
		delivered sql.NullTime
		attempts  int
	)

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO notify_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = notify_job_statuses.attempts + 1,
        updated_at = now()
RETURNING delivered_at, attempts
`, jobID).Scan(&delivered, &attempts)
	metrics.ObserveNetworkRequest("postgres", "notify_job_statuses_upsert", "notify_job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}

	return delivered.Valid, attempts, nil
}

// MarkNotifyJobDelivered помечает уведомление как доставленное.
func (p *Postgres) MarkNotifyJobDelivered(jobID string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE notify_job_statuses
SET delivered_at = COALESCE(delivered_at, now()),
    updated_at = now()
WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "notify_job_statuses_mark_delivered", "notify_job_statuses", start, err)
	return err
}

func (p *Postgres) saveBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}

	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var itemID sql.NullString
	if metric.ItemID != nil {
		itemID = sql.NullString{String: *metric.ItemID, Valid: true}
	}

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, item_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, metric.Event, itemID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	return p.saveBusinessMetric(ctx, metric)
}
