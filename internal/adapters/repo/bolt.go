package repo

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"relwatch/internal/domain"
)

var (
	bucketItems           = []byte("items")
	bucketItemOrder       = []byte("item_order")
	bucketSettings        = []byte("settings")
	bucketNotifyJobs      = []byte("notify_jobs")
	bucketBusinessMetrics = []byte("business_metrics")

	settingsKey = []byte("current")
)

// Bolt реализует репозитории на встроенном файловом хранилище bbolt.
// Используется в установках без Postgres: один файл, нулевая эксплуатация.
type Bolt struct {
	db *bbolt.DB
}

var (
	_ domain.ItemRepo            = (*Bolt)(nil)
	_ domain.SettingsRepo        = (*Bolt)(nil)
	_ domain.NotifyJobStatusRepo = (*Bolt)(nil)
	_ domain.BusinessMetricRepo  = (*Bolt)(nil)
)

// NewBolt открывает файл БД и создаёт нужные бакеты.
func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("открытие bolt: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketItems, bucketItemOrder, bucketSettings, bucketNotifyJobs, bucketBusinessMetrics} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("создание бакетов: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close закрывает файл БД.
func (b *Bolt) Close() error {
	return b.db.Close()
}

type notifyJobRecord struct {
	Attempts    int        `json:"attempts"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func itob(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func putItem(bucket *bbolt.Bucket, item domain.TrackedItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(item.ID), data)
}

func getItem(bucket *bbolt.Bucket, id string) (domain.TrackedItem, bool, error) {
	raw := bucket.Get([]byte(id))
	if raw == nil {
		return domain.TrackedItem{}, false, nil
	}
	var item domain.TrackedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return domain.TrackedItem{}, false, err
	}
	return item, true, nil
}

// sourceTaken проверяет, не занят ли ключ источника другим пакетом.
func sourceTaken(bucket *bbolt.Bucket, key, exceptID string) (bool, error) {
	taken := false
	err := bucket.ForEach(func(_, raw []byte) error {
		var item domain.TrackedItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return err
		}
		if item.ID != exceptID && item.Source.Key() == key {
			taken = true
		}
		return nil
	})
	return taken, err
}

// CreateItem сохраняет новый пакет и присваивает ему порядковый номер.
func (b *Bolt) CreateItem(ctx context.Context, item domain.TrackedItem) (domain.TrackedItem, error) {
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	err := b.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(bucketItems)
		taken, err := sourceTaken(items, item.Source.Key(), item.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSource, item.Source.Key())
		}
		order := tx.Bucket(bucketItemOrder)
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		if err := order.Put(itob(seq), []byte(item.ID)); err != nil {
			return err
		}
		return putItem(items, item)
	})
	if err != nil {
		return domain.TrackedItem{}, err
	}

	itemID := item.ID
	_ = b.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventItemAdded,
		ItemID: &itemID,
		Metadata: map[string]any{
			"source_kind":       item.Source.Kind,
			"source_identifier": item.Source.Identifier,
		},
	})
	return item, nil
}

// UpdateItem перезаписывает пакет по идентификатору.
func (b *Bolt) UpdateItem(_ context.Context, item domain.TrackedItem) (domain.TrackedItem, error) {
	var updated domain.TrackedItem
	err := b.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(bucketItems)
		existing, ok, err := getItem(items, item.ID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		taken, err := sourceTaken(items, item.Source.Key(), item.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSource, item.Source.Key())
		}
		item.CreatedAt = existing.CreatedAt
		item.UpdatedAt = time.Now().UTC()
		updated = item
		return putItem(items, item)
	})
	if err != nil {
		return domain.TrackedItem{}, err
	}
	return updated, nil
}

// DeleteItem удаляет пакет и его место в порядке сортировки.
func (b *Bolt) DeleteItem(ctx context.Context, id string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(bucketItems)
		if items.Get([]byte(id)) == nil {
			return domain.ErrNotFound
		}
		if err := items.Delete([]byte(id)); err != nil {
			return err
		}
		order := tx.Bucket(bucketItemOrder)
		cursor := order.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if string(v) == id {
				return order.Delete(k)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	itemID := id
	_ = b.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventItemRemoved,
		ItemID: &itemID,
	})
	return nil
}

// GetItem возвращает пакет по идентификатору.
func (b *Bolt) GetItem(_ context.Context, id string) (domain.TrackedItem, error) {
	var item domain.TrackedItem
	err := b.db.View(func(tx *bbolt.Tx) error {
		found, ok, err := getItem(tx.Bucket(bucketItems), id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		item = found
		return nil
	})
	if err != nil {
		return domain.TrackedItem{}, err
	}
	return item, nil
}

// ListItems возвращает все пакеты в порядке добавления.
func (b *Bolt) ListItems(ctx context.Context) ([]domain.TrackedItem, error) {
	return b.listItems(ctx, false)
}

// ListEnabledItems возвращает только включённые пакеты в порядке добавления.
func (b *Bolt) ListEnabledItems(ctx context.Context) ([]domain.TrackedItem, error) {
	return b.listItems(ctx, true)
}

func (b *Bolt) listItems(_ context.Context, enabledOnly bool) ([]domain.TrackedItem, error) {
	var items []domain.TrackedItem
	err := b.db.View(func(tx *bbolt.Tx) error {
		itemsBucket := tx.Bucket(bucketItems)
		order := tx.Bucket(bucketItemOrder)
		return order.ForEach(func(_, id []byte) error {
			item, ok, err := getItem(itemsBucket, string(id))
			if err != nil {
				return err
			}
			if !ok {
				// Осиротевшая запись порядка: пакет уже удалён.
				return nil
			}
			if enabledOnly && !item.Enabled {
				return nil
			}
			items = append(items, item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SetItemEnabled включает или выключает пакет.
func (b *Bolt) SetItemEnabled(_ context.Context, id string, enabled bool) error {
	return b.mutateItem(id, func(item *domain.TrackedItem) {
		item.Enabled = enabled
	})
}

// ApplyCheckResult записывает итог успешной проверки: состояние версий
// заменяется целиком, включая отметку времени проверки.
func (b *Bolt) ApplyCheckResult(_ context.Context, res domain.CheckResult, checkedAt time.Time) error {
	return b.mutateItem(res.ItemID, func(item *domain.TrackedItem) {
		latest := res.LatestVersion
		item.LatestVersion = &latest
		item.LocalVersion = res.LocalVersion
		item.PublishedAt = res.PublishedAt
		checked := checkedAt
		item.LastCheckedAt = &checked
	})
}

// MarkNotified фиксирует версию, о которой пользователь уже уведомлён.
func (b *Bolt) MarkNotified(_ context.Context, id string, version string, at time.Time) error {
	return b.mutateItem(id, func(item *domain.TrackedItem) {
		v := version
		item.LastNotifiedVersion = &v
		ts := at
		item.LastNotifiedAt = &ts
	})
}

func (b *Bolt) mutateItem(id string, mutate func(*domain.TrackedItem)) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(bucketItems)
		item, ok, err := getItem(items, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		mutate(&item)
		item.UpdatedAt = time.Now().UTC()
		return putItem(items, item)
	})
}

// GetSettings возвращает настройки; при пустом бакете — значения по умолчанию.
func (b *Bolt) GetSettings(_ context.Context) (domain.Settings, error) {
	settings := domain.DefaultSettings()
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSettings).Get(settingsKey)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &settings)
	})
	if err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

// SaveSettings сохраняет настройки целиком.
func (b *Bolt) SaveSettings(_ context.Context, settings domain.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put(settingsKey, data)
	})
}

// EnsureNotifyJob регистрирует попытку доставки уведомления.
func (b *Bolt) EnsureNotifyJob(jobID string) (bool, int, error) {
	var (
		delivered bool
		attempts  int
	)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNotifyJobs)
		var record notifyJobRecord
		if raw := bucket.Get([]byte(jobID)); raw != nil {
			if err := json.Unmarshal(raw, &record); err != nil {
				return err
			}
		}
		record.Attempts++
		record.UpdatedAt = time.Now().UTC()
		delivered = record.DeliveredAt != nil
		attempts = record.Attempts
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(jobID), data)
	})
	if err != nil {
		return false, 0, err
	}
	return delivered, attempts, nil
}

// MarkNotifyJobDelivered помечает уведомление как доставленное.
func (b *Bolt) MarkNotifyJobDelivered(jobID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNotifyJobs)
		var record notifyJobRecord
		if raw := bucket.Get([]byte(jobID)); raw != nil {
			if err := json.Unmarshal(raw, &record); err != nil {
				return err
			}
		}
		if record.DeliveredAt == nil {
			now := time.Now().UTC()
			record.DeliveredAt = &now
		}
		record.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(jobID), data)
	})
}

// RecordBusinessMetric дописывает бизнесовую метрику в журнал.
func (b *Bolt) RecordBusinessMetric(_ context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(metric)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBusinessMetrics)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(itob(seq), data)
	})
}
