package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	ItemID     *string
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventItemAdded фиксирует добавление пакета в отслеживание.
	BusinessMetricEventItemAdded = "item_added"
	// BusinessMetricEventItemRemoved фиксирует удаление пакета из отслеживания.
	BusinessMetricEventItemRemoved = "item_removed"
	// BusinessMetricEventUpdateFound фиксирует обнаружение новой версии.
	BusinessMetricEventUpdateFound = "update_found"
	// BusinessMetricEventNotifyEnqueued фиксирует постановку уведомления в очередь.
	BusinessMetricEventNotifyEnqueued = "notify_enqueued"
	// BusinessMetricEventNotifyDelivered фиксирует успешную доставку уведомления.
	BusinessMetricEventNotifyDelivered = "notify_delivered"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
