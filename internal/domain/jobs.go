package domain

import (
	"context"
	"time"
)

// NotifyCause описывает источник запроса на уведомление.
type NotifyCause string

const (
	// NotifyCauseScheduled — обновление найдено фоновой проверкой.
	NotifyCauseScheduled NotifyCause = "scheduled"
	// NotifyCauseManual — обновление найдено проверкой по запросу пользователя.
	NotifyCauseManual NotifyCause = "manual"
	// NotifyCauseTest — тестовое уведомление для проверки доставки.
	NotifyCauseTest NotifyCause = "test"
)

// NotifyJob содержит всё необходимое для доставки одного уведомления об обновлении.
type NotifyJob struct {
	ID            string      `json:"job_id"`
	ItemID        string      `json:"item_id"`
	ItemName      string      `json:"item_name"`
	Level         string      `json:"level"`
	LocalVersion  string      `json:"local_version,omitempty"`
	LatestVersion string      `json:"latest_version"`
	PublishedAt   *time.Time  `json:"published_at,omitempty"`
	Cause         NotifyCause `json:"cause"`
	RequestedAt   time.Time   `json:"requested_at"`
}

// NotifyQueue описывает очередь задач на доставку уведомлений.
type NotifyQueue interface {
	Enqueue(ctx context.Context, job NotifyJob) error
	Receive(ctx context.Context) (NotifyJob, NotifyAckFunc, error)
}

// NotifyAckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type NotifyAckFunc func(success bool) error

// NotifyJobStatusRepo отслеживает статус доставки задач уведомлений.
type NotifyJobStatusRepo interface {
	// EnsureNotifyJob регистрирует попытку обработки и возвращает признак
	// успешной доставки и номер текущей попытки.
	EnsureNotifyJob(jobID string) (delivered bool, attempt int, err error)
	// MarkNotifyJobDelivered помечает задачу как окончательно доставленную.
	MarkNotifyJobDelivered(jobID string) error
}
