package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"relwatch/internal/domain"
	"relwatch/internal/infra/metrics"
)

// RabbitNotifyQueue реализует очередь уведомлений поверх AMQP.
type RabbitNotifyQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.NotifyQueue = (*RabbitNotifyQueue)(nil)

// NewRabbitNotifyQueue подключается к брокеру и объявляет долговечную очередь.
func NewRabbitNotifyQueue(amqpURL, queueName string) (*RabbitNotifyQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queueName == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("подключение к rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("объявление очереди: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("настройка qos: %w", err)
	}
	return &RabbitNotifyQueue{conn: conn, ch: ch, queue: queueName}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitNotifyQueue) Enqueue(ctx context.Context, job domain.NotifyJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("кодирование задачи: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("публикация задачи: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. ack(true) подтверждает
// доставку, ack(false) возвращает задачу в очередь.
func (q *RabbitNotifyQueue) Receive(ctx context.Context) (domain.NotifyJob, domain.NotifyAckFunc, error) {
	deliveries, err := q.consumer()
	if err != nil {
		return domain.NotifyJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.NotifyJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.NotifyJob{}, nil, errors.New("канал доставки закрыт")
		}
		var job domain.NotifyJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			// Нечитаемое сообщение не вернётся в очередь.
			_ = d.Nack(false, false)
			return domain.NotifyJob{}, nil, fmt.Errorf("декодирование задачи: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

// consumer лениво создаёт подписку: процессы, которые только публикуют,
// не должны забирать сообщения из очереди.
func (q *RabbitNotifyQueue) consumer() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("подписка на очередь: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close освобождает канал и соединение с брокером.
func (q *RabbitNotifyQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
