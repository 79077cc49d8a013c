package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"relwatch/internal/adapters/notifier"
	"relwatch/internal/adapters/repo"
	"relwatch/internal/domain"
	"relwatch/internal/infra/config"
	"relwatch/internal/infra/db"
	loginfra "relwatch/internal/infra/log"
	"relwatch/internal/infra/metrics"
	"relwatch/internal/infra/queue"
)

// store объединяет хранилища, которые нужны процессу доставки.
type store interface {
	domain.NotifyJobStatusRepo
	domain.BusinessMetricRepo
}

func main() {
	cfg := config.Load()
	log.Logger = loginfra.NewLogger(cfg.AppEnv, "notifier")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	storage, closeStorage, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("notifier: хранилище недоступно")
	}
	defer closeStorage()

	var notifyQueue domain.NotifyQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitNotifyQueue(cfg.RabbitURL, cfg.Queues.Notify)
		if err != nil {
			log.Fatal().Err(err).Msg("notifier: очередь уведомлений недоступна")
		}
		defer rabbit.Close()
		notifyQueue = rabbit
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		notifyQueue = queue.NewRedisNotifyQueue(client, cfg.Queues.Notify)
	default:
		log.Fatal().Msg("notifier: не настроен брокер (RABBITMQ_URL или REDIS_ADDR)")
	}

	if cfg.Telegram.Token == "" {
		log.Fatal().Msg("notifier: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	if cfg.Telegram.ChatID == 0 {
		log.Fatal().Msg("notifier: не указан чат для уведомлений (TG_CHAT_ID)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("notifier: не удалось создать бота")
	}

	worker := &jobWorker{
		log:       log.Logger,
		queue:     notifyQueue,
		statuses:  storage,
		analytics: storage,
		sender:    notifier.NewTelegram(botAPI, cfg.Telegram.ChatID),
	}

	log.Info().Msg("notifier: запуск обработки очереди")
	worker.Run(ctx)
	log.Info().Msg("notifier: остановлен")
}

func openStore(cfg config.AppConfig) (store, func(), error) {
	if cfg.PGDSN != "" {
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("подключение к postgres: %w", err)
		}
		return repo.NewPostgres(pool), pool.Close, nil
	}
	bolt, err := repo.NewBolt(cfg.BoltPath)
	if err != nil {
		return nil, nil, fmt.Errorf("открытие bbolt: %w", err)
	}
	return bolt, func() { _ = bolt.Close() }, nil
}

type jobWorker struct {
	log       zerolog.Logger
	queue     domain.NotifyQueue
	statuses  domain.NotifyJobStatusRepo
	analytics domain.BusinessMetricRepo
	sender    domain.Notifier
}

const (
	maxDeliveryAttempts = 5
	sendTimeout         = 30 * time.Second
)

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("notifier: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("item", job.ItemName).
			Str("cause", string(job.Cause)).
			Str("version", job.LatestVersion).
			Logger()

		if job.ID == "" {
			jobLog.Error().Msg("notifier: получена задача без идентификатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("notifier: не удалось подтвердить задачу без идентификатора")
			}
			continue
		}

		delivered, attempt, err := w.statuses.EnsureNotifyJob(job.ID)
		if err != nil {
			jobLog.Error().Err(err).Msg("notifier: не удалось зарегистрировать задачу")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("notifier: не удалось вернуть задачу в очередь")
			}
			time.Sleep(time.Second)
			continue
		}

		jobLog = jobLog.With().Int("attempt", attempt).Logger()

		if delivered {
			jobLog.Info().Msg("notifier: задача уже была доставлена, подтверждаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("notifier: не удалось подтвердить ранее доставленную задачу")
			}
			continue
		}

		outcome := w.handleJob(ctx, job, attempt, jobLog)

		if outcome == jobOutcomeRetry && attempt < maxDeliveryAttempts {
			jobLog.Warn().Msg("notifier: доставка не удалась, повторим позже")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("notifier: не удалось вернуть задачу после ошибки")
			}
			continue
		}

		if outcome == jobOutcomeRetry {
			jobLog.Error().Msg("notifier: достигнут предел попыток, задача закрывается без доставки")
		}

		if err := w.statuses.MarkNotifyJobDelivered(job.ID); err != nil {
			jobLog.Error().Err(err).Msg("notifier: не удалось пометить задачу доставленной")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("notifier: не удалось вернуть задачу после ошибки статуса")
			}
			time.Sleep(time.Second)
			continue
		}

		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("notifier: не удалось подтвердить задачу")
		}
	}
}

func (w *jobWorker) handleJob(ctx context.Context, job domain.NotifyJob, attempt int, jobLog zerolog.Logger) jobOutcome {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := w.sender.Notify(sendCtx, job); err != nil {
		metrics.NotifySendErrors.Inc()
		metrics.IncNotification("failed")
		jobLog.Error().Err(err).Msg("notifier: отправка уведомления")
		return jobOutcomeRetry
	}

	metrics.IncNotification("delivered")
	jobLog.Info().Msg("notifier: уведомление доставлено")
	w.observeDelivery(ctx, job, attempt)
	return jobOutcomeCompleted
}

func (w *jobWorker) observeDelivery(ctx context.Context, job domain.NotifyJob, attempt int) {
	if w.analytics == nil {
		return
	}
	metric := domain.BusinessMetric{
		Event: domain.BusinessMetricEventNotifyDelivered,
		Metadata: map[string]any{
			"job_id":         job.ID,
			"cause":          string(job.Cause),
			"attempt":        attempt,
			"level":          job.Level,
			"latest_version": job.LatestVersion,
			"requested_at":   job.RequestedAt,
			"delivered_at":   time.Now().UTC(),
		},
	}
	if job.ItemID != "" {
		itemID := job.ItemID
		metric.ItemID = &itemID
	}
	if err := w.analytics.RecordBusinessMetric(ctx, metric); err != nil {
		w.log.Error().Err(err).Str("event", domain.BusinessMetricEventNotifyDelivered).Msg("notifier: не удалось сохранить бизнес-метрику")
	}
}
