package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"relwatch/internal/adapters/fetcher"
	"relwatch/internal/adapters/localprobe"
	"relwatch/internal/adapters/repo"
	"relwatch/internal/domain"
	"relwatch/internal/infra/cache"
	"relwatch/internal/infra/config"
	"relwatch/internal/infra/db"
	loginfra "relwatch/internal/infra/log"
	"relwatch/internal/infra/metrics"
	"relwatch/internal/infra/queue"
	"relwatch/internal/usecase/check"
	"relwatch/internal/usecase/notify"
	"relwatch/internal/usecase/refresh"
)

// store объединяет хранилища, которые нужны фоновому процессу.
type store interface {
	domain.ItemRepo
	domain.SettingsRepo
	domain.BusinessMetricRepo
}

func main() {
	cfg := config.Load()
	log.Logger = loginfra.NewLogger(cfg.AppEnv, "watcher")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("watcher: хранилище недоступно")
	}
	defer closeStorage()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	// Без Redis кэш процесса живёт в памяти: API и watcher тогда не видят
	// проверок друг друга, и каждый ходит в реестр сам.
	var versions domain.VersionCache = cache.NewMemory()
	if redisClient != nil {
		versions = cache.NewRedis(redisClient)
	}

	var notifyQueue domain.NotifyQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitNotifyQueue(cfg.RabbitURL, cfg.Queues.Notify)
		if err != nil {
			log.Fatal().Err(err).Msg("watcher: очередь уведомлений недоступна")
		}
		defer rabbit.Close()
		notifyQueue = rabbit
	case redisClient != nil:
		notifyQueue = queue.NewRedisNotifyQueue(redisClient, cfg.Queues.Notify)
	default:
		log.Warn().Msg("watcher: брокер не настроен, уведомления отключены")
	}

	mux := fetcher.NewMux(fetcher.Config{
		Timeout:     cfg.Fetch.Timeout,
		GitHubToken: cfg.Fetch.GitHubToken,
	})
	probe := localprobe.NewRunner(0)

	opts := []check.Option{
		check.WithAnalytics(storage),
		check.WithFetchTimeout(cfg.Fetch.Timeout),
		check.WithMaxConcurrent(cfg.Watcher.MaxConcurrent),
	}
	if notifyQueue != nil {
		manager := notify.NewManager(notifyQueue, storage, storage,
			log.With().Str("component", "notify").Logger(), notify.WithAnalytics(storage))
		opts = append(opts, check.WithUpdateHandler(manager))
	}
	coordinator := check.NewCoordinator(storage, storage, versions, mux, probe,
		log.With().Str("component", "check").Logger(), opts...)

	scheduler := refresh.NewScheduler(storage, coordinator,
		log.With().Str("component", "scheduler").Logger())

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	log.Info().Msg("watcher: старт")
	scheduler.Run(ctx, 0)
	log.Info().Msg("watcher: остановка")
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
