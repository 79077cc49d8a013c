package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"relwatch/internal/adapters/bot"
	"relwatch/internal/adapters/fetcher"
	"relwatch/internal/adapters/localprobe"
	"relwatch/internal/adapters/repo"
	"relwatch/internal/domain"
	"relwatch/internal/infra/cache"
	"relwatch/internal/infra/config"
	"relwatch/internal/infra/db"
	httpinfra "relwatch/internal/infra/http"
	loginfra "relwatch/internal/infra/log"
	"relwatch/internal/infra/metrics"
	"relwatch/internal/infra/queue"
	"relwatch/internal/usecase/check"
	"relwatch/internal/usecase/notify"
	"relwatch/internal/usecase/registry"
	settingsusecase "relwatch/internal/usecase/settings"
)

// store объединяет хранилища, которые нужны процессу бота.
type store interface {
	domain.ItemRepo
	domain.SettingsRepo
	domain.BusinessMetricRepo
}

func main() {
	cfg := config.Load()
	log.Logger = loginfra.NewLogger(cfg.AppEnv, "bot")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	storage, closeStorage, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bot: хранилище недоступно")
	}
	defer closeStorage()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	var versions domain.VersionCache = cache.NewMemory()
	if redisClient != nil {
		versions = cache.NewRedis(redisClient)
	}

	var notifyQueue domain.NotifyQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitNotifyQueue(cfg.RabbitURL, cfg.Queues.Notify)
		if err != nil {
			log.Fatal().Err(err).Msg("bot: очередь уведомлений недоступна")
		}
		defer rabbit.Close()
		notifyQueue = rabbit
	case redisClient != nil:
		notifyQueue = queue.NewRedisNotifyQueue(redisClient, cfg.Queues.Notify)
	default:
		log.Warn().Msg("bot: брокер не настроен, проверки из чата не ставят уведомления в очередь")
	}

	if cfg.Telegram.Token == "" {
		log.Fatal().Msg("bot: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	if cfg.Telegram.ChatID == 0 {
		log.Fatal().Msg("bot: не указан чат оператора (TG_CHAT_ID)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("bot: не удалось создать бота")
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
	items := registry.NewService(storage, versions, coordinator,
		log.With().Str("component", "registry").Logger())
	settingsSvc := settingsusecase.NewService(storage)

	handler := bot.NewHandler(botAPI, log.With().Str("component", "bot").Logger(),
		cfg.Telegram.ChatID, items, coordinator, settingsSvc)

	srv := httpinfra.NewServer(log.With().Str("component", "http").Logger())
	srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := srv.Start(cfg.Bot.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("bot: HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("bot: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("bot: ошибка остановки HTTP сервера")
	}
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
