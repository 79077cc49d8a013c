package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
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
	httpinfra "relwatch/internal/infra/http"
	loginfra "relwatch/internal/infra/log"
	"relwatch/internal/infra/metrics"
	"relwatch/internal/infra/queue"
	"relwatch/internal/usecase/check"
	"relwatch/internal/usecase/notify"
	"relwatch/internal/usecase/registry"
	settingsusecase "relwatch/internal/usecase/settings"
)

// store объединяет хранилища, которые нужны API-процессу.
// Его реализуют и Postgres, и Bolt.
type store interface {
	domain.ItemRepo
	domain.SettingsRepo
	domain.BusinessMetricRepo
}

var errNotifyNotConfigured = errors.New("очередь уведомлений не настроена")

func main() {
	cfg := config.Load()
	log.Logger = loginfra.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("api: хранилище недоступно")
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
			log.Fatal().Err(err).Msg("api: очередь уведомлений недоступна")
		}
		defer rabbit.Close()
		notifyQueue = rabbit
	case redisClient != nil:
		notifyQueue = queue.NewRedisNotifyQueue(redisClient, cfg.Queues.Notify)
	default:
		log.Warn().Msg("api: брокер не настроен, уведомления отключены")
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
	var manager *notify.Manager
	if notifyQueue != nil {
		manager = notify.NewManager(notifyQueue, storage, storage,
			log.With().Str("component", "notify").Logger(), notify.WithAnalytics(storage))
		opts = append(opts, check.WithUpdateHandler(manager))
	}
	coordinator := check.NewCoordinator(storage, storage, versions, mux, probe,
		log.With().Str("component", "check").Logger(), opts...)
	items := registry.NewService(storage, versions, coordinator,
		log.With().Str("component", "registry").Logger())
	settingsSvc := settingsusecase.NewService(storage)

	srv := httpinfra.NewServer(log.With().Str("component", "http").Logger())

	srv.Router.Group(func(api chi.Router) {
		api.Use(httpinfra.BearerAuth(cfg.API.AuthToken))

		api.Get("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
			list, err := items.List(r.Context())
			if err != nil {
				respondError(w, err)
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, list)
		})

		api.Post("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var form domain.ItemForm
			if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
				respondError(w, fmt.Errorf("%w: %s", registry.ErrInvalidForm, err))
				return
			}
			item, err := items.Add(r.Context(), form)
			if err != nil {
				respondError(w, err)
				return
			}
			httpinfra.WriteJSON(w, http.StatusCreated, item)
		})

		api.Get("/api/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			item, err := items.Get(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				respondError(w, err)
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, item)
		})

		api.Put("/api/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var form domain.ItemForm
			if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
				respondError(w, fmt.Errorf("%w: %s", registry.ErrInvalidForm, err))
				return
			}
			item, err := items.Update(r.Context(), chi.URLParam(r, "id"), form)
			if err != nil {
				respondError(w, err)
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, item)
		})

		api.Delete("/api/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := items.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
				respondError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		api.Patch("/api/v1/items/{id}/enabled", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var req struct {
				Enabled *bool `json:"enabled"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
				respondError(w, fmt.Errorf("%w: требуется поле enabled", registry.ErrInvalidForm))
				return
			}
			if err := items.SetEnabled(r.Context(), chi.URLParam(r, "id"), *req.Enabled); err != nil {
				respondError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		api.Post("/api/v1/items/{id}/check", func(w http.ResponseWriter, r *http.Request) {
			force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
			res, err := coordinator.CheckItem(r.Context(), chi.URLParam(r, "id"), force)
			if err != nil {
				respondError(w, err)
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, res)
		})

		api.Post("/api/v1/checks", func(w http.ResponseWriter, r *http.Request) {
			results, failures, err := coordinator.CheckAll(r.Context(), domain.NotifyCauseManual)
			if err != nil {
				respondError(w, err)
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, checkAllResponse{
				Results:  results,
				Failures: failuresJSON(failures),
			})
		})

		api.Get("/api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
			settings, err := settingsSvc.Get(r.Context())
			if err != nil {
				respondError(w, err)
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, settings)
		})

		api.Put("/api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var settings domain.Settings
			if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
				respondError(w, fmt.Errorf("%w: %s", settingsusecase.ErrInvalidSettings, err))
				return
			}
			saved, err := settingsSvc.Save(r.Context(), settings)
			if err != nil {
				respondError(w, err)
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, saved)
		})

		api.Delete("/api/v1/cache", func(w http.ResponseWriter, r *http.Request) {
			if err := coordinator.ResetCache(); err != nil {
				respondError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		api.Post("/api/v1/notifications/test", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			if manager == nil {
				httpinfra.WriteError(w, http.StatusServiceUnavailable, errNotifyNotConfigured)
				return
			}
			var req struct {
				ItemID string `json:"item_id"`
			}
			// Тело опционально: без него уходит синтетическое уведомление.
			_ = json.NewDecoder(r.Body).Decode(&req)
			job, err := manager.SendTest(r.Context(), req.ItemID)
			if err != nil {
				respondError(w, err)
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, job)
		})
	})

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	go func() {
		if err := srv.Start(cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
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

type checkAllResponse struct {
	Results  []domain.CheckResult `json:"results"`
	Failures []checkFailureJSON   `json:"failures"`
}

type checkFailureJSON struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Error  string `json:"error"`
}

func failuresJSON(failures []domain.CheckFailure) []checkFailureJSON {
	out := make([]checkFailureJSON, 0, len(failures))
	for _, f := range failures {
		out = append(out, checkFailureJSON{ItemID: f.ItemID, Name: f.Name, Error: f.Err.Error()})
	}
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateSource):
		return http.StatusConflict
	case errors.Is(err, registry.ErrInvalidForm),
		errors.Is(err, settingsusecase.ErrInvalidSettings),
		errors.Is(err, domain.ErrSchedulerMisconfigured),
		errors.Is(err, domain.ErrUnsupportedSource):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("api: внутренняя ошибка")
	}
	httpinfra.WriteError(w, status, err)
}
