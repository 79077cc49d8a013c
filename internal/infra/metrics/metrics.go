package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	ChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "version_checks_total",
		Help: "Количество проверок версий по исходу",
	}, []string{"outcome"})

	CheckDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "version_check_duration_seconds",
		Help:    "Время одной проверки версии",
		Buckets: prometheus.DefBuckets,
	})

	UpdatesFoundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "updates_found_total",
		Help: "Количество найденных обновлений по уровню",
	}, []string{"level"})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Количество уведомлений по статусу",
	}, []string{"status"})

	SchedulerTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_total",
		Help: "Количество срабатываний планировщика",
	})

	NotifySendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_send_errors_total",
		Help: "Ошибки отправки уведомлений",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		ChecksTotal,
		CheckDurationSeconds,
		UpdatesFoundTotal,
		NotificationsTotal,
		SchedulerTicksTotal,
		NotifySendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveCheck записывает исход и длительность проверки версии.
func ObserveCheck(outcome string, start time.Time) {
	if outcome == "" {
		outcome = "unknown"
	}
	ChecksTotal.WithLabelValues(outcome).Inc()
	CheckDurationSeconds.Observe(time.Since(start).Seconds())
}

// IncUpdateFound увеличивает счётчик найденных обновлений.
func IncUpdateFound(level string) {
	if level == "" {
		level = "unknown"
	}
	UpdatesFoundTotal.WithLabelValues(level).Inc()
}

// IncNotification увеличивает счётчик уведомлений по статусу.
func IncNotification(status string) {
	NotificationsTotal.WithLabelValues(status).Inc()
}
