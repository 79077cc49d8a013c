// Package refresh владеет таймером фоновых проверок.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relwatch/internal/domain"
	"relwatch/internal/infra/metrics"
)

// defaultPoll — период опроса настроек в Run.
const defaultPoll = time.Minute

// Runner запускает массовую проверку включённых пакетов.
// Реализуется координатором проверок.
type Runner interface {
	CheckAll(ctx context.Context, cause domain.NotifyCause) ([]domain.CheckResult, []domain.CheckFailure, error)
}

// Scheduler — машина состояний остановлен⇄запущен вокруг единственного
// таймера. Смена политики перевзводит таймер: действующий тик дорабатывает
// по старому интервалу, новый интервал действует со следующего.
type Scheduler struct {
	settings domain.SettingsRepo
	runner   Runner
	log      zerolog.Logger

	// mu охраняет переходы между состояниями; цикл таймера его не берёт,
	// поэтому ждать done под замком безопасно.
	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler создаёт остановленный планировщик.
func NewScheduler(settings domain.SettingsRepo, runner Runner, log zerolog.Logger) *Scheduler {
	return &Scheduler{settings: settings, runner: runner, log: log}
}

// Start взводит таймер с заданным интервалом. Первый тик происходит через
// полный интервал, не сразу. Повторный Start с тем же интервалом ничего не
// делает; с другим — перевзводит таймер.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: интервал %s", domain.ErrSchedulerMisconfigured, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		if s.interval == interval {
			return nil
		}
		s.disarmLocked()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.interval = interval
	s.cancel = cancel
	s.done = done
	go s.loop(runCtx, interval, done)

	s.log.Info().Dur("interval", interval).Msg("scheduler: таймер взведён")
	return nil
}

// Stop снимает таймер и дожидается завершения цикла. Повторный Stop — no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.disarmLocked()
	s.log.Info().Msg("scheduler: таймер остановлен")
}

// Running сообщает, взведён ли таймер.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Interval возвращает текущий интервал; ноль, если таймер остановлен.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return 0
	}
	return s.interval
}

// Apply приводит планировщик к политике кэша: выключенное автообновление
// останавливает таймер, включённое — взводит его с интервалом политики.
func (s *Scheduler) Apply(ctx context.Context, policy domain.CachePolicy) error {
	if !policy.AutoRefreshEnabled {
		s.Stop()
		return nil
	}
	return s.Start(ctx, policy.Interval())
}

// Run опрашивает настройки и перестраивает таймер под текущую политику,
// так что сохранение настроек через API подхватывается без перезапуска.
// Блокируется до отмены контекста; на выходе останавливает таймер.
func (s *Scheduler) Run(ctx context.Context, poll time.Duration) {
	if poll <= 0 {
		poll = defaultPoll
	}
	s.applyCurrent(ctx)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			s.applyCurrent(ctx)
		}
	}
}

func (s *Scheduler) applyCurrent(ctx context.Context) {
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: чтение настроек не удалось")
		return
	}
	if err := s.Apply(ctx, settings.Cache); err != nil {
		s.log.Error().Err(err).Msg("scheduler: применение политики не удалось")
	}
}

// disarmLocked снимает таймер и ждёт выхода цикла. Вызывается под s.mu.
func (s *Scheduler) disarmLocked() {
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.interval = 0
}

// loop — единственная горутина таймера. Тики обрабатываются последовательно:
// пока идёт проверка, очередной тик ждёт в канале тикера, а накопившиеся
// сверх одного тикер отбрасывает сам.
func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	metrics.SchedulerTicksTotal.Inc()
	start := time.Now()

	results, failures, err := s.runner.CheckAll(ctx, domain.NotifyCauseScheduled)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: фоновая проверка не удалась")
		return
	}
	for _, failure := range failures {
		s.log.Warn().Err(failure.Err).Str("item", failure.Name).Msg("scheduler: пакет не проверен")
	}
	s.log.Info().
		Int("checked", len(results)).
		Int("failed", len(failures)).
		Dur("took", time.Since(start)).
		Msg("scheduler: фоновая проверка завершена")
}
