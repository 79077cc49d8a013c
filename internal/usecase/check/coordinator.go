// Package check координирует проверки версий: кэш, поход в реестр,
// локальная проба и атомарная запись результата.
package check

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relwatch/internal/domain"
	"relwatch/internal/infra/metrics"
	"relwatch/internal/version"
)

const (
	defaultFetchTimeout  = 15 * time.Second
	defaultMaxConcurrent = 5
)

// UpdateHandler получает результат проверки, в которой найдено обновление.
// Ошибки обработчика не влияют на исход проверки.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, item domain.TrackedItem, res domain.CheckResult, cause domain.NotifyCause) error
}

// Coordinator выполняет проверки пакетов. Проверки одного пакета
// сериализуются, поэтому параллельные запросы не порождают лишних
// походов в реестр: второй запрос увидит свежий кэш.
type Coordinator struct {
	items    domain.ItemRepo
	settings domain.SettingsRepo
	cache    domain.VersionCache
	fetcher  domain.ReleaseFetcher
	probe    domain.VersionProbe
	log      zerolog.Logger

	updates   UpdateHandler
	analytics domain.BusinessMetricRepo

	fetchTimeout  time.Duration
	maxConcurrent int
	nowFunc       func() time.Time

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

// Option настраивает координатор.
type Option func(*Coordinator)

// WithUpdateHandler подключает обработчик найденных обновлений.
func WithUpdateHandler(h UpdateHandler) Option {
	return func(c *Coordinator) { c.updates = h }
}

// WithAnalytics подключает запись бизнесовых событий.
func WithAnalytics(repo domain.BusinessMetricRepo) Option {
	return func(c *Coordinator) { c.analytics = repo }
}

// WithFetchTimeout ограничивает время одного похода в реестр.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.fetchTimeout = timeout
		}
	}
}

// WithMaxConcurrent ограничивает параллелизм CheckAll.
func WithMaxConcurrent(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithNowFunc подменяет источник времени в тестах.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.nowFunc = now
		}
	}
}

// NewCoordinator создаёт координатор проверок.
func NewCoordinator(items domain.ItemRepo, settings domain.SettingsRepo, cache domain.VersionCache,
	fetcher domain.ReleaseFetcher, probe domain.VersionProbe, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		items:         items,
		settings:      settings,
		cache:         cache,
		fetcher:       fetcher,
		probe:         probe,
		log:           log,
		fetchTimeout:  defaultFetchTimeout,
		maxConcurrent: defaultMaxConcurrent,
		nowFunc:       time.Now,
		inFlight:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckItem проверяет один пакет по запросу пользователя.
// force пропускает кэш и всегда идёт в реестр.
func (c *Coordinator) CheckItem(ctx context.Context, id string, force bool) (domain.CheckResult, error) {
	settings, err := c.settings.GetSettings(ctx)
	if err != nil {
		return domain.CheckResult{}, fmt.Errorf("чтение настроек: %w", err)
	}
	return c.checkItem(ctx, id, settings.Cache, force, domain.NotifyCauseManual)
}

// CheckAll проверяет все включённые пакеты. Ошибка одного пакета не
// прерывает остальных: сбои возвращаются отдельным списком.
func (c *Coordinator) CheckAll(ctx context.Context, cause domain.NotifyCause) ([]domain.CheckResult, []domain.CheckFailure, error) {
	settings, err := c.settings.GetSettings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("чтение настроек: %w", err)
	}
	items, err := c.items.ListEnabledItems(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("список пакетов: %w", err)
	}

	var (
		mu       sync.Mutex
		results  []domain.CheckResult
		failures []domain.CheckFailure
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, c.maxConcurrent)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item domain.TrackedItem) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := c.checkItem(ctx, item.ID, settings.Cache, false, cause)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, domain.CheckFailure{ItemID: item.ID, Name: item.Name, Err: err})
				return
			}
			results = append(results, res)
		}(item)
	}
	wg.Wait()
	return results, failures, nil
}

// ResetCache сбрасывает кэш версий целиком.
func (c *Coordinator) ResetCache() error {
	return c.cache.Reset()
}

func (c *Coordinator) itemLock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.inFlight[id]
	if !ok {
		lock = &sync.Mutex{}
		c.inFlight[id] = lock
	}
	return lock
}

func (c *Coordinator) checkItem(ctx context.Context, id string, policy domain.CachePolicy, force bool, cause domain.NotifyCause) (domain.CheckResult, error) {
	lock := c.itemLock(id)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	item, err := c.items.GetItem(ctx, id)
	if err != nil {
		metrics.ObserveCheck("failed", start)
		return domain.CheckResult{}, fmt.Errorf("получение пакета: %w", err)
	}

	if !force {
		entry, ok, err := c.cache.Entry(id)
		if err != nil {
			// Сбой кэша равносилен промаху.
			c.log.Warn().Err(err).Str("item", item.Name).Msg("check: чтение кэша не удалось")
		} else if ok && entry.Fresh(policy.TTL(), c.nowFunc()) {
			res := resultFromEntry(id, entry)
			if err := c.items.ApplyCheckResult(ctx, res, c.nowFunc()); err != nil {
				metrics.ObserveCheck("failed", start)
				return domain.CheckResult{}, fmt.Errorf("сохранение результата: %w", err)
			}
			metrics.ObserveCheck("cache_hit", start)
			return res, nil
		}
	}

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	release, err := c.fetcher.FetchLatest(fctx, item.Source)
	cancel()
	if err != nil {
		// Состояние пакета остаётся нетронутым: неудавшаяся проверка
		// не затирает последние известные версии.
		metrics.ObserveCheck("fetch_failed", start)
		return domain.CheckResult{}, fmt.Errorf("проверка %s: %w", item.Name, err)
	}

	var localVersion *string
	if item.Probe != nil {
		detected, probeErr := c.probe.Detect(ctx, *item.Probe)
		if probeErr != nil {
			c.log.Warn().Err(probeErr).Str("item", item.Name).Msg("check: локальная проба не удалась")
		} else {
			localVersion = &detected
		}
	}

	res := domain.CheckResult{
		ItemID:        id,
		LatestVersion: release.Version,
		LocalVersion:  localVersion,
		PublishedAt:   release.PublishedAt,
	}
	if localVersion != nil {
		level := version.Classify(*localVersion, release.Version)
		res.UpdateLevel = level.String()
		res.HasUpdate = level != version.LevelEqual && level != version.LevelUnknown
	}

	now := c.nowFunc()
	entry := domain.CacheEntry{
		LatestVersion: release.Version,
		PublishedAt:   release.PublishedAt,
		LocalVersion:  localVersion,
		FetchedAt:     now,
	}
	if err := c.cache.Put(id, entry); err != nil {
		c.log.Warn().Err(err).Str("item", item.Name).Msg("check: запись кэша не удалась")
	}
	if err := c.items.ApplyCheckResult(ctx, res, now); err != nil {
		metrics.ObserveCheck("failed", start)
		return domain.CheckResult{}, fmt.Errorf("сохранение результата: %w", err)
	}
	metrics.ObserveCheck("fetched", start)

	if res.HasUpdate {
		metrics.IncUpdateFound(res.UpdateLevel)
		if c.analytics != nil {
			itemID := id
			_ = c.analytics.RecordBusinessMetric(ctx, domain.BusinessMetric{
				Event:  domain.BusinessMetricEventUpdateFound,
				ItemID: &itemID,
				Metadata: map[string]any{
					"level":          res.UpdateLevel,
					"latest_version": release.Version,
				},
			})
		}
		if c.updates != nil {
			if err := c.updates.HandleUpdate(ctx, item, res, cause); err != nil {
				c.log.Error().Err(err).Str("item", item.Name).Msg("check: обработка обновления не удалась")
			}
		}
	}
	return res, nil
}

// resultFromEntry восстанавливает результат проверки из записи кэша.
// Попадание в кэш — завершённая проверка: lastCheckedAt двигается так же,
// как при походе в реестр.
func resultFromEntry(id string, entry domain.CacheEntry) domain.CheckResult {
	res := domain.CheckResult{
		ItemID:        id,
		LatestVersion: entry.LatestVersion,
		LocalVersion:  entry.LocalVersion,
		PublishedAt:   entry.PublishedAt,
		FromCache:     true,
	}
	if entry.LocalVersion != nil {
		level := version.Classify(*entry.LocalVersion, entry.LatestVersion)
		res.UpdateLevel = level.String()
		res.HasUpdate = level != version.LevelEqual && level != version.LevelUnknown
	}
	return res
}
