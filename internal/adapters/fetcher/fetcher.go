// Package fetcher содержит реализации domain.ReleaseFetcher — по одной на
// каждый поддерживаемый тип реестра. Добавление нового реестра сводится к
// новой реализации и строчке в NewMux.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"relwatch/internal/domain"
	"relwatch/internal/infra/metrics"
)

const defaultUserAgent = "relwatch/1.0"

// Config настраивает доступ к внешним реестрам. Пустые базовые адреса
// заменяются боевыми; тесты подставляют свои.
type Config struct {
	Timeout     time.Duration
	GitHubToken string
	UserAgent   string

	GitHubAPI   string
	NPMRegistry string
	PyPIAPI     string
	CratesAPI   string
	HomebrewAPI string
}

// Mux направляет запрос к реализации, соответствующей типу источника.
type Mux struct {
	fetchers map[domain.SourceKind]domain.ReleaseFetcher
}

var _ domain.ReleaseFetcher = (*Mux)(nil)

// NewMux создаёт фетчеры всех поддерживаемых реестров поверх общего HTTP-клиента.
func NewMux(cfg Config) *Mux {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	client := &http.Client{Timeout: cfg.Timeout}

	github := NewGitHub(client, cfg.GitHubAPI, cfg.GitHubToken, cfg.UserAgent)
	return &Mux{fetchers: map[domain.SourceKind]domain.ReleaseFetcher{
		domain.SourceGitHubRelease: github,
		domain.SourceGitHubTags:    github,
		domain.SourceNPM:           NewNPM(client, cfg.NPMRegistry, cfg.UserAgent),
		domain.SourcePyPI:          NewPyPI(client, cfg.PyPIAPI, cfg.UserAgent),
		domain.SourceCrates:        NewCrates(client, cfg.CratesAPI, cfg.UserAgent),
		domain.SourceHomebrew:      NewHomebrew(client, cfg.HomebrewAPI, cfg.UserAgent),
	}}
}

// FetchLatest реализует domain.ReleaseFetcher.
func (m *Mux) FetchLatest(ctx context.Context, source domain.Source) (domain.ReleaseInfo, error) {
	f, ok := m.fetchers[source.Kind]
	if !ok {
		return domain.ReleaseInfo{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, source.Kind)
	}
	return f.FetchLatest(ctx, source)
}

// statusError сохраняет HTTP-статус неудачного ответа реестра.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("статус %d", e.status)
}

// getJSON выполняет GET к реестру и декодирует JSON-ответ.
// Любая ошибка транспорта или не-2xx статус помечаются domain.ErrFetchFailed.
func getJSON(ctx context.Context, client *http.Client, component, target, rawURL, token, userAgent string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: создание запроса: %w", component, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := client.Do(req)
	metrics.ObserveNetworkRequest(component, "fetch_latest", target, start, err)
	if err != nil {
		return fmt.Errorf("%s: запрос к реестру: %w: %w", component, domain.ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: %w: %w", component, domain.ErrFetchFailed, &statusError{status: resp.StatusCode})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: некорректный ответ реестра: %w: %w", component, domain.ErrFetchFailed, err)
	}
	return nil
}

// httpStatus возвращает статус из цепочки ошибок fetch-слоя, если он там есть.
func httpStatus(err error) (int, bool) {
	var se *statusError
	if errors.As(err, &se) {
		return se.status, true
	}
	return 0, false
}

// trimBase нормализует базовый адрес реестра.
func trimBase(base, fallback string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/")
}
