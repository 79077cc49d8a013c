package domain

import (
	"strings"
	"time"
)

// SourceKind определяет тип реестра, из которого читается последняя версия.
type SourceKind string

const (
	// SourceGitHubRelease — последний релиз репозитория GitHub.
	SourceGitHubRelease SourceKind = "github-release"
	// SourceGitHubTags — первый тег репозитория GitHub (для проектов без релизов).
	SourceGitHubTags SourceKind = "github-tags"
	// SourceNPM — пакет в реестре npm.
	SourceNPM SourceKind = "npm"
	// SourcePyPI — пакет в реестре PyPI.
	SourcePyPI SourceKind = "pypi"
	// SourceCrates — крейт в реестре crates.io.
	SourceCrates SourceKind = "crates"
	// SourceHomebrew — формула Homebrew.
	SourceHomebrew SourceKind = "homebrew"
)

// KnownSourceKinds перечисляет поддерживаемые типы источников.
var KnownSourceKinds = []SourceKind{
	SourceGitHubRelease,
	SourceGitHubTags,
	SourceNPM,
	SourcePyPI,
	SourceCrates,
	SourceHomebrew,
}

// Valid сообщает, поддерживается ли тип источника.
func (k SourceKind) Valid() bool {
	for _, known := range KnownSourceKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Source описывает, откуда берётся последняя опубликованная версия пакета.
type Source struct {
	Kind       SourceKind `json:"kind"`
	Identifier string     `json:"identifier"`
}

// Key возвращает ключ уникальности источника: тип плюс идентификатор без
// учёта регистра. Два пакета с одинаковым ключом считаются дубликатами.
func (s Source) Key() string {
	return string(s.Kind) + ":" + strings.ToLower(strings.TrimSpace(s.Identifier))
}

// LocalProbe описывает, как определить локально установленную версию:
// команда и её аргумент вида `--version`.
type LocalProbe struct {
	Command    string `json:"command"`
	VersionArg string `json:"version_arg"`
}

// TrackedItem — отслеживаемый пакет со всем известным состоянием версий.
// Поля версий остаются nil до первой успешной проверки.
type TrackedItem struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	Source              Source      `json:"source"`
	Probe               *LocalProbe `json:"probe,omitempty"`
	LatestVersion       *string     `json:"latest_version,omitempty"`
	LocalVersion        *string     `json:"local_version,omitempty"`
	PublishedAt         *time.Time  `json:"published_at,omitempty"`
	LastCheckedAt       *time.Time  `json:"last_checked_at,omitempty"`
	LastNotifiedVersion *string     `json:"last_notified_version,omitempty"`
	LastNotifiedAt      *time.Time  `json:"last_notified_at,omitempty"`
	Enabled             bool        `json:"enabled"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// ItemForm — данные формы добавления или редактирования пакета.
type ItemForm struct {
	Name   string      `json:"name"`
	Source Source      `json:"source"`
	Probe  *LocalProbe `json:"probe,omitempty"`
}

// ReleaseInfo — последняя опубликованная версия, полученная из внешнего реестра.
type ReleaseInfo struct {
	Version     string
	PublishedAt *time.Time
}

// CacheEntry хранит результат последней успешной проверки пакета.
// Запись заменяется целиком: частичных обновлений не бывает.
type CacheEntry struct {
	LatestVersion string     `json:"latest_version"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	LocalVersion  *string    `json:"local_version,omitempty"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// Fresh сообщает, не устарела ли запись к моменту now при заданном TTL.
func (e CacheEntry) Fresh(ttl time.Duration, now time.Time) bool {
	if e.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(e.FetchedAt) < ttl
}

// CachePolicy управляет свежестью кэша и расписанием фоновых проверок.
type CachePolicy struct {
	TTLMinutes                 int  `json:"ttl_minutes"`
	AutoRefreshEnabled         bool `json:"auto_refresh_enabled"`
	AutoRefreshIntervalMinutes int  `json:"auto_refresh_interval_minutes"`
}

// TTL возвращает время жизни записи кэша.
func (p CachePolicy) TTL() time.Duration {
	return time.Duration(p.TTLMinutes) * time.Minute
}

// Interval возвращает период фоновых проверок.
func (p CachePolicy) Interval() time.Duration {
	return time.Duration(p.AutoRefreshIntervalMinutes) * time.Minute
}

// NotificationPolicy управляет тем, какие обновления превращаются в уведомления.
// SilentStartHour/SilentEndHour — часы 0–23; nil означает, что тихие часы выключены.
type NotificationPolicy struct {
	Enabled            bool `json:"enabled"`
	TestMode           bool `json:"test_mode"`
	NotifyOnMajor      bool `json:"notify_on_major"`
	NotifyOnMinor      bool `json:"notify_on_minor"`
	NotifyOnPatch      bool `json:"notify_on_patch"`
	NotifyOnPrerelease bool `json:"notify_on_prerelease"`
	SilentStartHour    *int `json:"silent_start_hour,omitempty"`
	SilentEndHour      *int `json:"silent_end_hour,omitempty"`
}

// Settings объединяет политики кэша и уведомлений.
type Settings struct {
	Cache        CachePolicy        `json:"cache"`
	Notification NotificationPolicy `json:"notification"`
}

// DefaultSettings возвращает настройки по умолчанию: TTL 30 минут,
// автообновление раз в час, уведомления о major/minor, тихие часы 22–8.
func DefaultSettings() Settings {
	silentStart := 22
	silentEnd := 8
	return Settings{
		Cache: CachePolicy{
			TTLMinutes:                 30,
			AutoRefreshEnabled:         true,
			AutoRefreshIntervalMinutes: 60,
		},
		Notification: NotificationPolicy{
			Enabled:            true,
			TestMode:           false,
			NotifyOnMajor:      true,
			NotifyOnMinor:      true,
			NotifyOnPatch:      false,
			NotifyOnPrerelease: false,
			SilentStartHour:    &silentStart,
			SilentEndHour:      &silentEnd,
		},
	}
}

// CheckResult — итог одной проверки пакета. UpdateLevel заполняется
// классификатором версий, когда обе версии известны.
type CheckResult struct {
	ItemID        string     `json:"item_id"`
	LatestVersion string     `json:"latest_version"`
	LocalVersion  *string    `json:"local_version,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	HasUpdate     bool       `json:"has_update"`
	UpdateLevel   string     `json:"update_level,omitempty"`
	FromCache     bool       `json:"from_cache"`
}

// CheckFailure описывает пакет, проверка которого завершилась ошибкой.
type CheckFailure struct {
	ItemID string
	Name   string
	Err    error
}
