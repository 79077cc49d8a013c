package domain

import "errors"

// Ошибки уровня домена. Сервисы оборачивают их через fmt.Errorf("…: %w", err),
// транспортный слой сопоставляет через errors.Is.
var (
	// ErrDuplicateSource — пакет с таким источником уже отслеживается.
	ErrDuplicateSource = errors.New("источник уже отслеживается")
	// ErrNotFound — пакет с указанным идентификатором не найден.
	ErrNotFound = errors.New("пакет не найден")
	// ErrFetchFailed — реестр недоступен, вернул ошибку или некорректный ответ.
	// Состояние пакета и кэш при этом не изменяются.
	ErrFetchFailed = errors.New("не удалось получить версию из реестра")
	// ErrProbeUnavailable — локальную версию определить не удалось; не фатально.
	ErrProbeUnavailable = errors.New("не удалось определить локальную версию")
	// ErrSchedulerMisconfigured — некорректный интервал автообновления.
	ErrSchedulerMisconfigured = errors.New("некорректный интервал автообновления")
	// ErrUnsupportedSource — тип источника не поддерживается.
	ErrUnsupportedSource = errors.New("неподдерживаемый тип источника")
)
