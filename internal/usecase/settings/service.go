// Package settings хранит и проверяет политики кэша и уведомлений.
package settings

import (
	"context"
	"errors"
	"fmt"

	"relwatch/internal/domain"
)

// ErrInvalidSettings возвращается при некорректных значениях настроек.
var ErrInvalidSettings = errors.New("некорректные настройки")

// Service читает и сохраняет настройки.
type Service struct {
	repo domain.SettingsRepo
}

// NewService создаёт сервис настроек.
func NewService(repo domain.SettingsRepo) *Service {
	return &Service{repo: repo}
}

// Get возвращает сохранённые настройки или значения по умолчанию.
func (s *Service) Get(ctx context.Context) (domain.Settings, error) {
	return s.repo.GetSettings(ctx)
}

// Save проверяет и сохраняет настройки. Планировщик подхватит новую
// политику на следующем опросе, отдельного сигнала ему не нужно.
func (s *Service) Save(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if err := validate(settings); err != nil {
		return domain.Settings{}, err
	}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, fmt.Errorf("сохранение настроек: %w", err)
	}
	return settings, nil
}

func validate(settings domain.Settings) error {
	if settings.Cache.TTLMinutes < 1 {
		return fmt.Errorf("%w: TTL кэша %d мин, должен быть не меньше 1", ErrInvalidSettings, settings.Cache.TTLMinutes)
	}
	if settings.Cache.AutoRefreshEnabled && settings.Cache.AutoRefreshIntervalMinutes < 1 {
		return fmt.Errorf("%w: интервал автообновления %d мин", domain.ErrSchedulerMisconfigured, settings.Cache.AutoRefreshIntervalMinutes)
	}

	notify := settings.Notification
	if (notify.SilentStartHour == nil) != (notify.SilentEndHour == nil) {
		return fmt.Errorf("%w: тихие часы задаются парой начало/конец", ErrInvalidSettings)
	}
	if err := validHour("начало тихих часов", notify.SilentStartHour); err != nil {
		return err
	}
	if err := validHour("конец тихих часов", notify.SilentEndHour); err != nil {
		return err
	}
	return nil
}

func validHour(label string, hour *int) error {
	if hour == nil {
		return nil
	}
	if *hour < 0 || *hour > 23 {
		return fmt.Errorf("%w: %s %d, допустимы часы 0–23", ErrInvalidSettings, label, *hour)
	}
	return nil
}
