// Package registry управляет списком отслеживаемых пакетов.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"relwatch/internal/domain"
)

// ErrInvalidForm возвращается при некорректных данных формы пакета.
var ErrInvalidForm = errors.New("некорректные данные пакета")

// Checker выполняет проверку пакета. Реализуется координатором проверок.
type Checker interface {
	CheckItem(ctx context.Context, id string, force bool) (domain.CheckResult, error)
}

// Service реализует операции над списком пакетов.
type Service struct {
	items   domain.ItemRepo
	cache   domain.VersionCache
	checker Checker
	log     zerolog.Logger
}

// NewService создаёт сервис списка пакетов.
func NewService(items domain.ItemRepo, cache domain.VersionCache, checker Checker, log zerolog.Logger) *Service {
	return &Service{items: items, cache: cache, checker: checker, log: log}
}

// Add добавляет пакет и синхронно выполняет первичную проверку.
// Если проверка не удалась, пакет не добавляется: форма почти наверняка
// содержит опечатку в идентификаторе, и молчаливо хранить мёртвый
// источник хуже, чем вернуть ошибку сразу.
func (s *Service) Add(ctx context.Context, form domain.ItemForm) (domain.TrackedItem, error) {
	form, err := validateForm(form)
	if err != nil {
		return domain.TrackedItem{}, err
	}
	if err := s.ensureSourceFree(ctx, form.Source, ""); err != nil {
		return domain.TrackedItem{}, err
	}

	item := domain.TrackedItem{
		ID:      uuid.NewString(),
		Name:    form.Name,
		Source:  form.Source,
		Probe:   form.Probe,
		Enabled: true,
	}
	created, err := s.items.CreateItem(ctx, item)
	if err != nil {
		return domain.TrackedItem{}, fmt.Errorf("сохранение пакета: %w", err)
	}

	if _, err := s.checker.CheckItem(ctx, created.ID, true); err != nil {
		if delErr := s.items.DeleteItem(ctx, created.ID); delErr != nil {
			s.log.Error().Err(delErr).Str("item_id", created.ID).Msg("registry: откат добавления не удался")
		}
		if cacheErr := s.cache.Invalidate(created.ID); cacheErr != nil {
			s.log.Warn().Err(cacheErr).Str("item_id", created.ID).Msg("registry: сброс кэша не удался")
		}
		return domain.TrackedItem{}, fmt.Errorf("первичная проверка: %w", err)
	}
	return s.items.GetItem(ctx, created.ID)
}

// Update изменяет имя, источник или пробу пакета. Смена источника
// обнуляет состояние версий, сбрасывает кэш и запускает новую проверку;
// её сбой не откатывает правку — пакет останется без версий до
// следующей успешной проверки.
func (s *Service) Update(ctx context.Context, id string, form domain.ItemForm) (domain.TrackedItem, error) {
	form, err := validateForm(form)
	if err != nil {
		return domain.TrackedItem{}, err
	}
	existing, err := s.items.GetItem(ctx, id)
	if err != nil {
		return domain.TrackedItem{}, err
	}
	if err := s.ensureSourceFree(ctx, form.Source, id); err != nil {
		return domain.TrackedItem{}, err
	}

	sourceChanged := existing.Source.Key() != form.Source.Key()
	probeChanged := !probeEqual(existing.Probe, form.Probe)

	item := existing
	item.Name = form.Name
	item.Source = form.Source
	item.Probe = form.Probe
	if sourceChanged {
		item.LatestVersion = nil
		item.LocalVersion = nil
		item.PublishedAt = nil
		item.LastCheckedAt = nil
		item.LastNotifiedVersion = nil
		item.LastNotifiedAt = nil
	}

	updated, err := s.items.UpdateItem(ctx, item)
	if err != nil {
		return domain.TrackedItem{}, fmt.Errorf("сохранение пакета: %w", err)
	}

	if sourceChanged || probeChanged {
		if err := s.cache.Invalidate(id); err != nil {
			s.log.Warn().Err(err).Str("item_id", id).Msg("registry: сброс кэша не удался")
		}
		if _, err := s.checker.CheckItem(ctx, id, true); err != nil {
			s.log.Warn().Err(err).Str("item_id", id).Msg("registry: проверка после правки не удалась")
		}
		return s.items.GetItem(ctx, id)
	}
	return updated, nil
}

// Remove удаляет пакет и его запись в кэше.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.items.DeleteItem(ctx, id); err != nil {
		return err
	}
	if err := s.cache.Invalidate(id); err != nil {
		s.log.Warn().Err(err).Str("item_id", id).Msg("registry: сброс кэша не удался")
	}
	return nil
}

// SetEnabled включает или выключает пакет.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.items.SetItemEnabled(ctx, id, enabled)
}

// List возвращает все пакеты в порядке добавления.
func (s *Service) List(ctx context.Context) ([]domain.TrackedItem, error) {
	return s.items.ListItems(ctx)
}

// Get возвращает пакет по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (domain.TrackedItem, error) {
	return s.items.GetItem(ctx, id)
}

// ensureSourceFree проверяет, что источник не занят другим пакетом.
func (s *Service) ensureSourceFree(ctx context.Context, source domain.Source, exceptID string) error {
	items, err := s.items.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("список пакетов: %w", err)
	}
	key := source.Key()
	for _, item := range items {
		if item.ID != exceptID && item.Source.Key() == key {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSource, key)
		}
	}
	return nil
}

func validateForm(form domain.ItemForm) (domain.ItemForm, error) {
	form.Name = strings.TrimSpace(form.Name)
	form.Source.Identifier = strings.TrimSpace(form.Source.Identifier)

	if form.Name == "" {
		return form, fmt.Errorf("%w: пустое имя", ErrInvalidForm)
	}
	if !form.Source.Kind.Valid() {
		return form, fmt.Errorf("%w: неизвестный тип источника %q", ErrInvalidForm, form.Source.Kind)
	}
	if form.Source.Identifier == "" {
		return form, fmt.Errorf("%w: пустой идентификатор источника", ErrInvalidForm)
	}
	switch form.Source.Kind {
	case domain.SourceGitHubRelease, domain.SourceGitHubTags:
		if !strings.Contains(form.Source.Identifier, "/") {
			return form, fmt.Errorf("%w: идентификатор GitHub должен иметь вид owner/repo", ErrInvalidForm)
		}
	}
	if form.Probe != nil {
		probe := *form.Probe
		probe.Command = strings.TrimSpace(probe.Command)
		probe.VersionArg = strings.TrimSpace(probe.VersionArg)
		if probe.Command == "" {
			return form, fmt.Errorf("%w: пустая команда пробы", ErrInvalidForm)
		}
		form.Probe = &probe
	}
	return form, nil
}

func probeEqual(a, b *domain.LocalProbe) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Command == b.Command && a.VersionArg == b.VersionArg
}
