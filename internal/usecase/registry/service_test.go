package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"relwatch/internal/domain"
	"relwatch/internal/infra/cache"
)

type memItems struct {
	mu    sync.Mutex
	items map[string]domain.TrackedItem
	order []string
}

func newMemItems() *memItems {
	return &memItems{items: make(map[string]domain.TrackedItem)}
}

func (m *memItems) CreateItem(_ context.Context, item domain.TrackedItem) (domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = item.CreatedAt
	m.items[item.ID] = item
	m.order = append(m.order, item.ID)
	return item, nil
}

func (m *memItems) UpdateItem(_ context.Context, item domain.TrackedItem) (domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return domain.TrackedItem{}, domain.ErrNotFound
	}
	item.UpdatedAt = time.Now().UTC()
	m.items[item.ID] = item
	return item, nil
}

func (m *memItems) DeleteItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.items, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memItems) GetItem(_ context.Context, id string) (domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.TrackedItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (m *memItems) ListItems(_ context.Context) ([]domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TrackedItem, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id])
	}
	return out, nil
}

func (m *memItems) ListEnabledItems(ctx context.Context) ([]domain.TrackedItem, error) {
	all, err := m.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, item := range all {
		if item.Enabled {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memItems) SetItemEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Enabled = enabled
	m.items[id] = item
	return nil
}

func (m *memItems) ApplyCheckResult(_ context.Context, res domain.CheckResult, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[res.ItemID]
	if !ok {
		return domain.ErrNotFound
	}
	item.LatestVersion = &res.LatestVersion
	item.LocalVersion = res.LocalVersion
	item.PublishedAt = res.PublishedAt
	item.LastCheckedAt = &checkedAt
	m.items[res.ItemID] = item
	return nil
}

func (m *memItems) MarkNotified(_ context.Context, id string, version string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.LastNotifiedVersion = &version
	item.LastNotifiedAt = &at
	m.items[id] = item
	return nil
}

type checkCall struct {
	id    string
	force bool
}

type stubChecker struct {
	mu    sync.Mutex
	calls []checkCall
	err   error
	apply func(id string)
}

func (c *stubChecker) CheckItem(_ context.Context, id string, force bool) (domain.CheckResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, checkCall{id: id, force: force})
	c.mu.Unlock()
	if c.err != nil {
		return domain.CheckResult{}, c.err
	}
	if c.apply != nil {
		c.apply(id)
	}
	return domain.CheckResult{ItemID: id, LatestVersion: "1.0.0"}, nil
}

func validForm() domain.ItemForm {
	return domain.ItemForm{
		Name:   "react",
		Source: domain.Source{Kind: domain.SourceNPM, Identifier: "react"},
	}
}

func newTestService(items *memItems, checker *stubChecker) (*Service, *cache.Memory) {
	versions := cache.NewMemory()
	return NewService(items, versions, checker, zerolog.Nop()), versions
}

func TestAddRunsInitialCheck(t *testing.T) {
	items := newMemItems()
	checker := &stubChecker{}
	checker.apply = func(id string) {
		_ = items.ApplyCheckResult(context.Background(), domain.CheckResult{
			ItemID:        id,
			LatestVersion: "18.3.1",
		}, time.Now().UTC())
	}
	svc, _ := newTestService(items, checker)

	item, err := svc.Add(context.Background(), validForm())
	if err != nil {
		t.Fatalf("добавление пакета: %v", err)
	}
	if len(checker.calls) != 1 {
		t.Fatalf("ожидалась одна проверка, выполнено %d", len(checker.calls))
	}
	if call := checker.calls[0]; call.id != item.ID || !call.force {
		t.Fatalf("неожиданный вызов проверки: %+v", call)
	}
	if !item.Enabled {
		t.Fatal("новый пакет должен быть включён")
	}
	if item.LatestVersion == nil || *item.LatestVersion != "18.3.1" {
		t.Fatalf("ожидалась версия из первичной проверки, получено %+v", item.LatestVersion)
	}
}

func TestAddRollsBackOnCheckFailure(t *testing.T) {
	items := newMemItems()
	checker := &stubChecker{err: domain.ErrFetchFailed}
	svc, _ := newTestService(items, checker)

	_, err := svc.Add(context.Background(), validForm())
	if !errors.Is(err, domain.ErrFetchFailed) {
		t.Fatalf("ожидалась ошибка получения версии, получено %v", err)
	}
	left, _ := items.ListItems(context.Background())
	if len(left) != 0 {
		t.Fatalf("пакет должен быть удалён после неудачной проверки, осталось %d", len(left))
	}
}

func TestAddRejectsDuplicateSource(t *testing.T) {
	items := newMemItems()
	checker := &stubChecker{}
	svc, _ := newTestService(items, checker)

	if _, err := svc.Add(context.Background(), validForm()); err != nil {
		t.Fatalf("первое добавление: %v", err)
	}
	form := validForm()
	form.Name = "react again"
	form.Source.Identifier = "ReAcT"
	_, err := svc.Add(context.Background(), form)
	if !errors.Is(err, domain.ErrDuplicateSource) {
		t.Fatalf("ожидался дубликат источника, получено %v", err)
	}
	if len(checker.calls) != 1 {
		t.Fatalf("дубликат не должен запускать проверку, вызовов %d", len(checker.calls))
	}
}

func TestAddValidation(t *testing.T) {
	cases := []struct {
		name string
		form domain.ItemForm
	}{
		{
			name: "пустое имя",
			form: domain.ItemForm{Source: domain.Source{Kind: domain.SourceNPM, Identifier: "react"}},
		},
		{
			name: "неизвестный тип источника",
			form: domain.ItemForm{Name: "x", Source: domain.Source{Kind: "svn", Identifier: "x"}},
		},
		{
			name: "пустой идентификатор",
			form: domain.ItemForm{Name: "x", Source: domain.Source{Kind: domain.SourceNPM, Identifier: "  "}},
		},
		{
			name: "github без owner/repo",
			form: domain.ItemForm{Name: "x", Source: domain.Source{Kind: domain.SourceGitHubRelease, Identifier: "golang"}},
		},
		{
			name: "проба без команды",
			form: domain.ItemForm{
				Name:   "x",
				Source: domain.Source{Kind: domain.SourceNPM, Identifier: "x"},
				Probe:  &domain.LocalProbe{Command: "   "},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items := newMemItems()
			checker := &stubChecker{}
			svc, _ := newTestService(items, checker)
			_, err := svc.Add(context.Background(), tc.form)
			if !errors.Is(err, ErrInvalidForm) {
				t.Fatalf("ожидалась ошибка валидации, получено %v", err)
			}
			if len(checker.calls) != 0 {
				t.Fatal("невалидная форма не должна запускать проверку")
			}
		})
	}
}

func TestUpdateSourceChangeResetsVersions(t *testing.T) {
	items := newMemItems()
	checker := &stubChecker{}
	svc, versions := newTestService(items, checker)

	item, err := svc.Add(context.Background(), validForm())
	if err != nil {
		t.Fatalf("добавление пакета: %v", err)
	}
	latest := "18.3.1"
	notified := "18.0.0"
	now := time.Now().UTC()
	_ = items.ApplyCheckResult(context.Background(), domain.CheckResult{ItemID: item.ID, LatestVersion: latest}, now)
	_ = items.MarkNotified(context.Background(), item.ID, notified, now)
	_ = versions.Put(item.ID, domain.CacheEntry{LatestVersion: latest, FetchedAt: now})
	checker.calls = nil

	form := validForm()
	form.Source = domain.Source{Kind: domain.SourceGitHubRelease, Identifier: "facebook/react"}
	updated, err := svc.Update(context.Background(), item.ID, form)
	if err != nil {
		t.Fatalf("правка пакета: %v", err)
	}
	if updated.Source.Kind != domain.SourceGitHubRelease {
		t.Fatalf("источник не обновился: %+v", updated.Source)
	}
	if updated.LatestVersion != nil || updated.LocalVersion != nil || updated.LastNotifiedVersion != nil {
		t.Fatalf("смена источника должна обнулять состояние версий: %+v", updated)
	}
	if _, ok, _ := versions.Entry(item.ID); ok {
		t.Fatal("запись кэша должна быть удалена при смене источника")
	}
	if len(checker.calls) != 1 || !checker.calls[0].force {
		t.Fatalf("после смены источника ожидалась принудительная проверка, вызовы %+v", checker.calls)
	}
}

func TestUpdateSameSourceKeepsVersions(t *testing.T) {
	items := newMemItems()
	checker := &stubChecker{}
	svc, versions := newTestService(items, checker)

	item, err := svc.Add(context.Background(), validForm())
	if err != nil {
		t.Fatalf("добавление пакета: %v", err)
	}
	now := time.Now().UTC()
	_ = items.ApplyCheckResult(context.Background(), domain.CheckResult{ItemID: item.ID, LatestVersion: "18.3.1"}, now)
	_ = versions.Put(item.ID, domain.CacheEntry{LatestVersion: "18.3.1", FetchedAt: now})
	checker.calls = nil

	form := validForm()
	form.Name = "React DOM"
	updated, err := svc.Update(context.Background(), item.ID, form)
	if err != nil {
		t.Fatalf("правка пакета: %v", err)
	}
	if updated.Name != "React DOM" {
		t.Fatalf("имя не обновилось: %q", updated.Name)
	}
	if updated.LatestVersion == nil || *updated.LatestVersion != "18.3.1" {
		t.Fatalf("переименование не должно трогать версии: %+v", updated.LatestVersion)
	}
	if _, ok, _ := versions.Entry(item.ID); !ok {
		t.Fatal("переименование не должно сбрасывать кэш")
	}
	if len(checker.calls) != 0 {
		t.Fatalf("переименование не должно запускать проверку, вызовы %+v", checker.calls)
	}
}

func TestUpdateProbeChangeInvalidatesCache(t *testing.T) {
	items := newMemItems()
	checker := &stubChecker{}
	svc, versions := newTestService(items, checker)

	item, err := svc.Add(context.Background(), validForm())
	if err != nil {
		t.Fatalf("добавление пакета: %v", err)
	}
	now := time.Now().UTC()
	_ = items.ApplyCheckResult(context.Background(), domain.CheckResult{ItemID: item.ID, LatestVersion: "18.3.1"}, now)
	_ = versions.Put(item.ID, domain.CacheEntry{LatestVersion: "18.3.1", FetchedAt: now})
	checker.calls = nil

	form := validForm()
	form.Probe = &domain.LocalProbe{Command: "react-cli", VersionArg: "--version"}
	updated, err := svc.Update(context.Background(), item.ID, form)
	if err != nil {
		t.Fatalf("правка пакета: %v", err)
	}
	if updated.LatestVersion == nil {
		t.Fatal("смена пробы не должна обнулять последнюю версию")
	}
	if _, ok, _ := versions.Entry(item.ID); ok {
		t.Fatal("смена пробы должна сбрасывать кэш: локальная версия в записи устарела")
	}
	if len(checker.calls) != 1 {
		t.Fatalf("после смены пробы ожидалась проверка, вызовы %+v", checker.calls)
	}
}

func TestUpdateDuplicateSource(t *testing.T) {
	items := newMemItems()
	checker := &stubChecker{}
	svc, _ := newTestService(items, checker)

	if _, err := svc.Add(context.Background(), validForm()); err != nil {
		t.Fatalf("первое добавление: %v", err)
	}
	second := domain.ItemForm{Name: "vue", Source: domain.Source{Kind: domain.SourceNPM, Identifier: "vue"}}
	added, err := svc.Add(context.Background(), second)
	if err != nil {
		t.Fatalf("второе добавление: %v", err)
	}

	second.Source.Identifier = "react"
	_, err = svc.Update(context.Background(), added.ID, second)
	if !errors.Is(err, domain.ErrDuplicateSource) {
		t.Fatalf("ожидался дубликат источника, получено %v", err)
	}
}

func TestUpdateNotFound(t *testing.T) {
	svc, _ := newTestService(newMemItems(), &stubChecker{})
	_, err := svc.Update(context.Background(), "missing", validForm())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидался ErrNotFound, получено %v", err)
	}
}

func TestRemoveInvalidatesCache(t *testing.T) {
	items := newMemItems()
	svc, versions := newTestService(items, &stubChecker{})

	item, err := svc.Add(context.Background(), validForm())
	if err != nil {
		t.Fatalf("добавление пакета: %v", err)
	}
	_ = versions.Put(item.ID, domain.CacheEntry{LatestVersion: "1.0.0", FetchedAt: time.Now()})

	if err := svc.Remove(context.Background(), item.ID); err != nil {
		t.Fatalf("удаление пакета: %v", err)
	}
	if _, ok, _ := versions.Entry(item.ID); ok {
		t.Fatal("запись кэша должна быть удалена вместе с пакетом")
	}
	if err := svc.Remove(context.Background(), item.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("повторное удаление: ожидался ErrNotFound, получено %v", err)
	}
}

func TestSetEnabled(t *testing.T) {
	items := newMemItems()
	svc, _ := newTestService(items, &stubChecker{})

	item, err := svc.Add(context.Background(), validForm())
	if err != nil {
		t.Fatalf("добавление пакета: %v", err)
	}
	if err := svc.SetEnabled(context.Background(), item.ID, false); err != nil {
		t.Fatalf("выключение пакета: %v", err)
	}
	got, err := svc.Get(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("чтение пакета: %v", err)
	}
	if got.Enabled {
		t.Fatal("пакет должен быть выключен")
	}
}
