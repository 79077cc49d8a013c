package notify

import (
	"testing"
	"time"

	"relwatch/internal/domain"
	"relwatch/internal/version"
)

func policyAllOn() domain.NotificationPolicy {
	return domain.NotificationPolicy{
		Enabled:            true,
		NotifyOnMajor:      true,
		NotifyOnMinor:      true,
		NotifyOnPatch:      true,
		NotifyOnPrerelease: true,
	}
}

func withSilent(p domain.NotificationPolicy, start, end int) domain.NotificationPolicy {
	p.SilentStartHour = &start
	p.SilentEndHour = &end
	return p
}

func atHour(hour int) time.Time {
	return time.Date(2025, 6, 1, hour, 30, 0, 0, time.UTC)
}

func TestDecideDisabledWinsOverTestMode(t *testing.T) {
	p := policyAllOn()
	p.Enabled = false
	p.TestMode = true

	d := Decide(p, version.LevelMajor, domain.NotifyCauseScheduled, atHour(12))
	if d.Allowed {
		t.Fatal("выключенные уведомления не обходит даже тестовый режим")
	}
	if d.Reason != "disabled" {
		t.Fatalf("неожиданная причина: %s", d.Reason)
	}

	d = Decide(p, version.LevelMajor, domain.NotifyCauseTest, atHour(12))
	if d.Allowed {
		t.Fatal("выключенные уведомления не обходит и тестовая задача")
	}
}

func TestDecideTestModeBypassesLevelAndSilentHours(t *testing.T) {
	p := withSilent(policyAllOn(), 0, 24)
	p.NotifyOnPatch = false
	p.TestMode = true

	d := Decide(p, version.LevelPatch, domain.NotifyCauseScheduled, atHour(3))
	if !d.Allowed {
		t.Fatalf("тестовый режим должен обходить фильтры: %+v", d)
	}
}

func TestDecideLevelToggles(t *testing.T) {
	p := policyAllOn()
	p.NotifyOnPatch = false
	p.NotifyOnPrerelease = false

	cases := []struct {
		level version.Level
		want  bool
	}{
		{version.LevelMajor, true},
		{version.LevelMinor, true},
		{version.LevelPatch, false},
		{version.LevelPrerelease, false},
		{version.LevelUnknown, false},
		{version.LevelEqual, false},
	}
	for _, tc := range cases {
		d := Decide(p, tc.level, domain.NotifyCauseScheduled, atHour(12))
		if d.Allowed != tc.want {
			t.Fatalf("уровень %s: ожидалось %v, получено %+v", tc.level, tc.want, d)
		}
	}
}

func TestDecideMinorToggleOff(t *testing.T) {
	p := policyAllOn()
	p.NotifyOnMinor = false

	d := Decide(p, version.LevelMinor, domain.NotifyCauseScheduled, atHour(12))
	if d.Allowed {
		t.Fatalf("минорные обновления отключены политикой: %+v", d)
	}
	if d.Reason != "level_off" {
		t.Fatalf("неожиданная причина: %s", d.Reason)
	}
}

func TestDecideSilentHoursWrapMidnight(t *testing.T) {
	p := withSilent(policyAllOn(), 22, 8)

	cases := []struct {
		hour int
		want bool
	}{
		{21, true},  // до начала тишины
		{22, false}, // начало включительно
		{23, false},
		{0, false},
		{7, false},
		{8, true}, // конец исключительно
		{12, true},
	}
	for _, tc := range cases {
		d := Decide(p, version.LevelMajor, domain.NotifyCauseScheduled, atHour(tc.hour))
		if d.Allowed != tc.want {
			t.Fatalf("час %d: ожидалось %v, получено %+v", tc.hour, tc.want, d)
		}
	}
}

func TestDecideSilentHoursSameDay(t *testing.T) {
	p := withSilent(policyAllOn(), 9, 18)

	if d := Decide(p, version.LevelMajor, domain.NotifyCauseScheduled, atHour(12)); d.Allowed {
		t.Fatalf("час 12 внутри интервала 9–18: %+v", d)
	}
	if d := Decide(p, version.LevelMajor, domain.NotifyCauseScheduled, atHour(18)); !d.Allowed {
		t.Fatalf("конец интервала исключается: %+v", d)
	}
	if d := Decide(p, version.LevelMajor, domain.NotifyCauseScheduled, atHour(8)); !d.Allowed {
		t.Fatalf("час 8 вне интервала 9–18: %+v", d)
	}
}

func TestDecideSilentHoursEmptyInterval(t *testing.T) {
	p := withSilent(policyAllOn(), 10, 10)

	d := Decide(p, version.LevelMajor, domain.NotifyCauseScheduled, atHour(10))
	if !d.Allowed {
		t.Fatalf("совпадающие границы — пустой интервал тишины: %+v", d)
	}
}

func TestDecideSilentHoursUnset(t *testing.T) {
	d := Decide(policyAllOn(), version.LevelMajor, domain.NotifyCauseScheduled, atHour(3))
	if !d.Allowed {
		t.Fatalf("без тихих часов уведомления идут всегда: %+v", d)
	}
}
