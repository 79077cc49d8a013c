package bot

import (
	"strings"
	"testing"
	"time"

	"relwatch/internal/domain"
)

func TestParseItemID(t *testing.T) {
	if got := parseItemID("check:abc-123"); got != "abc-123" {
		t.Fatalf("ожидали abc-123, получили %q", got)
	}
	if got := parseItemID("enable:id:with:colons"); got != "id:with:colons" {
		t.Fatalf("идентификатор после первого двоеточия должен сохраняться, получили %q", got)
	}
	if got := parseItemID("check_all"); got != "" {
		t.Fatalf("данные без двоеточия должны давать пустой идентификатор, получили %q", got)
	}
}

func TestFormatItemLine(t *testing.T) {
	latest := "18.3.1"
	local := "18.2.0"
	item := domain.TrackedItem{
		Name:          "react",
		Source:        domain.Source{Kind: domain.SourceNPM, Identifier: "react"},
		LatestVersion: &latest,
		LocalVersion:  &local,
		Enabled:       true,
	}
	line := formatItemLine(1, item)
	for _, want := range []string{"react", "npm:react", "18.3.1", "18.2.0"} {
		if !strings.Contains(line, want) {
			t.Fatalf("в строке %q нет %q", line, want)
		}
	}

	fresh := domain.TrackedItem{
		Name:   "ripgrep",
		Source: domain.Source{Kind: domain.SourceGitHubRelease, Identifier: "BurntSushi/ripgrep"},
	}
	line = formatItemLine(2, fresh)
	if !strings.Contains(line, "ещё не проверялся") {
		t.Fatalf("непроверенный пакет должен помечаться, получили %q", line)
	}
	if !strings.Contains(line, "⏸") {
		t.Fatalf("выключенный пакет должен помечаться паузой, получили %q", line)
	}
}

func TestRenderCheckResult(t *testing.T) {
	local := "1.0.0"
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	withUpdate := renderCheckResult("ripgrep", domain.CheckResult{
		LatestVersion: "2.0.0",
		LocalVersion:  &local,
		PublishedAt:   &published,
		HasUpdate:     true,
		UpdateLevel:   "major",
	})
	for _, want := range []string{"ripgrep", "мажорное обновление", "2.0.0", "1.0.0", "2024-05-01"} {
		if !strings.Contains(withUpdate, want) {
			t.Fatalf("в ответе %q нет %q", withUpdate, want)
		}
	}

	noUpdate := renderCheckResult("react", domain.CheckResult{
		LatestVersion: "18.3.1",
		HasUpdate:     false,
		FromCache:     true,
	})
	if !strings.Contains(noUpdate, "обновлений нет") {
		t.Fatalf("ожидали сообщение об отсутствии обновлений, получили %q", noUpdate)
	}
	if !strings.Contains(noUpdate, "кэша") {
		t.Fatalf("ответ из кэша должен помечаться, получили %q", noUpdate)
	}
}

func TestRenderSettings(t *testing.T) {
	text := renderSettings(domain.DefaultSettings())
	for _, want := range []string{"30 мин", "раз в 60 мин", "major", "minor", "22:00–08:00"} {
		if !strings.Contains(text, want) {
			t.Fatalf("в настройках %q нет %q", text, want)
		}
	}

	off := domain.DefaultSettings()
	off.Cache.AutoRefreshEnabled = false
	off.Notification.Enabled = false
	text = renderSettings(off)
	if !strings.Contains(text, "выключены") {
		t.Fatalf("выключенные проверки должны помечаться, получили %q", text)
	}
	if !strings.Contains(text, "/auto_on") {
		t.Fatalf("подсказка на включение должна присутствовать, получили %q", text)
	}
}

func TestLevelLabelFallback(t *testing.T) {
	if got := levelLabel("unknown"); got != "обновление" {
		t.Fatalf("неизвестный уровень должен давать общий ярлык, получили %q", got)
	}
}
