package notifier

import (
	"strings"
	"testing"
	"time"

	"relwatch/internal/domain"
)

func TestRenderMessage(t *testing.T) {
	published := time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)
	job := domain.NotifyJob{
		ItemName:      "react",
		Level:         "minor",
		LocalVersion:  "18.0.0",
		LatestVersion: "18.2.0",
		PublishedAt:   &published,
		Cause:         domain.NotifyCauseScheduled,
	}

	text := renderMessage(job)
	for _, want := range []string{"react", "минорное обновление", "<b>18.2.0</b>", "Установлена: 18.0.0", "2025-02-10 09:30 UTC"} {
		if !strings.Contains(text, want) {
			t.Fatalf("в сообщении нет %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "Тестовое") {
		t.Fatal("обычное уведомление не должно помечаться тестовым")
	}
}

func TestRenderMessageTestCause(t *testing.T) {
	job := domain.NotifyJob{
		ItemName:      "jq",
		Level:         "patch",
		LatestVersion: "1.7.1",
		Cause:         domain.NotifyCauseTest,
	}

	text := renderMessage(job)
	if !strings.HasPrefix(text, "🧪") {
		t.Fatalf("тестовое уведомление должно начинаться с пометки:\n%s", text)
	}
	if strings.Contains(text, "Установлена:") {
		t.Fatal("без локальной версии строка должна отсутствовать")
	}
}

func TestRenderMessageEscapesHTML(t *testing.T) {
	job := domain.NotifyJob{
		ItemName:      "<script>alert(1)</script>",
		Level:         "major",
		LatestVersion: "2.0.0",
	}

	text := renderMessage(job)
	if strings.Contains(text, "<script>") {
		t.Fatalf("HTML в имени пакета должен экранироваться:\n%s", text)
	}
}
