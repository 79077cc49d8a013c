package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageShort(t *testing.T) {
	parts := SplitMessage("Проверено пакетов: 3")
	if len(parts) != 1 || parts[0] != "Проверено пакетов: 3" {
		t.Fatalf("короткий текст должен вернуться одной частью: %#v", parts)
	}
}

func TestSplitMessageBlank(t *testing.T) {
	if parts := SplitMessage(" \n\t "); parts != nil {
		t.Fatalf("пустой текст не даёт частей, получено: %#v", parts)
	}
}

func TestSplitMessagePrefersNewline(t *testing.T) {
	var b strings.Builder
	b.WriteString(strings.Repeat("a", 3000))
	b.WriteString("\n\n")
	b.WriteString(strings.Repeat("b", 2000))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("c", 500))

	parts := SplitMessage(b.String())
	if len(parts) != 2 {
		t.Fatalf("ожидались 2 части, получено %d", len(parts))
	}
	for i, part := range parts {
		if n := len([]rune(part)); n > messageLimit {
			t.Fatalf("часть %d длиннее лимита: %d", i, n)
		}
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatal("первая часть должна кончаться на границе абзаца")
	}
	if !strings.HasPrefix(parts[1], "b") || !strings.HasSuffix(parts[1], "c") {
		t.Fatalf("вторая часть собрана неверно: %q", parts[1][:16])
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	// Ни одного перевода строки: режем ровно по лимиту.
	parts := SplitMessage(strings.Repeat("x", messageLimit+10))
	if len(parts) != 2 {
		t.Fatalf("ожидались 2 части, получено %d", len(parts))
	}
	if n := len([]rune(parts[0])); n != messageLimit {
		t.Fatalf("первая часть должна быть ровно в лимит, получено %d", n)
	}
	if n := len([]rune(parts[1])); n != 10 {
		t.Fatalf("вторая часть должна быть остатком, получено %d", n)
	}
}

func TestSplitMessageKeepsLinesIntact(t *testing.T) {
	line := "42. some-package [npm:some-package] — последняя 1.2.3"
	text := strings.TrimRight(strings.Repeat(line+"\n", 200), "\n")
	for _, part := range SplitMessage(text) {
		for _, got := range strings.Split(part, "\n") {
			if got != line {
				t.Fatalf("строка порвана при разбиении: %q", got)
			}
		}
	}
}
