package localprobe

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"relwatch/internal/domain"
)

func TestExtractVersion(t *testing.T) {
	cases := []struct {
		output string
		want   string
		ok     bool
	}{
		{"git version 2.39.2", "2.39.2", true},
		{"jq-1.7.1", "1.7.1", true},
		{"v20.11.0", "20.11.0", true},
		{"Python 3.12.1", "3.12.1", true},
		{"terraform v1.6.0-beta.2 on linux_amd64", "1.6.0-beta.2", true},
		{"go version go1.22 linux/amd64", "1.22", true},
		{"no digits here", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := extractVersion(tc.output)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("extractVersion(%q) = %q,%v; ожидалось %q,%v", tc.output, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDetectViaEcho(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo недоступен")
	}
	r := NewRunner(5 * time.Second)
	got, err := r.Detect(context.Background(), domain.LocalProbe{Command: "echo", VersionArg: "tool version 4.5.6"})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != "4.5.6" {
		t.Fatalf("ожидалась версия 4.5.6, получено %q", got)
	}
}

func TestDetectMissingBinary(t *testing.T) {
	r := NewRunner(time.Second)
	_, err := r.Detect(context.Background(), domain.LocalProbe{Command: "relwatch-no-such-binary"})
	if !errors.Is(err, domain.ErrProbeUnavailable) {
		t.Fatalf("ожидалась ErrProbeUnavailable, получено: %v", err)
	}
}

func TestDetectEmptyCommand(t *testing.T) {
	r := NewRunner(time.Second)
	_, err := r.Detect(context.Background(), domain.LocalProbe{})
	if !errors.Is(err, domain.ErrProbeUnavailable) {
		t.Fatalf("ожидалась ErrProbeUnavailable, получено: %v", err)
	}
}
