// Package localprobe определяет установленную локально версию программы,
// запуская её с version-флагом и вытаскивая версию из вывода.
package localprobe

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"relwatch/internal/domain"
)

const (
	defaultVersionArg = "--version"
	defaultTimeout    = 10 * time.Second
)

// versionPattern покрывает типичные форматы вывода: 1.2, 1.2.3, 1.2.3-beta.1.
var versionPattern = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?(?:-[\w.]+)?`)

// Runner реализует domain.VersionProbe поверх exec.
type Runner struct {
	timeout time.Duration
}

var _ domain.VersionProbe = (*Runner)(nil)

func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{timeout: timeout}
}

// Detect запускает команду пробы и возвращает найденную версию.
// Любой сбой — отсутствие бинаря, ненулевой код выхода, вывод без версии —
// приводит к domain.ErrProbeUnavailable: проба вспомогательна и не должна
// ронять проверку обновлений.
func (r *Runner) Detect(ctx context.Context, probe domain.LocalProbe) (string, error) {
	command := strings.TrimSpace(probe.Command)
	if command == "" {
		return "", fmt.Errorf("%w: не задана команда пробы", domain.ErrProbeUnavailable)
	}
	arg := probe.VersionArg
	if arg == "" {
		arg = defaultVersionArg
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Часть программ печатает версию в stderr, поэтому берём оба потока.
	out, err := exec.CommandContext(ctx, command, arg).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: запуск %s: %v", domain.ErrProbeUnavailable, command, err)
	}
	version, ok := extractVersion(string(out))
	if !ok {
		return "", fmt.Errorf("%w: в выводе %s нет версии", domain.ErrProbeUnavailable, command)
	}
	return version, nil
}

// extractVersion возвращает первое вхождение версии в выводе команды.
func extractVersion(output string) (string, bool) {
	match := versionPattern.FindString(output)
	if match == "" {
		return "", false
	}
	return match, true
}
