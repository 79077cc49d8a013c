// Package notify решает, какие найденные обновления превращаются в
// уведомления, и ставит их в очередь доставки.
package notify

import (
	"time"

	"relwatch/internal/domain"
	"relwatch/internal/version"
)

// Decision — итог решения по одному обновлению.
type Decision struct {
	Allowed bool
	Reason  string
}

// Decide применяет политику уведомлений к найденному обновлению.
// Порядок правил фиксирован: общий выключатель сильнее всего; тестовый
// режим обходит фильтр уровня и тихие часы; затем фильтр уровня; затем
// тихие часы.
func Decide(policy domain.NotificationPolicy, level version.Level, cause domain.NotifyCause, now time.Time) Decision {
	if !policy.Enabled {
		return Decision{Reason: "disabled"}
	}
	if policy.TestMode || cause == domain.NotifyCauseTest {
		return Decision{Allowed: true, Reason: "test"}
	}
	if !levelAllowed(policy, level) {
		return Decision{Reason: "level_off"}
	}
	if inSilentHours(policy, now.Hour()) {
		return Decision{Reason: "silent_hours"}
	}
	return Decision{Allowed: true, Reason: "ok"}
}

func levelAllowed(policy domain.NotificationPolicy, level version.Level) bool {
	switch level {
	case version.LevelMajor:
		return policy.NotifyOnMajor
	case version.LevelMinor:
		return policy.NotifyOnMinor
	case version.LevelPatch:
		return policy.NotifyOnPatch
	case version.LevelPrerelease:
		return policy.NotifyOnPrerelease
	default:
		return false
	}
}

// inSilentHours проверяет попадание в интервал [start, end) с переходом
// через полночь. Совпадающие границы задают пустой интервал.
func inSilentHours(policy domain.NotificationPolicy, hour int) bool {
	if policy.SilentStartHour == nil || policy.SilentEndHour == nil {
		return false
	}
	start, end := *policy.SilentStartHour, *policy.SilentEndHour
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
