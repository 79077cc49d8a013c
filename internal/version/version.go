// Package version нормализует строки версий и классифицирует разницу между ними.
// Это единственное место в системе, где сравниваются версии.
package version

import (
	"strconv"
	"strings"
)

// Level классифицирует разницу между двумя версиями.
type Level int

const (
	// LevelUnknown — хотя бы одна из версий не разобрана, сравнение невозможно.
	LevelUnknown Level = iota
	// LevelEqual — версии совпадают полностью, включая prerelease-суффикс.
	LevelEqual
	// LevelMajor — расходится первый компонент ядра.
	LevelMajor
	// LevelMinor — расходится второй компонент ядра.
	LevelMinor
	// LevelPatch — расходится третий или более поздний компонент ядра.
	LevelPatch
	// LevelPrerelease — ядра совпадают, различаются только prerelease-суффиксы.
	LevelPrerelease
)

// String возвращает строковое имя уровня для логов и сообщений.
func (l Level) String() string {
	switch l {
	case LevelEqual:
		return "equal"
	case LevelMajor:
		return "major"
	case LevelMinor:
		return "minor"
	case LevelPatch:
		return "patch"
	case LevelPrerelease:
		return "prerelease"
	default:
		return "unknown"
	}
}

// ParseLevel восстанавливает уровень из строкового имени.
func ParseLevel(s string) Level {
	switch s {
	case "equal":
		return LevelEqual
	case "major":
		return LevelMajor
	case "minor":
		return LevelMinor
	case "patch":
		return LevelPatch
	case "prerelease":
		return LevelPrerelease
	default:
		return LevelUnknown
	}
}

// Segment — один компонент ядра версии. Числовые компоненты сравниваются
// как числа, прочие — лексикографически по тексту.
type Segment struct {
	Num     int
	Text    string
	Numeric bool
}

func (s Segment) canonical() string {
	if s.Numeric {
		return strconv.Itoa(s.Num)
	}
	return s.Text
}

// Normalized — разобранное представление строки версии. Для неразборчивых
// строк Opaque=true и Raw хранит единственный непрозрачный токен,
// участвующий только в сравнении на равенство.
type Normalized struct {
	Raw        string
	Core       []Segment
	Prerelease string
	Opaque     bool
}

// String возвращает каноничную форму версии.
func (n Normalized) String() string {
	return n.Raw
}

// prereleaseKeywords — маркеры предрелизных сборок в тегах без дефиса
// (например, "1.2.0beta1" или "3.0.0.rc2").
var prereleaseKeywords = []string{"alpha", "beta", "rc", "preview", "canary", "nightly"}

// Normalize разбирает строку версии. Никогда не возвращает ошибку:
// неразборчивый ввод превращается в непрозрачный токен.
//
// Ведущий префикс `v`/`V` срезается только перед цифрой, иначе повторная
// нормализация каноничной формы давала бы другой результат.
func Normalize(raw string) Normalized {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 && (s[0] == 'v' || s[0] == 'V') && s[1] >= '0' && s[1] <= '9' {
		s = s[1:]
	}

	corePart := s
	prerelease := ""
	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		corePart = s[:idx]
		prerelease = s[idx+1:]
	} else if idx := findPrereleaseKeyword(s); idx > 0 {
		corePart = strings.TrimRight(s[:idx], ".")
		prerelease = s[idx:]
	}

	core, ok := parseCore(corePart)
	if !ok {
		return Normalized{Raw: s, Opaque: true}
	}

	n := Normalized{Core: core, Prerelease: prerelease}
	n.Raw = canonicalRaw(core, prerelease)
	return n
}

func findPrereleaseKeyword(s string) int {
	lower := strings.ToLower(s)
	best := -1
	for _, kw := range prereleaseKeywords {
		if idx := strings.Index(lower, kw); idx >= 0 && (best == -1 || idx < best) {
			best = idx
		}
	}
	return best
}

func parseCore(corePart string) ([]Segment, bool) {
	if corePart == "" {
		return nil, false
	}
	pieces := strings.Split(corePart, ".")
	first := pieces[0]
	if first == "" || first[0] < '0' || first[0] > '9' {
		return nil, false
	}
	// Чисто цифровой тег из восьми значащих знаков почти наверняка дата
	// (YYYYMMDD), а не версия. Ведущие нули не учитываются, чтобы
	// каноничная форма разбиралась так же, как исходная.
	if len(pieces) == 1 && allDigits(first) {
		if len(first) == 8 || len(strings.TrimLeft(first, "0")) == 8 {
			return nil, false
		}
	}
	core := make([]Segment, 0, len(pieces))
	for _, piece := range pieces {
		if piece == "" {
			return nil, false
		}
		if allDigits(piece) {
			num, err := strconv.Atoi(piece)
			if err == nil {
				core = append(core, Segment{Num: num, Numeric: true})
				continue
			}
		}
		core = append(core, Segment{Text: piece})
	}
	return core, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func canonicalRaw(core []Segment, prerelease string) string {
	var b strings.Builder
	for i, seg := range core {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.canonical())
	}
	if prerelease != "" {
		b.WriteByte('-')
		b.WriteString(prerelease)
	}
	return b.String()
}

// Classify сравнивает две версии и возвращает уровень расхождения.
// Более короткое ядро дополняется нулями; первый различающийся компонент
// определяет уровень. Непрозрачные токены равны только сами себе,
// в остальных случаях сравнение с ними даёт Unknown.
func Classify(local, latest string) Level {
	a := Normalize(local)
	b := Normalize(latest)
	if a.Opaque || b.Opaque {
		if a.Opaque && b.Opaque && a.Raw == b.Raw {
			return LevelEqual
		}
		return LevelUnknown
	}

	n := len(a.Core)
	if len(b.Core) > n {
		n = len(b.Core)
	}
	if n < 3 {
		n = 3
	}
	for i := 0; i < n; i++ {
		if coreAt(a.Core, i).canonical() == coreAt(b.Core, i).canonical() {
			continue
		}
		switch i {
		case 0:
			return LevelMajor
		case 1:
			return LevelMinor
		default:
			return LevelPatch
		}
	}
	if a.Prerelease != b.Prerelease {
		return LevelPrerelease
	}
	return LevelEqual
}

func coreAt(core []Segment, i int) Segment {
	if i < len(core) {
		return core[i]
	}
	return Segment{Num: 0, Numeric: true}
}

// HasUpdate сообщает, отличается ли последняя версия от локальной.
// Unknown трактуется консервативно: обновления нет.
func HasUpdate(local, latest string) bool {
	switch Classify(local, latest) {
	case LevelEqual, LevelUnknown:
		return false
	default:
		return true
	}
}

// IsPrerelease определяет, выглядит ли версия как предрелизная: либо есть
// prerelease-суффикс, либо строка содержит один из известных маркеров.
func IsPrerelease(raw string) bool {
	n := Normalize(raw)
	if n.Prerelease != "" {
		return true
	}
	lower := strings.ToLower(n.Raw)
	for _, kw := range prereleaseKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
