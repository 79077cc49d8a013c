// Package telegram содержит общие примитивы Bot API, которыми пользуются
// командный бот и доставка уведомлений.
package telegram

import "strings"

// messageLimit — максимальная длина одного сообщения Bot API.
const messageLimit = 4096

// SplitMessage режет длинный текст на части, укладывающиеся в лимит
// Telegram. Разрез по возможности проходит по переводу строки, чтобы
// строки списка пакетов и сводок проверок не рвались посередине.
func SplitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= messageLimit {
		return []string{text}
	}

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= messageLimit {
			if chunk := strings.Trim(string(runes), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		cut := messageLimit
		if nl := lastNewline(runes[:messageLimit]); nl > 0 {
			cut = nl
		}
		if chunk := strings.Trim(string(runes[:cut]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}

	if len(parts) == 0 {
		return []string{text}
	}
	return parts
}

// lastNewline возвращает позицию сразу после последнего перевода строки
// или -1, если переводов строки в срезе нет.
func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	return -1
}
