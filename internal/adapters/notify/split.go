package notify

import "strings"

const messageLimit = 4096

// SplitMessage режет сводку на части в пределах лимита Telegram.
// Блоки сводки разделены пустой строкой, поэтому рез предпочитает границу
// абзаца, затем перевод строки и лишь в крайнем случае режет жёстко.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return []string{trimmed}
	}

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= messageLimit {
			if chunk := strings.TrimSpace(string(runes)); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}
		cut := splitPoint(runes, messageLimit)
		if chunk := strings.TrimSpace(string(runes[:cut])); chunk != "" {
			parts = append(parts, chunk)
		}
		runes = runes[cut:]
	}
	return parts
}

// splitPoint возвращает позицию реза в пределах limit: конец последнего
// целого абзаца, иначе последний перевод строки, иначе сам limit.
func splitPoint(runes []rune, limit int) int {
	for i := limit; i >= 2; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := limit; i >= 1; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	return limit
}
