package intake

import (
	"strings"

	"recruiter-inbox/internal/domain"
)

// defaultTranscriptWindow — сколько последних сообщений треда попадает в транскрипт.
const defaultTranscriptWindow = 20

// BuildTranscript собирает ограниченное окно сообщений треда в упорядоченный
// текст с атрибуцией отправителя. Чистая функция: без сети и хранилища.
func BuildTranscript(thread domain.RawThread, window int) string {
	if window <= 0 {
		window = defaultTranscriptWindow
	}

	messages := thread.Messages
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}

	var b strings.Builder
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		b.WriteString(senderLabel(msg))
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func senderLabel(msg domain.RawMessage) string {
	if name := strings.TrimSpace(msg.SenderName); name != "" {
		return name
	}
	if !msg.Inbound {
		return "me"
	}
	return domain.ValueUnknown
}
