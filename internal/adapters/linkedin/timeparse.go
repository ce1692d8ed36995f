package linkedin

import (
	"fmt"
	"strings"
	"time"
)

// datetimeLayouts — форматы с временем, принимаются как есть.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// dateOnlyLayouts — форматы без времени. Нормализуются к местному полудню,
// иначе рендер в другом поясе сдвигает дату на сутки.
var dateOnlyLayouts = []string{
	"2006-01-02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// parseMessageTime разбирает отметку времени сообщения.
func parseMessageTime(raw string) (time.Time, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return time.Time{}, fmt.Errorf("пустая отметка времени")
	}
	for _, layout := range datetimeLayouts {
		if ts, err := time.Parse(layout, candidate); err == nil {
			return ts, nil
		}
	}
	for _, layout := range dateOnlyLayouts {
		if ts, err := time.ParseInLocation(layout, candidate, time.Local); err == nil {
			return time.Date(ts.Year(), ts.Month(), ts.Day(), 12, 0, 0, 0, time.Local), nil
		}
	}
	return time.Time{}, fmt.Errorf("нераспознанная отметка времени %q", raw)
}
