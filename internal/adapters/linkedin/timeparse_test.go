package linkedin

import (
	"testing"
	"time"
)

func TestParseMessageTimeDatetime(t *testing.T) {
	ts, err := parseMessageTime("2026-08-20T14:30:00Z")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !ts.Equal(time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)) {
		t.Fatalf("время разобрано неверно: %v", ts)
	}
}

func TestParseMessageTimeDateOnlyNormalizesToNoon(t *testing.T) {
	for _, raw := range []string{"2026-08-20", "Aug 20, 2026", "20 Aug 2026"} {
		ts, err := parseMessageTime(raw)
		if err != nil {
			t.Fatalf("%q: неожиданная ошибка: %v", raw, err)
		}
		want := time.Date(2026, 8, 20, 12, 0, 0, 0, time.Local)
		if !ts.Equal(want) {
			t.Fatalf("%q: дата без времени должна давать местный полдень, получено %v", raw, ts)
		}
	}
}

func TestParseMessageTimeRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "  ", "yesterday", "20/08/2026"} {
		if _, err := parseMessageTime(raw); err == nil {
			t.Fatalf("%q: ожидалась ошибка разбора", raw)
		}
	}
}
