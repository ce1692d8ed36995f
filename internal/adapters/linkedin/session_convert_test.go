package linkedin

import (
	"encoding/json"
	"errors"
	"testing"
)

func decodeSession(t *testing.T, blob []byte) SessionData {
	t.Helper()
	var data SessionData
	if err := json.Unmarshal(blob, &data); err != nil {
		t.Fatalf("каноничный блоб не разбирается: %v", err)
	}
	return data
}

func TestNormalizeSessionBytesCanonicalPassthrough(t *testing.T) {
	raw := []byte(`{"version":1,"cookies":[{"name":"li_at","value":"tok"}],"csrf_token":"ajax:1"}`)
	blob, converted, err := NormalizeSessionBytes(raw)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if converted {
		t.Fatal("каноничный формат не должен помечаться как сконвертированный")
	}
	data := decodeSession(t, blob)
	if data.CSRFToken != "ajax:1" || len(data.Cookies) != 1 {
		t.Fatalf("содержимое блоба потеряно: %+v", data)
	}
}

func TestNormalizeSessionBytesBrowserExport(t *testing.T) {
	raw := []byte(`[
		{"name":"li_at","value":"\"tok\"","domain":".linkedin.com","path":"/","expirationDate":1787000000},
		{"name":"lang","value":"en","domain":".linkedin.com","path":"/"}
	]`)
	blob, converted, err := NormalizeSessionBytes(raw)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !converted {
		t.Fatal("экспорт браузера должен конвертироваться")
	}
	data := decodeSession(t, blob)
	if data.Version != sessionVersion || len(data.Cookies) != 2 {
		t.Fatalf("неожиданный блоб: %+v", data)
	}
	if data.Cookies[0].Value != "tok" {
		t.Fatalf("кавычки значения должны сниматься: %q", data.Cookies[0].Value)
	}
	if data.Cookies[0].Expires.IsZero() {
		t.Fatal("срок жизни cookie потерян")
	}
}

func TestNormalizeSessionBytesNetscapeCookies(t *testing.T) {
	raw := []byte("# Netscape HTTP Cookie File\n" +
		".linkedin.com\tTRUE\t/\tTRUE\t1787000000\tli_at\ttok\n" +
		".linkedin.com\tTRUE\t/\tTRUE\t0\tlang\ten\n")
	blob, converted, err := NormalizeSessionBytes(raw)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !converted {
		t.Fatal("cookies.txt должен конвертироваться")
	}
	data := decodeSession(t, blob)
	if len(data.Cookies) != 2 || data.Cookies[0].Name != "li_at" || data.Cookies[0].Value != "tok" {
		t.Fatalf("неожиданный блоб: %+v", data)
	}
}

func TestNormalizeSessionBytesBareToken(t *testing.T) {
	for _, raw := range []string{"li_at=tok-value", "\"tok-value\"\n"} {
		blob, converted, err := NormalizeSessionBytes([]byte(raw))
		if err != nil {
			t.Fatalf("%q: неожиданная ошибка: %v", raw, err)
		}
		if !converted {
			t.Fatalf("%q: голый токен должен конвертироваться", raw)
		}
		data := decodeSession(t, blob)
		if len(data.Cookies) != 1 || data.Cookies[0].Name != authCookieName || data.Cookies[0].Value != "tok-value" {
			t.Fatalf("%q: неожиданный блоб: %+v", raw, data)
		}
	}
}

func TestNormalizeSessionBytesRejectsUnknownFormat(t *testing.T) {
	if _, _, err := NormalizeSessionBytes([]byte("{broken json")); !errors.Is(err, ErrUnsupportedSessionFormat) {
		t.Fatalf("ожидался ErrUnsupportedSessionFormat, получено %v", err)
	}
	if _, _, err := NormalizeSessionBytes([]byte("   ")); err == nil {
		t.Fatal("пустой блоб должен отклоняться")
	}
}
