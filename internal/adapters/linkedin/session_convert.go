package linkedin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedSessionFormat is returned when session data can't be recognised.
var ErrUnsupportedSessionFormat = fmt.Errorf("unsupported session format")

// sessionVersion is the current canonical session blob version.
const sessionVersion = 1

// SessionCookie is a single persisted cookie of the recruiting-site session.
type SessionCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// SessionData is the canonical JSON layout of a persisted session blob.
type SessionData struct {
	Version   int             `json:"version"`
	Cookies   []SessionCookie `json:"cookies"`
	CSRFToken string          `json:"csrf_token,omitempty"`
}

// NormalizeSessionBytes converts session blobs from known formats (browser
// cookie exports, Netscape cookies.txt or a bare li_at token) to the canonical
// JSON format used by the session manager. It returns the converted blob, a
// flag telling whether conversion was required and an error when the payload
// can't be recognised.
func NormalizeSessionBytes(raw []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("session blob is empty")
	}

	// Canonical JSON already.
	var canonical SessionData
	if err := json.Unmarshal(trimmed, &canonical); err == nil && canonical.Version != 0 {
		clone := append([]byte(nil), trimmed...)
		return clone, false, nil
	}

	if converted, err := convertBrowserExport(trimmed); err == nil {
		return converted, true, nil
	}

	if converted, err := convertNetscapeCookies(trimmed); err == nil {
		return converted, true, nil
	}

	if converted, err := convertBareToken(trimmed); err == nil {
		return converted, true, nil
	}

	return nil, false, ErrUnsupportedSessionFormat
}

// convertBrowserExport handles the JSON array produced by browser devtools
// cookie-export extensions.
func convertBrowserExport(raw []byte) ([]byte, error) {
	type exportRow struct {
		Name           string  `json:"name"`
		Value          string  `json:"value"`
		Domain         string  `json:"domain"`
		Path           string  `json:"path"`
		ExpirationDate float64 `json:"expirationDate"`
	}

	var rows []exportRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}

	cookies := make([]SessionCookie, 0, len(rows))
	for _, row := range rows {
		if row.Name == "" || row.Value == "" {
			continue
		}
		cookie := SessionCookie{
			Name:   row.Name,
			Value:  strings.Trim(row.Value, "\""),
			Domain: row.Domain,
			Path:   row.Path,
		}
		if row.ExpirationDate > 0 {
			cookie.Expires = time.Unix(int64(row.ExpirationDate), 0).UTC()
		}
		cookies = append(cookies, cookie)
	}
	if !hasAuthCookie(cookies) {
		return nil, fmt.Errorf("browser export has no auth cookie")
	}
	return marshalSessionData(SessionData{Version: sessionVersion, Cookies: cookies})
}

// convertNetscapeCookies handles the tab-separated cookies.txt format.
func convertNetscapeCookies(raw []byte) ([]byte, error) {
	var cookies []SessionCookie
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}
		cookie := SessionCookie{
			Domain: fields[0],
			Path:   fields[2],
			Name:   fields[5],
			Value:  strings.Trim(fields[6], "\""),
		}
		if expires, err := parseUnixSeconds(fields[4]); err == nil {
			cookie.Expires = expires
		}
		cookies = append(cookies, cookie)
	}
	if !hasAuthCookie(cookies) {
		return nil, fmt.Errorf("cookies.txt has no auth cookie")
	}
	return marshalSessionData(SessionData{Version: sessionVersion, Cookies: cookies})
}

// convertBareToken handles a bare li_at token pasted as-is.
func convertBareToken(raw []byte) ([]byte, error) {
	candidate := strings.TrimSpace(string(raw))
	candidate = strings.Trim(candidate, "\"'\n\r\t")
	if candidate == "" || strings.ContainsAny(candidate, " \t{}[]") {
		return nil, fmt.Errorf("not a bare token")
	}
	candidate = strings.TrimPrefix(candidate, "li_at=")
	return marshalSessionData(SessionData{
		Version: sessionVersion,
		Cookies: []SessionCookie{{Name: authCookieName, Value: candidate, Path: "/"}},
	})
}

func parseUnixSeconds(s string) (time.Time, error) {
	var seconds int64
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &seconds); err != nil {
		return time.Time{}, err
	}
	if seconds <= 0 {
		return time.Time{}, fmt.Errorf("empty expiry")
	}
	return time.Unix(seconds, 0).UTC(), nil
}

func hasAuthCookie(cookies []SessionCookie) bool {
	for _, c := range cookies {
		if c.Name == authCookieName && c.Value != "" {
			return true
		}
	}
	return false
}

func marshalSessionData(data SessionData) ([]byte, error) {
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return buf, nil
}
