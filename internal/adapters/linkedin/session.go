package linkedin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"recruiter-inbox/internal/domain"
)

// authCookieName — cookie, наличие которой означает живую сессию.
const authCookieName = "li_at"

// SessionManager — единственный владелец персистентных учётных данных сессии.
// Никто кроме него не читает и не пишет блоб.
type SessionManager struct {
	repo domain.SessionRepo
	name string
	log  zerolog.Logger
}

// NewSessionManager создаёт менеджер поверх хранилища сессий.
func NewSessionManager(repo domain.SessionRepo, name string, log zerolog.Logger) *SessionManager {
	if name == "" {
		name = "default"
	}
	return &SessionManager{repo: repo, name: name, log: log}
}

// Load возвращает сохранённую сессию в каноническом формате.
func (m *SessionManager) Load(ctx context.Context) (SessionData, error) {
	blob, err := m.repo.LoadSession(ctx, m.name)
	if err != nil {
		return SessionData{}, err
	}
	var data SessionData
	if err := json.Unmarshal(blob.Data, &data); err != nil {
		return SessionData{}, fmt.Errorf("распаковка сессии: %w", err)
	}
	if data.Version != sessionVersion {
		return SessionData{}, ErrUnsupportedSessionFormat
	}
	return data, nil
}

// Store сохраняет сессию.
func (m *SessionManager) Store(ctx context.Context, data SessionData) error {
	data.Version = sessionVersion
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("сериализация сессии: %w", err)
	}
	return m.repo.StoreSession(ctx, m.name, blob)
}

// MarkValidated фиксирует успешную проверку сессии.
func (m *SessionManager) MarkValidated(ctx context.Context) error {
	return m.repo.MarkSessionValidated(ctx, m.name, time.Now().UTC())
}

// Invalidate сбрасывает сессию после ошибки аутентификации.
func (m *SessionManager) Invalidate(ctx context.Context) {
	if err := m.repo.DropSession(ctx, m.name); err != nil {
		m.log.Error().Err(err).Str("session", m.name).Msg("session: не удалось сбросить сессию")
	}
}

// ApplyCookies переносит cookies сессии в jar клиента.
func (d SessionData) ApplyCookies(jar http.CookieJar, base *url.URL) {
	cookies := make([]*http.Cookie, 0, len(d.Cookies))
	for _, c := range d.Cookies {
		cookie := &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Path:   c.Path,
			Domain: c.Domain,
		}
		if !c.Expires.IsZero() {
			cookie.Expires = c.Expires
		}
		cookies = append(cookies, cookie)
	}
	jar.SetCookies(base, cookies)
}

// CollectCookies снимает текущие cookies jar-а в канонический формат.
func CollectCookies(jar http.CookieJar, base *url.URL) SessionData {
	var data SessionData
	data.Version = sessionVersion
	for _, c := range jar.Cookies(base) {
		data.Cookies = append(data.Cookies, SessionCookie{
			Name:    c.Name,
			Value:   c.Value,
			Path:    c.Path,
			Domain:  c.Domain,
			Expires: c.Expires,
		})
	}
	return data
}

// Authenticated сообщает, содержит ли сессия живую авторизационную cookie.
func (d SessionData) Authenticated(now time.Time) bool {
	for _, c := range d.Cookies {
		if c.Name != authCookieName || c.Value == "" {
			continue
		}
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			return false
		}
		return true
	}
	return false
}
