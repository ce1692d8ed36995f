package linkedin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"recruiter-inbox/internal/domain"
	"recruiter-inbox/internal/infra/metrics"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Config — настройки клиента источника сообщений.
type Config struct {
	BaseURL  string
	Username string
	Password string
	PageSize int
	Timeout  time.Duration
}

// Client реализует domain.Fetcher поверх веб-интерфейса LinkedIn.
// Все сетевые действия проходят через общий rate-лимитер; сессия и лимитер
// сериализованы внутри клиента — это единственная точка доступа к ним.
type Client struct {
	cfg      Config
	base     *url.URL
	http     *http.Client
	limiter  *WindowLimiter
	sessions *SessionManager
	log      zerolog.Logger

	mu     sync.Mutex
	authed bool
	csrf   string
}

// NewClient создаёт клиента с cookie jar и rate-лимитером.
func NewClient(cfg Config, limiter *WindowLimiter, sessions *SessionManager, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("linkedin: base url is empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("linkedin: parse base url: %w", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("linkedin: cookie jar: %w", err)
	}
	return &Client{
		cfg:      cfg,
		base:     base,
		http:     &http.Client{Jar: jar, Timeout: cfg.Timeout},
		limiter:  limiter,
		sessions: sessions,
		log:      log,
	}, nil
}

var _ domain.Fetcher = (*Client)(nil)

// FetchThreads собирает треды переписки, листая инбокс до limit.
// Некорректные записи пропускаются и не прерывают пачку.
func (c *Client) FetchThreads(ctx context.Context, limit int, unreadOnly bool) (domain.FetchBatch, error) {
	if limit <= 0 {
		limit = c.cfg.PageSize
	}
	if err := c.ensureSession(ctx); err != nil {
		return domain.FetchBatch{}, err
	}

	batch := domain.FetchBatch{Threads: make([]domain.RawThread, 0, limit)}
	for start := 0; len(batch.Threads) < limit; start += c.cfg.PageSize {
		doc, err := c.getDocument(ctx, fmt.Sprintf("/messaging/threads?start=%d&count=%d", start, c.cfg.PageSize), "list_threads")
		if err != nil {
			return domain.FetchBatch{}, err
		}

		items := doc.Find("li.msg-conversation")
		if items.Length() == 0 {
			break
		}

		var pageErr error
		items.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if len(batch.Threads) >= limit {
				return false
			}
			head, err := parseThreadHead(sel)
			if err != nil {
				var malformed *domain.MalformedEntryError
				if errors.As(err, &malformed) {
					batch.Malformed++
					c.log.Warn().Str("thread", malformed.ThreadID).Str("reason", malformed.Reason).
						Msg("linkedin: пропущен некорректный тред")
					return true
				}
				pageErr = err
				return false
			}
			if unreadOnly && !head.Unread {
				return true
			}
			messages, err := c.fetchThreadMessages(ctx, head.ThreadID)
			if err != nil {
				var malformed *domain.MalformedEntryError
				if errors.As(err, &malformed) {
					batch.Malformed++
					c.log.Warn().Str("thread", head.ThreadID).Str("reason", malformed.Reason).
						Msg("linkedin: пропущен тред без сообщений")
					return true
				}
				pageErr = err
				return false
			}
			head.Messages = messages
			batch.Threads = append(batch.Threads, head)
			return true
		})
		if pageErr != nil {
			return domain.FetchBatch{}, pageErr
		}
	}
	return batch, nil
}

// SendReply отправляет текст в тред.
func (c *Client) SendReply(ctx context.Context, threadID, text string) error {
	if strings.TrimSpace(text) == "" {
		return &domain.DeliveryError{Err: errors.New("пустой текст ответа")}
	}
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("body", text)
	form.Set("csrfToken", c.csrfToken())

	resp, err := c.do(ctx, http.MethodPost, "/messaging/thread/"+url.PathEscape(threadID)+"/reply",
		strings.NewReader(form.Encode()), "send_reply", map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		})
	if err != nil {
		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			return err
		}
		return &domain.DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &domain.DeliveryError{Err: fmt.Errorf("неожиданный статус %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) fetchThreadMessages(ctx context.Context, threadID string) ([]domain.RawMessage, error) {
	doc, err := c.getDocument(ctx, "/messaging/thread/"+url.PathEscape(threadID), "get_thread")
	if err != nil {
		return nil, err
	}

	var messages []domain.RawMessage
	doc.Find("div.msg-event").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Find("p.msg-body").Text())
		if text == "" {
			return
		}
		sender := strings.TrimSpace(sel.AttrOr("data-sender", ""))
		sentAt, err := parseMessageTime(sel.AttrOr("data-sent-at", ""))
		if err != nil {
			sentAt = time.Now()
		}
		messages = append(messages, domain.RawMessage{
			SenderName: sender,
			Inbound:    !sel.HasClass("msg-event--outbound"),
			Text:       text,
			SentAt:     sentAt,
		})
	})
	if len(messages) == 0 {
		return nil, &domain.MalformedEntryError{ThreadID: threadID, Reason: "тред без сообщений"}
	}
	return messages, nil
}

func parseThreadHead(sel *goquery.Selection) (domain.RawThread, error) {
	threadID := strings.TrimSpace(sel.AttrOr("data-thread-id", ""))
	if threadID == "" {
		return domain.RawThread{}, &domain.MalformedEntryError{Reason: "отсутствует идентификатор треда"}
	}
	participant := sel.Find("a.msg-participant")
	name := strings.TrimSpace(participant.Find(".msg-participant__name").Text())
	if name == "" {
		name = strings.TrimSpace(participant.Text())
	}
	if name == "" {
		return domain.RawThread{}, &domain.MalformedEntryError{ThreadID: threadID, Reason: "отсутствует отправитель"}
	}
	profileURL := strings.TrimSpace(participant.AttrOr("href", ""))
	return domain.RawThread{
		ThreadID:      threadID,
		RecruiterName: name,
		RecruiterURL:  profileURL,
		Unread:        sel.HasClass("msg-conversation--unread"),
	}, nil
}

// ensureSession проверяет кэшированную сессию и при необходимости логинится.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	authed := c.authed
	c.mu.Unlock()
	if authed {
		return nil
	}

	data, err := c.sessions.Load(ctx)
	switch {
	case err == nil && data.Authenticated(time.Now()):
		data.ApplyCookies(c.http.Jar, c.base)
		c.setAuthed(data.CSRFToken)
		if err := c.sessions.MarkValidated(ctx); err != nil {
			c.log.Warn().Err(err).Msg("linkedin: не удалось отметить валидацию сессии")
		}
		metrics.SessionLogins.WithLabelValues("cached").Inc()
		return nil
	case err != nil && !errors.Is(err, domain.ErrSessionNotFound):
		c.log.Warn().Err(err).Msg("linkedin: сохранённая сессия нечитаема, логинимся заново")
	}

	if err := c.login(ctx); err != nil {
		metrics.SessionLogins.WithLabelValues("failed").Inc()
		return err
	}
	metrics.SessionLogins.WithLabelValues("fresh").Inc()
	return nil
}

// login выполняет интерактивный логин и сохраняет свежую сессию.
func (c *Client) login(ctx context.Context) error {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return &domain.AuthError{Err: errors.New("нет учётных данных для логина")}
	}

	doc, err := c.getDocument(ctx, "/login", "login_page")
	if err != nil {
		return err
	}
	csrf := doc.Find("input[name=loginCsrfParam]").AttrOr("value", "")

	form := url.Values{}
	form.Set("session_key", c.cfg.Username)
	form.Set("session_password", c.cfg.Password)
	form.Set("loginCsrfParam", csrf)

	resp, err := c.do(ctx, http.MethodPost, "/checkpoint/lt/login-submit",
		strings.NewReader(form.Encode()), "login_submit", map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	session := CollectCookies(c.http.Jar, c.base)
	if !session.Authenticated(time.Now()) {
		c.sessions.Invalidate(ctx)
		return &domain.AuthError{Err: errors.New("логин не дал авторизационной cookie")}
	}
	session.CSRFToken = csrf
	if err := c.sessions.Store(ctx, session); err != nil {
		c.log.Error().Err(err).Msg("linkedin: не удалось сохранить сессию")
	}
	if err := c.sessions.MarkValidated(ctx); err != nil {
		c.log.Warn().Err(err).Msg("linkedin: не удалось отметить валидацию сессии")
	}
	c.setAuthed(csrf)
	return nil
}

func (c *Client) setAuthed(csrf string) {
	c.mu.Lock()
	c.authed = true
	c.csrf = csrf
	c.mu.Unlock()
}

func (c *Client) csrfToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrf
}

func (c *Client) getDocument(ctx context.Context, path, operation string) (*goquery.Document, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, operation, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("linkedin: разбор ответа %s: %w", operation, err)
	}
	return doc, nil
}

// do выполняет один сетевой запрос под rate-лимитером и классифицирует сбои.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, operation string, headers map[string]string) (*http.Response, error) {
	// Тело буферизуется заранее: повтор после троттлинга отправляет его
	// заново, а не уже вычитанный Reader.
	var payload []byte
	if body != nil {
		buf, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("linkedin: read request body: %w", err)
		}
		payload = buf
	}

	for {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("linkedin: build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		metrics.ObserveNetworkRequest("linkedin", operation, path, start, err)
		if err != nil {
			if isTimeout(err) {
				return nil, fmt.Errorf("%w: %s", domain.ErrAcquisitionTimeout, operation)
			}
			return nil, fmt.Errorf("linkedin: %s: %w", operation, err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			// Троттлинг источника: не ошибка, уходим в кулдаун и повторяем.
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			c.limiter.Cooldown()
			c.log.Warn().Str("operation", operation).Msg("linkedin: троттлинг, уходим в кулдаун")
			continue
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			c.mu.Lock()
			c.authed = false
			c.mu.Unlock()
			c.sessions.Invalidate(ctx)
			return nil, &domain.AuthError{Err: fmt.Errorf("статус %d на %s", resp.StatusCode, operation)}
		}
		return resp, nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
