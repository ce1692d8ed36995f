package linkedin

import (
	"context"
	"sync"
	"time"

	"recruiter-inbox/internal/infra/metrics"
)

// WindowLimiter — скользящее окно запросов к источнику. Превышение лимита
// никогда не ошибка, только задержка до сброса окна или конца кулдауна.
// Всё состояние за мьютексом: лимитер разделяется всеми запросами клиента.
type WindowLimiter struct {
	mu            sync.Mutex
	limit         int
	window        time.Duration
	cooldown      time.Duration
	windowStart   time.Time
	count         int
	cooldownUntil time.Time
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewWindowLimiter создаёт лимитер на limit запросов в окно window.
func NewWindowLimiter(limit int, window, cooldown time.Duration) *WindowLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WindowLimiter{
		limit:    limit,
		window:   window,
		cooldown: cooldown,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire блокирует до появления свободного слота в окне.
func (l *WindowLimiter) Acquire(ctx context.Context) error {
	started := l.now()
	for {
		l.mu.Lock()
		now := l.now()

		if now.Before(l.cooldownUntil) {
			wait := l.cooldownUntil.Sub(now)
			l.mu.Unlock()
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.count = 0
		}

		if l.count < l.limit {
			l.count++
			l.mu.Unlock()
			metrics.ObserveRateLimiterWait(l.now().Sub(started))
			return nil
		}

		wait := l.window - now.Sub(l.windowStart)
		l.mu.Unlock()
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Cooldown переводит лимитер в кулдаун: источник просигналил о троттлинге.
func (l *WindowLimiter) Cooldown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cooldown <= 0 {
		return
	}
	l.cooldownUntil = l.now().Add(l.cooldown)
}
