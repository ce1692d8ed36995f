package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"recruiter-inbox/internal/domain"
	"recruiter-inbox/internal/infra/cache"
	"recruiter-inbox/internal/infra/config"
	applog "recruiter-inbox/internal/infra/log"
	"recruiter-inbox/internal/infra/metrics"
	"recruiter-inbox/internal/infra/queue"
)

// Поллер периодически ставит плановый прогон конвейера в очередь worker'а.
// Сам он источник не трогает: весь сбор выполняет worker.
func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "poller")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	queues, err := queue.Connect(cfg.RabbitURL, cfg.RedisAddr, cfg.Queues.Intake, cfg.Queues.Delivery)
	if err != nil {
		logger.Fatal().Err(err).Msg("poller: не удалось подключиться к очередям")
	}
	defer queues.Close()
	intakeQueue := queues.Intake

	// Redis-замок исключает дубль планового прогона при нескольких репликах.
	var lock *cache.RedisCache
	if cfg.RedisAddr != "" {
		lock = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	interval := cfg.Intake.PollInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	logger.Info().Dur("interval", interval).Msg("poller: запуск")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("poller: остановлен")
			return
		case tick := <-ticker.C:
			enqueue := func() error {
				job := domain.IntakeJob{
					ID:          uuid.NewString(),
					Limit:       cfg.Intake.DefaultLimit,
					UnreadOnly:  true,
					RequestedAt: time.Now().UTC(),
					Cause:       domain.IntakeCauseScheduled,
				}
				if err := intakeQueue.Enqueue(ctx, job); err != nil {
					return err
				}
				logger.Info().Str("job_id", job.ID).Msg("poller: плановый прогон поставлен в очередь")
				return nil
			}

			if lock != nil {
				key := "poller:tick:" + tick.UTC().Truncate(interval).Format(time.RFC3339)
				if err := lock.Once(ctx, key, interval/2, enqueue); err != nil {
					logger.Error().Err(err).Msg("poller: не удалось поставить прогон в очередь")
				}
				continue
			}
			if err := enqueue(); err != nil {
				logger.Error().Err(err).Msg("poller: не удалось поставить прогон в очередь")
			}
		}
	}
}
