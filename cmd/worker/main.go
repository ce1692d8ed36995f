package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"recruiter-inbox/internal/adapters/linkedin"
	"recruiter-inbox/internal/adapters/notify"
	"recruiter-inbox/internal/adapters/oracle"
	"recruiter-inbox/internal/adapters/repo"
	"recruiter-inbox/internal/domain"
	"recruiter-inbox/internal/infra/cache"
	"recruiter-inbox/internal/infra/config"
	"recruiter-inbox/internal/infra/db"
	applog "recruiter-inbox/internal/infra/log"
	"recruiter-inbox/internal/infra/metrics"
	"recruiter-inbox/internal/infra/openai"
	"recruiter-inbox/internal/infra/queue"
	intakeusecase "recruiter-inbox/internal/usecase/intake"
	responseusecase "recruiter-inbox/internal/usecase/response"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "worker")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	queues, err := queue.Connect(cfg.RabbitURL, cfg.RedisAddr, cfg.Queues.Intake, cfg.Queues.Delivery)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось подключиться к очередям")
	}
	defer queues.Close()

	limiter := linkedin.NewWindowLimiter(cfg.LinkedIn.RateLimit, cfg.LinkedIn.RateWindow, cfg.LinkedIn.Cooldown)
	sessions := linkedin.NewSessionManager(repoAdapter.Sessions, cfg.LinkedIn.SessionName, logger)
	fetcher, err := linkedin.NewClient(linkedin.Config{
		BaseURL:  cfg.LinkedIn.BaseURL,
		Username: cfg.LinkedIn.Username,
		Password: cfg.LinkedIn.Password,
		PageSize: cfg.LinkedIn.PageSize,
		Timeout:  cfg.LinkedIn.Timeout,
	}, limiter, sessions, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать клиента источника")
	}

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("worker: не указан ключ OpenAI (OPENAI_API_KEY)")
	}
	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	var oracleAdapter domain.Oracle = oracle.NewLLM(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cached := oracle.NewCached(oracleAdapter, cache.NewRedis(redisClient), cfg.Scoring.OracleCacheTTL, cfg.Scoring.PromptVersion, logger)
		if err := cached.EnsureVersion(ctx); err != nil {
			logger.Warn().Err(err).Msg("worker: не удалось сверить версию промпта в кэше")
		}
		oracleAdapter = cached
	}

	var notifier domain.Notifier
	if cfg.Notify.TelegramToken != "" && cfg.Notify.ChatID != 0 {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Notify.TelegramToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось создать бота для уведомлений")
		}
		notifier = notify.NewTelegram(botAPI, cfg.Notify.ChatID, cfg.Notify.MinScore, domain.Tier(cfg.Notify.MinTier), logger)
	}

	filters := intakeusecase.NewHardFilters(intakeusecase.FilterConfig{
		SixDayWeekOK:   cfg.Profile.SixDayWeekOK,
		RemoteRequired: cfg.Profile.RemoteRequired,
		AvoidCompanies: cfg.Profile.AvoidCompanies,
		Penalty:        cfg.Scoring.FilterPenalty,
	})
	scorer := intakeusecase.NewScorer(intakeusecase.Profile{
		TechStack:    cfg.Profile.TechStack,
		Seniority:    cfg.Profile.Seniority,
		SalaryFloor:  cfg.Profile.SalaryFloor,
		SalaryTarget: cfg.Profile.SalaryTarget,
		Currency:     cfg.Profile.Currency,
		TopCompanies: cfg.Profile.TopCompanies,
	}, intakeusecase.Weights{
		Tech:          cfg.Scoring.TechWeight,
		Salary:        cfg.Scoring.SalaryWeight,
		Seniority:     cfg.Scoring.SeniorityWeight,
		Company:       cfg.Scoring.CompanyWeight,
		TierTopMin:    cfg.Scoring.TierTopMin,
		TierHighMin:   cfg.Scoring.TierHighMin,
		TierMediumMin: cfg.Scoring.TierMediumMin,
	})

	intakeService := intakeusecase.NewService(fetcher, oracleAdapter, repoAdapter.Opportunities, repoAdapter.Responses, notifier, filters, scorer, intakeusecase.Config{
		TranscriptWindow:    cfg.Intake.TranscriptWindow,
		DefaultLimit:        cfg.Intake.DefaultLimit,
		MaxFetchRetries:     cfg.LinkedIn.MaxRetries,
		FetchRetryBackoff:   cfg.LinkedIn.RetryBackoff,
		ConfidenceThreshold: cfg.Scoring.ConfidenceThreshold,
	}, logger)
	responseService := responseusecase.NewService(repoAdapter.Responses, repoAdapter.Opportunities, fetcher, cfg.Responses.MaxSendAttempts, logger)

	intakeWrk := &intakeWorker{
		log:      logger,
		queue:    queues.Intake,
		statuses: repoAdapter.Jobs,
		service:  intakeService,
	}
	deliveryWrk := &deliveryWorker{
		log:      logger,
		queue:    queues.Delivery,
		statuses: repoAdapter.Jobs,
		service:  responseService,
	}

	logger.Info().Msg("worker: запуск обработки очередей")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		intakeWrk.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		deliveryWrk.Run(ctx)
	}()
	wg.Wait()
	logger.Info().Msg("worker: остановлен")
}

// maxJobAttempts ограничивает повторы задачи на уровне очереди. Лимит попыток
// отправки конкретного ответа отслеживается отдельно в response.Service.
const maxJobAttempts = 5

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

type intakeWorker struct {
	log      zerolog.Logger
	queue    domain.IntakeQueue
	statuses domain.JobStatusRepo
	service  *intakeusecase.Service
}

func (w *intakeWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди прогонов")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("cause", string(job.Cause)).
			Int("limit", job.Limit).
			Logger()

		runJob(ctx, job.ID, w.statuses, ack, jobLog, func(jobLog zerolog.Logger) jobOutcome {
			return w.handleJob(ctx, job, jobLog)
		})
	}
}

func (w *intakeWorker) handleJob(ctx context.Context, job domain.IntakeJob, jobLog zerolog.Logger) jobOutcome {
	metrics.IntakeRunsTotal.WithLabelValues(string(job.Cause)).Inc()
	summary, err := w.service.Run(ctx, intakeusecase.RunParams{Limit: job.Limit, UnreadOnly: job.UnreadOnly}, nil)
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: прогон завершился ошибкой")
		return jobOutcomeRetry
	}
	jobLog.Info().
		Int("processed", summary.Processed).
		Int("created", summary.Created).
		Int("duplicates", summary.Duplicates).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("worker: прогон выполнен")
	return jobOutcomeCompleted
}

type deliveryWorker struct {
	log      zerolog.Logger
	queue    domain.DeliveryQueue
	statuses domain.JobStatusRepo
	service  *responseusecase.Service
}

func (w *deliveryWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди доставки")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Int64("response_id", job.ResponseID).
			Logger()

		runJob(ctx, job.ID, w.statuses, ack, jobLog, func(jobLog zerolog.Logger) jobOutcome {
			return w.handleJob(ctx, job, jobLog)
		})
	}
}

func (w *deliveryWorker) handleJob(ctx context.Context, job domain.DeliveryJob, jobLog zerolog.Logger) jobOutcome {
	resp, err := w.service.Deliver(ctx, job.ResponseID)
	if err == nil {
		jobLog.Info().Msg("worker: ответ отправлен")
		return jobOutcomeCompleted
	}
	switch {
	case errors.Is(err, domain.ErrResponseTerminal):
		jobLog.Info().Msg("worker: ответ уже в терминальном статусе, доставка не нужна")
		return jobOutcomeCompleted
	case errors.Is(err, domain.ErrResponseNotFound):
		jobLog.Error().Err(err).Msg("worker: ответ не найден")
		return jobOutcomeCompleted
	}

	var deliveryErr *domain.DeliveryError
	if errors.As(err, &deliveryErr) && w.service.Retryable(resp) {
		// Возврат из failed в approved, чтобы повторная доставка прошла
		// машину состояний штатно. Лимит попыток контролирует сервис.
		if _, err := w.service.Approve(ctx, resp.OpportunityID, ""); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось повторно согласовать ответ")
			return jobOutcomeCompleted
		}
		jobLog.Warn().Err(deliveryErr).Int("attempts", resp.SendAttempts).Msg("worker: отправка не удалась, повторим позже")
		return jobOutcomeRetry
	}

	jobLog.Error().Err(err).Msg("worker: доставка завершилась без повтора")
	return jobOutcomeCompleted
}

// runJob оборачивает обработку задачи идемпотентной регистрацией в БД:
// задача с известным идентификатором не выполняется повторно после доставки,
// повторы ограничены maxJobAttempts.
func runJob(ctx context.Context, jobID string, statuses domain.JobStatusRepo, ack domain.AckFunc, jobLog zerolog.Logger, handle func(jobLog zerolog.Logger) jobOutcome) jobOutcome {
	if jobID == "" {
		jobLog.Error().Msg("worker: получена задача без идентификатора, подтверждаем и пропускаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу без идентификатора")
		}
		return jobOutcomeCompleted
	}

	done, attempt, err := statuses.EnsureJob(ctx, jobID)
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: не удалось зарегистрировать задачу")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
		}
		time.Sleep(time.Second)
		return jobOutcomeRetry
	}

	jobLog = jobLog.With().Int("attempt", attempt).Logger()

	if done {
		jobLog.Info().Msg("worker: задача уже была обработана, подтверждаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить ранее обработанную задачу")
		}
		return jobOutcomeCompleted
	}

	outcome := handle(jobLog)

	if outcome == jobOutcomeRetry && attempt < maxJobAttempts {
		jobLog.Warn().Msg("worker: задача завершилась ошибкой, повторим позже")
		if err := ack(false); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось вернуть задачу после ошибки")
		}
		return outcome
	}

	if outcome == jobOutcomeRetry {
		jobLog.Error().Msg("worker: достигнут предел попыток, помечаем задачу как завершённую")
	}

	if err := statuses.MarkJobDone(ctx, jobID); err != nil {
		jobLog.Error().Err(err).Msg("worker: не удалось пометить задачу обработанной")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу после ошибки статуса")
		}
		time.Sleep(time.Second)
		return jobOutcomeRetry
	}

	if err := ack(true); err != nil {
		jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
	}
	return outcome
}
