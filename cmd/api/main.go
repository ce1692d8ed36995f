package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
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
	httpinfra "recruiter-inbox/internal/infra/http"
	applog "recruiter-inbox/internal/infra/log"
	"recruiter-inbox/internal/infra/metrics"
	"recruiter-inbox/internal/infra/openai"
	"recruiter-inbox/internal/infra/queue"
	intakeusecase "recruiter-inbox/internal/usecase/intake"
	progressusecase "recruiter-inbox/internal/usecase/progress"
	responseusecase "recruiter-inbox/internal/usecase/response"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	queues, err := queue.Connect(cfg.RabbitURL, cfg.RedisAddr, cfg.Queues.Intake, cfg.Queues.Delivery)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось подключиться к очередям")
	}
	defer queues.Close()

	intakeService := buildIntakeService(cfg, repoAdapter, logger)
	responseService := responseusecase.NewService(repoAdapter.Responses, repoAdapter.Opportunities, nil, cfg.Responses.MaxSendAttempts, logger)
	bridge := progressusecase.NewBridge(logger)

	h := &handlers{
		log:           logger,
		opps:          repoAdapter.Opportunities,
		intake:        intakeService,
		responses:     responseService,
		bridge:        bridge,
		intakeQueue:   queues.Intake,
		deliveryQueue: queues.Delivery,
		defaultLimit:  cfg.Intake.DefaultLimit,
	}

	server := httpinfra.NewServer(logger)
	server.Router.Route("/api/v1", func(r chi.Router) {
		r.Get("/opportunities", h.listOpportunities)
		r.Get("/opportunities/{id}", h.getOpportunity)
		r.Post("/opportunities/{id}/approve", h.approveResponse)
		r.Post("/opportunities/{id}/decline", h.declineResponse)
		r.Get("/responses/pending", h.listPendingResponses)
		r.Post("/responses/{id}/feedback", h.submitFeedback)
		r.Post("/intake/runs", h.enqueueRun)
		r.Get("/intake/stream", h.streamRun)
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")
	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// buildIntakeService собирает конвейер для синхронных прогонов через SSE.
// Фоновые прогоны выполняет worker той же сборкой.
func buildIntakeService(cfg config.AppConfig, repoAdapter *repo.Postgres, logger zerolog.Logger) *intakeusecase.Service {
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
		logger.Fatal().Err(err).Msg("api: не удалось создать клиента источника")
	}

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("api: не указан ключ OpenAI (OPENAI_API_KEY)")
	}
	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	var oracleAdapter domain.Oracle = oracle.NewLLM(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cached := oracle.NewCached(oracleAdapter, cache.NewRedis(redisClient), cfg.Scoring.OracleCacheTTL, cfg.Scoring.PromptVersion, logger)
		if err := cached.EnsureVersion(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("api: не удалось сверить версию промпта в кэше")
		}
		oracleAdapter = cached
	}

	var notifier domain.Notifier
	if cfg.Notify.TelegramToken != "" && cfg.Notify.ChatID != 0 {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Notify.TelegramToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось создать бота для уведомлений")
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

	return intakeusecase.NewService(fetcher, oracleAdapter, repoAdapter.Opportunities, repoAdapter.Responses, notifier, filters, scorer, intakeusecase.Config{
		TranscriptWindow:    cfg.Intake.TranscriptWindow,
		DefaultLimit:        cfg.Intake.DefaultLimit,
		MaxFetchRetries:     cfg.LinkedIn.MaxRetries,
		FetchRetryBackoff:   cfg.LinkedIn.RetryBackoff,
		ConfidenceThreshold: cfg.Scoring.ConfidenceThreshold,
	}, logger)
}

type handlers struct {
	log           zerolog.Logger
	opps          domain.OpportunityRepo
	intake        *intakeusecase.Service
	responses     *responseusecase.Service
	bridge        *progressusecase.Bridge
	intakeQueue   domain.IntakeQueue
	deliveryQueue domain.DeliveryQueue
	defaultLimit  int
}

func (h *handlers) listOpportunities(w http.ResponseWriter, r *http.Request) {
	filter := domain.OpportunityFilter{
		Status:  domain.OpportunityStatus(r.URL.Query().Get("status")),
		Tier:    domain.Tier(r.URL.Query().Get("tier")),
		Outcome: domain.ProcessingOutcome(r.URL.Query().Get("outcome")),
	}
	limit, offset := pageParams(r, 50)
	opps, err := h.opps.List(r.Context(), filter, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("api: листинг возможностей")
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, map[string]any{"opportunities": opps})
}

func (h *handlers) getOpportunity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opportunity id")
		return
	}
	opp, err := h.opps.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrOpportunityNotFound) {
			writeError(w, http.StatusNotFound, "opportunity not found")
			return
		}
		h.log.Error().Err(err).Int64("opportunity_id", id).Msg("api: чтение возможности")
		writeError(w, http.StatusInternalServerError, "failed to load opportunity")
		return
	}
	writeJSON(w, opp)
}

type approveRequest struct {
	EditedText string `json:"edited_text"`
}

func (h *handlers) approveResponse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opportunity id")
		return
	}
	defer r.Body.Close()
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.responses.Approve(r.Context(), id, req.EditedText)
	if err != nil {
		writeResponseError(w, h.log, err, "approve")
		return
	}

	job := domain.DeliveryJob{
		ID:          uuid.NewString(),
		ResponseID:  resp.ID,
		RequestedAt: time.Now().UTC(),
	}
	if err := h.deliveryQueue.Enqueue(r.Context(), job); err != nil {
		h.log.Error().Err(err).Int64("response_id", resp.ID).Msg("api: не удалось поставить доставку в очередь")
		writeError(w, http.StatusInternalServerError, "approved but delivery was not scheduled")
		return
	}
	writeJSON(w, map[string]any{"response": resp, "delivery_job_id": job.ID})
}

func (h *handlers) declineResponse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid opportunity id")
		return
	}
	resp, err := h.responses.Decline(r.Context(), id)
	if err != nil {
		writeResponseError(w, h.log, err, "decline")
		return
	}
	writeJSON(w, map[string]any{"response": resp})
}

func (h *handlers) listPendingResponses(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 50)
	pending, err := h.responses.ListPending(r.Context(), limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("api: листинг ожидающих ответов")
		writeError(w, http.StatusInternalServerError, "failed to list pending responses")
		return
	}
	if pending == nil {
		pending = []domain.PendingResponse{}
	}
	writeJSON(w, map[string]any{"responses": pending})
}

type feedbackRequest struct {
	Score int    `json:"score"`
	Notes string `json:"notes"`
}

func (h *handlers) submitFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid response id")
		return
	}
	defer r.Body.Close()
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.responses.SubmitFeedback(r.Context(), id, req.Score, req.Notes); err != nil {
		if errors.Is(err, domain.ErrResponseNotFound) {
			writeError(w, http.StatusNotFound, "response not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type runRequest struct {
	Limit      int  `json:"limit"`
	UnreadOnly bool `json:"unread_only"`
}

// enqueueRun ставит прогон в очередь worker'а и сразу возвращает идентификатор.
func (h *handlers) enqueueRun(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = h.defaultLimit
	}
	job := domain.IntakeJob{
		ID:          uuid.NewString(),
		Limit:       req.Limit,
		UnreadOnly:  req.UnreadOnly,
		RequestedAt: time.Now().UTC(),
		Cause:       domain.IntakeCauseManual,
	}
	if err := h.intakeQueue.Enqueue(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("api: не удалось поставить прогон в очередь")
		writeError(w, http.StatusInternalServerError, "failed to enqueue run")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"job_id": job.ID})
}

// streamRun выполняет прогон синхронно и стримит события через SSE.
// Обрыв соединения клиентом отменяет прогон между шагами.
func (h *handlers) streamRun(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	unreadOnly := r.URL.Query().Get("unread_only") == "true"

	sse, err := httpinfra.NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	metrics.IntakeRunsTotal.WithLabelValues(string(domain.IntakeCauseManual)).Inc()
	err = h.bridge.Stream(r.Context(), func(ctx context.Context, progress domain.ProgressFn) (domain.RunSummary, error) {
		return h.intake.Run(ctx, intakeusecase.RunParams{Limit: limit, UnreadOnly: unreadOnly}, progress)
	}, func(event domain.Event) error {
		return sse.Send(string(event.Type), event)
	})
	if err != nil {
		h.log.Error().Err(err).Msg("api: поток прогона завершился ошибкой")
	}
}

func writeResponseError(w http.ResponseWriter, log zerolog.Logger, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrResponseNotFound):
		writeError(w, http.StatusNotFound, "response not found")
	case errors.Is(err, domain.ErrResponseTerminal):
		writeError(w, http.StatusConflict, "response is already in a terminal state")
	case errors.Is(err, domain.ErrSendAttemptsExceeded):
		writeError(w, http.StatusConflict, "send attempts exceeded")
	case errors.Is(err, domain.ErrResponseNotPending):
		writeError(w, http.StatusConflict, "response is not awaiting a decision")
	case errors.Is(err, domain.ErrResponseNotApproved):
		writeError(w, http.StatusConflict, "response is not approved")
	default:
		log.Error().Err(err).Str("op", op).Msg("api: операция над ответом")
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

func pageParams(r *http.Request, defaultLimit int) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = defaultLimit
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
