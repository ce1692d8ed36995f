package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	IntakeRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_runs_total",
		Help: "Количество прогонов конвейера по причинам",
	}, []string{"cause"})

	IntakeRunSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "intake_run_seconds",
		Help:    "Длительность прогона конвейера",
		Buckets: prometheus.DefBuckets,
	})

	OpportunitiesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opportunities_created_total",
		Help: "Созданные записи возможностей по тирам",
	}, []string{"tier"})

	OpportunitiesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opportunities_skipped_total",
		Help: "Пропущенные записи по причинам (duplicate, malformed, oracle_error)",
	}, []string{"reason"})

	RateLimiterWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limiter_waits_total",
		Help: "Количество задержек на rate-лимитере слоя сбора",
	})

	RateLimiterWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rate_limiter_wait_seconds",
		Help:    "Длительность ожидания окна rate-лимитера",
		Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	SessionLogins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_logins_total",
		Help: "Логины в источник по исходу (cached, fresh, failed)",
	}, []string{"outcome"})

	ResponseSendAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "response_send_attempts_total",
		Help: "Попытки отправки ответов по исходу",
	}, []string{"outcome"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	OracleCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_cache_total",
		Help: "Попадания и промахи кэша оракула",
	}, []string{"result"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		IntakeRunsTotal,
		IntakeRunSeconds,
		OpportunitiesCreated,
		OpportunitiesSkipped,
		RateLimiterWaits,
		RateLimiterWaitSeconds,
		SessionLogins,
		ResponseSendAttempts,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		OracleCacheHits,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveRateLimiterWait записывает задержку на rate-лимитере.
func ObserveRateLimiterWait(waited time.Duration) {
	if waited <= 0 {
		return
	}
	RateLimiterWaits.Inc()
	RateLimiterWaitSeconds.Observe(waited.Seconds())
}
