package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Intake   string `envconfig:"INTAKE_QUEUE_KEY" default:"intake_jobs"`
		Delivery string `envconfig:"DELIVERY_QUEUE_KEY" default:"delivery_jobs"`
	} `envconfig:""`

	LinkedIn struct {
		BaseURL      string        `envconfig:"LINKEDIN_BASE_URL" default:"https://www.linkedin.com"`
		Username     string        `envconfig:"LINKEDIN_USERNAME"`
		Password     string        `envconfig:"LINKEDIN_PASSWORD"`
		SessionName  string        `envconfig:"LINKEDIN_SESSION_NAME" default:"default"`
		Timeout      time.Duration `envconfig:"LINKEDIN_TIMEOUT" default:"30s"`
		RateWindow   time.Duration `envconfig:"LINKEDIN_RATE_WINDOW" default:"1m"`
		RateLimit    int           `envconfig:"LINKEDIN_RATE_LIMIT" default:"10"`
		Cooldown     time.Duration `envconfig:"LINKEDIN_COOLDOWN" default:"5m"`
		PageSize     int           `envconfig:"LINKEDIN_PAGE_SIZE" default:"10"`
		MaxRetries   int           `envconfig:"LINKEDIN_MAX_RETRIES" default:"3"`
		RetryBackoff time.Duration `envconfig:"LINKEDIN_RETRY_BACKOFF" default:"5s"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	// Profile — предпочтения кандидата, против которых считаются оценки.
	Profile struct {
		TechStack      []string `envconfig:"PROFILE_TECH_STACK" default:"go,python,postgresql,kubernetes"`
		Seniority      string   `envconfig:"PROFILE_SENIORITY" default:"senior"`
		SalaryFloor    int      `envconfig:"PROFILE_SALARY_FLOOR" default:"120000"`
		SalaryTarget   int      `envconfig:"PROFILE_SALARY_TARGET" default:"170000"`
		Currency       string   `envconfig:"PROFILE_CURRENCY" default:"USD"`
		RemoteRequired bool     `envconfig:"PROFILE_REMOTE_REQUIRED" default:"false"`
		TopCompanies   []string `envconfig:"PROFILE_TOP_COMPANIES"`
		AvoidCompanies []string `envconfig:"PROFILE_AVOID_COMPANIES"`
		SixDayWeekOK   bool     `envconfig:"PROFILE_SIX_DAY_WEEK_OK" default:"false"`
	} `envconfig:""`

	// Scoring — веса измерений и границы тиров. Политика, не алгоритм:
	// меняется конфигом без пересборки.
	Scoring struct {
		TechWeight          int           `envconfig:"SCORING_TECH_WEIGHT" default:"35"`
		SalaryWeight        int           `envconfig:"SCORING_SALARY_WEIGHT" default:"30"`
		SeniorityWeight     int           `envconfig:"SCORING_SENIORITY_WEIGHT" default:"20"`
		CompanyWeight       int           `envconfig:"SCORING_COMPANY_WEIGHT" default:"15"`
		TierTopMin          int           `envconfig:"SCORING_TIER_TOP_MIN" default:"80"`
		TierHighMin         int           `envconfig:"SCORING_TIER_HIGH_MIN" default:"60"`
		TierMediumMin       int           `envconfig:"SCORING_TIER_MEDIUM_MIN" default:"40"`
		FilterPenalty       int           `envconfig:"SCORING_FILTER_PENALTY" default:"25"`
		ConfidenceThreshold float64       `envconfig:"SCORING_CONFIDENCE_THRESHOLD" default:"0.5"`
		OracleCacheTTL      time.Duration `envconfig:"SCORING_ORACLE_CACHE_TTL" default:"24h"`
		PromptVersion       string        `envconfig:"SCORING_PROMPT_VERSION" default:"v3"`
	} `envconfig:""`

	Intake struct {
		TranscriptWindow int           `envconfig:"INTAKE_TRANSCRIPT_WINDOW" default:"20"`
		DefaultLimit     int           `envconfig:"INTAKE_DEFAULT_LIMIT" default:"25"`
		PollInterval     time.Duration `envconfig:"INTAKE_POLL_INTERVAL" default:"30m"`
	} `envconfig:""`

	Responses struct {
		MaxSendAttempts int `envconfig:"RESPONSES_MAX_SEND_ATTEMPTS" default:"3"`
	} `envconfig:""`

	Notify struct {
		TelegramToken string `envconfig:"NOTIFY_TG_BOT_TOKEN"`
		ChatID        int64  `envconfig:"NOTIFY_TG_CHAT_ID"`
		MinScore      int    `envconfig:"NOTIFY_MIN_SCORE" default:"60"`
		MinTier       string `envconfig:"NOTIFY_MIN_TIER" default:"high"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
