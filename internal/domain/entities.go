package domain

import (
	"strings"
	"time"
)

// ValueUnknown — явный сентинел для полей, которые оракул не смог извлечь.
// Наружу никогда не уходит пустая строка или "N/A".
const ValueUnknown = "unknown"

// ConversationState описывает состояние переписки с рекрутером.
type ConversationState string

const (
	// StateNewOpportunity — первое содержательное сообщение в треде.
	StateNewOpportunity ConversationState = "new_opportunity"
	// StateFollowUp — в треде уже есть возможность и пришло новое входящее.
	StateFollowUp ConversationState = "follow_up"
	// StateCourtesyClose — вежливое закрытие без нового вопроса.
	StateCourtesyClose ConversationState = "courtesy_close"
)

// OpportunityStatus описывает жизненный цикл записи возможности.
type OpportunityStatus string

const (
	OpportunityStatusNew        OpportunityStatus = "new"
	OpportunityStatusProcessing OpportunityStatus = "processing"
	OpportunityStatusProcessed  OpportunityStatus = "processed"
	OpportunityStatusError      OpportunityStatus = "error"
	OpportunityStatusArchived   OpportunityStatus = "archived"
)

// ProcessingOutcome описывает решение движка по возможности.
type ProcessingOutcome string

const (
	OutcomeAutoResponse ProcessingOutcome = "auto_response"
	OutcomeAutoDecline  ProcessingOutcome = "auto_decline"
	OutcomeManualReview ProcessingOutcome = "manual_review"
	OutcomeNoAction     ProcessingOutcome = "no_action"
)

// Tier — упорядоченная категория приоритета возможности.
type Tier string

const (
	TierTop    Tier = "top"
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// TierRank возвращает числовой ранг тира (больше — приоритетнее).
func TierRank(t Tier) int {
	switch t {
	case TierTop:
		return 4
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	}
	return 0
}

// WorkWeekStatus описывает результат проверки графика работы.
type WorkWeekStatus string

const (
	WorkWeekConfirmed    WorkWeekStatus = "confirmed"
	WorkWeekNotMentioned WorkWeekStatus = "not_mentioned"
	WorkWeekFiveDay      WorkWeekStatus = "five_day"
	WorkWeekUnknown      WorkWeekStatus = "unknown"
	WorkWeekSkipped      WorkWeekStatus = "skipped"
)

// QuestionType — тип вопроса рекрутера в follow-up сообщении.
type QuestionType string

const (
	QuestionSalary       QuestionType = "salary"
	QuestionAvailability QuestionType = "availability"
	QuestionExperience   QuestionType = "experience"
	QuestionInterest     QuestionType = "interest"
	QuestionScheduling   QuestionType = "scheduling"
	QuestionTechStack    QuestionType = "tech_stack"
	QuestionNone         QuestionType = "none"
	QuestionOther        QuestionType = "other"
)

// ParseQuestionType приводит сырой ответ оракула к известному типу вопроса.
func ParseQuestionType(raw string) QuestionType {
	switch QuestionType(strings.ToLower(strings.TrimSpace(raw))) {
	case QuestionSalary, QuestionAvailability, QuestionExperience, QuestionInterest,
		QuestionScheduling, QuestionTechStack, QuestionNone:
		return QuestionType(strings.ToLower(strings.TrimSpace(raw)))
	}
	return QuestionOther
}

// RawMessage — одно сообщение треда как его вернул источник.
type RawMessage struct {
	SenderName string
	Inbound    bool
	Text       string
	SentAt     time.Time
}

// RawThread — сырой тред переписки из слоя сбора.
type RawThread struct {
	ThreadID      string
	RecruiterName string
	RecruiterURL  string
	Unread        bool
	Messages      []RawMessage
}

// LastInbound возвращает последнее входящее сообщение треда.
func (t RawThread) LastInbound() (RawMessage, bool) {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Inbound {
			return t.Messages[i], true
		}
	}
	return RawMessage{}, false
}

// Extracted — поля, извлечённые оракулом из транскрипта.
// Строковые поля после Normalize никогда не бывают пустыми.
type Extracted struct {
	Company      string   `json:"company"`
	Role         string   `json:"role"`
	Seniority    string   `json:"seniority"`
	TechStack    []string `json:"tech_stack"`
	SalaryMin    int      `json:"salary_min"`
	SalaryMax    int      `json:"salary_max"`
	Currency     string   `json:"currency"`
	RemotePolicy string   `json:"remote_policy"`
	Location     string   `json:"location"`
	Confidence   float64  `json:"confidence"`
}

// Normalize приводит отсутствующие извлечённые поля к явному сентинелу,
// чтобы ниже по конвейеру не оказалось сырых пустых значений.
func (e Extracted) Normalize() Extracted {
	e.Company = normalizeValue(e.Company)
	e.Role = normalizeValue(e.Role)
	e.Seniority = normalizeValue(e.Seniority)
	e.Currency = normalizeValue(e.Currency)
	e.RemotePolicy = normalizeValue(e.RemotePolicy)
	e.Location = normalizeValue(e.Location)
	stack := make([]string, 0, len(e.TechStack))
	for _, item := range e.TechStack {
		if v := normalizeValue(item); v != ValueUnknown {
			stack = append(stack, v)
		}
	}
	e.TechStack = stack
	if e.SalaryMin < 0 {
		e.SalaryMin = 0
	}
	if e.SalaryMax < e.SalaryMin {
		e.SalaryMax = e.SalaryMin
	}
	if e.Confidence < 0 {
		e.Confidence = 0
	}
	if e.Confidence > 1 {
		e.Confidence = 1
	}
	return e
}

func normalizeValue(v string) string {
	trimmed := strings.TrimSpace(v)
	switch strings.ToLower(trimmed) {
	case "", "n/a", "na", "none", "null", "nil", "unknown", "not specified", "not mentioned", "-":
		return ValueUnknown
	}
	return trimmed
}

// DimensionScore — оценка по одному измерению с обоснованием.
type DimensionScore struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// ScoreBreakdown — четыре измерения оценки возможности.
type ScoreBreakdown struct {
	TechStack DimensionScore `json:"tech_stack"`
	Salary    DimensionScore `json:"salary"`
	Seniority DimensionScore `json:"seniority"`
	Company   DimensionScore `json:"company"`
}

// HardFilterResult — результат прогона жёстких фильтров.
type HardFilterResult struct {
	Passed        bool           `json:"passed"`
	FailedFilters []string       `json:"failed_filters"`
	ScorePenalty  int            `json:"score_penalty"`
	ShouldDecline bool           `json:"should_decline"`
	WorkWeek      WorkWeekStatus `json:"work_week"`
}

// FollowUpAnalysis — анализ follow-up вопроса рекрутера.
type FollowUpAnalysis struct {
	QuestionType    QuestionType `json:"question_type"`
	CanAutoRespond  bool         `json:"can_auto_respond"`
	RequiresContext bool         `json:"requires_context"`
	SuggestedReply  string       `json:"suggested_reply"`
}

// Opportunity — долговечная единица работы движка.
type Opportunity struct {
	ID                   int64
	DedupKey             string
	ThreadID             string
	RecruiterName        string
	RecruiterURL         string
	RawMessage           string
	Extracted            Extracted
	Scores               ScoreBreakdown
	TotalScore           int
	Tier                 Tier
	Status               OpportunityStatus
	ConversationState    ConversationState
	Outcome              ProcessingOutcome
	RequiresManualReview bool
	ManualReviewReason   string
	HardFilter           HardFilterResult
	FollowUp             *FollowUpAnalysis
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ResponseStatus описывает статус подготовленного ответа.
type ResponseStatus string

const (
	ResponseStatusPending  ResponseStatus = "pending"
	ResponseStatusApproved ResponseStatus = "approved"
	ResponseStatusDeclined ResponseStatus = "declined"
	ResponseStatusSent     ResponseStatus = "sent"
	ResponseStatusFailed   ResponseStatus = "failed"
)

// Terminal сообщает, допускает ли статус дальнейшие переходы.
// failed не терминален: до исчерпания лимита попыток ответ можно согласовать повторно.
func (s ResponseStatus) Terminal() bool {
	return s == ResponseStatusSent || s == ResponseStatusDeclined
}

// PendingResponse — подготовленный ответ, один на возможность.
type PendingResponse struct {
	ID            int64
	OpportunityID int64
	DraftText     string
	EditedText    string
	FinalText     string
	Status        ResponseStatus
	PendingAt     time.Time
	ApprovedAt    *time.Time
	DeclinedAt    *time.Time
	SentAt        *time.Time
	FailedAt      *time.Time
	ErrorMessage  string
	SendAttempts  int
	FeedbackScore *int
	FeedbackNotes string
}

// OutgoingText возвращает текст, который должен уйти рекрутеру.
func (r PendingResponse) OutgoingText() string {
	if strings.TrimSpace(r.EditedText) != "" {
		return r.EditedText
	}
	return r.DraftText
}

// SessionBlob — персистентные учётные данные сессии источника.
type SessionBlob struct {
	Name        string
	Data        []byte
	ValidatedAt *time.Time
	UpdatedAt   time.Time
}
