package domain

import (
	"context"
	"time"
)

// FetchBatch — результат одного сбора: треды плюс счётчик некорректных
// записей, изолированных при разборе. Счётчик попадает в итог прогона.
type FetchBatch struct {
	Threads   []RawThread
	Malformed int
}

// Fetcher отвечает за сбор тредов из источника сообщений.
// Единственная точка входа к rate-лимитеру и сессии: другие компоненты
// не имеют прямого доступа к этому состоянию.
type Fetcher interface {
	FetchThreads(ctx context.Context, limit int, unreadOnly bool) (FetchBatch, error)
	SendReply(ctx context.Context, threadID, text string) error
}

// Oracle — подключаемый LLM-оракул извлечения, анализа и черновиков.
type Oracle interface {
	ExtractOpportunity(ctx context.Context, transcript string) (Extraction, error)
	AnalyzeFollowUp(ctx context.Context, transcript string) (FollowUpAnalysis, error)
	DraftReply(ctx context.Context, opp Opportunity, transcript string) (string, error)
}

// Extraction — полный ответ оракула по транскрипту.
type Extraction struct {
	State         ConversationState `json:"conversation_state"`
	Fields        Extracted         `json:"fields"`
	WorkWeek      WorkWeekStatus    `json:"work_week"`
	CourtesyClose bool              `json:"courtesy_close"`
}

// OpportunityFilter — фильтр листинга возможностей.
type OpportunityFilter struct {
	Status  OpportunityStatus
	Tier    Tier
	Outcome ProcessingOutcome
}

// OpportunityRepo управляет записями возможностей.
type OpportunityRepo interface {
	// CreateIfAbsent создаёт запись по ключу дедупликации. Если запись с таким
	// ключом уже есть, возвращает её и created=false — повторный сбор никогда
	// не создаёт дубликат.
	CreateIfAbsent(ctx context.Context, opp Opportunity) (Opportunity, bool, error)
	GetByID(ctx context.Context, id int64) (Opportunity, error)
	// LatestByThread возвращает последнюю возможность треда для определения follow-up.
	LatestByThread(ctx context.Context, threadID string) (Opportunity, error)
	Update(ctx context.Context, opp Opportunity) error
	List(ctx context.Context, filter OpportunityFilter, limit, offset int) ([]Opportunity, error)
}

// ResponseRepo управляет подготовленными ответами.
type ResponseRepo interface {
	CreateDraft(ctx context.Context, resp PendingResponse) (PendingResponse, error)
	GetByID(ctx context.Context, id int64) (PendingResponse, error)
	GetByOpportunity(ctx context.Context, opportunityID int64) (PendingResponse, error)
	Update(ctx context.Context, resp PendingResponse) error
	ListByStatus(ctx context.Context, status ResponseStatus, limit, offset int) ([]PendingResponse, error)
	SaveFeedback(ctx context.Context, responseID int64, score int, notes string) error
}

// SessionRepo хранит опаковый блоб учётных данных сессии. Переживает рестарты.
type SessionRepo interface {
	LoadSession(ctx context.Context, name string) (SessionBlob, error)
	StoreSession(ctx context.Context, name string, data []byte) error
	MarkSessionValidated(ctx context.Context, name string, at time.Time) error
	DropSession(ctx context.Context, name string) error
}

// Cache используется для мемоизации результатов оракула и простых TTL-замков.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Notifier отправляет сводку возможности оператору.
type Notifier interface {
	NotifyOpportunity(ctx context.Context, opp Opportunity) error
}

// ProgressFn — колбэк прогресса конвейера. Вызывается из блокирующего прогона,
// мост перекладывает события потребителю с сохранением порядка.
type ProgressFn func(event Event)
