package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recruiter-inbox/internal/domain"
	"recruiter-inbox/internal/infra/metrics"
)

// Postgres объединяет все репозитории поверх одного пула. Каждый порт
// реализован отдельным типом: имена методов портов пересекаются.
type Postgres struct {
	pool *pgxpool.Pool

	Opportunities *OpportunityStore
	Responses     *ResponseStore
	Sessions      *SessionStore
	Jobs          *JobStore
}

var (
	_ domain.OpportunityRepo = (*OpportunityStore)(nil)
	_ domain.ResponseRepo    = (*ResponseStore)(nil)
	_ domain.SessionRepo     = (*SessionStore)(nil)
	_ domain.JobStatusRepo   = (*JobStore)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	p := &Postgres{pool: pool}
	p.Opportunities = &OpportunityStore{p: p}
	p.Responses = &ResponseStore{p: p}
	p.Sessions = &SessionStore{p: p}
	p.Jobs = &JobStore{p: p}
	return p
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// OpportunityStore реализует domain.OpportunityRepo.
type OpportunityStore struct {
	p *Postgres
}

const opportunityColumns = `id, dedup_key, thread_id, recruiter_name, recruiter_url, raw_message,
extracted, scores, total_score, tier, status, conversation_state, outcome,
requires_manual_review, manual_review_reason, hard_filter, follow_up, created_at, updated_at`

type scannableRow interface {
	Scan(dest ...any) error
}

func scanOpportunity(row scannableRow) (domain.Opportunity, error) {
	var (
		opp       domain.Opportunity
		extracted []byte
		scores    []byte
		filter    []byte
		followUp  []byte
	)
	err := row.Scan(&opp.ID, &opp.DedupKey, &opp.ThreadID, &opp.RecruiterName, &opp.RecruiterURL, &opp.RawMessage,
		&extracted, &scores, &opp.TotalScore, &opp.Tier, &opp.Status, &opp.ConversationState, &opp.Outcome,
		&opp.RequiresManualReview, &opp.ManualReviewReason, &filter, &followUp, &opp.CreatedAt, &opp.UpdatedAt)
	if err != nil {
		return domain.Opportunity{}, err
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &opp.Extracted); err != nil {
			return domain.Opportunity{}, fmt.Errorf("распаковка extracted: %w", err)
		}
	}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &opp.Scores); err != nil {
			return domain.Opportunity{}, fmt.Errorf("распаковка scores: %w", err)
		}
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &opp.HardFilter); err != nil {
			return domain.Opportunity{}, fmt.Errorf("распаковка hard_filter: %w", err)
		}
	}
	if len(followUp) > 0 {
		var analysis domain.FollowUpAnalysis
		if err := json.Unmarshal(followUp, &analysis); err != nil {
			return domain.Opportunity{}, fmt.Errorf("распаковка follow_up: %w", err)
		}
		opp.FollowUp = &analysis
	}
	return opp, nil
}

func marshalOpportunity(opp domain.Opportunity) (extracted, scores, filter, followUp []byte, err error) {
	if extracted, err = json.Marshal(opp.Extracted); err != nil {
		return nil, nil, nil, nil, err
	}
	if scores, err = json.Marshal(opp.Scores); err != nil {
		return nil, nil, nil, nil, err
	}
	if filter, err = json.Marshal(opp.HardFilter); err != nil {
		return nil, nil, nil, nil, err
	}
	if opp.FollowUp != nil {
		if followUp, err = json.Marshal(opp.FollowUp); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return extracted, scores, filter, followUp, nil
}

// CreateIfAbsent вставляет возможность по ключу дедупликации. При конфликте
// возвращает существующую запись и created=false: повторный сбор того же
// сообщения никогда не порождает дубликат.
func (s *OpportunityStore) CreateIfAbsent(ctx context.Context, opp domain.Opportunity) (domain.Opportunity, bool, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	extracted, scores, filter, followUp, err := marshalOpportunity(opp)
	if err != nil {
		return domain.Opportunity{}, false, err
	}

	start := time.Now()
	row := s.p.pool.QueryRow(ctx, `
INSERT INTO opportunities (dedup_key, thread_id, recruiter_name, recruiter_url, raw_message,
    extracted, scores, total_score, tier, status, conversation_state, outcome,
    requires_manual_review, manual_review_reason, hard_filter, follow_up)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (dedup_key) DO NOTHING
RETURNING `+opportunityColumns,
		opp.DedupKey, opp.ThreadID, opp.RecruiterName, opp.RecruiterURL, opp.RawMessage,
		extracted, scores, opp.TotalScore, opp.Tier, opp.Status, opp.ConversationState, opp.Outcome,
		opp.RequiresManualReview, opp.ManualReviewReason, filter, followUp)
	created, err := scanOpportunity(row)
	metrics.ObserveNetworkRequest("postgres", "opportunities_create_if_absent", "opportunities", start, err)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Opportunity{}, false, err
	}

	existing, err := s.getByDedupKey(ctx, opp.DedupKey)
	if err != nil {
		return domain.Opportunity{}, false, err
	}
	return existing, false, nil
}

func (s *OpportunityStore) getByDedupKey(ctx context.Context, dedupKey string) (domain.Opportunity, error) {
	start := time.Now()
	row := s.p.pool.QueryRow(ctx, `SELECT `+opportunityColumns+` FROM opportunities WHERE dedup_key=$1`, dedupKey)
	opp, err := scanOpportunity(row)
	metrics.ObserveNetworkRequest("postgres", "opportunities_get_by_dedup_key", "opportunities", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Opportunity{}, domain.ErrOpportunityNotFound
	}
	return opp, err
}

// GetByID возвращает возможность по идентификатору.
func (s *OpportunityStore) GetByID(ctx context.Context, id int64) (domain.Opportunity, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := s.p.pool.QueryRow(ctx, `SELECT `+opportunityColumns+` FROM opportunities WHERE id=$1`, id)
	opp, err := scanOpportunity(row)
	metrics.ObserveNetworkRequest("postgres", "opportunities_get_by_id", "opportunities", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Opportunity{}, domain.ErrOpportunityNotFound
	}
	return opp, err
}

// LatestByThread возвращает последнюю по времени возможность треда.
func (s *OpportunityStore) LatestByThread(ctx context.Context, threadID string) (domain.Opportunity, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := s.p.pool.QueryRow(ctx, `
SELECT `+opportunityColumns+`
FROM opportunities WHERE thread_id=$1
ORDER BY created_at DESC
LIMIT 1
`, threadID)
	opp, err := scanOpportunity(row)
	metrics.ObserveNetworkRequest("postgres", "opportunities_latest_by_thread", "opportunities", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Opportunity{}, domain.ErrOpportunityNotFound
	}
	return opp, err
}

// Update перезаписывает изменяемые поля возможности. Идентификационные поля
// (dedup_key, thread_id) не меняются.
func (s *OpportunityStore) Update(ctx context.Context, opp domain.Opportunity) error {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	extracted, scores, filter, followUp, err := marshalOpportunity(opp)
	if err != nil {
		return err
	}

	start := time.Now()
	tag, err := s.p.pool.Exec(ctx, `
UPDATE opportunities
SET recruiter_name=$2, recruiter_url=$3, raw_message=$4,
    extracted=$5, scores=$6, total_score=$7, tier=$8, status=$9,
    conversation_state=$10, outcome=$11, requires_manual_review=$12,
    manual_review_reason=$13, hard_filter=$14, follow_up=$15, updated_at=now()
WHERE id=$1
`, opp.ID, opp.RecruiterName, opp.RecruiterURL, opp.RawMessage,
		extracted, scores, opp.TotalScore, opp.Tier, opp.Status,
		opp.ConversationState, opp.Outcome, opp.RequiresManualReview,
		opp.ManualReviewReason, filter, followUp)
	metrics.ObserveNetworkRequest("postgres", "opportunities_update", "opportunities", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOpportunityNotFound
	}
	return nil
}

// List возвращает возможности по фильтру, свежие первыми.
func (s *OpportunityStore) List(ctx context.Context, filter domain.OpportunityFilter, limit, offset int) ([]domain.Opportunity, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + opportunityColumns + ` FROM opportunities WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if filter.Tier != "" {
		args = append(args, filter.Tier)
		query += fmt.Sprintf(" AND tier=$%d", len(args))
	}
	if filter.Outcome != "" {
		args = append(args, filter.Outcome)
		query += fmt.Sprintf(" AND outcome=$%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	start := time.Now()
	rows, err := s.p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "opportunities_list", "opportunities", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opportunities []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		opportunities = append(opportunities, opp)
	}
	return opportunities, rows.Err()
}

// ResponseStore реализует domain.ResponseRepo.
type ResponseStore struct {
	p *Postgres
}

const responseColumns = `id, opportunity_id, draft_text, edited_text, final_text, status,
pending_at, approved_at, declined_at, sent_at, failed_at, error_message,
send_attempts, feedback_score, feedback_notes`

func scanResponse(row scannableRow) (domain.PendingResponse, error) {
	var (
		resp     domain.PendingResponse
		approved sql.NullTime
		declined sql.NullTime
		sent     sql.NullTime
		failed   sql.NullTime
		score    sql.NullInt32
	)
	err := row.Scan(&resp.ID, &resp.OpportunityID, &resp.DraftText, &resp.EditedText, &resp.FinalText, &resp.Status,
		&resp.PendingAt, &approved, &declined, &sent, &failed, &resp.ErrorMessage,
		&resp.SendAttempts, &score, &resp.FeedbackNotes)
	if err != nil {
		return domain.PendingResponse{}, err
	}
	if approved.Valid {
		ts := approved.Time
		resp.ApprovedAt = &ts
	}
	if declined.Valid {
		ts := declined.Time
		resp.DeclinedAt = &ts
	}
	if sent.Valid {
		ts := sent.Time
		resp.SentAt = &ts
	}
	if failed.Valid {
		ts := failed.Time
		resp.FailedAt = &ts
	}
	if score.Valid {
		v := int(score.Int32)
		resp.FeedbackScore = &v
	}
	return resp, nil
}

// CreateDraft сохраняет черновик ответа. На возможность допускается один
// черновик: повторная вставка возвращает существующий.
func (s *ResponseStore) CreateDraft(ctx context.Context, resp domain.PendingResponse) (domain.PendingResponse, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	if resp.Status == "" {
		resp.Status = domain.ResponseStatusPending
	}
	if resp.PendingAt.IsZero() {
		resp.PendingAt = time.Now().UTC()
	}

	start := time.Now()
	row := s.p.pool.QueryRow(ctx, `
INSERT INTO responses (opportunity_id, draft_text, status, pending_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (opportunity_id) DO NOTHING
RETURNING `+responseColumns, resp.OpportunityID, resp.DraftText, resp.Status, resp.PendingAt)
	created, err := scanResponse(row)
	metrics.ObserveNetworkRequest("postgres", "responses_create_draft", "responses", start, err)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingResponse{}, err
	}
	return s.GetByOpportunity(ctx, resp.OpportunityID)
}

// GetByID возвращает ответ по идентификатору.
func (s *ResponseStore) GetByID(ctx context.Context, id int64) (domain.PendingResponse, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := s.p.pool.QueryRow(ctx, `SELECT `+responseColumns+` FROM responses WHERE id=$1`, id)
	resp, err := scanResponse(row)
	metrics.ObserveNetworkRequest("postgres", "responses_get_by_id", "responses", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingResponse{}, domain.ErrResponseNotFound
	}
	return resp, err
}

// GetByOpportunity возвращает ответ по возможности.
func (s *ResponseStore) GetByOpportunity(ctx context.Context, opportunityID int64) (domain.PendingResponse, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := s.p.pool.QueryRow(ctx, `SELECT `+responseColumns+` FROM responses WHERE opportunity_id=$1`, opportunityID)
	resp, err := scanResponse(row)
	metrics.ObserveNetworkRequest("postgres", "responses_get_by_opportunity", "responses", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingResponse{}, domain.ErrResponseNotFound
	}
	return resp, err
}

// Update перезаписывает изменяемые поля ответа.
func (s *ResponseStore) Update(ctx context.Context, resp domain.PendingResponse) error {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	var score sql.NullInt32
	if resp.FeedbackScore != nil {
		score = sql.NullInt32{Int32: int32(*resp.FeedbackScore), Valid: true}
	}

	start := time.Now()
	tag, err := s.p.pool.Exec(ctx, `
UPDATE responses
SET draft_text=$2, edited_text=$3, final_text=$4, status=$5,
    approved_at=$6, declined_at=$7, sent_at=$8, failed_at=$9,
    error_message=$10, send_attempts=$11, feedback_score=$12, feedback_notes=$13
WHERE id=$1
`, resp.ID, resp.DraftText, resp.EditedText, resp.FinalText, resp.Status,
		resp.ApprovedAt, resp.DeclinedAt, resp.SentAt, resp.FailedAt,
		resp.ErrorMessage, resp.SendAttempts, score, resp.FeedbackNotes)
	metrics.ObserveNetworkRequest("postgres", "responses_update", "responses", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResponseNotFound
	}
	return nil
}

// ListByStatus возвращает ответы в заданном статусе, старые первыми.
func (s *ResponseStore) ListByStatus(ctx context.Context, status domain.ResponseStatus, limit, offset int) ([]domain.PendingResponse, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	start := time.Now()
	rows, err := s.p.pool.Query(ctx, `
SELECT `+responseColumns+`
FROM responses WHERE status=$1
ORDER BY pending_at ASC
LIMIT $2 OFFSET $3
`, status, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "responses_list_by_status", "responses", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []domain.PendingResponse
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

// SaveFeedback сохраняет оценку качества черновика.
func (s *ResponseStore) SaveFeedback(ctx context.Context, responseID int64, score int, notes string) error {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := s.p.pool.Exec(ctx, `
UPDATE responses SET feedback_score=$2, feedback_notes=$3 WHERE id=$1
`, responseID, score, notes)
	metrics.ObserveNetworkRequest("postgres", "responses_save_feedback", "responses", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrResponseNotFound
	}
	return nil
}

// SessionStore реализует domain.SessionRepo.
type SessionStore struct {
	p *Postgres
}

// LoadSession загружает персистентный блоб сессии.
func (s *SessionStore) LoadSession(ctx context.Context, name string) (domain.SessionBlob, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	var (
		blob      domain.SessionBlob
		validated sql.NullTime
	)
	start := time.Now()
	err := s.p.pool.QueryRow(ctx, `
SELECT name, data, validated_at, updated_at FROM linkedin_sessions WHERE name=$1
`, name).Scan(&blob.Name, &blob.Data, &validated, &blob.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "linkedin_sessions_load", "linkedin_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionBlob{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.SessionBlob{}, err
	}
	if validated.Valid {
		ts := validated.Time
		blob.ValidatedAt = &ts
	}
	clone := make([]byte, len(blob.Data))
	copy(clone, blob.Data)
	blob.Data = clone
	return blob, nil
}

// StoreSession сохраняет блоб сессии.
func (s *SessionStore) StoreSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	tmp := make([]byte, len(data))
	copy(tmp, data)

	start := time.Now()
	_, err := s.p.pool.Exec(ctx, `
INSERT INTO linkedin_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, tmp)
	metrics.ObserveNetworkRequest("postgres", "linkedin_sessions_store", "linkedin_sessions", start, err)
	return err
}

// MarkSessionValidated фиксирует момент успешной проверки сессии.
func (s *SessionStore) MarkSessionValidated(ctx context.Context, name string, at time.Time) error {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	start := time.Now()
	_, err := s.p.pool.Exec(ctx, `
UPDATE linkedin_sessions SET validated_at=$2, updated_at=now() WHERE name=$1
`, name, at)
	metrics.ObserveNetworkRequest("postgres", "linkedin_sessions_mark_validated", "linkedin_sessions", start, err)
	return err
}

// DropSession удаляет блоб сессии.
func (s *SessionStore) DropSession(ctx context.Context, name string) error {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	start := time.Now()
	_, err := s.p.pool.Exec(ctx, `DELETE FROM linkedin_sessions WHERE name=$1`, name)
	metrics.ObserveNetworkRequest("postgres", "linkedin_sessions_drop", "linkedin_sessions", start, err)
	return err
}

// JobStore реализует domain.JobStatusRepo.
type JobStore struct {
	p *Postgres
}

// EnsureJob регистрирует попытку обработки задачи. Возвращает признак
// завершённости и номер текущей попытки.
func (s *JobStore) EnsureJob(ctx context.Context, jobID string) (bool, int, error) {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	var (
		done     sql.NullTime
		attempts int
	)
	start := time.Now()
	err := s.p.pool.QueryRow(ctx, `
INSERT INTO job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = job_statuses.attempts + 1,
        updated_at = now()
RETURNING done_at, attempts
`, jobID).Scan(&done, &attempts)
	metrics.ObserveNetworkRequest("postgres", "job_statuses_upsert", "job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}
	return done.Valid, attempts, nil
}

// MarkJobDone помечает задачу как завершённую.
func (s *JobStore) MarkJobDone(ctx context.Context, jobID string) error {
	ctx, cancel := s.p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := s.p.pool.Exec(ctx, `
UPDATE job_statuses
SET done_at = COALESCE(done_at, now()),
    updated_at = now()
WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "job_statuses_mark_done", "job_statuses", start, err)
	return err
}
