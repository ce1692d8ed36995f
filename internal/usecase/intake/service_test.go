package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"recruiter-inbox/internal/domain"
)

type stubFetcher struct {
	threads   []domain.RawThread
	malformed int
	errs      []error
	calls     int
	sendErrs  map[string]error
}

func (f *stubFetcher) FetchThreads(_ context.Context, _ int, _ bool) (domain.FetchBatch, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.FetchBatch{}, err
		}
	}
	return domain.FetchBatch{Threads: f.threads, Malformed: f.malformed}, nil
}

func (f *stubFetcher) SendReply(_ context.Context, threadID, _ string) error {
	if f.sendErrs != nil {
		return f.sendErrs[threadID]
	}
	return nil
}

type stubOracle struct {
	extraction  domain.Extraction
	extractErr  error
	followUp    domain.FollowUpAnalysis
	followUpErr error
	draft       string
	draftErr    error
}

func (o *stubOracle) ExtractOpportunity(_ context.Context, _ string) (domain.Extraction, error) {
	if o.extractErr != nil {
		return domain.Extraction{}, o.extractErr
	}
	return o.extraction, nil
}

func (o *stubOracle) AnalyzeFollowUp(_ context.Context, _ string) (domain.FollowUpAnalysis, error) {
	if o.followUpErr != nil {
		return domain.FollowUpAnalysis{}, o.followUpErr
	}
	return o.followUp, nil
}

func (o *stubOracle) DraftReply(_ context.Context, _ domain.Opportunity, _ string) (string, error) {
	if o.draftErr != nil {
		return "", o.draftErr
	}
	if o.draft == "" {
		return "draft", nil
	}
	return o.draft, nil
}

type memOppRepo struct {
	mu     sync.Mutex
	nextID int64
	byKey  map[string]domain.Opportunity
}

func newMemOppRepo() *memOppRepo {
	return &memOppRepo{byKey: map[string]domain.Opportunity{}}
}

func (r *memOppRepo) CreateIfAbsent(_ context.Context, opp domain.Opportunity) (domain.Opportunity, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byKey[opp.DedupKey]; ok {
		return existing, false, nil
	}
	r.nextID++
	opp.ID = r.nextID
	opp.CreatedAt = time.Now()
	r.byKey[opp.DedupKey] = opp
	return opp, true, nil
}

func (r *memOppRepo) GetByID(_ context.Context, id int64) (domain.Opportunity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, opp := range r.byKey {
		if opp.ID == id {
			return opp, nil
		}
	}
	return domain.Opportunity{}, domain.ErrOpportunityNotFound
}

func (r *memOppRepo) LatestByThread(_ context.Context, threadID string) (domain.Opportunity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest domain.Opportunity
	found := false
	for _, opp := range r.byKey {
		if opp.ThreadID == threadID && (!found || opp.CreatedAt.After(latest.CreatedAt)) {
			latest = opp
			found = true
		}
	}
	if !found {
		return domain.Opportunity{}, domain.ErrOpportunityNotFound
	}
	return latest, nil
}

func (r *memOppRepo) Update(_ context.Context, opp domain.Opportunity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, existing := range r.byKey {
		if existing.ID == opp.ID {
			opp.DedupKey = existing.DedupKey
			r.byKey[key] = opp
			return nil
		}
	}
	return domain.ErrOpportunityNotFound
}

func (r *memOppRepo) List(_ context.Context, _ domain.OpportunityFilter, _, _ int) ([]domain.Opportunity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Opportunity
	for _, opp := range r.byKey {
		out = append(out, opp)
	}
	return out, nil
}

type memResponseRepo struct {
	mu     sync.Mutex
	nextID int64
	byOpp  map[int64]domain.PendingResponse
}

func newMemResponseRepo() *memResponseRepo {
	return &memResponseRepo{byOpp: map[int64]domain.PendingResponse{}}
}

func (r *memResponseRepo) CreateDraft(_ context.Context, resp domain.PendingResponse) (domain.PendingResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byOpp[resp.OpportunityID]; ok {
		return existing, nil
	}
	r.nextID++
	resp.ID = r.nextID
	if resp.Status == "" {
		resp.Status = domain.ResponseStatusPending
	}
	r.byOpp[resp.OpportunityID] = resp
	return resp, nil
}

func (r *memResponseRepo) GetByID(_ context.Context, id int64) (domain.PendingResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, resp := range r.byOpp {
		if resp.ID == id {
			return resp, nil
		}
	}
	return domain.PendingResponse{}, domain.ErrResponseNotFound
}

func (r *memResponseRepo) GetByOpportunity(_ context.Context, opportunityID int64) (domain.PendingResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if resp, ok := r.byOpp[opportunityID]; ok {
		return resp, nil
	}
	return domain.PendingResponse{}, domain.ErrResponseNotFound
}

func (r *memResponseRepo) Update(_ context.Context, resp domain.PendingResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for oppID, existing := range r.byOpp {
		if existing.ID == resp.ID {
			r.byOpp[oppID] = resp
			return nil
		}
	}
	return domain.ErrResponseNotFound
}

func (r *memResponseRepo) ListByStatus(_ context.Context, status domain.ResponseStatus, _, _ int) ([]domain.PendingResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingResponse
	for _, resp := range r.byOpp {
		if resp.Status == status {
			out = append(out, resp)
		}
	}
	return out, nil
}

func (r *memResponseRepo) SaveFeedback(_ context.Context, responseID int64, score int, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for oppID, resp := range r.byOpp {
		if resp.ID == responseID {
			resp.FeedbackScore = &score
			resp.FeedbackNotes = notes
			r.byOpp[oppID] = resp
			return nil
		}
	}
	return domain.ErrResponseNotFound
}

type stubNotifier struct {
	mu       sync.Mutex
	notified []int64
}

func (n *stubNotifier) NotifyOpportunity(_ context.Context, opp domain.Opportunity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, opp.ID)
	return nil
}

func goodExtraction() domain.Extraction {
	return domain.Extraction{
		State:    domain.StateNewOpportunity,
		WorkWeek: domain.WorkWeekNotMentioned,
		Fields: domain.Extracted{
			Company:   "Acme",
			Role:      "Senior Go Engineer",
			Seniority: "senior",
			TechStack: []string{"go", "postgresql"},
			SalaryMin: 150000,
			SalaryMax: 180000,
			Currency:  "USD",
			Confidence: 0.9,
		}.Normalize(),
	}
}

func threadWith(id, sender, text string) domain.RawThread {
	return domain.RawThread{
		ThreadID:      id,
		RecruiterName: sender,
		Messages: []domain.RawMessage{
			{SenderName: sender, Inbound: true, Text: text, SentAt: time.Now()},
		},
	}
}

func newTestService(fetcher domain.Fetcher, oracle domain.Oracle, opps domain.OpportunityRepo, responses domain.ResponseRepo, notifier domain.Notifier) *Service {
	svc := NewService(
		fetcher, oracle, opps, responses, notifier,
		NewHardFilters(FilterConfig{Penalty: 25}),
		testScorer(),
		Config{TranscriptWindow: 20, DefaultLimit: 25, MaxFetchRetries: 3, FetchRetryBackoff: time.Millisecond, ConfidenceThreshold: 0.5},
		zerolog.Nop(),
	)
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return svc
}

func TestRunCreatesOpportunityOnce(t *testing.T) {
	fetcher := &stubFetcher{threads: []domain.RawThread{
		threadWith("t1", "Jane Roe", "Senior Go Engineer at Acme, 150-180k USD, remote"),
	}}
	opps := newMemOppRepo()
	responses := newMemResponseRepo()
	notifier := &stubNotifier{}
	svc := newTestService(fetcher, &stubOracle{extraction: goodExtraction()}, opps, responses, notifier)

	summary, err := svc.Run(context.Background(), RunParams{}, nil)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if summary.Created != 1 || summary.Duplicates != 0 || summary.Failed != 0 {
		t.Fatalf("неожиданный итог: %+v", summary)
	}

	// Повторный прогон того же входа никогда не создаёт дубликат.
	summary, err = svc.Run(context.Background(), RunParams{}, nil)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if summary.Created != 0 || summary.Duplicates != 1 {
		t.Fatalf("повторный прогон должен давать дубликат: %+v", summary)
	}
	if len(opps.byKey) != 1 {
		t.Fatalf("в хранилище должна быть одна запись, получено %d", len(opps.byKey))
	}
}

func TestRunCreatedPlusDuplicatesEqualsDistinctKeys(t *testing.T) {
	fetcher := &stubFetcher{threads: []domain.RawThread{
		threadWith("t1", "Jane", "offer one"),
		threadWith("t2", "John", "offer two"),
		threadWith("t3", "Jane", "offer one"), // тот же отправитель и текст — тот же ключ
	}}
	opps := newMemOppRepo()
	svc := newTestService(fetcher, &stubOracle{extraction: goodExtraction()}, opps, newMemResponseRepo(), &stubNotifier{})

	summary, err := svc.Run(context.Background(), RunParams{}, nil)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if summary.Created+summary.Duplicates != 3 {
		t.Fatalf("created+duplicates должно покрывать все ключи: %+v", summary)
	}
	if summary.Created != len(opps.byKey) {
		t.Fatalf("created=%d, в хранилище %d записей", summary.Created, len(opps.byKey))
	}
}

func TestRunSkipsThreadWithoutInbound(t *testing.T) {
	fetcher := &stubFetcher{threads: []domain.RawThread{
		{ThreadID: "t1", RecruiterName: "Jane", Messages: []domain.RawMessage{
			{SenderName: "me", Inbound: false, Text: "my own message"},
		}},
		threadWith("t2", "John", "real offer"),
	}}
	svc := newTestService(fetcher, &stubOracle{extraction: goodExtraction()}, newMemOppRepo(), newMemResponseRepo(), &stubNotifier{})

	summary, err := svc.Run(context.Background(), RunParams{}, nil)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if summary.Skipped != 1 || summary.Created != 1 {
		t.Fatalf("пропуск без входящих: %+v", summary)
	}
}

func TestRunCountsMalformedEntriesAsSkipped(t *testing.T) {
	// Пачка из пяти записей, одна некорректная: она изолируется при сборе,
	// но итог отчитывается за все пять.
	fetcher := &stubFetcher{
		threads: []domain.RawThread{
			threadWith("t1", "Jane", "offer one"),
			threadWith("t2", "John", "offer two"),
			threadWith("t3", "Kate", "offer three"),
			threadWith("t4", "Mike", "offer four"),
		},
		malformed: 1,
	}
	svc := newTestService(fetcher, &stubOracle{extraction: goodExtraction()}, newMemOppRepo(), newMemResponseRepo(), &stubNotifier{})

	summary, err := svc.Run(context.Background(), RunParams{}, nil)
	if err != nil {
		t.Fatalf("некорректная запись не должна валить прогон: %v", err)
	}
	if summary.Processed != 4 {
		t.Fatalf("ожидалось 4 обработанных треда, получено %d", summary.Processed)
	}
	if summary.Skipped != 1 {
		t.Fatalf("некорректная запись должна попадать в skipped, получено %d", summary.Skipped)
	}
	if summary.Created != 4 || summary.Failed != 0 {
		t.Fatalf("неожиданный итог: %+v", summary)
	}
}

func TestRunOracleErrorRoutesToManualReview(t *testing.T) {
	fetcher := &stubFetcher{threads: []domain.RawThread{threadWith("t1", "Jane", "offer")}}
	opps := newMemOppRepo()
	oracle := &stubOracle{extractErr: &domain.OracleError{Err: errors.New("llm down")}}
	svc := newTestService(fetcher, oracle, opps, newMemResponseRepo(), &stubNotifier{})

	summary, err := svc.Run(context.Background(), RunParams{}, nil)
	if err != nil {
		t.Fatalf("сбой оракула не должен валить прогон: %v", err)
	}
	if summary.Created != 1 {
		t.Fatalf("кейс должен записаться: %+v", summary)
	}
	for _, opp := range opps.byKey {
		if !opp.RequiresManualReview || opp.Outcome != domain.OutcomeManualReview {
			t.Fatalf("кейс должен уйти на ручное ревью: %+v", opp)
		}
		if opp.Status != domain.OpportunityStatusError {
			t.Fatalf("ожидался статус error, получено %s", opp.Status)
		}
	}
}

func TestRunForcesFollowUpWhenPriorExists(t *testing.T) {
	opps := newMemOppRepo()
	if _, _, err := opps.CreateIfAbsent(context.Background(), domain.Opportunity{
		DedupKey: "prior", ThreadID: "t1", Status: domain.OpportunityStatusProcessed,
	}); err != nil {
		t.Fatalf("подготовка: %v", err)
	}

	fetcher := &stubFetcher{threads: []domain.RawThread{threadWith("t1", "Jane", "what about salary?")}}
	oracle := &stubOracle{
		extraction: goodExtraction(), // оракул считает это new_opportunity
		followUp:   domain.FollowUpAnalysis{QuestionType: domain.QuestionSalary, CanAutoRespond: true, SuggestedReply: "The range works for me"},
	}
	svc := newTestService(fetcher, oracle, opps, newMemResponseRepo(), &stubNotifier{})

	if _, err := svc.Run(context.Background(), RunParams{}, nil); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	var found bool
	for _, opp := range opps.byKey {
		if opp.DedupKey == "prior" {
			continue
		}
		found = true
		if opp.ConversationState != domain.StateFollowUp {
			t.Fatalf("прежняя возможность треда должна форсировать follow_up, получено %s", opp.ConversationState)
		}
		if opp.Outcome != domain.OutcomeAutoResponse {
			t.Fatalf("автоответный follow-up должен давать auto_response, получено %s", opp.Outcome)
		}
	}
	if !found {
		t.Fatal("новая запись не создана")
	}
}

func TestRunRequiresContextNeverAutoResponds(t *testing.T) {
	opps := newMemOppRepo()
	if _, _, err := opps.CreateIfAbsent(context.Background(), domain.Opportunity{
		DedupKey: "prior", ThreadID: "t1", Status: domain.OpportunityStatusProcessed,
	}); err != nil {
		t.Fatalf("подготовка: %v", err)
	}

	fetcher := &stubFetcher{threads: []domain.RawThread{threadWith("t1", "Jane", "when can you interview?")}}
	oracle := &stubOracle{
		extraction: goodExtraction(),
		followUp:   domain.FollowUpAnalysis{QuestionType: domain.QuestionScheduling, RequiresContext: true},
	}
	svc := newTestService(fetcher, oracle, opps, newMemResponseRepo(), &stubNotifier{})

	if _, err := svc.Run(context.Background(), RunParams{}, nil); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	for _, opp := range opps.byKey {
		if opp.DedupKey == "prior" {
			continue
		}
		if opp.Outcome == domain.OutcomeAutoResponse {
			t.Fatal("requires_context запрещает автоответ")
		}
		if opp.Outcome != domain.OutcomeManualReview || !opp.RequiresManualReview {
			t.Fatalf("кейс должен уйти на ручное ревью: %+v", opp)
		}
	}
}

func TestRunLowConfidenceRoutesToManualReview(t *testing.T) {
	extraction := goodExtraction()
	extraction.Fields.Confidence = 0.2
	fetcher := &stubFetcher{threads: []domain.RawThread{threadWith("t1", "Jane", "vague offer")}}
	opps := newMemOppRepo()
	svc := newTestService(fetcher, &stubOracle{extraction: extraction}, opps, newMemResponseRepo(), &stubNotifier{})

	if _, err := svc.Run(context.Background(), RunParams{}, nil); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	for _, opp := range opps.byKey {
		if opp.Outcome != domain.OutcomeManualReview {
			t.Fatalf("низкая уверенность должна давать manual_review, получено %s", opp.Outcome)
		}
	}
}

func TestRunCourtesyCloseIsNoAction(t *testing.T) {
	extraction := goodExtraction()
	extraction.State = domain.StateCourtesyClose
	fetcher := &stubFetcher{threads: []domain.RawThread{threadWith("t1", "Jane", "thanks, good luck!")}}
	opps := newMemOppRepo()
	responses := newMemResponseRepo()
	svc := newTestService(fetcher, &stubOracle{extraction: extraction}, opps, responses, &stubNotifier{})

	if _, err := svc.Run(context.Background(), RunParams{}, nil); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	for _, opp := range opps.byKey {
		if opp.Outcome != domain.OutcomeNoAction {
			t.Fatalf("вежливое закрытие должно давать no_action, получено %s", opp.Outcome)
		}
		if opp.HardFilter.WorkWeek != domain.WorkWeekSkipped {
			t.Fatalf("фильтры не должны прогоняться, work_week=%s", opp.HardFilter.WorkWeek)
		}
	}
	if len(responses.byOpp) != 0 {
		t.Fatal("для no_action черновик не готовится")
	}
}

func TestRunRetriesAcquisitionTimeout(t *testing.T) {
	fetcher := &stubFetcher{
		threads: []domain.RawThread{threadWith("t1", "Jane", "offer")},
		errs:    []error{domain.ErrAcquisitionTimeout, domain.ErrAcquisitionTimeout},
	}
	svc := newTestService(fetcher, &stubOracle{extraction: goodExtraction()}, newMemOppRepo(), newMemResponseRepo(), &stubNotifier{})

	summary, err := svc.Run(context.Background(), RunParams{}, nil)
	if err != nil {
		t.Fatalf("повторы должны пережить два таймаута: %v", err)
	}
	if fetcher.calls != 3 {
		t.Fatalf("ожидалось 3 вызова сбора, получено %d", fetcher.calls)
	}
	if summary.Created != 1 {
		t.Fatalf("неожиданный итог: %+v", summary)
	}
}

func TestRunAbortsAfterMaxRetries(t *testing.T) {
	fetcher := &stubFetcher{
		errs: []error{domain.ErrAcquisitionTimeout, domain.ErrAcquisitionTimeout, domain.ErrAcquisitionTimeout},
	}
	svc := newTestService(fetcher, &stubOracle{extraction: goodExtraction()}, newMemOppRepo(), newMemResponseRepo(), &stubNotifier{})

	if _, err := svc.Run(context.Background(), RunParams{}, nil); !errors.Is(err, domain.ErrAcquisitionTimeout) {
		t.Fatalf("после исчерпания попыток должен всплыть таймаут, получено %v", err)
	}
}

func TestRunEmitsOrderedEvents(t *testing.T) {
	fetcher := &stubFetcher{threads: []domain.RawThread{
		threadWith("t1", "Jane", "offer one"),
		threadWith("t2", "John", "offer two"),
	}}
	svc := newTestService(fetcher, &stubOracle{extraction: goodExtraction()}, newMemOppRepo(), newMemResponseRepo(), &stubNotifier{})

	var events []domain.Event
	if _, err := svc.Run(context.Background(), RunParams{}, func(e domain.Event) {
		events = append(events, e)
	}); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(events) == 0 || events[0].Type != domain.EventStarted {
		t.Fatal("первым событием должен быть started")
	}
	var createdSeen int
	for _, e := range events {
		if e.Type == domain.EventOpportunityCreated {
			createdSeen++
			if e.Opportunity == nil || e.Opportunity.ID == 0 {
				t.Fatal("событие создания без ссылки на возможность")
			}
		}
	}
	if createdSeen != 2 {
		t.Fatalf("ожидалось 2 события создания, получено %d", createdSeen)
	}
}
