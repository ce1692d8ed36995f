package response

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"recruiter-inbox/internal/domain"
)

type memRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]domain.PendingResponse
}

func newMemRepo() *memRepo {
	return &memRepo{byID: map[int64]domain.PendingResponse{}}
}

func (r *memRepo) CreateDraft(_ context.Context, resp domain.PendingResponse) (domain.PendingResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.OpportunityID == resp.OpportunityID {
			return existing, nil
		}
	}
	r.nextID++
	resp.ID = r.nextID
	if resp.Status == "" {
		resp.Status = domain.ResponseStatusPending
	}
	r.byID[resp.ID] = resp
	return resp, nil
}

func (r *memRepo) GetByID(_ context.Context, id int64) (domain.PendingResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if resp, ok := r.byID[id]; ok {
		return resp, nil
	}
	return domain.PendingResponse{}, domain.ErrResponseNotFound
}

func (r *memRepo) GetByOpportunity(_ context.Context, opportunityID int64) (domain.PendingResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, resp := range r.byID {
		if resp.OpportunityID == opportunityID {
			return resp, nil
		}
	}
	return domain.PendingResponse{}, domain.ErrResponseNotFound
}

func (r *memRepo) Update(_ context.Context, resp domain.PendingResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[resp.ID]; !ok {
		return domain.ErrResponseNotFound
	}
	r.byID[resp.ID] = resp
	return nil
}

func (r *memRepo) ListByStatus(_ context.Context, status domain.ResponseStatus, _, _ int) ([]domain.PendingResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PendingResponse
	for _, resp := range r.byID {
		if resp.Status == status {
			out = append(out, resp)
		}
	}
	return out, nil
}

func (r *memRepo) SaveFeedback(_ context.Context, responseID int64, score int, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.byID[responseID]
	if !ok {
		return domain.ErrResponseNotFound
	}
	resp.FeedbackScore = &score
	resp.FeedbackNotes = notes
	r.byID[responseID] = resp
	return nil
}

type stubOppRepo struct {
	opp domain.Opportunity
}

func (r *stubOppRepo) CreateIfAbsent(_ context.Context, opp domain.Opportunity) (domain.Opportunity, bool, error) {
	return opp, true, nil
}

func (r *stubOppRepo) GetByID(_ context.Context, _ int64) (domain.Opportunity, error) {
	return r.opp, nil
}

func (r *stubOppRepo) LatestByThread(_ context.Context, _ string) (domain.Opportunity, error) {
	return r.opp, nil
}

func (r *stubOppRepo) Update(_ context.Context, _ domain.Opportunity) error { return nil }

func (r *stubOppRepo) List(_ context.Context, _ domain.OpportunityFilter, _, _ int) ([]domain.Opportunity, error) {
	return nil, nil
}

type stubFetcher struct {
	sendErr error
	sent    []string
}

func (f *stubFetcher) FetchThreads(_ context.Context, _ int, _ bool) (domain.FetchBatch, error) {
	return domain.FetchBatch{}, nil
}

func (f *stubFetcher) SendReply(_ context.Context, _, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func newTestService(repo *memRepo, fetcher *stubFetcher, maxAttempts int) *Service {
	return NewService(repo, &stubOppRepo{opp: domain.Opportunity{ID: 1, ThreadID: "t1"}}, fetcher, maxAttempts, zerolog.Nop())
}

func draft(t *testing.T, repo *memRepo) domain.PendingResponse {
	t.Helper()
	resp, err := repo.CreateDraft(context.Background(), domain.PendingResponse{
		OpportunityID: 1,
		DraftText:     "original draft",
		Status:        domain.ResponseStatusPending,
		PendingAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("подготовка черновика: %v", err)
	}
	return resp
}

func TestApproveWithEdit(t *testing.T) {
	repo := newMemRepo()
	draft(t, repo)
	svc := newTestService(repo, &stubFetcher{}, 3)

	resp, err := svc.Approve(context.Background(), 1, "edited text")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if resp.Status != domain.ResponseStatusApproved {
		t.Fatalf("ожидался approved, получено %s", resp.Status)
	}
	if resp.EditedText != "edited text" {
		t.Fatalf("правка не сохранена: %q", resp.EditedText)
	}
	if resp.ApprovedAt == nil {
		t.Fatal("время согласования не проставлено")
	}
	if resp.OutgoingText() != "edited text" {
		t.Fatalf("наружу должен уходить правленый текст, получено %q", resp.OutgoingText())
	}
}

func TestApproveWithoutDraftFails(t *testing.T) {
	svc := newTestService(newMemRepo(), &stubFetcher{}, 3)
	if _, err := svc.Approve(context.Background(), 42, ""); !errors.Is(err, domain.ErrResponseNotFound) {
		t.Fatalf("ожидался ErrResponseNotFound, получено %v", err)
	}
}

func TestDeclineIsTerminal(t *testing.T) {
	repo := newMemRepo()
	draft(t, repo)
	svc := newTestService(repo, &stubFetcher{}, 3)

	resp, err := svc.Decline(context.Background(), 1)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if resp.Status != domain.ResponseStatusDeclined || resp.DeclinedAt == nil {
		t.Fatalf("неожиданный статус: %+v", resp)
	}

	if _, err := svc.Approve(context.Background(), 1, ""); !errors.Is(err, domain.ErrResponseTerminal) {
		t.Fatalf("согласование после отклонения должно падать, получено %v", err)
	}
}

func TestSentOnlyViaApproved(t *testing.T) {
	repo := newMemRepo()
	created := draft(t, repo)
	svc := newTestService(repo, &stubFetcher{}, 3)

	// pending нельзя отправить напрямую.
	if _, err := svc.Deliver(context.Background(), created.ID); err == nil {
		t.Fatal("доставка несогласованного ответа должна падать")
	}

	if _, err := svc.Approve(context.Background(), 1, ""); err != nil {
		t.Fatalf("согласование: %v", err)
	}
	resp, err := svc.Deliver(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("доставка: %v", err)
	}
	if resp.Status != domain.ResponseStatusSent {
		t.Fatalf("ожидался sent, получено %s", resp.Status)
	}
	if resp.FinalText != "original draft" || resp.SentAt == nil {
		t.Fatalf("финальный текст фиксируется только при успешной отправке: %+v", resp)
	}
}

func TestRecordSendAttemptRequiresApproval(t *testing.T) {
	repo := newMemRepo()
	created := draft(t, repo)
	svc := newTestService(repo, &stubFetcher{}, 3)

	// Фиксация исхода для несогласованного черновика запрещена: sent
	// недостижим в обход approved.
	if _, err := svc.RecordSendAttempt(context.Background(), created.ID, nil); !errors.Is(err, domain.ErrResponseNotApproved) {
		t.Fatalf("ожидался ErrResponseNotApproved, получено %v", err)
	}

	resp, err := repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("чтение ответа: %v", err)
	}
	if resp.Status != domain.ResponseStatusPending {
		t.Fatalf("статус не должен меняться, получено %s", resp.Status)
	}
	if resp.SendAttempts != 0 || resp.FinalText != "" || resp.SentAt != nil {
		t.Fatalf("попытка не должна засчитываться: %+v", resp)
	}
}

func TestSentIsImmutable(t *testing.T) {
	repo := newMemRepo()
	created := draft(t, repo)
	svc := newTestService(repo, &stubFetcher{}, 3)

	if _, err := svc.Approve(context.Background(), 1, ""); err != nil {
		t.Fatalf("согласование: %v", err)
	}
	if _, err := svc.Deliver(context.Background(), created.ID); err != nil {
		t.Fatalf("доставка: %v", err)
	}

	if _, err := svc.RecordSendAttempt(context.Background(), created.ID, nil); !errors.Is(err, domain.ErrResponseTerminal) {
		t.Fatalf("sent терминален, получено %v", err)
	}
	if _, err := svc.Decline(context.Background(), 1); !errors.Is(err, domain.ErrResponseTerminal) {
		t.Fatalf("отклонение после отправки должно падать, получено %v", err)
	}
}

func TestFailedRetriesUntilCeiling(t *testing.T) {
	repo := newMemRepo()
	created := draft(t, repo)
	fetcher := &stubFetcher{sendErr: errors.New("network down")}
	svc := newTestService(repo, fetcher, 2)

	for attempt := 1; attempt <= 2; attempt++ {
		if _, err := svc.Approve(context.Background(), 1, ""); err != nil {
			t.Fatalf("согласование попытки %d: %v", attempt, err)
		}
		resp, err := svc.Deliver(context.Background(), created.ID)
		var deliveryErr *domain.DeliveryError
		if !errors.As(err, &deliveryErr) {
			t.Fatalf("ожидалась DeliveryError, получено %v", err)
		}
		if resp.Status != domain.ResponseStatusFailed {
			t.Fatalf("ожидался failed, получено %s", resp.Status)
		}
		if resp.SendAttempts != attempt {
			t.Fatalf("счётчик попыток %d, ожидалось %d", resp.SendAttempts, attempt)
		}
		if resp.ErrorMessage == "" {
			t.Fatal("текст ошибки должен сохраняться")
		}
	}

	// Лимит исчерпан: повторное согласование запрещено.
	if _, err := svc.Approve(context.Background(), 1, ""); !errors.Is(err, domain.ErrSendAttemptsExceeded) {
		t.Fatalf("после исчерпания лимита должен быть ErrSendAttemptsExceeded, получено %v", err)
	}

	resp, err := repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("чтение ответа: %v", err)
	}
	if svc.Retryable(resp) {
		t.Fatal("ответ с исчерпанным лимитом не должен считаться повторяемым")
	}
	if resp.SendAttempts != 2 {
		t.Fatalf("счётчик не должен превышать лимит: %d", resp.SendAttempts)
	}
}

func TestSubmitFeedback(t *testing.T) {
	repo := newMemRepo()
	created := draft(t, repo)
	svc := newTestService(repo, &stubFetcher{}, 3)

	if err := svc.SubmitFeedback(context.Background(), created.ID, 4, "good draft"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	resp, _ := repo.GetByID(context.Background(), created.ID)
	if resp.FeedbackScore == nil || *resp.FeedbackScore != 4 || resp.FeedbackNotes != "good draft" {
		t.Fatalf("фидбэк не сохранён: %+v", resp)
	}

	if err := svc.SubmitFeedback(context.Background(), created.ID, 9, ""); err == nil {
		t.Fatal("оценка вне диапазона должна отклоняться")
	}
}
