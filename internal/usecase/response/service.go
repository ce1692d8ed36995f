package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"recruiter-inbox/internal/domain"
	"recruiter-inbox/internal/infra/metrics"
)

// Service управляет жизненным циклом подготовленных ответов:
// pending → {approved, declined}; approved → {sent, failed};
// failed допускает повторное согласование до исчерпания лимита попыток.
type Service struct {
	responses   domain.ResponseRepo
	opps        domain.OpportunityRepo
	fetcher     domain.Fetcher
	maxAttempts int
	log         zerolog.Logger
	now         func() time.Time
}

// NewService создаёт менеджер жизненного цикла ответов.
func NewService(responses domain.ResponseRepo, opps domain.OpportunityRepo, fetcher domain.Fetcher, maxAttempts int, log zerolog.Logger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		responses:   responses,
		opps:        opps,
		fetcher:     fetcher,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "response").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// MaxAttempts возвращает настроенный потолок попыток отправки.
func (s *Service) MaxAttempts() int { return s.maxAttempts }

// Approve согласует ответ возможности, опционально с правкой текста.
// Из failed согласование допустимо повторно, пока не исчерпан лимит попыток.
func (s *Service) Approve(ctx context.Context, opportunityID int64, editedText string) (domain.PendingResponse, error) {
	resp, err := s.responses.GetByOpportunity(ctx, opportunityID)
	if err != nil {
		return domain.PendingResponse{}, err
	}
	if resp.Status.Terminal() {
		return domain.PendingResponse{}, domain.ErrResponseTerminal
	}
	if resp.Status == domain.ResponseStatusFailed && resp.SendAttempts >= s.maxAttempts {
		return domain.PendingResponse{}, domain.ErrSendAttemptsExceeded
	}
	if resp.Status != domain.ResponseStatusPending && resp.Status != domain.ResponseStatusFailed {
		return domain.PendingResponse{}, domain.ErrResponseNotPending
	}

	if trimmed := strings.TrimSpace(editedText); trimmed != "" {
		resp.EditedText = trimmed
	}
	resp.Status = domain.ResponseStatusApproved
	ts := s.now()
	resp.ApprovedAt = &ts
	if err := s.responses.Update(ctx, resp); err != nil {
		return domain.PendingResponse{}, err
	}
	s.log.Info().Int64("response_id", resp.ID).Int64("opportunity_id", opportunityID).Msg("response: ответ согласован")
	return resp, nil
}

// Decline отклоняет ответ. Терминально: отправка больше не выполняется.
func (s *Service) Decline(ctx context.Context, opportunityID int64) (domain.PendingResponse, error) {
	resp, err := s.responses.GetByOpportunity(ctx, opportunityID)
	if err != nil {
		return domain.PendingResponse{}, err
	}
	if resp.Status.Terminal() {
		return domain.PendingResponse{}, domain.ErrResponseTerminal
	}

	resp.Status = domain.ResponseStatusDeclined
	ts := s.now()
	resp.DeclinedAt = &ts
	if err := s.responses.Update(ctx, resp); err != nil {
		return domain.PendingResponse{}, err
	}
	s.log.Info().Int64("response_id", resp.ID).Int64("opportunity_id", opportunityID).Msg("response: ответ отклонён")
	return resp, nil
}

// Deliver отправляет согласованный ответ рекрутеру и фиксирует исход попытки.
func (s *Service) Deliver(ctx context.Context, responseID int64) (domain.PendingResponse, error) {
	resp, err := s.responses.GetByID(ctx, responseID)
	if err != nil {
		return domain.PendingResponse{}, err
	}
	if resp.Status != domain.ResponseStatusApproved {
		if resp.Status.Terminal() {
			return domain.PendingResponse{}, domain.ErrResponseTerminal
		}
		return domain.PendingResponse{}, fmt.Errorf("%w: ответ %d в статусе %s", domain.ErrResponseNotApproved, responseID, resp.Status)
	}

	opp, err := s.opps.GetByID(ctx, resp.OpportunityID)
	if err != nil {
		return domain.PendingResponse{}, err
	}

	sendErr := s.fetcher.SendReply(ctx, opp.ThreadID, resp.OutgoingText())
	return s.RecordSendAttempt(ctx, responseID, sendErr)
}

// RecordSendAttempt фиксирует исход попытки отправки: инкремент счётчика,
// переход в sent с финальным текстом либо в failed с сохранённой ошибкой.
// Попытка засчитывается только для согласованного ответа: sent недостижим
// в обход approved.
func (s *Service) RecordSendAttempt(ctx context.Context, responseID int64, sendErr error) (domain.PendingResponse, error) {
	resp, err := s.responses.GetByID(ctx, responseID)
	if err != nil {
		return domain.PendingResponse{}, err
	}
	if resp.Status.Terminal() {
		return domain.PendingResponse{}, domain.ErrResponseTerminal
	}
	if resp.Status != domain.ResponseStatusApproved {
		return domain.PendingResponse{}, fmt.Errorf("%w: ответ %d в статусе %s", domain.ErrResponseNotApproved, responseID, resp.Status)
	}

	resp.SendAttempts++
	ts := s.now()
	if sendErr == nil {
		resp.Status = domain.ResponseStatusSent
		resp.FinalText = resp.OutgoingText()
		resp.SentAt = &ts
		resp.ErrorMessage = ""
		metrics.ResponseSendAttempts.WithLabelValues("sent").Inc()
	} else {
		resp.Status = domain.ResponseStatusFailed
		resp.FailedAt = &ts
		resp.ErrorMessage = sendErr.Error()
		if resp.SendAttempts >= s.maxAttempts {
			metrics.ResponseSendAttempts.WithLabelValues("failed_terminal").Inc()
			s.log.Error().Err(sendErr).Int64("response_id", responseID).Int("attempts", resp.SendAttempts).
				Msg("response: лимит попыток исчерпан, требуется ручное вмешательство")
		} else {
			metrics.ResponseSendAttempts.WithLabelValues("failed").Inc()
		}
	}

	if err := s.responses.Update(ctx, resp); err != nil {
		return domain.PendingResponse{}, err
	}
	if sendErr != nil {
		var deliveryErr *domain.DeliveryError
		if !errors.As(sendErr, &deliveryErr) {
			sendErr = &domain.DeliveryError{Err: sendErr}
		}
		return resp, sendErr
	}
	return resp, nil
}

// Retryable сообщает, допускает ли ответ повторную попытку отправки.
func (s *Service) Retryable(resp domain.PendingResponse) bool {
	return resp.Status == domain.ResponseStatusFailed && resp.SendAttempts < s.maxAttempts
}

// SubmitFeedback сохраняет оценку качества черновика.
func (s *Service) SubmitFeedback(ctx context.Context, responseID int64, score int, notes string) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("оценка %d вне диапазона [1,5]", score)
	}
	return s.responses.SaveFeedback(ctx, responseID, score, notes)
}

// ListPending возвращает ответы, ожидающие решения.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]domain.PendingResponse, error) {
	return s.responses.ListByStatus(ctx, domain.ResponseStatusPending, limit, offset)
}
