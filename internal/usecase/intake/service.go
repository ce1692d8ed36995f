package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"recruiter-inbox/internal/domain"
	"recruiter-inbox/internal/infra/metrics"
)

// Config — параметры конвейера сбора.
type Config struct {
	TranscriptWindow    int
	DefaultLimit        int
	MaxFetchRetries     int
	FetchRetryBackoff   time.Duration
	ConfidenceThreshold float64
}

// Service — конвейер от сбора сообщений до записи возможности и черновика.
type Service struct {
	fetcher   domain.Fetcher
	oracle    domain.Oracle
	opps      domain.OpportunityRepo
	responses domain.ResponseRepo
	notifier  domain.Notifier
	filters   *HardFilters
	scorer    *Scorer
	cfg       Config
	log       zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewService создаёт конвейер.
func NewService(
	fetcher domain.Fetcher,
	oracle domain.Oracle,
	opps domain.OpportunityRepo,
	responses domain.ResponseRepo,
	notifier domain.Notifier,
	filters *HardFilters,
	scorer *Scorer,
	cfg Config,
	log zerolog.Logger,
) *Service {
	if cfg.TranscriptWindow <= 0 {
		cfg.TranscriptWindow = defaultTranscriptWindow
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 25
	}
	if cfg.MaxFetchRetries <= 0 {
		cfg.MaxFetchRetries = 3
	}
	if cfg.FetchRetryBackoff <= 0 {
		cfg.FetchRetryBackoff = 5 * time.Second
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.5
	}
	return &Service{
		fetcher:   fetcher,
		oracle:    oracle,
		opps:      opps,
		responses: responses,
		notifier:  notifier,
		filters:   filters,
		scorer:    scorer,
		cfg:       cfg,
		log:       log.With().Str("component", "intake").Logger(),
		sleep:     sleepCtx,
	}
}

// RunParams — параметры одного прогона.
type RunParams struct {
	Limit      int
	UnreadOnly bool
}

// Run выполняет прогон: сбор тредов, классификация, запись возможностей,
// черновики ответов. Ошибки отдельных тредов изолируются; прогон падает
// только на системных ошибках сбора. События прогресса уходят в progress
// в порядке возникновения; финальные completed/error испускает мост.
func (s *Service) Run(ctx context.Context, params RunParams, progress domain.ProgressFn) (domain.RunSummary, error) {
	started := time.Now()
	defer func() {
		metrics.IntakeRunSeconds.Observe(time.Since(started).Seconds())
	}()

	if params.Limit <= 0 {
		params.Limit = s.cfg.DefaultLimit
	}
	if progress == nil {
		progress = func(domain.Event) {}
	}

	progress(domain.Event{Type: domain.EventStarted, Message: fmt.Sprintf("fetching up to %d threads", params.Limit)})

	batch, err := s.fetchWithRetry(ctx, params)
	if err != nil {
		return domain.RunSummary{}, err
	}

	var summary domain.RunSummary
	// Некорректные записи изолированы ещё при сборе, но итог прогона
	// отчитывается и за них.
	if batch.Malformed > 0 {
		summary.Skipped += batch.Malformed
		metrics.OpportunitiesSkipped.WithLabelValues("malformed").Add(float64(batch.Malformed))
	}

	threads := batch.Threads
	for i, thread := range threads {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		progress(domain.Event{
			Type:    domain.EventProgress,
			Step:    "classify",
			Current: i + 1,
			Total:   len(threads),
			Message: fmt.Sprintf("thread %s", thread.ThreadID),
		})

		opp, created, err := s.processThread(ctx, thread)
		switch {
		case err != nil && errors.Is(err, errNoInbound):
			summary.Skipped++
			metrics.OpportunitiesSkipped.WithLabelValues("no_inbound").Inc()
		case err != nil:
			summary.Failed++
			s.log.Error().Err(err).Str("thread_id", thread.ThreadID).Msg("intake: тред обработан с ошибкой")
			progress(domain.Event{
				Type:    domain.EventProgress,
				Step:    "classify",
				Current: i + 1,
				Total:   len(threads),
				Message: fmt.Sprintf("thread %s failed: %v", thread.ThreadID, err),
			})
		case !created:
			summary.Duplicates++
			metrics.OpportunitiesSkipped.WithLabelValues("duplicate").Inc()
		default:
			summary.Created++
			metrics.OpportunitiesCreated.WithLabelValues(string(opp.Tier)).Inc()
			progress(domain.Event{
				Type: domain.EventOpportunityCreated,
				Opportunity: &domain.OpportunityRef{
					ID:      opp.ID,
					Company: opp.Extracted.Company,
					Role:    opp.Extracted.Role,
					Score:   opp.TotalScore,
					Tier:    opp.Tier,
				},
			})
		}
		summary.Processed++
	}

	s.log.Info().
		Int("processed", summary.Processed).
		Int("created", summary.Created).
		Int("duplicates", summary.Duplicates).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("intake: прогон завершён")
	return summary, nil
}

func (s *Service) fetchWithRetry(ctx context.Context, params RunParams) (domain.FetchBatch, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxFetchRetries; attempt++ {
		batch, err := s.fetcher.FetchThreads(ctx, params.Limit, params.UnreadOnly)
		if err == nil {
			return batch, nil
		}
		lastErr = err

		var authErr *domain.AuthError
		retryable := errors.Is(err, domain.ErrAcquisitionTimeout) || errors.As(err, &authErr)
		if !retryable || attempt == s.cfg.MaxFetchRetries {
			break
		}

		backoff := s.cfg.FetchRetryBackoff * time.Duration(attempt)
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("intake: повтор сбора после ошибки")
		if err := s.sleep(ctx, backoff); err != nil {
			return domain.FetchBatch{}, err
		}
	}
	return domain.FetchBatch{}, fmt.Errorf("сбор тредов: %w", lastErr)
}

var errNoInbound = errors.New("в треде нет входящих сообщений")

func (s *Service) processThread(ctx context.Context, thread domain.RawThread) (domain.Opportunity, bool, error) {
	lastInbound, ok := thread.LastInbound()
	if !ok {
		return domain.Opportunity{}, false, errNoInbound
	}

	transcript := BuildTranscript(thread, s.cfg.TranscriptWindow)
	opp := domain.Opportunity{
		DedupKey:      DedupKey(thread.RecruiterName, lastInbound.Text),
		ThreadID:      thread.ThreadID,
		RecruiterName: thread.RecruiterName,
		RecruiterURL:  thread.RecruiterURL,
		RawMessage:    lastInbound.Text,
	}

	_, priorErr := s.opps.LatestByThread(ctx, thread.ThreadID)
	hasPrior := priorErr == nil
	if priorErr != nil && !errors.Is(priorErr, domain.ErrOpportunityNotFound) {
		return domain.Opportunity{}, false, priorErr
	}

	extraction, err := s.oracle.ExtractOpportunity(ctx, transcript)
	if err != nil {
		var oracleErr *domain.OracleError
		if !errors.As(err, &oracleErr) {
			return domain.Opportunity{}, false, err
		}
		// Сбой оракула не валит пачку: кейс уходит на ручное ревью.
		metrics.OpportunitiesSkipped.WithLabelValues("oracle_error").Inc()
		opp.Extracted = domain.Extracted{}.Normalize()
		opp.Status = domain.OpportunityStatusError
		opp.ConversationState = domain.StateNewOpportunity
		opp.Outcome = domain.OutcomeManualReview
		opp.RequiresManualReview = true
		opp.ManualReviewReason = fmt.Sprintf("extraction failed: %v", err)
		opp.HardFilter = SkippedResult()
		opp.Tier = domain.TierLow
		stored, created, err := s.opps.CreateIfAbsent(ctx, opp)
		return stored, created, err
	}

	opp.Extracted = extraction.Fields
	opp.ConversationState = extraction.State
	// Наличие прежней возможности треда всегда означает follow-up,
	// независимо от мнения оракула.
	if hasPrior {
		opp.ConversationState = domain.StateFollowUp
	}

	var reviewReasons []string

	if opp.ConversationState == domain.StateCourtesyClose {
		opp.HardFilter = SkippedResult()
		opp.Outcome = domain.OutcomeNoAction
		opp.Tier = domain.TierLow
	} else {
		opp.HardFilter = s.filters.Evaluate(extraction)
		opp.Scores = s.scorer.Score(extraction.Fields)
		opp.TotalScore = s.scorer.Total(opp.Scores, opp.HardFilter.ScorePenalty)
		opp.Tier = s.scorer.TierFor(opp.TotalScore, len(opp.HardFilter.FailedFilters))

		if opp.ConversationState == domain.StateFollowUp {
			analysis, err := s.oracle.AnalyzeFollowUp(ctx, transcript)
			if err != nil {
				reviewReasons = append(reviewReasons, fmt.Sprintf("follow-up analysis failed: %v", err))
			} else {
				opp.FollowUp = &analysis
				if analysis.RequiresContext {
					reviewReasons = append(reviewReasons, "follow-up requires context outside the transcript")
				}
			}
		}

		if extraction.Fields.Confidence < s.cfg.ConfidenceThreshold {
			reviewReasons = append(reviewReasons, fmt.Sprintf("extraction confidence %.2f below threshold %.2f",
				extraction.Fields.Confidence, s.cfg.ConfidenceThreshold))
		}
		if !opp.HardFilter.Passed && !opp.HardFilter.ShouldDecline {
			reviewReasons = append(reviewReasons, fmt.Sprintf("failed filters: %s",
				strings.Join(opp.HardFilter.FailedFilters, ", ")))
		}

		switch {
		case len(reviewReasons) > 0:
			opp.Outcome = domain.OutcomeManualReview
			opp.RequiresManualReview = true
			opp.ManualReviewReason = strings.Join(reviewReasons, "; ")
		case opp.HardFilter.ShouldDecline:
			opp.Outcome = domain.OutcomeAutoDecline
		case opp.ConversationState == domain.StateFollowUp && opp.FollowUp != nil && opp.FollowUp.CanAutoRespond:
			opp.Outcome = domain.OutcomeAutoResponse
		case opp.ConversationState == domain.StateNewOpportunity:
			opp.Outcome = domain.OutcomeAutoResponse
		default:
			opp.Outcome = domain.OutcomeNoAction
		}
	}
	opp.Status = domain.OpportunityStatusProcessed

	stored, created, err := s.opps.CreateIfAbsent(ctx, opp)
	if err != nil {
		return domain.Opportunity{}, false, err
	}
	if !created {
		return stored, false, nil
	}

	if stored.Outcome != domain.OutcomeNoAction {
		if err := s.draftResponse(ctx, stored, transcript); err != nil {
			s.log.Warn().Err(err).Int64("opportunity_id", stored.ID).Msg("intake: черновик ответа не подготовлен")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyOpportunity(ctx, stored); err != nil {
			s.log.Warn().Err(err).Int64("opportunity_id", stored.ID).Msg("intake: уведомление не отправлено")
		}
	}
	return stored, true, nil
}

func (s *Service) draftResponse(ctx context.Context, opp domain.Opportunity, transcript string) error {
	draft := ""
	if opp.FollowUp != nil && strings.TrimSpace(opp.FollowUp.SuggestedReply) != "" {
		draft = opp.FollowUp.SuggestedReply
	} else {
		text, err := s.oracle.DraftReply(ctx, opp, transcript)
		if err != nil {
			return err
		}
		draft = text
	}
	_, err := s.responses.CreateDraft(ctx, domain.PendingResponse{
		OpportunityID: opp.ID,
		DraftText:     draft,
		Status:        domain.ResponseStatusPending,
		PendingAt:     time.Now().UTC(),
	})
	return err
}

// DedupKey — идентичность сообщения: отправитель плюс хеш содержимого.
func DedupKey(sender, content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(sender) + "\x00" + strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
