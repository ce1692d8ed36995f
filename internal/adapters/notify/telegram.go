package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"recruiter-inbox/internal/domain"
	"recruiter-inbox/internal/infra/metrics"
)

// messageSender — минимальная поверхность tgbotapi, нужная нотификатору.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier шлёт оператору сводку по новой возможности.
// Уведомляются только возможности выше порога: остальные ждут в ленте.
type TelegramNotifier struct {
	bot      messageSender
	chatID   int64
	minScore int
	minTier  domain.Tier
	log      zerolog.Logger
}

// NewTelegram создаёт нотификатор.
func NewTelegram(bot messageSender, chatID int64, minScore int, minTier domain.Tier, log zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:      bot,
		chatID:   chatID,
		minScore: minScore,
		minTier:  minTier,
		log:      log.With().Str("component", "notify").Logger(),
	}
}

var _ domain.Notifier = (*TelegramNotifier)(nil)

// NotifyOpportunity отправляет сводку, если возможность проходит порог.
func (n *TelegramNotifier) NotifyOpportunity(ctx context.Context, opp domain.Opportunity) error {
	if !n.shouldNotify(opp) {
		n.log.Debug().Int64("opportunity_id", opp.ID).Int("score", opp.TotalScore).Msg("notify: ниже порога, пропуск")
		return nil
	}

	text := FormatOpportunity(opp)
	for _, part := range SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(n.chatID, part)
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram", "send_message", "notify", start, err)
		if err != nil {
			return fmt.Errorf("отправка уведомления: %w", err)
		}
	}
	return nil
}

func (n *TelegramNotifier) shouldNotify(opp domain.Opportunity) bool {
	if opp.TotalScore >= n.minScore {
		return true
	}
	return domain.TierRank(opp.Tier) >= domain.TierRank(n.minTier) && domain.TierRank(n.minTier) > 0
}

// FormatOpportunity собирает текст сводки возможности.
func FormatOpportunity(opp domain.Opportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Новая возможность #%d [%s]\n", opp.ID, strings.ToUpper(string(opp.Tier)))
	fmt.Fprintf(&b, "Компания: %s\n", opp.Extracted.Company)
	fmt.Fprintf(&b, "Роль: %s (%s)\n", opp.Extracted.Role, opp.Extracted.Seniority)
	if opp.Extracted.SalaryMax > 0 {
		fmt.Fprintf(&b, "Вилка: %d–%d %s\n", opp.Extracted.SalaryMin, opp.Extracted.SalaryMax, opp.Extracted.Currency)
	}
	fmt.Fprintf(&b, "Рекрутер: %s\n", opp.RecruiterName)
	fmt.Fprintf(&b, "Балл: %d (tech %d, salary %d, seniority %d, company %d)\n",
		opp.TotalScore, opp.Scores.TechStack.Score, opp.Scores.Salary.Score,
		opp.Scores.Seniority.Score, opp.Scores.Company.Score)
	fmt.Fprintf(&b, "Решение: %s\n", opp.Outcome)
	if len(opp.HardFilter.FailedFilters) > 0 {
		fmt.Fprintf(&b, "Фильтры: %s\n", strings.Join(opp.HardFilter.FailedFilters, ", "))
	}
	if opp.RequiresManualReview && opp.ManualReviewReason != "" {
		fmt.Fprintf(&b, "Требует внимания: %s\n", opp.ManualReviewReason)
	}
	return strings.TrimSpace(b.String())
}
