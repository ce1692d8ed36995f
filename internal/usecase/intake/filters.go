package intake

import (
	"strings"

	"recruiter-inbox/internal/domain"
)

// Идентификаторы жёстких фильтров.
const (
	FilterSixDayWeek   = "six_day_week"
	FilterRemotePolicy = "remote_policy"
	FilterAvoidCompany = "avoid_company"
)

// FilterConfig — политика жёстких фильтров, задаётся конфигом.
type FilterConfig struct {
	// SixDayWeekOK разрешает недели длиннее пяти дней.
	SixDayWeekOK bool
	// RemoteRequired требует удалёнку; офисная политика проваливает фильтр.
	RemoteRequired bool
	// AvoidCompanies — компании, сообщения которых автоматически отклоняются.
	AvoidCompanies []string
	// Penalty вычитается из итогового балла за каждый проваленный фильтр.
	Penalty int
}

// HardFilters прогоняет deal-breaker-правила после извлечения и до оценки.
type HardFilters struct {
	cfg FilterConfig
}

// NewHardFilters создаёт набор фильтров.
func NewHardFilters(cfg FilterConfig) *HardFilters {
	if cfg.Penalty <= 0 {
		cfg.Penalty = 25
	}
	return &HardFilters{cfg: cfg}
}

// Evaluate возвращает результат прогона всех фильтров по извлечённым полям.
// should_decline взводится только фильтрами, настроенными на автоотклонение.
func (f *HardFilters) Evaluate(extraction domain.Extraction) domain.HardFilterResult {
	result := domain.HardFilterResult{
		Passed:   true,
		WorkWeek: extraction.WorkWeek,
	}

	if extraction.WorkWeek == domain.WorkWeekConfirmed && !f.cfg.SixDayWeekOK {
		fail(&result, FilterSixDayWeek, f.cfg.Penalty)
		result.ShouldDecline = true
	}

	if f.cfg.RemoteRequired && isOnsiteOnly(extraction.Fields.RemotePolicy) {
		fail(&result, FilterRemotePolicy, f.cfg.Penalty)
	}

	if company := extraction.Fields.Company; company != domain.ValueUnknown {
		for _, avoided := range f.cfg.AvoidCompanies {
			if strings.EqualFold(strings.TrimSpace(avoided), company) {
				fail(&result, FilterAvoidCompany, f.cfg.Penalty)
				result.ShouldDecline = true
				break
			}
		}
	}

	return result
}

func fail(result *domain.HardFilterResult, filter string, penalty int) {
	result.Passed = false
	result.FailedFilters = append(result.FailedFilters, filter)
	result.ScorePenalty += penalty
}

func isOnsiteOnly(policy string) bool {
	normalized := strings.ToLower(strings.TrimSpace(policy))
	switch normalized {
	case "onsite", "on-site", "on site", "office", "office-only", "in-office", "no remote":
		return true
	}
	return false
}

// SkippedResult — результат фильтров для кейсов, где фильтрация не выполнялась.
func SkippedResult() domain.HardFilterResult {
	return domain.HardFilterResult{Passed: true, WorkWeek: domain.WorkWeekSkipped}
}
