package intake

import (
	"fmt"
	"strings"

	"recruiter-inbox/internal/domain"
)

// Profile — предпочтения кандидата, против которых считаются оценки.
type Profile struct {
	TechStack    []string
	Seniority    string
	SalaryFloor  int
	SalaryTarget int
	Currency     string
	TopCompanies []string
}

// Weights — веса измерений и границы тиров. Политика из конфига.
type Weights struct {
	Tech      int
	Salary    int
	Seniority int
	Company   int

	TierTopMin    int
	TierHighMin   int
	TierMediumMin int
}

// neutralScore присваивается измерению, по которому нет данных.
const neutralScore = 50

// Scorer считает четыре детерминированные оценки возможности.
// Оракул только извлекает поля; сами баллы воспроизводимы и тестируемы.
type Scorer struct {
	profile Profile
	weights Weights
}

// NewScorer создаёт скорер.
func NewScorer(profile Profile, weights Weights) *Scorer {
	if weights.Tech+weights.Salary+weights.Seniority+weights.Company <= 0 {
		weights = Weights{Tech: 35, Salary: 30, Seniority: 20, Company: 15,
			TierTopMin: 80, TierHighMin: 60, TierMediumMin: 40}
	}
	return &Scorer{profile: profile, weights: weights}
}

// Score считает разбивку по четырём измерениям.
func (s *Scorer) Score(fields domain.Extracted) domain.ScoreBreakdown {
	return domain.ScoreBreakdown{
		TechStack: s.scoreTechStack(fields),
		Salary:    s.scoreSalary(fields),
		Seniority: s.scoreSeniority(fields),
		Company:   s.scoreCompany(fields),
	}
}

// Total — взвешенная сумма минус штраф фильтров, всегда в [0,100].
func (s *Scorer) Total(breakdown domain.ScoreBreakdown, penalty int) int {
	weightSum := s.weights.Tech + s.weights.Salary + s.weights.Seniority + s.weights.Company
	weighted := breakdown.TechStack.Score*s.weights.Tech +
		breakdown.Salary.Score*s.weights.Salary +
		breakdown.Seniority.Score*s.weights.Seniority +
		breakdown.Company.Score*s.weights.Company
	total := weighted/weightSum - penalty
	return clampScore(total)
}

// TierFor отображает итоговый балл на тир. Верхний тир требует чистого
// прохода фильтров: высокий балл с проваленным фильтром даёт максимум high.
func (s *Scorer) TierFor(total int, failedFilters int) domain.Tier {
	switch {
	case total >= s.weights.TierTopMin && failedFilters == 0:
		return domain.TierTop
	case total >= s.weights.TierHighMin:
		return domain.TierHigh
	case total >= s.weights.TierMediumMin:
		return domain.TierMedium
	}
	return domain.TierLow
}

func (s *Scorer) scoreTechStack(fields domain.Extracted) domain.DimensionScore {
	if len(fields.TechStack) == 0 {
		return domain.DimensionScore{Score: neutralScore, Rationale: "tech stack not mentioned"}
	}
	if len(s.profile.TechStack) == 0 {
		return domain.DimensionScore{Score: neutralScore, Rationale: "no preferred stack configured"}
	}

	offered := make(map[string]bool, len(fields.TechStack))
	for _, item := range fields.TechStack {
		offered[strings.ToLower(strings.TrimSpace(item))] = true
	}
	matched := 0
	var hits []string
	for _, want := range s.profile.TechStack {
		key := strings.ToLower(strings.TrimSpace(want))
		if offered[key] {
			matched++
			hits = append(hits, key)
		}
	}

	score := clampScore(matched * 100 / len(s.profile.TechStack))
	rationale := fmt.Sprintf("%d of %d preferred technologies mentioned", matched, len(s.profile.TechStack))
	if len(hits) > 0 {
		rationale += ": " + strings.Join(hits, ", ")
	}
	return domain.DimensionScore{Score: score, Rationale: rationale}
}

func (s *Scorer) scoreSalary(fields domain.Extracted) domain.DimensionScore {
	if fields.SalaryMax <= 0 {
		return domain.DimensionScore{Score: neutralScore, Rationale: "salary not stated"}
	}
	if fields.Currency != domain.ValueUnknown && s.profile.Currency != "" &&
		!strings.EqualFold(fields.Currency, s.profile.Currency) {
		return domain.DimensionScore{
			Score:     neutralScore,
			Rationale: fmt.Sprintf("salary stated in %s, profile currency is %s", fields.Currency, s.profile.Currency),
		}
	}

	floor, target := s.profile.SalaryFloor, s.profile.SalaryTarget
	if target <= floor {
		target = floor + 1
	}

	switch {
	case fields.SalaryMin >= target:
		return domain.DimensionScore{Score: 100, Rationale: fmt.Sprintf("range floor %d meets target %d", fields.SalaryMin, target)}
	case fields.SalaryMax < floor:
		score := clampScore(fields.SalaryMax * neutralScore / floor)
		return domain.DimensionScore{Score: score, Rationale: fmt.Sprintf("range top %d is below floor %d", fields.SalaryMax, floor)}
	default:
		score := neutralScore + (fields.SalaryMax-floor)*neutralScore/(target-floor)
		return domain.DimensionScore{
			Score:     clampScore(score),
			Rationale: fmt.Sprintf("range top %d sits between floor %d and target %d", fields.SalaryMax, floor, target),
		}
	}
}

// seniorityLadder — упорядоченная лестница грейдов для оценки дистанции.
var seniorityLadder = []string{"intern", "junior", "mid", "middle", "senior", "staff", "lead", "principal"}

func seniorityRank(level string) int {
	normalized := strings.ToLower(strings.TrimSpace(level))
	for i, rung := range seniorityLadder {
		if strings.Contains(normalized, rung) {
			// middle и mid — одна ступень.
			if rung == "middle" {
				return 2
			}
			if i > 3 {
				return i - 1
			}
			return i
		}
	}
	return -1
}

func (s *Scorer) scoreSeniority(fields domain.Extracted) domain.DimensionScore {
	if fields.Seniority == domain.ValueUnknown {
		return domain.DimensionScore{Score: neutralScore, Rationale: "seniority not mentioned"}
	}
	want := seniorityRank(s.profile.Seniority)
	got := seniorityRank(fields.Seniority)
	if want < 0 || got < 0 {
		return domain.DimensionScore{Score: neutralScore, Rationale: fmt.Sprintf("unrecognized seniority %q", fields.Seniority)}
	}

	distance := want - got
	if distance < 0 {
		distance = -distance
	}
	switch distance {
	case 0:
		return domain.DimensionScore{Score: 100, Rationale: fmt.Sprintf("exact seniority match: %s", fields.Seniority)}
	case 1:
		return domain.DimensionScore{Score: 70, Rationale: fmt.Sprintf("%s is one level off the %s profile", fields.Seniority, s.profile.Seniority)}
	default:
		return domain.DimensionScore{Score: 30, Rationale: fmt.Sprintf("%s is far from the %s profile", fields.Seniority, s.profile.Seniority)}
	}
}

func (s *Scorer) scoreCompany(fields domain.Extracted) domain.DimensionScore {
	if fields.Company == domain.ValueUnknown {
		return domain.DimensionScore{Score: neutralScore, Rationale: "company not mentioned"}
	}
	for _, top := range s.profile.TopCompanies {
		if strings.EqualFold(strings.TrimSpace(top), fields.Company) {
			return domain.DimensionScore{Score: 100, Rationale: fmt.Sprintf("%s is on the preferred list", fields.Company)}
		}
	}
	return domain.DimensionScore{Score: 60, Rationale: fmt.Sprintf("%s is not on any list", fields.Company)}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
