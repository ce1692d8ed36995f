package intake

import (
	"testing"

	"recruiter-inbox/internal/domain"
)

func testScorer() *Scorer {
	return NewScorer(
		Profile{
			TechStack:    []string{"go", "python", "postgresql", "kubernetes"},
			Seniority:    "senior",
			SalaryFloor:  120000,
			SalaryTarget: 170000,
			Currency:     "USD",
			TopCompanies: []string{"Acme"},
		},
		Weights{Tech: 35, Salary: 30, Seniority: 20, Company: 15,
			TierTopMin: 80, TierHighMin: 60, TierMediumMin: 40},
	)
}

func TestScoreSeniorOfferAtTarget(t *testing.T) {
	scorer := testScorer()
	fields := domain.Extracted{
		Company:   "Acme",
		Role:      "Senior Python Engineer",
		Seniority: "senior",
		TechStack: []string{"python", "go"},
		SalaryMin: 150000,
		SalaryMax: 180000,
		Currency:  "USD",
	}.Normalize()

	breakdown := scorer.Score(fields)
	if breakdown.TechStack.Score != 50 {
		t.Fatalf("2 из 4 технологий — ожидалось 50, получено %d", breakdown.TechStack.Score)
	}
	if breakdown.Salary.Score != 100 {
		t.Fatalf("вилка выше цели — ожидалось 100, получено %d", breakdown.Salary.Score)
	}
	if breakdown.Seniority.Score != 100 {
		t.Fatalf("точное совпадение грейда — ожидалось 100, получено %d", breakdown.Seniority.Score)
	}
	if breakdown.Company.Score != 100 {
		t.Fatalf("компания из топ-списка — ожидалось 100, получено %d", breakdown.Company.Score)
	}

	total := scorer.Total(breakdown, 0)
	if total < 0 || total > 100 {
		t.Fatalf("итог вне [0,100]: %d", total)
	}
	if tier := scorer.TierFor(total, 0); tier != domain.TierTop {
		t.Fatalf("чистый высокий балл должен давать top, получено %s", tier)
	}
}

func TestTotalClampedToRange(t *testing.T) {
	scorer := testScorer()
	breakdown := domain.ScoreBreakdown{
		TechStack: domain.DimensionScore{Score: 10},
		Salary:    domain.DimensionScore{Score: 10},
		Seniority: domain.DimensionScore{Score: 10},
		Company:   domain.DimensionScore{Score: 10},
	}
	if total := scorer.Total(breakdown, 200); total != 0 {
		t.Fatalf("итог должен прижиматься к нулю, получено %d", total)
	}

	full := domain.ScoreBreakdown{
		TechStack: domain.DimensionScore{Score: 100},
		Salary:    domain.DimensionScore{Score: 100},
		Seniority: domain.DimensionScore{Score: 100},
		Company:   domain.DimensionScore{Score: 100},
	}
	if total := scorer.Total(full, 0); total != 100 {
		t.Fatalf("максимум должен быть 100, получено %d", total)
	}
}

func TestTierMonotonicOverScore(t *testing.T) {
	scorer := testScorer()
	prev := domain.TierLow
	for score := 0; score <= 100; score++ {
		tier := scorer.TierFor(score, 0)
		if domain.TierRank(tier) < domain.TierRank(prev) {
			t.Fatalf("тир не монотонен: балл %d дал %s после %s", score, tier, prev)
		}
		prev = tier
	}
}

func TestTopTierRequiresCleanFilters(t *testing.T) {
	scorer := testScorer()
	if tier := scorer.TierFor(95, 1); tier == domain.TierTop {
		t.Fatal("проваленный фильтр должен запрещать top")
	}
	if tier := scorer.TierFor(95, 1); tier != domain.TierHigh {
		t.Fatalf("высокий балл с фильтром должен давать high, получено %s", tier)
	}
	// Граница верхнего тира: без провалов — top, с провалом — high.
	if tier := scorer.TierFor(80, 0); tier != domain.TierTop {
		t.Fatalf("чистые 80 должны давать top, получено %s", tier)
	}
	if tier := scorer.TierFor(80, 2); tier != domain.TierHigh {
		t.Fatalf("80 с провалами должны давать high, получено %s", tier)
	}
}

func TestNeutralScoresForUnknownFields(t *testing.T) {
	scorer := testScorer()
	breakdown := scorer.Score(domain.Extracted{}.Normalize())
	for name, dim := range map[string]domain.DimensionScore{
		"tech":      breakdown.TechStack,
		"salary":    breakdown.Salary,
		"seniority": breakdown.Seniority,
		"company":   breakdown.Company,
	} {
		if dim.Score != neutralScore {
			t.Fatalf("неизвестное измерение %s должно давать нейтральные %d, получено %d", name, neutralScore, dim.Score)
		}
		if dim.Rationale == "" {
			t.Fatalf("измерение %s без обоснования", name)
		}
	}
}

func TestSalaryBelowFloorScoresLow(t *testing.T) {
	scorer := testScorer()
	dim := scorer.scoreSalary(domain.Extracted{SalaryMin: 60000, SalaryMax: 90000, Currency: "USD"}.Normalize())
	if dim.Score >= neutralScore {
		t.Fatalf("вилка ниже пола должна давать меньше %d, получено %d", neutralScore, dim.Score)
	}
}

func TestSalaryCurrencyMismatchNeutral(t *testing.T) {
	scorer := testScorer()
	dim := scorer.scoreSalary(domain.Extracted{SalaryMin: 150000, SalaryMax: 200000, Currency: "EUR"}.Normalize())
	if dim.Score != neutralScore {
		t.Fatalf("чужая валюта должна давать нейтральный балл, получено %d", dim.Score)
	}
}
