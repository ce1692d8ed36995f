package intake

import (
	"testing"

	"recruiter-inbox/internal/domain"
)

func TestFiltersSixDayWeekDeclines(t *testing.T) {
	filters := NewHardFilters(FilterConfig{SixDayWeekOK: false, Penalty: 25})

	result := filters.Evaluate(domain.Extraction{WorkWeek: domain.WorkWeekConfirmed})
	if result.Passed {
		t.Fatal("подтверждённая шестидневка должна проваливать фильтр")
	}
	if !result.ShouldDecline {
		t.Fatal("шестидневка настроена на автоотклонение")
	}
	if result.ScorePenalty != 25 {
		t.Fatalf("ожидался штраф 25, получено %d", result.ScorePenalty)
	}
	if result.WorkWeek != domain.WorkWeekConfirmed {
		t.Fatalf("статус графика должен сохраняться, получено %s", result.WorkWeek)
	}
}

func TestFiltersSixDayWeekAllowed(t *testing.T) {
	filters := NewHardFilters(FilterConfig{SixDayWeekOK: true, Penalty: 25})

	result := filters.Evaluate(domain.Extraction{WorkWeek: domain.WorkWeekConfirmed})
	if !result.Passed || result.ShouldDecline {
		t.Fatal("при разрешённой шестидневке фильтр не должен срабатывать")
	}
}

func TestFiltersRemotePolicyNeedsReview(t *testing.T) {
	filters := NewHardFilters(FilterConfig{RemoteRequired: true, Penalty: 25})

	result := filters.Evaluate(domain.Extraction{
		WorkWeek: domain.WorkWeekNotMentioned,
		Fields:   domain.Extracted{RemotePolicy: "onsite"}.Normalize(),
	})
	if result.Passed {
		t.Fatal("офисная политика при требовании удалёнки должна проваливать фильтр")
	}
	if result.ShouldDecline {
		t.Fatal("фильтр удалёнки не настроен на автоотклонение")
	}
}

func TestFiltersAvoidCompanyDeclines(t *testing.T) {
	filters := NewHardFilters(FilterConfig{AvoidCompanies: []string{"BadCorp"}, Penalty: 10})

	result := filters.Evaluate(domain.Extraction{
		WorkWeek: domain.WorkWeekNotMentioned,
		Fields:   domain.Extracted{Company: "badcorp"}.Normalize(),
	})
	if result.Passed || !result.ShouldDecline {
		t.Fatal("компания из avoid-списка должна автоотклоняться")
	}
	if len(result.FailedFilters) != 1 || result.FailedFilters[0] != FilterAvoidCompany {
		t.Fatalf("неожиданный список фильтров: %v", result.FailedFilters)
	}
}

func TestFiltersPenaltiesAccumulate(t *testing.T) {
	filters := NewHardFilters(FilterConfig{RemoteRequired: true, AvoidCompanies: []string{"BadCorp"}, Penalty: 25})

	result := filters.Evaluate(domain.Extraction{
		WorkWeek: domain.WorkWeekConfirmed,
		Fields:   domain.Extracted{Company: "BadCorp", RemotePolicy: "office"}.Normalize(),
	})
	if len(result.FailedFilters) != 3 {
		t.Fatalf("ожидалось 3 проваленных фильтра, получено %v", result.FailedFilters)
	}
	if result.ScorePenalty != 75 {
		t.Fatalf("штрафы должны суммироваться, получено %d", result.ScorePenalty)
	}
}

func TestFiltersCleanPass(t *testing.T) {
	filters := NewHardFilters(FilterConfig{Penalty: 25})

	result := filters.Evaluate(domain.Extraction{
		WorkWeek: domain.WorkWeekFiveDay,
		Fields:   domain.Extracted{Company: "Acme", RemotePolicy: "remote"}.Normalize(),
	})
	if !result.Passed || result.ShouldDecline || result.ScorePenalty != 0 {
		t.Fatalf("чистый кейс не должен срабатывать: %+v", result)
	}
}
