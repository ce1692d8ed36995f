package domain

// EventType — тип события потока прогресса.
type EventType string

const (
	// EventStarted — прогон конвейера начался.
	EventStarted EventType = "started"
	// EventProgress — промежуточный шаг конвейера.
	EventProgress EventType = "progress"
	// EventOpportunityCreated — создана новая запись возможности.
	EventOpportunityCreated EventType = "opportunity_created"
	// EventCompleted — прогон завершён; всегда последнее событие успешного прогона.
	EventCompleted EventType = "completed"
	// EventError — прогон завершился ошибкой; всегда последнее событие.
	EventError EventType = "error"
)

// OpportunityRef — краткая ссылка на возможность в событии.
type OpportunityRef struct {
	ID      int64  `json:"id"`
	Company string `json:"company"`
	Role    string `json:"role"`
	Score   int    `json:"score"`
	Tier    Tier   `json:"tier"`
}

// RunSummary — итог прогона. Считается даже при частичном провале.
type RunSummary struct {
	Processed  int `json:"processed"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Event — одно событие потока прогресса конвейера.
type Event struct {
	Type        EventType       `json:"type"`
	Step        string          `json:"step,omitempty"`
	Current     int             `json:"current,omitempty"`
	Total       int             `json:"total,omitempty"`
	Message     string          `json:"message,omitempty"`
	Opportunity *OpportunityRef `json:"opportunity,omitempty"`
	Summary     *RunSummary     `json:"summary,omitempty"`
}
