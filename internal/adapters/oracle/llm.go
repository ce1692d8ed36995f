package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"recruiter-inbox/internal/domain"
	openai "recruiter-inbox/internal/infra/openai"
)

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMOracle реализует domain.Oracle через OpenAI Chat Completions.
type LLMOracle struct {
	client  chatCompletionClient
	model   string
	timeout time.Duration
}

// NewLLM создаёт оракула на базе Chat Completions.
func NewLLM(client chatCompletionClient, model string, timeout time.Duration) *LLMOracle {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMOracle{client: client, model: model, timeout: timeout}
}

var _ domain.Oracle = (*LLMOracle)(nil)

const transcriptClipRunes = 8000

type extractionPayload struct {
	ConversationState string   `json:"conversation_state"`
	CourtesyClose     bool     `json:"courtesy_close"`
	WorkWeek          string   `json:"work_week"`
	Company           string   `json:"company"`
	Role              string   `json:"role"`
	Seniority         string   `json:"seniority"`
	TechStack         []string `json:"tech_stack"`
	SalaryMin         int      `json:"salary_min"`
	SalaryMax         int      `json:"salary_max"`
	Currency          string   `json:"currency"`
	RemotePolicy      string   `json:"remote_policy"`
	Location          string   `json:"location"`
	Confidence        float64  `json:"confidence"`
}

// ExtractOpportunity извлекает поля возможности из полного транскрипта.
func (o *LLMOracle) ExtractOpportunity(ctx context.Context, transcript string) (domain.Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`Analyze this recruiter conversation transcript and extract the opportunity details.
Rules:
1. Classify the conversation: "new_opportunity" for a first substantive pitch, "follow_up" when the recruiter asks something about an earlier pitch, "courtesy_close" for a closing/thank-you message with no new question.
2. Extract company, role title, seniority level, tech stack list, salary range with currency, remote policy and location. Use "unknown" for anything the transcript does not state.
3. Report the work week: "confirmed" if a six-day or otherwise non-standard schedule is explicitly confirmed, "five_day" if a standard week is explicit, "not_mentioned" if schedule is absent, "unknown" if ambiguous.
4. salary_min/salary_max are yearly integers in the stated currency, 0 when not stated.
5. confidence is your 0..1 confidence in the extraction overall.
Return strict JSON: {"conversation_state": "...", "courtesy_close": false, "work_week": "...", "company": "...", "role": "...", "seniority": "...", "tech_stack": ["..."], "salary_min": 0, "salary_max": 0, "currency": "...", "remote_policy": "...", "location": "...", "confidence": 0.0}.

Transcript:
%s`, clipRunes(transcript, transcriptClipRunes))

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.1,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You are a precise information extraction engine for recruiter messages. Only report facts present in the transcript, never invent details.",
			},
			{Role: openai.RoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Extraction{}, &domain.OracleError{Err: err}
	}
	content, err := resp.Content()
	if err != nil {
		return domain.Extraction{}, &domain.OracleError{Err: err}
	}
	var parsed extractionPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.Extraction{}, &domain.OracleError{Err: fmt.Errorf("распаковка ответа LLM: %w", err)}
	}

	extraction := domain.Extraction{
		State:         parseConversationState(parsed.ConversationState),
		CourtesyClose: parsed.CourtesyClose,
		WorkWeek:      parseWorkWeek(parsed.WorkWeek),
		Fields: domain.Extracted{
			Company:      parsed.Company,
			Role:         parsed.Role,
			Seniority:    parsed.Seniority,
			TechStack:    parsed.TechStack,
			SalaryMin:    parsed.SalaryMin,
			SalaryMax:    parsed.SalaryMax,
			Currency:     parsed.Currency,
			RemotePolicy: parsed.RemotePolicy,
			Location:     parsed.Location,
			Confidence:   parsed.Confidence,
		}.Normalize(),
	}
	return extraction, nil
}

type followUpPayload struct {
	QuestionType    string `json:"question_type"`
	CanAutoRespond  bool   `json:"can_auto_respond"`
	RequiresContext bool   `json:"requires_context"`
	SuggestedReply  string `json:"suggested_reply"`
}

// AnalyzeFollowUp определяет тип follow-up вопроса и возможность автоответа.
func (o *LLMOracle) AnalyzeFollowUp(ctx context.Context, transcript string) (domain.FollowUpAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`The recruiter sent a follow-up to an earlier conversation. Analyze the latest inbound question.
Rules:
1. question_type is one of: salary, availability, experience, interest, scheduling, tech_stack, none, other.
2. can_auto_respond is true only when the answer is fully determined by the transcript.
3. requires_context is true when answering needs information that is NOT in the transcript (calendars, private preferences, documents).
4. suggested_reply is a short professional reply draft, empty when requires_context is true.
Return strict JSON: {"question_type": "...", "can_auto_respond": false, "requires_context": false, "suggested_reply": "..."}.

Transcript:
%s`, clipRunes(transcript, transcriptClipRunes))

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You triage recruiter follow-up questions for a busy engineer. Be conservative: when unsure, require human context.",
			},
			{Role: openai.RoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.FollowUpAnalysis{}, &domain.OracleError{Err: err}
	}
	content, err := resp.Content()
	if err != nil {
		return domain.FollowUpAnalysis{}, &domain.OracleError{Err: err}
	}
	var parsed followUpPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.FollowUpAnalysis{}, &domain.OracleError{Err: fmt.Errorf("распаковка ответа LLM: %w", err)}
	}

	analysis := domain.FollowUpAnalysis{
		QuestionType:    domain.ParseQuestionType(parsed.QuestionType),
		CanAutoRespond:  parsed.CanAutoRespond,
		RequiresContext: parsed.RequiresContext,
		SuggestedReply:  strings.TrimSpace(parsed.SuggestedReply),
	}
	if analysis.RequiresContext {
		// Консервативно: без контекста автоответ запрещён.
		analysis.CanAutoRespond = false
		analysis.SuggestedReply = ""
	}
	return analysis, nil
}

type draftPayload struct {
	Reply string `json:"reply"`
}

// DraftReply готовит черновик ответа рекрутеру по данным возможности.
func (o *LLMOracle) DraftReply(ctx context.Context, opp domain.Opportunity, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	details, err := json.Marshal(map[string]any{
		"company":   opp.Extracted.Company,
		"role":      opp.Extracted.Role,
		"seniority": opp.Extracted.Seniority,
		"tier":      opp.Tier,
		"outcome":   opp.Outcome,
	})
	if err != nil {
		return "", &domain.OracleError{Err: fmt.Errorf("marshal opportunity: %w", err)}
	}

	userPrompt := fmt.Sprintf(`Draft a short reply to the recruiter.
Context (JSON): %s
Rules:
1. If outcome is "auto_decline", politely decline without burning the bridge.
2. Otherwise express measured interest and ask for the single most important missing detail.
3. Maximum 4 sentences, no emojis, no placeholders like [NAME].
Return strict JSON: {"reply": "..."}.

Transcript:
%s`, string(details), clipRunes(transcript, transcriptClipRunes))

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.4,
		MaxTokens:   400,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You write concise, professional replies to recruiters on behalf of a software engineer.",
			},
			{Role: openai.RoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &domain.OracleError{Err: err}
	}
	content, err := resp.Content()
	if err != nil {
		return "", &domain.OracleError{Err: err}
	}
	var parsed draftPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", &domain.OracleError{Err: fmt.Errorf("распаковка ответа LLM: %w", err)}
	}
	reply := strings.TrimSpace(parsed.Reply)
	if reply == "" {
		return "", &domain.OracleError{Err: fmt.Errorf("пустой черновик ответа")}
	}
	return reply, nil
}

func parseConversationState(raw string) domain.ConversationState {
	switch domain.ConversationState(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.StateFollowUp:
		return domain.StateFollowUp
	case domain.StateCourtesyClose:
		return domain.StateCourtesyClose
	}
	return domain.StateNewOpportunity
}

func parseWorkWeek(raw string) domain.WorkWeekStatus {
	switch domain.WorkWeekStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.WorkWeekConfirmed:
		return domain.WorkWeekConfirmed
	case domain.WorkWeekFiveDay:
		return domain.WorkWeekFiveDay
	case domain.WorkWeekNotMentioned:
		return domain.WorkWeekNotMentioned
	case domain.WorkWeekSkipped:
		return domain.WorkWeekSkipped
	}
	return domain.WorkWeekUnknown
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
