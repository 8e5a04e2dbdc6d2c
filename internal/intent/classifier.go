// Package intent implements the Intent Classifier: a few-shot LLM
// primary path with lenient label parsing, a keyword-lexicon fallback
// for when the chat provider is disabled or errors, and the composite
// notification-intent overlay both paths share. Grounded on the
// original chatbot-service's keyword-based intent_classifier.py.
package intent

import (
	"context"
	"strings"

	"agenticrag/internal/llmprovider"
)

// Result is the classifier's output shape.
type Result struct {
	Intent     string
	APIs       []string
	Confidence float64
	Parameters map[string]any
	Reasoning  string
}

const (
	IntentWeatherQuery     = "weather_query"
	IntentCalendarQuery    = "calendar_query"
	IntentCalendarCreate   = "calendar_create"
	IntentFileSearch       = "file_search"
	IntentNotificationSend = "notification_send"
	IntentHelp             = "help"
	IntentChat             = "chat"
)

var validIntents = []string{
	IntentWeatherQuery, IntentCalendarQuery, IntentCalendarCreate,
	IntentFileSearch, IntentNotificationSend, IntentHelp, IntentChat,
}

var apisForIntent = map[string][]string{
	IntentWeatherQuery:     {"weather"},
	IntentCalendarQuery:    {"calendar"},
	IntentCalendarCreate:   {"calendar"},
	IntentFileSearch:       {"file"},
	IntentNotificationSend: {"notification"},
	IntentHelp:             {},
	IntentChat:             {"rag"},
}

var toolTriggeringIntents = map[string]bool{
	IntentWeatherQuery:   true,
	IntentCalendarQuery:  true,
	IntentCalendarCreate: true,
	IntentFileSearch:     true,
}

// Classifier produces intent classifications, preferring a few-shot LLM
// call and falling back to a keyword lexicon when the chat provider is
// disabled or the call itself fails.
type Classifier struct {
	chat llmprovider.Chat
}

// New builds a Classifier. A nil chat defaults to llmprovider.DisabledChat,
// which always routes to the keyword fallback.
func New(chat llmprovider.Chat) *Classifier {
	if chat == nil {
		chat = llmprovider.DisabledChat
	}
	return &Classifier{chat: chat}
}

const systemPrompt = `You are an intent classification service. Given one user message, respond with exactly one label from this set and nothing else: weather_query, calendar_query, calendar_create, file_search, notification_send, help, chat.`

// Classify runs the primary LLM path, falling back to the keyword
// lexicon when the chat provider is unavailable or errors.
func (c *Classifier) Classify(ctx context.Context, userInput string) Result {
	reply, err := c.chat.Complete(ctx, []llmprovider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userInput},
	})
	if err != nil {
		return applyComposite(classifyKeyword(userInput), userInput)
	}
	label := parseLabel(reply)
	if label == "" {
		label = IntentChat
	}
	res := Result{
		Intent:     label,
		APIs:       apisForIntent[label],
		Confidence: 0.85,
		Parameters: map[string]any{"user_input": userInput},
		Reasoning:  "llm few-shot classification",
	}
	return applyComposite(res, userInput)
}

// parseLabel extracts an intent label from a raw LLM reply: an exact
// match on the whole (trimmed, lowercased) reply first, then a
// substring match against each known label, else "" (unparseable).
func parseLabel(reply string) string {
	trimmed := strings.ToLower(strings.TrimSpace(reply))
	for _, label := range validIntents {
		if trimmed == label {
			return label
		}
	}
	for _, label := range validIntents {
		if strings.Contains(trimmed, label) {
			return label
		}
	}
	return ""
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

var (
	weatherKeywords      = []string{"날씨", "기온", "비", "눈", "우산", "weather"}
	calendarKeywords     = []string{"일정", "회의", "미팅", "스케줄", "calendar", "meeting"}
	calendarCreateVerbs  = []string{"잡아", "생성", "추가", "만들"}
	fileKeywords         = []string{"파일", "문서", "자료", "명세", "회의록", "file", "document"}
	notificationKeywords = []string{"알림", "공지", "보내", "전송", "슬랙", "이메일", "sms", "문자"}
	helpKeywords         = []string{"도움말", "뭐 할 수", "할 수 있어", "help"}
)

// classifyKeyword is the locale keyword lexicon used when the chat
// provider is disabled or the LLM call fails.
func classifyKeyword(userInput string) Result {
	s := strings.ToLower(userInput)
	intent, confidence := IntentChat, 0.7

	switch {
	case containsAny(s, weatherKeywords):
		intent = IntentWeatherQuery
	case containsAny(s, calendarKeywords):
		if containsAny(s, calendarCreateVerbs) {
			intent = IntentCalendarCreate
		} else {
			intent = IntentCalendarQuery
		}
	case containsAny(s, fileKeywords):
		intent = IntentFileSearch
	case containsAny(s, notificationKeywords):
		intent = IntentNotificationSend
	case containsAny(s, helpKeywords):
		intent, confidence = IntentHelp, 0.9
	}

	return Result{
		Intent:     intent,
		APIs:       apisForIntent[intent],
		Confidence: confidence,
		Parameters: map[string]any{"user_input": userInput},
		Reasoning:  "keyword-based fallback",
	}
}

var (
	notifyVerbs       = []string{"알려", "공유", "전달", "공지", "알림", "보내", "전송"}
	notifyChannels    = []string{"슬랙", "slack", "이메일", "email", "sms", "문자", "메일"}
	notifyRecipients  = []string{"팀", "팀원", "동료", "사람들", "전체", "전원", "모두"}
	notifyPrepositions = []string{"에게", "께", "한테"}
)

// applyComposite scans the input for a secondary notification intent
// whenever the primary intent already triggers a tool: a notification
// verb, a channel term, or a recipient+preposition pattern appends
// "notification" to APIs and sets parameters.notify. It never removes
// an already-detected notification intent or api.
func applyComposite(res Result, userInput string) Result {
	if !toolTriggeringIntents[res.Intent] {
		return res
	}
	s := strings.ToLower(userInput)
	hasVerb := containsAny(s, notifyVerbs)
	hasChannel := containsAny(s, notifyChannels)
	hasRecipientPhrase := containsAny(s, notifyRecipients) && containsAny(s, notifyPrepositions)

	if !hasVerb && !hasChannel && !hasRecipientPhrase {
		return res
	}
	if contains(res.APIs, "notification") {
		return res
	}

	res.APIs = append(append([]string{}, res.APIs...), "notification")
	if res.Parameters == nil {
		res.Parameters = map[string]any{}
	}
	res.Parameters["notify"] = true
	res.Parameters["notify_recipient"] = "team"
	return res
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
