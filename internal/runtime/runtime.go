// Package runtime implements the Runtime state machine: classify,
// plan, execute, synthesize, done — with an LLM-driven primary path
// and a rule-based fallback branch for when the chat provider is
// disabled or errors. Grounded on the original chatbot-service's
// orchestrator.py (rule-based branch, response formatting,
// city/time extraction) and agents/orchestrator_agent.py-style
// Classifying→Planning→Executing→Synthesizing pipeline described in
// the spec this package implements.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"agenticrag/internal/intent"
	"agenticrag/internal/llmprovider"
	"agenticrag/internal/planner"
	"agenticrag/internal/rag/retrieve"
	"agenticrag/internal/session"
	"agenticrag/internal/tools"
)

// tracer emits the Runtime's per-request spans. It resolves against
// whatever global tracer provider observability.InitOTel installed; with
// none installed (OTLP not configured) it's a no-op, same tolerance as
// the rest of the startup path.
var tracer = otel.Tracer("agenticrag/internal/runtime")

// Event is one streamed progress update, per the Runtime's SSE schema.
type Event struct {
	Todo      []string `json:"todo"`
	Completed int      `json:"completed"`
	Status    string   `json:"status"`
	Final     *string  `json:"final,omitempty"`
	Done      bool     `json:"done,omitempty"`
}

// Meta is the chat response's diagnostic envelope.
type Meta struct {
	Intent      string                     `json:"intent"`
	Analysis    intent.Result              `json:"analysis"`
	Plan        planner.Plan               `json:"plan"`
	Agent       string                     `json:"agent,omitempty"`
	SessionID   string                     `json:"session_id"`
	RecentTurns []session.ConversationTurn `json:"recent_turns"`
	LLMFallback bool                       `json:"llm_fallback,omitempty"`
}

// ChatResponse is the Runtime's unary response shape.
type ChatResponse struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Meta           Meta   `json:"meta"`
}

const apologyText = "죄송해요, 지금은 답변을 만들지 못했어요. 잠시 후 다시 시도해주세요."

const helpText = "Agentic RAG 실습용 챗봇입니다.\n\n" +
	"- weather: 날씨 조회\n" +
	"- calendar: 일정 조회/생성\n" +
	"- file: 파일 검색\n" +
	"- notification: 알림 발송(mock)\n"

// Runtime drives one request through Classifying → Planning →
// Executing → Synthesizing → Done.
type Runtime struct {
	sessions   *session.Store
	classifier *intent.Classifier
	planner    *planner.Planner
	executor   *tools.Executor
	chat       llmprovider.Chat
	turnLog    *session.TurnLogSink
	maxReplans int
}

// New builds a Runtime. A nil chat defaults to llmprovider.DisabledChat,
// which routes every request through the rule-based fallback branch.
func New(sessions *session.Store, classifier *intent.Classifier, plnr *planner.Planner, executor *tools.Executor, chat llmprovider.Chat, turnLog *session.TurnLogSink, maxReplans int) *Runtime {
	if chat == nil {
		chat = llmprovider.DisabledChat
	}
	if maxReplans <= 0 {
		maxReplans = 2
	}
	return &Runtime{sessions: sessions, classifier: classifier, planner: plnr, executor: executor, chat: chat, turnLog: turnLog, maxReplans: maxReplans}
}

// Handle runs one request to completion and returns the unary response.
func (r *Runtime) Handle(ctx context.Context, userInput, conversationID string) ChatResponse {
	return r.run(ctx, userInput, conversationID, nil)
}

// Stream runs one request to completion, invoking emit with each
// progress event in the Runtime's documented sequence, and returns the
// same response Handle would.
func (r *Runtime) Stream(ctx context.Context, userInput, conversationID string, emit func(Event)) ChatResponse {
	return r.run(ctx, userInput, conversationID, emit)
}

func (r *Runtime) run(ctx context.Context, userInput, conversationID string, emit func(Event)) ChatResponse {
	ctx, rootSpan := tracer.Start(ctx, "runtime.run")
	defer rootSpan.End()

	start := time.Now()
	if emit != nil {
		emit(Event{Todo: []string{}, Status: "analyzing intent"})
	}

	sess := r.sessions.GetOrCreate(conversationID, "")
	recentTurns := r.sessions.GetRecentTurns(sess.ID, 5)
	rootSpan.SetAttributes(attribute.String("session.id", sess.ID))

	ctx, classifySpan := tracer.Start(ctx, "runtime.classify")
	analysis := r.classifier.Classify(ctx, userInput)
	classifySpan.SetAttributes(attribute.String("intent", analysis.Intent))
	classifySpan.End()

	if emit != nil {
		emit(Event{Todo: []string{}, Status: "planning"})
	}

	ctx, planSpan := tracer.Start(ctx, "runtime.plan")
	plan, ok := r.planner.Plan(ctx, userInput, analysis.Intent, analysis.APIs, toRecentTurns(recentTurns))
	llmFallback := !ok
	if !ok {
		plan = planner.RuleBasedPlan(userInput, analysis.Intent, analysis.APIs)
	}
	if len(plan.Tasks) == 0 {
		plan = planner.FallbackPlan()
	}
	planSpan.SetAttributes(attribute.Bool("llm_fallback", llmFallback), attribute.Int("task_count", len(plan.Tasks)))
	planSpan.End()

	todo := planner.Texts(plan)
	if emit != nil {
		emit(Event{Todo: todo, Completed: 0, Status: "plan ready"})
	}

	taskList := planner.ToToolTasks(plan)

	var fillArgs tools.FillArgsFunc
	var replanFn tools.ReplanFunc
	if llmFallback {
		fillArgs = func(tool string, schema map[string]string, observations []tools.Observation) map[string]any {
			return ruleBasedFill(tool, userInput)
		}
	} else {
		fillArgs = func(tool string, schema map[string]string, observations []tools.Observation) map[string]any {
			return r.llmFillArgs(ctx, tool, schema, userInput, observations)
		}
		replanFn = func(current []tools.Task, observations []tools.Observation) []tools.Task {
			newPlan, ok := r.planner.Replan(ctx, userInput, analysis.Intent, analysis.APIs, toPlannerTasks(current), observations)
			if !ok || len(newPlan.Tasks) == 0 {
				return nil
			}
			return planner.ToToolTasks(newPlan)
		}
	}

	ctx, execSpan := tracer.Start(ctx, "runtime.execute")
	observations, usedTools, finalTasks := r.executor.ExecutePlan(ctx, sess.ID, taskList, fillArgs, replanFn, r.maxReplans)
	execSpan.SetAttributes(attribute.Int("observation_count", len(observations)))
	execSpan.End()

	if emit != nil {
		for i := range observations {
			tool := observations[i].Tool
			if tool == "" {
				tool = "none"
			}
			emit(Event{Todo: todo, Completed: i + 1, Status: statusForTool(tool)})
		}
	}

	synthCtx, synthSpan := tracer.Start(ctx, "runtime.synthesize")
	var answer string
	if llmFallback {
		answer = ruleBasedAnswer(analysis.Intent, userInput, observations)
	} else {
		answer = r.synthesize(synthCtx, userInput, analysis.Intent, finalTasks, observations)
		if strings.TrimSpace(answer) == "" {
			answer = apologyText
		}
	}
	synthSpan.End()

	turn := session.ConversationTurn{
		UserInput:         userInput,
		AssistantResponse: answer,
		Intent:            analysis.Intent,
		Confidence:        analysis.Confidence,
		ToolsUsed:         usedTools,
		Success:           true,
		ProcessingTime:    time.Since(start),
	}
	turn = r.sessions.AppendTurn(sess.ID, turn)
	r.turnLog.Mirror(sess.ID, turn)

	if emit != nil {
		final := answer
		emit(Event{Todo: todo, Completed: len(todo), Final: &final, Done: true})
	}

	return ChatResponse{
		Message:        answer,
		ConversationID: sess.ID,
		Role:           "assistant",
		Meta: Meta{
			Intent:      analysis.Intent,
			Analysis:    analysis,
			Plan:        plan,
			SessionID:   sess.ID,
			RecentTurns: recentTurns,
			LLMFallback: llmFallback,
		},
	}
}

func statusForTool(tool string) string {
	if tool == "none" {
		return "processing"
	}
	return "calling " + tool
}

func toRecentTurns(turns []session.ConversationTurn) []planner.RecentTurn {
	out := make([]planner.RecentTurn, len(turns))
	for i, t := range turns {
		out[i] = planner.RecentTurn{UserInput: t.UserInput, AssistantResponse: t.AssistantResponse}
	}
	return out
}

func toPlannerTasks(tasks []tools.Task) []planner.Task {
	out := make([]planner.Task, len(tasks))
	for i, t := range tasks {
		out[i] = planner.Task{ID: t.ID, Text: t.Text, Tool: t.Tool, Args: t.Args}
	}
	return out
}

// llmFillArgs asks the chat provider to fill a tool's missing arguments
// as a JSON object, leniently extracted the same way plan/replan are.
// A failed or unparseable reply yields an empty map, leaving the
// Executor's own per-tool defaults (e.g. city defaulting to Seoul) in
// effect.
func (r *Runtime) llmFillArgs(ctx context.Context, tool string, schema map[string]string, userInput string, observations []tools.Observation) map[string]any {
	obsJSON, _ := json.Marshal(observations)
	prompt := fmt.Sprintf(
		"Fill in the arguments for tool %q given its schema %v and the user's request. Respond with a JSON object of argument values only.\n\nUser request: %s\nObservations so far: %s\n",
		tool, schema, userInput, string(obsJSON),
	)
	reply, err := r.chat.Complete(ctx, []llmprovider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return map[string]any{}
	}
	args, ok := extractArgs(reply)
	if !ok {
		return map[string]any{}
	}
	return args
}

func extractArgs(reply string) (map[string]any, bool) {
	reply = strings.TrimSpace(reply)
	var out map[string]any
	if err := json.Unmarshal([]byte(reply), &out); err == nil {
		return out, true
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err != nil {
		return nil, false
	}
	return out, true
}

// synthesize asks the chat provider for the final natural-language
// answer given the completed tasks and their observations.
func (r *Runtime) synthesize(ctx context.Context, userInput, intentLabel string, tasks []tools.Task, observations []tools.Observation) string {
	obsJSON, _ := json.Marshal(observations)
	prompt := fmt.Sprintf(
		"Given the user's request, the detected intent, and the tool observations below, write a concise final answer in the same language as the request.\n\n"+
			"Intent: %s\nUser request: %s\nObservations: %s\n",
		intentLabel, userInput, string(obsJSON),
	)
	reply, err := r.chat.Complete(ctx, []llmprovider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(reply)
}

// --- Rule-based fallback branch, grounded on orchestrator.py ---

var cityNames = []string{"서울", "부산", "인천", "대구", "광주", "대전", "울산", "세종"}

func extractCity(text string) string {
	for _, c := range cityNames {
		if strings.Contains(text, c) {
			return c
		}
	}
	return "서울"
}

var hourMinuteRe = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
var hourOnlyRe = regexp.MustCompile(`(\d{1,2})\s*시`)

// extractTime reads a start time from text. An hour from 1 to 6 ("3시")
// is read as afternoon unless 오전 appears; 오후 moves any hour before 12
// to the afternoon.
func extractTime(text string) string {
	pm := func(hour int) int {
		if hour < 12 && (strings.Contains(text, "오후") || (hour >= 1 && hour <= 6 && !strings.Contains(text, "오전"))) {
			return hour + 12
		}
		return hour
	}
	if m := hourOnlyRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("%02d:00", pm(hour))
	}
	if m := hourMinuteRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%02d:%02d", pm(hour), minute)
	}
	return "09:00"
}

var calendarCreateStopwords = []string{"일정", "회의", "미팅", "잡아줘", "추가해줘", "생성해줘", "만들어줘", "잡아", "생성", "추가", "만들"}

func extractTitle(text string) string {
	title := text
	for _, w := range calendarCreateStopwords {
		title = strings.ReplaceAll(title, w, "")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "새 일정"
	}
	return title
}

func detectChannel(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "슬랙") || strings.Contains(lower, "slack"):
		return "slack"
	case strings.Contains(text, "이메일") || strings.Contains(lower, "email") || strings.Contains(text, "메일"):
		return "email"
	case strings.Contains(text, "문자") || strings.Contains(lower, "sms"):
		return "sms"
	default:
		return "slack"
	}
}

func ruleBasedFill(tool, userInput string) map[string]any {
	switch tool {
	case "weather.get":
		return map[string]any{"city": extractCity(userInput)}
	case "calendar.get":
		when := "today"
		if strings.Contains(userInput, "내일") {
			when = "tomorrow"
		}
		return map[string]any{"when": when}
	case "calendar.create":
		return map[string]any{"title": extractTitle(userInput), "start_time": extractTime(userInput)}
	case "file.search":
		return map[string]any{"q": userInput}
	case "notification.send":
		return map[string]any{"title": "알림", "message": userInput, "recipient": "team", "channel": detectChannel(userInput)}
	case "rag.query":
		return map[string]any{"query": userInput, "top_k": 5}
	default:
		return map[string]any{}
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func getStr(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func getNumStr(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch n := m[key].(type) {
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return fmt.Sprintf("%g", n)
	case string:
		return n
	default:
		return ""
	}
}

// ruleBasedAnswer formats the final answer directly from tool
// observations, without an LLM call, mirroring orchestrator.py's
// per-intent response templates.
func ruleBasedAnswer(intentLabel, userInput string, observations []tools.Observation) string {
	byTool := map[string]tools.Observation{}
	for _, o := range observations {
		if o.Tool != "" {
			byTool[o.Tool] = o
		}
	}

	var lines []string
	switch intentLabel {
	case intent.IntentHelp:
		return helpText

	case intent.IntentWeatherQuery:
		obs, ok := byTool["weather.get"]
		if !ok || obs.Error != "" {
			lines = append(lines, "날씨 정보를 가져오지 못했어요.")
		} else {
			data := asMap(obs.Result)
			lines = append(lines, fmt.Sprintf("%s 현재 날씨는 %s, %s°C 입니다.", getStr(data, "city"), getStr(data, "condition"), getNumStr(data, "temperature")))
		}

	case intent.IntentCalendarQuery:
		obs, ok := byTool["calendar.get"]
		if !ok || obs.Error != "" {
			lines = append(lines, "일정 정보를 가져오지 못했어요.")
		} else {
			data := asMap(obs.Result)
			total := getNumStr(data, "total_events")
			if total == "" || total == "0" {
				lines = append(lines, fmt.Sprintf("%s 일정이 없습니다.", getStr(data, "date")))
			} else {
				lines = append(lines, fmt.Sprintf("%s 일정 %s개:", getStr(data, "date"), total))
				for _, e := range asSlice(data["events"]) {
					ev := asMap(e)
					lines = append(lines, fmt.Sprintf("- %s %s", getStr(ev, "start_time"), getStr(ev, "title")))
				}
			}
		}

	case intent.IntentCalendarCreate:
		obs, ok := byTool["calendar.create"]
		if !ok || obs.Error != "" {
			lines = append(lines, "일정을 생성하지 못했어요.")
		} else {
			data := asMap(obs.Result)
			lines = append(lines, fmt.Sprintf("일정을 생성했어요: %s - %s (id=%s)", getStr(data, "start_time"), getStr(data, "title"), getNumStr(data, "id")))
		}

	case intent.IntentFileSearch:
		obs, ok := byTool["file.search"]
		if !ok || obs.Error != "" {
			lines = append(lines, fmt.Sprintf("'%s' 검색 중 오류가 발생했습니다.", userInput))
		} else {
			data := asMap(obs.Result)
			files := asSlice(data["files"])
			if len(files) == 0 {
				lines = append(lines, fmt.Sprintf("'%s' 검색 결과가 없습니다.", userInput))
			} else {
				lines = append(lines, fmt.Sprintf("검색 결과 %s개:", getNumStr(data, "total_matches")))
				for _, f := range files {
					fm := asMap(f)
					lines = append(lines, fmt.Sprintf("- %s (%s)", getStr(fm, "name"), getStr(fm, "path")))
				}
			}
		}

	case intent.IntentNotificationSend:
		obs, ok := byTool["notification.send"]
		if !ok || obs.Error != "" {
			lines = append(lines, "알림 발송에 실패했습니다.")
		} else {
			data := asMap(obs.Result)
			channel := detectChannel(userInput)
			lines = append(lines, fmt.Sprintf("[mock] %s 알림 발송 완료 (id=%s)", channel, getNumStr(data, "id")))
		}

	default:
		obs, ok := byTool["rag.query"]
		if !ok || obs.Error != "" {
			lines = append(lines, "관련 문서를 찾지 못했어요.")
		} else if hits, ok := obs.Result.([]retrieve.Hit); ok && len(hits) > 0 {
			top := hits[0]
			lines = append(lines, fmt.Sprintf("관련 문서 기반 답변(Top1):\n- %s\n(출처: %s)", getStr(top.Payload, "text"), getStr(top.Payload, "source")))
		} else {
			lines = append(lines, "관련 문서를 찾지 못했어요.")
		}
	}

	if notif, ok := byTool["notification.send"]; ok && intentLabel != intent.IntentNotificationSend {
		if notif.Error == "" {
			lines = append(lines, fmt.Sprintf("[mock] %s 알림 발송 완료", detectChannel(userInput)))
		}
	}

	return strings.Join(lines, "\n")
}
