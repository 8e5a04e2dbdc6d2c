// Package planner implements the Planner: an LLM-driven plan/replan
// pair that decomposes a request into dependency-ordered tool tasks,
// with lenient JSON extraction and a rule-based todo-list fallback for
// when the chat provider is unavailable. Grounded on the original
// chatbot-service's task_planner_agent.py (LLM plan/replan) and
// task_planner.py (rule-based To-Do style steps).
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"agenticrag/internal/llmprovider"
	"agenticrag/internal/tools"
)

// Task mirrors tools.Task plus the dependency and narrative fields the
// planner itself reasons about; Runtime flattens it to tools.Task once
// the plan has been topologically sorted.
type Task struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	DependsOn []string       `json:"depends_on"`
	Produces  string         `json:"produces"`
}

// Plan is the planner's JSON output shape.
type Plan struct {
	Tasks     []Task `json:"tasks"`
	FinalStep string `json:"final_step"`
}

// FallbackPlan is substituted by the Runtime whenever plan/replan
// returns an empty or malformed task list.
func FallbackPlan() Plan {
	return Plan{Tasks: []Task{{ID: "t1", Text: "process request", Tool: "none"}}}
}

// Planner decomposes requests into task plans via a few-shot LLM call,
// grounded on task_planner_agent.py's plan/replan prompts.
type Planner struct {
	chat        llmprovider.Chat
	toolsPrompt string
}

// New builds a Planner. A nil chat defaults to llmprovider.DisabledChat,
// whose Complete call always errors, so callers fall through to
// RuleBasedPlan.
func New(chat llmprovider.Chat, specs []tools.Spec) *Planner {
	if chat == nil {
		chat = llmprovider.DisabledChat
	}
	if specs == nil {
		specs = tools.DefaultSpecs
	}
	return &Planner{chat: chat, toolsPrompt: tools.Prompt(specs)}
}

// RecentTurn is the minimal shape the plan/replan prompts need from
// conversation history, decoupled from session.ConversationTurn so this
// package doesn't import session.
type RecentTurn struct {
	UserInput         string `json:"user_input"`
	AssistantResponse string `json:"assistant_response"`
}

// Plan produces an initial task plan for the request. ok is false when
// the chat provider errors or returns an empty/malformed plan; callers
// should fall back to RuleBasedPlan or FallbackPlan in that case.
func (p *Planner) Plan(ctx context.Context, userInput, intent string, apis []string, recent []RecentTurn) (Plan, bool) {
	prompt := fmt.Sprintf(
		"You are a task planner agent.\n"+
			"Decompose the user request into executable subtasks with execution order and dependencies, as JSON only.\n\n"+
			"Available tools:\n%s\n\n"+
			"Intent: %s\nCandidate APIs: %v\n\nRecent turns: %s\n\n"+
			"Return shape (fixed keys):\n"+
			`{"tasks":[{"id":"t1","text":"...","tool":"weather.get|...|none","args":{},"depends_on":["t0"],"produces":"..."}],"final_step":"tN"}`+"\n\n"+
			"Rules:\n- use \"none\" when no tool is needed\n- fill args when confident, else leave empty for the executor to fill\n- depends_on is a list of task ids\n\n"+
			"User request: %s\n",
		p.toolsPrompt, intent, apis, safeJSON(recent, 800), userInput,
	)
	return p.call(ctx, prompt)
}

// Replan updates the plan given execution observations so far.
func (p *Planner) Replan(ctx context.Context, userInput, intent string, apis []string, current []Task, observations []tools.Observation) (Plan, bool) {
	prompt := fmt.Sprintf(
		"You are a task planner agent. Revise the plan to account for the observations below. JSON only.\n\n"+
			"Available tools:\n%s\n\nIntent: %s\nCandidate APIs: %v\n\n"+
			"Current tasks: %s\n\nObservations: %s\n\n"+
			"Return shape (fixed keys):\n"+
			`{"tasks":[{"id":"t1","text":"...","tool":"...|none","args":{},"depends_on":[],"produces":"..."}],"final_step":"tN"}`+"\n\n"+
			"User request: %s\n",
		p.toolsPrompt, intent, apis, safeJSON(current, 1400), safeJSON(observations, 1400), userInput,
	)
	return p.call(ctx, prompt)
}

func (p *Planner) call(ctx context.Context, prompt string) (Plan, bool) {
	reply, err := p.chat.Complete(ctx, []llmprovider.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return Plan{}, false
	}
	plan, ok := extractPlan(reply)
	if !ok || len(plan.Tasks) == 0 {
		return Plan{}, false
	}
	return plan, true
}

func safeJSON(v any, limit int) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	s := string(b)
	if len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}

// extractPlan parses the whole reply as JSON first, then falls back to
// the substring between the first "{" and the last "}" — the same
// leniency as the original's _extract_json_object, since LLMs
// routinely wrap JSON in prose or code fences.
func extractPlan(reply string) (Plan, bool) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Plan{}, false
	}
	var plan Plan
	if err := json.Unmarshal([]byte(reply), &plan); err == nil {
		return plan, true
	}
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Plan{}, false
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &plan); err != nil {
		return Plan{}, false
	}
	return plan, true
}

// RuleBasedPlan builds a static, intent-keyed To-Do list, used when the
// chat provider is disabled or the LLM plan is malformed. Grounded on
// task_planner.py's per-intent task text and "그리고"/"한 다음"/"후에"
// composite-request heuristic.
func RuleBasedPlan(userInput, intent string, apis []string) Plan {
	texts := []string{"사용자 요청의 의도를 확인한다"}

	switch intent {
	case "weather_query":
		texts = append(texts, "도시/기간 등 파라미터를 추출한다", "weather-service를 호출해 데이터를 가져온다", "결과를 요약해 답변한다")
	case "calendar_query":
		texts = append(texts, "날짜(오늘/내일/특정일)를 해석한다", "calendar-service를 호출해 일정을 가져온다", "일정/빈시간을 요약한다")
	case "calendar_create":
		texts = append(texts, "제목/시간/날짜를 추출한다", "calendar-service에 이벤트 생성을 요청한다", "생성 결과를 확인해 사용자에게 안내한다")
	case "file_search":
		texts = append(texts, "검색 키워드를 정제한다", "file-service를 호출해 검색한다", "상위 결과를 리스트업한다")
	case "notification_send":
		texts = append(texts, "채널(email/slack/sms)과 수신자를 결정한다", "notification-service로 발송한다", "발송 결과를 확인한다")
	case "help":
		texts = append(texts, "가능한 기능/예시를 정리해서 안내한다")
	default:
		texts = append(texts, "rag-service(Qdrant)를 질의해 관련 문서를 찾는다", "근거(출처)와 함께 간단히 답한다")
	}

	isMulti := strings.Contains(userInput, "그리고") || strings.Contains(userInput, "한 다음") || strings.Contains(userInput, "후에")
	if isMulti && len(apis) > 1 {
		texts = append(texts[:1:1], append([]string{"요청이 여러 작업으로 구성되어 있는지 분해한다"}, texts[1:]...)...)
	}

	toolForIntent := map[string]string{
		"weather_query":     "weather.get",
		"calendar_query":    "calendar.get",
		"calendar_create":   "calendar.create",
		"file_search":       "file.search",
		"notification_send": "notification.send",
	}
	executionTool := toolForIntent[intent]
	if executionTool == "" && intent != "help" {
		executionTool = "rag.query"
	}

	tasks := make([]Task, len(texts))
	var prev string
	for i, text := range texts {
		id := fmt.Sprintf("t%d", i+1)
		tool := "none"
		if i == len(texts)-2 && executionTool != "" {
			tool = executionTool
		}
		var deps []string
		if prev != "" {
			deps = []string{prev}
		}
		tasks[i] = Task{ID: id, Text: text, Tool: tool, DependsOn: deps}
		prev = id
	}

	// Composite notification overlay: the classifier appends "notification"
	// to apis when the input also asks to relay the result somewhere, so
	// the plan gets one more tool step chained after the primary task.
	if intent != "notification_send" && contains(apis, "notification") {
		id := fmt.Sprintf("t%d", len(tasks)+1)
		tasks = append(tasks, Task{
			ID: id, Text: "채널(email/slack/sms)과 수신자를 결정해 발송한다",
			Tool: "notification.send", DependsOn: []string{prev},
		})
		prev = id
	}

	return Plan{Tasks: tasks, FinalStep: prev}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Texts returns plan's task texts in topological (execution) order, the
// "todo" list the Runtime surfaces to callers.
func Texts(plan Plan) []string {
	sorted := topoSort(plan.Tasks)
	out := make([]string, len(sorted))
	for i, t := range sorted {
		out[i] = t.Text
	}
	return out
}

// ToToolTasks topologically sorts plan by DependsOn and flattens it to
// the tools.Task shape ExecutePlan consumes. A dependency edge that
// closes a cycle, or names an unknown task id, is skipped; no task is
// dropped.
func ToToolTasks(plan Plan) []tools.Task {
	sorted := topoSort(plan.Tasks)
	out := make([]tools.Task, len(sorted))
	for i, t := range sorted {
		out[i] = tools.Task{ID: t.ID, Tool: t.Tool, Args: t.Args, Text: t.Text}
	}
	return out
}

func topoSort(tasks []Task) []Task {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var order []Task
	visited := map[string]bool{}
	visiting := map[string]bool{}

	var visit func(id string)
	visit = func(id string) {
		if visited[id] || visiting[id] {
			return
		}
		t, ok := byID[id]
		if !ok {
			return
		}
		visiting[id] = true
		deps := append([]string(nil), t.DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		visiting[id] = false
		visited[id] = true
		order = append(order, t)
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	for _, id := range ids {
		visit(id)
	}
	return order
}
