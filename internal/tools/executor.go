package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"agenticrag/internal/apperr"
	"agenticrag/internal/config"
	"agenticrag/internal/observability"
	"agenticrag/internal/rag/retrieve"
	"agenticrag/internal/session"
)

// Task is one planned tool call (or, when Tool is "none", a plain
// narrative step carried for synthesis only).
type Task struct {
	ID   string
	Tool string
	Args map[string]any
	Text string
}

// Observation is one executed (or skipped) task's outcome.
type Observation struct {
	TaskID string
	Tool   string
	Args   map[string]any
	Cached bool
	Result any
	Error  string
	Note   string
}

// FillArgsFunc completes a task's arguments from the schema and the
// observations gathered so far, mirroring the ReAct-style argument
// filling the planner performs just-in-time.
type FillArgsFunc func(tool string, schema map[string]string, observations []Observation) map[string]any

// ReplanFunc produces a new task list after a tool failure, or nil/empty
// to give up and continue past the failure.
type ReplanFunc func(tasks []Task, observations []Observation) []Task

// Searcher is the retrieval-engine dependency of rag.query, narrowed to
// an interface so tests can substitute a fake.
type Searcher interface {
	Search(ctx context.Context, query string, opt retrieve.Options) ([]retrieve.Hit, error)
}

// Executor dispatches tool calls to downstream services (or, for
// rag.query, the in-process retrieval engine) and drives plan execution.
type Executor struct {
	http       *http.Client
	downstream config.DownstreamConfig
	rag        Searcher
	specs      []Spec
	sessions   *session.Store
}

// NewExecutor builds an Executor. specs defaults to DefaultSpecs when nil.
func NewExecutor(httpClient *http.Client, downstream config.DownstreamConfig, rag Searcher, sessions *session.Store, specs []Spec) *Executor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if specs == nil {
		specs = DefaultSpecs
	}
	return &Executor{http: httpClient, downstream: downstream, rag: rag, specs: specs, sessions: sessions}
}

func str(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return def
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return def
}

// CallTool dispatches one tool invocation by name.
func (e *Executor) CallTool(ctx context.Context, tool string, args map[string]any) (any, error) {
	switch tool {
	case "weather.get":
		city := str(args, "city", "Seoul")
		return e.getJSON(ctx, e.downstream.WeatherURL+"/weather/"+url.PathEscape(city))

	case "calendar.get":
		when := strings.ToLower(str(args, "when", "today"))
		endpoint := "/calendar/today"
		if when == "tomorrow" {
			endpoint = "/calendar/tomorrow"
		}
		return e.getJSON(ctx, e.downstream.CalendarURL+endpoint)

	case "calendar.create":
		payload := map[string]any{
			"title":      str(args, "title", "New event"),
			"start_time": str(args, "start_time", "09:00"),
		}
		return e.postJSON(ctx, e.downstream.CalendarURL+"/calendar/events", payload)

	case "file.search":
		q := str(args, "q", "")
		endpoint := e.downstream.FileURL + "/files/search?" + url.Values{"q": {q}}.Encode()
		return e.getJSON(ctx, endpoint)

	case "notification.send":
		payload := map[string]any{
			"title":     str(args, "title", "Notification"),
			"message":   str(args, "message", ""),
			"recipient": str(args, "recipient", "team"),
			"channel":   str(args, "channel", "slack"),
		}
		return e.postJSON(ctx, e.downstream.NotificationURL+"/notifications/send", payload)

	case "rag.query":
		if e.rag == nil {
			return nil, apperr.Downstream("retrieval engine is not configured", fmt.Errorf("rag.query unavailable"))
		}
		query := str(args, "query", "")
		topK := intArg(args, "top_k", 5)
		hits, err := e.rag.Search(ctx, query, retrieve.Options{TopK: topK})
		if err != nil {
			return nil, err
		}
		return hits, nil

	default:
		return nil, apperr.Validation("unknown tool", fmt.Errorf("unknown tool: %s", tool))
	}
}

func (e *Executor) getJSON(ctx context.Context, urlStr string) (any, error) {
	observability.LoggerWithTrace(ctx).Debug().Str("url", urlStr).Msg("downstream_request")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, apperr.Internal("build downstream request", err)
	}
	return e.doJSON(req)
}

func (e *Executor) postJSON(ctx context.Context, urlStr string, body any) (any, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Internal("encode downstream request", err)
	}
	observability.LoggerWithTrace(ctx).Debug().
		Str("url", urlStr).
		RawJSON("body", observability.RedactJSON(b)).
		Msg("downstream_request")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(b))
	if err != nil {
		return nil, apperr.Internal("build downstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return e.doJSON(req)
}

// doJSON performs the request and logs the response body at debug level
// with sensitive fields redacted (downstream responses may echo back
// recipient/token-shaped fields), correlated to the request's trace via
// observability.LoggerWithTrace.
func (e *Executor) doJSON(req *http.Request) (any, error) {
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, apperr.Downstream("downstream service unreachable", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Downstream("read downstream response", err)
	}

	logEvent := observability.LoggerWithTrace(req.Context()).Debug().
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode)
	if len(raw) > 0 {
		logEvent = logEvent.RawJSON("body", observability.RedactJSON(raw))
	}
	logEvent.Msg("downstream_response")

	if resp.StatusCode >= 400 {
		return nil, apperr.Downstream(fmt.Sprintf("downstream returned %d", resp.StatusCode), fmt.Errorf("status %d", resp.StatusCode))
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Downstream("decode downstream response", err)
	}
	return out, nil
}

// ExecutePlan runs tasks in order, filling arguments, consulting and
// populating the session's tool cache, and restarting from the first
// task (cache-protected, so already-fetched results aren't redone) after
// a failure triggers a replan — up to maxReplans times. Returns the
// observations gathered, the sorted deduplicated set of tools invoked,
// and the final task list actually executed.
func (e *Executor) ExecutePlan(
	ctx context.Context,
	sessionID string,
	tasks []Task,
	fillArgs FillArgsFunc,
	replan ReplanFunc,
	maxReplans int,
) ([]Observation, []string, []Task) {
	var observations []Observation
	usedTools := map[string]struct{}{}
	current := append([]Task(nil), tasks...)

	replans := 0
	i := 0
	for i < len(current) {
		t := current[i]
		tool := strings.TrimSpace(t.Tool)
		if tool == "" {
			tool = "none"
		}

		// A tool outside the registry is recorded as a note, like "none".
		if _, known := TTLFor(e.specs, tool); tool != "none" && known {
			args := t.Args
			if len(args) == 0 && fillArgs != nil {
				args = fillArgs(tool, SchemaFor(e.specs, tool), append([]Observation(nil), observations...))
			}

			cacheKey := session.ToolCacheKey(tool, args)
			ttl, _ := TTLFor(e.specs, tool)

			var (
				result any
				cached bool
			)
			if e.sessions != nil {
				if v, ok := e.sessions.GetCached(sessionID, cacheKey, ttl); ok {
					result, cached = v, true
				}
			}

			if cached {
				observations = append(observations, Observation{TaskID: t.ID, Tool: tool, Args: args, Cached: true, Result: result})
				usedTools[tool] = struct{}{}
			} else {
				res, err := e.CallTool(ctx, tool, args)
				if err != nil {
					observations = append(observations, Observation{TaskID: t.ID, Tool: tool, Args: args, Error: err.Error()})
					if replan != nil && replans < maxReplans {
						next := replan(current, observations)
						if len(next) > 0 {
							current = next
							replans++
							i = 0
							continue
						}
					}
				} else {
					if e.sessions != nil {
						e.sessions.SetCached(sessionID, cacheKey, res)
					}
					observations = append(observations, Observation{TaskID: t.ID, Tool: tool, Args: args, Result: res})
					usedTools[tool] = struct{}{}
				}
			}
		} else {
			observations = append(observations, Observation{TaskID: t.ID, Note: t.Text})
		}
		i++
	}

	tools := make([]string, 0, len(usedTools))
	for t := range usedTools {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return observations, tools, current
}
