package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agenticrag/internal/apperr"
	"agenticrag/internal/config"
	"agenticrag/internal/session"
)

func newTestServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestCallTool_WeatherGetSuccess(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, map[string]any{"temp_c": 21})
	defer srv.Close()

	ex := NewExecutor(srv.Client(), config.DownstreamConfig{WeatherURL: srv.URL}, nil, nil, nil)
	result, err := ex.CallTool(context.Background(), "weather.get", map[string]any{"city": "Seoul"})
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestCallTool_DownstreamErrorStatusBecomesDownstreamError(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError, map[string]any{})
	defer srv.Close()

	ex := NewExecutor(srv.Client(), config.DownstreamConfig{WeatherURL: srv.URL}, nil, nil, nil)
	_, err := ex.CallTool(context.Background(), "weather.get", map[string]any{"city": "Seoul"})
	require.Error(t, err)
	require.Equal(t, apperr.KindDownstream, apperr.KindOf(err))
}

func TestCallTool_UnknownToolIsValidationError(t *testing.T) {
	ex := NewExecutor(http.DefaultClient, config.DownstreamConfig{}, nil, nil, nil)
	_, err := ex.CallTool(context.Background(), "bogus.tool", nil)
	require.Error(t, err)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestExecutePlan_CachesSuccessfulToolResult(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	store := session.New(20, time.Hour)
	defer store.Close()
	ex := NewExecutor(srv.Client(), config.DownstreamConfig{WeatherURL: srv.URL}, nil, store, nil)

	tasks := []Task{
		{ID: "t1", Tool: "weather.get", Args: map[string]any{"city": "Seoul"}},
		{ID: "t2", Tool: "weather.get", Args: map[string]any{"city": "Seoul"}},
	}
	obs, used, final := ex.ExecutePlan(context.Background(), "s1", tasks, nil, nil, 2)
	require.Len(t, obs, 2)
	require.False(t, obs[0].Cached)
	require.True(t, obs[1].Cached, "identical args must hit the session cache on the second task")
	require.Equal(t, []string{"weather.get"}, used)
	require.Len(t, final, 2)
	require.Equal(t, 1, calls, "the cached call must not reach the downstream service")
}

func TestExecutePlan_FillsArgsBeforeCacheKeyIsComputed(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, map[string]any{"ok": true})
	defer srv.Close()

	store := session.New(20, time.Hour)
	defer store.Close()
	ex := NewExecutor(srv.Client(), config.DownstreamConfig{WeatherURL: srv.URL}, nil, store, nil)

	fill := func(tool string, schema map[string]string, observations []Observation) map[string]any {
		return map[string]any{"city": "Busan"}
	}
	tasks := []Task{{ID: "t1", Tool: "weather.get"}}
	obs, _, _ := ex.ExecutePlan(context.Background(), "s1", tasks, fill, nil, 2)
	require.Equal(t, "Busan", obs[0].Args["city"])
}

func TestExecutePlan_ReplansOnFailureUpToMaxReplans(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError, map[string]any{})
	defer srv.Close()

	store := session.New(20, time.Hour)
	defer store.Close()
	ex := NewExecutor(srv.Client(), config.DownstreamConfig{WeatherURL: srv.URL}, nil, store, nil)

	replanCalls := 0
	replan := func(tasks []Task, observations []Observation) []Task {
		replanCalls++
		return []Task{{ID: "t1-retry", Tool: "weather.get", Args: map[string]any{"city": "Seoul"}}}
	}

	tasks := []Task{{ID: "t1", Tool: "weather.get", Args: map[string]any{"city": "Seoul"}}}
	_, _, final := ex.ExecutePlan(context.Background(), "s1", tasks, nil, replan, 2)
	require.Equal(t, 2, replanCalls, "replanning must stop at max_replans")
	require.Equal(t, "t1-retry", final[0].ID)
}

func TestExecutePlan_NoneToolProducesNoteObservation(t *testing.T) {
	ex := NewExecutor(http.DefaultClient, config.DownstreamConfig{}, nil, nil, nil)
	tasks := []Task{{ID: "t1", Tool: "none", Text: "process request"}}
	obs, used, _ := ex.ExecutePlan(context.Background(), "s1", tasks, nil, nil, 2)
	require.Len(t, obs, 1)
	require.Equal(t, "process request", obs[0].Note)
	require.Empty(t, used)
}
