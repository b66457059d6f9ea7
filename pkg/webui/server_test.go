package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figflow/pkg/bridge"
	"figflow/pkg/logx"
	"figflow/pkg/metrics"
	"figflow/pkg/orchestrator"
	"figflow/pkg/persistence"
	"figflow/pkg/router"
	"figflow/pkg/transcript"
)

const testPassword = "s3cret"

type fakeRunner struct {
	err     error
	started []orchestrator.DesignInput
	stops   int
	mu      sync.Mutex
}

func (f *fakeRunner) Start(_ context.Context, in orchestrator.DesignInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, in)
	return "run-42", nil
}

func (f *fakeRunner) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeRunner) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRunner) snapshot() ([]orchestrator.DesignInput, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.DesignInput(nil), f.started...), f.stops
}

type fakeEndpoints struct{}

func (fakeEndpoints) Status() []router.EndpointStatus {
	return []router.EndpointStatus{
		{Index: 0, Name: "primary", Model: "qwen-coder", State: router.StateCooling, RemainingSeconds: 42},
		{Index: 1, Name: "backup", Model: "gpt-4o", State: router.StateActive},
	}
}

func (fakeEndpoints) Usage() router.Usage {
	return router.Usage{PromptTokens: 100, CompletionTokens: 20, Requests: 2}
}

type fakeRuns struct{}

func (fakeRuns) ListRuns(_ context.Context, limit int) ([]*persistence.Run, error) {
	runs := []*persistence.Run{{ID: "run-1", Status: persistence.RunStatusCompleted}, {ID: "run-2", Status: persistence.RunStatusStopped}}
	if limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (fakeRuns) ListTurns(_ context.Context, runID string) ([]*persistence.TurnRecord, error) {
	return []*persistence.TurnRecord{{RunID: runID, Seq: 1, Source: "system", Type: "system"}}, nil
}

type fakeUsage struct{}

func (fakeUsage) GetRunUsage(_ context.Context, runID string) (*metrics.RunUsage, error) {
	if runID == "broken" {
		return nil, errors.New("prometheus down")
	}
	return &metrics.RunUsage{RunID: runID, PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

type testServer struct {
	*httptest.Server
	bridge *bridge.Bridge
	runner *fakeRunner
	output string
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "figflow_test_total", Help: "test counter"})
	reg.MustRegister(counter)
	counter.Inc()

	ts := &testServer{bridge: bridge.New(0), runner: &fakeRunner{}, output: t.TempDir()}
	opts := Options{
		Bridge:    ts.bridge,
		Runner:    ts.runner,
		Endpoints: fakeEndpoints{},
		Runs:      fakeRuns{},
		Usage:     fakeUsage{},
		Gatherer:  reg,
		OutputDir: ts.output,
		Password:  testPassword,
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)
	ts.Server = httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.SetBasicAuth(Username, testPassword)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestBasicAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.Client().Get(ts.URL + "/api/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	require.NoError(t, err)
	req.SetBasicAuth(Username, "wrong")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/status", nil).StatusCode)
}

func TestNoPasswordDisablesAuth(t *testing.T) {
	ts := newTestServer(t, func(o *Options) { o.Password = "" })
	resp, err := ts.Client().Get(ts.URL + "/api/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestNewServerNeedsBridge(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<title>figflow</title>")
	assert.Contains(t, string(body), "/ws")

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/nowhere", nil).StatusCode)
}

func TestHistoryAndStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.bridge.Publish(transcript.NewTurn("code_writer", transcript.TypeAgent, transcript.Text("wrote index.html")))

	history := decode[[]transcript.Turn](t, ts.do(t, http.MethodGet, "/api/history", nil))
	require.Len(t, history, 1)
	assert.Equal(t, "wrote index.html", history[0].Content.Text)

	status := decode[bridge.Status](t, ts.do(t, http.MethodGet, "/api/status", nil))
	assert.False(t, status.Running)
	assert.False(t, status.WaitingForInput)

	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodPost, "/api/history", nil).StatusCode)
}

func TestFilesAndOutput(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(ts.output, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ts.output, "index.html"), []byte("<h1>Hi</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ts.output, "css", "style.css"), []byte("h1{}"), 0o644))

	files := decode[struct {
		Files []string `json:"files"`
	}](t, ts.do(t, http.MethodGet, "/api/files", nil))
	assert.ElementsMatch(t, []string{"index.html", "css/style.css"}, files.Files)

	resp := ts.do(t, http.MethodGet, "/output/index.html", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hi</h1>", string(body))
}

func TestEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	got := decode[struct {
		Endpoints []router.EndpointStatus `json:"endpoints"`
		Usage     router.Usage            `json:"usage"`
	}](t, ts.do(t, http.MethodGet, "/api/endpoints", nil))
	require.Len(t, got.Endpoints, 2)
	assert.Equal(t, router.StateCooling, got.Endpoints[0].State)
	assert.Equal(t, 42, got.Endpoints[0].RemainingSeconds)
	assert.Equal(t, 2, got.Usage.Requests)

	bare := newTestServer(t, func(o *Options) { o.Endpoints = nil })
	assert.Equal(t, http.StatusServiceUnavailable, bare.do(t, http.MethodGet, "/api/endpoints", nil).StatusCode)
}

func TestLogs(t *testing.T) {
	ts := newTestServer(t, nil)
	logx.NewLogger("webui-test").Info("observer log line")

	entries := decode[[]logx.LogEntry](t, ts.do(t, http.MethodGet, "/api/logs", nil))
	found := false
	for _, e := range entries {
		if e.Component == "webui-test" && e.Message == "observer log line" {
			found = true
		}
	}
	assert.True(t, found)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/logs?since=yesterday", nil).StatusCode)
}

func TestRunsAndUsage(t *testing.T) {
	ts := newTestServer(t, nil)

	runs := decode[[]persistence.Run](t, ts.do(t, http.MethodGet, "/api/runs?limit=1", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/runs?limit=zero", nil).StatusCode)

	turns := decode[[]persistence.TurnRecord](t, ts.do(t, http.MethodGet, "/api/runs/run-1/turns", nil))
	require.Len(t, turns, 1)
	assert.Equal(t, "run-1", turns[0].RunID)

	usage := decode[metrics.RunUsage](t, ts.do(t, http.MethodGet, "/api/runs/run-1/usage", nil))
	assert.Equal(t, int64(15), usage.TotalTokens)

	assert.Equal(t, http.StatusBadGateway, ts.do(t, http.MethodGet, "/api/runs/broken/usage", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/runs/run-1/other", nil).StatusCode)
}

func TestStartStopAndInput(t *testing.T) {
	ts := newTestServer(t, nil)
	link := "https://www.figma.com/design/Key1/Page"

	resp := ts.do(t, http.MethodPost, "/api/start", map[string]any{"args": []string{link}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "run-42", decode[map[string]any](t, resp)["run_id"])
	started, _ := ts.runner.snapshot()
	require.Len(t, started, 1)
	assert.Equal(t, link, started[0].PCLink)

	resp = ts.do(t, http.MethodPost, "/api/start", map[string]any{"design": map[string]string{"pc_link": link, "mobile_link": link}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started, _ = ts.runner.snapshot()
	assert.Equal(t, link, started[1].MobileLink)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/start", map[string]any{"args": []string{"a", "b", "c"}}).StatusCode)

	ts.runner.setErr(bridge.ErrBusy)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/start", map[string]any{"args": []string{link}}).StatusCode)

	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/stop", nil).StatusCode)
	_, stops := ts.runner.snapshot()
	assert.Equal(t, 1, stops)

	resp = ts.do(t, http.MethodPost, "/api/input", map[string]string{"text": "Roboto"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode[map[string]any](t, resp)["delivered"])
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "figflow_test_total 1"))
}
