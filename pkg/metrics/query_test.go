package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokensResponse = `{"status":"success","data":{"resultType":"vector","result":[
		{"metric":{"worker":"code_writer","type":"prompt"},"value":[1700000000,"1200"]},
		{"metric":{"worker":"code_writer","type":"completion"},"value":[1700000000,"300"]},
		{"metric":{"worker":"figma_analyzer","type":"prompt"},"value":[1700000000,"500"]},
		{"metric":{"worker":"figma_analyzer","type":"completion"},"value":[1700000000,"50"]}]}}`
	requestsResponse = `{"status":"success","data":{"resultType":"vector","result":[
		{"metric":{"worker":"code_writer","status":"success"},"value":[1700000000,"3"]},
		{"metric":{"worker":"code_writer","status":"error"},"value":[1700000000,"1"]},
		{"metric":{"worker":"figma_analyzer","status":"success"},"value":[1700000000,"2"]}]}}`
)

func fakePrometheus(t *testing.T, queries *[]string) *QueryService {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		query := r.Form.Get("query")
		*queries = append(*queries, query)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(query, "llm_tokens_total"):
			fmt.Fprint(w, tokensResponse)
		case strings.Contains(query, "llm_requests_total"):
			fmt.Fprint(w, requestsResponse)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"status":"error","errorType":"bad_data","error":"unknown query"}`)
		}
	}))
	t.Cleanup(srv.Close)

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)
	return q
}

func TestGetRunUsageByWorker(t *testing.T) {
	var queries []string
	q := fakePrometheus(t, &queries)

	usage, err := q.GetRunUsageByWorker(context.Background(), "run-7")
	require.NoError(t, err)
	require.Len(t, usage, 2)

	writer := usage["code_writer"]
	assert.Equal(t, int64(1200), writer.PromptTokens)
	assert.Equal(t, int64(300), writer.CompletionTokens)
	assert.Equal(t, int64(1500), writer.TotalTokens)
	assert.Equal(t, int64(4), writer.Requests)
	assert.Equal(t, int64(1), writer.FailedRequests)
	assert.Equal(t, "run-7", writer.RunID)

	for _, query := range queries {
		assert.Contains(t, query, `run_id="run-7"`)
	}
}

func TestGetRunUsage(t *testing.T) {
	var queries []string
	q := fakePrometheus(t, &queries)

	usage, err := q.GetRunUsage(context.Background(), "run-7")
	require.NoError(t, err)
	assert.Equal(t, int64(1700), usage.PromptTokens)
	assert.Equal(t, int64(350), usage.CompletionTokens)
	assert.Equal(t, int64(2050), usage.TotalTokens)
	assert.Equal(t, int64(6), usage.Requests)
	assert.Equal(t, int64(1), usage.FailedRequests)
	assert.Empty(t, usage.Worker)
}

func TestQueryErrorsPropagate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"status":"error","errorType":"execution","error":"query timed out"}`)
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)
	_, err = q.GetRunUsage(context.Background(), "run-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query tokens")
}
