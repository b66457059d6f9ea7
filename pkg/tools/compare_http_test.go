package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPComparer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req compareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		switch req.Candidate {
		case "broken.png":
			http.Error(w, "renderer crashed", http.StatusInternalServerError)
		case "odd.png":
			_ = json.NewEncoder(w).Encode(compareResponse{Similarity: 1.4})
		default:
			_ = json.NewEncoder(w).Encode(compareResponse{Similarity: 0.91, Detail: "header offset 4px"})
		}
	}))
	defer srv.Close()

	c := NewHTTPComparer(srv.URL, 5*time.Second)
	ctx := context.Background()

	score, detail, err := c.Compare(ctx, "design.png", "shot.png")
	require.NoError(t, err)
	assert.InDelta(t, 0.91, score, 1e-9)
	assert.Equal(t, "header offset 4px", detail)

	_, _, err = c.Compare(ctx, "design.png", "broken.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "renderer crashed")

	_, _, err = c.Compare(ctx, "design.png", "odd.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [0,1]")
}

func TestHTTPComparerThroughTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(compareResponse{Similarity: 0.5})
	}))
	defer srv.Close()

	tool := NewCompareScreenshotsTool(NewHTTPComparer(srv.URL, time.Second))
	res, err := tool.Exec(context.Background(), map[string]any{"reference": "a.png", "candidate": "b.png"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.InDelta(t, 0.5, decode(t, res)["similarity"], 1e-9)

	srv.Close()
	res, err = tool.Exec(context.Background(), map[string]any{"reference": "a.png", "candidate": "b.png"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
