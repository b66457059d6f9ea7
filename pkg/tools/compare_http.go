package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxCompareErrorBody = 512

// HTTPComparer posts {"reference", "candidate"} to an external comparison
// service and expects {"similarity", "detail"} back.
type HTTPComparer struct {
	client *http.Client
	url    string
}

// NewHTTPComparer creates a comparer for the service at url.
func NewHTTPComparer(url string, timeout time.Duration) *HTTPComparer {
	return &HTTPComparer{client: &http.Client{Timeout: timeout}, url: url}
}

type compareRequest struct {
	Reference string `json:"reference"`
	Candidate string `json:"candidate"`
}

type compareResponse struct {
	Detail     string  `json:"detail"`
	Similarity float64 `json:"similarity"`
}

// Compare implements ImageComparer.
func (c *HTTPComparer) Compare(ctx context.Context, reference, candidate string) (float64, string, error) {
	body, err := json.Marshal(compareRequest{Reference: reference, Candidate: candidate})
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode comparison request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create comparison request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("comparison service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxCompareErrorBody))
		return 0, "", fmt.Errorf("comparison service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out compareResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, "", fmt.Errorf("failed to decode comparison response: %w", err)
	}
	if out.Similarity < 0 || out.Similarity > 1 {
		return 0, "", fmt.Errorf("comparison service returned similarity %.3f outside [0,1]", out.Similarity)
	}
	return out.Similarity, out.Detail, nil
}
