package reasoning

// #region imports
import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// #endregion

// #region client-struct

// Client calls a reasoning service over HTTP JSON. One POST per decision:
// {"stage": ..., "input": ...} in, {"output": ..., "usage": ...} back.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("reasoning base url required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// #endregion

// #region decide

type decideRequest struct {
	Stage string `json:"stage"`
	Input any    `json:"input"`
}

type decideResponse struct {
	Output json.RawMessage `json:"output"`
	Usage  Usage           `json:"usage"`
}

// Decide posts the stage input and parses the structured decision.
func (c *Client) Decide(ctx context.Context, kind StageKind, input any) (Result, error) {
	body, err := json.Marshal(decideRequest{Stage: string(kind), Input: input})
	if err != nil {
		return Result{}, fmt.Errorf("marshal decide request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decide", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build decide request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return Result{}, fmt.Errorf("decide %s: %w", kind, ErrTimeout)
		}
		return Result{}, fmt.Errorf("decide %s: %w: %v", kind, ErrTimeout, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("decide %s: %w", kind, ErrRateLimited)
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("decide %s: status %d: %w", kind, resp.StatusCode, ErrTimeout)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("decide %s: status %d: %w", kind, resp.StatusCode, ErrInvalidResponse)
	}

	var out decideResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decide %s: %w: %v", kind, ErrInvalidResponse, err)
	}
	if len(out.Output) == 0 {
		return Result{}, fmt.Errorf("decide %s: empty output: %w", kind, ErrInvalidResponse)
	}
	return Result{Output: out.Output, Usage: out.Usage}, nil
}

// #endregion
