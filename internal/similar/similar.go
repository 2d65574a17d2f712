package similar

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region types

// Case is one retrieved similar past promotion.
type Case struct {
	Summary string  `json:"case_summary"`
	Outcome string  `json:"outcome"`
	Score   float64 `json:"score"`
}

// Result records which retrieval path produced the cases.
type Result struct {
	Cases  []Case
	Method string // "remote" | "historical_fallback" | "none"
	Reason string
}

// RemoteRetriever is the optional vector-search collaborator.
type RemoteRetriever interface {
	SimilarCases(ctx context.Context, tgt target.Target, k int) ([]Case, error)
}

// #endregion

// #region retriever

// Retriever runs similarity retrieval with a two-step fallback chain:
// remote service, then a historical lookup against the data service, then
// nothing. Both collaborators failing is a degradation, never an error.
type Retriever struct {
	remote RemoteRetriever // nil when not configured
	st     *store.Store
	k      int
}

// NewRetriever wires a Retriever. remote may be nil.
func NewRetriever(remote RemoteRetriever, st *store.Store, k int) *Retriever {
	if k <= 0 {
		k = 5
	}
	return &Retriever{remote: remote, st: st, k: k}
}

// Retrieve fetches up to k similar cases for the target.
func (r *Retriever) Retrieve(ctx context.Context, tgt target.Target) Result {
	if r.remote != nil {
		cases, err := r.remote.SimilarCases(ctx, tgt, r.k)
		if err == nil {
			valid := consistencyCheck(cases, r.k)
			if len(valid) > 0 {
				return Result{Cases: valid, Method: "remote",
					Reason: fmt.Sprintf("retrieved %d similar cases", len(valid))}
			}
		}
	}

	hist, err := r.st.HistoricalCases(ctx, tgt, r.k)
	if err != nil || len(hist) == 0 {
		return Result{Method: "none", Reason: "no retrieval source available"}
	}

	cases := make([]Case, 0, len(hist))
	for _, h := range hist {
		cases = append(cases, Case{
			Summary: fmt.Sprintf("%s at %.1f%% discount, margin %.1f%%, performance %.2fx",
				h.PromotionType, h.DiscountValue, h.MarginPercent, h.AvgPerformanceRatio),
			Outcome: string(h.Status),
		})
	}
	return Result{Cases: cases, Method: "historical_fallback",
		Reason: fmt.Sprintf("remote unavailable, %d historical cases", len(cases))}
}

// consistencyCheck drops empty or duplicate summaries and caps the result.
func consistencyCheck(cases []Case, k int) []Case {
	seen := make(map[string]bool)
	var valid []Case
	for _, c := range cases {
		if c.Summary == "" || seen[c.Summary] {
			continue
		}
		seen[c.Summary] = true
		valid = append(valid, c)
		if len(valid) == k {
			break
		}
	}
	return valid
}

// #endregion

// #region http-retriever

// HTTPRetriever queries a similarity service over HTTP JSON.
type HTTPRetriever struct {
	baseURL string
	http    *http.Client
}

// NewHTTPRetriever builds a remote retriever client.
func NewHTTPRetriever(baseURL string, timeout time.Duration) (*HTTPRetriever, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("similarity base url required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPRetriever{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// SimilarCases implements RemoteRetriever.
func (h *HTTPRetriever) SimilarCases(ctx context.Context, tgt target.Target, k int) ([]Case, error) {
	url := fmt.Sprintf("%s/similar?location_id=%d&product_id=%d&k=%d",
		h.baseURL, tgt.LocationID, tgt.ProductID, k)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build similarity request: %w", err)
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("similarity request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("similarity request: status %d", resp.StatusCode)
	}
	var cases []Case
	if err := json.NewDecoder(resp.Body).Decode(&cases); err != nil {
		return nil, fmt.Errorf("decode similarity response: %w", err)
	}
	return cases, nil
}

// #endregion
