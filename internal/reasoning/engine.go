package reasoning

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
)

// #endregion

// #region stage-kinds

// StageKind tells the engine which structured decision is being requested.
type StageKind string

const (
	StageAnalyzeMarket StageKind = "analyze_market"
	StagePriceStrategy StageKind = "price_strategy"
)

// #endregion

// #region errors

// Failure taxonomy for engine calls. The pipeline maps all three to a
// stage-level bounded retry; none is fatal to the process.
var (
	ErrRateLimited     = errors.New("reasoning engine rate limited")
	ErrInvalidResponse = errors.New("reasoning engine returned invalid response")
	ErrTimeout         = errors.New("reasoning engine timeout")
)

// #endregion

// #region result

// Usage is the token accounting for one engine call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Result holds the engine's structured output plus token usage. Callers
// unmarshal Output into their stage-specific shape; a failed unmarshal is an
// ErrInvalidResponse condition.
type Result struct {
	Output json.RawMessage
	Usage  Usage
}

// #endregion

// #region engine-interface

// Engine turns structured stage input into a structured decision.
type Engine interface {
	Decide(ctx context.Context, kind StageKind, input any) (Result, error)
}

// #endregion

// #region cost-table

// CostTable prices token usage per 1M tokens for the configured model.
type CostTable struct {
	Model       string
	InputPer1M  float64
	OutputPer1M float64
}

// Cost returns the estimated spend for one call, rounded to micro-dollars.
func (c CostTable) Cost(u Usage) float64 {
	in := float64(u.PromptTokens) / 1_000_000 * c.InputPer1M
	out := float64(u.CompletionTokens) / 1_000_000 * c.OutputPer1M
	return roundMicro(in + out)
}

func roundMicro(v float64) float64 {
	return float64(int64(v*1_000_000+0.5)) / 1_000_000
}

// #endregion
