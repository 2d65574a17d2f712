package pipeline

// #region imports
import (
	"time"

	"github.com/promopilot/promopilot/internal/factors"
	"github.com/promopilot/promopilot/internal/priors"
	"github.com/promopilot/promopilot/internal/similar"
	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region stages

// Stage names form the fixed, enumerable transition table the executor walks.
const (
	StageCollectData        = "CollectData"
	StageAnalyzeMarket      = "AnalyzeMarket"
	StageLoadDecisionPriors = "LoadDecisionPriors"
	StagePriceStrategy      = "PriceStrategy"
	StageDesignPromotion    = "DesignPromotion"
	StageOptimizationLoop   = "OptimizationLoop"
	StageCriticReview       = "CriticReview"
	StageExecutionBranch    = "ExecutionBranch"

	stageDone = "done"
)

// #endregion

// #region outcomes

// Outcome is the terminal result of one target's pipeline run. All outcomes
// are successes from the control surface's point of view except
// OutcomeSkippedError, which marks a target skipped after retry exhaustion.
type Outcome string

const (
	OutcomeNoAction          Outcome = "no_action"
	OutcomeRejectedByCritics Outcome = "rejected_by_critics"
	OutcomeExecutedAuto      Outcome = "executed_auto"
	OutcomeSubmitted         Outcome = "submitted_for_approval"
	OutcomeExecutionFailed   Outcome = "execution_failed"
	OutcomeSkippedError      Outcome = "target_skipped_error"
)

// #endregion

// #region stage-outputs

// MarketAnalysis is the AnalyzeMarket stage's structured verdict.
type MarketAnalysis struct {
	ShouldAct        bool     `json:"should_act"`
	Reasoning        string   `json:"reasoning"`
	OpportunityScore float64  `json:"opportunity_score"`
	KeyFactors       []string `json:"key_factors"`
}

// PricingStrategy is the PriceStrategy stage's output. The numbers are
// computed deterministically; Reasoning carries the engine's narrative.
type PricingStrategy struct {
	OriginalPrice    float64 `json:"original_price"`
	PromotionalPrice float64 `json:"promotional_price"`
	DiscountPercent  float64 `json:"discount_percent"`
	MarginPercent    float64 `json:"margin_percent"`
	Reasoning        string  `json:"reasoning"`
}

// OptimizationSummary describes how the optimization loop concluded.
type OptimizationSummary struct {
	Enabled            bool    `json:"enabled"`
	Iterations         int     `json:"iterations"`
	SelectedIteration  int     `json:"selected_iteration"`
	SelectedObjective  float64 `json:"selected_objective_score"`
	Objective          string  `json:"objective"`
	Exhausted          bool    `json:"optimization_exhausted"`
	StoppedEarly       bool    `json:"stopped_early"`
	StoppedEarlyReason string  `json:"stopped_early_reason,omitempty"`
}

// CriticScore is one evaluator's verdict on one proposal version.
type CriticScore struct {
	Evaluator      string   `json:"evaluator"`
	Score          float64  `json:"score"`
	Rationale      string   `json:"rationale"`
	RiskFlags      []string `json:"risk_flags"`
	Recommendation string   `json:"recommendation"` // "approve" | "revise" | "reject"
}

// Verdict is the arbitration result over all critic scores.
type Verdict struct {
	Action    string  `json:"action"` // "approve" | "revise" | "reject"
	Aggregate float64 `json:"aggregate_score"`
	Reason    string  `json:"reason"`
}

// #endregion

// #region record

// DecisionRecord accumulates stage outputs for one target's pipeline run.
// It is owned exclusively by the executor for the duration of the run and
// never shared across targets.
type DecisionRecord struct {
	Target    target.Target
	StartedAt time.Time

	Inventory    store.InventorySnapshot
	Factors      factors.Snapshot
	Degradations []string

	Analysis MarketAnalysis
	Priors   *priors.Priors
	Similar  similar.Result

	Pricing PricingStrategy
	Design  *store.Proposal

	Optimization *OptimizationSummary
	Critics      []CriticScore
	Verdicts     []Verdict
	RevisionUsed bool

	Outcome     Outcome
	OutcomeNote string
	PromotionID int64 // set on executed_auto
	PendingID   int64 // set on submitted_for_approval
}

// LastVerdict returns the most recent arbitration result, if any.
func (r *DecisionRecord) LastVerdict() (Verdict, bool) {
	if len(r.Verdicts) == 0 {
		return Verdict{}, false
	}
	return r.Verdicts[len(r.Verdicts)-1], true
}

// #endregion
