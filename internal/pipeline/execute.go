package pipeline

// #region imports
import (
	"context"
	"fmt"
	"log"

	"github.com/promopilot/promopilot/internal/store"
)

// #endregion

// #region market-snapshot

// marketSnapshot is the review context frozen alongside a pending promotion.
type marketSnapshot struct {
	Inventory    store.InventorySnapshot `json:"inventory"`
	Factors      any                     `json:"factors"`
	Analysis     MarketAnalysis          `json:"analysis"`
	Critics      []CriticScore           `json:"critics,omitempty"`
	Optimization *OptimizationSummary    `json:"optimization,omitempty"`
	Degradations []string                `json:"degradations,omitempty"`
}

// #endregion

// #region execution

// executionBranch is the only stage with side effects. It either activates
// the promotion directly or parks it for human review, depending on the
// manual-approval setting. Store failures here terminate the run with
// execution_failed rather than a skip, since the decision itself succeeded.
func (e *Executor) executionBranch(ctx context.Context, rec *DecisionRecord) (string, error) {
	design := *rec.Design

	if e.cfg.RequireManualApproval {
		snapshot := mustJSON(marketSnapshot{
			Inventory:    rec.Inventory,
			Factors:      rec.Factors,
			Analysis:     rec.Analysis,
			Critics:      rec.Critics,
			Optimization: rec.Optimization,
			Degradations: rec.Degradations,
		})
		var pending store.PendingPromotion
		err := e.withRetry(ctx, StageExecutionBranch, func() error {
			var cerr error
			pending, cerr = e.deps.Store.CreatePendingPromotion(ctx, design, design.Reason, snapshot)
			return cerr
		})
		if err != nil {
			rec.Outcome = OutcomeExecutionFailed
			rec.OutcomeNote = fmt.Sprintf("create pending promotion: %v", err)
			e.logDecision(ctx, rec, StageExecutionBranch, "execution", rec.OutcomeNote, string(OutcomeExecutionFailed), "")
			return stageDone, nil
		}
		rec.PendingID = pending.ID
		rec.Outcome = OutcomeSubmitted
		rec.OutcomeNote = fmt.Sprintf("pending promotion %d awaits review", pending.ID)
		log.Printf("[pipeline] %s submitted for approval (pending %d)", rec.Target, pending.ID)
		e.logDecision(ctx, rec, StageExecutionBranch, "execution", design.Reason, string(OutcomeSubmitted), "")
		return stageDone, nil
	}

	var promo store.Promotion
	err := e.withRetry(ctx, StageExecutionBranch, func() error {
		var cerr error
		promo, cerr = e.deps.Store.CreateActivePromotion(ctx, design)
		return cerr
	})
	if err != nil {
		rec.Outcome = OutcomeExecutionFailed
		rec.OutcomeNote = fmt.Sprintf("create active promotion: %v", err)
		e.logDecision(ctx, rec, StageExecutionBranch, "execution", rec.OutcomeNote, string(OutcomeExecutionFailed), "")
		return stageDone, nil
	}
	rec.PromotionID = promo.ID
	rec.Outcome = OutcomeExecutedAuto
	rec.OutcomeNote = fmt.Sprintf("promotion %s active until %s", promo.Code, design.ValidUntil.Format("2006-01-02 15:04"))
	if e.deps.Status != nil {
		e.deps.Status.SetPromotion(promo.ID)
	}
	log.Printf("[pipeline] %s executed: %s", rec.Target, rec.OutcomeNote)
	e.logDecision(ctx, rec, StageExecutionBranch, "execution", design.Reason, string(OutcomeExecutedAuto), "")
	return stageDone, nil
}

// #endregion
