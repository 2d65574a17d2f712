package approval

// #region imports
import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/promopilot/promopilot/internal/feedback"
	"github.com/promopilot/promopilot/internal/store"
)

// #endregion

// #region gateway

// Gateway resolves pending promotions by reviewer action. It is invoked
// from the control surface, never from the pipeline; the pipeline's run for
// a target ends once a proposal is parked here.
type Gateway struct {
	store    *store.Store
	recorder *feedback.Recorder // nil when approval learning is disabled
}

func NewGateway(st *store.Store, recorder *feedback.Recorder) *Gateway {
	return &Gateway{store: st, recorder: recorder}
}

// #endregion

// #region actions

// Approve activates a pending promotion. The validity window is recomputed
// from the approval time so a proposal that sat in review for hours still
// runs its full intended duration. Approving an already-resolved row fails
// with store.ErrConflict.
func (g *Gateway) Approve(ctx context.Context, pendingID int64, reviewer, note string) (store.Promotion, error) {
	pending, err := g.store.GetPendingPromotion(ctx, pendingID)
	if err != nil {
		return store.Promotion{}, fmt.Errorf("load pending promotion: %w", err)
	}
	if pending.Status != store.PendingReview {
		return store.Promotion{}, fmt.Errorf("pending promotion %d is %s: %w", pendingID, pending.Status, store.ErrConflict)
	}

	proposal := pending.Proposal
	duration := proposal.ValidUntil.Sub(proposal.ValidFrom)
	now := time.Now().UTC()
	proposal.ValidFrom = now
	proposal.ValidUntil = now.Add(duration)

	promo, err := g.store.CreateActivePromotion(ctx, proposal)
	if err != nil {
		return store.Promotion{}, fmt.Errorf("activate approved promotion: %w", err)
	}
	if err := g.store.ResolvePendingPromotion(ctx, pendingID, store.PendingApproved, reviewer, note, promo.ID); err != nil {
		// The promotion exists but the pending row could not be linked.
		// Retract it so a retried approval cannot double-activate.
		if rerr := g.store.RetractPromotion(ctx, promo.ID, "orphaned by failed approval linkage"); rerr != nil {
			log.Printf("[approval] rollback of promotion %d failed: %v", promo.ID, rerr)
		}
		return store.Promotion{}, fmt.Errorf("resolve pending promotion: %w", err)
	}

	log.Printf("[approval] pending %d approved by %s, promotion %s active", pendingID, reviewer, promo.Code)
	g.emit(ctx, pending, "approved", reviewer, note)
	return promo, nil
}

// Reject resolves a pending promotion without activating anything. Terminal.
func (g *Gateway) Reject(ctx context.Context, pendingID int64, reviewer, note string) error {
	pending, err := g.store.GetPendingPromotion(ctx, pendingID)
	if err != nil {
		return fmt.Errorf("load pending promotion: %w", err)
	}
	if err := g.store.ResolvePendingPromotion(ctx, pendingID, store.PendingRejected, reviewer, note, 0); err != nil {
		return fmt.Errorf("resolve pending promotion: %w", err)
	}
	log.Printf("[approval] pending %d rejected by %s", pendingID, reviewer)
	g.emit(ctx, pending, "rejected", reviewer, note)
	return nil
}

// emit records the reviewer's verdict as a learning signal. Best effort;
// the approval itself already committed.
func (g *Gateway) emit(ctx context.Context, pending store.PendingPromotion, outcome, reviewer, note string) {
	if g.recorder == nil {
		return
	}
	err := g.recorder.Record(ctx, feedback.Signal{
		PendingID:   pending.ID,
		Target:      pending.Proposal.Target,
		Outcome:     outcome,
		Reviewer:    reviewer,
		Note:        note,
		ContextJSON: pending.MarketData,
	})
	if err != nil {
		log.Printf("[approval] feedback signal failed for pending %d: %v", pending.ID, err)
	}
}

// #endregion
