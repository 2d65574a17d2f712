package pipeline

// #region imports
import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/store"
)

// #endregion

// #region evaluators

// profitGuardian scores margin safety and absolute profit contribution.
func (e *Executor) profitGuardian(rec *DecisionRecord) CriticScore {
	p := rec.Design
	margin := p.MarginPercent
	expectedProfit := (p.PromotionalPrice - rec.Inventory.BaseCost) * float64(p.ExpectedUnitsSold)
	score := clamp(margin*3+expectedProfit*0.05, 0, 100)

	var flags []string
	recommendation := "approve"
	switch {
	case margin < e.cfg.MinMarginPercent:
		flags = append(flags, "margin_below_floor")
		recommendation = "reject"
	case margin < e.cfg.MinMarginPercent+2:
		flags = append(flags, "margin_near_floor")
		recommendation = "revise"
	}

	return CriticScore{
		Evaluator:      "Profit Guardian",
		Score:          round2(score),
		Rationale:      fmt.Sprintf("margin %.2f%% vs floor %.2f%%, expected profit %.2f", margin, e.cfg.MinMarginPercent, expectedProfit),
		RiskFlags:      flags,
		Recommendation: recommendation,
	}
}

// growthHacker scores demand stimulation against the daily baseline.
func (e *Executor) growthHacker(rec *DecisionRecord) CriticScore {
	p := rec.Design
	baseline := math.Max(rec.Inventory.AvgDailySales, 1)
	uplift := float64(p.ExpectedUnitsSold) / baseline
	score := clamp(uplift*35+p.DiscountValue*1.2, 0, 100)

	var flags []string
	recommendation := "approve"
	switch {
	case p.DiscountValue < 1 && uplift < 1.0:
		flags = append(flags, "low_stimulation")
		recommendation = "reject"
	case uplift < 1.1:
		flags = append(flags, "limited_growth_uplift")
		recommendation = "revise"
	}

	return CriticScore{
		Evaluator:      "Growth Hacker",
		Score:          round2(score),
		Rationale:      fmt.Sprintf("expected unit uplift %.2fx baseline at %.2f%% discount", uplift, p.DiscountValue),
		RiskFlags:      flags,
		Recommendation: recommendation,
	}
}

// brandGuardian penalizes discount depth and flash-sale fatigue.
func (e *Executor) brandGuardian(rec *DecisionRecord) CriticScore {
	p := rec.Design
	fatigue := 0.0
	if p.PromotionType == "flash_sale" {
		fatigue = 12
	}
	score := clamp(100-p.DiscountValue*2-fatigue, 0, 100)

	var flags []string
	if p.DiscountValue >= e.cfg.MaxDiscountPercent {
		flags = append(flags, "max_discount_boundary")
	}
	if p.DiscountValue > e.cfg.MaxDiscountPercent*0.8 {
		flags = append(flags, "brand_dilution_risk")
	}
	recommendation := "approve"
	switch {
	case score < 40:
		recommendation = "reject"
	case score < 60:
		recommendation = "revise"
	}

	return CriticScore{
		Evaluator:      "Brand Guardian",
		Score:          round2(score),
		Rationale:      fmt.Sprintf("%.2f%% discount as %s, penalized for discount intensity", p.DiscountValue, p.PromotionType),
		RiskFlags:      flags,
		Recommendation: recommendation,
	}
}

// #endregion

// #region arbitration

// arbitrate reduces the critic scores to one aggregate and resolves it
// against the configured thresholds. Scores landing exactly on a threshold
// resolve toward the safer outcome: revise over approve, reject over revise.
func (e *Executor) arbitrate(scores []CriticScore) Verdict {
	agg := scores[0].Score
	switch e.cfg.CriticAggregation {
	case config.AggregationMinimum:
		for _, s := range scores[1:] {
			agg = math.Min(agg, s.Score)
		}
	default:
		for _, s := range scores[1:] {
			agg += s.Score
		}
		agg /= float64(len(scores))
	}
	agg = round2(agg)

	var action string
	switch {
	case agg <= e.cfg.CriticRejectThreshold:
		action = "reject"
	case agg > e.cfg.CriticReviseThreshold:
		action = "approve"
	default:
		action = "revise"
	}

	return Verdict{
		Action:    action,
		Aggregate: agg,
		Reason: fmt.Sprintf("%s aggregate %.2f (%s) vs revise %.2f / reject %.2f",
			e.cfg.CriticAggregation, agg, action, e.cfg.CriticReviseThreshold, e.cfg.CriticRejectThreshold),
	}
}

// #endregion

// #region review-stage

// criticReview runs the three evaluators and branches on the arbitration
// verdict. The revise path is taken at most once per run; after a revision
// the pipeline proceeds to execution regardless of the second verdict.
func (e *Executor) criticReview(ctx context.Context, rec *DecisionRecord) (string, error) {
	scores := []CriticScore{
		e.profitGuardian(rec),
		e.growthHacker(rec),
		e.brandGuardian(rec),
	}
	verdict := e.arbitrate(scores)
	rec.Critics = append(rec.Critics, scores...)
	rec.Verdicts = append(rec.Verdicts, verdict)

	for _, s := range scores {
		err := e.deps.Store.RecordEvaluatorScore(ctx, store.EvaluatorScore{
			Target:       rec.Target,
			Evaluator:    s.Evaluator,
			Score:        s.Score,
			ConcernsJSON: mustJSON(s.RiskFlags),
			Verdict:      s.Recommendation,
			Arbitration:  verdict.Action,
		})
		if err != nil {
			log.Printf("[pipeline] evaluator score log failed for %s: %v", rec.Target, err)
		}
	}
	e.logDecision(ctx, rec, StageCriticReview, "multi_critic_review", verdict.Reason, verdict.Action, mustJSON(scores))

	if rec.RevisionUsed {
		// Second verdict is recorded but never loops again.
		return StageExecutionBranch, nil
	}
	switch verdict.Action {
	case "approve":
		return StageExecutionBranch, nil
	case "reject":
		rec.Outcome = OutcomeRejectedByCritics
		rec.OutcomeNote = verdict.Reason
		return stageDone, nil
	default:
		rec.RevisionUsed = true
		e.applyRevision(rec)
		if e.cfg.EnableOptimizationLoop {
			return StageOptimizationLoop, nil
		}
		return StageDesignPromotion, nil
	}
}

// applyRevision softens the proposal by two discount points and reprices it.
// Both the pricing strategy and the current design are updated so either
// revision path (re-optimize or redesign) starts from the revised numbers.
func (e *Executor) applyRevision(rec *DecisionRecord) {
	discount := clamp(rec.Pricing.DiscountPercent-2, 0, e.cfg.MaxDiscountPercent)
	price := round2(rec.Pricing.OriginalPrice * (1 - discount/100))

	rec.Pricing.DiscountPercent = round2(discount)
	rec.Pricing.PromotionalPrice = price
	rec.Pricing.MarginPercent = round2(marginPercent(price, rec.Inventory.BaseCost))

	if rec.Design != nil {
		rec.Design.DiscountValue = rec.Pricing.DiscountPercent
		rec.Design.PromotionalPrice = price
		rec.Design.MarginPercent = rec.Pricing.MarginPercent
		rec.Design.Reason = rec.Design.Reason + " | revised by critic arbitration to reduce risk"
	}
}

// #endregion
