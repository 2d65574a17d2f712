package pipeline

// #region imports
import (
	"context"
	"fmt"
	"log"

	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/store"
)

// #endregion

// #region evaluation

// objectiveEpsilon is the minimum improvement between consecutive iterations
// that keeps the loop searching.
const objectiveEpsilon = 0.01

// demandSlope scales how strongly a discount stimulates expected demand.
const demandSlope = 1.25

var discountDeltas = []float64{0, 2, -2, 4, -4, 6, -6, 8, -8, 10}

type offerEval struct {
	Objective       float64
	Feasible        bool
	Constraints     map[string]bool
	ExpectedUnits   int
	ExpectedRevenue float64
	MarginPercent   float64
}

// evaluateOffer scores one candidate against the configured objective and
// checks every hard constraint.
func (e *Executor) evaluateOffer(baselineUnits int, baseCost float64, p store.Proposal) offerEval {
	price := p.PromotionalPrice
	discount := p.DiscountValue

	margin := marginPercent(price, baseCost)
	if baselineUnits < 1 {
		baselineUnits = 1
	}
	demandMultiplier := 1 + discount/100*demandSlope
	units := int(float64(baselineUnits)*demandMultiplier + 0.5)
	if units < 1 {
		units = 1
	}
	profit := (price - baseCost) * float64(units)
	revenue := price * float64(units)

	constraints := map[string]bool{
		"margin_ok":             margin >= e.cfg.MinMarginPercent,
		"discount_ok":           discount <= e.cfg.MaxDiscountPercent,
		"non_negative_discount": discount >= 0,
	}
	if e.cfg.MaxRiskScore > 0 {
		constraints["risk_ok"] = riskScore(p) <= e.cfg.MaxRiskScore
	}
	feasible := true
	for _, ok := range constraints {
		feasible = feasible && ok
	}

	var objective float64
	switch e.cfg.OptimizationObjective {
	case config.ObjectiveInventoryReduction:
		objective = float64(units)*5 + profit*0.1
	case config.ObjectiveRevenueLift:
		objective = revenue
	case config.ObjectiveSellThroughAcceleration:
		objective = float64(units) * (1 + discount/100)
	default: // profit maximization
		objective = profit
	}

	return offerEval{
		Objective:       round2(objective),
		Feasible:        feasible,
		Constraints:     constraints,
		ExpectedUnits:   units,
		ExpectedRevenue: round2(revenue),
		MarginPercent:   round2(margin),
	}
}

// riskScore mirrors the brand-dilution penalty: deeper discounts and flash
// sales carry more risk.
func riskScore(p store.Proposal) float64 {
	risk := p.DiscountValue * 2
	if p.PromotionType == "flash_sale" {
		risk += 12
	}
	return risk
}

// #endregion

// #region loop

// optimizationLoop runs a bounded search over discount deltas, keeping the
// best feasible candidate. It stops early when an iteration fails to improve
// on the previous one, and at iteration boundaries it honors cancellation.
// If no iteration is feasible the original design survives unmodified.
func (e *Executor) optimizationLoop(ctx context.Context, rec *DecisionRecord) (string, error) {
	original := *rec.Design
	baselineUnits := original.ExpectedUnitsSold
	baseCost := rec.Inventory.BaseCost
	baseDiscount := original.DiscountValue
	maxIter := e.cfg.OptimizationMaxIterations

	summary := OptimizationSummary{
		Enabled:           true,
		SelectedIteration: -1,
		Objective:         string(e.cfg.OptimizationObjective),
	}

	var best store.Proposal
	var bestEval offerEval
	bestIdx := -1
	prevObjective := 0.0

	for i := 0; i < maxIter; i++ {
		if ctx.Err() != nil {
			summary.StoppedEarly = true
			summary.StoppedEarlyReason = "cancelled"
			break
		}

		delta := 0.0
		if i < len(discountDeltas) {
			delta = discountDeltas[i]
		}
		discount := clamp(baseDiscount+delta, 0, e.cfg.MaxDiscountPercent)

		candidate := original
		candidate.DiscountValue = round2(discount)
		candidate.PromotionalPrice = round2(original.OriginalPrice * (1 - discount/100))

		eval := e.evaluateOffer(baselineUnits, baseCost, candidate)
		candidate.MarginPercent = eval.MarginPercent
		candidate.ExpectedUnitsSold = eval.ExpectedUnits
		candidate.ExpectedRevenue = eval.ExpectedRevenue

		summary.Iterations++
		e.logIteration(ctx, rec, i, candidate, eval, false)

		if eval.Feasible && (bestIdx < 0 || eval.Objective > bestEval.Objective) {
			best = candidate
			bestEval = eval
			bestIdx = i
		}
		if i > 0 && eval.Objective-prevObjective <= objectiveEpsilon {
			summary.StoppedEarly = true
			summary.StoppedEarlyReason = "objective plateaued"
			break
		}
		prevObjective = eval.Objective
	}

	if bestIdx < 0 {
		// Nothing feasible; hand the pre-loop proposal on untouched.
		summary.Exhausted = true
		*rec.Design = original
		rec.Optimization = &summary
		e.logDecision(ctx, rec, StageOptimizationLoop, "offer_optimization",
			fmt.Sprintf("no feasible candidate in %d iterations; keeping original design", summary.Iterations),
			"optimization_exhausted", mustJSON(summary))
		return e.afterOptimization(), nil
	}

	summary.SelectedIteration = bestIdx
	summary.SelectedObjective = bestEval.Objective
	best.Reason = fmt.Sprintf("%s | optimized in %d iterations (selected iteration %d, objective score %.2f)",
		original.Reason, summary.Iterations, bestIdx, bestEval.Objective)
	*rec.Design = best
	rec.Optimization = &summary

	e.logIteration(ctx, rec, bestIdx, best, bestEval, true)
	e.logDecision(ctx, rec, StageOptimizationLoop, "offer_optimization",
		fmt.Sprintf("completed %d optimization iterations; selected iteration %d with objective score %.2f",
			summary.Iterations, bestIdx, bestEval.Objective),
		"optimized", mustJSON(summary))
	return e.afterOptimization(), nil
}

func (e *Executor) afterOptimization() string {
	if e.cfg.EnableMultiCritic {
		return StageCriticReview
	}
	return StageExecutionBranch
}

func (e *Executor) logIteration(ctx context.Context, rec *DecisionRecord, idx int, candidate store.Proposal, eval offerEval, selected bool) {
	err := e.deps.Store.RecordOptimizationIteration(ctx, store.OptimizationIteration{
		Target:         rec.Target,
		Iteration:      idx,
		ParamsJSON:     mustJSON(candidate),
		Objective:      string(e.cfg.OptimizationObjective),
		ObjectiveValue: eval.Objective,
		Feasible:       eval.Feasible,
		Selected:       selected,
	})
	if err != nil {
		log.Printf("[pipeline] iteration log failed for %s: %v", rec.Target, err)
	}
}

// #endregion
