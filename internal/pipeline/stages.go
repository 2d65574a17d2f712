package pipeline

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/promopilot/promopilot/internal/factors"
	"github.com/promopilot/promopilot/internal/reasoning"
	"github.com/promopilot/promopilot/internal/similar"
	"github.com/promopilot/promopilot/internal/store"
)

// #endregion

// #region collect

func (e *Executor) collectData(ctx context.Context, rec *DecisionRecord) (string, error) {
	var snap store.InventorySnapshot
	err := e.withRetry(ctx, StageCollectData, func() error {
		var ierr error
		snap, ierr = e.deps.Store.InventorySnapshot(ctx, rec.Target)
		return ierr
	})
	if errors.Is(err, store.ErrNotFound) {
		// Nothing stocked at this target; not an error condition.
		rec.Outcome = OutcomeNoAction
		rec.OutcomeNote = "no inventory record for target"
		e.logDecision(ctx, rec, StageCollectData, "data_collection", rec.OutcomeNote, string(OutcomeNoAction), "")
		return stageDone, nil
	}
	if err != nil {
		return stageDone, fmt.Errorf("inventory snapshot: %w", err)
	}
	rec.Inventory = snap

	factorSnap, notes := e.deps.Collector.Collect(ctx, rec.Target, snap.Category)
	rec.Factors = factorSnap
	rec.Degradations = append(rec.Degradations, notes...)
	for _, n := range notes {
		log.Printf("[pipeline] %s degraded: %s", rec.Target, n)
	}
	return StageAnalyzeMarket, nil
}

// #endregion

// #region analyze

type analysisInput struct {
	LocationID    int                       `json:"location_id"`
	ProductID     int                       `json:"product_id"`
	Quantity      int                       `json:"quantity"`
	Capacity      int                       `json:"capacity"`
	ExcessStock   bool                      `json:"excess_stock"`
	AvgDailySales float64                   `json:"avg_daily_sales"`
	Weather       *factors.WeatherSnapshot  `json:"weather,omitempty"`
	Competitors   []factors.CompetitorPrice `json:"competitors,omitempty"`
	Social        *factors.SocialSnapshot   `json:"social,omitempty"`
	SimilarCases  []similar.Case            `json:"similar_cases,omitempty"`
}

func (e *Executor) analyzeMarket(ctx context.Context, rec *DecisionRecord) (string, error) {
	if e.deps.Retriever != nil {
		rec.Similar = e.deps.Retriever.Retrieve(ctx, rec.Target)
		if rec.Similar.Method == "historical_fallback" {
			rec.Degradations = append(rec.Degradations, "similarity retrieval degraded: "+rec.Similar.Reason)
		}
	}

	input := analysisInput{
		LocationID:    rec.Target.LocationID,
		ProductID:     rec.Target.ProductID,
		Quantity:      rec.Inventory.Quantity,
		Capacity:      rec.Inventory.Capacity,
		ExcessStock:   rec.Inventory.ExcessStock(),
		AvgDailySales: rec.Inventory.AvgDailySales,
		Weather:       rec.Factors.Weather,
		Competitors:   rec.Factors.Competitors,
		Social:        rec.Factors.Social,
		SimilarCases:  rec.Similar.Cases,
	}

	var analysis MarketAnalysis
	err := e.withRetry(ctx, StageAnalyzeMarket, func() error {
		res, derr := e.deps.Engine.Decide(ctx, reasoning.StageAnalyzeMarket, input)
		if derr != nil {
			return derr
		}
		e.recordUsage(ctx, rec.Target, "Market Analysis", "analyze_market_conditions", res.Usage)
		if uerr := json.Unmarshal(res.Output, &analysis); uerr != nil {
			return fmt.Errorf("%w: %v", reasoning.ErrInvalidResponse, uerr)
		}
		return nil
	})
	if err != nil {
		return stageDone, fmt.Errorf("market analysis: %w", err)
	}
	rec.Analysis = analysis

	outcome := "act"
	if !analysis.ShouldAct {
		outcome = string(OutcomeNoAction)
	}
	e.logDecision(ctx, rec, StageAnalyzeMarket, "market_analysis", analysis.Reasoning, outcome, mustJSON(input))

	if !analysis.ShouldAct {
		rec.Outcome = OutcomeNoAction
		rec.OutcomeNote = "no actionable market opportunity"
		return stageDone, nil
	}
	if e.cfg.EnableDecisionLearning && e.deps.Priors != nil {
		return StageLoadDecisionPriors, nil
	}
	return StagePriceStrategy, nil
}

// #endregion

// #region priors

func (e *Executor) loadDecisionPriors(ctx context.Context, rec *DecisionRecord) (string, error) {
	p, ok, err := e.deps.Priors.Get(ctx, rec.Target)
	if err != nil {
		// Priors are advisory; unavailability degrades, never fails.
		rec.Degradations = append(rec.Degradations, fmt.Sprintf("decision priors unavailable: %v", err))
		log.Printf("[pipeline] %s priors unavailable: %v", rec.Target, err)
		return StagePriceStrategy, nil
	}
	if ok {
		rec.Priors = &p
	}
	return StagePriceStrategy, nil
}

// #endregion

// #region pricing

type pricingInput struct {
	BasePrice          float64  `json:"base_price"`
	BaseCost           float64  `json:"base_cost"`
	LowestCompetitor   float64  `json:"lowest_competitor_price"`
	MinMarginPercent   float64  `json:"min_margin_percent"`
	MaxDiscountPercent float64  `json:"max_discount_percent"`
	AnalysisReasoning  string   `json:"analysis_reasoning"`
	RiskFlags          []string `json:"risk_flags,omitempty"`
}

func (e *Executor) priceStrategy(ctx context.Context, rec *DecisionRecord) (string, error) {
	basePrice := rec.Inventory.BasePrice
	baseCost := rec.Inventory.BaseCost

	lowest := basePrice
	for _, c := range rec.Factors.Competitors {
		if c.Price > 0 && c.Price < lowest {
			lowest = c.Price
		}
	}

	input := pricingInput{
		BasePrice:          basePrice,
		BaseCost:           baseCost,
		LowestCompetitor:   lowest,
		MinMarginPercent:   e.cfg.MinMarginPercent,
		MaxDiscountPercent: e.cfg.MaxDiscountPercent,
		AnalysisReasoning:  rec.Analysis.Reasoning,
	}
	if rec.Priors != nil {
		input.RiskFlags = rec.Priors.RiskFlags
	}

	var narrative struct {
		Reasoning string `json:"reasoning"`
	}
	err := e.withRetry(ctx, StagePriceStrategy, func() error {
		res, derr := e.deps.Engine.Decide(ctx, reasoning.StagePriceStrategy, input)
		if derr != nil {
			return derr
		}
		e.recordUsage(ctx, rec.Target, "Pricing Strategy", "calculate_optimal_price", res.Usage)
		if uerr := json.Unmarshal(res.Output, &narrative); uerr != nil {
			return fmt.Errorf("%w: %v", reasoning.ErrInvalidResponse, uerr)
		}
		return nil
	})
	if err != nil {
		return stageDone, fmt.Errorf("pricing strategy: %w", err)
	}

	// Undercut the lowest competitor, then raise to the margin floor if the
	// undercut price violates it.
	targetPrice := lowest * 0.95
	margin := marginPercent(targetPrice, baseCost)
	if margin < e.cfg.MinMarginPercent {
		targetPrice = baseCost / (1 - e.cfg.MinMarginPercent/100)
		margin = e.cfg.MinMarginPercent
	}
	discount := 0.0
	if basePrice > 0 {
		discount = (basePrice - targetPrice) / basePrice * 100
	}

	if discount <= 0 {
		// The floor-compliant price is not a markdown at all.
		rec.Outcome = OutcomeNoAction
		rec.OutcomeNote = fmt.Sprintf("margin floor %.1f%% unattainable at a promotional price", e.cfg.MinMarginPercent)
		e.logDecision(ctx, rec, StagePriceStrategy, "pricing_strategy", rec.OutcomeNote, string(OutcomeNoAction), mustJSON(input))
		return stageDone, nil
	}

	rec.Pricing = PricingStrategy{
		OriginalPrice:    basePrice,
		PromotionalPrice: round2(targetPrice),
		DiscountPercent:  round1(discount),
		MarginPercent:    round2(margin),
		Reasoning:        narrative.Reasoning,
	}
	e.logDecision(ctx, rec, StagePriceStrategy, "pricing_strategy", narrative.Reasoning, "act", mustJSON(rec.Pricing))
	return StageDesignPromotion, nil
}

// #endregion

// #region design

const (
	flashSaleMultiplier = 2.5
	discountMultiplier  = 1.5
)

func (e *Executor) designPromotion(ctx context.Context, rec *DecisionRecord) (string, error) {
	promoType := "discount"
	durationHours := e.cfg.DiscountDurationHours
	if (rec.Factors.Weather != nil && rec.Factors.Weather.IsExtreme) ||
		(rec.Factors.Social != nil && rec.Factors.Social.HasBuzz) {
		promoType = "flash_sale"
		durationHours = e.cfg.FlashSaleDurationHours
	}

	avgDaily := rec.Inventory.AvgDailySales
	if avgDaily <= 0 {
		avgDaily = 10
	}
	multiplier := discountMultiplier
	if promoType == "flash_sale" {
		multiplier = flashSaleMultiplier
	}
	expectedUnits := int(avgDaily * multiplier * float64(durationHours) / 24)
	if expectedUnits < 1 {
		expectedUnits = 1
	}

	now := time.Now().UTC()
	design := store.Proposal{
		Target:            rec.Target,
		PromotionType:     promoType,
		DiscountType:      "percentage",
		DiscountValue:     rec.Pricing.DiscountPercent,
		OriginalPrice:     rec.Pricing.OriginalPrice,
		PromotionalPrice:  rec.Pricing.PromotionalPrice,
		MarginPercent:     rec.Pricing.MarginPercent,
		ValidFrom:         now,
		ValidUntil:        now.Add(time.Duration(durationHours) * time.Hour),
		TargetRadiusKm:    e.cfg.TargetRadiusKm,
		ExpectedUnitsSold: expectedUnits,
		ExpectedRevenue:   round2(float64(expectedUnits) * rec.Pricing.PromotionalPrice),
		Reason:            fmt.Sprintf("%s: %s", strings.ToUpper(promoType), rec.Pricing.Reasoning),
	}
	rec.Design = &design
	e.logDecision(ctx, rec, StageDesignPromotion, "promotion_design",
		fmt.Sprintf("%s for %dh, expecting %d units", promoType, durationHours, expectedUnits),
		"designed", mustJSON(design))

	if e.cfg.EnableOptimizationLoop {
		return StageOptimizationLoop, nil
	}
	if e.cfg.EnableMultiCritic {
		return StageCriticReview, nil
	}
	return StageExecutionBranch, nil
}

// #endregion

// #region math-helpers

func marginPercent(price, cost float64) float64 {
	if price <= 0 {
		return 0
	}
	return (price - cost) / price * 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// #endregion
