package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/factors"
	"github.com/promopilot/promopilot/internal/reasoning"
	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

// #region fixtures

type stubEngine struct {
	shouldAct    bool
	err          error
	analyzeCalls int
	pricingCalls int
}

func (s *stubEngine) Decide(_ context.Context, kind reasoning.StageKind, _ any) (reasoning.Result, error) {
	if s.err != nil {
		return reasoning.Result{}, s.err
	}
	switch kind {
	case reasoning.StageAnalyzeMarket:
		s.analyzeCalls++
		out, _ := json.Marshal(MarketAnalysis{
			ShouldAct:        s.shouldAct,
			Reasoning:        "stub analysis",
			OpportunityScore: 70,
		})
		return reasoning.Result{Output: out, Usage: reasoning.Usage{PromptTokens: 10, CompletionTokens: 5}}, nil
	default:
		s.pricingCalls++
		return reasoning.Result{Output: json.RawMessage(`{"reasoning":"stub pricing"}`)}, nil
	}
}

type stubCompetitors struct {
	prices []factors.CompetitorPrice
}

func (s stubCompetitors) CompetitorPrices(context.Context, target.Target) ([]factors.CompetitorPrice, error) {
	return s.prices, nil
}

func testConfig() config.Config {
	return config.Config{
		MinMarginPercent:          10,
		MaxDiscountPercent:        40,
		OptimizationMaxIterations: 3,
		OptimizationObjective:     config.ObjectiveProfitMaximization,
		CriticAggregation:         config.AggregationAverage,
		CriticReviseThreshold:     65,
		CriticRejectThreshold:     45,
		FlashSaleDurationHours:    2,
		DiscountDurationHours:     24,
		TargetRadiusKm:            5,
	}
}

func newExecutor(t *testing.T, cfg config.Config, eng reasoning.Engine, comp factors.CompetitorProvider) (*Executor, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ex := New(cfg, Deps{
		Store:     st,
		Engine:    eng,
		Costs:     reasoning.CostTable{Model: "test", InputPer1M: 0.25, OutputPer1M: 2},
		Collector: &factors.Collector{Competitor: comp},
	})
	ex.retryBase = time.Millisecond
	return ex, st
}

func seedInventory(t *testing.T, st *store.Store, tgt target.Target, basePrice, baseCost float64) {
	t.Helper()
	if err := st.UpsertInventory(context.Background(), tgt, 90, 100, basePrice, baseCost, "beverages"); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
}

// #endregion

// #region end-to-end

func TestRunExecutedAuto(t *testing.T) {
	cfg := testConfig()
	comp := stubCompetitors{prices: []factors.CompetitorPrice{{CompetitorName: "rival", Price: 5.26}}}
	ex, st := newExecutor(t, cfg, &stubEngine{shouldAct: true}, comp)
	tgt := target.Target{LocationID: 1, ProductID: 1}
	seedInventory(t, st, tgt, 6.99, 4.10)

	rec := ex.Run(context.Background(), tgt)
	if rec.Outcome != OutcomeExecutedAuto {
		t.Fatalf("expected executed_auto, got %s (%s)", rec.Outcome, rec.OutcomeNote)
	}
	if rec.PromotionID == 0 {
		t.Fatal("expected a promotion id")
	}
	// Undercut 5.26 by 5% keeps margin well above the 10% floor.
	if rec.Pricing.MarginPercent < cfg.MinMarginPercent {
		t.Fatalf("margin %v below floor", rec.Pricing.MarginPercent)
	}
	active, err := st.ListPromotions(context.Background(), store.PromotionActive)
	if err != nil {
		t.Fatalf("ListPromotions: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected one active promotion, got %d", len(active))
	}
}

func TestRunSubmittedForApproval(t *testing.T) {
	cfg := testConfig()
	cfg.RequireManualApproval = true
	comp := stubCompetitors{prices: []factors.CompetitorPrice{{CompetitorName: "rival", Price: 5.26}}}
	ex, st := newExecutor(t, cfg, &stubEngine{shouldAct: true}, comp)
	tgt := target.Target{LocationID: 1, ProductID: 2}
	seedInventory(t, st, tgt, 6.99, 4.10)

	rec := ex.Run(context.Background(), tgt)
	if rec.Outcome != OutcomeSubmitted {
		t.Fatalf("expected submitted_for_approval, got %s (%s)", rec.Outcome, rec.OutcomeNote)
	}
	if rec.PendingID == 0 {
		t.Fatal("expected a pending id")
	}
	pending, err := st.ListPendingPromotions(context.Background(), store.PendingReview)
	if err != nil {
		t.Fatalf("ListPendingPromotions: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending promotion, got %d", len(pending))
	}
	active, err := st.ListPromotions(context.Background(), store.PromotionActive)
	if err != nil {
		t.Fatalf("ListPromotions: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("manual approval must not create active promotions, got %d", len(active))
	}
}

func TestRunNoActionMarginFloor(t *testing.T) {
	cfg := testConfig()
	// Undercutting the competitor yields ~8% margin; the floor-compliant
	// price exceeds the base price, so no markdown is possible.
	comp := stubCompetitors{prices: []factors.CompetitorPrice{{CompetitorName: "rival", Price: 5.26}}}
	ex, st := newExecutor(t, cfg, &stubEngine{shouldAct: true}, comp)
	tgt := target.Target{LocationID: 1, ProductID: 3}
	seedInventory(t, st, tgt, 5.00, 4.60)

	rec := ex.Run(context.Background(), tgt)
	if rec.Outcome != OutcomeNoAction {
		t.Fatalf("expected no_action, got %s (%s)", rec.Outcome, rec.OutcomeNote)
	}
	active, _ := st.ListPromotions(context.Background(), store.PromotionActive)
	pending, _ := st.ListPendingPromotions(context.Background(), store.PendingReview)
	if len(active) != 0 || len(pending) != 0 {
		t.Fatalf("expected zero promotion rows, got %d active %d pending", len(active), len(pending))
	}
}

func TestRunNoActionFromAnalysis(t *testing.T) {
	eng := &stubEngine{shouldAct: false}
	ex, st := newExecutor(t, testConfig(), eng, nil)
	tgt := target.Target{LocationID: 1, ProductID: 4}
	seedInventory(t, st, tgt, 6.99, 3.50)

	rec := ex.Run(context.Background(), tgt)
	if rec.Outcome != OutcomeNoAction {
		t.Fatalf("expected no_action, got %s", rec.Outcome)
	}
	if eng.pricingCalls != 0 {
		t.Fatalf("pricing must not run after a no-action analysis, got %d calls", eng.pricingCalls)
	}
}

func TestRunSkippedOnEngineFailure(t *testing.T) {
	ex, st := newExecutor(t, testConfig(), &stubEngine{err: reasoning.ErrTimeout}, nil)
	tgt := target.Target{LocationID: 1, ProductID: 5}
	seedInventory(t, st, tgt, 6.99, 3.50)

	rec := ex.Run(context.Background(), tgt)
	if rec.Outcome != OutcomeSkippedError {
		t.Fatalf("expected target_skipped_error, got %s", rec.Outcome)
	}
}

func TestRunNoInventory(t *testing.T) {
	ex, _ := newExecutor(t, testConfig(), &stubEngine{shouldAct: true}, nil)
	rec := ex.Run(context.Background(), target.Target{LocationID: 9, ProductID: 9})
	if rec.Outcome != OutcomeNoAction {
		t.Fatalf("expected no_action for unstocked target, got %s", rec.Outcome)
	}
}

// #endregion

// #region arbitration

func scoresAt(values ...float64) []CriticScore {
	scores := make([]CriticScore, len(values))
	for i, v := range values {
		scores[i] = CriticScore{Evaluator: "stub", Score: v}
	}
	return scores
}

func TestArbitrationBoundaries(t *testing.T) {
	ex := New(testConfig(), Deps{})

	cases := []struct {
		name   string
		scores []CriticScore
		want   string
	}{
		{"well above revise", scoresAt(80, 80, 80), "approve"},
		{"exactly at revise threshold", scoresAt(65, 65, 65), "revise"},
		{"between thresholds", scoresAt(50, 55, 60), "revise"},
		{"exactly at reject threshold", scoresAt(45, 45, 45), "reject"},
		{"below reject", scoresAt(10, 20, 30), "reject"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := ex.arbitrate(tc.scores)
			if v.Action != tc.want {
				t.Fatalf("aggregate %v: got %q, want %q", v.Aggregate, v.Action, tc.want)
			}
		})
	}
}

func TestArbitrationMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.CriticAggregation = config.AggregationMinimum
	ex := New(cfg, Deps{})

	v := ex.arbitrate(scoresAt(90, 85, 40))
	if v.Action != "reject" || v.Aggregate != 40 {
		t.Fatalf("minimum aggregation: got %q at %v", v.Action, v.Aggregate)
	}
}

func TestReviseBoundedToOnePass(t *testing.T) {
	cfg := testConfig()
	// Thresholds forcing a revise verdict on every pass: approval is
	// unreachable and rejection impossible.
	cfg.CriticReviseThreshold = 101
	cfg.CriticRejectThreshold = -1
	ex, st := newExecutor(t, cfg, &stubEngine{shouldAct: true}, nil)
	tgt := target.Target{LocationID: 2, ProductID: 1}
	seedInventory(t, st, tgt, 6.99, 3.50)

	rec := &DecisionRecord{Target: tgt}
	var err error
	rec.Inventory, err = st.InventorySnapshot(context.Background(), tgt)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	rec.Pricing = PricingStrategy{OriginalPrice: 6.99, PromotionalPrice: 5.59, DiscountPercent: 20, MarginPercent: 37}
	design := store.Proposal{Target: tgt, PromotionType: "discount", DiscountValue: 20, OriginalPrice: 6.99, PromotionalPrice: 5.59, MarginPercent: 37, ExpectedUnitsSold: 15}
	rec.Design = &design

	next, err := ex.criticReview(context.Background(), rec)
	if err != nil {
		t.Fatalf("first review: %v", err)
	}
	if next != StageDesignPromotion {
		t.Fatalf("first revise should loop back, got %s", next)
	}
	if !rec.RevisionUsed {
		t.Fatal("revision flag not set")
	}

	next, err = ex.criticReview(context.Background(), rec)
	if err != nil {
		t.Fatalf("second review: %v", err)
	}
	if next != StageExecutionBranch {
		t.Fatalf("second verdict must be overridden to execution, got %s", next)
	}
	if len(rec.Verdicts) != 2 {
		t.Fatalf("expected both verdicts recorded, got %d", len(rec.Verdicts))
	}
}

// #endregion

// #region optimization

func optimizerRecord(t *testing.T, st *store.Store, tgt target.Target) *DecisionRecord {
	t.Helper()
	seedInventory(t, st, tgt, 10.00, 4.00)
	snap, err := st.InventorySnapshot(context.Background(), tgt)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	design := store.Proposal{
		Target:            tgt,
		PromotionType:     "discount",
		DiscountValue:     20,
		OriginalPrice:     10.00,
		PromotionalPrice:  8.00,
		MarginPercent:     50,
		ExpectedUnitsSold: 12,
		Reason:            "baseline design",
	}
	return &DecisionRecord{Target: tgt, Inventory: snap, Design: &design}
}

func TestOptimizationRespectsIterationCap(t *testing.T) {
	cfg := testConfig()
	cfg.OptimizationMaxIterations = 3
	cfg.EnableOptimizationLoop = true
	ex, st := newExecutor(t, cfg, &stubEngine{}, nil)
	rec := optimizerRecord(t, st, target.Target{LocationID: 3, ProductID: 1})

	next, err := ex.optimizationLoop(context.Background(), rec)
	if err != nil {
		t.Fatalf("optimizationLoop: %v", err)
	}
	if next != StageExecutionBranch {
		t.Fatalf("unexpected next stage %s", next)
	}
	if rec.Optimization.Iterations > 3 {
		t.Fatalf("iteration cap exceeded: %d", rec.Optimization.Iterations)
	}
	if rec.Optimization.Exhausted {
		t.Fatal("feasible search must not report exhaustion")
	}
	if rec.Optimization.SelectedIteration < 0 {
		t.Fatal("expected a selected iteration")
	}
	if rec.Design.MarginPercent < cfg.MinMarginPercent {
		t.Fatalf("selected candidate violates margin floor: %v", rec.Design.MarginPercent)
	}
}

func TestOptimizationExhaustedKeepsOriginal(t *testing.T) {
	cfg := testConfig()
	cfg.EnableOptimizationLoop = true
	cfg.MinMarginPercent = 95 // nothing can satisfy this floor
	ex, st := newExecutor(t, cfg, &stubEngine{}, nil)
	rec := optimizerRecord(t, st, target.Target{LocationID: 3, ProductID: 2})
	original := *rec.Design

	if _, err := ex.optimizationLoop(context.Background(), rec); err != nil {
		t.Fatalf("optimizationLoop: %v", err)
	}
	if !rec.Optimization.Exhausted {
		t.Fatal("expected optimization_exhausted")
	}
	if rec.Design.DiscountValue != original.DiscountValue || rec.Design.PromotionalPrice != original.PromotionalPrice {
		t.Fatalf("original design must survive exhaustion: %+v", rec.Design)
	}
}

// #endregion
