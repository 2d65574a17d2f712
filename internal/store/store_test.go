package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/promopilot/promopilot/internal/target"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProposal(tgt target.Target) Proposal {
	now := time.Now().UTC()
	return Proposal{
		Target:            tgt,
		PromotionType:     "discount",
		DiscountType:      "percentage",
		DiscountValue:     20,
		OriginalPrice:     6.99,
		PromotionalPrice:  5.59,
		MarginPercent:     18,
		ValidFrom:         now,
		ValidUntil:        now.Add(24 * time.Hour),
		TargetRadiusKm:    5,
		ExpectedUnitsSold: 100,
		ExpectedRevenue:   559,
		Reason:            "excess inventory",
	}
}

func TestInventorySnapshot(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	tgt := target.Target{LocationID: 1, ProductID: 2}

	if err := s.UpsertInventory(ctx, tgt, 90, 100, 6.99, 3.50, "beverages"); err != nil {
		t.Fatalf("UpsertInventory: %v", err)
	}
	if err := s.RecordSale(ctx, tgt, 0, 14, 97.86, time.Now().UTC().Add(-24*time.Hour)); err != nil {
		t.Fatalf("RecordSale: %v", err)
	}

	snap, err := s.InventorySnapshot(ctx, tgt)
	if err != nil {
		t.Fatalf("InventorySnapshot: %v", err)
	}
	if snap.Quantity != 90 || snap.BasePrice != 6.99 || snap.BaseCost != 3.50 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !snap.ExcessStock() {
		t.Fatal("90/100 should read as excess stock")
	}
	if snap.AvgDailySales != 2 {
		t.Fatalf("expected 14 units / 7 days = 2, got %v", snap.AvgDailySales)
	}
}

func TestInventorySnapshotMissingTarget(t *testing.T) {
	s := tempStore(t)
	_, err := s.InventorySnapshot(context.Background(), target.Target{LocationID: 9, ProductID: 9})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAndRetractPromotion(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	tgt := target.Target{LocationID: 1, ProductID: 1}

	promo, err := s.CreateActivePromotion(ctx, testProposal(tgt))
	if err != nil {
		t.Fatalf("CreateActivePromotion: %v", err)
	}
	if promo.Status != PromotionActive {
		t.Fatalf("expected active, got %s", promo.Status)
	}
	if promo.Code == "" {
		t.Fatal("expected non-empty promotion code")
	}

	if err := s.RetractPromotion(ctx, promo.ID, "performance below threshold"); err != nil {
		t.Fatalf("RetractPromotion: %v", err)
	}

	got, err := s.GetPromotion(ctx, promo.ID)
	if err != nil {
		t.Fatalf("GetPromotion: %v", err)
	}
	if got.Status != PromotionRetracted {
		t.Fatalf("expected retracted, got %s", got.Status)
	}
	if got.RetractReason != "performance below threshold" {
		t.Fatalf("unexpected retract reason: %q", got.RetractReason)
	}
	if got.RetractedAt.IsZero() {
		t.Fatal("expected retracted-at timestamp")
	}

	// Retraction is one-way: a second retract finds no active row.
	if err := s.RetractPromotion(ctx, promo.ID, "again"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double retract, got %v", err)
	}
}

func TestListPromotionsByStatus(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	tgt := target.Target{LocationID: 1, ProductID: 1}

	a, _ := s.CreateActivePromotion(ctx, testProposal(tgt))
	b, _ := s.CreateActivePromotion(ctx, testProposal(tgt))
	if err := s.CompletePromotion(ctx, b.ID); err != nil {
		t.Fatalf("CompletePromotion: %v", err)
	}

	active, err := s.ListPromotions(ctx, PromotionActive)
	if err != nil {
		t.Fatalf("ListPromotions: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("expected only promotion %d active, got %+v", a.ID, active)
	}
}

func TestPendingPromotionLifecycle(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	tgt := target.Target{LocationID: 3, ProductID: 4}

	pending, err := s.CreatePendingPromotion(ctx, testProposal(tgt), "margin is healthy", `{"weather":"heatwave"}`)
	if err != nil {
		t.Fatalf("CreatePendingPromotion: %v", err)
	}
	if pending.Status != PendingReview {
		t.Fatalf("expected pending, got %s", pending.Status)
	}

	list, err := s.ListPendingPromotions(ctx, PendingReview)
	if err != nil {
		t.Fatalf("ListPendingPromotions: %v", err)
	}
	if len(list) != 1 || list[0].Reasoning != "margin is healthy" {
		t.Fatalf("unexpected pending list: %+v", list)
	}

	if err := s.ResolvePendingPromotion(ctx, pending.ID, PendingApproved, "ops@example.com", "looks good", 42); err != nil {
		t.Fatalf("ResolvePendingPromotion: %v", err)
	}

	got, err := s.GetPendingPromotion(ctx, pending.ID)
	if err != nil {
		t.Fatalf("GetPendingPromotion: %v", err)
	}
	if got.Status != PendingApproved || got.PromotionID != 42 || got.ReviewedBy != "ops@example.com" {
		t.Fatalf("unexpected resolved row: %+v", got)
	}

	// Terminal once resolved.
	err = s.ResolvePendingPromotion(ctx, pending.ID, PendingRejected, "x", "", 0)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on double resolve, got %v", err)
	}
}

func TestRecentPerformanceProratesExpectation(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	tgt := target.Target{LocationID: 1, ProductID: 1}

	p := testProposal(tgt)
	p.ValidFrom = time.Now().UTC().Add(-12 * time.Hour)
	p.ValidUntil = time.Now().UTC().Add(12 * time.Hour)
	p.ExpectedUnitsSold = 100

	promo, err := s.CreateActivePromotion(ctx, p)
	if err != nil {
		t.Fatalf("CreateActivePromotion: %v", err)
	}
	// Half the window elapsed, expectation so far is 50 units; 5 sold = 0.1.
	if err := s.RecordSale(ctx, tgt, promo.ID, 5, 27.95, time.Now().UTC()); err != nil {
		t.Fatalf("RecordSale: %v", err)
	}

	perf, err := s.RecentPerformance(ctx, promo.ID)
	if err != nil {
		t.Fatalf("RecentPerformance: %v", err)
	}
	if perf.UnitsSold != 5 {
		t.Fatalf("expected 5 units, got %d", perf.UnitsSold)
	}
	if perf.PerformanceRatio < 0.08 || perf.PerformanceRatio > 0.12 {
		t.Fatalf("expected ratio near 0.10, got %v", perf.PerformanceRatio)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	c, err := s.LoadCursor(ctx)
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if c.CycleID != 0 || c.NextTargetIndex != 0 || !c.Paused {
		t.Fatalf("fresh cursor should be zero and paused, got %+v", c)
	}

	want := Cursor{CycleID: 3, NextTargetIndex: 17, Paused: false}
	if err := s.SaveCursor(ctx, want); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}
	got, err := s.LoadCursor(ctx)
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if got != want {
		t.Fatalf("cursor round trip: got %+v, want %+v", got, want)
	}
}

func TestHistoricalCases(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	tgt := target.Target{LocationID: 2, ProductID: 2}

	promo, _ := s.CreateActivePromotion(ctx, testProposal(tgt))
	if err := s.RecordPerformanceMetric(ctx, promo.ID, Performance{UnitsSold: 120, Revenue: 670, PerformanceRatio: 1.2}, ""); err != nil {
		t.Fatalf("RecordPerformanceMetric: %v", err)
	}
	if err := s.CompletePromotion(ctx, promo.ID); err != nil {
		t.Fatalf("CompletePromotion: %v", err)
	}

	// Still-active promotions are not history.
	s.CreateActivePromotion(ctx, testProposal(tgt))

	cases, err := s.HistoricalCases(ctx, tgt, 10)
	if err != nil {
		t.Fatalf("HistoricalCases: %v", err)
	}
	if len(cases) != 1 {
		t.Fatalf("expected 1 case, got %d", len(cases))
	}
	if cases[0].AvgPerformanceRatio != 1.2 {
		t.Fatalf("expected avg ratio 1.2, got %v", cases[0].AvgPerformanceRatio)
	}
}

func TestRecordDecisionAndTokenUsage(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	tgt := target.Target{LocationID: 1, ProductID: 5}

	err := s.RecordDecision(ctx, DecisionEntry{
		Stage:        "AnalyzeMarket",
		Target:       tgt,
		DecisionType: "market_analysis",
		Reasoning:    "no actionable opportunity",
		Outcome:      "no_action",
	})
	if err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}

	err = s.RecordTokenUsage(ctx, TokenUsage{
		Agent: "market-analyzer", Operation: "analyze", Model: "gpt-5-mini",
		PromptTokens: 900, CompletionTokens: 150, EstimatedCost: 0.000225, Target: tgt,
	})
	if err != nil {
		t.Fatalf("RecordTokenUsage: %v", err)
	}

	var total int
	if err := s.DB().QueryRow(`SELECT total_tokens FROM token_usage`).Scan(&total); err != nil {
		t.Fatalf("query token usage: %v", err)
	}
	if total != 1050 {
		t.Fatalf("expected total 1050, got %d", total)
	}
}
