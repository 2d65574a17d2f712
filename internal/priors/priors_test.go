package priors

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

type stubFeedback struct {
	approved, rejected int
}

func (s stubFeedback) RecentOutcomes(context.Context, target.Target, int) (int, int, error) {
	return s.approved, s.rejected, nil
}

func tempService(t *testing.T, fb FeedbackSource) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "priors.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	svc, err := New(st, fb, 10, 40)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, st
}

func seedCase(t *testing.T, st *store.Store, tgt target.Target, discount, margin, ratio float64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	promo, err := st.CreateActivePromotion(ctx, store.Proposal{
		Target:            tgt,
		PromotionType:     "discount",
		DiscountType:      "percentage",
		DiscountValue:     discount,
		OriginalPrice:     6.99,
		PromotionalPrice:  5.59,
		MarginPercent:     margin,
		ValidFrom:         now.Add(-48 * time.Hour),
		ValidUntil:        now.Add(-24 * time.Hour),
		ExpectedUnitsSold: 100,
		ExpectedRevenue:   559,
		Reason:            "test seed",
	})
	if err != nil {
		t.Fatalf("seed promotion: %v", err)
	}
	if err := st.RecordPerformanceMetric(ctx, promo.ID, store.Performance{UnitsSold: 80, Revenue: 450, PerformanceRatio: ratio}, ""); err != nil {
		t.Fatalf("seed metric: %v", err)
	}
	if err := st.CompletePromotion(ctx, promo.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestGetWithoutHistory(t *testing.T) {
	svc, _ := tempService(t, nil)
	_, ok, err := svc.Get(context.Background(), target.Target{LocationID: 1, ProductID: 1})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected no priors for an unseen target")
	}
}

func TestGenerateFromCases(t *testing.T) {
	svc, st := tempService(t, stubFeedback{approved: 3, rejected: 1})
	tgt := target.Target{LocationID: 2, ProductID: 5}
	seedCase(t, st, tgt, 20, 18, 1.3)
	seedCase(t, st, tgt, 25, 16, 0.7)

	p, ok, err := svc.Get(context.Background(), tgt)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected priors")
	}
	if p.Source != "generated" {
		t.Fatalf("expected generated source, got %q", p.Source)
	}
	if p.SuccessProbability != 0.5 {
		t.Fatalf("expected success probability 0.5, got %v", p.SuccessProbability)
	}
	// avg performance 1.0 sits in the medium band.
	if p.ExpectedROIBand != "medium" {
		t.Fatalf("expected medium band, got %q", p.ExpectedROIBand)
	}
	if p.Evidence.FeedbackSignals != 4 || p.Evidence.ApprovalRate != 0.75 {
		t.Fatalf("unexpected feedback evidence: %+v", p.Evidence)
	}
	// avg discount 22.5 recommends the 17.5..27.5 range.
	if p.RecommendedDiscount.MinPercent != 17.5 || p.RecommendedDiscount.MaxPercent != 27.5 {
		t.Fatalf("unexpected discount range: %+v", p.RecommendedDiscount)
	}
}

func TestRiskFlags(t *testing.T) {
	svc, st := tempService(t, stubFeedback{approved: 1, rejected: 3})
	tgt := target.Target{LocationID: 3, ProductID: 3}
	// Every case underperforms at a thin margin and a deep discount.
	seedCase(t, st, tgt, 38, 11, 0.5)
	seedCase(t, st, tgt, 36, 10.5, 0.6)

	p, ok, err := svc.Get(context.Background(), tgt)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	want := map[string]bool{
		"historically_low_success": true,
		"low_human_approval_rate":  true,
		"margin_pressure":          true,
		"discount_intensity_high":  true,
	}
	if len(p.RiskFlags) != len(want) {
		t.Fatalf("expected %d flags, got %v", len(want), p.RiskFlags)
	}
	for _, f := range p.RiskFlags {
		if !want[f] {
			t.Fatalf("unexpected flag %q", f)
		}
	}
	if p.ExpectedROIBand != "low" {
		t.Fatalf("expected low band, got %q", p.ExpectedROIBand)
	}
}

func TestCachedPriorReused(t *testing.T) {
	svc, st := tempService(t, nil)
	tgt := target.Target{LocationID: 4, ProductID: 4}
	seedCase(t, st, tgt, 20, 18, 1.3)

	first, ok, err := svc.Get(context.Background(), tgt)
	if err != nil || !ok {
		t.Fatalf("first Get: ok=%v err=%v", ok, err)
	}
	if first.Source != "generated" {
		t.Fatalf("first fetch should generate, got %q", first.Source)
	}

	second, ok, err := svc.Get(context.Background(), tgt)
	if err != nil || !ok {
		t.Fatalf("second Get: ok=%v err=%v", ok, err)
	}
	if second.Source != "cached" {
		t.Fatalf("second fetch should hit the cache, got %q", second.Source)
	}
	if second.SuccessProbability != first.SuccessProbability {
		t.Fatalf("cached prior drifted: %v vs %v", second.SuccessProbability, first.SuccessProbability)
	}
}
