package similar

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

func tempStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type stubRemote struct {
	cases []Case
	err   error
}

func (s stubRemote) SimilarCases(ctx context.Context, tgt target.Target, k int) ([]Case, error) {
	return s.cases, s.err
}

func TestRetrieveRemote(t *testing.T) {
	remote := stubRemote{cases: []Case{
		{Summary: "flash_sale at 25% discount", Outcome: "completed", Score: 0.92},
		{Summary: "flash_sale at 25% discount", Outcome: "completed", Score: 0.92}, // dupe
		{Summary: "", Outcome: "retracted"},                                        // empty
		{Summary: "discount at 10%", Outcome: "completed", Score: 0.81},
	}}
	r := NewRetriever(remote, tempStore(t), 5)

	res := r.Retrieve(context.Background(), target.Target{LocationID: 1, ProductID: 1})
	if res.Method != "remote" {
		t.Fatalf("expected remote, got %s", res.Method)
	}
	if len(res.Cases) != 2 {
		t.Fatalf("expected 2 valid cases after consistency check, got %d", len(res.Cases))
	}
}

func TestRetrieveFallsBackToHistory(t *testing.T) {
	st := tempStore(t)
	ctx := context.Background()
	tgt := target.Target{LocationID: 2, ProductID: 3}

	promo, err := st.CreateActivePromotion(ctx, store.Proposal{
		Target: tgt, PromotionType: "discount", DiscountType: "percentage",
		DiscountValue: 15, OriginalPrice: 10, PromotionalPrice: 8.5, MarginPercent: 20,
		ValidFrom: time.Now(), ValidUntil: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateActivePromotion: %v", err)
	}
	if err := st.CompletePromotion(ctx, promo.ID); err != nil {
		t.Fatalf("CompletePromotion: %v", err)
	}

	r := NewRetriever(stubRemote{err: errors.New("chroma down")}, st, 5)
	res := r.Retrieve(ctx, tgt)
	if res.Method != "historical_fallback" {
		t.Fatalf("expected historical_fallback, got %s", res.Method)
	}
	if len(res.Cases) != 1 || res.Cases[0].Outcome != "completed" {
		t.Fatalf("unexpected cases: %+v", res.Cases)
	}
}

func TestRetrieveNothingAvailable(t *testing.T) {
	r := NewRetriever(nil, tempStore(t), 5)
	res := r.Retrieve(context.Background(), target.Target{LocationID: 9, ProductID: 9})
	if res.Method != "none" || len(res.Cases) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}
