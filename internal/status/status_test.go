package status

import (
	"sync"
	"testing"

	"github.com/promopilot/promopilot/internal/target"
)

func TestTrackerSetAndClear(t *testing.T) {
	tr := NewTracker()
	tgt := target.Target{LocationID: 2, ProductID: 7}

	tr.SetStage(tgt, "AnalyzeMarket")
	snap := tr.Snapshot()
	if snap.InProgressTarget == nil || *snap.InProgressTarget != tgt {
		t.Fatalf("unexpected in-progress target: %+v", snap.InProgressTarget)
	}
	if snap.CurrentStage != "AnalyzeMarket" {
		t.Fatalf("unexpected stage: %s", snap.CurrentStage)
	}
	if snap.UpdatedAt.IsZero() {
		t.Fatal("expected updated-at to be set")
	}

	tr.Clear()
	snap = tr.Snapshot()
	if snap.InProgressTarget != nil || snap.CurrentStage != "" {
		t.Fatalf("expected cleared snapshot, got %+v", snap)
	}
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	tr.SetStage(target.Target{LocationID: 1, ProductID: 1}, "CollectData")

	snap := tr.Snapshot()
	snap.InProgressTarget.LocationID = 99

	if tr.Snapshot().InProgressTarget.LocationID != 1 {
		t.Fatal("snapshot mutation leaked into tracker")
	}
}

func TestTrackerConcurrentReaders(t *testing.T) {
	tr := NewTracker()
	tgt := target.Target{LocationID: 1, ProductID: 2}

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.SetStage(tgt, "PriceStrategy")
			tr.Clear()
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := tr.Snapshot()
				// A reader must never observe a half-updated record.
				if snap.InProgressTarget != nil && snap.CurrentStage == "" {
					t.Error("observed target without stage")
					return
				}
			}
		}()
	}
	wg.Wait()
}
