package monitor

// #region imports
import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/promopilot/promopilot/internal/store"
)

// #endregion

// #region monitor

// Monitor watches active promotions on its own timer, independent of the
// decision loop. It only ever transitions active promotions to retracted or
// completed; pending promotions and the scheduler cursor are out of reach.
type Monitor struct {
	store     *store.Store
	threshold float64
	interval  time.Duration
}

func New(st *store.Store, retractThreshold float64, interval time.Duration) *Monitor {
	return &Monitor{store: st, threshold: retractThreshold, interval: interval}
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Printf("[monitor] watching active promotions every %s (retract below %.2f)", m.interval, m.threshold)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[monitor] stopped")
			return
		case <-ticker.C:
			if _, _, err := m.Sweep(ctx); err != nil {
				log.Printf("[monitor] sweep failed: %v", err)
			}
		}
	}
}

// #endregion

// #region sweep

// Sweep examines every active promotion once. Expired windows complete the
// promotion; in-window underperformance below the threshold retracts it.
// Retraction is one-way. Per-promotion failures are logged and skipped so
// one bad row never blocks the rest of the sweep.
func (m *Monitor) Sweep(ctx context.Context) (retracted, completed int, err error) {
	active, err := m.store.ListPromotions(ctx, store.PromotionActive)
	if err != nil {
		return 0, 0, fmt.Errorf("list active promotions: %w", err)
	}

	now := time.Now().UTC()
	for _, promo := range active {
		switch {
		case now.After(promo.Proposal.ValidUntil):
			if cerr := m.store.CompletePromotion(ctx, promo.ID); cerr != nil {
				log.Printf("[monitor] complete %s failed: %v", promo.Code, cerr)
				continue
			}
			completed++
			log.Printf("[monitor] %s completed (window elapsed)", promo.Code)

		case now.Before(promo.Proposal.ValidFrom):
			// Not live yet; nothing to judge.

		default:
			perf, perr := m.store.RecentPerformance(ctx, promo.ID)
			if perr != nil {
				log.Printf("[monitor] performance fetch for %s failed: %v", promo.Code, perr)
				continue
			}
			note := fmt.Sprintf("%d units, revenue %.2f", perf.UnitsSold, perf.Revenue)
			if rerr := m.store.RecordPerformanceMetric(ctx, promo.ID, perf, note); rerr != nil {
				log.Printf("[monitor] metric record for %s failed: %v", promo.Code, rerr)
			}
			if perf.PerformanceRatio < m.threshold {
				reason := fmt.Sprintf("performance ratio %.2f below retraction threshold %.2f", perf.PerformanceRatio, m.threshold)
				if rerr := m.store.RetractPromotion(ctx, promo.ID, reason); rerr != nil {
					log.Printf("[monitor] retract %s failed: %v", promo.Code, rerr)
					continue
				}
				retracted++
				log.Printf("[monitor] %s retracted: %s", promo.Code, reason)
			}
		}
	}
	return retracted, completed, nil
}

// #endregion
