package status

// #region imports
import (
	"sync"
	"time"

	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region snapshot

// Snapshot is a point-in-time copy of what the driver is doing right now.
// Not persisted; rebuilt empty on restart.
type Snapshot struct {
	InProgressTarget *target.Target `json:"in_progress_target"`
	CurrentStage     string         `json:"current_stage"`
	PromotionID      int64          `json:"current_promotion_id,omitempty"`
	UpdatedAt        time.Time      `json:"current_target_updated_at"`
}

// #endregion

// #region tracker

// Tracker is the shared runtime-status record. The driver worker is the only
// writer; control-surface readers take atomic snapshots and never block on an
// in-flight stage call.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// SetStage records the stage currently executing for the given target.
// One atomic write per stage transition.
func (t *Tracker) SetStage(tgt target.Target, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tgtCopy := tgt
	t.snap.InProgressTarget = &tgtCopy
	t.snap.CurrentStage = stage
	t.snap.UpdatedAt = time.Now().UTC()
}

// SetPromotion records the promotion the monitoring or execution path is
// currently touching.
func (t *Tracker) SetPromotion(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.PromotionID = id
	t.snap.UpdatedAt = time.Now().UTC()
}

// Clear resets the record after a pipeline run ends.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{UpdatedAt: time.Now().UTC()}
}

// Snapshot returns a copy safe for concurrent readers.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snap
	if t.snap.InProgressTarget != nil {
		tgtCopy := *t.snap.InProgressTarget
		snap.InProgressTarget = &tgtCopy
	}
	return snap
}

// #endregion
