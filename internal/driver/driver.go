package driver

// #region imports
import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/pipeline"
	"github.com/promopilot/promopilot/internal/status"
	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region types

const errorHistoryLimit = 100

// RunError is one skipped or failed target kept in the bounded history.
type RunError struct {
	Target  target.Target `json:"target"`
	Outcome string        `json:"outcome"`
	Note    string        `json:"note"`
	At      time.Time     `json:"at"`
}

// Status is the control surface's view of the driver.
type Status struct {
	Running      bool            `json:"running"`
	Fatal        string          `json:"fatal,omitempty"`
	Cursor       store.Cursor    `json:"cursor"`
	TargetCount  int             `json:"target_count"`
	Runtime      status.Snapshot `json:"runtime"`
	LastOutcome  string          `json:"last_outcome,omitempty"`
	RecentErrors []RunError      `json:"recent_errors,omitempty"`
}

// #endregion

// #region driver

// Driver owns the durable cursor and walks the target list one pipeline run
// at a time. Stop is cooperative: it is honored at target boundaries only,
// so an in-flight run always finishes and no side effect is half-applied.
type Driver struct {
	cfg     config.Config
	store   *store.Store
	exec    *pipeline.Executor
	status  *status.Tracker
	targets []target.Target

	mu          sync.Mutex
	cursor      store.Cursor
	running     bool
	fatal       string
	lastOutcome string
	errs        []RunError

	wake chan struct{}
}

// New loads the persisted cursor so a restart resumes mid-cycle instead of
// starting over. A fresh database begins paused at cycle 0, index 0.
func New(cfg config.Config, st *store.Store, exec *pipeline.Executor, tracker *status.Tracker, targets []target.Target) (*Driver, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("driver requires a non-empty target list")
	}
	cursor, err := st.LoadCursor(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	if cursor.NextTargetIndex < 0 || cursor.NextTargetIndex >= len(targets) {
		// The configured target list shrank since the cursor was saved.
		cursor.NextTargetIndex = 0
	}
	return &Driver{
		cfg:     cfg,
		store:   st,
		exec:    exec,
		status:  tracker,
		targets: targets,
		cursor:  cursor,
		wake:    make(chan struct{}, 1),
	}, nil
}

// Targets returns the ordered list the driver walks.
func (d *Driver) Targets() []target.Target {
	out := make([]target.Target, len(d.targets))
	copy(out, d.targets)
	return out
}

// #endregion

// #region worker

// Run is the long-lived worker loop. It blocks until ctx is cancelled.
// While paused it idles on the wake channel; while running it processes
// one target per iteration and re-checks the pause flag in between.
func (d *Driver) Run(ctx context.Context) {
	log.Printf("[driver] worker up with %d targets, cursor at cycle %d index %d",
		len(d.targets), d.cursor.CycleID, d.cursor.NextTargetIndex)
	for {
		if ctx.Err() != nil {
			return
		}
		if !d.isRunning() {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			}
			continue
		}

		tgt := d.currentTarget()
		rec := d.exec.Run(ctx, tgt)
		d.note(rec)
		wrapped := d.advance(ctx)
		if d.status != nil {
			d.status.Clear()
		}

		if wrapped {
			log.Printf("[driver] cycle %d complete, next pass in %s", d.cursorSnapshot().CycleID-1, d.cfg.MonitoringInterval)
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			case <-time.After(d.cfg.MonitoringInterval):
			}
		}
	}
}

func (d *Driver) currentTarget() target.Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targets[d.cursor.NextTargetIndex]
}

// advance moves the cursor past the just-finished target, wrapping into a
// new cycle at the end of the list, and persists it. Only the driver ever
// mutates the cursor.
func (d *Driver) advance(ctx context.Context) (wrapped bool) {
	d.mu.Lock()
	d.cursor.NextTargetIndex++
	if d.cursor.NextTargetIndex == len(d.targets) {
		d.cursor.NextTargetIndex = 0
		d.cursor.CycleID++
		wrapped = true
	}
	d.cursor.Paused = !d.running
	cursor := d.cursor
	d.mu.Unlock()

	if err := d.store.SaveCursor(ctx, cursor); err != nil {
		// Keep going on the in-memory cursor; the next advance retries.
		log.Printf("[driver] cursor persist failed: %v", err)
	}
	return wrapped
}

func (d *Driver) note(rec *pipeline.DecisionRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastOutcome = fmt.Sprintf("%s: %s", rec.Target, rec.Outcome)
	if rec.Outcome == pipeline.OutcomeSkippedError || rec.Outcome == pipeline.OutcomeExecutionFailed {
		d.errs = append(d.errs, RunError{
			Target:  rec.Target,
			Outcome: string(rec.Outcome),
			Note:    rec.OutcomeNote,
			At:      time.Now().UTC(),
		})
		if len(d.errs) > errorHistoryLimit {
			d.errs = d.errs[len(d.errs)-errorHistoryLimit:]
		}
	}
}

// #endregion

// #region control

// Start resumes processing from the persisted cursor. If the data service
// is unreachable the driver stays paused, records the condition for
// status(), and returns the error; it will not spin retrying.
func (d *Driver) Start(ctx context.Context) error {
	if err := d.store.Ping(ctx); err != nil {
		d.mu.Lock()
		d.running = false
		d.fatal = fmt.Sprintf("data service unreachable: %v", err)
		d.mu.Unlock()
		return fmt.Errorf("start refused: %w", err)
	}

	d.mu.Lock()
	d.running = true
	d.fatal = ""
	d.cursor.Paused = false
	cursor := d.cursor
	d.mu.Unlock()

	if err := d.store.SaveCursor(ctx, cursor); err != nil {
		log.Printf("[driver] cursor persist on start failed: %v", err)
	}
	d.signal()
	log.Printf("[driver] started at cycle %d index %d", cursor.CycleID, cursor.NextTargetIndex)
	return nil
}

// Stop requests a cooperative pause. The in-flight target, if any, finishes
// first; the pause takes effect at the next target boundary.
func (d *Driver) Stop(ctx context.Context) {
	d.mu.Lock()
	d.running = false
	d.cursor.Paused = true
	cursor := d.cursor
	d.mu.Unlock()

	if err := d.store.SaveCursor(ctx, cursor); err != nil {
		log.Printf("[driver] cursor persist on stop failed: %v", err)
	}
	d.signal()
	log.Printf("[driver] pause requested, effective at next target boundary")
}

// TriggerOnce runs the pipeline for one target out-of-band. The cursor is
// untouched; the run serializes with the scheduled loop inside the executor.
func (d *Driver) TriggerOnce(ctx context.Context, tgt target.Target) *pipeline.DecisionRecord {
	log.Printf("[driver] out-of-band run for %s", tgt)
	rec := d.exec.Run(ctx, tgt)
	d.note(rec)
	if d.status != nil {
		d.status.Clear()
	}
	return rec
}

// Status returns an atomic snapshot for the control surface. It never
// blocks on an in-flight pipeline stage.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	errs := make([]RunError, len(d.errs))
	copy(errs, d.errs)
	s := Status{
		Running:      d.running,
		Fatal:        d.fatal,
		Cursor:       d.cursor,
		TargetCount:  len(d.targets),
		LastOutcome:  d.lastOutcome,
		RecentErrors: errs,
	}
	if d.status != nil {
		s.Runtime = d.status.Snapshot()
	}
	return s
}

func (d *Driver) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Driver) cursorSnapshot() store.Cursor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

func (d *Driver) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// #endregion
