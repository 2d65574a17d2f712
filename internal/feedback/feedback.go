package feedback

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region schema

const feedbackSchema = `
CREATE TABLE IF NOT EXISTS approval_feedback (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	pending_id   INTEGER NOT NULL,
	location_id  INTEGER NOT NULL,
	product_id   INTEGER NOT NULL,
	outcome      TEXT NOT NULL,
	reviewer     TEXT,
	note         TEXT,
	context_json TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_approval_feedback_target
ON approval_feedback(location_id, product_id);
`

// #endregion

// #region signal

// Signal is one approve/reject action with the decision context it judged.
type Signal struct {
	PendingID   int64         `json:"pending_id"`
	Target      target.Target `json:"target"`
	Outcome     string        `json:"outcome"` // "approved" | "rejected"
	Reviewer    string        `json:"reviewer"`
	Note        string        `json:"note"`
	ContextJSON string        `json:"context,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// #endregion

// #region recorder

// Recorder persists approval-feedback signals and optionally publishes them
// to an event stream. The store row is authoritative; publish failures are
// logged and never propagate.
type Recorder struct {
	db     *sql.DB
	writer *kafka.Writer // nil when no brokers configured
}

// NewRecorder initializes the approval_feedback table. brokers may be empty.
func NewRecorder(db *sql.DB, brokers []string, topic string) (*Recorder, error) {
	if _, err := db.Exec(feedbackSchema); err != nil {
		return nil, fmt.Errorf("migrate approval feedback: %w", err)
	}
	r := &Recorder{db: db}
	if len(brokers) > 0 {
		r.writer = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 10 * time.Second,
			MaxAttempts:  3,
		}
	}
	return r, nil
}

// Close releases the event-stream writer if one was configured.
func (r *Recorder) Close() error {
	if r.writer != nil {
		return r.writer.Close()
	}
	return nil
}

// Record persists the signal and publishes it when a stream is configured.
func (r *Recorder) Record(ctx context.Context, sig Signal) error {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO approval_feedback (pending_id, location_id, product_id, outcome, reviewer, note, context_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.PendingID, sig.Target.LocationID, sig.Target.ProductID,
		sig.Outcome, sig.Reviewer, sig.Note, sig.ContextJSON,
		sig.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record approval feedback: %w", err)
	}

	if r.writer != nil {
		payload, err := json.Marshal(sig)
		if err != nil {
			return fmt.Errorf("marshal feedback signal: %w", err)
		}
		key := fmt.Sprintf("%d-%d", sig.Target.LocationID, sig.Target.ProductID)
		if err := r.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload}); err != nil {
			log.Printf("[feedback] publish failed (recorded locally): %v", err)
		}
	}
	return nil
}

// #endregion

// #region outcomes

// RecentOutcomes counts approved and rejected signals for a target within
// the trailing number of days. Feeds decision-prior generation.
func (r *Recorder) RecentOutcomes(ctx context.Context, tgt target.Target, days int) (approved, rejected int, err error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	rows, err := r.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM approval_feedback
		 WHERE location_id = ? AND product_id = ? AND created_at >= ?
		 GROUP BY outcome`,
		tgt.LocationID, tgt.ProductID, since,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("recent outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return 0, 0, fmt.Errorf("scan outcome: %w", err)
		}
		switch outcome {
		case "approved":
			approved = n
		case "rejected":
			rejected = n
		}
	}
	return approved, rejected, rows.Err()
}

// #endregion
