package priors

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region schema

const priorsSchema = `
CREATE TABLE IF NOT EXISTS decision_priors (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	location_id  INTEGER NOT NULL,
	product_id   INTEGER NOT NULL,
	payload_json TEXT NOT NULL,
	generated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_priors_target
ON decision_priors(location_id, product_id, generated_at);
`

// #endregion

// #region types

// DiscountRange bounds the discounts that worked historically for a target.
type DiscountRange struct {
	MinPercent float64 `json:"min_percent"`
	MaxPercent float64 `json:"max_percent"`
}

// Evidence records the sample sizes and averages behind a prior.
type Evidence struct {
	HistoricalCases    int     `json:"historical_cases"`
	SuccessfulCases    int     `json:"successful_cases"`
	FeedbackSignals    int     `json:"approval_feedback_signals"`
	ApprovalRate       float64 `json:"approval_rate"`
	AvgMarginPercent   float64 `json:"average_margin_percent"`
	AvgDiscountPercent float64 `json:"average_discount_percent"`
	AvgPerformance     float64 `json:"average_performance_ratio"`
}

// Priors is a reusable belief about how promotions perform at a target.
type Priors struct {
	SuccessProbability  float64       `json:"success_probability"`
	ConfidenceScore     float64       `json:"confidence_score"`
	ExpectedROIBand     string        `json:"expected_roi_band"` // "high" | "medium" | "low"
	RiskFlags           []string      `json:"risk_flags"`
	RecommendedDiscount DiscountRange `json:"recommended_discount_range"`
	Evidence            Evidence      `json:"evidence"`
	Source              string        `json:"source"` // "cached" | "generated"
	GeneratedAt         time.Time     `json:"generated_at"`
}

// FeedbackSource reports recent reviewer outcomes for a target.
type FeedbackSource interface {
	RecentOutcomes(ctx context.Context, tgt target.Target, days int) (approved, rejected int, err error)
}

// #endregion

// #region service

const (
	maxPriorAge      = 14 * 24 * time.Hour
	caseLimit        = 25
	feedbackDays     = 180
	successThreshold = 1.0
)

// Service builds decision priors from finished promotions and reviewer
// feedback, caching generated priors in its own table.
type Service struct {
	db       *sql.DB
	store    *store.Store
	feedback FeedbackSource // nil disables the feedback signal

	minMarginPercent   float64
	maxDiscountPercent float64
}

// New initializes the decision_priors table. feedback may be nil.
func New(st *store.Store, feedback FeedbackSource, minMarginPercent, maxDiscountPercent float64) (*Service, error) {
	db := st.DB()
	if _, err := db.Exec(priorsSchema); err != nil {
		return nil, fmt.Errorf("migrate decision priors: %w", err)
	}
	return &Service{
		db:                 db,
		store:              st,
		feedback:           feedback,
		minMarginPercent:   minMarginPercent,
		maxDiscountPercent: maxDiscountPercent,
	}, nil
}

// Get returns the freshest cached prior for the target, generating and
// persisting a new one when the cache is stale or empty. ok is false when
// there is no history to learn from; callers proceed without priors.
func (s *Service) Get(ctx context.Context, tgt target.Target) (Priors, bool, error) {
	cached, ok, err := s.cached(ctx, tgt)
	if err != nil {
		// A broken cache must not block a decision cycle.
		log.Printf("[priors] cache read failed for %s: %v", tgt, err)
	} else if ok {
		return cached, true, nil
	}

	generated, ok, err := s.generate(ctx, tgt)
	if err != nil || !ok {
		return Priors{}, false, err
	}
	if err := s.persist(ctx, tgt, generated); err != nil {
		log.Printf("[priors] persist failed for %s: %v", tgt, err)
	}
	return generated, true, nil
}

func (s *Service) cached(ctx context.Context, tgt target.Target) (Priors, bool, error) {
	cutoff := time.Now().UTC().Add(-maxPriorAge).Format(time.RFC3339Nano)
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM decision_priors
		 WHERE location_id = ? AND product_id = ? AND generated_at >= ?
		 ORDER BY generated_at DESC LIMIT 1`,
		tgt.LocationID, tgt.ProductID, cutoff,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Priors{}, false, nil
	}
	if err != nil {
		return Priors{}, false, fmt.Errorf("load cached prior: %w", err)
	}
	var p Priors
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return Priors{}, false, fmt.Errorf("decode cached prior: %w", err)
	}
	p.Source = "cached"
	return p, true, nil
}

func (s *Service) generate(ctx context.Context, tgt target.Target) (Priors, bool, error) {
	cases, err := s.store.HistoricalCases(ctx, tgt, caseLimit)
	if err != nil {
		log.Printf("[priors] historical case fetch failed for %s: %v", tgt, err)
		cases = nil
	}

	var approved, rejected int
	if s.feedback != nil {
		approved, rejected, err = s.feedback.RecentOutcomes(ctx, tgt, feedbackDays)
		if err != nil {
			log.Printf("[priors] feedback fetch failed for %s: %v", tgt, err)
			approved, rejected = 0, 0
		}
	}
	totalFeedback := approved + rejected

	if len(cases) == 0 && totalFeedback == 0 {
		return Priors{}, false, nil
	}

	successful := 0
	var sumDiscount, sumMargin, sumPerf float64
	for _, c := range cases {
		if c.AvgPerformanceRatio >= successThreshold {
			successful++
		}
		sumDiscount += c.DiscountValue
		sumMargin += c.MarginPercent
		sumPerf += c.AvgPerformanceRatio
	}

	successProb := 0.5
	var avgDiscount, avgMargin, avgPerf float64
	if len(cases) > 0 {
		n := float64(len(cases))
		successProb = float64(successful) / n
		avgDiscount = sumDiscount / n
		avgMargin = sumMargin / n
		avgPerf = sumPerf / n
	}

	approvalRate := 0.0
	if totalFeedback > 0 {
		approvalRate = float64(approved) / float64(totalFeedback)
	}

	var flags []string
	if successProb < 0.40 {
		flags = append(flags, "historically_low_success")
	}
	if totalFeedback > 0 && approvalRate < 0.50 {
		flags = append(flags, "low_human_approval_rate")
	}
	if avgMargin > 0 && avgMargin < s.minMarginPercent+2 {
		flags = append(flags, "margin_pressure")
	}
	if avgDiscount > s.maxDiscountPercent*0.8 {
		flags = append(flags, "discount_intensity_high")
	}

	confidence := math.Min(0.95, 0.20+float64(len(cases))*0.03+float64(totalFeedback)*0.02)

	p := Priors{
		SuccessProbability: round4(successProb),
		ConfidenceScore:    round4(confidence),
		ExpectedROIBand:    roiBand(avgPerf),
		RiskFlags:          flags,
		RecommendedDiscount: DiscountRange{
			MinPercent: round2(math.Max(0, avgDiscount-5)),
			MaxPercent: round2(math.Min(s.maxDiscountPercent, avgDiscount+5)),
		},
		Evidence: Evidence{
			HistoricalCases:    len(cases),
			SuccessfulCases:    successful,
			FeedbackSignals:    totalFeedback,
			ApprovalRate:       round4(approvalRate),
			AvgMarginPercent:   round4(avgMargin),
			AvgDiscountPercent: round4(avgDiscount),
			AvgPerformance:     round4(avgPerf),
		},
		Source:      "generated",
		GeneratedAt: time.Now().UTC(),
	}
	return p, true, nil
}

func (s *Service) persist(ctx context.Context, tgt target.Target, p Priors) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prior: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_priors (location_id, product_id, payload_json, generated_at)
		 VALUES (?, ?, ?, ?)`,
		tgt.LocationID, tgt.ProductID, string(payload), p.GeneratedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("persist prior: %w", err)
	}
	return nil
}

func roiBand(avgPerf float64) string {
	switch {
	case avgPerf >= 1.2:
		return "high"
	case avgPerf >= 0.9:
		return "medium"
	default:
		return "low"
	}
}

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// #endregion
