package store

// #region imports
import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region promo-code

// promoCode builds a unique, human-scannable promotion code.
func promoCode(tgt target.Target) string {
	return fmt.Sprintf("PROMO-%d-%d-%s", tgt.LocationID, tgt.ProductID,
		strings.ToUpper(uuid.New().String()[:8]))
}

// #endregion

// #region create-active

// CreateActivePromotion inserts an executable promotion with status active.
// Returns ErrConflict on a duplicate promotion code.
func (s *Store) CreateActivePromotion(ctx context.Context, p Proposal) (Promotion, error) {
	now := time.Now().UTC()
	code := promoCode(p.Target)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO promotions
		 (code, location_id, product_id, promotion_type, discount_type, discount_value,
		  original_price, promotional_price, margin_percent, valid_from, valid_until,
		  target_radius_km, expected_units, expected_revenue, reason, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code, p.Target.LocationID, p.Target.ProductID, p.PromotionType, p.DiscountType,
		p.DiscountValue, p.OriginalPrice, p.PromotionalPrice, p.MarginPercent,
		p.ValidFrom.UTC().Format(time.RFC3339Nano), p.ValidUntil.UTC().Format(time.RFC3339Nano),
		p.TargetRadiusKm, p.ExpectedUnitsSold, p.ExpectedRevenue, p.Reason,
		string(PromotionActive), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Promotion{}, storeErr("create promotion", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Promotion{}, storeErr("create promotion id", err)
	}
	return Promotion{ID: id, Code: code, Proposal: p, Status: PromotionActive, CreatedAt: now}, nil
}

// #endregion

// #region get-promotion

// GetPromotion retrieves a promotion by id.
func (s *Store) GetPromotion(ctx context.Context, id int64) (Promotion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, location_id, product_id, promotion_type, discount_type,
		        discount_value, original_price, promotional_price, margin_percent,
		        valid_from, valid_until, target_radius_km, expected_units,
		        expected_revenue, reason, status, retract_reason, retracted_at, created_at
		 FROM promotions WHERE id = ?`, id)
	return scanPromotion(row)
}

// ListPromotions returns promotions with the given status, newest first.
func (s *Store) ListPromotions(ctx context.Context, status PromotionStatus) ([]Promotion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, location_id, product_id, promotion_type, discount_type,
		        discount_value, original_price, promotional_price, margin_percent,
		        valid_from, valid_until, target_radius_km, expected_units,
		        expected_revenue, reason, status, retract_reason, retracted_at, created_at
		 FROM promotions WHERE status = ? ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, storeErr("list promotions", err)
	}
	defer rows.Close()

	var promos []Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		promos = append(promos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list promotions", err)
	}
	return promos, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPromotion(row rowScanner) (Promotion, error) {
	var p Promotion
	var validFrom, validUntil, createdAt string
	var retractedAt, retractReason, reason sql.NullString
	var radius sql.NullFloat64
	var status string
	err := row.Scan(
		&p.ID, &p.Code, &p.Proposal.Target.LocationID, &p.Proposal.Target.ProductID,
		&p.Proposal.PromotionType, &p.Proposal.DiscountType, &p.Proposal.DiscountValue,
		&p.Proposal.OriginalPrice, &p.Proposal.PromotionalPrice, &p.Proposal.MarginPercent,
		&validFrom, &validUntil, &radius, &p.Proposal.ExpectedUnitsSold,
		&p.Proposal.ExpectedRevenue, &reason, &status, &retractReason, &retractedAt, &createdAt,
	)
	if err != nil {
		return Promotion{}, storeErr("scan promotion", err)
	}
	p.Status = PromotionStatus(status)
	p.Proposal.ValidFrom, _ = time.Parse(time.RFC3339Nano, validFrom)
	p.Proposal.ValidUntil, _ = time.Parse(time.RFC3339Nano, validUntil)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if radius.Valid {
		p.Proposal.TargetRadiusKm = radius.Float64
	}
	if reason.Valid {
		p.Proposal.Reason = reason.String
	}
	if retractReason.Valid {
		p.RetractReason = retractReason.String
	}
	if retractedAt.Valid {
		p.RetractedAt, _ = time.Parse(time.RFC3339Nano, retractedAt.String)
	}
	return p, nil
}

// #endregion

// #region status-transitions

// RetractPromotion transitions an active promotion to retracted. One-way.
func (s *Store) RetractPromotion(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE promotions SET status = ?, retract_reason = ?, retracted_at = ?
		 WHERE id = ? AND status = ?`,
		string(PromotionRetracted), reason, time.Now().UTC().Format(time.RFC3339Nano),
		id, string(PromotionActive),
	)
	if err != nil {
		return storeErr("retract promotion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("retract promotion", err)
	}
	if n == 0 {
		return fmt.Errorf("retract promotion %d: %w", id, ErrNotFound)
	}
	return nil
}

// CompletePromotion transitions an active promotion whose window elapsed.
func (s *Store) CompletePromotion(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE promotions SET status = ? WHERE id = ? AND status = ?`,
		string(PromotionCompleted), id, string(PromotionActive),
	)
	return storeErr("complete promotion", err)
}

// #endregion

// #region pending

// CreatePendingPromotion parks a proposal for human review.
func (s *Store) CreatePendingPromotion(ctx context.Context, p Proposal, reasoning, marketData string) (PendingPromotion, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_promotions
		 (location_id, product_id, promotion_type, discount_type, discount_value,
		  original_price, promotional_price, margin_percent, proposed_valid_from,
		  proposed_valid_until, target_radius_km, expected_units, expected_revenue,
		  reasoning, market_data, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Target.LocationID, p.Target.ProductID, p.PromotionType, p.DiscountType,
		p.DiscountValue, p.OriginalPrice, p.PromotionalPrice, p.MarginPercent,
		p.ValidFrom.UTC().Format(time.RFC3339Nano), p.ValidUntil.UTC().Format(time.RFC3339Nano),
		p.TargetRadiusKm, p.ExpectedUnitsSold, p.ExpectedRevenue,
		reasoning, marketData, string(PendingReview), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return PendingPromotion{}, storeErr("create pending promotion", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return PendingPromotion{}, storeErr("create pending promotion id", err)
	}
	return PendingPromotion{
		ID: id, Proposal: p, Reasoning: reasoning, MarketData: marketData,
		Status: PendingReview, CreatedAt: now,
	}, nil
}

// GetPendingPromotion retrieves a pending promotion by id.
func (s *Store) GetPendingPromotion(ctx context.Context, id int64) (PendingPromotion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, location_id, product_id, promotion_type, discount_type, discount_value,
		        original_price, promotional_price, margin_percent, proposed_valid_from,
		        proposed_valid_until, target_radius_km, expected_units, expected_revenue,
		        reasoning, market_data, status, reviewed_by, review_note, reviewed_at,
		        promotion_id, created_at
		 FROM pending_promotions WHERE id = ?`, id)
	return scanPending(row)
}

// ListPendingPromotions returns pending promotions with the given status.
func (s *Store) ListPendingPromotions(ctx context.Context, status PendingStatus) ([]PendingPromotion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location_id, product_id, promotion_type, discount_type, discount_value,
		        original_price, promotional_price, margin_percent, proposed_valid_from,
		        proposed_valid_until, target_radius_km, expected_units, expected_revenue,
		        reasoning, market_data, status, reviewed_by, review_note, reviewed_at,
		        promotion_id, created_at
		 FROM pending_promotions WHERE status = ? ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, storeErr("list pending promotions", err)
	}
	defer rows.Close()

	var pending []PendingPromotion
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list pending promotions", err)
	}
	return pending, nil
}

func scanPending(row rowScanner) (PendingPromotion, error) {
	var p PendingPromotion
	var validFrom, validUntil, createdAt, status string
	var radius sql.NullFloat64
	var reasoning, marketData, reviewedBy, reviewNote, reviewedAt sql.NullString
	var promotionID sql.NullInt64
	err := row.Scan(
		&p.ID, &p.Proposal.Target.LocationID, &p.Proposal.Target.ProductID,
		&p.Proposal.PromotionType, &p.Proposal.DiscountType, &p.Proposal.DiscountValue,
		&p.Proposal.OriginalPrice, &p.Proposal.PromotionalPrice, &p.Proposal.MarginPercent,
		&validFrom, &validUntil, &radius, &p.Proposal.ExpectedUnitsSold,
		&p.Proposal.ExpectedRevenue, &reasoning, &marketData, &status,
		&reviewedBy, &reviewNote, &reviewedAt, &promotionID, &createdAt,
	)
	if err != nil {
		return PendingPromotion{}, storeErr("scan pending promotion", err)
	}
	p.Status = PendingStatus(status)
	p.Proposal.ValidFrom, _ = time.Parse(time.RFC3339Nano, validFrom)
	p.Proposal.ValidUntil, _ = time.Parse(time.RFC3339Nano, validUntil)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if radius.Valid {
		p.Proposal.TargetRadiusKm = radius.Float64
	}
	if reasoning.Valid {
		p.Reasoning = reasoning.String
	}
	if marketData.Valid {
		p.MarketData = marketData.String
	}
	if reviewedBy.Valid {
		p.ReviewedBy = reviewedBy.String
	}
	if reviewNote.Valid {
		p.ReviewNote = reviewNote.String
	}
	if reviewedAt.Valid {
		p.ReviewedAt, _ = time.Parse(time.RFC3339Nano, reviewedAt.String)
	}
	if promotionID.Valid {
		p.PromotionID = promotionID.Int64
	}
	return p, nil
}

// ResolvePendingPromotion records the reviewer's verdict. Terminal; fails with
// ErrConflict if the row was already resolved.
func (s *Store) ResolvePendingPromotion(ctx context.Context, id int64, outcome PendingStatus, reviewer, note string, promotionID int64) error {
	var promoPtr interface{}
	if promotionID != 0 {
		promoPtr = promotionID
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_promotions
		 SET status = ?, reviewed_by = ?, review_note = ?, reviewed_at = ?, promotion_id = ?
		 WHERE id = ? AND status = ?`,
		string(outcome), reviewer, note, time.Now().UTC().Format(time.RFC3339Nano),
		promoPtr, id, string(PendingReview),
	)
	if err != nil {
		return storeErr("resolve pending promotion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("resolve pending promotion", err)
	}
	if n == 0 {
		return fmt.Errorf("pending promotion %d already resolved or missing: %w", id, ErrConflict)
	}
	return nil
}

// #endregion

// #region performance

// RecentPerformance computes observed units and revenue for a promotion and
// the performance ratio against expectations prorated over the elapsed part
// of the validity window.
func (s *Store) RecentPerformance(ctx context.Context, promotionID int64) (Performance, error) {
	promo, err := s.GetPromotion(ctx, promotionID)
	if err != nil {
		return Performance{}, err
	}

	var perf Performance
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(units), 0), COALESCE(SUM(revenue), 0)
		 FROM sales WHERE promotion_id = ?`, promotionID,
	).Scan(&perf.UnitsSold, &perf.Revenue)
	if err != nil {
		return Performance{}, storeErr("recent performance", err)
	}

	perf.PerformanceRatio = performanceRatio(promo, perf.UnitsSold, time.Now().UTC())
	return perf, nil
}

// performanceRatio prorates expected units by the elapsed fraction of the
// validity window. A promotion with no expectation reads as on-target.
func performanceRatio(promo Promotion, unitsSold int, now time.Time) float64 {
	if promo.Proposal.ExpectedUnitsSold <= 0 {
		return 1.0
	}
	window := promo.Proposal.ValidUntil.Sub(promo.Proposal.ValidFrom)
	if window <= 0 {
		return 1.0
	}
	elapsed := now.Sub(promo.Proposal.ValidFrom)
	frac := float64(elapsed) / float64(window)
	if frac <= 0 {
		return 1.0
	}
	if frac > 1 {
		frac = 1
	}
	expectedSoFar := float64(promo.Proposal.ExpectedUnitsSold) * frac
	return float64(unitsSold) / expectedSoFar
}

// #endregion

// #region historical-cases

// HistoricalCases summarizes finished promotions for a target, newest first.
func (s *Store) HistoricalCases(ctx context.Context, tgt target.Target, limit int) ([]HistoricalCase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.promotion_type, p.discount_value, p.margin_percent, p.status, COALESCE(p.reason, ''),
		        COALESCE((SELECT AVG(m.performance_ratio) FROM performance_metrics m WHERE m.promotion_id = p.id), 0)
		 FROM promotions p
		 WHERE p.location_id = ? AND p.product_id = ? AND p.status IN (?, ?)
		 ORDER BY p.created_at DESC LIMIT ?`,
		tgt.LocationID, tgt.ProductID,
		string(PromotionCompleted), string(PromotionRetracted), limit,
	)
	if err != nil {
		return nil, storeErr("historical cases", err)
	}
	defer rows.Close()

	var cases []HistoricalCase
	for rows.Next() {
		c := HistoricalCase{Target: tgt}
		var status string
		if err := rows.Scan(&c.PromotionID, &c.PromotionType, &c.DiscountValue,
			&c.MarginPercent, &status, &c.Reason, &c.AvgPerformanceRatio); err != nil {
			return nil, storeErr("scan historical case", err)
		}
		c.Status = PromotionStatus(status)
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("historical cases", err)
	}
	return cases, nil
}

// #endregion
