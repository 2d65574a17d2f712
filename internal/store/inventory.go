package store

// #region imports
import (
	"context"
	"time"

	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region sell-through-window

const sellThroughDays = 7

// #endregion

// #region upsert-inventory

// UpsertInventory writes or replaces the stock row for a target.
func (s *Store) UpsertInventory(ctx context.Context, tgt target.Target, quantity, capacity int, basePrice, baseCost float64, category string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory (location_id, product_id, quantity, capacity, base_price, base_cost, category, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(location_id, product_id) DO UPDATE SET
		   quantity = excluded.quantity,
		   capacity = excluded.capacity,
		   base_price = excluded.base_price,
		   base_cost = excluded.base_cost,
		   category = excluded.category,
		   updated_at = excluded.updated_at`,
		tgt.LocationID, tgt.ProductID, quantity, capacity, basePrice, baseCost, category,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return storeErr("upsert inventory", err)
}

// #endregion

// #region snapshot

// InventorySnapshot reads the stock row for a target and computes the trailing
// sell-through rate from recorded sales.
func (s *Store) InventorySnapshot(ctx context.Context, tgt target.Target) (InventorySnapshot, error) {
	snap := InventorySnapshot{Target: tgt}
	err := s.db.QueryRowContext(ctx,
		`SELECT quantity, capacity, base_price, base_cost, category
		 FROM inventory WHERE location_id = ? AND product_id = ?`,
		tgt.LocationID, tgt.ProductID,
	).Scan(&snap.Quantity, &snap.Capacity, &snap.BasePrice, &snap.BaseCost, &snap.Category)
	if err != nil {
		return InventorySnapshot{}, storeErr("inventory snapshot", err)
	}

	since := time.Now().UTC().AddDate(0, 0, -sellThroughDays).Format(time.RFC3339Nano)
	var units int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(units), 0) FROM sales
		 WHERE location_id = ? AND product_id = ? AND sold_at >= ?`,
		tgt.LocationID, tgt.ProductID, since,
	).Scan(&units)
	if err != nil {
		return InventorySnapshot{}, storeErr("sell-through", err)
	}
	snap.AvgDailySales = float64(units) / float64(sellThroughDays)
	return snap, nil
}

// #endregion

// #region record-sale

// RecordSale appends one sales transaction. promotionID 0 means no promotion.
func (s *Store) RecordSale(ctx context.Context, tgt target.Target, promotionID int64, units int, revenue float64, soldAt time.Time) error {
	var promoPtr interface{}
	if promotionID != 0 {
		promoPtr = promotionID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sales (location_id, product_id, promotion_id, units, revenue, sold_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tgt.LocationID, tgt.ProductID, promoPtr, units, revenue,
		soldAt.UTC().Format(time.RFC3339Nano),
	)
	return storeErr("record sale", err)
}

// #endregion
