package store

// #region imports
import (
	"context"
	"time"
)

// #endregion

// #region decision-log

// RecordDecision writes one decision-log row. Every terminal outcome and skip
// decision goes through here so operators can query the reasoning later.
func (s *Store) RecordDecision(ctx context.Context, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var promoPtr interface{}
	if entry.PromotionID != 0 {
		promoPtr = entry.PromotionID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_log (stage, location_id, product_id, decision_type, reasoning, data_json, outcome, promotion_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Stage, entry.Target.LocationID, entry.Target.ProductID,
		entry.DecisionType, nullIfEmpty(entry.Reasoning), nullIfEmpty(entry.DataJSON),
		entry.Outcome, promoPtr, entry.CreatedAt.Format(time.RFC3339Nano),
	)
	return storeErr("record decision", err)
}

// #endregion decision-log

// #region evaluator-scores

// RecordEvaluatorScore persists one critic score for a proposal version.
func (s *Store) RecordEvaluatorScore(ctx context.Context, score EvaluatorScore) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluator_scores (location_id, product_id, evaluator, score, concerns_json, adjustments_json, verdict, arbitration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		score.Target.LocationID, score.Target.ProductID, score.Evaluator, score.Score,
		nullIfEmpty(score.ConcernsJSON), nullIfEmpty(score.AdjustmentsJSON),
		score.Verdict, score.Arbitration, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return storeErr("record evaluator score", err)
}

// #endregion evaluator-scores

// #region optimization-log

// RecordOptimizationIteration persists one optimization-loop iteration.
func (s *Store) RecordOptimizationIteration(ctx context.Context, iter OptimizationIteration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO optimization_iterations (location_id, product_id, iteration, params_json, objective, objective_value, feasible, selected, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		iter.Target.LocationID, iter.Target.ProductID, iter.Iteration, iter.ParamsJSON,
		iter.Objective, iter.ObjectiveValue, boolInt(iter.Feasible), boolInt(iter.Selected),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return storeErr("record optimization iteration", err)
}

// #endregion optimization-log

// #region token-usage

// RecordTokenUsage persists one reasoning-engine call's token accounting.
func (s *Store) RecordTokenUsage(ctx context.Context, usage TokenUsage) error {
	total := usage.PromptTokens + usage.CompletionTokens
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (agent, operation, model, prompt_tokens, completion_tokens, total_tokens, estimated_cost, location_id, product_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.Agent, usage.Operation, usage.Model, usage.PromptTokens,
		usage.CompletionTokens, total, usage.EstimatedCost,
		usage.Target.LocationID, usage.Target.ProductID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return storeErr("record token usage", err)
}

// #endregion token-usage

// #region performance-metrics

// RecordPerformanceMetric persists one monitoring check for a promotion.
func (s *Store) RecordPerformanceMetric(ctx context.Context, promotionID int64, perf Performance, notes string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO performance_metrics (promotion_id, units_sold, revenue, performance_ratio, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		promotionID, perf.UnitsSold, perf.Revenue, perf.PerformanceRatio,
		nullIfEmpty(notes), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return storeErr("record performance metric", err)
}

// #endregion performance-metrics

// #region helpers

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
