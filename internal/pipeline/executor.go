package pipeline

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/factors"
	"github.com/promopilot/promopilot/internal/priors"
	"github.com/promopilot/promopilot/internal/reasoning"
	"github.com/promopilot/promopilot/internal/similar"
	"github.com/promopilot/promopilot/internal/status"
	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region executor

const (
	maxStageAttempts = 3
	defaultRetryBase = 500 * time.Millisecond
)

// Deps are the collaborators one executor drives. Priors and Retriever may
// be nil when their features are disabled; Status may be nil in tests.
type Deps struct {
	Store     *store.Store
	Engine    reasoning.Engine
	Costs     reasoning.CostTable
	Collector *factors.Collector
	Priors    *priors.Service
	Retriever *similar.Retriever
	Status    *status.Tracker
}

// Executor drives one target at a time through the decision pipeline.
// Run is serialized: the scheduled loop and out-of-band triggers share one
// run mutex, so no two targets are ever pipelined concurrently.
type Executor struct {
	cfg  config.Config
	deps Deps

	runMu     sync.Mutex
	retryBase time.Duration
}

func New(cfg config.Config, deps Deps) *Executor {
	return &Executor{cfg: cfg, deps: deps, retryBase: defaultRetryBase}
}

// #endregion

// #region run

// Run processes one target through the full stage sequence and returns its
// DecisionRecord. Every run terminates with an Outcome set; Run never
// returns an error because skips and constraint misses are normal outcomes.
func (e *Executor) Run(ctx context.Context, tgt target.Target) *DecisionRecord {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	rec := &DecisionRecord{Target: tgt, StartedAt: time.Now().UTC()}
	state := StageCollectData
	for state != stageDone {
		if e.deps.Status != nil {
			e.deps.Status.SetStage(tgt, state)
		}
		next, err := e.step(ctx, state, rec)
		if err != nil {
			rec.Outcome = OutcomeSkippedError
			rec.OutcomeNote = fmt.Sprintf("stage %s failed after %d attempts: %v", state, maxStageAttempts, err)
			log.Printf("[pipeline] %s skipped: %s", tgt, rec.OutcomeNote)
			e.logDecision(ctx, rec, state, "target_skipped", rec.OutcomeNote, string(OutcomeSkippedError), "")
			break
		}
		state = next
	}
	return rec
}

func (e *Executor) step(ctx context.Context, state string, rec *DecisionRecord) (string, error) {
	switch state {
	case StageCollectData:
		return e.collectData(ctx, rec)
	case StageAnalyzeMarket:
		return e.analyzeMarket(ctx, rec)
	case StageLoadDecisionPriors:
		return e.loadDecisionPriors(ctx, rec)
	case StagePriceStrategy:
		return e.priceStrategy(ctx, rec)
	case StageDesignPromotion:
		return e.designPromotion(ctx, rec)
	case StageOptimizationLoop:
		return e.optimizationLoop(ctx, rec)
	case StageCriticReview:
		return e.criticReview(ctx, rec)
	case StageExecutionBranch:
		return e.executionBranch(ctx, rec)
	default:
		return stageDone, fmt.Errorf("unknown stage %q", state)
	}
}

// #endregion

// #region retry

// isTransient reports whether a collaborator failure is worth a bounded
// retry. Malformed engine output gets the same handling as a timeout; it is
// a per-target condition, never fatal to the process.
func isTransient(err error) bool {
	return errors.Is(err, store.ErrUnavailable) ||
		errors.Is(err, reasoning.ErrRateLimited) ||
		errors.Is(err, reasoning.ErrTimeout) ||
		errors.Is(err, reasoning.ErrInvalidResponse)
}

// withRetry runs fn up to maxStageAttempts times with doubling backoff.
// Non-transient errors return immediately.
func (e *Executor) withRetry(ctx context.Context, stage string, fn func() error) error {
	backoff := e.retryBase
	var err error
	for attempt := 1; attempt <= maxStageAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt < maxStageAttempts {
			log.Printf("[pipeline] %s attempt %d/%d failed, retrying in %s: %v",
				stage, attempt, maxStageAttempts, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return err
}

// #endregion

// #region bookkeeping

// logDecision writes one decision-log row. Logging never fails a run.
func (e *Executor) logDecision(ctx context.Context, rec *DecisionRecord, stage, decisionType, reasoningText, outcome, dataJSON string) {
	err := e.deps.Store.RecordDecision(ctx, store.DecisionEntry{
		Stage:        stage,
		Target:       rec.Target,
		DecisionType: decisionType,
		Reasoning:    reasoningText,
		DataJSON:     dataJSON,
		Outcome:      outcome,
		PromotionID:  rec.PromotionID,
	})
	if err != nil {
		log.Printf("[pipeline] decision log failed for %s: %v", rec.Target, err)
	}
}

// recordUsage books one engine call's tokens and estimated cost.
func (e *Executor) recordUsage(ctx context.Context, tgt target.Target, agent, operation string, u reasoning.Usage) {
	err := e.deps.Store.RecordTokenUsage(ctx, store.TokenUsage{
		Agent:            agent,
		Operation:        operation,
		Model:            e.deps.Costs.Model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		EstimatedCost:    e.deps.Costs.Cost(u),
		Target:           tgt,
	})
	if err != nil {
		log.Printf("[pipeline] token usage log failed for %s: %v", tgt, err)
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// #endregion
