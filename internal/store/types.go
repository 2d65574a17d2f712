package store

// #region imports
import (
	"time"

	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region promotion-status

// PromotionStatus is the lifecycle state of an executable promotion.
type PromotionStatus string

const (
	PromotionPending   PromotionStatus = "pending"
	PromotionActive    PromotionStatus = "active"
	PromotionCompleted PromotionStatus = "completed"
	PromotionRetracted PromotionStatus = "retracted"
)

// PendingStatus is the lifecycle state of a proposal awaiting human review.
type PendingStatus string

const (
	PendingReview   PendingStatus = "pending"
	PendingApproved PendingStatus = "approved"
	PendingRejected PendingStatus = "rejected"
)

// #endregion

// #region inventory

// InventorySnapshot is the per-target stock picture plus recent sell-through.
type InventorySnapshot struct {
	Target        target.Target
	Quantity      int
	Capacity      int
	BasePrice     float64
	BaseCost      float64
	Category      string
	AvgDailySales float64 // mean units/day over the trailing window
}

// ExcessStock reports whether stock exceeds 80% of capacity, the original
// excess-inventory trigger.
func (s InventorySnapshot) ExcessStock() bool {
	return s.Capacity > 0 && float64(s.Quantity) > 0.8*float64(s.Capacity)
}

// #endregion

// #region proposal

// Proposal carries everything needed to create an active or pending promotion.
type Proposal struct {
	Target            target.Target
	PromotionType     string // "discount" | "flash_sale" | "coupon"
	DiscountType      string // "percentage"
	DiscountValue     float64
	OriginalPrice     float64
	PromotionalPrice  float64
	MarginPercent     float64
	ValidFrom         time.Time
	ValidUntil        time.Time
	TargetRadiusKm    float64
	ExpectedUnitsSold int
	ExpectedRevenue   float64
	Reason            string
}

// #endregion

// #region promotion-rows

// Promotion is an executable promotion row with a validity window.
type Promotion struct {
	ID            int64
	Code          string
	Proposal      Proposal
	Status        PromotionStatus
	RetractReason string
	RetractedAt   time.Time
	CreatedAt     time.Time
}

// PendingPromotion is a proposal parked for human approval.
type PendingPromotion struct {
	ID          int64
	Proposal    Proposal
	Reasoning   string
	MarketData  string // JSON snapshot of the market data behind the proposal
	Status      PendingStatus
	ReviewedBy  string
	ReviewNote  string
	ReviewedAt  time.Time
	PromotionID int64 // linked active promotion once approved
	CreatedAt   time.Time
}

// #endregion

// #region performance

// Performance is the observed result of an active promotion so far.
type Performance struct {
	UnitsSold        int
	Revenue          float64
	PerformanceRatio float64 // actual vs expected, prorated over the elapsed window
}

// #endregion

// #region record-rows

// DecisionEntry is one decision-log row with reasoning text.
type DecisionEntry struct {
	Stage        string
	Target       target.Target
	DecisionType string
	Reasoning    string
	DataJSON     string
	Outcome      string
	PromotionID  int64
	CreatedAt    time.Time
}

// EvaluatorScore is one critic's verdict on a proposal version.
type EvaluatorScore struct {
	Target          target.Target
	Evaluator       string
	Score           float64
	ConcernsJSON    string
	AdjustmentsJSON string
	Verdict         string
	Arbitration     string
}

// OptimizationIteration is one row of the optimization-iteration log.
type OptimizationIteration struct {
	Target         target.Target
	Iteration      int
	ParamsJSON     string
	Objective      string
	ObjectiveValue float64
	Feasible       bool
	Selected       bool
}

// TokenUsage is one reasoning-engine call's token accounting.
type TokenUsage struct {
	Agent            string
	Operation        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	EstimatedCost    float64
	Target           target.Target
}

// #endregion

// #region historical-case

// HistoricalCase summarizes a past promotion for priors and similarity fallback.
type HistoricalCase struct {
	PromotionID         int64
	Target              target.Target
	PromotionType       string
	DiscountValue       float64
	MarginPercent       float64
	AvgPerformanceRatio float64
	Status              PromotionStatus
	Reason              string
}

// #endregion

// #region cursor

// Cursor is the driver's durable pointer. Survives restarts.
type Cursor struct {
	CycleID         int64
	NextTargetIndex int
	Paused          bool
}

// #endregion
