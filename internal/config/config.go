package config

// #region imports
import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// #endregion

// #region objectives

// Objective names the optimization goal used by the offer optimizer.
type Objective string

const (
	ObjectiveProfitMaximization      Objective = "profit_maximization"
	ObjectiveInventoryReduction      Objective = "inventory_reduction"
	ObjectiveRevenueLift             Objective = "revenue_lift"
	ObjectiveSellThroughAcceleration Objective = "sell_through_acceleration"
)

// Aggregation names the rule combining critic scores into one number.
type Aggregation string

const (
	AggregationAverage Aggregation = "average"
	AggregationMinimum Aggregation = "minimum"
)

// #endregion

// #region config-struct

// Config holds all recognized static options. Loaded once at startup.
type Config struct {
	// Driver / scheduling
	MonitoringInterval time.Duration
	AutoStart          bool
	LocationIDs        []int
	ProductIDs         []int

	// Hard pricing constraints
	MinMarginPercent   float64
	MaxDiscountPercent float64

	// Monitoring
	AutoRetractThreshold float64

	// Execution
	RequireManualApproval bool

	// Optimization loop
	OptimizationMaxIterations int
	OptimizationObjective     Objective
	MaxRiskScore              float64 // 0 disables the risk ceiling

	// Critic arbitration
	CriticReviseThreshold float64
	CriticRejectThreshold float64
	CriticAggregation     Aggregation

	// Feature toggles
	EnableDecisionLearning bool
	EnableOptimizationLoop bool
	EnableMultiCritic      bool
	EnableApprovalLearning bool
	EnableSimilarity       bool

	// Promotion design defaults
	FlashSaleDurationHours int
	DiscountDurationHours  int
	TargetRadiusKm         float64

	// Collaborators
	ReasoningURL  string
	WeatherURL    string
	CompetitorURL string
	SocialURL     string
	SimilarityURL string
	RetrievalK    int

	// Token cost, per 1M tokens
	ReasoningModel  string
	InputCostPer1M  float64
	OutputCostPer1M float64

	// Approval feedback event stream (empty = store-only)
	FeedbackBrokers []string
	FeedbackTopic   string

	// Process
	DBPath   string
	HTTPAddr string
}

// #endregion

// #region defaults

const (
	defaultHTTPAddr       = ":8080"
	defaultDBPath         = "promopilot.db"
	defaultFeedbackTopic  = "approval-feedback"
	defaultReasoningModel = "gpt-5-mini"
)

// #endregion

// #region load

// Load reads configuration from the environment, applying defaults.
// Returns an error only for values that cannot be interpreted at all;
// missing optional collaborators are allowed and degrade at runtime.
func Load() (Config, error) {
	cfg := Config{
		MonitoringInterval:        time.Duration(getInt("AGENT_MONITORING_INTERVAL_MINUTES", 30)) * time.Minute,
		AutoStart:                 getBool("AGENT_AUTO_START", false),
		MinMarginPercent:          getFloat("AGENT_MIN_MARGIN_PERCENT", 10),
		MaxDiscountPercent:        getFloat("AGENT_MAX_DISCOUNT_PERCENT", 40),
		AutoRetractThreshold:      getFloat("AGENT_AUTO_RETRACT_THRESHOLD", 0.5),
		RequireManualApproval:     getBool("AGENT_REQUIRE_MANUAL_APPROVAL", false),
		OptimizationMaxIterations: getInt("OPTIMIZATION_MAX_ITERATIONS", 3),
		OptimizationObjective:     Objective(getEnv("OPTIMIZATION_OBJECTIVE", string(ObjectiveProfitMaximization))),
		MaxRiskScore:              getFloat("OPTIMIZATION_MAX_RISK_SCORE", 0),
		CriticReviseThreshold:     getFloat("CRITIC_REVISE_THRESHOLD", 65),
		CriticRejectThreshold:     getFloat("CRITIC_REJECT_THRESHOLD", 45),
		CriticAggregation:         Aggregation(getEnv("CRITIC_AGGREGATION", string(AggregationAverage))),
		EnableDecisionLearning:    getBool("ENABLE_DECISION_LEARNING", false),
		EnableOptimizationLoop:    getBool("ENABLE_OPTIMIZATION_LOOP", false),
		EnableMultiCritic:         getBool("ENABLE_MULTI_CRITIC", false),
		EnableApprovalLearning:    getBool("ENABLE_APPROVAL_LEARNING", false),
		EnableSimilarity:          getBool("ENABLE_SIMILARITY_RETRIEVAL", false),
		FlashSaleDurationHours:    getInt("PROMO_FLASH_SALE_DURATION_HOURS", 2),
		DiscountDurationHours:     getInt("PROMO_DISCOUNT_DURATION_HOURS", 24),
		TargetRadiusKm:            getFloat("PROMO_TARGET_RADIUS_KM", 5.0),
		ReasoningURL:              os.Getenv("REASONING_URL"),
		WeatherURL:                os.Getenv("WEATHER_URL"),
		CompetitorURL:             os.Getenv("COMPETITOR_URL"),
		SocialURL:                 os.Getenv("SOCIAL_URL"),
		SimilarityURL:             os.Getenv("SIMILARITY_URL"),
		RetrievalK:                getInt("SIMILARITY_RETRIEVAL_K", 5),
		ReasoningModel:            getEnv("REASONING_MODEL", defaultReasoningModel),
		InputCostPer1M:            getFloat("INPUT_COST_PER_1M", 0.150),
		OutputCostPer1M:           getFloat("OUTPUT_COST_PER_1M", 0.600),
		FeedbackBrokers:           splitList(os.Getenv("FEEDBACK_BROKERS")),
		FeedbackTopic:             getEnv("FEEDBACK_TOPIC", defaultFeedbackTopic),
		DBPath:                    getEnv("PROMOPILOT_DB", defaultDBPath),
		HTTPAddr:                  getEnv("PROMOPILOT_ADDR", defaultHTTPAddr),
	}

	var err error
	cfg.LocationIDs, err = ParseIDList(os.Getenv("LOCATIONS_CONSIDERED"))
	if err != nil {
		return Config{}, fmt.Errorf("LOCATIONS_CONSIDERED: %w", err)
	}
	cfg.ProductIDs, err = ParseIDList(os.Getenv("PRODUCTS_CONSIDERED"))
	if err != nil {
		return Config{}, fmt.Errorf("PRODUCTS_CONSIDERED: %w", err)
	}
	if len(cfg.LocationIDs) == 0 {
		cfg.LocationIDs = idRange(1, 5)
	}
	if len(cfg.ProductIDs) == 0 {
		cfg.ProductIDs = idRange(1, 20)
	}

	if cfg.OptimizationMaxIterations < 1 {
		cfg.OptimizationMaxIterations = 1
	}
	if cfg.OptimizationMaxIterations > 10 {
		cfg.OptimizationMaxIterations = 10
	}

	switch cfg.OptimizationObjective {
	case ObjectiveProfitMaximization, ObjectiveInventoryReduction,
		ObjectiveRevenueLift, ObjectiveSellThroughAcceleration:
	default:
		return Config{}, fmt.Errorf("unknown optimization objective %q", cfg.OptimizationObjective)
	}
	switch cfg.CriticAggregation {
	case AggregationAverage, AggregationMinimum:
	default:
		return Config{}, fmt.Errorf("unknown critic aggregation %q", cfg.CriticAggregation)
	}
	if cfg.CriticRejectThreshold > cfg.CriticReviseThreshold {
		return Config{}, fmt.Errorf("reject threshold %.1f above revise threshold %.1f",
			cfg.CriticRejectThreshold, cfg.CriticReviseThreshold)
	}

	return cfg, nil
}

// #endregion

// #region id-lists

// ParseIDList parses a comma-separated list of positive integer IDs,
// dropping blanks and duplicates while preserving order.
func ParseIDList(raw string) ([]int, error) {
	var ids []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func idRange(lo, hi int) []int {
	ids := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		ids = append(ids, i)
	}
	return ids
}

// #endregion

// #region env-helpers

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true")
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// #endregion
