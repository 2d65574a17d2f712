package factors

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region snapshots

// WeatherSnapshot is the current conditions at a location.
type WeatherSnapshot struct {
	TemperatureC float64 `json:"temperature_celsius"`
	Condition    string  `json:"condition"`
	IsExtreme    bool    `json:"is_extreme"`
}

// CompetitorPrice is one competitor's current price for a product.
type CompetitorPrice struct {
	CompetitorName string  `json:"competitor_name"`
	Price          float64 `json:"price"`
	OnPromotion    bool    `json:"promotion"`
}

// SocialSnapshot is the current social sentiment for a product category.
type SocialSnapshot struct {
	HasBuzz          bool     `json:"has_buzz"`
	OverallSentiment float64  `json:"overall_sentiment"`
	TrendingTopics   []string `json:"trending_topics"`
}

// Snapshot bundles whichever external factors were reachable. A nil field
// means that provider was unavailable or not configured; the pipeline
// proceeds with the factor omitted.
type Snapshot struct {
	Weather     *WeatherSnapshot
	Competitors []CompetitorPrice
	Social      *SocialSnapshot
}

// #endregion

// #region provider-interfaces

// WeatherProvider reports current conditions for a location.
type WeatherProvider interface {
	CurrentWeather(ctx context.Context, locationID int) (WeatherSnapshot, error)
}

// CompetitorProvider reports competitor prices for a product near a location.
type CompetitorProvider interface {
	CompetitorPrices(ctx context.Context, tgt target.Target) ([]CompetitorPrice, error)
}

// SocialProvider reports sentiment for a product category.
type SocialProvider interface {
	CategorySentiment(ctx context.Context, category string) (SocialSnapshot, error)
}

// #endregion

// #region collector

// Collector gathers all configured factors for a target. Any provider may be
// nil (not configured) or erroring (unavailable); neither is fatal.
type Collector struct {
	Weather    WeatherProvider
	Competitor CompetitorProvider
	Social     SocialProvider
}

// Collect fetches every available factor, logging degradations via the
// returned notes rather than failing.
func (c *Collector) Collect(ctx context.Context, tgt target.Target, category string) (Snapshot, []string) {
	var snap Snapshot
	var notes []string

	if c.Weather != nil {
		w, err := c.Weather.CurrentWeather(ctx, tgt.LocationID)
		if err != nil {
			notes = append(notes, fmt.Sprintf("weather unavailable: %v", err))
		} else {
			snap.Weather = &w
		}
	}
	if c.Competitor != nil {
		prices, err := c.Competitor.CompetitorPrices(ctx, tgt)
		if err != nil {
			notes = append(notes, fmt.Sprintf("competitor unavailable: %v", err))
		} else {
			snap.Competitors = prices
		}
	}
	if c.Social != nil {
		s, err := c.Social.CategorySentiment(ctx, category)
		if err != nil {
			notes = append(notes, fmt.Sprintf("social unavailable: %v", err))
		} else {
			snap.Social = &s
		}
	}
	return snap, notes
}

// #endregion

// #region http-provider

// HTTPProvider calls a factor simulator over HTTP JSON. It implements all
// three provider interfaces; wire only the ones whose URL is configured.
type HTTPProvider struct {
	baseURL string
	http    *http.Client
}

// NewHTTPProvider builds a provider for one simulator base URL.
func NewHTTPProvider(baseURL string, timeout time.Duration) (*HTTPProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("factor provider base url required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("factor request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("factor request: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode factor response: %w", err)
	}
	return nil
}

// CurrentWeather implements WeatherProvider.
func (p *HTTPProvider) CurrentWeather(ctx context.Context, locationID int) (WeatherSnapshot, error) {
	var w WeatherSnapshot
	err := p.get(ctx, fmt.Sprintf("/weather/current?location_id=%d", locationID), &w)
	return w, err
}

// CompetitorPrices implements CompetitorProvider.
func (p *HTTPProvider) CompetitorPrices(ctx context.Context, tgt target.Target) ([]CompetitorPrice, error) {
	var prices []CompetitorPrice
	err := p.get(ctx, fmt.Sprintf("/competitor/prices?product_id=%d&location_id=%d", tgt.ProductID, tgt.LocationID), &prices)
	return prices, err
}

// CategorySentiment implements SocialProvider.
func (p *HTTPProvider) CategorySentiment(ctx context.Context, category string) (SocialSnapshot, error) {
	var s SocialSnapshot
	err := p.get(ctx, "/social/sentiment?category="+category, &s)
	return s, err
}

// #endregion
