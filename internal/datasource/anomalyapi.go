package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finradar/radar/pkg/models"
)

// AnomalyAPI implements AnomalyFeed against the volume anomaly detector's
// HTTP endpoint.
type AnomalyAPI struct {
	baseURL string
	cache   *Cache
	limiter *RateLimiter
}

// NewAnomalyAPI creates an anomaly feed client.
func NewAnomalyAPI(baseURL string) *AnomalyAPI {
	return &AnomalyAPI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		cache:   NewCache(15 * time.Second),
		limiter: NewRateLimiter(2, time.Second),
	}
}

// Name returns the data source name.
func (a *AnomalyAPI) Name() string { return "Anomaly Detector" }

// anomalyWire is the detector's wire format for one event.
type anomalyWire struct {
	Ticker    string  `json:"ticker"`
	Direction string  `json:"direction"`
	ZScore    float64 `json:"z_score"`
	Delta     float64 `json:"delta"`
	Price     float64 `json:"price"`
	TopNews   string  `json:"top_news"`
	NewsCount int     `json:"news_count"`
	Timestamp int64   `json:"timestamp"` // unix seconds
	Timeframe string  `json:"timeframe"`
}

// GetAnomalies returns the most recent anomaly events, newest first.
func (a *AnomalyAPI) GetAnomalies(ctx context.Context, limit int) ([]models.AnomalyEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	cacheKey := fmt.Sprintf("anomalies:%d", limit)
	if cached, ok := a.cache.Get(cacheKey); ok {
		return cached.([]models.AnomalyEvent), nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/anomalies?limit=%d", a.baseURL, limit)
	body, _, err := doGet(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("anomaly feed: %w", err)
	}
	defer body.Close()

	var wire []anomalyWire
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("anomaly feed: decode: %w", err)
	}

	events := make([]models.AnomalyEvent, 0, len(wire))
	for _, w := range wire {
		dir := models.DirectionBuy
		if strings.EqualFold(w.Direction, "sell") {
			dir = models.DirectionSell
		}
		events = append(events, models.AnomalyEvent{
			Ticker:    w.Ticker,
			Direction: dir,
			ZScore:    w.ZScore,
			Delta:     w.Delta,
			Price:     w.Price,
			TopNews:   w.TopNews,
			NewsCount: w.NewsCount,
			Timestamp: time.Unix(w.Timestamp, 0).UTC(),
			Timeframe: w.Timeframe,
		})
	}

	a.cache.Set(cacheKey, events)
	return events, nil
}
