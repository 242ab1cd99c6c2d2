package models

import "time"

// Direction is the trade side suggested by an anomaly signal.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// AnomalyEvent is an externally computed market anomaly signal. Radar
// consumes these to drive UI navigation; it does not produce them.
// Delta and Price are optional and feed the significance filter when the
// upstream feed provides them.
type AnomalyEvent struct {
	Ticker    string    `json:"ticker"`
	Direction Direction `json:"direction"`
	ZScore    float64   `json:"z_score"`
	Delta     float64   `json:"delta,omitempty"` // close - open, same currency as Price
	Price     float64   `json:"price,omitempty"`
	TopNews   string    `json:"top_news,omitempty"`
	NewsCount int       `json:"news_count"`
	Timestamp time.Time `json:"timestamp"`
	Timeframe string    `json:"timeframe"` // M1, M5, M30, H1
}
