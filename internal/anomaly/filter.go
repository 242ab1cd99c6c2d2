// Package anomaly consumes volume anomaly events from the external detector,
// scores their significance, and publishes the significant ones to
// subscribers. Scoring reduces false positives from noisy low-timeframe
// signals and repeated alerts on the same ticker.
package anomaly

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/finradar/radar/pkg/models"
)

// DefaultMinScore is the significance threshold on the 0-100 scale.
const DefaultMinScore = 50

// historyWindow bounds how long past anomalies count against a ticker.
const historyWindow = 6 * time.Hour

// maxHistorySize caps per-ticker history length.
const maxHistorySize = 50

// mskOffset converts UTC to Moscow time for trading-hours checks.
const mskOffset = 3 * time.Hour

// Score is the significance assessment of one anomaly event.
type Score struct {
	Significant bool     `json:"is_significant"`
	Value       float64  `json:"score"`
	Reasons     []string `json:"reasons"`
	ZScore      float64  `json:"z_score"`
	DeltaPct    float64  `json:"delta_pct"`
}

// Filter scores anomaly events. It keeps per-ticker history so that a ticker
// producing a stream of alerts scores progressively lower.
type Filter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	minScore float64
}

// NewFilter creates a filter with the given significance threshold.
// A threshold <= 0 selects DefaultMinScore.
func NewFilter(minScore float64) *Filter {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Filter{
		history:  make(map[string][]time.Time),
		minScore: minScore,
	}
}

// Evaluate scores one event and records it in the ticker's history.
//
// The score is additive across independent factors: z-score magnitude, price
// move, session time, timeframe, alert frequency, plus two combination
// bonuses. Scale is 0-100 with the significance cut at the configured
// threshold.
func (f *Filter) Evaluate(evt models.AnomalyEvent) Score {
	reasons := make([]string, 0, 7)
	score := 0.0

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	deltaPct := 0.0
	if evt.Price > 0 {
		deltaPct = evt.Delta / evt.Price * 100
	}

	// 1. Z-score magnitude.
	zAbs := math.Abs(evt.ZScore)
	switch {
	case zAbs > 10:
		score += 30
		reasons = append(reasons, fmt.Sprintf("very high z-score: %.1f", zAbs))
	case zAbs > 7:
		score += 20
		reasons = append(reasons, fmt.Sprintf("high z-score: %.1f", zAbs))
	case zAbs > 5:
		score += 10
		reasons = append(reasons, fmt.Sprintf("moderate z-score: %.1f", zAbs))
	default:
		score += 5
		reasons = append(reasons, fmt.Sprintf("low z-score: %.1f", zAbs))
	}

	// 2. Price move.
	deltaAbs := math.Abs(deltaPct)
	switch {
	case deltaAbs > 5:
		score += 25
		reasons = append(reasons, fmt.Sprintf("strong price move: %.2f%%", deltaAbs))
	case deltaAbs > 2:
		score += 15
		reasons = append(reasons, fmt.Sprintf("moderate price move: %.2f%%", deltaAbs))
	case deltaAbs > 0.5:
		score += 5
		reasons = append(reasons, fmt.Sprintf("weak price move: %.2f%%", deltaAbs))
	}

	// 3. Session time.
	inSession := isTradingHours(ts)
	if inSession {
		score += 15
		reasons = append(reasons, "trading session")
	} else {
		score += 5
		reasons = append(reasons, "off-market hours (low liquidity)")
	}

	// 4. Timeframe. Minute bars are noisy, longer bars carry more signal.
	tfScore := timeframeScore(evt.Timeframe)
	score += tfScore
	reasons = append(reasons, "timeframe "+evt.Timeframe)

	// 5. Alert frequency for this ticker over the last hour.
	freq := f.frequencyScore(evt.Ticker, ts)
	score += freq
	if freq < 10 {
		reasons = append(reasons, fmt.Sprintf("frequent anomalies (penalty: %.0f)", 20-freq))
	} else {
		reasons = append(reasons, "normal anomaly frequency")
	}

	// 6. Combination bonuses.
	if zAbs > 8 && deltaAbs > 2 {
		score += 10
		reasons = append(reasons, "combo: strong z-score and strong move")
	}
	if inSession && (evt.Timeframe == "M30" || evt.Timeframe == "H1") && zAbs > 7 {
		score += 10
		reasons = append(reasons, "combo: session time, significant timeframe, strong signal")
	}

	f.record(evt.Ticker, ts)

	s := Score{
		Significant: score >= f.minScore,
		Value:       score,
		Reasons:     reasons,
		ZScore:      evt.ZScore,
		DeltaPct:    deltaPct,
	}

	log.Printf("anomaly/filter: %s score=%.1f significant=%t z=%.2f delta=%.2f%%",
		evt.Ticker, s.Value, s.Significant, evt.ZScore, deltaPct)
	return s
}

// timeframeScore weights the bar size the anomaly was detected on.
func timeframeScore(tf string) float64 {
	switch tf {
	case "M1":
		return 5
	case "M5":
		return 10
	case "M30", "H1":
		return 15
	default:
		return 5
	}
}

// isTradingHours reports whether ts falls inside the Moscow Exchange main
// session, 10:00-18:45 MSK on weekdays.
func isTradingHours(ts time.Time) bool {
	msk := ts.UTC().Add(mskOffset)

	switch msk.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	h, m := msk.Hour(), msk.Minute()
	if h < 10 || h > 18 {
		return false
	}
	if h == 18 && m > 45 {
		return false
	}
	return true
}

// frequencyScore rewards tickers that alert rarely. Counts alerts within the
// last hour: 0-1 gives 20 points, 2-3 gives 15, 4-5 gives 10, more gives 5.
func (f *Filter) frequencyScore(ticker string, now time.Time) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	history, ok := f.history[ticker]
	if !ok {
		return 20
	}

	cutoff := now.Add(-historyWindow)
	trimmed := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	f.history[ticker] = trimmed

	hourAgo := now.Add(-time.Hour)
	recent := 0
	for _, t := range trimmed {
		if t.After(hourAgo) {
			recent++
		}
	}

	switch {
	case recent <= 1:
		return 20
	case recent <= 3:
		return 15
	case recent <= 5:
		return 10
	default:
		return 5
	}
}

// record appends the event time to the ticker's history, capped at
// maxHistorySize entries.
func (f *Filter) record(ticker string, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	history := append(f.history[ticker], ts)
	if len(history) > maxHistorySize {
		history = history[len(history)-maxHistorySize:]
	}
	f.history[ticker] = history
}

// TickerStats summarizes recorded history for one ticker.
type TickerStats struct {
	Ticker         string     `json:"ticker"`
	TotalAnomalies int        `json:"total_anomalies"`
	LastAnomaly    *time.Time `json:"last_anomaly,omitempty"`
	LastHour       int        `json:"anomalies_last_hour"`
}

// Stats returns history statistics for a ticker.
func (f *Filter) Stats(ticker string) TickerStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	history := f.history[ticker]
	now := time.Now().UTC()
	cutoff := now.Add(-historyWindow)

	stats := TickerStats{Ticker: ticker}
	var last time.Time
	for _, t := range history {
		if !t.After(cutoff) {
			continue
		}
		stats.TotalAnomalies++
		if t.After(now.Add(-time.Hour)) {
			stats.LastHour++
		}
		if t.After(last) {
			last = t
		}
	}
	if !last.IsZero() {
		stats.LastAnomaly = &last
	}
	return stats
}
